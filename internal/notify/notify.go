// Package notify delivers build completion notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/musher-dev/adoc/internal/observability"
)

// Notification is one desktop notification.
type Notification struct {
	// ID deduplicates deliveries, e.g. "build-42".
	ID      string
	Title   string
	Message string
	// URL is the page opened when the notification is clicked.
	URL string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // G204: fixed binary, args are notification text
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}

		return "", fmt.Errorf("%s: %w", name, err)
	}

	return string(out), nil
}

// Desktop shows notifications through the platform notifier. On Linux it
// uses notify-send with a default action that opens the URL through
// xdg-open. On macOS it prefers terminal-notifier, whose -open flag makes
// the banner clickable, and falls back to osascript. Each id is delivered
// at most once per process.
type Desktop struct {
	goos     string
	run      Runner
	lookPath func(string) (string, error)
	// spawn runs work that outlives Notify, such as waiting for a click.
	spawn func(func())

	mu        sync.Mutex
	delivered map[string]bool
}

// NewDesktop creates a Desktop notifier for the running platform.
func NewDesktop() *Desktop {
	return newDesktop(runtime.GOOS, execRunner)
}

func newDesktop(goos string, run Runner) *Desktop {
	return &Desktop{
		goos:      goos,
		run:       run,
		lookPath:  exec.LookPath,
		spawn:     func(f func()) { go f() },
		delivered: make(map[string]bool),
	}
}

// Supported reports whether the platform has a notifier adoc can drive.
func (d *Desktop) Supported() bool {
	switch d.goos {
	case "linux", "darwin":
		return true
	default:
		return false
	}
}

// Notify implements Notifier.
func (d *Desktop) Notify(ctx context.Context, n Notification) error {
	d.mu.Lock()
	if d.delivered[n.ID] {
		d.mu.Unlock()
		return nil
	}

	d.delivered[n.ID] = true
	d.mu.Unlock()

	var err error

	switch d.goos {
	case "linux":
		err = d.notifyLinux(ctx, n)
	case "darwin":
		err = d.notifyDarwin(ctx, n)
	default:
		err = fmt.Errorf("desktop notifications are not supported on %s", d.goos)
	}

	if err != nil {
		d.mu.Lock()
		delete(d.delivered, n.ID)
		d.mu.Unlock()

		return fmt.Errorf("notify %s: %w", n.ID, err)
	}

	return nil
}

func (d *Desktop) notifyLinux(ctx context.Context, n Notification) error {
	base := []string{"--app-name=adoc", "--category=transfer.complete"}

	if n.URL == "" {
		_, err := d.run(ctx, "notify-send", append(base, n.Title, n.Message)...)
		return err
	}

	// notify-send blocks until the notification is dismissed when an action
	// is attached, so the click is awaited off the cycle.
	waitCtx := context.WithoutCancel(ctx)
	logger := observability.FromContext(ctx).With(slog.String("notification.id", n.ID))

	d.spawn(func() {
		args := append(slices.Clone(base), "--action=default=Open", "--wait", n.Title, n.Message)

		action, err := d.run(waitCtx, "notify-send", args...)
		if err != nil {
			// libnotify before 0.7.9 has no --action.
			logger.Debug("Clickable notification failed, sending plain", slog.String("error", err.Error()))

			if _, err := d.run(waitCtx, "notify-send", append(slices.Clone(base), n.Title, n.Message+"\n"+n.URL)...); err != nil {
				logger.Warn("Desktop notification failed", slog.String("error", err.Error()))
			}

			return
		}

		if strings.TrimSpace(action) != "default" {
			return
		}

		if _, err := d.run(waitCtx, "xdg-open", n.URL); err != nil {
			logger.Warn("Open notification URL failed", slog.String("error", err.Error()))
		}
	})

	return nil
}

func (d *Desktop) notifyDarwin(ctx context.Context, n Notification) error {
	if n.URL != "" {
		if _, err := d.lookPath("terminal-notifier"); err == nil {
			_, err := d.run(ctx, "terminal-notifier",
				"-title", n.Title, "-message", n.Message, "-open", n.URL, "-group", n.ID)

			return err
		}
	}

	script := fmt.Sprintf("display notification %s with title %s", strconv.Quote(n.Message), strconv.Quote(n.Title))
	_, err := d.run(ctx, "osascript", "-e", script)

	return err
}

// Log writes notifications to the context logger. It is used when no
// desktop notifier is available and by one-shot commands.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(ctx context.Context, n Notification) error {
	observability.FromContext(ctx).Info("Notification",
		slog.String("notification.id", n.ID),
		slog.String("notification.title", n.Title),
		slog.String("notification.message", n.Message),
		slog.String("notification.url", n.URL),
	)

	return nil
}

// Fallback tries each notifier in order until one succeeds.
type Fallback []Notifier

// Notify implements Notifier.
func (f Fallback) Notify(ctx context.Context, n Notification) error {
	var lastErr error

	for _, notifier := range f {
		if err := notifier.Notify(ctx, n); err != nil {
			lastErr = err
			continue
		}

		return nil
	}

	return lastErr
}

// Default returns the desktop notifier with a logging fallback.
func Default() Notifier {
	d := NewDesktop()
	if !d.Supported() {
		return Log{}
	}

	return Fallback{d, Log{}}
}
