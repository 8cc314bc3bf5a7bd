package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/musher-dev/adoc/internal/bookmarks"
	"github.com/musher-dev/adoc/internal/buildinfo"
	"github.com/musher-dev/adoc/internal/config"
	"github.com/musher-dev/adoc/internal/control"
	clierrors "github.com/musher-dev/adoc/internal/errors"
	"github.com/musher-dev/adoc/internal/notify"
	"github.com/musher-dev/adoc/internal/observability"
	"github.com/musher-dev/adoc/internal/output"
	"github.com/musher-dev/adoc/internal/poller"
	"github.com/musher-dev/adoc/internal/store"
)

func newDaemonCmd() *cobra.Command {
	var (
		addr    string
		pollNow bool
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Poll Azure DevOps in the foreground",
		Long: `Run the polling daemon until interrupted. The first cycle starts after 30
seconds, then cycles repeat every 30 seconds while builds are running and
every 2 minutes otherwise. The daemon also serves the local control API
used by 'adoc refresh', 'adoc watch' and the dashboard.`,
		Example: `  adoc daemon
  adoc daemon --poll-now --log-stderr on --log-format text`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := output.FromContext(ctx)
			logger := observability.FromContext(ctx)

			loadSettings := settingsLoader(configPath(ctx))

			settings, err := loadSettings()
			if err != nil {
				return clierrors.ConfigFailed("read settings", err)
			}

			if addr == "" {
				addr = settings.ControlAddr
			}

			st, area, err := openCache()
			if err != nil {
				return err
			}

			timer := poller.NewTimer()
			engine := poller.New(poller.Options{
				Settings:  loadSettings,
				Cache:     area,
				Bookmarks: chromeBookmarks(area),
				Notifier:  notify.Default(),
				Scheduler: timer,
			})

			server := control.NewServer(engine, area, buildinfo.Version)

			if !settings.Configured() {
				out.Warning("Not configured yet: missing %s", joinMissing(&settings))
				out.Muted("Cycles are skipped until 'adoc config set organization' and 'adoc auth login' are done")
			}

			out.Success("Daemon started (control API on %s)", addr)
			logger.Info("Starting daemon", slog.String("addr", addr), slog.String("cache", st.Dir()))

			if pollNow {
				go func() {
					if _, err := engine.Refresh(ctx); err != nil && ctx.Err() == nil {
						logger.Warn("Initial poll failed", slog.String("error", err.Error()))
					}
				}()
			}

			err = runAll(ctx,
				st.Watch,
				func(ctx context.Context) error { return server.ListenAndServe(ctx, addr) },
				poller.NewDaemon(engine, timer).Run,
			)
			if errors.Is(err, control.ErrNotLoopback) {
				return clierrors.Wrap(clierrors.ExitConfig, "Control API must listen on a loopback address", err).
					WithHint("Run 'adoc config set control.addr 127.0.0.1:17321'")
			}

			if err != nil {
				return clierrors.Wrap(clierrors.ExitGeneral, "Daemon stopped", err)
			}

			out.Muted("Daemon stopped")

			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Control API listen address (default: control.addr setting)")
	cmd.Flags().BoolVar(&pollNow, "poll-now", false, "Run the first cycle immediately")

	return cmd
}

// runAll runs every fn until ctx is done or one of them fails, and returns
// the first failure.
func runAll(ctx context.Context, fns ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)

	for _, fn := range fns {
		wg.Go(func() {
			err := fn(ctx)
			if err != nil && ctx.Err() == nil {
				once.Do(func() { firstErr = err })
			}

			cancel()
		})
	}

	wg.Wait()

	return firstErr
}

// chromeBookmarks syncs into the Chromium bookmark file named in settings.
func chromeBookmarks(cache store.ReadWriter) poller.BookmarkFactory {
	return func(s *config.Settings) (poller.BookmarkSyncer, error) {
		if s.BookmarkFile == "" {
			return nil, errors.New("bookmarks.file is not set")
		}

		if _, err := os.Stat(s.BookmarkFile); err != nil {
			return nil, err
		}

		return bookmarks.NewSyncer(bookmarks.NewChromeFile(s.BookmarkFile), cache), nil
	}
}

func joinMissing(s *config.Settings) string {
	missing := s.Missing()

	switch len(missing) {
	case 0:
		return ""
	case 1:
		return missing[0]
	default:
		return missing[0] + " and " + missing[1]
	}
}
