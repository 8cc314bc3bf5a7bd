package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/musher-dev/adoc/internal/config"
	"github.com/musher-dev/adoc/internal/observability"
)

// InitialDelay is how long the daemon waits before its first cycle.
const InitialDelay = 30 * time.Second

// Timer is a Scheduler backed by a single time.Timer. Scheduling replaces
// any pending fire, so timers never accumulate. Each schedule carries a
// generation and a callback from an older one is dropped, including one
// that was already running when it was replaced or stopped.
type Timer struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	fired chan string
}

// NewTimer creates an unarmed Timer.
func NewTimer() *Timer {
	return &Timer{fired: make(chan string, 1)}
}

// Schedule implements Scheduler.
func (t *Timer) Schedule(name string, after time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	gen := t.cancelLocked()
	t.timer = time.AfterFunc(after, func() { t.fire(gen, name) })
}

// Stop cancels any pending fire.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
}

// cancelLocked stops the armed timer, drops an unconsumed fire and returns
// the new generation.
func (t *Timer) cancelLocked() uint64 {
	if t.timer != nil {
		t.timer.Stop()
	}

	select {
	case <-t.fired:
	default:
	}

	t.gen++

	return t.gen
}

func (t *Timer) fire(gen uint64, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen {
		return
	}

	select {
	case t.fired <- name:
	default:
	}
}

// C delivers the name of each fired timer.
func (t *Timer) C() <-chan string {
	return t.fired
}

// Daemon runs the engine on its timer until ctx is done.
type Daemon struct {
	engine *Engine
	timer  *Timer
	delay  time.Duration
}

// NewDaemon drives engine from timer; timer must be the engine's Scheduler.
func NewDaemon(engine *Engine, timer *Timer) *Daemon {
	return &Daemon{engine: engine, timer: timer, delay: InitialDelay}
}

// Run blocks until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	logger := observability.FromContext(ctx).With(slog.String("component", "daemon"))

	defer d.timer.Stop()

	d.timer.Schedule(TimerName, d.delay)
	logger.Info("Daemon started", slog.Duration("first_poll_in", d.delay))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Daemon stopped")
			return nil
		case name := <-d.timer.C():
			if name != TimerName {
				continue
			}

			res, err := d.engine.RunCycle(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}

				logger.Warn("Poll cycle not run", slog.String("error", err.Error()))
			}

			// Cycles that stop before scheduling still need a next run.
			if res.NextPoll == 0 {
				d.timer.Schedule(TimerName, d.retryInterval())
			}
		}
	}
}

func (d *Daemon) retryInterval() time.Duration {
	settings, err := d.engine.settings()
	if err != nil {
		defaults := config.Defaults()
		return defaults.IdleInterval()
	}

	return settings.IdleInterval()
}
