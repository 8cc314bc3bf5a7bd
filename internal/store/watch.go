package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/musher-dev/adoc/internal/observability"
)

// Watch reloads open areas when their file changes on disk, so listeners in
// this process see writes made by another one (the daemon). It blocks until
// ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create cache watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch cache directory: %w", err)
	}

	logger := observability.FromContext(ctx).With(slog.String("component", "store"))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			area := s.lookup(filepath.Base(event.Name))
			if area == nil {
				continue
			}

			if err := area.Reload(); err != nil {
				logger.Warn("Cache reload failed", slog.String("area", area.Name()), slog.String("error", err.Error()))
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("Cache watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
