package search

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces bursts of filesystem events. WAL commits
// touch the db, -wal and -shm files in quick succession; one
// invalidation covers the burst.
const debounceWindow = 250 * time.Millisecond

// Watch invalidates the engine's derived state when the store file is
// replaced on disk (restore from backup, manual swap). Plain writes are
// ignored: the writer's own WAL commits arrive constantly, and in-place
// modification by another process bumps the mutation counter, which the
// per-search fingerprint check already catches. Only the file identity
// changing needs this out-of-band signal.
func (e *Engine) Watch(ctx context.Context, dbPath string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(dbPath)); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()

		base := filepath.Base(dbPath)
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				name := filepath.Base(ev.Name)
				if name != base {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceWindow, func() {
					e.logger.Debug("store file changed on disk, invalidating",
						slog.String("file", name))
					e.Invalidate()
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				e.logger.Warn("store watcher error", slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}
