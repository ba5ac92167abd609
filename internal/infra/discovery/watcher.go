package discovery

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"tipr/internal/infra/telemetry"
)

const watchDebounce = 200 * time.Millisecond

// Watcher observes manifest directories and triggers incremental refreshes.
// Filesystem events are debounced so an editor save burst produces one scan.
type Watcher struct {
	engine   *Engine
	logger   *zap.Logger
	debounce time.Duration
}

func NewWatcher(engine *Engine, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{engine: engine, logger: logger.Named("discovery.watcher"), debounce: watchDebounce}
}

// Run blocks until ctx is cancelled. It returns immediately with nil when
// there is nothing to watch.
func (w *Watcher) Run(ctx context.Context) error {
	dirs := w.engine.ManifestDirs()
	if len(dirs) == 0 {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn("watch add failed", telemetry.LocationField(dirs[dir]), zap.Error(err))
		}
	}

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
		pending = make(map[string]bool)
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			key, known := w.locationFor(dirs, event.Name)
			if !known {
				continue
			}
			pending[key] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerCh = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		case <-timerCh:
			changed := make([]string, 0, len(pending))
			for key := range pending {
				changed = append(changed, key)
			}
			pending = make(map[string]bool)
			timerCh = nil
			w.engine.Refresh(ctx, changed)
		}
	}
}

func (w *Watcher) locationFor(dirs map[string]string, path string) (string, bool) {
	for dir, key := range dirs {
		if len(path) >= len(dir) && path[:len(dir)] == dir {
			return key, true
		}
	}
	return "", false
}
