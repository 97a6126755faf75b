package skills

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"sermonflow/internal/logging"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the catalog whenever path is written or recreated, until ctx
// is cancelled. The parent directory is watched so editors that replace the
// file by rename are handled. A catalog that fails to parse is logged and the
// previous table stays in effect.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skills: create watcher: %w", err)
	}
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("skills: watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer watcher.Close()

		debounce := time.NewTimer(reloadDebounce)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				debounce.Stop()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				debounce.Reset(reloadDebounce)
			case <-debounce.C:
				if err := r.LoadCatalog(target); err != nil {
					logging.WarnWithContext(r.logger, "skill catalog reload failed", "skills_reload_failed",
						logging.String("path", target),
						logging.Error(err),
						logging.String(logging.FieldErrorHint, "fix the catalog file; the previous catalog remains active"),
						logging.String(logging.FieldImpact, "task types keep their previous skill requirements"),
					)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("skill catalog watcher error", logging.Error(err))
			}
		}
	}()
	return nil
}
