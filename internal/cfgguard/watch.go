package cfgguard

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchConfigFile logs a warning if path changes on disk while ctx is
// live. It never triggers a restart: a run's chunk logs were built
// against the configuration hash recorded at startup, so a mid-run edit
// cannot retroactively affect chunks already dispatched — it only means
// a future run would need to resolve drift via Check.
func WatchConfigFile(ctx context.Context, path string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cfgguard: create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("cfgguard: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					logger.Warn("config file changed while coordinator is running; this run keeps its original configuration", "path", path, "op", event.Op.String())
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", watchErr)
			}
		}
	}()

	return nil
}
