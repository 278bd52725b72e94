package infra

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultWatchDebounce is how long WatchDir waits after the last event.
const DefaultWatchDebounce = 300 * time.Millisecond

// WatchDir watches dir for changes to the named files and signals on the
// returned channel once per burst of events. Stores replace files by
// rename, so the directory is watched rather than the files. The channel
// is closed when ctx is done.
func WatchDir(ctx context.Context, dir string, names []string, debounce time.Duration, logger *zap.Logger) (<-chan struct{}, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer fw.Close()

		timer := time.NewTimer(debounce)
		if !timer.Stop() {
			<-timer.C
		}
		pending := false

		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return

			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if len(wanted) > 0 && !wanted[filepath.Base(ev.Name)] {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
					continue
				}
				if pending && !timer.Stop() {
					<-timer.C
				}
				timer.Reset(debounce)
				pending = true

			case <-timer.C:
				pending = false
				select {
				case out <- struct{}{}:
				default:
				}

			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.Warn("settings watcher error", zap.Error(err))
			}
		}
	}()

	logger.Debug("watching directory", zap.String("dir", dir), zap.Strings("files", names))
	return out, nil
}
