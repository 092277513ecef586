package settings

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reports edits to the settings file on the returned channel. The
// directory is watched, not the file, so editors that write by rename are
// seen. Events that arrive while a notice is pending are folded into it.
// Callers apply the change with Reload on their own goroutine so
// setting_changed handlers run where the rest of the game runs. The
// channel closes when ctx is done.
func (s *Settings) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("settings: watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("settings: watch %s: %w", dir, err)
	}

	base := filepath.Base(s.path)
	notify := make(chan struct{}, 1)
	go func() {
		defer close(notify)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				select {
				case notify <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logf("settings: WARNING: watcher error: %v", err)
			}
		}
	}()
	return notify, nil
}
