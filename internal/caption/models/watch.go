package models

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pitabwire/util"
)

// Watch observes the directories containing the configured resources and
// revalidates on any write, create, rename or removal touching one of them.
// This blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("models: create watcher: %w", err)
	}
	defer watcher.Close()

	watched := map[string]struct{}{}
	tracked := map[string]struct{}{}
	for _, path := range []string{r.paths.Acoustic, r.paths.VAD} {
		if path == "" {
			continue
		}
		tracked[filepath.Clean(path)] = struct{}{}
		dir := filepath.Dir(path)
		if _, ok := watched[dir]; ok {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			util.Log(ctx).WithError(err).Warn("models: cannot watch model directory")
			continue
		}
		watched[dir] = struct{}{}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, ours := tracked[filepath.Clean(event.Name)]; !ours {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if _, err := r.Load(ctx); err != nil {
					util.Log(ctx).WithError(err).Warn("models: reload after change failed")
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("models: watcher: %w", err)
		}
	}
}
