package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Editors often save with several events in a row.
const watchDebounce = 200 * time.Millisecond

type reloadFunc func(name string, chunks int, err error)

// watch re-processes path whenever it is written or re-created, until ctx
// is cancelled. Every reload rebuilds the index and clears the history.
func (a *App) watch(ctx context.Context, path string, onReload reloadFunc) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	// The directory is watched so that replace-on-save editors keep working.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", target, err)
	}
	log.Printf("WATCHER: Watching %s", target)

	go func() {
		defer watcher.Close()

		reload := make(chan struct{}, 1)
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				log.Printf("WATCHER EVENT: %s", event)
				if timer == nil {
					timer = time.AfterFunc(watchDebounce, func() {
						select {
						case reload <- struct{}{}:
						default:
						}
					})
				} else {
					timer.Reset(watchDebounce)
				}

			case <-reload:
				name, chunks, err := a.Load(ctx, target)
				if err != nil {
					log.Printf("WATCHER ERROR: Failed to reload %s: %v", target, err)
				} else {
					log.Printf("WATCHER: Reloaded %s (%d chunks)", target, chunks)
				}
				onReload(name, chunks, err)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("WATCHER ERROR: %v", err)

			case <-ctx.Done():
				log.Println("WATCHER: Context cancelled, shutting down watcher.")
				return
			}
		}
	}()

	return nil
}
