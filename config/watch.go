package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// WatchSeed calls onChange with the reloaded seed whenever the file at path
// changes. The directory is watched so that editors replacing the file are
// noticed. Bursts of events are collapsed with a short debounce.
func WatchSeed(ctx context.Context, path string, onChange func(*Seed)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WithStack(err)
	}

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return errors.Wrap(err, "watching seed directory")
	}

	go func() {
		defer watcher.Close()

		const debounce = 250 * time.Millisecond
		var timer *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				seed, err := LoadSeed(target)
				if err != nil {
					slog.Error("Failed to reload seed file", "path", target, "error", err)
					continue
				}
				slog.Info("Seed file reloaded", "path", target)
				onChange(seed)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Seed watcher error", "error", err)
			}
		}
	}()
	return nil
}
