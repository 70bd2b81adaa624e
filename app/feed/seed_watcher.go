package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

const seedDebounce = 500 * time.Millisecond

// WatchSeeds reloads cache whenever a seed file changes and calls onChange
// after every successful reload. It blocks until ctx is done.
func WatchSeeds(ctx context.Context, cache *SeedCache, onChange func(context.Context)) error {
	if _, err := os.Stat(cache.Dir()); os.IsNotExist(err) {
		slog.Info("Seed directory missing, not watching", "dir", cache.Dir())
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(cache.Dir()); err != nil {
		return fmt.Errorf("failed to watch %s: %w", cache.Dir(), err)
	}

	slog.Info("Watching seed files", "dir", cache.Dir())

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isSeedFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			slog.Debug("Seed file changed", "file", event.Name, "op", event.Op.String())

			// Editors emit bursts of events per save.
			if timer == nil {
				timer = time.NewTimer(seedDebounce)
			} else {
				timer.Reset(seedDebounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Seed watcher error", "error", err)

		case <-fire:
			fire = nil
			if err := cache.Run(); err != nil {
				slog.Error("Failed to reload seeds", "error", err)
				continue
			}
			slog.Info("Seeds reloaded", "count", cache.GetSeedCount())
			onChange(ctx)
		}
	}
}
