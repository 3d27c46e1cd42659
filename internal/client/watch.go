package client

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/driftsync/driftsync/internal/logger"
)

// AutoSyncOptions tunes the watch loop.
type AutoSyncOptions struct {
	// Debounce is how long a pair must stay quiet after a filesystem
	// event before its sync runs. Bursts (editors, builds) collapse
	// into one run.
	Debounce time.Duration

	// SweepInterval triggers a periodic sync of every pair regardless
	// of events, catching changes the watcher missed.
	SweepInterval time.Duration
}

func (o AutoSyncOptions) withDefaults() AutoSyncOptions {
	if o.Debounce <= 0 {
		o.Debounce = 2 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Minute
	}
	return o
}

// AutoSync watches every pair's local root and re-runs Sync for a pair
// whenever its tree changes, plus a periodic full sweep. Blocks until the
// context is cancelled. A busy rejection is retried on the next trigger
// rather than treated as fatal.
func (c *Client) AutoSync(ctx context.Context, pairs map[string]Pair, opts AutoSyncOptions) error {
	opts = opts.withDefaults()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for id, pair := range pairs {
		if err := watchTree(watcher, pair.LocalPath); err != nil {
			return err
		}
		logger.Info("Watching sync pair", "pair", id, logger.Path(pair.LocalPath))
	}

	dirty := map[string]time.Time{}
	ticker := time.NewTicker(opts.SweepInterval)
	defer ticker.Stop()
	// Fine-grained timer so debounce deadlines fire promptly.
	poll := time.NewTicker(250 * time.Millisecond)
	defer poll.Stop()

	runPair := func(id string) {
		pair := pairs[id]
		if _, err := c.Sync(ctx, pair.LocalPath, pair.RemotePath); err != nil {
			logger.Warn("Auto sync failed", "pair", id, logger.Err(err))
			return
		}
		// New directories may have appeared since the last arm.
		if err := watchTree(watcher, pair.LocalPath); err != nil {
			logger.Warn("Re-arm watch failed", "pair", id, logger.Err(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if id, found := pairForPath(pairs, event.Name); found {
				dirty[id] = time.Now().Add(opts.Debounce)
				if event.Op.Has(fsnotify.Create) {
					// A new directory must be watched itself.
					_ = watchTree(watcher, event.Name)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", logger.Err(err))

		case <-poll.C:
			now := time.Now()
			for id, due := range dirty {
				if now.After(due) {
					delete(dirty, id)
					runPair(id)
				}
			}

		case <-ticker.C:
			for id := range pairs {
				runPair(id)
			}
		}
	}
}

// watchTree adds path and every directory beneath it to the watcher.
// Non-directories and vanished paths are ignored.
func watchTree(watcher *fsnotify.Watcher, path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return watcher.Add(p)
	})
}

// pairForPath finds the pair whose local root contains path.
func pairForPath(pairs map[string]Pair, path string) (string, bool) {
	for id, pair := range pairs {
		root := filepath.Clean(pair.LocalPath)
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return id, true
		}
	}
	return "", false
}
