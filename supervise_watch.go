package svcd

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// DefaultWatchDebounce coalesces the bursts of writes a supervisor makes
// to its status file during one transition
const DefaultWatchDebounce = 25 * time.Millisecond

// WatchChanges watches the supervise directories and calls notify shortly
// after a status file changes. Directories that cannot be watched are
// logged and left to regular polling.
func (b *SuperviseBackend) WatchChanges(ctx context.Context, notify func()) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	watched := 0
	for _, id := range b.order {
		dir := filepath.Join(b.units[id].dir, SuperviseDir)
		if err := watcher.Add(dir); err != nil {
			b.log.Debug().Err(err).Str("dir", dir).Msg("cannot watch supervise directory")
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = watcher.Close()
		return func() error { return nil }, nil
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() { _ = watcher.Close() })

	var (
		mu        sync.Mutex
		debouncer *time.Timer
	)
	fire := func() {
		if !sctx.IsStopping() {
			notify()
		}
	}

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			mu.Lock()
			if debouncer != nil {
				debouncer.Stop()
			}
			mu.Unlock()
		})

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) != StatusFile {
					continue
				}
				mu.Lock()
				if debouncer != nil {
					debouncer.Stop()
				}
				debouncer = time.AfterFunc(DefaultWatchDebounce, fire)
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				b.log.Warn().Err(err).Msg("supervise watch error")
			}
		}
		return nil
	})

	return func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}, nil
}
