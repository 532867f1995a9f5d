package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDefault coalesces the create+write bursts editors produce.
const debounceDefault = 200 * time.Millisecond

// Watcher hot-reloads tenant policy documents when their files change.
// A changed file invalidates exactly that tenant's cached policy; other
// tenants keep serving their current config.
type Watcher struct {
	store    *Store
	debounce time.Duration
}

// NewWatcher creates a watcher for the store's policy directory.
func NewWatcher(s *Store) *Watcher {
	return &Watcher{store: s, debounce: debounceDefault}
}

// Run watches the policy directory until ctx is cancelled. A store with
// no policy directory returns immediately.
func (w *Watcher) Run(ctx context.Context) error {
	if w.store.policyDir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.store.policyDir); err != nil {
		return err
	}

	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isPolicyFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending[event.Name] = true
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("store: policy watcher error", "err", err)

		case <-timer.C:
			for path := range pending {
				if err := w.store.reloadPolicyFile(path); err != nil {
					slog.Warn("store: reload tenant policy", "file", filepath.Base(path), "err", err)
					continue
				}
				slog.Info("store: tenant policy reloaded", "file", filepath.Base(path))
			}
			pending = make(map[string]bool)
		}
	}
}
