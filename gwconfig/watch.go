package gwconfig

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ReloadWatcher detects connector-sidecar changes for the lifecycle
// controller's hot-reload poll (spec §4.6). The poll itself is driven
// by the Watchdog's tick, once every
// thingsboard.checkConnectorsConfigurationInSeconds — this type only
// answers "has anything changed since the last check". StartFSNotify
// can additionally record a dirty flag on write/create events, but it
// cannot trigger a reload on its own, and CheckChanged does not consult
// the flag: every check stats every sidecar.
type ReloadWatcher struct {
	mu       sync.Mutex
	refs     []ConnectorRef
	modTimes map[string]int64

	dirty atomic.Bool
	fsw   *fsnotify.Watcher
}

// NewReloadWatcher snapshots the current mtimes of every sidecar so the
// first CheckChanged call reports no change.
func NewReloadWatcher(refs []ConnectorRef) *ReloadWatcher {
	w := &ReloadWatcher{refs: refs, modTimes: map[string]int64{}}
	for _, ref := range refs {
		if info, err := os.Stat(ref.ConfigFile); err == nil {
			w.modTimes[ref.ConfigFile] = info.ModTime().UnixNano()
		}
	}
	return w
}

// StartFSNotify is best-effort: a platform without inotify/kqueue
// support, or a path that can't be watched, just means the dirty flag
// is never set; change detection is the stat comparison in
// CheckChanged either way.
func (w *ReloadWatcher) StartFSNotify(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("gwconfig: fsnotify unavailable, falling back to poll-only reload", "error", err)
		return
	}
	w.fsw = fsw

	for _, ref := range w.refs {
		if err := fsw.Add(ref.ConfigFile); err != nil {
			slog.Warn("gwconfig: fsnotify add failed", "path", ref.ConfigFile, "error", err)
		}
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					w.dirty.Store(true)
				}
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// CheckChanged compares every sidecar's current mtime against the
// recorded snapshot, returning true if any differ, and updates the
// snapshot regardless (so a caller that decides to suppress the reload
// — e.g. mid remote-configuration — still resets the baseline).
func (w *ReloadWatcher) CheckChanged() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.dirty.Store(false)
	changed := false
	for _, ref := range w.refs {
		info, err := os.Stat(ref.ConfigFile)
		if err != nil {
			continue
		}
		mt := info.ModTime().UnixNano()
		if prev, ok := w.modTimes[ref.ConfigFile]; !ok || prev != mt {
			changed = true
		}
		w.modTimes[ref.ConfigFile] = mt
	}
	return changed
}
