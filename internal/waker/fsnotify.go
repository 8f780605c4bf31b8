package waker

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/sysflow-telemetry/logshipper/internal/logging"
)

// fsWaker wakes blocked Collectors on filesystem change notifications for
// one or more watched directories. Multiple notifications that arrive
// before the wakee re-reads Wake collapse into a single wake, matching
// spec's edge-triggered (not count-based) coalescing requirement.
type fsWaker struct {
	watcher *fsnotify.Watcher

	mu   sync.Mutex
	wake chan struct{}
}

// NewFSNotify creates a Waker backed by fsnotify, watching dirs for any
// change (create, write, rename, remove) — the Collector is responsible
// for stat-ing its own path on each wake and deciding what happened. A
// directory that doesn't exist yet (e.g. a log directory not yet created)
// is skipped with a warning rather than failing startup: the Collector's
// own retry timer covers that gap until the directory appears.
func NewFSNotify(ctx context.Context, dirs ...string) (Waker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if err := watcher.Add(d); err != nil {
			logging.L.Warnw("fsnotify: cannot watch directory yet, relying on poll retry", "dir", d, "error", err)
		}
	}
	w := &fsWaker{watcher: watcher, wake: make(chan struct{})}
	go w.run(ctx)
	return w, nil
}

func (w *fsWaker) run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.broadcast()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.L.Warnw("fsnotify watcher error", "error", err)
		}
	}
}

func (w *fsWaker) broadcast() {
	w.mu.Lock()
	defer w.mu.Unlock()
	close(w.wake)
	w.wake = make(chan struct{})
}

// Wake implements the Waker interface.
func (w *fsWaker) Wake() (c <-chan struct{}) {
	w.mu.Lock()
	c = w.wake
	w.mu.Unlock()
	return
}
