// Package watch detects changes made to the JSON state file by other
// processes (postctl, hand edits, a restored backup) and reports them as
// posts.EventReloaded.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyuha/contentapi/internal/posts"
	"github.com/vyuha/contentapi/internal/storage"
)

// DefaultInterval is the polling period used when none is given.
const DefaultInterval = time.Second

// Watcher polls the state file and reports external changes to next.
// Writes made by this process go through the store returned by Guard,
// which holds the watcher's lock across the write and re-baselines the
// file, so they are never reported as reloads.
type Watcher struct {
	path     string
	interval time.Duration
	next     posts.Notifier

	mu   sync.Mutex
	last os.FileInfo // nil while the file does not exist

	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	reloads   atomic.Int64
	startedAt time.Time
}

// New creates a Watcher for path. Call Start to begin polling.
func New(path string, interval time.Duration, next posts.Notifier) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		path:     path,
		interval: interval,
		next:     next,
		done:     make(chan struct{}),
	}
}

// Reloads returns how many external changes have been reported.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Start records the current file state and begins polling in the
// background until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	info, err := stat(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.last = info
	w.mu.Unlock()

	w.startedAt = time.Now().UTC()
	w.wg.Add(1)
	slog.Info("state watcher started", "file", w.path, "interval", w.interval.String())

	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
	return nil
}

// Stop signals the watcher to stop and waits for the poll loop to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	slog.Info("state watcher stopped",
		"file", w.path,
		"reloads", w.reloads.Load(),
		"uptime", time.Since(w.startedAt).Round(time.Second).String(),
	)
}

// Guard wraps store so that its mutations are not seen as external
// changes.
func (w *Watcher) Guard(store storage.PostStore) storage.PostStore {
	return &guardedStore{PostStore: store, w: w}
}

// local runs fn under the watcher lock and records the resulting file. An
// external change that landed before fn is reported first.
func (w *Watcher) local(fn func() error) error {
	w.mu.Lock()
	external, err := w.refreshLocked()
	if err != nil {
		slog.Warn("state watcher: stat failed", "file", w.path, "error", err)
	}
	ferr := fn()
	if info, serr := stat(w.path); serr == nil {
		w.last = info
	}
	w.mu.Unlock()

	if external {
		w.reloaded()
	}
	return ferr
}

// refreshLocked stats the file and moves the baseline if it differs.
// Callers hold mu.
func (w *Watcher) refreshLocked() (bool, error) {
	info, err := stat(w.path)
	if err != nil {
		return false, err
	}
	if !differs(w.last, info) {
		return false, nil
	}
	w.last = info
	return true, nil
}

func (w *Watcher) reloaded() {
	w.reloads.Add(1)
	slog.Info("state file changed externally", "file", w.path)
	if w.next != nil {
		w.next.Notify(posts.Event{Type: posts.EventReloaded})
	}
}

func (w *Watcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll compares the file against the baseline and reports a difference.
func (w *Watcher) poll() {
	w.mu.Lock()
	changed, err := w.refreshLocked()
	w.mu.Unlock()

	if err != nil {
		slog.Warn("state watcher: stat failed", "file", w.path, "error", err)
		return
	}
	if changed {
		w.reloaded()
	}
}

// stat returns nil info, not an error, for a missing file.
func stat(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return info, err
}

// differs reports whether b is a different version of the file than a.
// Atomic replacement swaps the inode, so os.SameFile catches rewrites
// that keep size and mtime.
func differs(a, b os.FileInfo) bool {
	if a == nil || b == nil {
		return (a == nil) != (b == nil)
	}
	return !os.SameFile(a, b) || !a.ModTime().Equal(b.ModTime()) || a.Size() != b.Size()
}

type guardedStore struct {
	storage.PostStore
	w *Watcher
}

func (g *guardedStore) Create(ctx context.Context, title string) (p storage.Post, err error) {
	err = g.w.local(func() error {
		p, err = g.PostStore.Create(ctx, title)
		return err
	})
	return p, err
}

func (g *guardedStore) Update(ctx context.Context, id, title string) (p storage.Post, err error) {
	err = g.w.local(func() error {
		p, err = g.PostStore.Update(ctx, id, title)
		return err
	})
	return p, err
}

func (g *guardedStore) Delete(ctx context.Context, id string) (ok bool, err error) {
	err = g.w.local(func() error {
		ok, err = g.PostStore.Delete(ctx, id)
		return err
	})
	return ok, err
}

func (g *guardedStore) Import(ctx context.Context, st storage.State) error {
	return g.w.local(func() error { return g.PostStore.Import(ctx, st) })
}
