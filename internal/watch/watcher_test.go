package watch

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyuha/contentapi/internal/posts"
	"github.com/vyuha/contentapi/internal/storage"
)

type recorder struct {
	mu     sync.Mutex
	events []posts.Event
}

func (r *recorder) Notify(ev posts.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func startWatcher(t *testing.T, path string, next posts.Notifier) *Watcher {
	t.Helper()
	w := New(path, 10*time.Millisecond, next)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestExternalWriteIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	ctx := context.Background()

	// Seed before watching.
	_, err := storage.NewFileStorage(path).List(ctx)
	require.NoError(t, err)

	rec := &recorder{}
	w := startWatcher(t, path, rec)

	// A second store instance stands in for another process.
	other := storage.NewFileStorage(path)
	_, err = other.Create(ctx, "from elsewhere")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return w.Reloads() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{posts.EventReloaded}, rec.types())
}

func TestInProcessWritesAreNotReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	store := storage.NewFileStorage(path)
	_, err := store.List(context.Background())
	require.NoError(t, err)

	rec := &recorder{}
	w := startWatcher(t, path, rec)
	svc := posts.NewService(w.Guard(store), rec)

	_, err = svc.Add(context.Background(), "local")
	require.NoError(t, err)
	_, err = svc.Delete(context.Background(), "1")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(0), w.Reloads())
	assert.Equal(t, []string{posts.EventCreated, posts.EventDeleted}, rec.types())
}

func TestFileCreatedAfterStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", "posts.json")

	rec := &recorder{}
	w := startWatcher(t, path, rec)

	_, err := storage.NewFileStorage(path).List(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return w.Reloads() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "posts.json"), 0, nil)
	assert.Equal(t, DefaultInterval, w.interval)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}

func TestGuardedStoreReportsLaterExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	store := storage.NewFileStorage(path)
	_, err := store.List(context.Background())
	require.NoError(t, err)

	rec := &recorder{}
	w := startWatcher(t, path, rec)
	guarded := w.Guard(store)

	_, err = guarded.Update(context.Background(), "1", "local edit")
	require.NoError(t, err)
	require.NoError(t, guarded.Import(context.Background(), storage.SeedState()))

	_, err = storage.NewFileStorage(path).Delete(context.Background(), "2")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return w.Reloads() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestExternalWriteBeforeGuardedWriteIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	ctx := context.Background()
	store := storage.NewFileStorage(path)
	_, err := store.List(ctx)
	require.NoError(t, err)

	// The poll loop never fires; only the guarded write can notice.
	rec := &recorder{}
	w := New(path, time.Hour, rec)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(w.Stop)

	_, err = storage.NewFileStorage(path).Create(ctx, "from elsewhere")
	require.NoError(t, err)

	p, err := w.Guard(store).Create(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, "4", p.ID)

	assert.Equal(t, int64(1), w.Reloads())
	assert.Equal(t, []string{posts.EventReloaded}, rec.types())

	// The local write itself moves the baseline without a report.
	_, err = w.Guard(store).Delete(ctx, "4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Reloads())
}
