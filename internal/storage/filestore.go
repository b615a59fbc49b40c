package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultFilePath is where the state file lives unless configured otherwise.
const DefaultFilePath = "var/posts.json"

// FileStorage keeps the whole record store in a single JSON file.
//
// There is no cache: every call loads the file, and every mutation rewrites
// it in full through writeFileAtomic. Mutations (and seeding of a missing
// file) are serialized by mu; reads take no lock and rely on the atomic
// rename to always observe a complete file.
type FileStorage struct {
	path string
	perm os.FileMode
	mu   sync.Mutex
}

var _ PostStore = (*FileStorage)(nil)

// NewFileStorage returns a store backed by the JSON file at path. The file
// and its parent directory are created lazily on first use.
func NewFileStorage(path string) *FileStorage {
	if path == "" {
		path = DefaultFilePath
	}
	return &FileStorage{path: path, perm: 0o644}
}

// Path returns the canonical state file path.
func (s *FileStorage) Path() string { return s.path }

// Close is a no-op; FileStorage holds no open handles between calls.
func (s *FileStorage) Close() error { return nil }

// ============================= LIFECYCLE ==================================

// ensureDataFile seeds the state file if it does not exist yet. The
// existence check runs unlocked; seeding happens under mu so that a read
// can never overwrite a file a concurrent mutation just created.
func (s *FileStorage) ensureDataFile() error {
	exists, err := s.exists()
	if err != nil || exists {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureDataFileLocked()
}

// ensureDataFileLocked is ensureDataFile for callers already holding mu.
func (s *FileStorage) ensureDataFileLocked() error {
	exists, err := s.exists()
	if err != nil || exists {
		return err
	}
	data, err := encodeState(SeedState())
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data, s.perm); err != nil {
		return fmt.Errorf("seed %s: %w", s.path, err)
	}
	slog.Info("storage: seeded state file", "path", s.path)
	return nil
}

// exists creates the parent directory and reports whether the state file is
// present.
func (s *FileStorage) exists() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return false, fmt.Errorf("create data dir: %w", err)
	}
	_, err := os.Stat(s.path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", s.path, err)
	}
}

func (s *FileStorage) readState() (State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return State{}, fmt.Errorf("read %s: %w", s.path, err)
	}
	st, err := decodeState(data)
	if err != nil {
		return State{}, fmt.Errorf("%s: %w", s.path, err)
	}
	return st, nil
}

func (s *FileStorage) load() (State, error) {
	if err := s.ensureDataFile(); err != nil {
		return State{}, err
	}
	return s.readState()
}

func (s *FileStorage) loadLocked() (State, error) {
	if err := s.ensureDataFileLocked(); err != nil {
		return State{}, err
	}
	return s.readState()
}

func (s *FileStorage) saveLocked(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, s.perm)
}

// mutate runs one load-modify-save cycle under mu. fn reports whether it
// changed the state; unchanged states are not written back.
func (s *FileStorage) mutate(ctx context.Context, fn func(st *State) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return err
	}
	changed, err := fn(&st)
	if err != nil || !changed {
		return err
	}
	return s.saveLocked(st)
}

// ============================ READ PATH ===================================

// List returns every post in insertion order.
func (s *FileStorage) List(ctx context.Context) ([]Post, error) {
	st, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return st.Posts, nil
}

// Snapshot loads and returns the full current State.
func (s *FileStorage) Snapshot(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	st, err := s.load()
	if err != nil {
		return State{}, fmt.Errorf("storage: load: %w", err)
	}
	return st, nil
}

// =========================== MUTATION PATHS ===============================

// Create appends a post with the next id and the trimmed title. Once the
// counter is exhausted it fails with ErrIDExhausted and writes nothing.
func (s *FileStorage) Create(ctx context.Context, title string) (Post, error) {
	var created Post
	err := s.mutate(ctx, func(st *State) (bool, error) {
		id, next, err := issueID(st.NextID)
		if err != nil {
			return false, err
		}
		created = Post{ID: id, Title: strings.TrimSpace(title)}
		st.Posts = append(st.Posts, created)
		st.NextID = next
		return true, nil
	})
	if err != nil {
		return Post{}, fmt.Errorf("storage: create post: %w", err)
	}
	return created, nil
}

// Update replaces the title of the first post whose id matches. The file
// is left untouched when nothing matches.
func (s *FileStorage) Update(ctx context.Context, id, title string) (Post, error) {
	var updated Post
	err := s.mutate(ctx, func(st *State) (bool, error) {
		for i := range st.Posts {
			if st.Posts[i].ID == id {
				st.Posts[i].Title = strings.TrimSpace(title)
				updated = st.Posts[i]
				return true, nil
			}
		}
		return false, ErrPostNotFound
	})
	if err != nil {
		return Post{}, fmt.Errorf("storage: update post %q: %w", id, err)
	}
	return updated, nil
}

// Delete removes every post whose id matches and reports whether any did.
func (s *FileStorage) Delete(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := s.mutate(ctx, func(st *State) (bool, error) {
		kept := st.Posts[:0]
		for _, p := range st.Posts {
			if p.ID != id {
				kept = append(kept, p)
			}
		}
		removed = len(kept) != len(st.Posts)
		st.Posts = kept
		return removed, nil
	})
	if err != nil {
		return false, fmt.Errorf("storage: delete post %q: %w", id, err)
	}
	return removed, nil
}

// Import replaces the state file with st, raising nextId to the floor
// its posts require.
func (s *FileStorage) Import(ctx context.Context, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if floor := computeNextID(st.Posts); st.NextID < floor {
		st.NextID = floor
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(st); err != nil {
		return fmt.Errorf("storage: import: %w", err)
	}
	return nil
}
