package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Post is the single record type held by the store.
type Post struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// State is the canonical in-memory form of the record store. Every on-disk
// shape is decoded into a State before it is used.
type State struct {
	Posts  []Post `json:"posts"`
	NextID int64  `json:"nextId"`
}

// ErrPostNotFound is returned by Update when no post carries the given id.
var ErrPostNotFound = errors.New("post not found")

// ErrIDExhausted is returned by Create once the id counter has reached
// math.MaxInt64. That value is never issued as an id.
var ErrIDExhausted = errors.New("id counter exhausted")

// PostStore is implemented by every record store backend.
// All implementations serialize their mutating operations.
type PostStore interface {
	// List returns every post in insertion order.
	List(ctx context.Context) ([]Post, error)

	// Create appends a post with the trimmed title and a freshly assigned id.
	Create(ctx context.Context, title string) (Post, error)

	// Update replaces the title of the post with the given id.
	// Returns ErrPostNotFound (and writes nothing) if no post matches.
	Update(ctx context.Context, id, title string) (Post, error)

	// Delete removes every post with the given id and reports whether
	// anything was removed.
	Delete(ctx context.Context, id string) (bool, error)

	// Snapshot returns the full current State, including the id counter.
	Snapshot(ctx context.Context) (State, error)

	// Import replaces the stored contents with st.
	Import(ctx context.Context, st State) error

	Close() error
}

// SeedState returns the state written when no state file exists yet.
func SeedState() State {
	return State{
		Posts: []Post{
			{ID: "1", Title: "Hello from API"},
			{ID: "2", Title: "Second post"},
		},
		NextID: 3,
	}
}

// computeNextID returns 1 + the largest numeric post id. Ids that do not
// parse as base-10 integers, and negative ids, count as 0. The result
// saturates at math.MaxInt64, which marks the counter as exhausted.
func computeNextID(posts []Post) int64 {
	var highest int64
	for _, p := range posts {
		n, err := strconv.ParseInt(p.ID, 10, 64)
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	if highest == math.MaxInt64 {
		return math.MaxInt64
	}
	return highest + 1
}

// issueID returns the id for a new post and the counter value that follows
// it.
func issueID(next int64) (string, int64, error) {
	if next == math.MaxInt64 {
		return "", next, ErrIDExhausted
	}
	return strconv.FormatInt(next, 10), next + 1, nil
}

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open returns the PostStore for the named backend.
func Open(backend, path string) (PostStore, error) {
	switch backend {
	case "", BackendJSON:
		return NewFileStorage(path), nil
	case BackendSQLite:
		s, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
