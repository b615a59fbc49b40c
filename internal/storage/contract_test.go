package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) PostStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		BackendJSON: func(t *testing.T) PostStore {
			return NewFileStorage(filepath.Join(t.TempDir(), "var", "posts.json"))
		},
		BackendSQLite: func(t *testing.T) PostStore {
			s, err := NewSQLite(filepath.Join(t.TempDir(), "posts.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

// TestPostStoreContract runs the same behavioural checks against every backend.
func TestPostStoreContract(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("seeded on first access", func(t *testing.T) {
				s := open(t)
				posts, err := s.List(context.Background())
				require.NoError(t, err)
				assert.Equal(t, SeedState().Posts, posts)

				st, err := s.Snapshot(context.Background())
				require.NoError(t, err)
				assert.Equal(t, int64(3), st.NextID)
			})

			t.Run("create trims and appends", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()

				p, err := s.Create(ctx, "  third  ")
				require.NoError(t, err)
				assert.Equal(t, Post{ID: "3", Title: "third"}, p)

				posts, err := s.List(ctx)
				require.NoError(t, err)
				require.Len(t, posts, 3)
				assert.Equal(t, p, posts[2])
			})

			t.Run("ids are unique and increasing across deletes", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()

				var last int64
				seen := map[string]bool{}
				for i := 0; i < 20; i++ {
					p, err := s.Create(ctx, fmt.Sprintf("post %d", i))
					require.NoError(t, err)

					n, err := strconv.ParseInt(p.ID, 10, 64)
					require.NoError(t, err)
					assert.Greater(t, n, last)
					assert.False(t, seen[p.ID], "id %s reused", p.ID)
					last = n
					seen[p.ID] = true

					if i%3 == 0 {
						ok, err := s.Delete(ctx, p.ID)
						require.NoError(t, err)
						assert.True(t, ok)
					}
				}
			})

			t.Run("duplicate titles are allowed", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()

				a, err := s.Create(ctx, "same")
				require.NoError(t, err)
				b, err := s.Create(ctx, "same")
				require.NoError(t, err)
				assert.NotEqual(t, a.ID, b.ID)
			})

			t.Run("update trims and keeps order", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()

				p, err := s.Update(ctx, "1", " x ")
				require.NoError(t, err)
				assert.Equal(t, Post{ID: "1", Title: "x"}, p)

				posts, err := s.List(ctx)
				require.NoError(t, err)
				assert.Equal(t, []Post{
					{ID: "1", Title: "x"},
					{ID: "2", Title: "Second post"},
				}, posts)
			})

			t.Run("update of missing id reports not found", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()

				_, err := s.Update(ctx, "404", "x")
				assert.ErrorIs(t, err, ErrPostNotFound)

				posts, err := s.List(ctx)
				require.NoError(t, err)
				assert.Equal(t, SeedState().Posts, posts)
			})

			t.Run("delete twice", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()

				ok, err := s.Delete(ctx, "1")
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = s.Delete(ctx, "1")
				require.NoError(t, err)
				assert.False(t, ok)

				posts, err := s.List(ctx)
				require.NoError(t, err)
				assert.Equal(t, []Post{{ID: "2", Title: "Second post"}}, posts)
			})

			t.Run("concurrent creates get distinct ids", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				const n = 25

				var wg sync.WaitGroup
				ids := make(chan string, n)
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						p, err := s.Create(ctx, fmt.Sprintf("c%d", i))
						if assert.NoError(t, err) {
							ids <- p.ID
						}
					}(i)
				}
				wg.Wait()
				close(ids)

				unique := map[string]bool{}
				for id := range ids {
					unique[id] = true
				}
				assert.Len(t, unique, n)

				posts, err := s.List(ctx)
				require.NoError(t, err)
				assert.Len(t, posts, n+2)
			})

			t.Run("concurrent updates are not lost", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				const n = 15

				var ids []string
				for i := 0; i < n; i++ {
					p, err := s.Create(ctx, "before")
					require.NoError(t, err)
					ids = append(ids, p.ID)
				}

				var wg sync.WaitGroup
				for _, id := range ids {
					wg.Add(1)
					go func(id string) {
						defer wg.Done()
						_, err := s.Update(ctx, id, "after "+id)
						assert.NoError(t, err)
					}(id)
				}
				wg.Wait()

				posts, err := s.List(ctx)
				require.NoError(t, err)
				titles := map[string]string{}
				for _, p := range posts {
					titles[p.ID] = p.Title
				}
				for _, id := range ids {
					assert.Equal(t, "after "+id, titles[id])
				}
			})

			t.Run("import replaces contents and raises the counter", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()

				in := State{Posts: []Post{{ID: "9", Title: "nine"}, {ID: "x", Title: "odd"}}, NextID: 2}
				require.NoError(t, s.Import(ctx, in))

				st, err := s.Snapshot(ctx)
				require.NoError(t, err)
				assert.Equal(t, in.Posts, st.Posts)
				assert.Equal(t, int64(10), st.NextID)

				p, err := s.Create(ctx, "next")
				require.NoError(t, err)
				assert.Equal(t, "10", p.ID)
			})

			t.Run("exhausted counter refuses to create", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()

				in := State{Posts: []Post{{ID: strconv.FormatInt(math.MaxInt64-2, 10), Title: "high"}}, NextID: 5}
				require.NoError(t, s.Import(ctx, in))

				p, err := s.Create(ctx, "last")
				require.NoError(t, err)
				assert.Equal(t, "9223372036854775806", p.ID)

				_, err = s.Create(ctx, "overflow")
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrIDExhausted), "got %v", err)
				assert.Contains(t, err.Error(), "storage: create post")

				st, err := s.Snapshot(ctx)
				require.NoError(t, err)
				assert.Equal(t, []Post{in.Posts[0], p}, st.Posts)
				assert.Equal(t, int64(math.MaxInt64), st.NextID)
			})

			t.Run("top id at the ceiling exhausts the counter", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()

				top := Post{ID: strconv.FormatInt(math.MaxInt64, 10), Title: "a"}
				require.NoError(t, s.Import(ctx, State{Posts: []Post{top}, NextID: 3}))

				_, err := s.Create(ctx, "b")
				assert.True(t, errors.Is(err, ErrIDExhausted), "got %v", err)

				posts, err := s.List(ctx)
				require.NoError(t, err)
				assert.Equal(t, []Post{top}, posts)
			})
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(BackendJSON, filepath.Join(dir, "posts.json"))
	require.NoError(t, err)
	assert.IsType(t, &FileStorage{}, s)

	s, err = Open(BackendSQLite, filepath.Join(dir, "posts.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStorage{}, s)
	require.NoError(t, s.Close())

	_, err = Open("rocksdb", dir)
	assert.ErrorContains(t, err, "unknown backend")
}
