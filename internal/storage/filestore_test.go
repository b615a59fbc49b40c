package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRename replaces renameFile for the duration of a test.
func stubRename(t *testing.T, fn func(oldpath, newpath string) error) {
	t.Helper()
	orig := renameFile
	renameFile = fn
	t.Cleanup(func() { renameFile = orig })
}

// countRenames counts state rewrites while still performing them.
func countRenames(t *testing.T) *int {
	t.Helper()
	n := 0
	stubRename(t, func(oldpath, newpath string) error {
		n++
		return os.Rename(oldpath, newpath)
	})
	return &n
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileStorage_SeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "posts.json")
	s := NewFileStorage(path)

	_, err := s.List(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "seed_state", data)
}

func TestFileStorage_DefaultPath(t *testing.T) {
	assert.Equal(t, DefaultFilePath, NewFileStorage("").Path())
}

func TestFileStorage_UpdateMissingDoesNotWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	s := NewFileStorage(path)
	ctx := context.Background()

	_, err := s.Create(ctx, "keep me")
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	renames := countRenames(t)
	_, err = s.Update(ctx, "999", "x")
	require.ErrorIs(t, err, ErrPostNotFound)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Zero(t, *renames)
	assert.NoFileExists(t, tempPath(path))
}

func TestFileStorage_DeleteWritesOnlyOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	s := NewFileStorage(path)
	ctx := context.Background()

	_, err := s.List(ctx)
	require.NoError(t, err)

	renames := countRenames(t)

	ok, err := s.Delete(ctx, "2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, *renames)

	ok, err = s.Delete(ctx, "2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, *renames)
}

func TestFileStorage_CreateWritesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	s := NewFileStorage(path)
	ctx := context.Background()

	_, err := s.List(ctx)
	require.NoError(t, err)

	renames := countRenames(t)
	_, err = s.Create(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, 1, *renames)
}

func TestFileStorage_DeleteRemovesDuplicateIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	writeFile(t, path, `{"posts":[{"id":"1","title":"a"},{"id":"2","title":"b"},{"id":"1","title":"c"}],"nextId":3}`)
	s := NewFileStorage(path)

	ok, err := s.Delete(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, ok)

	posts, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Post{{ID: "2", Title: "b"}}, posts)
}

func TestFileStorage_UpdateFirstMatchOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	writeFile(t, path, `{"posts":[{"id":"1","title":"a"},{"id":"1","title":"b"}],"nextId":2}`)
	s := NewFileStorage(path)

	_, err := s.Update(context.Background(), "1", "z")
	require.NoError(t, err)

	posts, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Post{{ID: "1", Title: "z"}, {ID: "1", Title: "b"}}, posts)
}

func TestFileStorage_LegacyMigration(t *testing.T) {
	t.Run("derives counter from highest id", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "posts.json")
		writeFile(t, path, `{"posts":[{"id":"5","title":"a"},{"id":"2","title":"b"}]}`)
		s := NewFileStorage(path)

		p, err := s.Create(context.Background(), "c")
		require.NoError(t, err)
		assert.Equal(t, "6", p.ID)

		st, err := s.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(7), st.NextID)

		// The rewrite is in the current layout.
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"nextId": 7`)
	})

	t.Run("ignores ids that are not integers", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "posts.json")
		writeFile(t, path, `{"posts":[{"id":"abc","title":"a"},{"id":"7x","title":"b"},{"id":"-4","title":"c"}]}`)
		s := NewFileStorage(path)

		p, err := s.Create(context.Background(), "d")
		require.NoError(t, err)
		assert.Equal(t, "1", p.ID)
	})

	t.Run("null counter is treated as legacy", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "posts.json")
		writeFile(t, path, `{"posts":[{"id":"9","title":"a"}],"nextId":null}`)
		s := NewFileStorage(path)

		p, err := s.Create(context.Background(), "b")
		require.NoError(t, err)
		assert.Equal(t, "10", p.ID)
	})

	t.Run("non-list posts decode as empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "posts.json")
		writeFile(t, path, `{"posts":"oops"}`)
		s := NewFileStorage(path)

		posts, err := s.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, posts)
	})

	t.Run("listing does not rewrite the legacy file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "posts.json")
		legacy := `{"posts":[{"id":"1","title":"a"}]}`
		writeFile(t, path, legacy)
		s := NewFileStorage(path)

		_, err := s.List(context.Background())
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, legacy, string(data))
	})
}

func TestFileStorage_CounterBehindIDsIsRaised(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	writeFile(t, path, `{"posts":[{"id":"8","title":"a"}],"nextId":2}`)
	s := NewFileStorage(path)

	p, err := s.Create(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "9", p.ID)
}

func TestFileStorage_ExhaustedCounterDoesNotWrite(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"counter at the ceiling", `{"posts":[{"id":"9223372036854775807","title":"a"}],"nextId":9223372036854775807}`},
		{"legacy file with the top id", `{"posts":[{"id":"9223372036854775807","title":"a"}]}`},
		{"counter behind the top id", `{"posts":[{"id":"9223372036854775807","title":"a"}],"nextId":4}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "posts.json")
			writeFile(t, path, tc.content)
			renames := countRenames(t)
			s := NewFileStorage(path)

			for i := 0; i < 2; i++ {
				_, err := s.Create(context.Background(), "b")
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrIDExhausted), "got %v", err)
			}
			assert.Equal(t, 0, *renames)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tc.content, string(data))

			posts, err := s.List(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []Post{{ID: "9223372036854775807", Title: "a"}}, posts)
		})
	}
}

func TestFileStorage_CrashBeforeRename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	s := NewFileStorage(path)
	ctx := context.Background()

	_, err := s.List(ctx)
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	stubRename(t, func(string, string) error {
		return errors.New("simulated crash")
	})

	_, err = s.Create(ctx, "never persisted")
	require.Error(t, err)
	assert.ErrorContains(t, err, "simulated crash")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = decodeState(after)
	assert.NoError(t, err)
}

func TestFileStorage_StaleTempFileIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	s := NewFileStorage(path)
	ctx := context.Background()

	_, err := s.List(ctx)
	require.NoError(t, err)

	// A crash mid-write leaves a truncated temp file next to the state file.
	writeFile(t, tempPath(path), `{"posts": [{"id": "1", "ti`)

	posts, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, SeedState().Posts, posts)

	p, err := s.Create(ctx, "after crash")
	require.NoError(t, err)
	assert.Equal(t, "3", p.ID)
	assert.NoFileExists(t, tempPath(path))

	posts, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, posts, 3)
}

func TestFileStorage_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	writeFile(t, path, `{"posts": [`)
	s := NewFileStorage(path)

	_, err := s.List(context.Background())
	assert.ErrorContains(t, err, "decode state")

	_, err = s.Create(context.Background(), "x")
	assert.ErrorContains(t, err, "decode state")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"posts": [`, string(data))
}

func TestFileStorage_CancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	s := NewFileStorage(path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Create(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, path)
}
