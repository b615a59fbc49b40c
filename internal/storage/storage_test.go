package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "posts.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	require.NoError(t, err)

	// Empty the table; reopening must not reseed it.
	for _, id := range []string{"1", "2"} {
		ok, err := s.Delete(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	posts, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, posts)

	p, err := s.Create(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "3", p.ID)
}

func TestSQLiteStorage_MigrationsRecorded(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "posts.db"))
	require.NoError(t, err)
	defer s.Close()

	var version int
	err = s.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestSQLiteStorage_Import(t *testing.T) {
	ctx := context.Background()

	src := NewFileStorage(filepath.Join(t.TempDir(), "posts.json"))
	_, err := src.Create(ctx, "from json")
	require.NoError(t, err)
	st, err := src.Snapshot(ctx)
	require.NoError(t, err)

	dst, err := NewSQLite(filepath.Join(t.TempDir(), "posts.db"))
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, dst.Import(ctx, st))

	got, err := dst.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, got)

	p, err := dst.Create(ctx, "next")
	require.NoError(t, err)
	assert.Equal(t, "4", p.ID)
}
