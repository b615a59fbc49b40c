package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// SQLiteStorage
// ---------------------------------------------------------------------------

// SQLiteStorage is a thread-safe PostStore backed by a SQLite database.
// It keeps the same invariants as FileStorage: ids come from a persisted
// counter that never goes backwards, and posts keep insertion order.
type SQLiteStorage struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ PostStore = (*SQLiteStorage)(nil)

// ============================= LIFECYCLE ==================================

// NewSQLite opens (or creates) the SQLite database at dbPath, applies the
// recommended PRAGMAs, runs any pending migrations, seeds an empty
// database and returns a ready *SQLiteStorage.
func NewSQLite(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open db %q: %w", dbPath, err)
	}

	// Only one writer at a time for SQLite.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("storage: set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStorage{db: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	if err := s.seed(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: seed: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// ============================ MIGRATIONS ==================================

// migrate ensures the schema_migrations table exists, then applies every
// unapplied Migration from the package-level Migrations slice.
func (s *SQLiteStorage) migrate() error {
	const createMigTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		description TEXT
	)`
	if _, err := s.db.Exec(createMigTable); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range Migrations {
		var exists int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration v%d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := s.db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration v%d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := s.db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// seed writes SeedState into a database that has never held a counter.
func (s *SQLiteStorage) seed(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx (seed): %w", err)
	}
	defer tx.Rollback()

	if _, err := readNextID(ctx, tx); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	st := SeedState()
	for _, p := range st.Posts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO posts (id, title) VALUES (?, ?)`, p.ID, p.Title); err != nil {
			return fmt.Errorf("insert seed post %q: %w", p.ID, err)
		}
	}
	if err := writeNextID(ctx, tx, st.NextID); err != nil {
		return err
	}
	return tx.Commit()
}

func readNextID(ctx context.Context, tx *sql.Tx) (int64, error) {
	var next int64
	err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'next_id'`).Scan(&next)
	return next, err
}

func writeNextID(ctx context.Context, tx *sql.Tx, next int64) error {
	const q = `INSERT INTO meta (key, value) VALUES ('next_id', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.ExecContext(ctx, q, next); err != nil {
		return fmt.Errorf("write next_id: %w", err)
	}
	return nil
}

// ============================ READ PATH ===================================

// List returns every post ordered by insertion.
func (s *SQLiteStorage) List(ctx context.Context) ([]Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, title FROM posts ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("storage: list posts: %w", err)
	}
	defer rows.Close()

	posts := []Post{}
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.Title); err != nil {
			return nil, fmt.Errorf("storage: scan post row: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// Snapshot returns all posts together with the id counter.
func (s *SQLiteStorage) Snapshot(ctx context.Context) (State, error) {
	posts, err := s.List(ctx)
	if err != nil {
		return State{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var next int64
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'next_id'`).Scan(&next); err != nil {
		return State{}, fmt.Errorf("storage: read next_id: %w", err)
	}
	return State{Posts: posts, NextID: next}, nil
}

// =========================== MUTATION PATHS ===============================

// Create inserts a post with the next counter value as its id.
func (s *SQLiteStorage) Create(ctx context.Context, title string) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Post{}, fmt.Errorf("storage: begin tx (create): %w", err)
	}
	defer tx.Rollback()

	next, err := readNextID(ctx, tx)
	if err != nil {
		return Post{}, fmt.Errorf("storage: read next_id: %w", err)
	}

	id, after, err := issueID(next)
	if err != nil {
		return Post{}, fmt.Errorf("storage: create post: %w", err)
	}
	p := Post{ID: id, Title: strings.TrimSpace(title)}
	if _, err := tx.ExecContext(ctx, `INSERT INTO posts (id, title) VALUES (?, ?)`, p.ID, p.Title); err != nil {
		return Post{}, fmt.Errorf("storage: insert post: %w", err)
	}
	if err := writeNextID(ctx, tx, after); err != nil {
		return Post{}, fmt.Errorf("storage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Post{}, fmt.Errorf("storage: commit create: %w", err)
	}
	return p, nil
}

// Update retitles the earliest post with the given id.
func (s *SQLiteStorage) Update(ctx context.Context, id, title string) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Post{}, fmt.Errorf("storage: begin tx (update): %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `SELECT seq FROM posts WHERE id = ? ORDER BY seq LIMIT 1`, id).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, fmt.Errorf("storage: update post %q: %w", id, ErrPostNotFound)
	}
	if err != nil {
		return Post{}, fmt.Errorf("storage: find post %q: %w", id, err)
	}

	p := Post{ID: id, Title: strings.TrimSpace(title)}
	if _, err := tx.ExecContext(ctx, `UPDATE posts SET title = ? WHERE seq = ?`, p.Title, seq); err != nil {
		return Post{}, fmt.Errorf("storage: update post %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Post{}, fmt.Errorf("storage: commit update: %w", err)
	}
	return p, nil
}

// Delete removes every post with the given id.
func (s *SQLiteStorage) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("storage: delete post %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: delete post %q: %w", id, err)
	}
	return n > 0, nil
}

// Import replaces the database contents with st. Used to move a JSON state
// file into SQLite.
func (s *SQLiteStorage) Import(ctx context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx (import): %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM posts`); err != nil {
		return fmt.Errorf("storage: clear posts: %w", err)
	}
	for _, p := range st.Posts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO posts (id, title) VALUES (?, ?)`, p.ID, p.Title); err != nil {
			return fmt.Errorf("storage: import post %q: %w", p.ID, err)
		}
	}
	next := st.NextID
	if floor := computeNextID(st.Posts); next < floor {
		next = floor
	}
	if err := writeNextID(ctx, tx, next); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return tx.Commit()
}
