package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// JSON file format
// ---------------------------------------------------------------------------

// FileFormatVersion is the current layout of the JSON state file.
//
//	v0: {"posts": [...]}                 (no counter)
//	v1: {"posts": [...], "nextId": n}
const FileFormatVersion = 1

// fileDocument is the raw decode target for every file layout. It never
// leaves this file; decodeState turns it into a State.
type fileDocument struct {
	Posts  json.RawMessage `json:"posts"`
	NextID *int64          `json:"nextId"`
}

func (d *fileDocument) version() int {
	if d.NextID == nil {
		return 0
	}
	return 1
}

// FileMigration upgrades a decoded state by one file layout version.
type FileMigration struct {
	Version     int
	Description string
	Apply       func(st *State)
}

// FileMigrations is the ordered list of JSON layout upgrades. A migration
// runs when the decoded document is older than its Version.
var FileMigrations = []FileMigration{
	{
		Version:     1,
		Description: "derive nextId counter from existing post ids",
		Apply: func(st *State) {
			st.NextID = computeNextID(st.Posts)
		},
	},
}

// decodeState parses any known file layout into the canonical State.
func decodeState(data []byte) (State, error) {
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}

	version := doc.version()
	st := State{}
	if doc.NextID != nil {
		st.NextID = *doc.NextID
	}

	raw := bytes.TrimSpace(doc.Posts)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		// no posts recorded
	case raw[0] != '[' && version == 0:
		// legacy content with a non-list posts field decodes as empty
	default:
		if err := json.Unmarshal(raw, &st.Posts); err != nil {
			return State{}, fmt.Errorf("decode posts: %w", err)
		}
	}

	for _, m := range FileMigrations {
		if m.Version > version {
			m.Apply(&st)
			version = m.Version
		}
	}

	// The counter must stay ahead of every id even if the file was edited by hand.
	if floor := computeNextID(st.Posts); st.NextID < floor {
		st.NextID = floor
	}
	if st.Posts == nil {
		st.Posts = []Post{}
	}
	return st, nil
}

// encodeState renders a State in the current file layout.
func encodeState(st State) ([]byte, error) {
	if st.Posts == nil {
		st.Posts = []Post{}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return append(data, '\n'), nil
}

// MarshalState renders st exactly as FileStorage writes it.
func MarshalState(st State) ([]byte, error) { return encodeState(st) }

// UnmarshalState parses a state file in any known layout.
func UnmarshalState(data []byte) (State, error) { return decodeState(data) }

// ---------------------------------------------------------------------------
// SQLite schema
// ---------------------------------------------------------------------------

// SchemaVersion is the current SQLite schema version.
const SchemaVersion = 1

// Migration describes a single SQLite schema migration. Migrations are
// ordered by Version and recorded in schema_migrations once applied.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the ordered list of all SQLite schema migrations.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema: posts, meta",
		SQL: `
CREATE TABLE IF NOT EXISTS posts (
    seq   INTEGER PRIMARY KEY AUTOINCREMENT,
    id    TEXT NOT NULL,
    title TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_id ON posts(id);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);
`,
	},
}
