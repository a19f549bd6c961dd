// Package store provides the SQLite-backed metadata store for astrorag.
// It owns the canonical identity space (doc_id, page_num, chunk_id,
// figure_id) and the per-stage indexing watermarks of every document.
// Records are persisted across runs and shared by the CLI and the server.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// SQLiteStore is the metadata store backed by a local SQLite database.
// It is safe for concurrent use; writes are serialised through a single
// connection.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// now returns the current time; replaced in tests.
	now func() time.Time
}

// DefaultDBPath returns the default path for the metadata database.
// It resolves to ./data/metadata.sqlite3, creating the directory if needed.
func DefaultDBPath() (string, error) {
	dir := "data"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "metadata.sqlite3"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create parent of %s: %w", path, err)
		}
	}

	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    doc_id              INTEGER PRIMARY KEY AUTOINCREMENT,
    file_path           TEXT    NOT NULL UNIQUE,
    file_name           TEXT    NOT NULL,
    content_hash        TEXT    NOT NULL,
    page_count          INTEGER NOT NULL,
    ingested_at         INTEGER,            -- Unix milliseconds
    ingested_hash       TEXT,
    text_indexed_at     INTEGER,
    text_indexed_hash   TEXT,
    visual_indexed_at   INTEGER,
    visual_indexed_hash TEXT,
    created_at          INTEGER NOT NULL,
    updated_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pages (
    doc_id              INTEGER NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
    page_num            INTEGER NOT NULL,
    extracted_text      TEXT    NOT NULL DEFAULT '',
    rendered_image_path TEXT    NOT NULL DEFAULT '',
    updated_at          INTEGER NOT NULL,
    PRIMARY KEY (doc_id, page_num)
);

CREATE TABLE IF NOT EXISTS text_chunks (
    chunk_uid    TEXT    PRIMARY KEY,
    chunk_id     TEXT    NOT NULL,
    chunk_index  INTEGER NOT NULL,
    doc_id       INTEGER NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
    page_num     INTEGER NOT NULL,
    section_name TEXT    NOT NULL DEFAULT '',
    text         TEXT    NOT NULL,
    offset_start INTEGER NOT NULL,
    offset_end   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_text_chunks_doc_page
    ON text_chunks (doc_id, page_num, chunk_index);

CREATE VIRTUAL TABLE IF NOT EXISTS text_chunks_fts USING fts5(
    text,
    chunk_uid UNINDEXED,
    doc_id    UNINDEXED,
    page_num  UNINDEXED,
    tokenize = 'porter unicode61'
);

CREATE TABLE IF NOT EXISTS figures (
    figure_uid    TEXT    PRIMARY KEY,
    figure_id     TEXT    NOT NULL,
    doc_id        INTEGER NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
    page_num      INTEGER NOT NULL,
    image_path    TEXT    NOT NULL,
    bbox_x0       REAL,
    bbox_y0       REAL,
    bbox_x1       REAL,
    bbox_y1       REAL,
    ocr_text      TEXT    NOT NULL DEFAULT '',
    caption       TEXT    NOT NULL DEFAULT '',
    entities_json TEXT    NOT NULL DEFAULT '[]',
    bullets_json  TEXT    NOT NULL DEFAULT '[]',
    stale         INTEGER NOT NULL DEFAULT 0,  -- 1 once a re-ingest no longer produces it
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_figures_doc_page
    ON figures (doc_id, page_num);

CREATE TABLE IF NOT EXISTS doc_leases (
    doc_id     INTEGER PRIMARY KEY,
    owner      TEXT    NOT NULL,
    expires_at INTEGER NOT NULL   -- Unix milliseconds
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	// Databases created before figures carried a stale flag.
	if err := s.addColumn("figures", "stale", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// addColumn adds column to table unless it already exists.
func (s *SQLiteStore) addColumn(table, column, decl string) error {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	// table, column and decl are compile-time constants.
	if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// millis converts t to Unix milliseconds for storage.
func millis(t time.Time) int64 { return t.UnixMilli() }

// fromMillis converts a nullable millisecond column back to a time. A NULL
// column yields the zero time.
func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}
