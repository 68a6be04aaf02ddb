package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for the semantic graph.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode and foreign
// keys enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for read-only consumers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
  path          TEXT PRIMARY KEY,
  size          INTEGER NOT NULL,
  language      TEXT NOT NULL,
  sha1          TEXT NOT NULL,
  last_modified TIMESTAMP
);

CREATE TABLE IF NOT EXISTS symbols (
  id            INTEGER PRIMARY KEY,
  name          TEXT NOT NULL,
  type          TEXT NOT NULL,
  kind_raw      TEXT,
  file_path     TEXT NOT NULL REFERENCES files(path),
  line_number   INTEGER NOT NULL,
  signature     TEXT,
  typeref       TEXT,
  scope         TEXT,
  scope_kind    TEXT,
  scope_name    TEXT,
  is_file_scope TEXT NOT NULL DEFAULT 'unknown'
);

CREATE VIRTUAL TABLE IF NOT EXISTS symbols_fts USING fts5(
  name, signature, file_path
);

CREATE TABLE IF NOT EXISTS raw_references (
  id              INTEGER PRIMARY KEY,
  query_type      TEXT NOT NULL,
  query_symbol    TEXT NOT NULL,
  source_file     TEXT NOT NULL,
  source_function TEXT NOT NULL,
  line_number     INTEGER NOT NULL,
  line_text       TEXT
);

CREATE TABLE IF NOT EXISTS symbol_edges (
  id            INTEGER PRIMARY KEY,
  edge_type     TEXT NOT NULL,
  src_symbol_id INTEGER NOT NULL REFERENCES symbols(id),
  dst_symbol_id INTEGER NOT NULL REFERENCES symbols(id),
  source_file   TEXT,
  line_number   INTEGER,
  UNIQUE(edge_type, src_symbol_id, dst_symbol_id, source_file, line_number)
);

CREATE TABLE IF NOT EXISTS file_edges (
  id          INTEGER PRIMARY KEY,
  edge_type   TEXT NOT NULL,
  src_file    TEXT NOT NULL REFERENCES files(path),
  dst_file    TEXT NOT NULL REFERENCES files(path),
  line_number INTEGER,
  UNIQUE(edge_type, src_file, dst_file, line_number)
);

CREATE TABLE IF NOT EXISTS metadata (
  key   TEXT PRIMARY KEY,
  value TEXT
);

CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_path);
CREATE INDEX IF NOT EXISTS idx_symbols_name_type ON symbols(name, type);
CREATE INDEX IF NOT EXISTS idx_raw_references_type ON raw_references(query_type);
CREATE INDEX IF NOT EXISTS idx_symbol_edges_src ON symbol_edges(src_symbol_id);
CREATE INDEX IF NOT EXISTS idx_symbol_edges_dst ON symbol_edges(dst_symbol_id);
CREATE INDEX IF NOT EXISTS idx_file_edges_src ON file_edges(src_file);
CREATE INDEX IF NOT EXISTS idx_file_edges_dst ON file_edges(dst_file);
`

// Clear removes all graph data. Delete order respects FK constraints:
// edges first, then raw references, then symbols, then files, then the
// FTS shadow of symbols.
func (s *Store) Clear() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("clear: begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM symbol_edges",
		"DELETE FROM file_edges",
		"DELETE FROM raw_references",
		"DELETE FROM symbols",
		"DELETE FROM files",
		"DELETE FROM symbols_fts",
		"DELETE FROM metadata",
	} {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	return tx.Commit()
}
