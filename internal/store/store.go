package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite build cache: per-file parse results, build history and
// a small key/value metadata table.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
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

// DB returns the underlying *sql.DB for use in transactions.
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
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  hash            TEXT NOT NULL,
  output          TEXT,
  diagnostics     TEXT NOT NULL DEFAULT '[]',
  last_built      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS builds (
  id               TEXT PRIMARY KEY,
  project          TEXT NOT NULL,
  config_file      TEXT,
  mode             TEXT NOT NULL DEFAULT 'filesystem',
  success          BOOLEAN NOT NULL DEFAULT FALSE,
  diagnostic_count INTEGER NOT NULL DEFAULT 0,
  written_count    INTEGER NOT NULL DEFAULT 0,
  started_at       TIMESTAMP NOT NULL,
  finished_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_hash ON files(hash);
CREATE INDEX IF NOT EXISTS idx_builds_project ON builds(project);
CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at);
`

// --- File operations ---

// FileByPath returns the cached entry for path, or nil if there is none.
func (s *Store) FileByPath(path string) (*File, error) {
	f := &File{}
	var output sql.NullString
	var diags string
	var lastBuilt sql.NullTime
	err := s.db.QueryRow(
		"SELECT id, path, hash, output, diagnostics, last_built FROM files WHERE path = ?", path,
	).Scan(&f.ID, &f.Path, &f.Hash, &output, &diags, &lastBuilt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	f.Output = output.String
	f.LastBuilt = lastBuilt.Time
	f.Diagnostics, err = unmarshalDiagnostics(diags)
	if err != nil {
		return nil, fmt.Errorf("file by path %s: %w", path, err)
	}
	return f, nil
}

// UpsertFile inserts or replaces the cache entry for f.Path and sets f.ID.
func (s *Store) UpsertFile(f *File) error {
	return upsertFile(s.db, f)
}

// DeleteFile removes the cache entry for path. Missing entries are ignored.
func (s *Store) DeleteFile(path string) error {
	if _, err := s.db.Exec("DELETE FROM files WHERE path = ?", path); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// ClearFiles drops every cached file entry.
func (s *Store) ClearFiles() error {
	if _, err := s.db.Exec("DELETE FROM files"); err != nil {
		return fmt.Errorf("clear files: %w", err)
	}
	return nil
}

// FileCount returns the number of cached files.
func (s *Store) FileCount() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&n); err != nil {
		return 0, fmt.Errorf("file count: %w", err)
	}
	return n, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func upsertFile(db execer, f *File) error {
	diags, err := marshalDiagnostics(f.Diagnostics)
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", f.Path, err)
	}
	err = db.QueryRow(
		`INSERT INTO files (path, hash, output, diagnostics, last_built) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   hash = excluded.hash,
		   output = excluded.output,
		   diagnostics = excluded.diagnostics,
		   last_built = excluded.last_built
		 RETURNING id`,
		f.Path, f.Hash, f.Output, diags, f.LastBuilt,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", f.Path, err)
	}
	return nil
}

// --- Metadata ---

// GetMetadata returns the value stored under key and whether it was present.
func (s *Store) GetMetadata(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get metadata %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}
