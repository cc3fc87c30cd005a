// Package db implements the SQLite persistence backend.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SchemaVersion is the user_version reached after all migrations.
const SchemaVersion = 2

// Store wraps a SQLite database holding one entity collection
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (and creates/migrates) the database at the given path
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	// Ensure file exists with strict perms
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		f, err := os.OpenFile(dbPath, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create database file: %w", err)
		}
		f.Close()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout=5000;")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous=NORMAL;")

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var ver int
	_ = s.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&ver)

	// v1: ordered records
	if ver == 0 {
		if err := s.step(ctx, 1, `
CREATE TABLE IF NOT EXISTS records (
  position   INTEGER NOT NULL,
  id         TEXT NOT NULL PRIMARY KEY,
  data       TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`, `CREATE INDEX IF NOT EXISTS idx_records_position ON records(position);`); err != nil {
			return err
		}
		ver = 1
	}

	// v2: ownership metadata
	if ver == 1 {
		if err := s.step(ctx, 2, `
CREATE TABLE IF NOT EXISTS meta (
  key   TEXT NOT NULL PRIMARY KEY,
  value TEXT NOT NULL
);
`); err != nil {
			return err
		}
		ver = 2
	}

	if ver > SchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", ver, SchemaVersion)
	}
	return nil
}

func (s *Store) step(ctx context.Context, version int, ddl ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range ddl {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			break
		}
	}
	if err == nil {
		_, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d;", version))
	}
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migrate v%d: %w", version, err)
	}
	return tx.Commit()
}

// Close closes the underlying database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for use by domain stores
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}
