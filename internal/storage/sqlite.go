// Package storage opens the local SQLite database that keeps dump history.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures the history tables exist. Paths on network filesystems are refused.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if err := validateSQLiteFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; dump sessions are serialised anyway.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates the history tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dump_session (
  id           TEXT PRIMARY KEY,
  feature      TEXT NOT NULL,
  destination  TEXT,
  state        TEXT NOT NULL,
  attempted    INTEGER NOT NULL DEFAULT 0,
  responded    INTEGER NOT NULL DEFAULT 0,
  interrupted  INTEGER NOT NULL DEFAULT 0,
  error        TEXT,
  started_at   TEXT NOT NULL,
  finished_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS dump_daemon (
  session_id  TEXT NOT NULL REFERENCES dump_session(id) ON DELETE CASCADE,
  seq         INTEGER NOT NULL,
  daemon      TEXT NOT NULL,
  outcome     TEXT NOT NULL,
  elapsed_ms  INTEGER NOT NULL DEFAULT 0,
  output_len  INTEGER NOT NULL DEFAULT 0,
  error       TEXT,
  PRIMARY KEY (session_id, seq)
);`,
		`CREATE INDEX IF NOT EXISTS dump_session_started_at_idx ON dump_session(started_at);`,
		`CREATE INDEX IF NOT EXISTS dump_session_feature_idx ON dump_session(feature, started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
