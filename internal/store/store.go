// Package store persists command results and named configs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

// ErrNotFound is returned when a config id does not exist.
var ErrNotFound = errors.New("config not found")

// Store wraps the SQLite database holding executed command results and named
// host/command configurations.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies schema
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// migrate creates missing tables and adds columns introduced after the
// original schema shipped. Older databases predate the exit_status column on
// server_command_results, so its presence is checked explicitly.
func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS server_command_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ip TEXT,
	user TEXT DEFAULT 'root',
	password TEXT,
	port INTEGER DEFAULT 22,
	command TEXT,
	output TEXT,
	exit_status INTEGER,
	timestamp DATETIME
);
CREATE INDEX IF NOT EXISTS idx_server_command_results_ip ON server_command_results(ip);
CREATE TABLE IF NOT EXISTS server_configs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE,
	config_data TEXT,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_server_configs_name ON server_configs(name);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	hasExit, err := s.hasColumn(ctx, "server_command_results", "exit_status")
	if err != nil {
		return err
	}
	if !hasExit {
		slog.Info("adding missing exit_status column to server_command_results")
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE server_command_results ADD COLUMN exit_status INTEGER`); err != nil {
			return fmt.Errorf("add exit_status column: %w", err)
		}
	}
	return nil
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
