package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ConfigSummary is one row of the config listing.
type ConfigSummary struct {
	ID        int64
	Name      string
	UpdatedAt time.Time
}

// ConfigRecord is a stored config with its JSON payload.
type ConfigRecord struct {
	ID   int64
	Name string
	Data []byte
}

// SaveConfig creates a named config or replaces the payload of an existing
// one. Names are unique; saving under an existing name keeps its id. The
// returned bool is true when a new row was created.
func (s *Store) SaveConfig(ctx context.Context, name string, data []byte) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM server_configs WHERE name = ?`, name).Scan(&id)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE server_configs SET config_data = ?, updated_at = ? WHERE id = ?`,
			string(data), now, id,
		); err != nil {
			return 0, false, fmt.Errorf("update config %q: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("commit: %w", err)
		}
		return id, false, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO server_configs (name, config_data, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			name, string(data), now, now,
		)
		if err != nil {
			return 0, false, fmt.Errorf("insert config %q: %w", name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, err
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("commit: %w", err)
		}
		return id, true, nil
	default:
		return 0, false, fmt.Errorf("lookup config %q: %w", name, err)
	}
}

// ListConfigs returns all stored configs, most recently updated first.
func (s *Store) ListConfigs(ctx context.Context) ([]ConfigSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, updated_at FROM server_configs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	defer rows.Close()

	var out []ConfigSummary
	for rows.Next() {
		var c ConfigSummary
		if err := rows.Scan(&c.ID, &c.Name, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConfig returns a stored config by id, or ErrNotFound.
func (s *Store) GetConfig(ctx context.Context, id int64) (*ConfigRecord, error) {
	var rec ConfigRecord
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, config_data FROM server_configs WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Name, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config %d: %w", id, err)
	}
	rec.Data = []byte(data)
	return &rec, nil
}

// DeleteConfig removes a stored config by id, or returns ErrNotFound.
func (s *Store) DeleteConfig(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM server_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete config %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
