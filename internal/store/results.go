package store

import (
	"context"
	"fmt"

	"github.com/treykane/fleetcmd/internal/model"
)

// SaveResults appends a batch of command outcomes in one transaction. The
// password column always receives the fixed placeholder regardless of what
// the caller passed; plaintext credentials must never land on disk.
func (s *Store) SaveResults(ctx context.Context, results []model.CommandResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO server_command_results (ip, user, password, port, command, output, exit_status, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx,
			r.IP, r.User, model.PasswordPlaceholder, r.Port,
			r.Command, r.Output, r.ExitStatus, r.Timestamp,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert result for %s: %w", r.IP, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CountResults reports the number of persisted command outcomes. Used by
// tests; the service itself exposes no read path for results.
func (s *Store) CountResults(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM server_command_results`).Scan(&n)
	return n, err
}
