package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/treykane/fleetcmd/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveResultsMasksPassword(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exit := 0
	err := s.SaveResults(ctx, []model.CommandResult{
		{IP: "10.0.0.1", User: "root", Password: "supersecret", Port: 22,
			Command: "uptime", Output: "up", ExitStatus: &exit, Timestamp: time.Now().UTC()},
		{IP: "10.0.0.2", User: "admin", Password: "alsosecret", Port: 2222,
			Command: "hostname", Output: "web-2", Timestamp: time.Now().UTC()},
	})
	require.NoError(t, err)

	n, err := s.CountResults(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	rows, err := s.db.QueryContext(ctx, `SELECT password, exit_status FROM server_command_results ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var passwords []string
	var exits []sql.NullInt64
	for rows.Next() {
		var pw string
		var ex sql.NullInt64
		require.NoError(t, rows.Scan(&pw, &ex))
		passwords = append(passwords, pw)
		exits = append(exits, ex)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{model.PasswordPlaceholder, model.PasswordPlaceholder}, passwords)
	require.True(t, exits[0].Valid)
	require.EqualValues(t, 0, exits[0].Int64)
	require.False(t, exits[1].Valid, "missing exit status must be stored as NULL")
}

func TestSaveResultsEmptyBatch(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveResults(context.Background(), nil))
}

func TestConfigLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, created, err := s.SaveConfig(ctx, "prod-fleet", []byte(`{"rows":[]}`))
	require.NoError(t, err)
	require.True(t, created)

	// Saving under the same name replaces the payload and keeps the id.
	id2, created, err := s.SaveConfig(ctx, "prod-fleet", []byte(`{"rows":[{"ip":"10.0.0.1"}]}`))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, id, id2)

	rec, err := s.GetConfig(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "prod-fleet", rec.Name)
	require.JSONEq(t, `{"rows":[{"ip":"10.0.0.1"}]}`, string(rec.Data))

	_, _, err = s.SaveConfig(ctx, "staging-fleet", []byte(`{}`))
	require.NoError(t, err)

	list, err := s.ListConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, s.DeleteConfig(ctx, id))
	_, err = s.GetConfig(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.DeleteConfig(ctx, id), ErrNotFound)
}

func TestGetConfigNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetConfig(context.Background(), 12345)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMigrateAddsExitStatusColumn(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	// Simulate a database created before exit_status existed.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
CREATE TABLE server_command_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ip TEXT,
	user TEXT DEFAULT 'root',
	password TEXT,
	port INTEGER DEFAULT 22,
	command TEXT,
	output TEXT,
	timestamp DATETIME
)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	has, err := s.hasColumn(ctx, "server_command_results", "exit_status")
	require.NoError(t, err)
	require.True(t, has)

	// The migrated table accepts writes with an exit status.
	exit := 7
	require.NoError(t, s.SaveResults(ctx, []model.CommandResult{
		{IP: "10.0.0.1", User: "root", Port: 22, Command: "exit 7", ExitStatus: &exit, Timestamp: time.Now().UTC()},
	}))
}
