package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/codex/internal/apperr"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	scope      TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (scope, id)
);
`

// SQLite implements Backend with a single row per (scope, id).
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database file and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	if _, err := conn.Exec(sqliteSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: apply sqlite schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Load implements Backend.
func (s *SQLite) Load(ctx context.Context, scope, id string) ([]byte, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx,
		`SELECT data FROM records WHERE scope = ? AND id = ?`, scope, id,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("storage: %s/%s: %w", scope, id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: load %s/%s: %w", scope, id, err)
	}
	return data, nil
}

// Store implements Backend.
func (s *SQLite) Store(ctx context.Context, scope, id string, data []byte) error {
	if err := checkKey(scope, id); err != nil {
		return err
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO records (scope, id, data, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(scope, id) DO UPDATE SET
			data       = excluded.data,
			updated_at = excluded.updated_at
	`, scope, id, data)
	if err != nil {
		return fmt.Errorf("storage: store %s/%s: %w", scope, id, err)
	}
	return nil
}

// Delete implements Backend.
func (s *SQLite) Delete(ctx context.Context, scope, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM records WHERE scope = ? AND id = ?`, scope, id); err != nil {
		return fmt.Errorf("storage: delete %s/%s: %w", scope, id, err)
	}
	return nil
}

// List implements Backend.
func (s *SQLite) List(ctx context.Context, scope string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id FROM records WHERE scope = ? ORDER BY id`, scope)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", scope, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}
