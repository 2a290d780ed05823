package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starford/codex/internal/apperr"
)

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS codex_records (
    scope      TEXT        NOT NULL,
    id         TEXT        NOT NULL,
    data       BYTEA       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (scope, id)
);
`

// Postgres implements Backend with a single row per (scope, id).
type Postgres struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the records table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: apply postgres schema: %w", err)
	}
	return &Postgres{db: pool}, nil
}

// Load implements Backend.
func (p *Postgres) Load(ctx context.Context, scope, id string) ([]byte, error) {
	var data []byte
	err := p.db.QueryRow(ctx,
		`SELECT data FROM codex_records WHERE scope = $1 AND id = $2`, scope, id,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: %s/%s: %w", scope, id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: load %s/%s: %w", scope, id, err)
	}
	return data, nil
}

// Store implements Backend.
func (p *Postgres) Store(ctx context.Context, scope, id string, data []byte) error {
	if err := checkKey(scope, id); err != nil {
		return err
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO codex_records (scope, id, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (scope, id) DO UPDATE SET
			data       = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`, scope, id, data)
	if err != nil {
		return fmt.Errorf("storage: store %s/%s: %w", scope, id, err)
	}
	return nil
}

// Delete implements Backend.
func (p *Postgres) Delete(ctx context.Context, scope, id string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM codex_records WHERE scope = $1 AND id = $2`, scope, id); err != nil {
		return fmt.Errorf("storage: delete %s/%s: %w", scope, id, err)
	}
	return nil
}

// List implements Backend.
func (p *Postgres) List(ctx context.Context, scope string) ([]string, error) {
	rows, err := p.db.Query(ctx, `SELECT id FROM codex_records WHERE scope = $1 ORDER BY id`, scope)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", scope, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", scope, err)
	}
	return ids, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}
