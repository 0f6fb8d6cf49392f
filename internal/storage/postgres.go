package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresBackend stores client storage rows in the client_storage table.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(db *sql.DB) (*PostgresBackend, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	b := &PostgresBackend{db: db}
	if err := b.ensureSchema(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS client_storage (
	client_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (client_id, key)
)`
	if _, err := b.db.Exec(q); err != nil {
		return fmt.Errorf("ensure client_storage schema: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Scope(clientID string) Store {
	return scoped{b: b, clientID: clientID}
}

// Close is a no-op: the *sql.DB belongs to the app.
func (b *PostgresBackend) Close() error { return nil }

func (b *PostgresBackend) get(ctx context.Context, clientID, key string) (string, bool, error) {
	const q = `SELECT value FROM client_storage WHERE client_id = $1 AND key = $2`
	var v string
	if err := b.db.QueryRowContext(ctx, q, clientID, key).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query client storage: %w", err)
	}
	return v, true, nil
}

func (b *PostgresBackend) set(ctx context.Context, clientID, key, value string) error {
	const q = `
INSERT INTO client_storage (client_id, key, value, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (client_id, key) DO UPDATE
SET value = EXCLUDED.value,
	updated_at = NOW()`
	if _, err := b.db.ExecContext(ctx, q, clientID, key, value); err != nil {
		return fmt.Errorf("upsert client storage: %w", err)
	}
	return nil
}

func (b *PostgresBackend) remove(ctx context.Context, clientID string, keys []string) error {
	const q = `DELETE FROM client_storage WHERE client_id = $1 AND key = ANY($2)`
	if _, err := b.db.ExecContext(ctx, q, clientID, pq.Array(keys)); err != nil {
		return fmt.Errorf("delete client storage: %w", err)
	}
	return nil
}

func (b *PostgresBackend) all(ctx context.Context, clientID string) (map[string]string, error) {
	const q = `SELECT key, value FROM client_storage WHERE client_id = $1`
	rows, err := b.db.QueryContext(ctx, q, clientID)
	if err != nil {
		return nil, fmt.Errorf("query client storage: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan client storage: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client storage: %w", err)
	}
	return out, nil
}
