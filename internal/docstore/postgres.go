package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// pgxPool is the part of *pgxpool.Pool the store uses.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore keeps documents as JSONB rows keyed by (collection, id).
type PostgresStore struct {
	pool pgxPool
}

// NewPostgresStore connects to databaseURL and creates the documents table.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse docstore url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect docstore: %w", err)
	}

	s := newPostgresStore(pool)
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStore(pool pgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		);`,
		`CREATE INDEX IF NOT EXISTS documents_data_gin_idx ON documents USING GIN (data jsonb_path_ops);`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply docstore migrations: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	const q = `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	var raw []byte
	if err := s.pool.QueryRow(ctx, q, collection, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	out := make(Document)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, doc Document, merge bool) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	q := `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data, updated_at = NOW()`
	if merge {
		q = `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = documents.data || EXCLUDED.data, updated_at = NOW()`
	}
	if _, err := s.pool.Exec(ctx, q, collection, id, string(raw)); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

func (s *PostgresStore) Add(ctx context.Context, collection string, doc Document) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, doc, false); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Query matches filters with JSONB containment. Ordering compares the
// field's text form.
func (s *PostgresStore) Query(ctx context.Context, collection string, q Query) ([]Snapshot, error) {
	contains := make(map[string]any, len(q.Filters))
	for _, f := range q.Filters {
		if !fieldName.MatchString(f.Field) {
			return nil, fmt.Errorf("%w: invalid filter field %q", ErrInvalidInput, f.Field)
		}
		contains[f.Field] = f.Value
	}
	filterJSON, err := json.Marshal(contains)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	sql := `SELECT id, data FROM documents WHERE collection = $1 AND data @> $2::jsonb`
	args := []any{collection, string(filterJSON)}
	if q.OrderBy != nil {
		if !fieldName.MatchString(q.OrderBy.Field) {
			return nil, fmt.Errorf("%w: invalid order field %q", ErrInvalidInput, q.OrderBy.Field)
		}
		dir := "ASC"
		if q.OrderBy.Desc {
			dir = "DESC"
		}
		args = append(args, q.OrderBy.Field)
		sql += fmt.Sprintf(" ORDER BY data->>$%d %s NULLS FIRST", len(args), dir)
	} else {
		sql += " ORDER BY id ASC"
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	out := make([]Snapshot, 0)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d := make(Document)
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, Snapshot{ID: id, Data: d})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}
