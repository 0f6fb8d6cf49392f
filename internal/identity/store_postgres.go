package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

type PostgresAccountStore struct {
	db *sql.DB
}

func NewPostgresAccountStore(db *sql.DB) (*PostgresAccountStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresAccountStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresAccountStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS identity_accounts (
	uid TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	email_verified BOOLEAN NOT NULL DEFAULT FALSE,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure identity_accounts schema: %w", err)
	}
	return nil
}

const selectAccount = `SELECT uid, email, display_name, email_verified, password_hash, created_at FROM identity_accounts`

func (s *PostgresAccountStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Account{}, ErrAccountNotFound
	}
	return s.getOne(ctx, selectAccount+` WHERE email = $1`, email)
}

func (s *PostgresAccountStore) GetByUID(ctx context.Context, uid string) (Account, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return Account{}, ErrAccountNotFound
	}
	return s.getOne(ctx, selectAccount+` WHERE uid = $1`, uid)
}

func (s *PostgresAccountStore) getOne(ctx context.Context, q string, arg string) (Account, error) {
	var a Account
	err := s.db.QueryRowContext(ctx, q, arg).Scan(&a.UID, &a.Email, &a.DisplayName, &a.EmailVerified, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("query identity account: %w", err)
	}
	return a, nil
}

func (s *PostgresAccountStore) Create(ctx context.Context, acc Account) error {
	if acc.UID == "" || acc.Email == "" || acc.PasswordHash == "" {
		return fmt.Errorf("uid, email, and password hash are required")
	}
	const q = `
INSERT INTO identity_accounts (uid, email, display_name, email_verified, password_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.ExecContext(ctx, q, acc.UID, acc.Email, acc.DisplayName, acc.EmailVerified, acc.PasswordHash, acc.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrEmailInUse
		}
		return fmt.Errorf("insert identity account: %w", err)
	}
	return nil
}

func (s *PostgresAccountStore) Update(ctx context.Context, acc Account) error {
	const q = `
UPDATE identity_accounts
SET email = $2,
	display_name = $3,
	email_verified = $4,
	password_hash = $5,
	updated_at = NOW()
WHERE uid = $1`
	res, err := s.db.ExecContext(ctx, q, acc.UID, acc.Email, acc.DisplayName, acc.EmailVerified, acc.PasswordHash)
	if err != nil {
		return fmt.Errorf("update identity account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read update affected rows: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
