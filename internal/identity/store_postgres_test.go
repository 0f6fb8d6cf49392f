package identity

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMockAccountStore(t *testing.T) (*PostgresAccountStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS identity_accounts").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewPostgresAccountStore(db)
	if err != nil {
		t.Fatalf("NewPostgresAccountStore() error: %v", err)
	}
	return store, mock
}

func TestPostgresAccountStoreGetByEmail(t *testing.T) {
	store, mock := newMockAccountStore(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("SELECT uid, email, display_name, email_verified, password_hash, created_at FROM identity_accounts WHERE email = \\$1").
		WithArgs("ana@campus.edu").
		WillReturnRows(sqlmock.NewRows([]string{"uid", "email", "display_name", "email_verified", "password_hash", "created_at"}).
			AddRow("u-1", "ana@campus.edu", "Ana", true, "hash", created))

	got, err := store.GetByEmail(context.Background(), " Ana@Campus.edu ")
	if err != nil {
		t.Fatalf("GetByEmail() error: %v", err)
	}
	if got.UID != "u-1" || got.DisplayName != "Ana" || !got.EmailVerified || !got.CreatedAt.Equal(created) {
		t.Fatalf("unexpected account: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresAccountStoreGetByUIDNotFound(t *testing.T) {
	store, mock := newMockAccountStore(t)

	mock.ExpectQuery("FROM identity_accounts WHERE uid = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetByUID(context.Background(), "missing"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresAccountStoreCreateDuplicate(t *testing.T) {
	store, mock := newMockAccountStore(t)
	acc := Account{UID: "u-1", Email: "ana@campus.edu", PasswordHash: "hash", CreatedAt: time.Now().UTC()}

	mock.ExpectExec("INSERT INTO identity_accounts").
		WithArgs("u-1", "ana@campus.edu", "", false, "hash", acc.CreatedAt).
		WillReturnError(&pq.Error{Code: "23505"})

	if err := store.Create(context.Background(), acc); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresAccountStoreUpdate(t *testing.T) {
	store, mock := newMockAccountStore(t)
	acc := Account{UID: "u-1", Email: "ana@campus.edu", DisplayName: "Ana", EmailVerified: true, PasswordHash: "hash2"}

	mock.ExpectExec("UPDATE identity_accounts").
		WithArgs("u-1", "ana@campus.edu", "Ana", true, "hash2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Update(context.Background(), acc); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	mock.ExpectExec("UPDATE identity_accounts").
		WithArgs("u-2", "", "", false, "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Update(context.Background(), Account{UID: "u-2"}); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
