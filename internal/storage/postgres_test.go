package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestNewPostgresBackend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS client_storage").WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := NewPostgresBackend(db); err != nil {
		t.Fatalf("NewPostgresBackend() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresBackendRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS client_storage").WillReturnResult(sqlmock.NewResult(0, 0))
	b, err := NewPostgresBackend(db)
	if err != nil {
		t.Fatalf("NewPostgresBackend() error: %v", err)
	}
	ctx := context.Background()
	s := b.Scope("c1")

	mock.ExpectExec("INSERT INTO client_storage").
		WithArgs("c1", KeyAuthToken, "tok-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := s.Set(ctx, KeyAuthToken, "tok-1"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	mock.ExpectQuery("SELECT value FROM client_storage").
		WithArgs("c1", KeyAuthToken).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("tok-1"))
	v, ok, err := s.Get(ctx, KeyAuthToken)
	if err != nil || !ok || v != "tok-1" {
		t.Fatalf("Get() = %q, %v, %v", v, ok, err)
	}

	mock.ExpectQuery("SELECT value FROM client_storage").
		WithArgs("c1", KeyAuthUserID).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	if _, ok, err := s.Get(ctx, KeyAuthUserID); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	mock.ExpectExec("DELETE FROM client_storage").
		WithArgs("c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.Remove(ctx, KeyAuthToken, KeyAuthUserID); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	mock.ExpectQuery("SELECT key, value FROM client_storage").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).AddRow(KeyDarkTheme, "true"))
	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All() error: %v", err)
	}
	if all[KeyDarkTheme] != "true" {
		t.Fatalf("unexpected All() result: %+v", all)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
