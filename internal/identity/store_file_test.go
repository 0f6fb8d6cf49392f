package identity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestFileAccountStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accounts.json")
	store, err := NewFileAccountStore(path)
	if err != nil {
		t.Fatalf("NewFileAccountStore() error: %v", err)
	}

	acc := Account{UID: "u-1", Email: "ana@campus.edu", PasswordHash: "h", CreatedAt: time.Now().UTC()}
	if err := store.Create(ctx, acc); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.Create(ctx, Account{UID: "u-2", Email: "ana@campus.edu", PasswordHash: "h"}); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}

	acc.EmailVerified = true
	if err := store.Update(ctx, acc); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	store2, err := NewFileAccountStore(path)
	if err != nil {
		t.Fatalf("NewFileAccountStore() second error: %v", err)
	}
	got, err := store2.GetByEmail(ctx, "ANA@campus.edu")
	if err != nil {
		t.Fatalf("GetByEmail() error: %v", err)
	}
	if got.UID != "u-1" || !got.EmailVerified {
		t.Fatalf("unexpected account after reload: %+v", got)
	}
	if _, err := store2.GetByUID(ctx, "missing"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if err := store2.Update(ctx, Account{UID: "missing"}); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound on update, got %v", err)
	}
}

func TestNewFileAccountStoreRequiresPath(t *testing.T) {
	if _, err := NewFileAccountStore("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
