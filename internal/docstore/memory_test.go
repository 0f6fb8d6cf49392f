package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStoreGetSetMerge(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, CollectionUsers, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	created := time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)
	if err := s.Set(ctx, CollectionUsers, "u1", Document{"role": "student", "email": "a@x.com", "created_at": created}, false); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Set(ctx, CollectionUsers, "u1", Document{"role": "admin"}, true); err != nil {
		t.Fatalf("merge Set() error: %v", err)
	}

	d, err := s.Get(ctx, CollectionUsers, "u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if d["role"] != "admin" || d["email"] != "a@x.com" {
		t.Fatalf("unexpected merged document: %+v", d)
	}
	if d["created_at"] != "2026-02-16T12:00:00Z" {
		t.Fatalf("expected RFC 3339 timestamp, got %v", d["created_at"])
	}

	if err := s.Set(ctx, CollectionUsers, "u1", Document{"role": "student"}, false); err != nil {
		t.Fatalf("overwrite Set() error: %v", err)
	}
	d, _ = s.Get(ctx, CollectionUsers, "u1")
	if _, ok := d["email"]; ok {
		t.Fatalf("overwrite should drop fields, got %+v", d)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, CollectionUsers, "u1", Document{"role": "student"}, false)

	d, _ := s.Get(ctx, CollectionUsers, "u1")
	d["role"] = "admin"

	again, _ := s.Get(ctx, CollectionUsers, "u1")
	if again["role"] != "student" {
		t.Fatalf("mutating a returned document leaked into the store")
	}
}

func TestMemoryStoreQuery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	docs := map[string]Document{
		"a": {"university_id": "uni-1", "role": "admin", "created_at": "2026-01-01T00:00:00Z"},
		"b": {"university_id": "uni-1", "role": "student", "created_at": "2026-01-03T00:00:00Z"},
		"c": {"university_id": "uni-1", "role": "admin", "created_at": "2026-01-02T00:00:00Z"},
		"d": {"university_id": "uni-2", "role": "admin", "created_at": "2026-01-04T00:00:00Z"},
	}
	for id, d := range docs {
		if err := s.Set(ctx, CollectionUsers, id, d, false); err != nil {
			t.Fatalf("Set(%s) error: %v", id, err)
		}
	}

	got, err := s.Query(ctx, CollectionUsers, Where("university_id", "uni-1").And("role", "admin").Ordered("created_at", true))
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("unexpected query result: %+v", got)
	}

	limited, err := s.Query(ctx, CollectionUsers, Query{Limit: 3})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(limited) != 3 || limited[0].ID != "a" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

func TestMemoryStoreNumericFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, "loans", "l1", Document{"amount": 500}, false)
	_ = s.Set(ctx, "loans", "l2", Document{"amount": 750}, false)

	got, err := s.Query(ctx, "loans", Where("amount", 500))
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "l1" {
		t.Fatalf("int filter should match stored JSON number, got %+v", got)
	}
}

func TestMemoryStoreRejectsInvalidKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Set(ctx, "", "id", Document{}, false); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty collection, got %v", err)
	}
	if err := s.Set(ctx, CollectionUsers, "a/b", Document{}, false); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for slash id, got %v", err)
	}
}

func TestFileStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.json")
	ctx := context.Background()

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	id, err := s.Add(ctx, CollectionAuditLogs, Document{"type": "auth.login"})
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	d, err := reopened.Get(ctx, CollectionAuditLogs, id)
	if err != nil {
		t.Fatalf("Get() after reopen error: %v", err)
	}
	if d["type"] != "auth.login" {
		t.Fatalf("unexpected persisted document: %+v", d)
	}
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	ctx := context.Background()

	id, err := s.Add(ctx, CollectionAuditLogs, Document{"action": "auth.login"})
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := s.Delete(ctx, CollectionAuditLogs, id); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := s.Delete(ctx, CollectionAuditLogs, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if _, err := reopened.Get(ctx, CollectionAuditLogs, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted document to stay deleted, got %v", err)
	}
}
