package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"campushub/portalgate/internal/preferences"
	"campushub/portalgate/internal/storage"
)

func TestRedisClientStorageKeepsPreferences(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping Redis integration tests")
	}
	ctx := context.Background()

	backend, err := storage.NewRedisBackend(storage.RedisConfig{
		Addr:   addr,
		Prefix: fmt.Sprintf("itest-%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("NewRedisBackend() error: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	kv := backend.Scope("client-1")
	t.Cleanup(func() { _ = kv.Remove(ctx, preferences.Keys...) })

	if _, err := preferences.Save(ctx, kv, preferences.Preferences{storage.KeyDarkTheme: true}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := kv.Remove(ctx, storage.KeyAuthToken, storage.KeyAuthUserID); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	prefs, err := preferences.Load(ctx, kv)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !prefs[storage.KeyDarkTheme] {
		t.Fatalf("expected dark theme to survive session key removal, got %v", prefs)
	}
	if err := backend.Ping(ctx); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}
