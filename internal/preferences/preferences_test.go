package preferences

import (
	"context"
	"errors"
	"testing"

	"campushub/portalgate/internal/storage"
)

func TestLoadDefaultsToFalse(t *testing.T) {
	kv := storage.NewMemoryBackend().Scope("c-1")
	prefs, err := Load(context.Background(), kv)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	for _, k := range Keys {
		v, ok := prefs[k]
		if !ok || v {
			t.Fatalf("expected %s=false, got %v (present=%v)", k, v, ok)
		}
	}
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryBackend().Scope("c-1")

	prefs, err := Save(ctx, kv, Preferences{storage.KeyDarkTheme: true})
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !prefs[storage.KeyDarkTheme] || prefs[KeyPushNotifications] {
		t.Fatalf("unexpected preferences: %v", prefs)
	}
	raw, _, err := kv.Get(ctx, storage.KeyDarkTheme)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if raw != "true" {
		t.Fatalf("expected stored \"true\", got %q", raw)
	}

	if _, err := Save(ctx, kv, Preferences{"authToken": true}); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "authToken"); ok {
		t.Fatalf("unknown key must not be written")
	}
}
