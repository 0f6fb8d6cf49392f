package storage

import (
	"os"
	"testing"

	"github.com/google/uuid"
)

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping Redis tests")
	}

	b, err := NewRedisBackend(RedisConfig{Addr: addr, Prefix: "itest-" + uuid.NewString()})
	if err != nil {
		t.Fatalf("NewRedisBackend() error: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	exerciseStore(t, b)
}
