package storage

import (
	"context"
	"strings"

	gocache "github.com/patrickmn/go-cache"
)

const keySep = "\x00"

// MemoryBackend keeps client storage in process. Entries never expire; the
// runtime registry decides when a client goes away.
type MemoryBackend struct {
	c *gocache.Cache
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{c: gocache.New(gocache.NoExpiration, 0)}
}

func (m *MemoryBackend) Scope(clientID string) Store {
	return scoped{b: m, clientID: clientID}
}

func (m *MemoryBackend) Close() error {
	m.c.Flush()
	return nil
}

func (m *MemoryBackend) get(_ context.Context, clientID, key string) (string, bool, error) {
	v, ok := m.c.Get(clientID + keySep + key)
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m *MemoryBackend) set(_ context.Context, clientID, key, value string) error {
	m.c.Set(clientID+keySep+key, value, gocache.NoExpiration)
	return nil
}

func (m *MemoryBackend) remove(_ context.Context, clientID string, keys []string) error {
	for _, k := range keys {
		m.c.Delete(clientID + keySep + k)
	}
	return nil
}

func (m *MemoryBackend) all(_ context.Context, clientID string) (map[string]string, error) {
	prefix := clientID + keySep
	out := make(map[string]string)
	for k, item := range m.c.Items() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if s, ok := item.Object.(string); ok {
			out[strings.TrimPrefix(k, prefix)] = s
		}
	}
	return out, nil
}
