package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend persists every client's storage to one JSON file.
type FileBackend struct {
	path string

	mu      sync.RWMutex
	clients map[string]map[string]string
}

func NewFileBackend(path string) (*FileBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("client storage state file path is required")
	}

	b := &FileBackend{
		path:    path,
		clients: make(map[string]map[string]string),
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *FileBackend) Scope(clientID string) Store {
	return scoped{b: b, clientID: clientID}
}

func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) get(_ context.Context, clientID, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.clients[clientID][key]
	return v, ok, nil
}

func (b *FileBackend) set(_ context.Context, clientID, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	kv, ok := b.clients[clientID]
	if !ok {
		kv = make(map[string]string)
		b.clients[clientID] = kv
	}
	prev, had := kv[key]
	kv[key] = value
	if err := b.persistLocked(); err != nil {
		if had {
			kv[key] = prev
		} else {
			delete(kv, key)
		}
		return err
	}
	return nil
}

func (b *FileBackend) remove(_ context.Context, clientID string, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	kv, ok := b.clients[clientID]
	if !ok {
		return nil
	}
	dirty := false
	for _, k := range keys {
		if _, ok := kv[k]; ok {
			delete(kv, k)
			dirty = true
		}
	}
	if len(kv) == 0 {
		delete(b.clients, clientID)
	}
	if !dirty {
		return nil
	}
	return b.persistLocked()
}

func (b *FileBackend) all(_ context.Context, clientID string) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.clients[clientID]))
	for k, v := range b.clients[clientID] {
		out[k] = v
	}
	return out, nil
}

func (b *FileBackend) load() error {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read client storage file: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	decoded := make(map[string]map[string]string)
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode client storage file: %w", err)
	}
	for id, kv := range decoded {
		if strings.TrimSpace(id) == "" || len(kv) == 0 {
			continue
		}
		b.clients[id] = kv
	}
	return nil
}

func (b *FileBackend) persistLocked() error {
	raw, err := json.MarshalIndent(b.clients, "", "  ")
	if err != nil {
		return fmt.Errorf("encode client storage file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("mkdir client storage dir: %w", err)
	}
	if err := os.WriteFile(b.path, raw, 0o644); err != nil {
		return fmt.Errorf("write client storage file: %w", err)
	}
	return nil
}
