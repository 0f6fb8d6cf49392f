// Package storage holds per-client key/value state: the server-side stand-in
// for a browser origin's local storage. Every backend partitions its data by
// client id; a Store is one client's view.
package storage

import (
	"context"
	"errors"
)

// Keys written by the session and preference layers.
const (
	KeyAuthToken  = "authToken"
	KeyAuthUserID = "authUserId"
	KeyIsAdmin    = "isAdmin"
	KeyDarkTheme  = "darkTheme"
)

var ErrInvalidKey = errors.New("invalid storage key")

// Store is one client's key/value storage.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes keys; missing keys are not an error.
	Remove(ctx context.Context, keys ...string) error
	All(ctx context.Context) (map[string]string, error)
}

// Backend owns the shared resources behind client stores.
type Backend interface {
	Scope(clientID string) Store
	Close() error
}

type scoped struct {
	b        scopedBackend
	clientID string
}

type scopedBackend interface {
	get(ctx context.Context, clientID, key string) (string, bool, error)
	set(ctx context.Context, clientID, key, value string) error
	remove(ctx context.Context, clientID string, keys []string) error
	all(ctx context.Context, clientID string) (map[string]string, error)
}

func (s scoped) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrInvalidKey
	}
	return s.b.get(ctx, s.clientID, key)
}

func (s scoped) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return s.b.set(ctx, s.clientID, key, value)
}

func (s scoped) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.b.remove(ctx, s.clientID, keys)
}

func (s scoped) All(ctx context.Context) (map[string]string, error) {
	return s.b.all(ctx, s.clientID)
}
