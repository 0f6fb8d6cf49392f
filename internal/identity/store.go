package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrEmailInUse      = errors.New("email already in use")
)

type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByUID(ctx context.Context, uid string) (Account, error)
	// Create fails with ErrEmailInUse when the email is taken.
	Create(ctx context.Context, acc Account) error
	// Update replaces an existing account; ErrAccountNotFound otherwise.
	Update(ctx context.Context, acc Account) error
}

type InMemoryAccountStore struct {
	mu    sync.RWMutex
	byUID map[string]Account
}

func NewInMemoryAccountStore() *InMemoryAccountStore {
	return &InMemoryAccountStore{byUID: make(map[string]Account)}
}

func (s *InMemoryAccountStore) GetByEmail(_ context.Context, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByEmail(s.byUID, email)
}

func (s *InMemoryAccountStore) GetByUID(_ context.Context, uid string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byUID[uid]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *InMemoryAccountStore) Create(_ context.Context, acc Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := findByEmail(s.byUID, acc.Email); err == nil {
		return ErrEmailInUse
	}
	s.byUID[acc.UID] = acc
	return nil
}

func (s *InMemoryAccountStore) Update(_ context.Context, acc Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUID[acc.UID]; !ok {
		return ErrAccountNotFound
	}
	s.byUID[acc.UID] = acc
	return nil
}

func findByEmail(accounts map[string]Account, email string) (Account, error) {
	email = normalizeEmail(email)
	for _, a := range accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
