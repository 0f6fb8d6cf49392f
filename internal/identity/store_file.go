package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type FileAccountStore struct {
	path string

	mu    sync.RWMutex
	byUID map[string]Account
}

func NewFileAccountStore(path string) (*FileAccountStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("account state file path is required")
	}

	s := &FileAccountStore{
		path:  path,
		byUID: make(map[string]Account),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileAccountStore) GetByEmail(_ context.Context, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByEmail(s.byUID, email)
}

func (s *FileAccountStore) GetByUID(_ context.Context, uid string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byUID[uid]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *FileAccountStore) Create(_ context.Context, acc Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := findByEmail(s.byUID, acc.Email); err == nil {
		return ErrEmailInUse
	}
	s.byUID[acc.UID] = acc
	if err := s.persistLocked(); err != nil {
		delete(s.byUID, acc.UID)
		return err
	}
	return nil
}

func (s *FileAccountStore) Update(_ context.Context, acc Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.byUID[acc.UID]
	if !ok {
		return ErrAccountNotFound
	}
	s.byUID[acc.UID] = acc
	if err := s.persistLocked(); err != nil {
		s.byUID[acc.UID] = prev
		return err
	}
	return nil
}

func (s *FileAccountStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read account store file: %w", err)
	}
	if len(b) == 0 {
		return nil
	}

	var decoded []Account
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("decode account store file: %w", err)
	}
	for _, a := range decoded {
		if strings.TrimSpace(a.UID) == "" || strings.TrimSpace(a.Email) == "" {
			continue
		}
		s.byUID[a.UID] = a
	}
	return nil
}

func (s *FileAccountStore) persistLocked() error {
	out := make([]Account, 0, len(s.byUID))
	for _, a := range s.byUID {
		out = append(out, a)
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode account store file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir account store dir: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write account store file: %w", err)
	}
	return nil
}
