package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in process and, when stateFile is set, mirrors
// them to a JSON file after every write.
type MemoryStore struct {
	stateFile string

	mu   sync.RWMutex
	docs map[string]map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]Document)}
}

func NewFileStore(stateFile string) (*MemoryStore, error) {
	s := &MemoryStore{
		stateFile: strings.TrimSpace(stateFile),
		docs:      make(map[string]map[string]Document),
	}
	if s.stateFile == "" {
		return nil, fmt.Errorf("state file path is required")
	}
	if err := s.loadState(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.clone(), nil
}

func (s *MemoryStore) Set(_ context.Context, collection, id string, doc Document, merge bool) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	normalized, err := normalize(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]Document)
		s.docs[collection] = coll
	}
	prev, existed := coll[id]
	next := normalized
	if merge && existed {
		next = prev.clone()
		for k, v := range normalized {
			next[k] = v
		}
	}
	coll[id] = next
	if err := s.persistLocked(); err != nil {
		if existed {
			coll[id] = prev
		} else {
			delete(coll, id)
		}
		return err
	}
	return nil
}

func (s *MemoryStore) Add(ctx context.Context, collection string, doc Document) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, doc, false); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.docs[collection]
	prev, ok := coll[id]
	if !ok {
		return ErrNotFound
	}
	delete(coll, id)
	if err := s.persistLocked(); err != nil {
		coll[id] = prev
		return err
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, q Query) ([]Snapshot, error) {
	filters := make([]Filter, 0, len(q.Filters))
	for _, f := range q.Filters {
		v, err := normalizeValue(f.Value)
		if err != nil {
			return nil, err
		}
		filters = append(filters, Filter{Field: f.Field, Value: v})
	}

	s.mu.RLock()
	out := make([]Snapshot, 0)
	for id, d := range s.docs[collection] {
		if matches(d, filters) {
			out = append(out, Snapshot{ID: id, Data: d.clone()})
		}
	}
	s.mu.RUnlock()

	if q.OrderBy != nil {
		field, desc := q.OrderBy.Field, q.OrderBy.Desc
		sort.SliceStable(out, func(i, j int) bool {
			if desc {
				return less(out[j].Data[field], out[i].Data[field])
			}
			return less(out[i].Data[field], out[j].Data[field])
		})
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func matches(d Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := d[f.Field]
		if !ok {
			return false
		}
		switch want := f.Value.(type) {
		case string, float64, bool, nil:
			if v != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// less orders missing values first, then numbers, then strings.
func less(a, b any) bool {
	rank := func(v any) int {
		switch v.(type) {
		case nil:
			return 0
		case bool:
			return 1
		case float64:
			return 2
		case string:
			return 3
		default:
			return 4
		}
	}
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra < rb
	}
	switch av := a.(type) {
	case bool:
		return !av && b.(bool)
	case float64:
		return av < b.(float64)
	case string:
		return av < b.(string)
	}
	return false
}

func (s *MemoryStore) loadState() error {
	b, err := os.ReadFile(s.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read document state: %w", err)
	}
	if len(b) == 0 {
		return nil
	}
	decoded := make(map[string]map[string]Document)
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("decode document state: %w", err)
	}
	for coll, docs := range decoded {
		if coll == "" {
			continue
		}
		s.docs[coll] = docs
	}
	return nil
}

func (s *MemoryStore) persistLocked() error {
	if s.stateFile == "" {
		return nil
	}
	b, err := json.MarshalIndent(s.docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.stateFile), 0o755); err != nil {
		return fmt.Errorf("mkdir document state dir: %w", err)
	}
	if err := os.WriteFile(s.stateFile, b, 0o644); err != nil {
		return fmt.Errorf("write document state: %w", err)
	}
	return nil
}
