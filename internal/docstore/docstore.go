// Package docstore is the document-database adapter: schema-less documents
// addressed by collection and id, with equality-filter queries.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Collections used by the portal.
const (
	CollectionUsers     = "users"
	CollectionAuditLogs = "audit_logs"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidInput = errors.New("invalid document input")
)

// Document maps field names to JSON-compatible values.
type Document map[string]any

type Snapshot struct {
	ID   string   `json:"id"`
	Data Document `json:"data"`
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

type Order struct {
	Field string
	Desc  bool
}

type Query struct {
	Filters []Filter
	OrderBy *Order
	// Limit <= 0 means no limit.
	Limit int
}

// Where is shorthand for an equality-only query.
func Where(field string, value any) Query {
	return Query{Filters: []Filter{{Field: field, Value: value}}}
}

func (q Query) And(field string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return q
}

func (q Query) Ordered(field string, desc bool) Query {
	q.OrderBy = &Order{Field: field, Desc: desc}
	return q
}

type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set writes doc under id. With merge, top-level fields of doc overwrite
	// the existing document's fields and the rest are kept.
	Set(ctx context.Context, collection, id string, doc Document, merge bool) error
	// Add stores doc under a generated id and returns it.
	Add(ctx context.Context, collection string, doc Document) (string, error)
	// Delete removes one document; ErrNotFound when it does not exist.
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q Query) ([]Snapshot, error)
	Close() error
}

func validateKey(collection, id string) error {
	if strings.TrimSpace(collection) == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidInput)
	}
	if strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: invalid document id", ErrInvalidInput)
	}
	return nil
}

// normalize round-trips doc through JSON so stored values are always JSON
// types (string, float64, bool, nil, []any, map[string]any). time.Time
// values become RFC 3339 strings.
func normalize(doc Document) (Document, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	out := make(Document)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return out, nil
}

func (d Document) clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
