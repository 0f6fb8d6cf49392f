// Package audit records security-relevant actions as JSON lines and mirrors
// them into the audit_logs collection.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"campushub/portalgate/internal/docstore"
)

const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeFailure = "failure"
)

type Event struct {
	At       string `json:"at"`
	Actor    string `json:"actor"`
	Action   string `json:"action"`
	Target   string `json:"target,omitempty"`
	Outcome  string `json:"outcome"`
	Detail   string `json:"detail,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// Entry is a mirrored event with its document id.
type Entry struct {
	ID string `json:"id"`
	Event
}

// ErrNoStore is returned by reads when the logger has no document store.
var ErrNoStore = errors.New("audit log store not configured")

type Logger struct {
	path    string
	docs    docstore.Store
	log     *zap.Logger
	nowFunc func() time.Time

	mu sync.Mutex
}

// NewLogger writes to path when set and to docs when non-nil. Either may be
// empty.
func NewLogger(path string, docs docstore.Store, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{path: path, docs: docs, log: log, nowFunc: time.Now}
}

// Log appends e to the file and mirrors it into the document store. Only
// file errors are returned; a failed mirror is logged.
func (l *Logger) Log(ctx context.Context, e Event) error {
	if l == nil {
		return nil
	}
	if e.At == "" {
		e.At = l.nowFunc().UTC().Format(time.RFC3339)
	}

	if err := l.appendLine(e); err != nil {
		return err
	}
	if l.docs != nil {
		if _, err := l.docs.Add(ctx, docstore.CollectionAuditLogs, docstore.Document{
			"at":        e.At,
			"actor":     e.Actor,
			"action":    e.Action,
			"target":    e.Target,
			"outcome":   e.Outcome,
			"detail":    e.Detail,
			"client_id": e.ClientID,
		}); err != nil {
			l.log.Warn("audit mirror failed", zap.String("action", e.Action), zap.Error(err))
		}
	}
	return nil
}

func (l *Logger) appendLine(e Event) error {
	if l.path == "" {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("mkdir audit log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write audit log entry: %w", err)
	}
	return nil
}

// Recent returns up to limit mirrored events, newest first. Events written in
// the same second have no defined order.
func (l *Logger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if l == nil || l.docs == nil {
		return nil, ErrNoStore
	}
	snaps, err := l.docs.Query(ctx, docstore.CollectionAuditLogs, docstore.Query{Limit: limit}.Ordered("at", true))
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	out := make([]Entry, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, Entry{ID: s.ID, Event: eventFromDocument(s.Data)})
	}
	return out, nil
}

// Delete removes one mirrored event. The JSON-lines file is append-only and
// keeps it.
func (l *Logger) Delete(ctx context.Context, id string) error {
	if l == nil || l.docs == nil {
		return ErrNoStore
	}
	return l.docs.Delete(ctx, docstore.CollectionAuditLogs, id)
}

func eventFromDocument(d docstore.Document) Event {
	str := func(k string) string {
		v, _ := d[k].(string)
		return v
	}
	return Event{
		At:       str("at"),
		Actor:    str("actor"),
		Action:   str("action"),
		Target:   str("target"),
		Outcome:  str("outcome"),
		Detail:   str("detail"),
		ClientID: str("client_id"),
	}
}
