package safety

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

// AuditRecorder records validation decisions.
type AuditRecorder interface {
	Record(event AuditEvent) error
}

// AuditEvent is one validation decision. The script itself is not kept,
// only its digest.
type AuditEvent struct {
	RunID    string    `json:"runId"`
	Time     time.Time `json:"time"`
	Digest   string    `json:"digest"`
	Accepted bool      `json:"accepted"`
	Reason   string    `json:"reason,omitempty"`
	Pattern  string    `json:"pattern,omitempty"`
}

// NewAuditEvent builds the event for a verdict on source.
func NewAuditEvent(runID, source string, v Verdict) AuditEvent {
	sum := sha256.Sum256([]byte(source))
	return AuditEvent{
		RunID:    runID,
		Time:     time.Now().UTC(),
		Digest:   hex.EncodeToString(sum[:]),
		Accepted: v.Accepted,
		Reason:   string(v.Reason),
		Pattern:  v.Pattern,
	}
}

// LogRecorder writes events to a structured logger.
type LogRecorder struct {
	Logger *slog.Logger
}

func (r LogRecorder) Record(e AuditEvent) error {
	if r.Logger == nil {
		return nil
	}
	r.Logger.Info("validation_audit",
		"run_id", e.RunID,
		"digest", e.Digest,
		"accepted", e.Accepted,
		"reason", e.Reason,
		"pattern", e.Pattern,
	)
	return nil
}

// MemoryRecorder keeps the most recent events.
type MemoryRecorder struct {
	mu     sync.Mutex
	limit  int
	events []AuditEvent
}

// NewMemoryRecorder keeps up to limit events; limit <= 0 means 100.
func NewMemoryRecorder(limit int) *MemoryRecorder {
	if limit <= 0 {
		limit = 100
	}
	return &MemoryRecorder{limit: limit}
}

func (r *MemoryRecorder) Record(e AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if over := len(r.events) - r.limit; over > 0 {
		r.events = append([]AuditEvent(nil), r.events[over:]...)
	}
	return nil
}

// Events returns a copy, oldest first.
func (r *MemoryRecorder) Events() []AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuditEvent(nil), r.events...)
}

// MultiRecorder fans an event out to every recorder and returns the first error.
type MultiRecorder []AuditRecorder

func (m MultiRecorder) Record(e AuditEvent) error {
	var first error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
