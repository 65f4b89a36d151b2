package pipeline

import (
	"sync"
	"time"
)

// Level tells front ends how to render a status.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Status is one timestamped, user-facing progress line.
type Status struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
	Level   Level     `json:"level"`
}

// String renders the status the way the status log shows it.
func (s Status) String() string {
	return "[" + s.Time.Format("15:04:05") + "] " + s.Message
}

// Notifier receives statuses in the order the pipeline produces them.
type Notifier func(Status)

// StatusLog is an append-only, ordered status history.
type StatusLog struct {
	mu      sync.Mutex
	entries []Status
}

// NewStatusLog returns an empty log.
func NewStatusLog() *StatusLog {
	return &StatusLog{}
}

// Append is a Notifier.
func (l *StatusLog) Append(s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
}

// Entries returns a copy of the log in notification order.
func (l *StatusLog) Entries() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Status, len(l.entries))
	copy(out, l.entries)
	return out
}

// Lines returns the formatted log lines.
func (l *StatusLog) Lines() []string {
	entries := l.Entries()
	out := make([]string, len(entries))
	for i, s := range entries {
		out[i] = s.String()
	}
	return out
}

// fanOut delivers each status to every non-nil notifier in order.
func fanOut(notifiers ...Notifier) Notifier {
	return func(s Status) {
		for _, n := range notifiers {
			if n != nil {
				n(s)
			}
		}
	}
}
