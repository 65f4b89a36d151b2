package pipeline

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Trigger admits at most one run at a time.
type Trigger struct {
	sem  *semaphore.Weighted
	busy atomic.Bool
}

// NewTrigger returns an idle trigger.
func NewTrigger() *Trigger {
	return &Trigger{sem: semaphore.NewWeighted(1)}
}

// TryAcquire claims the trigger without blocking.
func (t *Trigger) TryAcquire() bool {
	if !t.sem.TryAcquire(1) {
		return false
	}
	t.busy.Store(true)
	return true
}

// Release frees the trigger for the next run. Call it once per successful
// TryAcquire.
func (t *Trigger) Release() {
	t.busy.Store(false)
	t.sem.Release(1)
}

// Busy reports whether a run currently holds the trigger.
func (t *Trigger) Busy() bool {
	return t.busy.Load()
}
