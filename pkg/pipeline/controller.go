package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sameehj/gencad/pkg/logging"
	"github.com/sameehj/gencad/pkg/metrics"
)

var (
	// ErrBusy is returned when a run is already in flight.
	ErrBusy = errors.New("a generation run is already in progress")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("generation is shutting down")
)

// UI is the front end driving the controller. OnStatus is called from the
// worker goroutine; SetTriggerEnabled is called exactly twice per accepted run.
type UI interface {
	UserPrompt() string
	OnStatus(Status)
	SetTriggerEnabled(enabled bool)
}

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, userPrompt string, notify Notifier) (*Result, error)
}

// Controller admits at most one run at a time and keeps the UI trigger in
// step with it.
type Controller struct {
	runner  Runner
	ui      UI
	trigger *Trigger
	logger  *slog.Logger

	// uiMu orders trigger transitions with the UI enable/disable calls.
	uiMu   sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewController wires runner to ui. ui may be nil for headless callers.
func NewController(runner Runner, ui UI) *Controller {
	return &Controller{runner: runner, ui: ui, trigger: NewTrigger(), logger: logging.Nop()}
}

// SetLogger replaces the no-op logger.
func (c *Controller) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Busy reports whether a run is in flight.
func (c *Controller) Busy() bool {
	return c.trigger.Busy()
}

// Submit reads the prompt from the UI and runs the pipeline on a worker
// goroutine. It returns false without side effects when a run is in flight
// or the controller is closed.
func (c *Controller) Submit(ctx context.Context) bool {
	if err := c.acquire(); err != nil {
		return false
	}
	userPrompt := ""
	if c.ui != nil {
		userPrompt = c.ui.UserPrompt()
	}
	go func() {
		defer c.release()
		_, _ = c.runner.Run(ctx, userPrompt, c.uiNotifier())
	}()
	return true
}

// Run executes a run synchronously, delivering statuses to sink and the UI.
func (c *Controller) Run(ctx context.Context, userPrompt string, sink Notifier) (*Result, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()
	return c.runner.Run(ctx, userPrompt, fanOut(c.uiNotifier(), sink))
}

// Wait blocks until every accepted run has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close refuses new runs and waits for the one in flight, if any.
func (c *Controller) Close() {
	c.uiMu.Lock()
	c.closed = true
	c.uiMu.Unlock()
	c.wg.Wait()
}

func (c *Controller) acquire() error {
	c.uiMu.Lock()
	defer c.uiMu.Unlock()
	if c.closed {
		c.logger.Debug("run_rejected_closed")
		return ErrClosed
	}
	if !c.trigger.TryAcquire() {
		metrics.RunsRejected.Inc()
		c.logger.Debug("run_rejected_busy")
		return ErrBusy
	}
	c.wg.Add(1)
	if c.ui != nil {
		c.ui.SetTriggerEnabled(false)
	}
	return nil
}

func (c *Controller) release() {
	defer c.wg.Done()
	c.uiMu.Lock()
	defer c.uiMu.Unlock()
	c.trigger.Release()
	if c.ui != nil {
		c.ui.SetTriggerEnabled(true)
	}
}

func (c *Controller) uiNotifier() Notifier {
	if c.ui == nil {
		return nil
	}
	return c.ui.OnStatus
}
