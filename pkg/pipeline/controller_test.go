package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sameehj/gencad/pkg/errinfo"
	"github.com/sameehj/gencad/pkg/genai"
	"github.com/sameehj/gencad/pkg/prompt"
)

type fakeUI struct {
	prompt string

	mu       sync.Mutex
	statuses []Status
	enabled  []bool
}

func (u *fakeUI) UserPrompt() string { return u.prompt }

func (u *fakeUI) OnStatus(s Status) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statuses = append(u.statuses, s)
}

func (u *fakeUI) SetTriggerEnabled(enabled bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.enabled = append(u.enabled, enabled)
}

func (u *fakeUI) snapshot() ([]Status, []bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Status(nil), u.statuses...), append([]bool(nil), u.enabled...)
}

// blockingClient holds Generate until release is closed.
type blockingClient struct {
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newBlockingClient() *blockingClient {
	return &blockingClient{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingClient) Name() string { return "mock" }

func (b *blockingClient) Generate(ctx context.Context, req prompt.Request) (*genai.Response, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return genai.TextResponse(cubeScript), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func assertToggledOnce(t *testing.T, enabled []bool) {
	t.Helper()
	if len(enabled) != 2 || enabled[0] || !enabled[1] {
		t.Fatalf("expected trigger disabled then enabled once, got %v", enabled)
	}
}

func TestSubmitRejectsSecondTriggerWhileBusy(t *testing.T) {
	client := newBlockingClient()
	p, _ := newTestPipeline(t, client, &fakeEngine{})
	ui := &fakeUI{prompt: "50mm cube"}
	c := NewController(p, ui)
	ctx := context.Background()

	if !c.Submit(ctx) {
		t.Fatalf("first submit refused")
	}
	select {
	case <-client.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("run never reached the service")
	}
	if !c.Busy() {
		t.Fatalf("expected controller busy")
	}
	if c.Submit(ctx) {
		t.Fatalf("second submit accepted while busy")
	}
	if _, err := c.Run(ctx, "another", nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(client.release)
	c.Wait()

	if c.Busy() {
		t.Fatalf("expected controller idle")
	}
	client.mu.Lock()
	calls := client.calls
	client.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one service call, got %d", calls)
	}
	_, enabled := ui.snapshot()
	assertToggledOnce(t, enabled)

	if !c.Submit(ctx) {
		t.Fatalf("submit refused after the run finished")
	}
	c.Wait()
}

func TestTriggerReenabledAfterEveryFailure(t *testing.T) {
	dangerous := "```python\nimport FreeCAD\nimport Part\nimport os\ndoc = FreeCAD.newDocument()\ndoc.recompute()\n```"
	failing := genai.NewMockClient("")
	failing.Err = errinfo.New(errinfo.KindTransportFailure, "error connecting to Gemini API")

	cases := []struct {
		name   string
		prompt string
		client genai.Client
		engine *fakeEngine
		kind   errinfo.Kind
	}{
		{"empty prompt", "  ", genai.NewMockClient(cubeScript), &fakeEngine{}, errinfo.KindEmptyPrompt},
		{"transport", "50mm cube", failing, &fakeEngine{}, errinfo.KindTransportFailure},
		{"empty script", "50mm cube", genai.NewMockClient("```python\n\n```"), &fakeEngine{}, errinfo.KindEmptyScript},
		{"dangerous", "50mm cube", genai.NewMockClient(dangerous), &fakeEngine{}, errinfo.KindDangerousOperation},
		{"probe timeout", "50mm cube", genai.NewMockClient(cubeScript),
			&fakeEngine{probeErr: errinfo.New(errinfo.KindEngineProbeTimeout, "version check timed out")}, errinfo.KindEngineProbeTimeout},
		{"panic", "50mm cube", funcClient(func(context.Context, prompt.Request) (*genai.Response, error) {
			panic("boom")
		}), &fakeEngine{}, errinfo.KindUnexpectedFailure},
		{"success", "50mm cube", genai.NewMockClient(cubeScript), &fakeEngine{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newTestPipeline(t, tc.client, tc.engine)
			ui := &fakeUI{prompt: tc.prompt}
			c := NewController(p, ui)

			if !c.Submit(context.Background()) {
				t.Fatalf("submit refused")
			}
			c.Wait()

			statuses, enabled := ui.snapshot()
			assertToggledOnce(t, enabled)
			if len(statuses) == 0 {
				t.Fatalf("expected at least one status")
			}
			last := statuses[len(statuses)-1]
			if tc.kind == "" && last.Level != LevelInfo {
				t.Fatalf("expected success, last status %q", last.Message)
			}
			if tc.kind != "" && last.Level != LevelError {
				t.Fatalf("expected an error status, last status %q", last.Message)
			}
			if c.Busy() {
				t.Fatalf("controller left busy")
			}
		})
	}
}

func TestRunDeliversStatusesToSinkAndUI(t *testing.T) {
	p, _ := newTestPipeline(t, genai.NewMockClient(cubeScript), &fakeEngine{})
	ui := &fakeUI{}
	c := NewController(p, ui)
	log := NewStatusLog()

	res, err := c.Run(context.Background(), "50mm cube", log.Append)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Artifact == nil {
		t.Fatalf("expected artifact")
	}
	statuses, enabled := ui.snapshot()
	assertToggledOnce(t, enabled)
	if len(statuses) != len(log.Entries()) {
		t.Fatalf("sink and UI diverged: %d vs %d", len(log.Entries()), len(statuses))
	}
	for i, s := range log.Entries() {
		if statuses[i] != s {
			t.Fatalf("status %d differs: %+v vs %+v", i, statuses[i], s)
		}
	}
}

func TestHeadlessController(t *testing.T) {
	p, _ := newTestPipeline(t, genai.NewMockClient(cubeScript), &fakeEngine{})
	c := NewController(p, nil)
	if _, err := c.Run(context.Background(), "50mm cube", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !c.Submit(context.Background()) {
		t.Fatalf("submit refused")
	}
	c.Wait()
}

func TestCloseWaitsForInFlightRunAndRefusesNewOnes(t *testing.T) {
	client := newBlockingClient()
	p, dir := newTestPipeline(t, client, &fakeEngine{})
	c := NewController(p, nil)

	runDone := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), "50mm cube", nil)
		runDone <- err
	}()
	select {
	case <-client.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("run never started")
	}

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatalf("Close returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(client.release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatalf("Close did not return after the run finished")
	}
	if err := <-runDone; err != nil {
		t.Fatalf("in-flight run: %v", err)
	}
	if dirEntries(t, dir) != 1 || p.Artifacts().Pending() != 1 {
		t.Fatalf("expected the drained run's artifact to be pending cleanup")
	}

	if _, err := c.Run(context.Background(), "another", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if c.Submit(context.Background()) {
		t.Fatalf("Submit accepted after Close")
	}
	p.Artifacts().Flush()
	if dirEntries(t, dir) != 0 {
		t.Fatalf("flush after Close should remove every artifact")
	}
}
