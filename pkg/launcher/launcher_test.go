package launcher

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sameehj/gencad/pkg/errinfo"
	"github.com/sameehj/gencad/pkg/system"
)

// fakeEngine writes a shell script that answers --version and records the
// script path it was launched with into marker.
func fakeEngine(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine uses sh")
	}
	path := filepath.Join(t.TempDir(), "fake-freecad")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return path
}

func TestProbeSuccess(t *testing.T) {
	engine := fakeEngine(t, "echo 'FreeCAD 0.21.2'\necho 'Libs: x'\n")
	l := New(engine, time.Second)
	res, err := l.Probe(context.Background())
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if res.Version != "FreeCAD 0.21.2" {
		t.Fatalf("unexpected version %q", res.Version)
	}
}

func TestProbeNotFound(t *testing.T) {
	l := New("gencad-engine-that-does-not-exist", time.Second)
	l.Profile = &system.Profile{Distro: "fedora"}
	_, err := l.Probe(context.Background())
	e, ok := err.(*errinfo.Error)
	if !ok || e.Kind != errinfo.KindEngineNotFound {
		t.Fatalf("expected EngineNotFound, got %v", err)
	}
	lines := strings.Join(e.Lines(), "\n")
	for _, want := range []string{"apt install freecad", "dnf install freecad", "pacman -S freecad"} {
		if !strings.Contains(lines, want) {
			t.Fatalf("expected install guidance %q in %q", want, lines)
		}
	}
	if !strings.Contains(e.Detail[2], "Fedora") {
		t.Fatalf("expected detected distro first, got %q", e.Detail[2])
	}
}

func TestProbeMissingAbsolutePath(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "nope"), time.Second)
	_, err := l.Probe(context.Background())
	if errinfo.KindOf(err) != errinfo.KindEngineNotFound {
		t.Fatalf("expected EngineNotFound, got %v", err)
	}
}

func TestProbeNonZeroExit(t *testing.T) {
	engine := fakeEngine(t, "echo 'broken install' >&2\nexit 3\n")
	_, err := New(engine, time.Second).Probe(context.Background())
	e, ok := err.(*errinfo.Error)
	if !ok || e.Kind != errinfo.KindEngineProbeFailed {
		t.Fatalf("expected EngineProbeFailed, got %v", err)
	}
	if !strings.Contains(strings.Join(e.Detail, "\n"), "broken install") {
		t.Fatalf("expected stderr in detail, got %v", e.Detail)
	}
}

func TestProbeTimeout(t *testing.T) {
	engine := fakeEngine(t, "exec sleep 5\n")
	start := time.Now()
	_, err := New(engine, 100*time.Millisecond).Probe(context.Background())
	if errinfo.KindOf(err) != errinfo.KindEngineProbeTimeout {
		t.Fatalf("expected EngineProbeTimeout, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout did not trigger quickly")
	}
}

func TestLaunchDoesNotWait(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	engine := fakeEngine(t, "echo \"$1\" > "+marker+"\nsleep 1\n")
	l := New(engine, time.Second)

	start := time.Now()
	proc, err := l.Launch(context.Background(), "/tmp/script.py")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("launch blocked on the engine")
	}
	if proc.PID <= 0 {
		t.Fatalf("expected a pid")
	}

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("engine never exited")
	}
	if err := proc.Err(); err != nil {
		t.Fatalf("engine exit: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if strings.TrimSpace(string(data)) != "/tmp/script.py" {
		t.Fatalf("engine got %q", data)
	}
}

func TestLaunchFailure(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "nope"), time.Second)
	if _, err := l.Launch(context.Background(), "x.py"); errinfo.KindOf(err) != errinfo.KindEngineNotFound {
		t.Fatalf("expected EngineNotFound, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Launch(ctx, "x.py"); errinfo.KindOf(err) != errinfo.KindLaunchFailure {
		t.Fatalf("expected LaunchFailure, got %v", err)
	}
}

func TestLimitedBufferTruncates(t *testing.T) {
	b := &limitedBuffer{limit: 10}
	n, err := b.Write([]byte("123456789012345"))
	if err != nil || n != 15 {
		t.Fatalf("write: %d %v", n, err)
	}
	if b.String() != "1234567890" || !b.truncated {
		t.Fatalf("unexpected buffer %q truncated=%v", b.String(), b.truncated)
	}
}

func TestVersionCheckReportsTruncatedOutput(t *testing.T) {
	engine := fakeEngine(t, "echo 'FreeCAD 0.21.2'\necho 'a long banner that overflows the limit'\n")
	l := New(engine, time.Second)
	l.MaxOutput = 16
	res, err := l.Probe(context.Background())
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !res.Truncated || res.Version != "FreeCAD 0.21.2" {
		t.Fatalf("unexpected probe result %+v", res)
	}

	l.MaxOutput = defaultMaxOutput
	if res, err = l.Probe(context.Background()); err != nil || res.Truncated {
		t.Fatalf("expected full output, got %+v, %v", res, err)
	}
}
