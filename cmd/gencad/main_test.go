package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sameehj/gencad/pkg/artifact"
	"github.com/sameehj/gencad/pkg/genai"
	"github.com/sameehj/gencad/pkg/launcher"
	"github.com/sameehj/gencad/pkg/pipeline"
)

// isolate points config, .env and keys at an empty temp home.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("GENCAD_CONFIG", filepath.Join(home, "absent.yaml"))
	for _, k := range []string{
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY", "GENCAD_PROVIDER", "GENCAD_MODEL",
		"GENCAD_ENGINE", "GENCAD_LOG_LEVEL", "GENCAD_LOG_FORMAT", "GENCAD_POLICY",
	} {
		t.Setenv(k, "")
	}
	cfgFile = ""
	return home
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func fakeFreeCAD(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine uses sh")
	}
	path := filepath.Join(t.TempDir(), "freecad")
	script := "#!/bin/sh\nif [ \"$1\" = \"--version\" ]; then echo 'FreeCAD 0.21.2'; fi\nexit 0\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return path
}

func TestReadPrompt(t *testing.T) {
	got, err := readPrompt([]string{"50mm", "cube"}, strings.NewReader("ignored"))
	if err != nil || got != "50mm cube" {
		t.Fatalf("args: got %q, %v", got, err)
	}
	got, err = readPrompt(nil, strings.NewReader("a 20mm sphere\n"))
	if err != nil || got != "a 20mm sphere\n" {
		t.Fatalf("stdin: got %q, %v", got, err)
	}
}

func TestMaskKey(t *testing.T) {
	cases := map[string]string{
		"":                     "missing",
		"short":                "set",
		"AIzaSyExampleKey1234": "AIza...1234",
	}
	for in, want := range cases {
		if got := maskKey(in); got != want {
			t.Fatalf("maskKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.py")
	if err := os.WriteFile(good, []byte(genai.MockScript), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "validate", good)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "accepted: Script validation passed") {
		t.Fatalf("unexpected output %q", out)
	}

	bad := strings.Replace(genai.MockScript, "import Part\n", "import Part\nimport shutil\n", 1)
	out, err = execute(t, bad, "validate", "-")
	var code exitCode
	if !errors.As(err, &code) || code != 2 {
		t.Fatalf("expected exit code 2, got %v", err)
	}
	if !strings.Contains(out, "rejected (DangerousOperation)") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestValidateCommandRawKeepsFences(t *testing.T) {
	isolate(t)
	out, err := execute(t, "```\nimport FreeCAD\n```", "validate", "--raw", "--json", "-")
	var code exitCode
	if !errors.As(err, &code) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if !strings.Contains(out, `"reason": "MissingRequiredImport"`) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestGenerateCommandEndToEnd(t *testing.T) {
	isolate(t)
	engine := fakeFreeCAD(t)
	artifacts := t.TempDir()
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	data := "provider: mock\nengine:\n  command: " + engine + "\nartifacts:\n  dir: " + artifacts + "\n  cleanupDelay: 50ms\n"
	if err := os.WriteFile(cfg, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "--config", cfg, "generate", "50mm", "cube")
	if err != nil {
		t.Fatalf("generate: %v\n%s", err, out)
	}
	for _, want := range []string{
		"Processing prompt: 50mm cube",
		"Script validation passed. Creating temporary file...",
		"FreeCAD launched successfully!",
		"Temporary file cleaned up: ",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
	entries, err := os.ReadDir(artifacts)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected artifacts cleaned up, found %d", len(entries))
	}
}

func TestGenerateCommandEmptyPrompt(t *testing.T) {
	isolate(t)
	t.Setenv("GENCAD_PROVIDER", "mock")
	out, err := execute(t, "   ", "generate")
	var code exitCode
	if !errors.As(err, &code) || code != 1 {
		t.Fatalf("expected exit code 1, got %v", err)
	}
	if !strings.Contains(out, "Error: Please enter a valid model description.") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestGenerateRequiresKeyForGemini(t *testing.T) {
	isolate(t)
	if _, err := execute(t, "", "generate", "50mm cube"); err == nil {
		t.Fatalf("expected missing key error")
	}
}

type stubEngine struct{}

func (stubEngine) Probe(context.Context) (*launcher.ProbeResult, error) {
	return &launcher.ProbeResult{Version: "FreeCAD 0.21.2"}, nil
}

func (stubEngine) Launch(context.Context, string) (*launcher.Process, error) {
	return &launcher.Process{PID: 7}, nil
}

func TestRunShellSubmitsLines(t *testing.T) {
	p, err := pipeline.New(pipeline.Config{
		Client:    genai.NewMockClient(genai.MockScript),
		Engine:    stubEngine{},
		Artifacts: artifact.NewManager(t.TempDir(), "", time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Artifacts().Flush()

	var out bytes.Buffer
	ui := newShellUI(&out)
	controller := pipeline.NewController(p, ui)
	if err := runShell(context.Background(), controller, ui, strings.NewReader("\n50mm cube\n")); err != nil {
		t.Fatalf("shell: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Processing prompt: 50mm cube") || !strings.Contains(text, "FreeCAD launched successfully!") {
		t.Fatalf("unexpected shell output:\n%s", text)
	}
	if !ui.triggerEnabled() {
		t.Fatalf("trigger left disabled")
	}
}

func TestRunShellHistoryReplaysStatuses(t *testing.T) {
	p, err := pipeline.New(pipeline.Config{
		Client:    genai.NewMockClient(genai.MockScript),
		Engine:    stubEngine{},
		Artifacts: artifact.NewManager(t.TempDir(), "", time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Artifacts().Flush()

	var out bytes.Buffer
	ui := newShellUI(&out)
	controller := pipeline.NewController(p, ui)
	if err := runShell(context.Background(), controller, ui, strings.NewReader("50mm cube\n")); err != nil {
		t.Fatalf("shell: %v", err)
	}
	lines := ui.log.Lines()
	if len(lines) == 0 || !strings.HasSuffix(lines[len(lines)-1], "] Check the FreeCAD window for your generated 3D model.") {
		t.Fatalf("unexpected history %v", lines)
	}

	out.Reset()
	ui.showHistory()
	if strings.Count(out.String(), "\n") != len(lines) || !strings.Contains(out.String(), "] Processing prompt: 50mm cube") {
		t.Fatalf("history did not replay the log:\n%s", out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	out, err := execute(t, "", "version")
	if err != nil || !strings.HasPrefix(out, "gencad ") {
		t.Fatalf("unexpected version output %q, %v", out, err)
	}
}
