package launcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/sameehj/gencad/pkg/errinfo"
	"github.com/sameehj/gencad/pkg/system"
)

const (
	DefaultCommand      = "freecad"
	DefaultProbeTimeout = 10 * time.Second
	defaultMaxOutput    = 64 << 10
)

// Launcher probes for the CAD engine binary and starts it on a script.
type Launcher struct {
	Command      string
	ProbeTimeout time.Duration
	MaxOutput    int
	// InstallPackage is the package name used in install guidance.
	InstallPackage string
	Profile        *system.Profile

	logger *slog.Logger
}

// New returns a launcher for command with the given probe timeout. Empty or
// non-positive values fall back to the defaults.
func New(command string, probeTimeout time.Duration) *Launcher {
	if command == "" {
		command = DefaultCommand
	}
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &Launcher{
		Command:        command,
		ProbeTimeout:   probeTimeout,
		MaxOutput:      defaultMaxOutput,
		InstallPackage: "freecad",
	}
}

// SetLogger enables debug logs for probe and launch.
func (l *Launcher) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

// ProbeResult is what the version query printed.
type ProbeResult struct {
	Version string
	Stdout  string
	Stderr  string
	// Truncated is set when either stream exceeded MaxOutput.
	Truncated bool
}

// Probe runs "<engine> --version" and requires a zero exit code within
// ProbeTimeout.
func (l *Launcher) Probe(ctx context.Context) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, l.ProbeTimeout)
	defer cancel()

	stdout := &limitedBuffer{limit: l.MaxOutput}
	stderr := &limitedBuffer{limit: l.MaxOutput}
	cmd := exec.CommandContext(ctx, l.Command, "--version")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err != nil {
		l.logDebug("engine_probe_failed", "command", l.Command, "error", err)
		switch {
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
			return nil, l.notFound(err)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, errinfo.Wrap(err, errinfo.KindEngineProbeTimeout,
				"%s version check timed out after %s", l.Command, l.ProbeTimeout)
		}
		e := errinfo.Wrap(err, errinfo.KindEngineProbeFailed, "command '%s' failed to execute", l.Command)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			e.WithDetail(msg)
		}
		return nil, e.WithDetail("Please ensure the engine is properly installed.")
	}

	out := strings.TrimSpace(stdout.String())
	version, _, _ := strings.Cut(out, "\n")
	res := &ProbeResult{
		Version:   strings.TrimSpace(version),
		Stdout:    out,
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if res.Truncated {
		l.logDebug("engine_version_output_truncated", "command", l.Command, "limit", l.MaxOutput)
	}
	return res, nil
}

func (l *Launcher) notFound(err error) *errinfo.Error {
	e := errinfo.Wrap(err, errinfo.KindEngineNotFound, "command '%s' not found", l.Command).
		WithDetail(
			"Please ensure the engine is installed and available in your system's PATH.",
			"You can install it using your system's package manager:",
		)
	for _, h := range l.Profile.InstallHints(l.InstallPackage) {
		e.WithDetail("  " + h.String())
	}
	return e
}

// Process is a launched engine. The launcher reaps it in the background.
type Process struct {
	PID  int
	done chan struct{}
	err  error
}

// Done is closed when the engine exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	<-p.done
	return p.err
}

// Launch starts the engine on scriptPath without waiting for it to exit.
// The process is not bound to ctx so it survives the caller.
func (l *Launcher) Launch(ctx context.Context, scriptPath string) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, errinfo.Wrap(err, errinfo.KindLaunchFailure, "error launching %s", l.Command)
	}
	cmd := exec.Command(l.Command, scriptPath)
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, l.notFound(err)
		}
		return nil, errinfo.Wrap(err, errinfo.KindLaunchFailure, "error launching %s", l.Command)
	}

	p := &Process{PID: cmd.Process.Pid, done: make(chan struct{})}
	l.logDebug("engine_started", "command", l.Command, "pid", p.PID, "script", scriptPath)
	go func() {
		p.err = cmd.Wait()
		l.logDebug("engine_exited", "pid", p.PID, "error", p.err)
		close(p.done)
	}()
	return p, nil
}

func (l *Launcher) String() string {
	return fmt.Sprintf("launcher(%s)", l.Command)
}

func (l *Launcher) logDebug(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, args...)
	}
}
