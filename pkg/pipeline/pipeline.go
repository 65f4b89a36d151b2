package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sameehj/gencad/pkg/artifact"
	"github.com/sameehj/gencad/pkg/errinfo"
	"github.com/sameehj/gencad/pkg/extract"
	"github.com/sameehj/gencad/pkg/genai"
	"github.com/sameehj/gencad/pkg/launcher"
	"github.com/sameehj/gencad/pkg/logging"
	"github.com/sameehj/gencad/pkg/metrics"
	"github.com/sameehj/gencad/pkg/prompt"
	"github.com/sameehj/gencad/pkg/safety"
	"github.com/sameehj/gencad/pkg/tracer"
)

const (
	StagePrompt   = "prompt"
	StageGenerate = "generate"
	StageExtract  = "extract"
	StageValidate = "validate"
	StagePersist  = "persist"
	StageProbe    = "probe"
	StageLaunch   = "launch"

	// OutcomeSuccess labels a run that ended with a launched engine.
	OutcomeSuccess = "success"
)

// Engine is the part of the launcher the pipeline drives.
type Engine interface {
	Probe(ctx context.Context) (*launcher.ProbeResult, error)
	Launch(ctx context.Context, scriptPath string) (*launcher.Process, error)
}

// Config holds the collaborators of a Pipeline. Client and Engine are
// required; the rest fall back to defaults.
type Config struct {
	Builder   *prompt.Builder
	Client    genai.Client
	Validator *safety.Validator
	Artifacts *artifact.Manager
	Engine    Engine
	// EngineLabel is the engine name shown in status lines.
	EngineLabel string
	// Audit receives every validation decision. Optional.
	Audit  safety.AuditRecorder
	Logger *slog.Logger
}

// Pipeline runs prompt → generate → extract → validate → persist → probe →
// launch. Each stage either feeds the next or ends the run.
type Pipeline struct {
	builder     *prompt.Builder
	client      genai.Client
	validator   *safety.Validator
	artifacts   *artifact.Manager
	engine      Engine
	engineLabel string
	audit       safety.AuditRecorder
	logger      *slog.Logger
	now         func() time.Time
}

// Result describes how far a run got.
type Result struct {
	RunID    string
	Prompt   string
	Verdict  *safety.Verdict
	Artifact *artifact.Artifact
	Probe    *launcher.ProbeResult
	Process  *launcher.Process
}

// New validates cfg and fills in defaults for the optional collaborators.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Client == nil {
		return nil, errors.New("pipeline: generation client is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("pipeline: engine is required")
	}
	p := &Pipeline{
		builder:     cfg.Builder,
		client:      cfg.Client,
		validator:   cfg.Validator,
		artifacts:   cfg.Artifacts,
		engine:      cfg.Engine,
		engineLabel: cfg.EngineLabel,
		audit:       cfg.Audit,
		logger:      cfg.Logger,
		now:         time.Now,
	}
	if p.builder == nil {
		p.builder = prompt.NewBuilder(prompt.DefaultParams())
	}
	if p.validator == nil {
		p.validator = safety.Default()
	}
	if p.artifacts == nil {
		p.artifacts = artifact.NewManager("", "", 0)
	}
	if p.engineLabel == "" {
		p.engineLabel = "FreeCAD"
	}
	if p.logger == nil {
		p.logger = logging.Nop()
	}
	return p, nil
}

// Artifacts exposes the manager so callers can flush pending cleanups.
func (p *Pipeline) Artifacts() *artifact.Manager {
	return p.artifacts
}

// Run executes one pipeline run. Statuses go to notify synchronously and in
// order; the cleanup status arrives later from the cleanup timer. The
// returned error is always an *errinfo.Error.
func (p *Pipeline) Run(ctx context.Context, userPrompt string, notify Notifier) (res *Result, err error) {
	res = &Result{RunID: uuid.NewString()}
	log := p.logger.With("run_id", res.RunID)
	emit := p.emitter(notify)

	ctx, span := tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("gencad.run_id", res.RunID)))
	defer span.End()
	if traceID := tracer.TraceID(ctx); traceID != "" {
		log = log.With("trace_id", traceID)
	}

	metrics.RunInFlight.Inc()
	defer metrics.RunInFlight.Dec()

	start := time.Now()
	log.Info("run_started")
	defer func() {
		if r := recover(); r != nil {
			log.Error("run_panicked", "panic", r)
			err = errinfo.New(errinfo.KindUnexpectedFailure, "an unexpected error occurred: %v", r)
		}
		outcome := Outcome(err)
		metrics.RunsTotal.WithLabelValues(outcome).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			p.report(emit, err)
			log.Warn("run_failed", "outcome", outcome, "error", err, "duration", time.Since(start))
			return
		}
		log.Info("run_finished", "outcome", outcome, "duration", time.Since(start))
	}()

	err = p.run(ctx, log, res, userPrompt, emit, notify)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, log *slog.Logger, res *Result, userPrompt string, emit func(Level, string), notify Notifier) error {
	var req prompt.Request
	if err := p.stage(ctx, log, StagePrompt, func(context.Context) error {
		var err error
		req, err = p.builder.Build(userPrompt)
		return err
	}); err != nil {
		return err
	}
	res.Prompt = req.UserPrompt()
	emit(LevelInfo, "Generating model... Please wait.")
	emit(LevelInfo, "Processing prompt: "+req.UserPrompt())

	emit(LevelInfo, "Connecting to "+serviceLabel(p.client.Name())+"...")
	var resp *genai.Response
	if err := p.stage(ctx, log, StageGenerate, func(ctx context.Context) error {
		var err error
		resp, err = p.client.Generate(ctx, req)
		status := "ok"
		if err != nil {
			status = string(errinfo.KindOf(err))
		}
		metrics.GenAICallTotal.WithLabelValues(p.client.Name(), status).Inc()
		return err
	}); err != nil {
		return asPipelineError(err, errinfo.KindUnexpectedFailure, "an unexpected error occurred during API call")
	}

	var script *extract.Script
	if err := p.stage(ctx, log, StageExtract, func(context.Context) error {
		var err error
		script, err = extract.Extract(resp)
		return err
	}); err != nil {
		return asPipelineError(err, errinfo.KindMalformedResponse, "error extracting script from API response")
	}
	emit(LevelInfo, "AI response received. Validating script...")

	if err := p.stage(ctx, log, StageValidate, func(context.Context) error {
		verdict := p.validator.Validate(script.Source)
		res.Verdict = &verdict
		metrics.ValidationVerdicts.WithLabelValues(verdictLabel(verdict)).Inc()
		if p.audit != nil {
			if err := p.audit.Record(safety.NewAuditEvent(res.RunID, script.Source, verdict)); err != nil {
				log.Warn("audit_record_failed", "error", err)
			}
		}
		if verdict.Accepted {
			return nil
		}
		log.Info("script_rejected", "reason", verdict.Reason, "pattern", verdict.Pattern)
		return errinfo.New(verdict.Reason, "script validation failed - %s", verdict.Message).
			WithDetail("Possible AI hallucination detected. Please try a different prompt.")
	}); err != nil {
		return err
	}
	emit(LevelInfo, "Script validation passed. Creating temporary file...")

	if err := p.stage(ctx, log, StagePersist, func(context.Context) error {
		a, err := p.artifacts.Persist(script.Source)
		if err != nil {
			return err
		}
		res.Artifact = a
		return nil
	}); err != nil {
		return err
	}
	emit(LevelInfo, "Script saved to: "+res.Artifact.Path)
	// the TTL runs from persistence, whatever happens to the launch
	p.artifacts.ScheduleCleanup(res.Artifact, p.cleanupNotifier(log, notify))

	emit(LevelInfo, fmt.Sprintf("Opening %s with the generated model...", p.engineLabel))
	if err := p.stage(ctx, log, StageProbe, func(ctx context.Context) error {
		probe, err := p.engine.Probe(ctx)
		res.Probe = probe
		return err
	}); err != nil {
		return asPipelineError(err, errinfo.KindLaunchFailure, "error launching %s", p.engineLabel)
	}

	if err := p.stage(ctx, log, StageLaunch, func(ctx context.Context) error {
		proc, err := p.engine.Launch(ctx, res.Artifact.Path)
		res.Process = proc
		return err
	}); err != nil {
		return asPipelineError(err, errinfo.KindLaunchFailure, "error launching %s", p.engineLabel)
	}
	emit(LevelInfo, p.engineLabel+" launched successfully!")
	emit(LevelInfo, fmt.Sprintf("Check the %s window for your generated 3D model.", p.engineLabel))
	return nil
}

// stage wraps one step in a span, a duration observation and a debug log.
func (p *Pipeline) stage(ctx context.Context, log *slog.Logger, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()
	start := time.Now()
	defer metrics.ObserveStage(name, start)

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errinfo.KindOf(err)))
		log.Debug("stage_failed", "stage", name, "kind", errinfo.KindOf(err), "duration", time.Since(start))
		return err
	}
	log.Debug("stage_done", "stage", name, "duration", time.Since(start))
	return nil
}

func (p *Pipeline) emitter(notify Notifier) func(Level, string) {
	return func(level Level, msg string) {
		if notify == nil {
			return
		}
		notify(Status{Time: p.now(), Message: msg, Level: level})
	}
}

func (p *Pipeline) cleanupNotifier(log *slog.Logger, notify Notifier) artifact.CleanupFunc {
	emit := p.emitter(notify)
	return func(a *artifact.Artifact, err error) {
		if err != nil {
			metrics.ArtifactCleanups.WithLabelValues("warning").Inc()
			log.Warn("artifact_cleanup_warning", "path", a.Path, "error", err)
			emit(levelFor(errinfo.KindOf(err)), fmt.Sprintf("Warning: Could not clean up temporary file: %v", errors.Unwrap(err)))
			return
		}
		metrics.ArtifactCleanups.WithLabelValues("removed").Inc()
		emit(LevelInfo, "Temporary file cleaned up: "+a.Path)
	}
}

// report turns a terminal error into status lines: "Error: <message>"
// followed by its detail lines.
func (p *Pipeline) report(emit func(Level, string), err error) {
	var e *errinfo.Error
	if !errors.As(err, &e) {
		emit(LevelError, errorLine(err.Error()))
		return
	}
	level := levelFor(e.Kind)
	lines := e.Lines()
	emit(level, errorLine(lines[0]))
	for _, line := range lines[1:] {
		emit(level, line)
	}
}

// levelFor maps a failure kind onto a status level.
func levelFor(kind errinfo.Kind) Level {
	if errinfo.IsFatal(kind) {
		return LevelError
	}
	return LevelWarn
}

// Outcome labels a run result: "success" or the failure kind.
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	return string(errinfo.KindOf(err))
}

func asPipelineError(err error, kind errinfo.Kind, format string, args ...any) error {
	var e *errinfo.Error
	if errors.As(err, &e) {
		return err
	}
	return errinfo.Wrap(err, kind, format, args...)
}

func verdictLabel(v safety.Verdict) string {
	if v.Accepted {
		return "accepted"
	}
	return string(v.Reason)
}

func serviceLabel(name string) string {
	switch strings.ToLower(name) {
	case "gemini", "google":
		return "Gemini AI"
	case "openai":
		return "OpenAI"
	case "mock":
		return "mock generator"
	default:
		return name
	}
}

// errorLine prefixes msg with "Error: " unless it already reads as one.
func errorLine(msg string) string {
	if strings.HasPrefix(strings.ToLower(msg), "error") {
		return capitalize(msg)
	}
	return "Error: " + capitalize(msg)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
