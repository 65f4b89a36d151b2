package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/sameehj/gencad/pkg/artifact"
	"github.com/sameehj/gencad/pkg/config"
	"github.com/sameehj/gencad/pkg/env"
	"github.com/sameehj/gencad/pkg/genai"
	"github.com/sameehj/gencad/pkg/launcher"
	"github.com/sameehj/gencad/pkg/logging"
	"github.com/sameehj/gencad/pkg/pipeline"
	"github.com/sameehj/gencad/pkg/prompt"
	"github.com/sameehj/gencad/pkg/safety"
	"github.com/sameehj/gencad/pkg/system"
	"github.com/sameehj/gencad/pkg/tracer"
)

// app holds the components built from the config for one command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	validator *safety.Validator
	audit     *safety.MemoryRecorder
	launcher  *launcher.Launcher
	profile   *system.Profile
	pipeline  *pipeline.Pipeline
	shutdown  func(context.Context) error
}

// loadConfig reads .env files from the working directory and ~/.gencad, then
// the YAML config.
func loadConfig() (*config.Config, error) {
	wd, _ := os.Getwd()
	if err := env.LoadAll(wd, config.HomeDir()); err != nil {
		return nil, err
	}
	return config.LoadConfig(cfgFile)
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return logging.New(cfg.LogLevel, cfg.LogFormat, w)
}

func newLauncher(cfg *config.Config, logger *slog.Logger) *launcher.Launcher {
	l := launcher.New(cfg.Engine.Command, config.Duration(cfg.Engine.ProbeTimeout, launcher.DefaultProbeTimeout))
	if cfg.Engine.InstallPackage != "" {
		l.InstallPackage = cfg.Engine.InstallPackage
	}
	l.Profile = system.Detect()
	l.SetLogger(logger)
	return l
}

// newApp wires the full pipeline. Only generation commands need it; it
// fails when the selected provider has no API key.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := newLogger(cfg, os.Stderr)

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "gencad",
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Enabled:     cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, err
	}

	validator, err := safety.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}

	provider := cfg.ActiveProvider()
	client, err := genai.New(genai.Settings{
		Provider: cfg.Provider,
		APIKey:   provider.APIKey,
		Model:    provider.Model,
		BaseURL:  provider.BaseURL,
		Timeout:  config.Duration(provider.Timeout, genai.DefaultTimeout),
	})
	if err != nil {
		return nil, err
	}

	artifacts := artifact.NewManager(cfg.Artifacts.Dir, cfg.Artifacts.Suffix,
		config.Duration(cfg.Artifacts.CleanupDelay, artifact.DefaultTTL))
	artifacts.SetLogger(logger)

	l := newLauncher(cfg, logger)
	audit := safety.NewMemoryRecorder(0)
	p, err := pipeline.New(pipeline.Config{
		Builder: prompt.NewBuilder(prompt.Params{
			MaxOutputTokens: cfg.Generation.MaxOutputTokens,
			Temperature:     cfg.Generation.Temperature,
		}),
		Client:    client,
		Validator: validator,
		Artifacts: artifacts,
		Engine:    l,
		Audit:     safety.MultiRecorder{safety.LogRecorder{Logger: logger}, audit},
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		validator: validator,
		audit:     audit,
		launcher:  l,
		profile:   l.Profile,
		pipeline:  p,
		shutdown:  shutdown,
	}, nil
}

// close flushes pending cleanups and the tracer.
func (a *app) close() {
	a.pipeline.Artifacts().Flush()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("tracer_shutdown_failed", "error", err)
	}
}
