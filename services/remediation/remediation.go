// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package remediation assembles the autonomous code remediation
// pipeline into a runnable HTTP service.
//
// The pipeline takes a bug report, generates candidate fixes with an
// LLM, evaluates every candidate in an isolated sandbox against the
// project's verification commands, and holds the ranked results for a
// human decision. Approved fixes are applied to the live tree behind
// an automatic backup; applied fixes can be rolled back.
//
// # Usage
//
//	cfg := remediation.Config{
//	    ProjectRoot: "/srv/checkout",
//	    DataDir:     "/var/lib/remedy",
//	}
//	svc, err := remediation.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/beehive-labs/remedy/services/remediation/backup"
	"github.com/beehive-labs/remedy/services/remediation/datatypes"
	"github.com/beehive-labs/remedy/services/remediation/evaluate"
	"github.com/beehive-labs/remedy/services/remediation/generate"
	"github.com/beehive-labs/remedy/services/remediation/observability"
	"github.com/beehive-labs/remedy/services/remediation/routes"
	"github.com/beehive-labs/remedy/services/remediation/sandbox"
	"github.com/beehive-labs/remedy/services/remediation/store"
	"github.com/beehive-labs/remedy/services/remediation/workflow"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the remediation service lifecycle.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run blocks and
// should be called at most once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until it stops.
	Run() error

	// Router returns the configured gin engine for integration tests.
	Router() *gin.Engine

	// Workflow exposes the approval coordinator for embedding callers.
	Workflow() *workflow.Workflow

	// Shutdown cancels in-flight evaluations and releases resources.
	Shutdown()
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds service configuration. ProjectRoot is required;
// everything else has a default applied by New.
type Config struct {
	// ProjectRoot is the live source tree the pipeline remediates.
	// Required.
	ProjectRoot string

	// DataDir holds the proposal database, backups, and sandboxes.
	// Default: "./data/remedy". Ignored for the proposal store when
	// InMemory is set.
	DataDir string

	// InMemory keeps proposals in memory instead of on disk. Backups
	// and sandboxes still use DataDir.
	InMemory bool

	// Port is the HTTP listen port. Default: 7420.
	Port int

	// GinMode sets the gin framework mode ("debug", "release",
	// "test"). Default: gin's own default.
	GinMode string

	// OTelEndpoint is an OTLP gRPC collector endpoint. Empty disables
	// trace export.
	OTelEndpoint string

	// EnableMetrics turns on the OpenTelemetry instruments.
	EnableMetrics bool

	// VerifyConfigPath is a YAML file of verification commands. Either
	// this or Commands must be set.
	VerifyConfigPath string

	// Commands overrides VerifyConfigPath with an in-process command
	// list.
	Commands []datatypes.CommandSpec

	// Model is the chat model used for fix generation.
	// Default: "gpt-4o-mini".
	Model string

	// OpenAIBaseURL points generation at an OpenAI-compatible server
	// (vLLM, Ollama, llama.cpp). Empty uses the public API.
	OpenAIBaseURL string

	// OpenAIAPIKey authenticates generation requests. Local backends
	// usually accept any value.
	OpenAIAPIKey string

	// CandidateCount is how many fixes are requested per proposal.
	// Default: workflow.DefaultCandidateCount.
	CandidateCount int

	// MaxParallel bounds concurrent candidate evaluations.
	// Default: evaluate.DefaultMaxParallel.
	MaxParallel int

	// RetainFailedSandboxes keeps failing candidates' sandboxes on
	// disk for post-mortem inspection.
	RetainFailedSandboxes bool

	// Generator overrides the OpenAI-backed generator, mainly for
	// tests.
	Generator generate.Generator

	// Locator is the optional bug localization step.
	Locator generate.Locator

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/remedy"
	}
	if cfg.Port == 0 {
		cfg.Port = 7420
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config        Config
	router        *gin.Engine
	wf            *workflow.Workflow
	st            *store.Store
	logger        *slog.Logger
	tracerCleanup func(context.Context)
}

// New validates the configuration and wires the whole pipeline:
// proposal store, backup store, sandbox manager, evaluator, generator,
// workflow, and HTTP routes.
func New(cfg Config) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	if cfg.ProjectRoot == "" {
		return nil, errors.New("remediation: ProjectRoot is required")
	}

	s := &service{config: cfg, logger: cfg.Logger}

	commands := cfg.Commands
	if len(commands) == 0 {
		if cfg.VerifyConfigPath == "" {
			return nil, errors.New("remediation: either Commands or VerifyConfigPath is required")
		}
		var err error
		commands, err = datatypes.LoadCommandSpecs(cfg.VerifyConfigPath)
		if err != nil {
			return nil, fmt.Errorf("remediation: load verification config: %w", err)
		}
	}

	if cfg.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("remediation: init tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}
	if cfg.EnableMetrics {
		observability.SetMetricsEnabled(true)
	}

	st, err := store.Open(store.Options{
		Path:     filepath.Join(cfg.DataDir, "proposals"),
		InMemory: cfg.InMemory,
		Logger:   cfg.Logger.With("component", "store"),
	})
	if err != nil {
		return nil, fmt.Errorf("remediation: open proposal store: %w", err)
	}
	s.st = st

	backups, err := backup.NewStore(filepath.Join(cfg.DataDir, "backups"), cfg.ProjectRoot,
		cfg.Logger.With("component", "backup"))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("remediation: open backup store: %w", err)
	}

	sandboxes, err := sandbox.NewManager(sandbox.Options{
		WorkDir:     filepath.Join(cfg.DataDir, "sandboxes"),
		ProjectRoot: cfg.ProjectRoot,
		Logger:      cfg.Logger.With("component", "sandbox"),
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("remediation: init sandbox manager: %w", err)
	}

	runner := sandbox.NewRunner(sandbox.RunnerOptions{
		Logger: cfg.Logger.With("component", "runner"),
	})
	evaluator, err := evaluate.New(sandboxes, runner, commands, evaluate.Options{
		MaxParallel:           int64(cfg.MaxParallel),
		RetainFailedSandboxes: cfg.RetainFailedSandboxes,
		Logger:                cfg.Logger.With("component", "evaluate"),
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("remediation: init evaluator: %w", err)
	}

	gen := cfg.Generator
	if gen == nil {
		gen, err = generate.NewOpenAIGenerator(generate.OpenAIConfig{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.Model,
			Logger:  cfg.Logger.With("component", "generate"),
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("remediation: init generator: %w", err)
		}
	}

	wf, err := workflow.New(st, backups, evaluator, cfg.ProjectRoot, workflow.Config{
		Generator:      gen,
		Locator:        cfg.Locator,
		CandidateCount: cfg.CandidateCount,
		Logger:         cfg.Logger.With("component", "workflow"),
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("remediation: init workflow: %w", err)
	}
	s.wf = wf

	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until it stops. Resources are
// released on return.
func (s *service) Run() error {
	defer s.Shutdown()

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("starting remediation server",
		"port", s.config.Port,
		"project_root", s.config.ProjectRoot,
	)
	return s.router.Run(addr)
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Workflow() *workflow.Workflow {
	return s.wf
}

// Shutdown cancels in-flight evaluations, flushes traces, and closes
// the proposal store. Safe to call more than once.
func (s *service) Shutdown() {
	s.wf.Shutdown()
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	if err := s.st.Close(); err != nil && !errors.Is(err, store.ErrClosed) {
		s.logger.Warn("proposal store close error", "error", err.Error())
	}
}

// =============================================================================
// Private Initialization
// =============================================================================

// initTracer installs an OTLP trace exporter pointed at the
// configured collector.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(s.config.OTelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err.Error())
		}
	}, nil
}

func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware("remediation-service"))

	routes.SetupRoutes(s.router, s.wf)
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
