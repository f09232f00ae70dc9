// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contracts wires the contract generation service together.
//
// The service runs in one of two modes:
//
//   - workflow: serves the drafts API. Each draft is a workflow.Orchestrator
//     driving one session through the five steps against a generation
//     gateway, which is either a remote generation service (gateway.url)
//     or the in-process direct gateway.
//   - gateway: serves the generation API backed by the direct gateway, so
//     workflow services elsewhere can use it over HTTP.
//
// # Usage
//
//	svc, err := contracts.New(ctx, contracts.Config{}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	log.Fatal(svc.Run(ctx))
//
// Deployments with their own identity provider pass it in opts:
//
//	opts := extensions.DefaultOptions().WithAuth(idp)
//	svc, err := contracts.New(ctx, cfg, &opts)
package contracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/AleutianAI/AleutianContracts/pkg/extensions"
	"github.com/AleutianAI/AleutianContracts/services/contracts/discipline"
	"github.com/AleutianAI/AleutianContracts/services/contracts/gateway"
	"github.com/AleutianAI/AleutianContracts/services/contracts/gateway/direct"
	"github.com/AleutianAI/AleutianContracts/services/contracts/observability"
	"github.com/AleutianAI/AleutianContracts/services/contracts/routes"
	"github.com/AleutianAI/AleutianContracts/services/contracts/store"
	"github.com/AleutianAI/AleutianContracts/services/contracts/workflow"
	"github.com/AleutianAI/AleutianContracts/services/llm"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the contracts service lifecycle.
//
// # Thread Safety
//
// Run is called at most once. Close is safe to call more than once and
// from any goroutine.
type Service interface {
	// Run restores persisted drafts, starts background work and serves
	// HTTP until ctx is canceled or the listener fails. A canceled ctx
	// shuts the server down gracefully and returns nil.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine, mainly for tests.
	Router() *gin.Engine

	// Close releases the database, the draft cache and the tracer.
	Close() error
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - db, parties, sessions: Local storage, set when the in-process
//     gateway is used.
//   - drafts, registry: Set in workflow mode.
//   - sweeper: Set when the expiry sweep is enabled and sessions are local.
//   - catalogWatcher: Set when templates_file is watched for changes.
type service struct {
	config  Config
	opts    extensions.ServiceOptions
	logger  *slog.Logger
	router  *gin.Engine
	metrics *observability.WorkflowMetrics

	db       *gorm.DB
	sessions *store.SessionRepository
	parties  *store.PartyRepository
	backend  gateway.Backend

	drafts   *store.DraftCache
	registry *workflow.Registry
	sweeper  *store.ExpirySweeper

	catalogWatcher *direct.CatalogWatcher

	tracerCleanup func(context.Context)
	closeOnce     sync.Once
	closeErr      error
}

// =============================================================================
// Constructor
// =============================================================================

// New builds a Service from cfg.
//
// # Description
//
// New performs, in order:
//  1. Applies defaults and validates cfg.
//  2. Installs the tracer provider.
//  3. Registers the workflow metrics.
//  4. Builds the generation backend: the direct gateway over SQLite, or
//     an HTTP client for gateway.url.
//  5. In workflow mode, wraps the backend in request discipline and opens
//     the draft registry over the Badger draft cache.
//  6. Registers routes.
//
// # Inputs
//
//   - ctx: Used for tracer setup.
//   - cfg: Configuration. Zero values use defaults.
//   - opts: Extension points. Nil uses extensions.DefaultOptions(), with
//     cfg.Auth tokens installed when present.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if any component fails to initialize. Components
//     already opened are closed.
func New(ctx context.Context, cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	if err := s.config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s.logger = slog.Default().With("service", s.config.ServiceName, "mode", s.config.Mode)
	s.initOptions(opts)

	cleanup, err := initTracer(ctx, s.config.Tracing, s.config.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.Registerer != nil {
		s.metrics = observability.NewWorkflowMetrics(s.config.Registerer)
	} else {
		s.metrics = observability.InitMetrics()
	}

	if err := s.initBackend(); err != nil {
		_ = s.Close()
		return nil, err
	}
	if s.config.Mode == ModeWorkflow {
		if err := s.initWorkflow(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	s.initRouter()
	return s, nil
}

// initOptions resolves the extension points.
func (s *service) initOptions(opts *extensions.ServiceOptions) {
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
		if len(s.config.Auth.Tokens) > 0 {
			tokens := make(map[string]extensions.AuthInfo, len(s.config.Auth.Tokens))
			for _, t := range s.config.Auth.Tokens {
				tokens[t.Token] = extensions.AuthInfo{UserID: t.UserID, Name: t.Name, Email: t.Email}
			}
			s.opts = s.opts.WithAuth(extensions.NewStaticTokenAuthProvider(tokens))
		}
	}
	if s.opts.AuthProvider == nil {
		s.opts.AuthProvider = &extensions.NopAuthProvider{}
	}
	if s.config.Gateway.Token != "" {
		s.opts.CredentialSource = extensions.StaticCredentialSource{Token: s.config.Gateway.Token}
	}
	if s.opts.CredentialSource == nil {
		s.opts.CredentialSource = extensions.RequestCredentialSource{}
	}
}

// initBackend builds the generation backend.
func (s *service) initBackend() error {
	if !s.config.InProcess() {
		s.backend = gateway.NewHTTPGateway(s.config.Gateway.URL, nil)
		s.logger.Info("using remote generation gateway", "url", s.config.Gateway.URL)
		return nil
	}

	dbCfg := s.config.Database
	dbCfg.Logger = s.logger
	db, err := store.OpenDB(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db
	s.sessions = store.NewSessionRepository(db)
	s.parties = store.NewPartyRepository(db)

	audit := s.opts.AuditLogger
	if _, nop := audit.(*extensions.NopAuditLogger); nop || audit == nil {
		audit = store.NewAuditRepository(db)
		s.opts.AuditLogger = audit
	}

	catalog, err := s.loadCatalog()
	if err != nil {
		return err
	}

	client, err := llm.New(s.config.LLM)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	if client == nil {
		s.logger.Warn("no LLM provider configured, clauses use template text")
	}

	var refs direct.ReferenceFinder
	if s.config.Weaviate.URL != "" {
		finder, err := direct.NewWeaviateReferences(s.config.Weaviate)
		if err != nil {
			s.logger.Warn("legal reference search disabled", "error", err)
		} else {
			refs = finder
		}
	}

	gw, err := direct.New(direct.Deps{
		Catalog:    catalog,
		Sessions:   s.sessions,
		Parties:    s.parties,
		LLM:        client,
		References: refs,
		Audit:      audit,
		Logger:     s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create direct gateway: %w", err)
	}
	s.backend = gw

	if s.config.TemplatesFile != "" && s.config.WatchTemplates {
		w, err := direct.NewCatalogWatcher(s.config.TemplatesFile, gw, 0, s.logger)
		if err != nil {
			return fmt.Errorf("failed to watch templates: %w", err)
		}
		s.catalogWatcher = w
	}
	return nil
}

func (s *service) loadCatalog() (*direct.Catalog, error) {
	if s.config.TemplatesFile == "" {
		return direct.DefaultCatalog()
	}
	catalog, err := direct.LoadCatalogFile(s.config.TemplatesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	return catalog, nil
}

// initWorkflow opens the draft registry over a disciplined gateway.
func (s *service) initWorkflow() error {
	execOpts := []discipline.ExecutorOption{
		discipline.WithRecorder(s.metrics),
		discipline.WithLogger(s.logger),
	}
	if s.config.Gateway.RateLimit > 0 {
		execOpts = append(execOpts, discipline.WithRateLimit(s.config.Gateway.RateLimit, s.config.Gateway.Burst))
	}
	exec := discipline.NewExecutor(s.opts.CredentialSource, execOpts...)
	policies := discipline.DefaultPolicies().WithTimeouts(s.config.Gateway.Timeout, s.config.Gateway.ApprovalTimeout)
	disciplined := gateway.NewDisciplined(s.backend, exec, policies)

	draftsCfg := s.config.Drafts
	if draftsCfg.Logger == nil {
		draftsCfg.Logger = s.logger
	}
	cache, err := store.OpenDraftCache(draftsCfg)
	if err != nil {
		return fmt.Errorf("failed to open draft cache: %w", err)
	}
	s.drafts = cache

	registry, err := workflow.NewRegistry(workflow.Deps{
		Gateway:       disciplined,
		Sessions:      disciplined,
		Parties:       disciplined,
		Metrics:       s.metrics,
		Logger:        s.logger,
		DebounceQuiet: s.config.Workflow.DebounceQuiet,
		NoticeWindow:  s.config.Workflow.NoticeWindow,
	}, cache)
	if err != nil {
		return fmt.Errorf("failed to create draft registry: %w", err)
	}
	s.registry = registry

	if s.sessions != nil && s.config.Sweeper.Enabled {
		s.sweeper = store.NewExpirySweeper(s.sessions, s.opts.AuditLogger, s.metrics, s.config.Sweeper.SweeperConfig)
		s.sweeper.OnAbandoned = registry.MarkAbandoned
	}
	return nil
}

// initRouter registers middleware and routes.
func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.config.ServiceName))

	var gen *routes.Generation
	if s.config.Mode == ModeGateway {
		gen = &routes.Generation{Backend: s.backend, Parties: s.parties}
	}
	routes.SetupRoutes(s.router, s.opts.AuthProvider, gen, s.registry)
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run serves until ctx ends.
func (s *service) Run(ctx context.Context) error {
	if s.registry != nil {
		if _, err := s.registry.RestoreAll(ctx); err != nil {
			s.logger.Warn("draft restore failed", "error", err)
		}
	}
	if s.sweeper != nil {
		if err := s.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("failed to start expiry sweeper: %w", err)
		}
		defer s.sweeper.Stop()
	}
	if s.catalogWatcher != nil {
		if err := s.catalogWatcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start template watcher: %w", err)
		}
		defer s.catalogWatcher.Stop()
	}

	server := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting contracts server", "addr", s.config.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down contracts server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// Router returns the Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close releases every resource New opened.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.sweeper != nil {
			s.sweeper.Stop()
		}
		if s.catalogWatcher != nil {
			s.catalogWatcher.Stop()
		}
		if s.drafts != nil {
			if err := s.drafts.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close draft cache: %w", err))
			}
		}
		if s.db != nil {
			if err := store.CloseDB(s.db); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
		if s.tracerCleanup != nil {
			s.tracerCleanup(context.Background())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
