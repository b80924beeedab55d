// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog assembles the theorem library catalog service.
//
// The catalog tracks formally verified proof projects keyed by
// (repository URL, commit), their declared dependency graph, and the
// verification and compilation status of each project. This package wires
// the pieces together: the Badger-backed graph store, the status tracker,
// the bounded per-pipeline job queues with their worker pools, the query
// engine, and the gin REST surface.
//
// # Usage
//
//	cfg, err := config.Load(os.Getenv("THEOREMLIB_CONFIG"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := catalog.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// # Lifecycle
//
// New initializes every component and rehydrates the in-memory state from
// the persistence snapshot. Run starts the worker pools, the HTTP server,
// and the config watcher, then blocks until SIGINT/SIGTERM, draining the
// server within the configured shutdown window.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/maxwell3025/theorem-library/services/catalog/config"
	"github.com/maxwell3025/theorem-library/services/catalog/events"
	"github.com/maxwell3025/theorem-library/services/catalog/graph"
	"github.com/maxwell3025/theorem-library/services/catalog/handlers"
	"github.com/maxwell3025/theorem-library/services/catalog/manifest"
	"github.com/maxwell3025/theorem-library/services/catalog/middleware"
	"github.com/maxwell3025/theorem-library/services/catalog/observability"
	"github.com/maxwell3025/theorem-library/services/catalog/query"
	"github.com/maxwell3025/theorem-library/services/catalog/queue"
	"github.com/maxwell3025/theorem-library/services/catalog/resolver"
	"github.com/maxwell3025/theorem-library/services/catalog/status"
	storage "github.com/maxwell3025/theorem-library/services/catalog/storage/badger"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the catalog service.
//
// Run blocks and should be called at most once per instance. Router and
// Close exist for embedders and tests that drive the engine directly
// instead of running the server.
type Service interface {
	// Run starts the worker pools and the HTTP server and blocks until
	// shutdown or error.
	Run() error

	// Router returns the underlying gin engine for testing.
	Router() *gin.Engine

	// Close releases storage, queues, and the trace exporter without
	// running the service. Run performs the same release on exit; calling
	// Close after Run, or twice, is safe.
	Close() error
}

// =============================================================================
// Implementation
// =============================================================================

// metricsOnce guards the process-wide Prometheus registration; promauto
// registration is not idempotent and tests construct several services in
// one process.
var metricsOnce sync.Once

// service implements Service for production use.
//
// All fields are set in New and read-only afterwards; the components they
// point at handle their own locking.
type service struct {
	config config.Config

	db           *storage.DB
	catalogStore *storage.CatalogStore

	store       *graph.Store
	tracker     *status.Tracker
	broadcaster *events.Broadcaster
	engine      *query.Engine

	queues  handlers.Queues
	runners map[status.Pipeline]*queue.HTTPRunner
	pools   []*queue.Pool

	limiter *rate.Limiter
	watcher *config.Watcher
	router  *gin.Engine

	tracingShutdown func(context.Context) error

	closeOnce sync.Once
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a catalog Service from the given configuration.
//
// Description:
//
//	Initialization order matters: tracing and metrics first so every later
//	component can emit, then storage, then the in-memory state rehydrated
//	from the snapshot, then queues and pools, and the router last. Any
//	failure releases what was already acquired and returns the error.
//
// Inputs:
//
//	cfg - Service configuration. Zero-valued fields fall back to the
//	embedded defaults via applyConfigDefaults, so tests can pass a minimal
//	literal.
//
// Outputs:
//
//	Service - Ready-to-run catalog service.
//	error - Non-nil if storage, rehydration, or tracing setup fails.
func New(cfg config.Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if err := s.initTracing(); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	metricsOnce.Do(func() {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics")
	})

	if err := s.initStorage(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	s.initDomain()

	if err := s.rehydrate(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to rehydrate catalog: %w", err)
	}

	s.initQueues()
	s.initRouter()
	s.initWatcher()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the worker pools, the config watcher, and the HTTP server,
// then blocks until SIGINT/SIGTERM or a fatal server error. On shutdown the
// server drains within the configured window while the pools stop at their
// next dequeue.
func (s *service) Run() error {
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	for _, p := range s.pools {
		pool := p
		group.Go(func() error {
			return pool.Run(ctx)
		})
	}

	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			slog.Warn("Config watcher failed to start; continuing without hot reload", "error", err)
		}
	}

	srv := &http.Server{
		Addr:    s.config.Server.ListenAddress,
		Handler: s.router,
	}
	group.Go(func() error {
		slog.Info("Starting catalog server", "addr", s.config.Server.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		drain := time.Duration(s.config.Server.ShutdownTimeoutSeconds) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		slog.Info("Shutting down catalog server", "drain", drain.String())
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Router returns the underlying gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close releases the service's resources without running it. The release
// happens exactly once no matter how often Close is called or whether Run
// already performed it.
func (s *service) Close() error {
	s.close()
	return nil
}

// close funnels every release path through one sync.Once.
func (s *service) close() {
	s.closeOnce.Do(s.cleanup)
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults layers the embedded defaults under any zero-valued
// fields so a programmatic Config literal behaves like a partial YAML file.
func applyConfigDefaults(cfg config.Config) config.Config {
	def := config.DefaultConfig()

	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = def.Server.ListenAddress
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = def.Server.ShutdownTimeoutSeconds
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = def.Queue.Capacity
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = def.Queue.Workers
	}
	if cfg.Collaborators.VerificationEndpoint == "" {
		cfg.Collaborators.VerificationEndpoint = def.Collaborators.VerificationEndpoint
	}
	if cfg.Collaborators.CompilationEndpoint == "" {
		cfg.Collaborators.CompilationEndpoint = def.Collaborators.CompilationEndpoint
	}
	if cfg.Collaborators.RunTimeoutMinutes == 0 {
		cfg.Collaborators.RunTimeoutMinutes = def.Collaborators.RunTimeoutMinutes
	}
	if cfg.Checkout.Root == "" {
		cfg.Checkout.Root = def.Checkout.Root
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = def.Storage.DataDir
	}
	if cfg.Paper.PDFBaseURL == "" {
		cfg.Paper.PDFBaseURL = def.Paper.PDFBaseURL
	}
	if cfg.Limits.SubmitRPS == 0 {
		cfg.Limits.SubmitRPS = def.Limits.SubmitRPS
	}
	if cfg.Limits.SubmitBurst == 0 {
		cfg.Limits.SubmitBurst = def.Limits.SubmitBurst
	}
	if cfg.Limits.MaxNodes == 0 {
		cfg.Limits.MaxNodes = def.Limits.MaxNodes
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = def.Tracing.Exporter
	}
	if cfg.Tracing.OTLPEndpoint == "" {
		cfg.Tracing.OTLPEndpoint = def.Tracing.OTLPEndpoint
	}
	if cfg.Tracing.Environment == "" {
		cfg.Tracing.Environment = def.Tracing.Environment
	}

	return cfg
}

// initTracing sets up the global OpenTelemetry provider from the service
// config.
func (s *service) initTracing() error {
	tcfg := observability.DefaultTracingConfig()
	tcfg.Exporter = s.config.Tracing.Exporter
	tcfg.OTLPEndpoint = s.config.Tracing.OTLPEndpoint
	tcfg.Environment = s.config.Tracing.Environment

	shutdown, err := observability.InitTracing(context.Background(), tcfg)
	if err != nil {
		return err
	}
	s.tracingShutdown = shutdown
	return nil
}

// initStorage opens the Badger database and wraps it in the catalog
// persister.
func (s *service) initStorage() error {
	scfg := storage.DefaultConfig(s.config.Storage.DataDir)
	if s.config.Storage.InMemory {
		scfg = storage.InMemoryConfig()
	}

	db, err := storage.OpenDB(scfg)
	if err != nil {
		return err
	}
	s.db = db
	s.catalogStore = storage.NewCatalogStore(db, storage.WithStoreLogger(slog.Default()))

	slog.Info("Storage opened", "path", db.Path(), "in_memory", db.InMemory())
	return nil
}

// initDomain builds the in-memory graph store, status tracker, event
// broadcaster, and query engine, all write-through to the persister.
func (s *service) initDomain() {
	s.broadcaster = events.NewBroadcaster()
	s.store = graph.NewStore(
		graph.WithPersister(s.catalogStore),
		graph.WithMaxNodes(s.config.Limits.MaxNodes),
		graph.WithLogger(slog.Default()),
	)
	s.tracker = status.NewTracker(
		status.WithSink(s.broadcaster),
		status.WithPersister(s.catalogStore),
		status.WithLogger(slog.Default()),
	)
	s.engine = query.NewEngine(s.store, s.tracker, query.WithLogger(slog.Default()))
}

// rehydrate replays the persistence snapshot into memory. Jobs do not
// survive a restart: statuses restored as queued or running belonged to a
// dead process and need an explicit re-test, so they are called out loudly.
func (s *service) rehydrate() error {
	stats, err := s.catalogStore.Load(context.Background(), s.store, s.tracker)
	if err != nil {
		return err
	}

	slog.Info("Catalog rehydrated",
		"nodes", stats.Nodes,
		"edges", stats.Edges,
		"statuses", stats.Statuses,
		"dangling_edges", stats.Dangling,
	)
	if stats.Interrupted > 0 {
		slog.Warn("Found statuses interrupted by the previous shutdown; re-test the affected projects",
			"count", stats.Interrupted)
	}
	return nil
}

// initQueues builds one bounded queue, one collaborator runner, and one
// worker pool per pipeline.
func (s *service) initQueues() {
	runTimeout := time.Duration(s.config.Collaborators.RunTimeoutMinutes) * time.Minute
	s.runners = map[status.Pipeline]*queue.HTTPRunner{
		status.PipelineVerification: queue.NewHTTPRunner(
			s.config.Collaborators.VerificationEndpoint, queue.WithRunTimeout(runTimeout)),
		status.PipelineCompilation: queue.NewHTTPRunner(
			s.config.Collaborators.CompilationEndpoint, queue.WithRunTimeout(runTimeout)),
	}

	s.queues = make(handlers.Queues, len(status.AllPipelines()))
	for _, p := range status.AllPipelines() {
		q := queue.NewQueue(p, s.config.Queue.Capacity, queue.WithQueueLogger(slog.Default()))
		s.queues[p] = q
		s.pools = append(s.pools, queue.NewPool(q, s.runners[p], s.tracker,
			queue.WithWorkers(s.config.Queue.Workers),
			queue.WithPoolLogger(slog.Default()),
		))
	}
}

// initRouter sets up the gin engine, middleware, and all routes.
func (s *service) initRouter() {
	res := resolver.NewResolver(s.config.Checkout.Root, resolver.WithLogger(slog.Default()))
	val := manifest.NewValidator(s.store, manifest.WithLogger(slog.Default()))
	s.limiter = middleware.NewSubmitLimiter(s.config.Limits.SubmitRPS, s.config.Limits.SubmitBurst)
	guard := middleware.NewTokenGuard(s.config.InternalToken, slog.Default())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("catalog-service"))
	if m := observability.DefaultMetrics; m != nil {
		router.Use(m.Middleware())
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/projects", middleware.RateLimit(s.limiter),
			handlers.SubmitProject(res, val, s.store, s.tracker, s.queues))
		v1.GET("/projects", handlers.GetProject(s.engine, s.tracker, s.config.Paper.PDFBaseURL))
		v1.GET("/projects/dependencies", handlers.GetProjectDependencies(s.engine))
		v1.GET("/projects/all", handlers.ListProjects(s.store, s.engine, s.tracker, s.config.Paper.PDFBaseURL))
		v1.DELETE("/projects", handlers.DeleteProject(s.store, s.tracker))
		v1.POST("/projects/retest", middleware.RateLimit(s.limiter),
			handlers.RetestProject(s.store, s.tracker, s.queues))
		v1.POST("/dependencies", handlers.AddDependency(s.store))
		v1.GET("/events", handlers.StreamEvents(s.broadcaster))
	}

	internal := router.Group("/internal/v1", guard.Middleware())
	{
		internal.POST("/status", handlers.ReportStatus(s.store, s.tracker))
	}

	s.router = router
}

// initWatcher arms config hot-reload when the config came from a file.
// Only the tunable subset applies live: collaborator endpoints and the
// submit rate limit. Everything structural (queues, storage, listener)
// needs a restart.
func (s *service) initWatcher() {
	if s.config.Path == "" {
		return
	}

	opts := config.DefaultWatcherOptions()
	opts.Logger = slog.Default()
	watcher, err := config.NewWatcher(s.config.Path, s.applyReload, &opts)
	if err != nil {
		slog.Warn("Config watcher unavailable", "path", s.config.Path, "error", err)
		return
	}
	s.watcher = watcher
}

// applyReload pushes a validated config revision into the live components.
func (s *service) applyReload(cfg config.Config) {
	s.runners[status.PipelineVerification].SetEndpoint(cfg.Collaborators.VerificationEndpoint)
	s.runners[status.PipelineCompilation].SetEndpoint(cfg.Collaborators.CompilationEndpoint)
	if s.limiter != nil {
		s.limiter.SetLimit(rate.Limit(cfg.Limits.SubmitRPS))
		s.limiter.SetBurst(cfg.Limits.SubmitBurst)
	}

	slog.Info("Applied config reload",
		"verification_endpoint", cfg.Collaborators.VerificationEndpoint,
		"compilation_endpoint", cfg.Collaborators.CompilationEndpoint,
		"submit_rps", cfg.Limits.SubmitRPS,
		"submit_burst", cfg.Limits.SubmitBurst,
	)
}

// cleanup releases all resources held by the service. Called when Run exits
// or on a failed New.
func (s *service) cleanup() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	for _, q := range s.queues {
		q.Close()
	}
	if s.broadcaster != nil {
		s.broadcaster.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("Storage close error", "error", err)
		}
	}
	if s.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracingShutdown(ctx); err != nil {
			slog.Error("Failed to shut down trace exporter", "error", err)
		}
	}
}
