// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gridlock provides the collaborative crossword session service.
//
// This package contains the main service type that coordinates all
// components: the write-back session cache and save scheduler, the
// embedded BadgerDB store, the puzzle catalog, the websocket hub, HTTP
// routing, and observability infrastructure.
//
// # Usage
//
//	cfg := gridlock.Config{Port: 12400}
//	svc, err := gridlock.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// Deployments with their own auth stack pass a custom
// middleware.IdentityProvider as the second argument.
package gridlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/Gridlock/services/gridlock/middleware"
	"github.com/AleutianAI/Gridlock/services/gridlock/notify"
	"github.com/AleutianAI/Gridlock/services/gridlock/observability"
	"github.com/AleutianAI/Gridlock/services/gridlock/realtime"
	"github.com/AleutianAI/Gridlock/services/gridlock/routes"
	"github.com/AleutianAI/Gridlock/services/gridlock/session"
	"github.com/AleutianAI/Gridlock/services/gridlock/storage"
)

// Service defines the contract for the Gridlock service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// service implements Service for production use.
//
// # Fields
//
//   - config: Service configuration with defaults applied.
//   - router: Gin HTTP engine.
//   - db: Embedded BadgerDB handle.
//   - catalog: Puzzle catalog with hot reload.
//   - coordinator: The session engine core.
//   - hub: Websocket room fabric.
//   - dispatcher: Post-commit event pump.
//   - tracerCleanup: Shuts the OTLP exporter down on exit.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	db            *storage.DB
	catalog       *storage.FileCatalog
	coordinator   *session.Coordinator
	hub           *realtime.Hub
	dispatcher    *notify.Dispatcher
	tracerCleanup func(context.Context)
}

// New creates a Gridlock Service with the given configuration.
//
// # Description
//
// New initializes all components in dependency order:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Opens the embedded session store
//  5. Loads the puzzle catalog and starts its directory watcher
//  6. Builds the coordinator, hub, and notifier
//  7. Sets up HTTP routes
//
// If provider is nil, the header-based identity provider is used.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - provider: Identity resolution. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run service.
//   - error: Non-nil if initialization fails.
func New(cfg Config, provider middleware.IdentityProvider) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for session engine")
	}

	if err := s.initStorage(); err != nil {
		s.cleanup()
		return nil, err
	}

	s.dispatcher = notify.NewDispatcher(nil, s.config.NotifyBuffer, slog.Default())

	coordinator, err := session.NewCoordinator(session.Config{
		Store:          storage.NewSessionStore(s.db, slog.Default()),
		Catalog:        s.catalog,
		Notifier:       s.dispatcher,
		CacheCapacity:  s.config.CacheCapacity,
		CacheThreshold: s.config.CacheThreshold,
		SaveDebounce:   s.config.SaveDebounce,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize coordinator: %w", err)
	}
	s.coordinator = coordinator

	s.hub = realtime.NewHub(s.coordinator, slog.Default())
	s.coordinator.SetBroadcaster(s.hub)

	s.initRouter(provider)
	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting Gridlock server",
		"port", s.config.Port,
		"puzzle_count", s.catalog.Len(),
		"db_path", s.config.DBPath)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// initStorage opens the session database and loads the puzzle catalog.
func (s *service) initStorage() error {
	dbCfg := storage.DefaultConfig()
	dbCfg.Path = s.config.DBPath
	dbCfg.InMemory = s.config.DBInMemory
	dbCfg.Logger = slog.Default()

	db, err := storage.OpenDB(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	s.db = db

	catalog, err := storage.NewFileCatalog(s.config.PuzzleDir, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to load puzzle catalog: %w", err)
	}
	s.catalog = catalog
	return nil
}

// initRouter configures the Gin engine and registers all routes.
func (s *service) initRouter(provider middleware.IdentityProvider) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Logger(), gin.Recovery())
	s.router.Use(otelgin.Middleware("gridlock-service"))

	routes.SetupRoutes(s.router, s.coordinator, s.hub, provider)
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("gridlock-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

// cleanup releases resources in reverse initialization order. Dirty cache
// entries are flushed before the database closes.
func (s *service) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.coordinator != nil {
		if err := s.coordinator.Close(ctx); err != nil {
			slog.Error("failed to flush sessions on shutdown", "error", err)
		}
	}
	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
	if s.catalog != nil {
		if err := s.catalog.Close(); err != nil {
			slog.Error("failed to stop puzzle catalog watcher", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("failed to close session store", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(ctx)
	}
}
