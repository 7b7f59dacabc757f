package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfhttp "github.com/veloraops/conductor/internal/adapter/http"
	cfnats "github.com/veloraops/conductor/internal/adapter/nats"
	"github.com/veloraops/conductor/internal/adapter/natskv"
	cfotel "github.com/veloraops/conductor/internal/adapter/otel"
	"github.com/veloraops/conductor/internal/adapter/postgres"
	"github.com/veloraops/conductor/internal/adapter/ristretto"
	"github.com/veloraops/conductor/internal/adapter/tiered"
	"github.com/veloraops/conductor/internal/adapter/ws"
	"github.com/veloraops/conductor/internal/audit"
	"github.com/veloraops/conductor/internal/config"
	"github.com/veloraops/conductor/internal/domain/workflow"
	"github.com/veloraops/conductor/internal/engine"
	"github.com/veloraops/conductor/internal/logger"
	"github.com/veloraops/conductor/internal/middleware"
	"github.com/veloraops/conductor/internal/port/broadcast"
	"github.com/veloraops/conductor/internal/registry"
	"github.com/veloraops/conductor/internal/resilience"
	"github.com/veloraops/conductor/internal/router"
	"github.com/veloraops/conductor/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pool_size", cfg.Dispatch.PoolSize,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Telemetry ---
	otelShutdown, err := cfotel.Init(ctx, cfg.Logging.Service, cfg.OTel.Endpoint, cfg.OTel.Enabled)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = otelShutdown(shutdownCtx)
	}()

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() {
		if err := queue.Drain(); err != nil {
			slog.Error("nats drain failed", "error", err)
		}
	}()

	// --- Context cache (local level over remote KV level) ---
	local, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("local cache: %w", err)
	}
	defer local.Close()

	kv, err := queue.CacheBucket(ctx, cfg.NATS.CacheBucket)
	if err != nil {
		return fmt.Errorf("cache bucket: %w", err)
	}
	remote := natskv.New(kv)

	// Notifications fan out to NATS subjects and connected dashboards.
	hub := ws.NewHub()
	bus := broadcast.Multi{queue.Notifier(), hub}

	contextCache := tiered.New(local, remote, bus)

	// --- Services ---
	store := postgres.NewStore(pool)
	auditLog := audit.New(store)

	reg := registry.New()
	if err := reg.LoadFile(cfg.Registry.WorkersFile); err != nil {
		return fmt.Errorf("worker registry: %w", err)
	}

	defs, err := workflow.LoadDir(cfg.Engine.DefinitionsDir)
	if err != nil {
		return fmt.Errorf("workflow definitions: %w", err)
	}
	slog.Info("workflow definitions loaded", "count", len(defs))

	rt := router.New(cfg.Router, reg, nil)
	ctrl := resilience.NewController(reg, queue.WorkerClient(), auditLog, bus, cfg.Retry, cfg.Breaker)
	eng := engine.New(defs, store, contextCache, auditLog, bus, cfg.Engine)

	orch := service.NewOrchestrator(rt, ctrl, eng, reg, contextCache, auditLog, queue, metrics, cfg.Dispatch)
	if err := orch.Start(ctx, cfg.Dispatch.PoolSize); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	defer func() { _ = orch.Close() }()

	go eng.RunTimeoutSweep(ctx)

	// --- HTTP ---
	handlers := &cfhttp.Handlers{
		Orchestrator: orch,
		Engine:       eng,
		Hub:          hub,
		Queue:        queue,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()

	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(middleware.TrackingID)
	r.Use(cfhttp.Logger)
	r.Use(cfotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(limiter.Handler)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	cfhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Stop accepting new work, then drain in-flight events before the
	// deferred NATS close.
	cancel()
	return nil
}
