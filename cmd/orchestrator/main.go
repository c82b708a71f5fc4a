// Command orchestrator runs a worker: it admits dispatched runs over NATS,
// HTTP, and MCP, executes them in sandboxed containers, and reports results
// back to the control plane.
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

	"github.com/agentsdashboard/orchestrator/internal/adapter/dockercli"
	"github.com/agentsdashboard/orchestrator/internal/adapter/gitcli"
	"github.com/agentsdashboard/orchestrator/internal/adapter/harnessexec"
	orchttp "github.com/agentsdashboard/orchestrator/internal/adapter/http"
	"github.com/agentsdashboard/orchestrator/internal/adapter/mcp"
	"github.com/agentsdashboard/orchestrator/internal/adapter/memledger"
	orcnats "github.com/agentsdashboard/orchestrator/internal/adapter/nats"
	"github.com/agentsdashboard/orchestrator/internal/adapter/natskv"
	"github.com/agentsdashboard/orchestrator/internal/adapter/otel"
	"github.com/agentsdashboard/orchestrator/internal/adapter/postgres"
	"github.com/agentsdashboard/orchestrator/internal/adapter/ristretto"
	"github.com/agentsdashboard/orchestrator/internal/adapter/tiered"
	"github.com/agentsdashboard/orchestrator/internal/adapter/ws"
	"github.com/agentsdashboard/orchestrator/internal/bus"
	"github.com/agentsdashboard/orchestrator/internal/config"
	"github.com/agentsdashboard/orchestrator/internal/domain/container"
	"github.com/agentsdashboard/orchestrator/internal/git"
	"github.com/agentsdashboard/orchestrator/internal/logger"
	"github.com/agentsdashboard/orchestrator/internal/middleware"
	"github.com/agentsdashboard/orchestrator/internal/port/cache"
	"github.com/agentsdashboard/orchestrator/internal/port/ledger"
	"github.com/agentsdashboard/orchestrator/internal/service"
)

const version = "0.1.0"

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
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"worker_id", cfg.Worker.ID,
		"port", cfg.Server.Port,
		"max_slots", cfg.Worker.MaxSlots,
		"ledger", cfg.Worker.Ledger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Observability ---

	otelShutdown, err := otel.Init(ctx, cfg.OTel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = otelShutdown(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Run ledger ---

	var store ledger.Store
	switch cfg.Worker.Ledger {
	case "memory":
		store = memledger.NewStore()
		slog.Info("using in-memory run ledger")
	default:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		store = postgres.NewStore(pool)
		slog.Info("postgres ledger ready")
	}

	// --- NATS ---

	mq, err := orcnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = mq.Close() }()

	// --- Event bus ---

	b := bus.New()
	defer b.Close()

	// --- Workspaces and container runtime ---

	gitPool := git.NewPool(cfg.Git.MaxConcurrent)
	workspaces := gitcli.NewManager(cfg.Worker.WorkspacesRoot, gitPool)

	runtime := dockercli.NewRuntime()

	sandbox := container.SandboxProfile{
		CPULimit:        cfg.Sandbox.CPULimit,
		MemoryLimit:     cfg.Sandbox.MemoryLimit,
		NetworkDisabled: cfg.Sandbox.NetworkDisabled,
		ReadOnlyRootFS:  cfg.Sandbox.ReadOnlyRootFS,
	}
	runner := harnessexec.NewRunner(runtime, cfg.Sandbox.Image, sandbox, cfg.Sandbox.User)
	harnessexec.Register(runner)

	// --- Dispatch queue and crash recovery ---

	queue := service.NewDispatchQueue(cfg.Worker.MaxSlots, store)
	if err := queue.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	// --- Snapshot cache ---

	snapshots := service.NewSnapshots(store, snapshotCache(ctx, cfg.Cache, mq), cfg.Cache.L2TTL)

	// --- Services ---

	reconciler := service.NewReconciler(runtime, queue, metrics, cfg.Worker.ReconcileInterval)
	go reconciler.Run(ctx)

	gateway := service.NewGateway(cfg.Worker.ID, queue, store, snapshots, reconciler, b)
	unbind, err := gateway.BindNATS(ctx, mq)
	if err != nil {
		return fmt.Errorf("nats bindings: %w", err)
	}
	defer unbind()

	processor := service.NewProcessor(queue, store, workspaces, runtime, b, mq, metrics, cfg.Worker)
	go func() {
		if err := processor.Run(ctx); err != nil {
			slog.Error("processor stopped", "error", err)
		}
	}()

	heartbeater := service.NewHeartbeater(gateway, mq, cfg.Worker.HeartbeatInterval)
	go heartbeater.Run(ctx)

	// --- WebSocket fanout ---

	hub := ws.NewHub()
	go hub.Pump(ctx, b)

	// --- MCP server ---

	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(
			mcp.ServerConfig{Addr: cfg.MCP.Addr, APIKey: cfg.MCP.APIKey, Name: "orchestrator", Version: version},
			mcp.ServerDeps{Dispatcher: gateway, Runs: gateway, Status: gateway},
		)
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		defer func() {
			stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			_ = mcpSrv.Stop(stopCtx)
		}()
	}

	// --- HTTP ---

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(orchttp.SecurityHeaders)
	r.Use(orchttp.CORS(cfg.Server.CORSOrigin))
	r.Use(orchttp.Logger)
	if cfg.OTel.Enabled {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	orchttp.MountRoutes(r, orchttp.NewHandlers(gateway), hub)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownGrace+10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	processor.Shutdown(shutdownCtx)
	cancel()
	if err := mq.Drain(); err != nil {
		slog.Error("nats drain", "error", err)
	}

	return nil
}

// snapshotCache builds the tiered run-snapshot cache: ristretto in front of a
// NATS KV bucket. If the bucket cannot be created the cache degrades to L1
// only; a worker without a shared cache still serves reads from the ledger.
func snapshotCache(ctx context.Context, cfg config.Cache, mq *orcnats.Queue) cache.Cache {
	l1, err := ristretto.New(cfg.L1MaxSizeMB << 20)
	if err != nil {
		slog.Warn("ristretto cache unavailable", "error", err)
		return nil
	}
	kv, err := mq.KeyValue(ctx, cfg.L2Bucket, cfg.L2TTL)
	if err != nil {
		slog.Warn("nats kv bucket unavailable, using local cache only", "error", err)
		return l1
	}
	return tiered.New(l1, natskv.New(kv), cfg.L2TTL)
}
