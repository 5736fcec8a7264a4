// Chargeflow - Charge rule lifecycle and calculation engine.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/chargeflow/internal/api"
	"github.com/opensource-finance/chargeflow/internal/batch"
	"github.com/opensource-finance/chargeflow/internal/bus"
	"github.com/opensource-finance/chargeflow/internal/cache"
	"github.com/opensource-finance/chargeflow/internal/charges"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/opensource-finance/chargeflow/internal/harness"
	"github.com/opensource-finance/chargeflow/internal/lifecycle"
	"github.com/opensource-finance/chargeflow/internal/repository"
	"github.com/opensource-finance/chargeflow/internal/settlement"
	"github.com/opensource-finance/chargeflow/internal/stats"
	"github.com/opensource-finance/chargeflow/internal/telemetry"
	"github.com/opensource-finance/chargeflow/internal/users"
	"github.com/opensource-finance/chargeflow/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(envFile()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "chargeflow: %v\n", err)
		os.Exit(1)
	}

	cfg, err := domain.LoadConfig(os.Getenv("CHARGEFLOW_TIER"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "chargeflow: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Logging))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("chargeflow stopped with error", "error", err)
		os.Exit(1)
	}
}

// run wires the components for cfg and serves until ctx is cancelled.
// Deferred closes run in reverse order of construction.
func run(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting chargeflow",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("trace flush failed", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer repo.Close()

	store, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer store.Close()

	events, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer events.Close()

	engine, err := charges.NewEngine(repo, repo, store, cfg.Cache.CustomerTTL)
	if err != nil {
		return fmt.Errorf("charge engine: %w", err)
	}
	if err := engine.Refresh(ctx); err != nil {
		return fmt.Errorf("load active rules: %w", err)
	}

	ruleSync := worker.NewWorker(events, engine)
	if spec := cfg.Engine.ResyncSchedule; spec != "" && spec != "off" {
		if err := ruleSync.ScheduleResync(spec); err != nil {
			return err
		}
	}
	if err := ruleSync.Start(); err != nil {
		return fmt.Errorf("rule sync: %w", err)
	}
	defer ruleSync.Stop()

	slog.Info("components ready",
		"node_id", bus.NodeID(),
		"active_rules", engine.Snapshot().Len(),
		"batch_concurrency", cfg.Engine.BatchConcurrency,
	)

	srv := api.NewServer(cfg.Server, api.Services{
		Repo:        repo,
		Cache:       store,
		Bus:         events,
		Engine:      engine,
		Lifecycle:   lifecycle.NewService(repo, engine.Conditions(), engine, events),
		Batch:       batch.NewProcessor(engine, events, cfg.Engine),
		Harness:     harness.New(engine, repo, cfg.Engine),
		Settlements: settlement.NewWorkflow(repo, events),
		Users:       users.NewService(repo),
		Stats:       stats.NewTracker(store, repo),
		RuleSync:    ruleSync,
		Version:     Version,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	printBanner(cfg, Version)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}
	return nil
}

func envFile() string {
	if p := os.Getenv("CHARGEFLOW_ENV_FILE"); p != "" {
		return p
	}
	return ".env"
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	root := cfg.Server.APIRoot
	if root == "" {
		root = api.DefaultAPIRoot
	}

	fmt.Println()
	fmt.Println("  CHARGEFLOW - charge rules and calculation")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d%s\n", cfg.Server.Host, cfg.Server.Port, root)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /rules                  - List rules")
	fmt.Println("    POST /rules                  - Create a DRAFT rule")
	fmt.Println("    POST /rules/{id}/approve     - Activate a DRAFT rule")
	fmt.Println("    POST /rules/{id}/deactivate  - Deactivate an ACTIVE rule")
	fmt.Println("    POST /rules/{id}/reactivate  - Reactivate an INACTIVE rule")
	fmt.Println("    POST /charges/calculate      - Calculate charges for a transaction")
	fmt.Println("    POST /charges/bulk-calculate - Calculate a batch")
	fmt.Println("    POST /charges/test           - Run a test suite")
	fmt.Println("    GET  /settlements            - List settlements")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println("    GET  /metrics                - Prometheus metrics (no prefix)")
	fmt.Println()
}
