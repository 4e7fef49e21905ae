package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian/internal/app"
	"github.com/meridian-erp/meridian/internal/costing"
	"github.com/meridian-erp/meridian/internal/fx"
	"github.com/meridian-erp/meridian/internal/ledger"
	"github.com/meridian-erp/meridian/internal/observability"
	"github.com/meridian-erp/meridian/internal/platform/db"
	"github.com/meridian-erp/meridian/internal/shared"
	"github.com/meridian-erp/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()

	ledgerService := ledger.NewService(ledger.NewRepository(pool), nil, logger, metrics)
	costingService := costing.NewService(costing.NewRepository(pool), nil, logger, metrics,
		costing.ServiceConfig{ZeroCostPolicy: costing.ZeroCostPolicy(cfg.ZeroCostPolicy)})
	fxRepo := fx.NewRepository(pool)

	integrityJob := jobs.NewLedgerIntegrityJob(ledgerService, logger)
	costingScanJob := jobs.NewCostingScanJob(costingService, logger)
	fxGapJob := jobs.NewFXGapScanJob(fxRepo, cfg.FXWatchedPairs, cfg.FXGapWindowDays, logger)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), 0, logger)

	now := time.Now().UTC()
	integrityTask, err := jobs.NewLedgerIntegrityTask(now)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	costingTask, err := jobs.NewCostingScanTask(now)
	if err != nil {
		logger.Error("build costing scan task", slog.Any("error", err))
		os.Exit(1)
	}
	fxTask, err := jobs.NewFXGapScanTask(now)
	if err != nil {
		logger.Error("build fx gap task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(now)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskCostingScan, Handler: costingScanJob.Handle},
			{Type: jobs.TaskFXGapScan, Handler: fxGapJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 2 * * *", Task: integrityTask},
			{Spec: "45 2 * * *", Task: costingTask},
			{Spec: "0 7 * * 1-5", Task: fxTask},
			{Spec: "30 3 * * 0", Task: cleanupTask},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	healthServer := &http.Server{Addr: ":8081", Handler: router}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker health server", slog.Any("error", err))
		}
	}()

	logger.Info("meridian worker up", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = healthServer.Shutdown(shutdownCtx)
	logger.Info("meridian worker stopped")
}
