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
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-erp/meridian/internal/app"
	"github.com/meridian-erp/meridian/internal/audit"
	"github.com/meridian-erp/meridian/internal/costing"
	"github.com/meridian-erp/meridian/internal/fx"
	"github.com/meridian-erp/meridian/internal/ledger"
	"github.com/meridian-erp/meridian/internal/observability"
	"github.com/meridian-erp/meridian/internal/platform/cache"
	"github.com/meridian-erp/meridian/internal/platform/db"
	"github.com/meridian-erp/meridian/internal/reporting"
	"github.com/meridian-erp/meridian/internal/shared"
	"github.com/meridian-erp/meridian/internal/transfer"
)

// Core groups the wired financial services. The presentation/API layer
// mounts on top of this host process.
type Core struct {
	Ledger    *ledger.Service
	FX        *fx.Service
	Costing   *costing.Service
	Transfers *transfer.Service
	Reporting *reporting.Service
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, fx cache disabled", slog.Any("error", err))
		redisClient = nil
	}

	metrics := observability.NewMetrics()
	recorder := audit.NewRecorder(pool, logger)
	idemStore := shared.NewIdempotencyStore(pool)

	var rateCache *fx.RateCache
	if redisClient != nil {
		rateCache = fx.NewRateCache(redisClient, cfg.FXCacheTTL)
	}
	fxService := fx.NewService(fx.NewRepository(pool), rateCache, logger, metrics)
	ledgerService := ledger.NewService(ledger.NewRepository(pool), recorder, logger, metrics)
	costingService := costing.NewService(costing.NewRepository(pool), recorder, logger, metrics,
		costing.ServiceConfig{ZeroCostPolicy: costing.ZeroCostPolicy(cfg.ZeroCostPolicy)})
	transferService := transfer.NewService(transfer.NewRepository(pool), costingService, recorder, idemStore, logger)
	reportingService := reporting.NewService(reporting.NewRepository(pool), fxService, logger)

	core := Core{
		Ledger:    ledgerService,
		FX:        fxService,
		Costing:   costingService,
		Transfers: transferService,
		Reporting: reportingService,
	}

	// Boot probe: a diverging trial balance means corrupt books and is
	// worth knowing before serving anything.
	if report, err := core.Ledger.TrialBalance(ctx, time.Now().UTC()); err != nil {
		logger.Error("boot trial balance probe", slog.Any("error", err))
	} else {
		logger.Info("boot trial balance probe passed", slog.Int("accounts", len(report.Rows)))
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("meridian core up",
			slog.String("addr", cfg.AppAddr),
			slog.String("reporting_currency", cfg.ReportingCurrency),
			slog.String("zero_cost_policy", cfg.ZeroCostPolicy))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	logger.Info("meridian core stopped")
}
