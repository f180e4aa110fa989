package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentpay/guard-go/internal/config"
	"github.com/agentpay/guard-go/internal/domain"
	"github.com/agentpay/guard-go/internal/handler"
	"github.com/agentpay/guard-go/internal/infra/cache"
	"github.com/agentpay/guard-go/internal/infra/memstore"
	"github.com/agentpay/guard-go/internal/infra/observability"
	"github.com/agentpay/guard-go/internal/infra/postgres"
	"github.com/agentpay/guard-go/internal/infra/resilience"
	"github.com/agentpay/guard-go/internal/infra/walletd"
	"github.com/agentpay/guard-go/internal/port"
	"github.com/agentpay/guard-go/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("use_postgres", cfg.DatabaseURL != ""),
		zap.Duration("store_timeout", cfg.StoreTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.String("default_daily_limit", cfg.DefaultDailyLimit.String()),
		zap.String("default_monthly_limit", cfg.DefaultMonthlyLimit.String()),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "agentpay-guard")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	limitCache := cache.New[*domain.SpendLimit](cfg.CacheTTL)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("walletd")
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)

	// --- Store ---
	var store port.Store
	if cfg.DatabaseURL != "" {
		logger.Info("using PostgreSQL store")
		pg, err := postgres.New(context.Background(), cfg.DatabaseURL, cfg.StoreTimeout, logger)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.EnsureSchema(context.Background()); err != nil {
			logger.Fatal("failed to ensure schema", zap.Error(err))
		}
		store = pg
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store (state is lost on restart)")
		store = memstore.New()
	}

	// --- Wallet provider ---
	var provider port.WalletProvider
	if cfg.WalletdURL != "" {
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		provider = walletd.New(httpClient, cfg.WalletdURL, cfg.WalletdAPIKey, cb, resilienceCfg)
		logger.Info("wallet provider enabled", zap.String("walletd_url", cfg.WalletdURL))
	} else {
		logger.Warn("WALLETD_URL not set, unknown wallets default to active")
	}

	// --- Service ---
	svc := service.NewGuardService(
		store,
		provider,
		limitCache,
		service.LimitDefaults{Daily: cfg.DefaultDailyLimit, Monthly: cfg.DefaultMonthlyLimit},
		metrics,
		logger,
	)

	// --- Router ---
	router := handler.NewRouter(svc, metrics, cfg.JWTSecret, bulkhead, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
