package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/lca-filing-automation/cmd/mainconfig"
	"github.com/wolfman30/lca-filing-automation/internal/api/router"
	"github.com/wolfman30/lca-filing-automation/internal/app/bootstrap"
	appconfig "github.com/wolfman30/lca-filing-automation/internal/config"
	"github.com/wolfman30/lca-filing-automation/internal/http/handlers"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting lca-filing-automation API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"portal", cfg.PortalURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgPool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	var sqlDB *sql.DB
	if pgPool != nil {
		defer pgPool.Close()
		sqlDB = stdlib.OpenDBFromPool(pgPool)
		defer func() { _ = sqlDB.Close() }()
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	var awsCfg *aws.Config
	if loaded, err := mainconfig.LoadAWSConfig(ctx, cfg); err != nil {
		logger.Warn("AWS config unavailable; AWS-backed components disabled", "error", err)
	} else {
		awsCfg = &loaded
	}

	rt, err := bootstrap.BuildFilingRuntime(ctx, cfg, bootstrap.Infra{
		SQL:        sqlDB,
		PG:         pgPool,
		Redis:      redisClient,
		AWS:        awsCfg,
		Registerer: prometheus.DefaultRegisterer,
	}, logger)
	if err != nil {
		logger.Error("failed to build filing runtime", "error", err)
		os.Exit(1)
	}
	logger.Info("filing runtime ready", "result_store", rt.ResultStore, "queue", rt.Dispatcher != nil)
	rt.Start(ctx)

	filings := handlers.NewFilingsHandler(rt.Service, logger)
	r := router.New(&router.Config{
		Logger:             logger,
		Filings:            filings,
		ProgressStream:     handlers.NewProgressStream(rt.Broadcaster, rt.Service, cfg.CORSAllowedOrigins, logger),
		Health:             handlers.NewHealth(healthChecks(rt, sqlDB)),
		MetricsHandler:     promhttp.Handler(),
		OperatorSecret:     cfg.OperatorJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		SubmitRatePerSec:   cfg.SubmitRatePerSec,
		SubmitBurst:        cfg.SubmitBurst,
	})
	if cfg.OperatorJWTSecret == "" {
		logger.Warn("OPERATOR_JWT_SECRET not set; filing API is unauthenticated")
	}

	// Inline filings (?wait=true) and websocket streams outlive a normal
	// write timeout, so only reads are bounded.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	// Stopping workers cancels filings still waiting on an operator.
	cancel()
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Error("filing runtime shutdown", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		logger.Warn("DATABASE_URL not set; results and outbox use fallbacks")
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func healthChecks(rt *bootstrap.Runtime, db *sql.DB) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"browser": func(ctx context.Context) error {
			if !rt.Browser.IsReady(ctx) {
				return errors.New("browser sidecar not ready")
			}
			return nil
		},
	}
	if db != nil {
		checks["database"] = db.PingContext
	}
	return checks
}
