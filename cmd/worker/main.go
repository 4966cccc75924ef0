package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"refiner/internal/adapter/repo"
	"refiner/internal/bootstrap"
	"refiner/internal/infra"
	"refiner/internal/observability"
	"refiner/internal/relay"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	metrics, metricsHandler, err := observability.NewMetrics(ctx, "skin-refiner-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: metrics init failed")
	}

	deps, err := bootstrap.NewRelay(ctx, cfg, runner, &logger, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: relay init failed")
	}
	defer deps.Close()

	sweeper := relay.NewSweeper(relay.SweeperConfig{
		Repo:       repo.NewProjectRepository(runner),
		Source:     deps.Status,
		Reconciler: deps.Reconciler,
		Logger:     &logger,
		Metrics:    metrics,
		StaleAfter: cfg.SweepStaleAfter,
		Timeout:    cfg.JobTimeout,
		Batch:      cfg.SweepBatch,
	})

	metricsServer := infra.NewMetricsServer(cfg, metricsHandler)
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.Error().Err(err).Msg("worker: metrics server failed")
		}
	}()

	logger.Info().
		Dur("interval", cfg.SweepInterval).
		Dur("stale_after", cfg.SweepStaleAfter).
		Dur("timeout", cfg.JobTimeout).
		Msg("worker started")

	if err := sweeper.Run(ctx, cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: sweeper stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info().Msg("worker stopped")
}
