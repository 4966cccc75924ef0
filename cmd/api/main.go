package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"refiner/internal/adapter/repo"
	"refiner/internal/bootstrap"
	"refiner/internal/http/handlers"
	httpapi "refiner/internal/http/httpapi"
	"refiner/internal/infra"
	"refiner/internal/observability"
	"refiner/internal/relay"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	runner := infra.NewSQLRunner(dbpool, logger)

	metrics, metricsHandler, err := observability.NewMetrics(ctx, "skin-refiner-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init metrics")
	}

	deps, err := bootstrap.NewRelay(ctx, cfg, runner, &logger, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init relay")
	}
	defer deps.Close()

	projects := repo.NewProjectRepository(runner)
	submitter := relay.NewSubmitter(relay.SubmitterConfig{
		Repo:       projects,
		Store:      deps.Store,
		Runner:     deps.RunPod,
		Reconciler: deps.Reconciler,
		WebhookURL: cfg.WebhookURL(),
		Logger:     &logger,
		Metrics:    metrics,
	})
	poller := relay.NewPoller(projects, deps.Status, deps.Reconciler, &logger, metrics)
	webhooks := relay.NewWebhookReceiver(projects, deps.Reconciler, cfg.WebhookSecret, &logger)

	app := handlers.NewApp(cfg, &logger, runner, submitter, poller, webhooks)
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.SupabaseJWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Recorder:        metrics,
	})

	server := infra.NewHTTPServer(cfg, router)
	metricsServer := infra.NewMetricsServer(cfg, metricsHandler)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()
	go func() {
		logger.Info().Str("addr", metricsServer.Addr()).Msg("metrics listening")
		if err := metricsServer.Start(); err != nil {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown metrics server")
	}
	logger.Info().Msg("server stopped")
}
