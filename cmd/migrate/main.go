package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"refiner/internal/infra"
	"refiner/internal/migrations"
)

func main() {
	_ = godotenv.Load()

	logger := infra.NewLogger(os.Getenv("APP_ENV"))
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal().Msg("migrate: DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate: open database")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrate: ping database")
	}

	n, err := migrations.Apply(ctx, db, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate: failed")
	}
	logger.Info().Int("applied", n).Msg("migrate: schema up to date")
}
