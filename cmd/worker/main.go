// Command worker runs the invoice chasing scheduler as its own
// process, sharing the core library (internal/store, internal/chase,
// internal/scheduler) with cmd/server rather than running the poll
// loop in the API process.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gigpilot/sync-core/internal/chase"
	"github.com/gigpilot/sync-core/internal/db"
	"github.com/gigpilot/sync-core/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("var", k).Str("value", v).Msg("invalid integer env var, using default")
		return def
	}
	return n
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "sync-core-worker").Logger()

	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbURL := env("DATABASE_URL", "")
	if dbURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	pollInterval := time.Duration(envInt("WORKER_POLL_INTERVAL_SECONDS", 60)) * time.Second
	executor := chase.NewExecutor(pool)
	sched := scheduler.New(pool, executor, pollInterval)
	sched.MaxConcurrency = envInt("WORKER_MAX_CONCURRENCY", 1)

	log.Info().Dur("poll_interval", pollInterval).Msg("starting chase worker")

	if err := sched.Run(ctx); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("chase scheduler exited with error")
	}

	log.Info().Msg("worker stopped")
}
