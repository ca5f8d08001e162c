// Command server boots the sync-core HTTP API: health checks plus the
// authenticated pull/push sync endpoints. The chasing scheduler runs
// as its own binary, cmd/worker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gigpilot/sync-core/internal/auth"
	"github.com/gigpilot/sync-core/internal/db"
	"github.com/gigpilot/sync-core/internal/httpapi"
	"github.com/gigpilot/sync-core/internal/store"
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
	log.Logger = log.With().Str("service", "sync-core").Logger()

	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbURL := env("DATABASE_URL", "")
	if dbURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	jwtSecret := env("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	jwtCfg := auth.JWTCfg{
		Secret:          jwtSecret,
		ExpirationHours: envInt("JWT_EXPIRATION_HOURS", 24),
	}

	srv := &httpapi.Server{
		DB:              pool,
		Store:           store.New(pool),
		RateLimitConfig: httpapi.DefaultRateLimitConfig,
		JWTCfg:          jwtCfg,
	}

	host := env("SERVER_HOST", "0.0.0.0")
	port := env("SERVER_PORT", "3000")
	httpServer := &http.Server{
		Addr:         host + ":" + port,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrs <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, draining")
	case err := <-serverErrs:
		log.Fatal().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	log.Info().Msg("server stopped")
}
