package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/notebookrag/gateway/internal/config"
	"github.com/notebookrag/gateway/internal/gateway"
	"github.com/notebookrag/gateway/internal/monitoring"
	"github.com/notebookrag/gateway/internal/utils"
)

func main() {
	_ = godotenv.Load()
	setupLogging()

	cfg := config.FromEnv()
	log.Info().
		Str("upstream", cfg.UpstreamBaseURL).
		Str("api_key", utils.MaskKey(cfg.APIKey)).
		Str("tenant", cfg.DefaultTenantID).
		Str("user", cfg.DefaultUserID).
		Msg("configuration loaded")

	var metrics monitoring.Metrics
	if cfg.MetricsEnabled {
		metrics = monitoring.NewProm("gateway")
	}
	gw := gateway.New(cfg, metrics)

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server stopped")
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gw.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
			os.Exit(1)
		}
	}
}

func setupLogging() {
	level := zerolog.InfoLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("LOG_FORMAT") == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
