package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"scriptbox/internal/api"
	"scriptbox/internal/config"
	"scriptbox/internal/monitor"
	"scriptbox/internal/sandbox"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Local development convenience; missing .env is fine.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded environment from .env")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	metrics := monitor.NewMetrics()
	registry := sandbox.NewCallbackRegistry()

	backend, err := sandbox.NewBackend(cfg.Runtime.Backend, sandbox.Options{
		DeclaredTools: cfg.Runtime.DeclaredTools,
		Remote:        cfg.SandboxRemote(),
		Registry:      registry,
	})
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Runtime.Backend).Msg("failed to construct backend")
	}

	adapter := newHostAdapter()

	server := api.NewServer(cfg, backend, adapter, registry, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		if err := backend.Close(); err != nil {
			log.Error().Err(err).Msg("backend close error")
		}
		return nil
	})

	log.Info().
		Str("addr", cfg.Address()).
		Str("backend", backend.Kind()).
		Int("declared_tools", len(cfg.Runtime.DeclaredTools)).
		Msg("server starting")

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
