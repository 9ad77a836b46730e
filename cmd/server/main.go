package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitspalter/relay/internal/relay"
)

func main() {
	cfg, err := relay.LoadConfig()
	if err != nil {
		errLogger := zerolog.New(os.Stderr)
		errLogger.Fatal().Err(err).Msg("loading configuration")
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	verifier, err := relay.LoadVerifier(cfg.PublicKeyFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.PublicKeyFile).Msg("loading token verification key")
	}

	hub := relay.NewHub(logger)
	go hub.Run()

	service := relay.NewService(cfg, hub, verifier, logger)
	server := relay.CreateServer(cfg.Addr(), service.Routes())

	errs := make(chan error, 1)
	go func() {
		errs <- relay.StartServer(server, logger)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil {
			logger.Fatal().Err(err).Msg("server error")
		}
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	if err := relay.ShutdownServer(server, 10*time.Second, logger); err != nil {
		logger.Error().Err(err).Msg("http shutdown incomplete")
	}
	if err := hub.Shutdown(5 * time.Second); err != nil {
		logger.Error().Err(err).Msg("hub shutdown incomplete")
	}
}
