package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gear6io/replicant/server"
	"github.com/gear6io/replicant/server/config"
)

func main() {
	// Load server configuration first
	cfg, loadErr := config.LoadConfig("replicant.yml")
	if loadErr != nil {
		cfg = config.LoadDefaultConfig()
	}

	logger, err := config.SetupLogger(cfg, "server")
	if err != nil {
		panic(fmt.Sprintf("failed to setup logger: %v", err))
	}

	if loadErr != nil {
		logger.Info().Err(loadErr).Msg("Using default configuration")
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Msg("Starting game server...")
	if err := srv.Start(ctx); err != nil {
		srv.Shutdown()
		logger.Fatal().Err(err).Msg("Server failed")
	}

	<-ctx.Done()

	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
		os.Exit(1)
	}
	logger.Info().Msg("Server stopped gracefully")
}
