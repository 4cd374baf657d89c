package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	cfg "github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/server"
)

func main() {
	config, err := cfg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := server.NewLogger(config.Observability)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting consensus orchestrator",
		zap.Int("port", config.Server.Port),
		zap.String("catalog", config.Catalog.Path),
	)
	if err := server.Run(ctx, config, logger); err != nil {
		logger.Error("Orchestrator service exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Orchestrator service stopped")
}
