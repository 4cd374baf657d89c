// Package server runs the orchestrator HTTP API, the metrics endpoint and
// catalog hot reload until its context is cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/httpapi"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/orchestrator"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/tracing"
)

// NewLogger builds the process logger from the logging config. Format
// "console" gives human-readable output; anything else is JSON.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Logging.Format, "console") {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

// Run serves until ctx is done, then shuts everything down gracefully.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...orchestrator.BuildOption) error {
	shutdownTracing, err := tracing.Initialize(cfg.Observability.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing initialization failed, continuing without export", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	orch, closeOrch, err := orchestrator.NewFromConfig(ctx, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeOrch(); err != nil {
			logger.Warn("Failed to release orchestrator resources", zap.Error(err))
		}
	}()

	if cfg.Catalog.Watch {
		watcher, err := config.NewFileWatcher(0, logger.Named("watcher"))
		if err != nil {
			return err
		}
		if err := orch.WatchCatalog(watcher); err != nil {
			_ = watcher.Stop()
			return err
		}
		watcher.Start(ctx)
		defer func() { _ = watcher.Stop() }()
		logger.Info("Catalog hot reload enabled", zap.String("path", cfg.Catalog.Path))
	}

	mux := http.NewServeMux()
	httpapi.NewOrchestrateHandler(orch, config.Millis(cfg.Server.RequestTimeout, 0), logger.Named("httpapi")).RegisterRoutes(mux)
	httpapi.NewHealthHandler(orch.Catalog(), orch.BreakerStates, logger).RegisterRoutes(mux)

	servers := []*http.Server{{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
	if cfg.Observability.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Observability.Metrics.Port),
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down orchestrator service")
	case runErr = <-errCh:
		logger.Error("HTTP server failed", zap.Error(runErr))
	}

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("Server shutdown error", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	return runErr
}
