package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/catalog"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/inference"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/memory"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/policy"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/tools"
)

// BuildOption adjusts NewFromConfig.
type BuildOption func(*buildOptions)

type buildOptions struct {
	router *inference.Router
}

// WithRouter replaces the vendor router built from provider credentials.
func WithRouter(r *inference.Router) BuildOption {
	return func(o *buildOptions) { o.router = r }
}

// NewFromConfig builds every collaborator described by cfg. The returned
// closer releases Redis connections held by tools and memory.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...BuildOption) (*Orchestrator, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	cat, err := catalog.NewFileProvider(cfg.Catalog.Path, logger.Named("catalog"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load model catalog: %w", err)
	}

	router := bo.router
	if router == nil {
		router, err = inference.NewRouterFromConfig(ctx, cfg.Providers, logger.Named("inference"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure model providers: %w", err)
		}
	}

	safety, err := policy.NewSafetyEngine(ctx, cfg.Preprocess.SafetyPolicyPath, logger.Named("policy"))
	if err != nil {
		return nil, nil, err
	}

	broker, closeTools, err := tools.NewDefaultBroker(ctx, cfg.Tools, logger.Named("tools"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tools: %w", err)
	}
	store, closeMemory := memory.New(ctx, cfg.Memory, logger.Named("memory"))

	o, err := New(cfg, Dependencies{
		Catalog: cat,
		Router:  router,
		Tools:   broker,
		Safety:  safety,
		Sandbox: tools.NewSandbox(cfg.Tools),
		Memory:  store,
	}, logger)
	closer := func() error { return errors.Join(closeTools(), closeMemory()) }
	if err != nil {
		_ = closer()
		return nil, nil, err
	}
	return o, closer, nil
}
