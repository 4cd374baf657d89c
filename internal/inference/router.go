package inference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/catalog"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/pricing"
)

// Router dispatches model calls to the registered provider for each model.
// Every provider gets its own breaker and token bucket.
type Router struct {
	logger   *zap.Logger
	breakers *circuitbreaker.Group
	rps      rate.Limit
	burst    int

	mu        sync.RWMutex
	providers map[string]Provider
	limiters  map[string]*rate.Limiter
	fallback  Provider
}

// NewRouter creates an empty router.
func NewRouter(cfg config.ProvidersConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	rps := rate.Inf
	if cfg.RatePerSecond > 0 {
		rps = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Router{
		logger:    logger,
		breakers:  circuitbreaker.NewGroup(circuitbreaker.SettingsFromConfig(cfg.CircuitBreaker), logger),
		rps:       rps,
		burst:     burst,
		providers: make(map[string]Provider),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// NewRouterFromConfig registers every vendor with credentials. The
// llm-service, when configured, receives models no direct vendor claims.
func NewRouterFromConfig(ctx context.Context, cfg config.ProvidersConfig, logger *zap.Logger) (*Router, error) {
	r := NewRouter(cfg, logger)
	if cfg.OpenAIAPIKey != "" {
		p, err := NewOpenAIProvider(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
		r.Register(models.ProviderOpenAI, p)
	}
	if cfg.AnthropicAPIKey != "" {
		p, err := NewAnthropicProvider(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, err
		}
		r.Register(models.ProviderAnthropic, p)
	}
	if cfg.GoogleAPIKey != "" {
		p, err := NewGoogleProvider(ctx, cfg.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		r.Register(models.ProviderGoogle, p)
	}
	if cfg.DeepSeekAPIKey != "" {
		p, err := NewDeepSeekProvider(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, err
		}
		r.Register(models.ProviderDeepSeek, p)
	}
	if cfg.LLMServiceURL != "" {
		p, err := NewLLMServiceProvider(cfg.LLMServiceURL, nil)
		if err != nil {
			return nil, err
		}
		r.SetFallback(p)
	}
	if len(r.Registered()) == 0 && r.fallback == nil {
		return nil, fmt.Errorf("no model providers configured")
	}
	return r, nil
}

// Register binds a provider key (see models.DetectProvider) to p.
func (r *Router) Register(key string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[key] = p
	r.limiters[key] = rate.NewLimiter(r.rps, r.burst)
	r.logger.Info("Registered model provider", zap.String("provider", key), zap.String("impl", p.Name()))
}

// SetFallback sets the provider used when no registered key matches.
func (r *Router) SetFallback(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = p
	r.limiters[p.Name()] = rate.NewLimiter(r.rps, r.burst)
}

// Registered lists provider keys in sorted order.
func (r *Router) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.providers))
	for k := range r.providers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BreakerStates exposes per-provider breaker state for health reporting.
func (r *Router) BreakerStates() map[string]circuitbreaker.State {
	return r.breakers.States()
}

// ForSnapshot returns a Completer that resolves providers and prices calls
// against snap.
func (r *Router) ForSnapshot(snap *catalog.Snapshot) *Client {
	return &Client{router: r, snap: snap}
}

func (r *Router) resolve(snap *catalog.Snapshot, modelID string) (string, Provider, *rate.Limiter, error) {
	key := models.DetectProvider(modelID)
	if snap != nil {
		if p, ok := snap.Get(modelID); ok && p.Provider != "" {
			key = p.Provider
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[key]; ok {
		return key, p, r.limiters[key], nil
	}
	if r.fallback != nil {
		name := r.fallback.Name()
		return name, r.fallback, r.limiters[name], nil
	}
	return "", nil, nil, fmt.Errorf("%w: %s (model %s)", models.ErrProviderNotFound, key, modelID)
}

// Client is a Completer bound to one catalog snapshot.
type Client struct {
	router *Router
	snap   *catalog.Snapshot
}

// Complete calls modelID through its provider's limiter and breaker and
// fills Provider and CostUSD on the result.
func (c *Client) Complete(ctx context.Context, modelID, prompt string, maxTokens int) (Completion, error) {
	key, p, limiter, err := c.router.resolve(c.snap, modelID)
	if err != nil {
		return Completion{}, err
	}
	if err := limiter.Wait(ctx); err != nil {
		metrics.ModelCalls.WithLabelValues(key, modelID, "rate_limited").Inc()
		return Completion{}, fmt.Errorf("rate limit wait for %s: %w", key, err)
	}

	start := time.Now()
	var out Completion
	err = c.router.breakers.Get(key).Execute(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = p.Complete(ctx, modelID, prompt, maxTokens)
		return callErr
	})
	elapsed := time.Since(start)
	metrics.ModelCallLatency.WithLabelValues(key, modelID).Observe(float64(elapsed.Milliseconds()))

	if err != nil {
		status := "error"
		switch {
		case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
			status = "circuit_open"
		case errors.Is(err, context.DeadlineExceeded):
			status = "timeout"
		}
		metrics.ModelCalls.WithLabelValues(key, modelID, status).Inc()
		c.router.logger.Warn("Model call failed",
			zap.String("provider", key),
			zap.String("model", modelID),
			zap.String("status", status),
			zap.Error(err),
		)
		return Completion{}, err
	}
	if strings.TrimSpace(out.Text) == "" {
		metrics.ModelCalls.WithLabelValues(key, modelID, "empty").Inc()
		return Completion{}, ErrEmptyCompletion
	}

	// Price against the requested id; vendors may echo a dated variant.
	usage := pricing.Usage(c.snap, modelID, models.TokenUsage{InputTokens: out.InputTokens, OutputTokens: out.OutputTokens})
	out.Provider = key
	out.CostUSD = usage.CostUSD
	out.ModelID = modelID
	if out.LatencyMs == 0 {
		out.LatencyMs = elapsed.Milliseconds()
	}

	metrics.ModelCalls.WithLabelValues(key, modelID, "success").Inc()
	metrics.ModelTokens.WithLabelValues(modelID, "input").Add(float64(out.InputTokens))
	metrics.ModelTokens.WithLabelValues(modelID, "output").Add(float64(out.OutputTokens))
	return out, nil
}
