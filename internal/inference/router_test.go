package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/catalog"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

func testSnapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	snap, err := catalog.NewSnapshot([]models.ModelProfile{
		{ID: "gpt-4.1", Provider: models.ProviderOpenAI, CostPer1KInput: 0.002, CostPer1KOutput: 0.008},
		{ID: "claude-sonnet", Provider: models.ProviderAnthropic, CostPer1KInput: 0.003, CostPer1KOutput: 0.015},
	}, 0.002, 1)
	require.NoError(t, err)
	return snap
}

func testProvidersConfig() config.ProvidersConfig {
	cfg := config.Defaults().Providers
	cfg.RatePerSecond = 0
	cfg.CircuitBreaker.FailureThreshold = 2
	return cfg
}

func TestRouterDispatchesByCatalogProvider(t *testing.T) {
	r := NewRouter(testProvidersConfig(), zaptest.NewLogger(t))
	openai := NewMockProvider("openai-mock", MockRule{Text: "from openai"})
	anthropic := NewMockProvider("anthropic-mock", MockRule{Text: "from anthropic"})
	r.Register(models.ProviderOpenAI, openai)
	r.Register(models.ProviderAnthropic, anthropic)

	client := r.ForSnapshot(testSnapshot(t))

	out, err := client.Complete(context.Background(), "claude-sonnet", "hello", 100)
	require.NoError(t, err)
	assert.Equal(t, "from anthropic", out.Text)
	assert.Equal(t, models.ProviderAnthropic, out.Provider)
	assert.Greater(t, out.CostUSD, 0.0)

	out, err = client.Complete(context.Background(), "gpt-4.1", "hello", 100)
	require.NoError(t, err)
	assert.Equal(t, "from openai", out.Text)
	assert.Len(t, openai.Calls(), 1)
	assert.Len(t, anthropic.Calls(), 1)
}

func TestRouterFallsBackToDetectionAndFallback(t *testing.T) {
	r := NewRouter(testProvidersConfig(), zaptest.NewLogger(t))
	r.Register(models.ProviderGoogle, NewMockProvider("g", MockRule{Text: "gemini says"}))

	client := r.ForSnapshot(testSnapshot(t))

	// Not in the catalog, detected by name.
	out, err := client.Complete(context.Background(), "gemini-2.5-flash", "q", 10)
	require.NoError(t, err)
	assert.Equal(t, "gemini says", out.Text)

	// Nothing registered for anthropic and no fallback.
	_, err = client.Complete(context.Background(), "claude-sonnet", "q", 10)
	require.ErrorIs(t, err, models.ErrProviderNotFound)

	r.SetFallback(NewMockProvider("llm-service", MockRule{Text: "via service"}))
	out, err = client.Complete(context.Background(), "claude-sonnet", "q", 10)
	require.NoError(t, err)
	assert.Equal(t, "via service", out.Text)
	assert.Equal(t, "llm-service", out.Provider)
}

func TestRouterOpensBreakerPerProvider(t *testing.T) {
	r := NewRouter(testProvidersConfig(), zaptest.NewLogger(t))
	upstream := errors.New("503 service unavailable")
	r.Register(models.ProviderOpenAI, NewMockProvider("bad", MockRule{Err: upstream}))
	r.Register(models.ProviderAnthropic, NewMockProvider("good", MockRule{Text: "ok"}))
	client := r.ForSnapshot(testSnapshot(t))

	for i := 0; i < 2; i++ {
		_, err := client.Complete(context.Background(), "gpt-4.1", "q", 10)
		require.ErrorIs(t, err, upstream)
	}
	_, err := client.Complete(context.Background(), "gpt-4.1", "q", 10)
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)

	out, err := client.Complete(context.Background(), "claude-sonnet", "q", 10)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)

	states := r.BreakerStates()
	assert.Equal(t, circuitbreaker.StateOpen, states[models.ProviderOpenAI])
	assert.Equal(t, circuitbreaker.StateClosed, states[models.ProviderAnthropic])
}

func TestRouterHonorsContextDeadline(t *testing.T) {
	r := NewRouter(testProvidersConfig(), zaptest.NewLogger(t))
	r.Register(models.ProviderOpenAI, NewMockProvider("slow", MockRule{Text: "late", Delay: time.Second}))
	client := r.ForSnapshot(testSnapshot(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Complete(ctx, "gpt-4.1", "q", 10)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRouterRejectsEmptyCompletion(t *testing.T) {
	r := NewRouter(testProvidersConfig(), zaptest.NewLogger(t))
	r.Register(models.ProviderOpenAI, NewMockProvider("empty", MockRule{Text: "   "}))
	client := r.ForSnapshot(testSnapshot(t))

	_, err := client.Complete(context.Background(), "gpt-4.1", "q", 10)
	require.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"rate limited", &ProviderError{Provider: "openai", Status: 429}, true},
		{"server error", &ProviderError{Provider: "openai", Status: 502}, true},
		{"bad request", &ProviderError{Provider: "openai", Status: 400}, false},
		{"marked temporary", &ProviderError{Provider: "x", Temporary: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
