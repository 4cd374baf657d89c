// Package pricing converts token counts into USD using catalog prices.
package pricing

import (
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/catalog"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

// Fallback: $0.002 per 1K tokens when neither the model nor the catalog default is priced
const fallbackPer1K = 0.002

// DefaultPerToken returns the snapshot's default combined price per token.
func DefaultPerToken(snap *catalog.Snapshot) float64 {
	if snap != nil && snap.DefaultPer1K() > 0 {
		return snap.DefaultPer1K() / 1000.0
	}
	return fallbackPer1K / 1000.0
}

// PricePerTokenForModel returns the blended price per token for a model if known.
func PricePerTokenForModel(snap *catalog.Snapshot, model string) (float64, bool) {
	if snap == nil || model == "" {
		return 0, false
	}
	p, ok := snap.Get(model)
	if !ok || (p.CostPer1KInput == 0 && p.CostPer1KOutput == 0) {
		return 0, false
	}
	return p.CostPerToken(), true
}

// CostForSplit computes cost using the input/output split, falling back to
// the default combined price for unknown or unpriced models.
func CostForSplit(snap *catalog.Snapshot, model string, inputTokens, outputTokens int) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	if snap != nil && model != "" {
		if p, ok := snap.Get(model); ok && (p.CostPer1KInput > 0 || p.CostPer1KOutput > 0) {
			return ProfileCost(p, inputTokens, outputTokens)
		}
	}
	if model == "" {
		metrics.PricingFallbacks.WithLabelValues("missing_model").Inc()
	} else {
		metrics.PricingFallbacks.WithLabelValues("unknown_model").Inc()
	}
	return float64(inputTokens+outputTokens) * DefaultPerToken(snap)
}

// ProfileCost prices tokens against a single profile.
func ProfileCost(p models.ModelProfile, inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)/1000.0)*p.CostPer1KInput + (float64(outputTokens)/1000.0)*p.CostPer1KOutput
}

// EstimateRequestCost is the worst-case cost of running samples calls with a
// prompt of promptTokens and a completion of up to maxTokens each.
func EstimateRequestCost(p models.ModelProfile, promptTokens, maxTokens, samples int) float64 {
	if samples < 1 {
		samples = 1
	}
	return ProfileCost(p, promptTokens, maxTokens) * float64(samples)
}

// Usage fills CostUSD and TotalTokens on u for model.
func Usage(snap *catalog.Snapshot, model string, u models.TokenUsage) models.TokenUsage {
	u.TotalTokens = u.InputTokens + u.OutputTokens
	u.CostUSD = CostForSplit(snap, model, u.InputTokens, u.OutputTokens)
	return u
}
