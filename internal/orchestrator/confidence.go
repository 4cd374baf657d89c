package orchestrator

import (
	"context"
	"math"
	"sync"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/inference"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

// Confidence weights.
const (
	confidenceBase       = 0.35
	agreementWeight      = 0.35
	sourceBonus          = 0.1
	degradationPenalty   = 0.05
	maxDegradationCost   = 0.3
	deadlinePenalty      = 0.2
	refutedFloorFraction = 0.5
)

// confidence combines agreement, the verification delta, source presence and
// soft failures into a 0..1 score.
func confidence(res models.ConsensusResult, report models.VerificationReport, trace *models.OrchestrationTrace, deadlineHit bool) float64 {
	c := confidenceBase + agreementWeight*res.AgreementLevel + report.ConfidenceDelta
	if len(trace.Sources) > 0 {
		c += sourceBonus
	}
	c -= math.Min(float64(len(trace.Degradations))*degradationPenalty, maxDegradationCost)
	if deadlineHit {
		c -= deadlinePenalty
	}
	// A corrected answer never reads as more certain than a coin flip.
	if report.Counts().Refuted > 0 {
		c = math.Min(c, refutedFloorFraction)
	}
	return math.Round(math.Max(0, math.Min(1, c))*1000) / 1000
}

// verificationStatus is the report status, downgraded to degraded when an
// evidence tool failed and nothing was refuted or timed out.
func verificationStatus(report models.VerificationReport, results []models.ToolResult) string {
	status := report.Status()
	switch status {
	case models.VerificationCorrected, models.VerificationTimedOut, models.VerificationSkipped:
		return status
	}
	for _, r := range results {
		if r.OK() {
			continue
		}
		if r.ToolName == models.ToolWebSearch || r.ToolName == models.ToolKnowledgeBase {
			return models.VerificationDegraded
		}
	}
	return status
}

// meteredClient sums the cost of every model call made for one request,
// including judge, fusion and debate calls.
type meteredClient struct {
	next inference.Completer

	mu   sync.Mutex
	cost float64
}

func newMeteredClient(next inference.Completer) *meteredClient {
	return &meteredClient{next: next}
}

func (m *meteredClient) Complete(ctx context.Context, modelID, prompt string, maxTokens int) (inference.Completion, error) {
	out, err := m.next.Complete(ctx, modelID, prompt, maxTokens)
	if err == nil {
		m.mu.Lock()
		m.cost += out.CostUSD
		m.mu.Unlock()
	}
	return out, err
}

// Cost returns the accumulated USD cost.
func (m *meteredClient) Cost() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cost
}
