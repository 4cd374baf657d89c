// Package consensus turns the usable model responses of one request into a
// single answer.
package consensus

import (
	"context"
	"fmt"
	"math"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/inference"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/util"
)

// Input is everything synthesis needs for one request.
type Input struct {
	Query          string
	Classification models.ClassificationResult
	Strategy       models.StrategyName
	Responses      []models.ModelResponse
	Verification   models.VerificationReport
	// Client runs judge, fusion and debate calls. Without one those methods
	// use their heuristic fallbacks.
	Client inference.Completer
}

// Manager synthesizes consensus results.
type Manager struct {
	threshold  float64
	maxRounds  int
	judgeModel string
	maxTokens  int
	logger     *zap.Logger
}

// NewManager creates a manager from config.
func NewManager(cfg config.ConsensusConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		threshold:  cfg.SimilaritySkipThreshold,
		maxRounds:  cfg.DebateMaxRounds,
		judgeModel: cfg.JudgeModel,
		maxTokens:  1024,
		logger:     logger,
	}
	if m.threshold <= 0 || m.threshold > 1 {
		m.threshold = 0.85
	}
	if m.maxRounds <= 0 || m.maxRounds > 2 {
		m.maxRounds = 2
	}
	return m
}

// candidate is a usable response with its position in the response list.
type candidate struct {
	index    int
	resp     models.ModelResponse
	verified bool
	refuted  bool
}

// Synthesize picks or builds the final text. It fails only when no response
// is usable.
func (m *Manager) Synthesize(ctx context.Context, in Input) (models.ConsensusResult, error) {
	cands, fallback := m.candidates(in)
	if len(cands) == 0 {
		return models.ConsensusResult{}, fmt.Errorf("synthesize: %w", models.ErrNoUsableResponses)
	}

	agreement, minPair := pairwise(cands)
	result := models.ConsensusResult{
		AgreementLevel:     agreement,
		ContributingModels: lo.Uniq(lo.Map(cands, func(c candidate, _ int) string { return c.resp.ModelID })),
		UsedFallback:       fallback,
	}

	if len(cands) == 1 || minPair >= m.threshold {
		pick := preferred(cands)
		result.FinalText = pick.resp.RawText
		result.SelectedIndex = pick.index
		result.Method = models.MethodPassthrough
		result.SkippedSynthesis = true
		m.record(result)
		return result, nil
	}

	switch m.method(in) {
	case models.MethodMajority:
		m.majority(cands, &result)
	case models.MethodArbiter:
		m.arbiter(ctx, in, cands, &result)
	case models.MethodFusion:
		m.fusion(ctx, in, cands, &result)
	case models.MethodDebate:
		m.debate(ctx, in, cands, &result)
	default:
		m.weighted(cands, &result)
	}
	m.record(result)
	return result, nil
}

func (m *Manager) record(r models.ConsensusResult) {
	metrics.ConsensusMethods.WithLabelValues(string(r.Method)).Inc()
	metrics.AgreementLevel.Observe(r.AgreementLevel)
	if r.Method == models.MethodDebate {
		metrics.DebateRounds.Observe(float64(r.Rounds))
	}
	m.logger.Debug("Consensus reached",
		zap.String("method", string(r.Method)),
		zap.Float64("agreement", r.AgreementLevel),
		zap.Int("selected", r.SelectedIndex),
		zap.Bool("skipped_synthesis", r.SkippedSynthesis),
	)
}

// candidates keeps the usable answers of final plan steps, falling back to
// fallback steps when no final step is usable. Responses that carry no step
// flags at all are treated as peers. Verification preference then applies:
// once any candidate is verified without refutation, candidates carrying
// refuted claims are dropped.
func (m *Manager) candidates(in Input) ([]candidate, bool) {
	refuted := in.Verification.RefutedResponses()
	verified := in.Verification.VerifiedResponses()

	bearing, fallback := models.AnswerBearing(in.Responses)
	var all []candidate
	for i, r := range in.Responses {
		if bearing[i] {
			all = append(all, candidate{index: i, resp: r, verified: verified[i], refuted: refuted[i]})
		}
	}
	if fallback {
		m.logger.Debug("No final step usable, using fallback steps", zap.Int("candidates", len(all)))
	}

	cleanVerified := lo.ContainsBy(all, func(c candidate) bool { return c.verified && !c.refuted })
	if !cleanVerified {
		return all, fallback
	}
	kept := lo.Filter(all, func(c candidate, _ int) bool { return !c.refuted })
	if len(kept) < len(all) {
		m.logger.Debug("Dropped candidates with refuted claims", zap.Int("dropped", len(all)-len(kept)))
	}
	return kept, fallback
}

// method maps the request to a synthesis method.
func (m *Manager) method(in Input) models.ConsensusMethod {
	task := in.Classification.TaskType
	switch {
	case in.Strategy == models.StrategySelfConsistency || task == models.TaskMath:
		return models.MethodMajority
	case task == models.TaskCoding:
		return models.MethodDebate
	case task == models.TaskFactual:
		return models.MethodArbiter
	case task == models.TaskResearch || task == models.TaskMultiStep ||
		in.Classification.Complexity.Rank() >= models.ComplexityComplex.Rank():
		return models.MethodFusion
	default:
		return models.MethodWeighted
	}
}

// preferred returns the first verified, unrefuted candidate, else the first.
func preferred(cands []candidate) candidate {
	for _, c := range cands {
		if c.verified && !c.refuted {
			return c
		}
	}
	return cands[0]
}

// pairwise returns the mean and minimum pairwise similarity.
func pairwise(cands []candidate) (mean, minimum float64) {
	if len(cands) < 2 {
		return 1, 1
	}
	minimum = math.Inf(1)
	sum, n := 0.0, 0
	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			s := util.Jaccard(cands[i].resp.RawText, cands[j].resp.RawText)
			sum += s
			n++
			minimum = math.Min(minimum, s)
		}
	}
	return sum / float64(n), minimum
}
