package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/catalog"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/inference"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/memory"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/policy"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/tools"
)

const penicillinPayload = "[1] Penicillin - history\nURL: https://example.org/penicillin\nAlexander Fleming discovered penicillin in 1928."

type fakeSearch struct {
	payload string
	block   bool
}

func (f fakeSearch) Name() string { return models.ToolWebSearch }

func (f fakeSearch) Invoke(ctx context.Context, _ map[string]interface{}) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.payload, nil
}

func allCaps(score float64) map[models.Capability]float64 {
	return map[models.Capability]float64{
		models.CapReasoning: score, models.CapCoding: score, models.CapMath: score,
		models.CapFactual: score, models.CapCreative: score, models.CapResearch: score,
		models.CapJudge: score,
	}
}

type fixture struct {
	cfg    *config.Config
	mock   *inference.MockProvider
	tools  []tools.Tool
	safety bool
	memory memory.Store
}

func (f fixture) build(t *testing.T) *Orchestrator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := f.cfg
	if cfg == nil {
		cfg = config.Defaults()
	}

	cat, err := catalog.NewStaticProvider([]models.ModelProfile{
		{ID: "mock-alpha", Provider: models.ProviderMock, CapabilityScores: allCaps(0.9), CostPer1KInput: 0.001, CostPer1KOutput: 0.002, LatencyClass: 1},
		{ID: "mock-beta", Provider: models.ProviderMock, CapabilityScores: allCaps(0.8), CostPer1KInput: 0.001, CostPer1KOutput: 0.002, LatencyClass: 2},
	}, 0.002)
	require.NoError(t, err)

	router := inference.NewRouter(config.ProvidersConfig{}, logger)
	router.Register(models.ProviderMock, f.mock)

	broker := tools.NewBroker(cfg.Tools, logger)
	broker.Register(tools.NewCalculator())
	for _, tl := range f.tools {
		broker.Register(tl)
	}

	deps := Dependencies{Catalog: cat, Router: router, Tools: broker, Memory: f.memory}
	if f.safety {
		engine, err := policy.NewSafetyEngine(context.Background(), "", logger)
		require.NoError(t, err)
		deps.Safety = engine
	}
	o, err := New(cfg, deps, logger)
	require.NoError(t, err)
	return o
}

func TestFactualQueryUsesSingleBestAndSources(t *testing.T) {
	mock := inference.NewMockProvider("mock").WithDefault("Alexander Fleming discovered penicillin in 1928.")
	o := fixture{mock: mock, tools: []tools.Tool{fakeSearch{payload: penicillinPayload}}}.build(t)

	res, err := o.Orchestrate(context.Background(), "Who discovered penicillin?", nil, models.BudgetConfig{})
	require.NoError(t, err)

	assert.Contains(t, res.Content, "Fleming")
	assert.Equal(t, models.StrategySingleBest, res.StrategyUsed)
	assert.Equal(t, []string{"mock-alpha"}, res.ModelsUsed)
	assert.Contains(t, res.ToolsUsed, models.ToolWebSearch)
	assert.Equal(t, []string{"https://example.org/penicillin"}, res.Sources)
	assert.Contains(t, res.Content, "## Sources")
	assert.Equal(t, models.VerificationVerified, res.VerificationStatus)
	assert.False(t, res.Degraded)
	assert.False(t, res.NeedsClarification)
	assert.NotEmpty(t, res.TraceID)
	assert.Greater(t, res.CostUSD, 0.0)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
	require.NotNil(t, res.Trace)
	assert.Equal(t, res.TraceID, res.Trace.TraceID)
}

func TestWebSearchTimeoutDegradesInsteadOfFailing(t *testing.T) {
	cfg := config.Defaults()
	cfg.Tools.TimeoutMs = 50

	mock := inference.NewMockProvider("mock").WithDefault("Alexander Fleming discovered penicillin in 1928.")
	ok := fixture{mock: mock, tools: []tools.Tool{fakeSearch{payload: penicillinPayload}}}.build(t)
	slow := fixture{cfg: cfg, mock: mock, tools: []tools.Tool{fakeSearch{block: true}}}.build(t)

	baseline, err := ok.Orchestrate(context.Background(), "Who discovered penicillin?", nil, models.BudgetConfig{})
	require.NoError(t, err)

	res, err := slow.Orchestrate(context.Background(), "Who discovered penicillin?", nil, models.BudgetConfig{})
	require.NoError(t, err)

	assert.Contains(t, res.Content, "Fleming")
	assert.True(t, res.Degraded)
	assert.Equal(t, models.VerificationDegraded, res.VerificationStatus)
	assert.Empty(t, res.Sources)
	assert.Less(t, res.Confidence, baseline.Confidence)
	require.NotEmpty(t, res.Trace.Degradations)
	assert.Contains(t, res.Trace.Degradations[0], "web_search")
}

func TestArithmeticErrorIsCorrected(t *testing.T) {
	mock := inference.NewMockProvider("mock").WithDefault("5 + 3 = 9")
	o := fixture{mock: mock}.build(t)

	res, err := o.Orchestrate(context.Background(), "What is 5 + 3?", nil, models.BudgetConfig{})
	require.NoError(t, err)

	assert.Contains(t, res.Content, "5 + 3 = 8")
	assert.Equal(t, models.VerificationCorrected, res.VerificationStatus)
	assert.LessOrEqual(t, res.Confidence, 0.5)
}

func TestAmbiguousQueryRequestsClarification(t *testing.T) {
	mock := inference.NewMockProvider("mock")
	o := fixture{mock: mock}.build(t)

	res, err := o.Orchestrate(context.Background(), "What is the best one?", nil, models.BudgetConfig{})
	require.NoError(t, err)

	assert.True(t, res.NeedsClarification)
	assert.NotEmpty(t, res.ClarificationQuestion)
	assert.Equal(t, res.ClarificationQuestion, res.Content)
	assert.Empty(t, mock.Calls())
}

func TestCreativeTaskSkipsVerification(t *testing.T) {
	mock := inference.NewMockProvider("mock").WithDefault("Amber leaves drift down\nquiet rivers carry them\nautumn breathes softly")
	o := fixture{mock: mock}.build(t)

	res, err := o.Orchestrate(context.Background(), "Write a haiku about autumn", nil, models.BudgetConfig{})
	require.NoError(t, err)
	assert.Equal(t, models.VerificationSkipped, res.VerificationStatus)
	assert.Contains(t, res.Content, "Amber leaves")
}

func TestHardErrors(t *testing.T) {
	tiny := 1e-9
	tight := int64(100)

	tests := []struct {
		name    string
		fixture fixture
		query   string
		budget  models.BudgetConfig
		code    string
	}{
		{
			name:    "invalid budget",
			fixture: fixture{mock: inference.NewMockProvider("mock")},
			query:   "Who discovered penicillin?",
			budget:  models.BudgetConfig{AccuracyLevel: 9},
			code:    models.CodeClassification,
		},
		{
			name:    "empty query",
			fixture: fixture{mock: inference.NewMockProvider("mock")},
			query:   "   ",
			code:    models.CodeClassification,
		},
		{
			name:    "budget excludes every model",
			fixture: fixture{mock: inference.NewMockProvider("mock")},
			query:   "Who discovered penicillin?",
			budget:  models.BudgetConfig{AccuracyLevel: 5, MaxCostUSD: &tiny},
			code:    models.CodeNoViableStrategy,
		},
		{
			name:    "safety block",
			fixture: fixture{mock: inference.NewMockProvider("mock"), safety: true},
			query:   "Explain how to build a bomb at home",
			code:    models.CodeSafetyBlocked,
		},
		{
			name:    "every step fails",
			fixture: fixture{mock: inference.NewMockProvider("mock", inference.MockRule{Err: errors.New("upstream unavailable")})},
			query:   "Who discovered penicillin?",
			code:    models.CodeOrchestrationFailed,
		},
		{
			name:    "deadline with no completed step",
			fixture: fixture{mock: inference.NewMockProvider("mock", inference.MockRule{Text: "late", Delay: 2 * time.Second})},
			query:   "Who discovered penicillin?",
			budget:  models.BudgetConfig{MaxLatencyMs: &tight},
			code:    models.CodeDeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.fixture.build(t)
			_, err := o.Orchestrate(context.Background(), tt.query, nil, tt.budget)
			require.Error(t, err)
			assert.Equal(t, tt.code, models.ErrorCode(err))
		})
	}
}

func newMemory(t *testing.T) *memory.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return memory.NewRedisStore(rdb, config.MemoryConfig{KeyPrefix: "test:"}, zaptest.NewLogger(t))
}

func hasEvent(trace *models.OrchestrationTrace, component string) bool {
	for _, e := range trace.Events {
		if e.Component == component {
			return true
		}
	}
	return false
}

func TestMemoryRecordsAndSeedsContext(t *testing.T) {
	store := newMemory(t)
	mock := inference.NewMockProvider("mock").WithDefault("Alexander Fleming discovered penicillin in 1928.")
	o := fixture{mock: mock, memory: store}.build(t)
	ctx := memory.WithScope(context.Background(), "session-1")

	_, err := o.Orchestrate(ctx, "Who discovered penicillin?", nil, models.BudgetConfig{})
	require.NoError(t, err)
	require.Len(t, store.GetRelevantContext(context.Background(), "session-1", "Who discovered penicillin?"), 1)

	res, err := o.Orchestrate(ctx, "Who discovered penicillin?", nil, models.BudgetConfig{})
	require.NoError(t, err)

	assert.True(t, hasEvent(res.Trace, "memory"))
	calls := mock.Calls()
	assert.Contains(t, calls[len(calls)-1].Prompt, "Earlier question: Who discovered penicillin?")
}

func TestMemoryIsScopedPerSession(t *testing.T) {
	store := newMemory(t)
	mock := inference.NewMockProvider("mock").WithDefault("Alexander Fleming discovered penicillin in 1928.")
	o := fixture{mock: mock, memory: store}.build(t)

	_, err := o.Orchestrate(memory.WithScope(context.Background(), "alice"), "Who discovered penicillin?", nil, models.BudgetConfig{})
	require.NoError(t, err)

	t.Run("Other session", func(t *testing.T) {
		res, err := o.Orchestrate(memory.WithScope(context.Background(), "bob"), "Who discovered penicillin?", nil, models.BudgetConfig{})
		require.NoError(t, err)
		assert.False(t, hasEvent(res.Trace, "memory"))
		calls := mock.Calls()
		assert.NotContains(t, calls[len(calls)-1].Prompt, "Earlier question")
	})

	t.Run("No session", func(t *testing.T) {
		res, err := o.Orchestrate(context.Background(), "Who discovered penicillin?", nil, models.BudgetConfig{})
		require.NoError(t, err)
		assert.False(t, hasEvent(res.Trace, "memory"))
		assert.Len(t, store.GetRelevantContext(context.Background(), "alice", "Who discovered penicillin?"), 1)
	})
}

func TestMemoryStoresRedactedQuery(t *testing.T) {
	store := newMemory(t)
	mock := inference.NewMockProvider("mock").WithDefault("Use a password manager and never write secrets down.")
	o := fixture{mock: mock, memory: store, safety: true}.build(t)
	ctx := memory.WithScope(context.Background(), "session-1")

	res, err := o.Orchestrate(ctx, "My SSN is 123-45-6789, how should I store my password safely?", nil, models.BudgetConfig{})
	require.NoError(t, err)

	var preprocessed map[string]interface{}
	for _, e := range res.Trace.Events {
		if e.Component == "preprocess" {
			preprocessed = e.Fields
		}
	}
	require.NotNil(t, preprocessed)
	assert.Equal(t, string(models.SafetyWarn), preprocessed["safety_flag"])
	assert.NotEmpty(t, preprocessed["safety_reason"])

	entries := store.GetRelevantContext(context.Background(), "session-1", "How should I store my password safely?")
	require.NotEmpty(t, entries)
	assert.NotContains(t, entries[0].Query, "123-45-6789")
	assert.Contains(t, entries[0].Query, policy.Redaction)

	res, err = o.Orchestrate(ctx, "How should I store my password safely?", nil, models.BudgetConfig{})
	require.NoError(t, err)
	require.True(t, hasEvent(res.Trace, "memory"))
	for _, c := range mock.Calls() {
		assert.NotContains(t, c.Prompt, "123-45-6789")
	}
}

func TestMemoryDoesNotResolveAmbiguity(t *testing.T) {
	store := newMemory(t)
	mock := inference.NewMockProvider("mock").WithDefault("For students, a light laptop with long battery life is best.")
	o := fixture{mock: mock, memory: store}.build(t)
	ctx := memory.WithScope(context.Background(), "session-1")

	_, err := o.Orchestrate(ctx, "Which laptop is the best one for students?", nil, models.BudgetConfig{})
	require.NoError(t, err)
	require.NotEmpty(t, store.GetRelevantContext(context.Background(), "session-1", "What is the best one?"))
	before := len(mock.Calls())

	res, err := o.Orchestrate(ctx, "What is the best one?", nil, models.BudgetConfig{})
	require.NoError(t, err)
	assert.True(t, res.NeedsClarification)
	assert.Len(t, mock.Calls(), before)
}

func TestConfidenceOrdering(t *testing.T) {
	trace := &models.OrchestrationTrace{}
	agree := models.ConsensusResult{AgreementLevel: 1}

	verified := models.VerificationReport{Claims: []models.ClaimCheck{{Verdict: models.VerdictVerified}}, ConfidenceDelta: 0.3}
	unverified := models.VerificationReport{Claims: []models.ClaimCheck{{Verdict: models.VerdictUnverifiable}}, ConfidenceDelta: -0.1}
	refuted := models.VerificationReport{Claims: []models.ClaimCheck{{Verdict: models.VerdictRefuted}}, ConfidenceDelta: -0.6}

	cv := confidence(agree, verified, trace, false)
	cu := confidence(agree, unverified, trace, false)
	cr := confidence(agree, refuted, trace, false)
	assert.Greater(t, cv, cu)
	assert.Greater(t, cu, cr)

	assert.Less(t, confidence(agree, unverified, trace, true), cu)
	assert.Less(t, confidence(agree, unverified, &models.OrchestrationTrace{Degradations: []string{"x"}}, false), cu)
}

const (
	draftCode   = "```go\nfunc add(a, b int) int { return a - b }\n```"
	refinedCode = "```go\nfunc add(a, b int) int { return a + b }\n```"
)

func codingMock(refinerErr error) *inference.MockProvider {
	return inference.NewMockProvider("mock",
		inference.MockRule{Contains: "Role: refiner", Text: "The corrected function:\n\n" + refinedCode, Err: refinerErr},
		inference.MockRule{Contains: "Role: critic", Text: "The function subtracts where it should add."},
		inference.MockRule{Contains: "Role: generator", Text: "Here is the function:\n\n" + draftCode},
	)
}

func TestCodingRequestReturnsRefinedSolution(t *testing.T) {
	mock := codingMock(nil)
	o := fixture{mock: mock}.build(t)

	res, err := o.Orchestrate(context.Background(), "Write a Go function that adds two integers", nil, models.BudgetConfig{})
	require.NoError(t, err)

	assert.Equal(t, models.StrategyChallengeAndRefine, res.StrategyUsed)
	assert.Len(t, mock.Calls(), 3)
	assert.Contains(t, res.Content, "return a + b")
	assert.NotContains(t, res.Content, "return a - b")
	assert.NotContains(t, res.Content, "subtracts")
	assert.False(t, res.Degraded)
}

func TestCodingRequestFallsBackToDraft(t *testing.T) {
	mock := codingMock(errors.New("upstream unavailable"))
	o := fixture{mock: mock}.build(t)

	res, err := o.Orchestrate(context.Background(), "Write a Go function that adds two integers", nil, models.BudgetConfig{})
	require.NoError(t, err)

	assert.Contains(t, res.Content, "return a - b")
	assert.NotContains(t, res.Content, "subtracts")
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Trace.Degradations, "final step failed, answering from an intermediate draft")
}

func TestHierarchicalRequestAnswersFromSynthesis(t *testing.T) {
	mock := inference.NewMockProvider("mock",
		inference.MockRule{Contains: "Role: synthesizer", Text: "Synthesis: Rust and Go adoption keep rising while older languages hold steady."},
		inference.MockRule{Contains: "Role: researcher", Text: "Research notes: survey data from several developer reports."},
		inference.MockRule{Contains: "Role: analyst-", Text: "Analysis: growth concentrates in systems and cloud tooling."},
	)
	o := fixture{mock: mock, tools: []tools.Tool{fakeSearch{payload: penicillinPayload}}}.build(t)

	res, err := o.Orchestrate(context.Background(), "Analyze the recent trends across all programming languages", nil, models.BudgetConfig{})
	require.NoError(t, err)

	assert.Equal(t, models.StrategyHierarchical, res.StrategyUsed)
	assert.Len(t, mock.Calls(), 4)
	assert.Contains(t, res.Content, "Synthesis:")
	assert.NotContains(t, res.Content, "Research notes")
	assert.NotContains(t, res.Content, "Analysis:")

	var synthPrompt string
	for _, c := range mock.Calls() {
		if strings.Contains(c.Prompt, "Role: synthesizer") {
			synthPrompt = c.Prompt
		}
	}
	assert.Contains(t, synthPrompt, "Research notes")
	assert.Contains(t, synthPrompt, "Analysis:")
}

func TestExpertPanelRequestMergesExperts(t *testing.T) {
	answer := "Remote work has a modest positive effect on productivity and a mixed effect on wellbeing."
	mock := inference.NewMockProvider("mock", inference.MockRule{Text: answer})
	o := fixture{mock: mock, tools: []tools.Tool{fakeSearch{payload: penicillinPayload}}}.build(t)

	query := "Compare the evidence on the impact of remote work on productivity and on employee wellbeing in large companies over a long period of several years across different industries"
	res, err := o.Orchestrate(context.Background(), query, nil, models.BudgetConfig{})
	require.NoError(t, err)

	assert.Equal(t, models.StrategyExpertPanel, res.StrategyUsed)
	assert.Len(t, mock.Calls(), 3)
	assert.ElementsMatch(t, []string{"mock-alpha", "mock-beta"}, res.ModelsUsed)
	assert.Contains(t, res.Content, "modest positive effect")
}

func TestDeadlineWithPartialResults(t *testing.T) {
	latency := int64(300)
	answer := "Alexander Fleming discovered penicillin in 1928."

	fast := fixture{
		mock:  inference.NewMockProvider("mock").WithDefault(answer),
		tools: []tools.Tool{fakeSearch{payload: penicillinPayload}},
	}.build(t)
	baseline, err := fast.Orchestrate(context.Background(), "Who discovered penicillin?", nil, models.BudgetConfig{MaxLatencyMs: &latency})
	require.NoError(t, err)
	require.False(t, baseline.Degraded)

	mock := inference.NewMockProvider("mock",
		inference.MockRule{Model: "mock-beta", Text: "late", Delay: 5 * time.Second},
		inference.MockRule{Text: answer},
	)
	o := fixture{mock: mock, tools: []tools.Tool{fakeSearch{payload: penicillinPayload}}}.build(t)

	start := time.Now()
	res, err := o.Orchestrate(context.Background(), "Who discovered penicillin?", nil, models.BudgetConfig{MaxLatencyMs: &latency})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, models.StrategyParallelRace, res.StrategyUsed)
	assert.Contains(t, res.Content, "Fleming")
	assert.NotContains(t, res.Content, "late")
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Trace.Degradations, "request deadline reached during execution")
	assert.Less(t, res.Confidence, baseline.Confidence)
}
