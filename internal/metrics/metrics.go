package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_requests_total",
			Help: "Total number of orchestration requests by outcome",
		},
		[]string{"strategy", "outcome"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consensus_request_duration_seconds",
			Help:    "End-to-end orchestration duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"strategy"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consensus_stage_duration_seconds",
			Help:    "Duration of each orchestration stage in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	RequestCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consensus_request_cost_usd",
			Help:    "Cost in USD per orchestration request",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
		},
	)

	ResultConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consensus_result_confidence",
			Help:    "Confidence attached to returned answers",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	Degradations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_degradations_total",
			Help: "Soft degradations absorbed into confidence penalties",
		},
		[]string{"reason"},
	)

	// Preprocessing metrics
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_classifications_total",
			Help: "Query classifications by classifier, task type and complexity",
		},
		[]string{"classifier", "task_type", "complexity"},
	)

	ClarificationsRequested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consensus_clarifications_requested_total",
			Help: "Requests short-circuited with a clarification question",
		},
	)

	SafetyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_safety_decisions_total",
			Help: "Safety policy outcomes",
		},
		[]string{"flag"},
	)

	// Strategy metrics
	StrategySelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_strategy_selections_total",
			Help: "Strategies selected by task type",
		},
		[]string{"strategy", "task_type"},
	)

	NoViableStrategy = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_no_viable_strategy_total",
			Help: "Requests rejected because budget excluded every capable model",
		},
		[]string{"constraint"},
	)

	// Model call metrics
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_model_calls_total",
			Help: "Model inference calls by provider, model and status",
		},
		[]string{"provider", "model", "status"},
	)

	ModelCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consensus_model_call_latency_ms",
			Help:    "Model call latency in milliseconds",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"provider", "model"},
	)

	ModelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_model_tokens_total",
			Help: "Tokens consumed by model and direction",
		},
		[]string{"model", "direction"},
	)

	// Execution metrics
	PlanSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_plan_steps_total",
			Help: "Executed plan steps by outcome",
		},
		[]string{"outcome"},
	)

	// Tool metrics
	ToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_tool_invocations_total",
			Help: "Tool invocations by tool and status",
		},
		[]string{"tool", "status"},
	)

	ToolLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consensus_tool_latency_ms",
			Help:    "Tool invocation latency in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"tool"},
	)

	ToolCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consensus_tool_cache_hits_total",
			Help: "Tool results served from cache",
		},
	)

	ToolCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consensus_tool_cache_misses_total",
			Help: "Tool cache misses",
		},
	)

	// Verification metrics
	ClaimVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_claim_verdicts_total",
			Help: "Claim verdicts by kind",
		},
		[]string{"kind", "verdict"},
	)

	VerificationTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consensus_verification_timeouts_total",
			Help: "Verification passes that hit their sub-deadline",
		},
	)

	// Consensus metrics
	ConsensusMethods = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_methods_total",
			Help: "Consensus methods used",
		},
		[]string{"method"},
	)

	AgreementLevel = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consensus_agreement_level",
			Help:    "Mean pairwise similarity between candidate responses",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	DebateRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consensus_debate_rounds",
			Help:    "Debate rounds run before stopping",
			Buckets: []float64{0, 1, 2, 3},
		},
	)

	// Catalog metrics
	CatalogReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_catalog_reloads_total",
			Help: "Catalog reload attempts by status",
		},
		[]string{"status"},
	)

	CatalogModels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "consensus_catalog_models",
			Help: "Models in the current catalog snapshot",
		},
	)

	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_pricing_fallback_total",
			Help: "Cost estimates that used the default price",
		},
		[]string{"reason"},
	)
)
