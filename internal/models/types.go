package models

import "time"

// TaskType is the fixed task enumeration produced by classification.
type TaskType string

const (
	TaskFactual   TaskType = "factual"
	TaskCoding    TaskType = "coding"
	TaskMath      TaskType = "math"
	TaskCreative  TaskType = "creative"
	TaskResearch  TaskType = "research"
	TaskMultiStep TaskType = "multi_step"
	TaskOther     TaskType = "other"
)

// AllTaskTypes lists every task type in a stable order.
var AllTaskTypes = []TaskType{TaskFactual, TaskCoding, TaskMath, TaskCreative, TaskResearch, TaskMultiStep, TaskOther}

// Valid reports whether t is a member of the enumeration.
func (t TaskType) Valid() bool {
	for _, v := range AllTaskTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Complexity levels
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityResearch Complexity = "research"
)

// AllComplexities lists complexity levels from lowest to highest.
var AllComplexities = []Complexity{ComplexitySimple, ComplexityModerate, ComplexityComplex, ComplexityResearch}

// Valid reports whether c is a member of the enumeration.
func (c Complexity) Valid() bool {
	for _, v := range AllComplexities {
		if v == c {
			return true
		}
	}
	return false
}

// Rank orders complexities; unknown values rank as simple.
func (c Complexity) Rank() int {
	for i, v := range AllComplexities {
		if v == c {
			return i
		}
	}
	return 0
}

// SafetyFlag is the outcome of the safety pass.
type SafetyFlag string

const (
	SafetyNone  SafetyFlag = "none"
	SafetyWarn  SafetyFlag = "warn"
	SafetyBlock SafetyFlag = "block"
)

// AmbiguityType categorizes a detected ambiguity.
type AmbiguityType string

const (
	AmbiguityPronoun     AmbiguityType = "pronoun"
	AmbiguityComparative AmbiguityType = "vague_comparative"
	AmbiguityTemporal    AmbiguityType = "temporal"
	AmbiguityScope       AmbiguityType = "scope"
)

// Domain drives the refiner's tone.
type Domain string

const (
	DomainGeneral Domain = "general"
	DomainCoding  Domain = "coding"
	DomainMath    Domain = "math"
	DomainMedical Domain = "medical"
	DomainLegal   Domain = "legal"
)

// Capability names a model skill scored in the catalog.
type Capability string

const (
	CapReasoning Capability = "reasoning"
	CapCoding    Capability = "coding"
	CapMath      Capability = "math"
	CapFactual   Capability = "factual"
	CapCreative  Capability = "creative"
	CapResearch  Capability = "research"
	CapJudge     Capability = "judge"
)

// Turn is one message of conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BudgetConfig bounds strategy selection and execution.
type BudgetConfig struct {
	MaxCostUSD    *float64 `json:"max_cost_usd,omitempty"`
	MaxLatencyMs  *int64   `json:"max_latency_ms,omitempty"`
	AccuracyLevel int      `json:"accuracy_level"`
	PreferCheap   bool     `json:"prefer_cheap"`
}

// DefaultAccuracyLevel applies when the caller leaves accuracy unset.
const DefaultAccuracyLevel = 3

// Normalize returns a copy with defaults applied.
func (b BudgetConfig) Normalize() BudgetConfig {
	if b.AccuracyLevel == 0 {
		b.AccuracyLevel = DefaultAccuracyLevel
	}
	return b
}

// Validate rejects out-of-range values. Call after Normalize.
func (b BudgetConfig) Validate() error {
	if b.AccuracyLevel < 1 || b.AccuracyLevel > 5 {
		return &ClassificationError{Reason: "accuracy_level must be between 1 and 5"}
	}
	if b.MaxCostUSD != nil && *b.MaxCostUSD < 0 {
		return &ClassificationError{Reason: "max_cost_usd must be >= 0"}
	}
	if b.MaxLatencyMs != nil && *b.MaxLatencyMs <= 0 {
		return &ClassificationError{Reason: "max_latency_ms must be > 0"}
	}
	return nil
}

// Query is the immutable request input.
type Query struct {
	Text    string       `json:"text"`
	History []Turn       `json:"history,omitempty"`
	Budget  BudgetConfig `json:"budget"`
}

// Ambiguity is one detected ambiguity span.
type Ambiguity struct {
	Type                AmbiguityType `json:"type"`
	Span                string        `json:"span"`
	SuggestedResolution string        `json:"suggested_resolution"`
	Blocking            bool          `json:"blocking"`
}

// ClassificationResult is derived once per request by the preprocessor.
type ClassificationResult struct {
	TaskType              TaskType    `json:"task_type"`
	Complexity            Complexity  `json:"complexity"`
	Ambiguities           []Ambiguity `json:"ambiguity_details"`
	RequiresClarification bool        `json:"requires_clarification"`
	ClarificationQuestion string      `json:"clarification_question,omitempty"`
	RequiresTools         bool        `json:"requires_tools"`
	ToolHints             []string    `json:"tool_hints,omitempty"`
	SafetyFlag            SafetyFlag  `json:"safety_flag"`
	SafetyReason          string      `json:"safety_reason,omitempty"`
	SanitizedText         string      `json:"sanitized_text"`
	Domain                Domain      `json:"domain"`
	ClassifierUsed        string      `json:"classifier_used"`
	HierarchicalPlanning  bool        `json:"hierarchical_planning"`
}

// AmbiguityTypes returns the distinct ambiguity types present.
func (c ClassificationResult) AmbiguityTypes() []AmbiguityType {
	seen := make(map[AmbiguityType]bool)
	var out []AmbiguityType
	for _, a := range c.Ambiguities {
		if !seen[a.Type] {
			seen[a.Type] = true
			out = append(out, a.Type)
		}
	}
	return out
}

// ModelProfile is a read-only catalog entry.
type ModelProfile struct {
	ID               string                 `json:"model_id" yaml:"id"`
	Provider         string                 `json:"provider" yaml:"provider"`
	CapabilityScores map[Capability]float64 `json:"capability_scores" yaml:"capabilities"`
	CostPer1KInput   float64                `json:"cost_per_1k_input" yaml:"cost_per_1k_input"`
	CostPer1KOutput  float64                `json:"cost_per_1k_output" yaml:"cost_per_1k_output"`
	LatencyClass     int                    `json:"latency_class" yaml:"latency_class"`
	MaxContext       int                    `json:"max_context" yaml:"max_context"`
}

// Score returns the capability score, zero when absent.
func (m ModelProfile) Score(c Capability) float64 {
	if m.CapabilityScores == nil {
		return 0
	}
	return m.CapabilityScores[c]
}

// CostPerToken is the blended per-token price used for ranking.
func (m ModelProfile) CostPerToken() float64 {
	return (m.CostPer1KInput + m.CostPer1KOutput) / 2.0 / 1000.0
}

// StrategyName names an orchestration pattern.
type StrategyName string

const (
	StrategySingleBest         StrategyName = "single_best"
	StrategyParallelRace       StrategyName = "parallel_race"
	StrategyBestOfN            StrategyName = "best_of_n"
	StrategyFusion             StrategyName = "fusion"
	StrategyExpertPanel        StrategyName = "expert_panel"
	StrategyChallengeAndRefine StrategyName = "challenge_and_refine"
	StrategySelfConsistency    StrategyName = "self_consistency"
	StrategyHierarchical       StrategyName = "hierarchical"
)

// PlanStep is one unit of work assigned to one role and one model.
type PlanStep struct {
	Index           int        `json:"index"`
	Role            string     `json:"role"`
	Goal            string     `json:"goal"`
	AssignedModelID string     `json:"assigned_model_id"`
	DependsOn       []int      `json:"depends_on,omitempty"`
	ToolCalls       []ToolCall `json:"tool_calls,omitempty"`
	MaxTokens       int        `json:"max_tokens"`
	// Final steps produce candidate answers. Other steps only feed their
	// dependents, except Fallback steps which stand in when every final
	// step failed.
	Final    bool `json:"final"`
	Fallback bool `json:"fallback,omitempty"`
}

// ExecutionPlan is consumed by the execution engine and discarded after the request.
type ExecutionPlan struct {
	Strategy StrategyName  `json:"strategy"`
	Steps    []PlanStep    `json:"steps"`
	Groups   [][]int       `json:"groups"`
	Deadline time.Duration `json:"deadline"`
}

// ModelIDs returns assigned model IDs in step order, duplicates included.
func (p ExecutionPlan) ModelIDs() []string {
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.AssignedModelID)
	}
	return out
}

// Built-in tool names.
const (
	ToolWebSearch       = "web_search"
	ToolCalculator      = "calculator"
	ToolCodeSandbox     = "code_sandbox"
	ToolKnowledgeBase   = "knowledge_base"
	ToolImageGeneration = "image_generation"
)

// Tool result statuses
type ToolStatus string

const (
	ToolSuccess ToolStatus = "success"
	ToolFailed  ToolStatus = "failed"
	ToolTimeout ToolStatus = "timeout"
	ToolSkipped ToolStatus = "skipped"
)

// ToolCall requests one tool invocation. Bindings map an argument name to the
// ID of an earlier call whose payload is substituted before invocation.
type ToolCall struct {
	ID             string                 `json:"id"`
	ToolName       string                 `json:"tool_name"`
	Arguments      map[string]interface{} `json:"arguments"`
	RequestingStep int                    `json:"requesting_step"`
	DependsOn      []string               `json:"depends_on,omitempty"`
	Bindings       map[string]string      `json:"bindings,omitempty"`
}

// ToolResult is always returned, even on failure.
type ToolResult struct {
	CallID    string     `json:"call_id"`
	ToolName  string     `json:"tool_name"`
	Status    ToolStatus `json:"status"`
	Payload   string     `json:"payload,omitempty"`
	Error     string     `json:"error,omitempty"`
	Truncated bool       `json:"truncated,omitempty"`
	LatencyMs int64      `json:"latency_ms"`
}

// OK reports a successful invocation.
func (r ToolResult) OK() bool { return r.Status == ToolSuccess }

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// ModelResponse is one executed plan step's output.
type ModelResponse struct {
	StepIndex   int          `json:"step_index"`
	Role        string       `json:"role"`
	ModelID     string       `json:"model_id"`
	RawText     string       `json:"raw_text"`
	LatencyMs   int64        `json:"latency_ms"`
	Usage       TokenUsage   `json:"token_usage"`
	Error       string       `json:"error,omitempty"`
	TimedOut    bool         `json:"timed_out,omitempty"`
	Degraded    bool         `json:"degraded,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Final       bool         `json:"final"`
	Fallback    bool         `json:"fallback,omitempty"`
}

// OK reports a response usable by verification and consensus.
func (r ModelResponse) OK() bool { return r.Error == "" && r.RawText != "" }

// AnswerBearing reports, per response, whether it holds a usable candidate
// answer. Usable final steps bear the answer; when none is usable, usable
// fallback steps do and usedFallback is set. Intermediate steps only feed
// their dependents. A list with no step flags at all is treated as peers.
func AnswerBearing(responses []ModelResponse) (bearing []bool, usedFallback bool) {
	bearing = make([]bool, len(responses))
	flagged, finals := false, 0
	for _, r := range responses {
		if r.Final || r.Fallback {
			flagged = true
		}
		if r.Final && r.OK() {
			finals++
		}
	}
	for i, r := range responses {
		switch {
		case !r.OK():
		case !flagged:
			bearing[i] = true
		case finals > 0:
			bearing[i] = r.Final
		default:
			bearing[i] = r.Fallback
			usedFallback = usedFallback || r.Fallback
		}
	}
	return bearing, usedFallback
}

// Verdicts
type Verdict string

const (
	VerdictVerified      Verdict = "verified"
	VerdictRefuted       Verdict = "refuted"
	VerdictUnverifiable  Verdict = "unverifiable"
	VerdictSyntaxChecked Verdict = "syntax_checked"
)

// ClaimKind
type ClaimKind string

const (
	ClaimNumeric ClaimKind = "numeric"
	ClaimCode    ClaimKind = "code"
	ClaimFactual ClaimKind = "factual"
)

// ClaimCheck is the verdict for one claim.
type ClaimCheck struct {
	ClaimText      string    `json:"claim_text"`
	Kind           ClaimKind `json:"kind"`
	Verdict        Verdict   `json:"verdict"`
	Correction     *string   `json:"correction,omitempty"`
	EvidenceSource string    `json:"evidence_source,omitempty"`
	ResponseIndex  int       `json:"response_index"`
}

// Verification statuses surfaced on the result
const (
	VerificationVerified   = "verified"
	VerificationPartial    = "partially_verified"
	VerificationCorrected  = "corrected"
	VerificationUnverified = "unverified"
	VerificationSkipped    = "not_applicable"
	VerificationTimedOut   = "timed_out"
	VerificationDegraded   = "degraded"
)

// VerificationCounts tallies verdicts.
type VerificationCounts struct {
	Verified      int `json:"verified"`
	Refuted       int `json:"refuted"`
	Unverifiable  int `json:"unverifiable"`
	SyntaxChecked int `json:"syntax_checked"`
}

// Total number of claims.
func (c VerificationCounts) Total() int {
	return c.Verified + c.Refuted + c.Unverifiable + c.SyntaxChecked
}

// VerificationReport aggregates claim checks for all responses.
type VerificationReport struct {
	Claims          []ClaimCheck `json:"claims"`
	ConfidenceDelta float64      `json:"confidence_delta"`
	TimedOut        bool         `json:"timed_out"`
}

// Counts tallies verdicts across all claims.
func (r VerificationReport) Counts() VerificationCounts {
	var c VerificationCounts
	for _, cl := range r.Claims {
		switch cl.Verdict {
		case VerdictVerified:
			c.Verified++
		case VerdictRefuted:
			c.Refuted++
		case VerdictSyntaxChecked:
			c.SyntaxChecked++
		default:
			c.Unverifiable++
		}
	}
	return c
}

// Score is the fraction of claims that were verified or syntax-checked.
func (r VerificationReport) Score() float64 {
	c := r.Counts()
	if c.Total() == 0 {
		return 0
	}
	return (float64(c.Verified) + 0.5*float64(c.SyntaxChecked)) / float64(c.Total())
}

// Status summarizes the report for the result payload.
func (r VerificationReport) Status() string {
	c := r.Counts()
	switch {
	case r.TimedOut:
		return VerificationTimedOut
	case c.Total() == 0:
		return VerificationSkipped
	case c.Refuted > 0:
		return VerificationCorrected
	case c.Unverifiable == 0 && c.SyntaxChecked == 0:
		return VerificationVerified
	case c.Verified+c.SyntaxChecked > 0:
		return VerificationPartial
	default:
		return VerificationUnverified
	}
}

// RefutedResponses returns the response indexes carrying a refuted claim.
func (r VerificationReport) RefutedResponses() map[int]bool {
	out := make(map[int]bool)
	for _, c := range r.Claims {
		if c.Verdict == VerdictRefuted {
			out[c.ResponseIndex] = true
		}
	}
	return out
}

// VerifiedResponses returns the response indexes with at least one verified claim.
func (r VerificationReport) VerifiedResponses() map[int]bool {
	out := make(map[int]bool)
	for _, c := range r.Claims {
		if c.Verdict == VerdictVerified {
			out[c.ResponseIndex] = true
		}
	}
	return out
}

// Consensus methods
type ConsensusMethod string

const (
	MethodFusion      ConsensusMethod = "fusion"
	MethodDebate      ConsensusMethod = "debate"
	MethodMajority    ConsensusMethod = "majority"
	MethodWeighted    ConsensusMethod = "weighted"
	MethodArbiter     ConsensusMethod = "arbiter"
	MethodPassthrough ConsensusMethod = "passthrough"
)

// ConsensusResult is the terminal aggregate before refinement.
type ConsensusResult struct {
	FinalText          string          `json:"final_text"`
	Method             ConsensusMethod `json:"method_used"`
	AgreementLevel     float64         `json:"agreement_level"`
	ContributingModels []string        `json:"contributing_models"`
	SelectedIndex      int             `json:"selected_index"`
	Rounds             int             `json:"rounds,omitempty"`
	SkippedSynthesis   bool            `json:"skipped_synthesis"`
	// UsedFallback is set when no final step was usable and the answer came
	// from a fallback step.
	UsedFallback bool `json:"used_fallback,omitempty"`
}

// TraceEvent is one component's contribution to the trace.
type TraceEvent struct {
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	At        time.Time              `json:"at"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// OrchestrationTrace is built incrementally and returned with the answer.
type OrchestrationTrace struct {
	TraceID            string       `json:"trace_id"`
	Confidence         float64      `json:"confidence"`
	ModelsUsed         []string     `json:"models_used"`
	StrategyUsed       StrategyName `json:"strategy_used"`
	VerificationStatus string       `json:"verification_status"`
	ToolsUsed          []string     `json:"tools_used"`
	Sources            []string     `json:"sources"`
	CostUSD            float64      `json:"cost_usd"`
	Degradations       []string     `json:"degradations,omitempty"`
	Events             []TraceEvent `json:"events,omitempty"`
}

// Append records a component event.
func (t *OrchestrationTrace) Append(component, message string, fields map[string]interface{}) {
	t.Events = append(t.Events, TraceEvent{Component: component, Message: message, At: time.Now(), Fields: fields})
}

// Degrade records a soft degradation.
func (t *OrchestrationTrace) Degrade(reason string) {
	t.Degradations = append(t.Degradations, reason)
}

// OrchestrationResult is the boundary result shape.
type OrchestrationResult struct {
	Content               string              `json:"content"`
	TraceID               string              `json:"trace_id"`
	Confidence            float64             `json:"confidence"`
	ModelsUsed            []string            `json:"models_used"`
	StrategyUsed          StrategyName        `json:"strategy_used"`
	VerificationStatus    string              `json:"verification_status"`
	VerificationScore     float64             `json:"verification_score"`
	ToolsUsed             []string            `json:"tools_used"`
	Sources               []string            `json:"sources"`
	NeedsClarification    bool                `json:"needs_clarification"`
	ClarificationQuestion string              `json:"clarification_question,omitempty"`
	CostUSD               float64             `json:"cost_usd"`
	LatencyMs             int64               `json:"latency_ms"`
	Degraded              bool                `json:"degraded"`
	Trace                 *OrchestrationTrace `json:"trace,omitempty"`
}
