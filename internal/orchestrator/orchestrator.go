// Package orchestrator wires preprocessing, strategy selection, parallel
// execution, verification, consensus and refinement into one request
// lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/catalog"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/consensus"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/execution"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/inference"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/memory"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/preprocess"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/refine"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/strategy"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/util"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/verification"
)

// Dependencies are the collaborators an Orchestrator is built from. Catalog
// and Router are required; the rest are optional.
type Dependencies struct {
	Catalog catalog.Provider
	Router  *inference.Router
	Tools   execution.ToolRunner
	Safety  preprocess.SafetyChecker
	Sandbox verification.CodeChecker
	Memory  memory.Store
}

// Orchestrator runs requests. It holds no per-request state.
type Orchestrator struct {
	catalog      catalog.Provider
	router       *inference.Router
	preprocessor *preprocess.Preprocessor
	selector     *strategy.Selector
	executor     *execution.Engine
	verifier     *verification.Engine
	consensus    *consensus.Manager
	memory       memory.Store

	defaultDeadline time.Duration
	graceTimeout    time.Duration
	logger          *zap.Logger
}

// New assembles an orchestrator from cfg and deps.
func New(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.Defaults()
	}
	if deps.Catalog == nil {
		return nil, errors.New("orchestrator requires a model catalog")
	}
	if deps.Router == nil {
		return nil, errors.New("orchestrator requires an inference router")
	}
	if deps.Memory == nil {
		deps.Memory = memory.Noop{}
	}

	var opts []preprocess.Option
	if cfg.Preprocess.UseLLMClassifier && cfg.Preprocess.ClassifierModel != "" {
		classifier := preprocess.NewLLMClassifier(
			deps.Router.ForSnapshot(nil),
			cfg.Preprocess.ClassifierModel,
			config.Millis(cfg.Preprocess.ClassifierTimeoutMs, 5*time.Second),
		)
		opts = append(opts, preprocess.WithClassifier(classifier))
	}

	return &Orchestrator{
		catalog:         deps.Catalog,
		router:          deps.Router,
		preprocessor:    preprocess.New(cfg.Preprocess, deps.Safety, logger.Named("preprocess"), opts...),
		selector:        strategy.NewSelector(cfg.Strategy, logger.Named("strategy")),
		executor:        execution.NewEngine(cfg.Execution, deps.Tools, logger.Named("execution")),
		verifier:        verification.NewEngine(cfg.Verification, deps.Sandbox, logger.Named("verification")),
		consensus:       consensus.NewManager(cfg.Consensus, logger.Named("consensus")),
		memory:          deps.Memory,
		defaultDeadline: config.Millis(cfg.Execution.DefaultDeadlineMs, 90*time.Second),
		graceTimeout:    config.Millis(cfg.Verification.TimeoutMs, 3*time.Second),
		logger:          logger,
	}, nil
}

// request carries the state of one Orchestrate call.
type request struct {
	start    time.Time
	trace    *models.OrchestrationTrace
	strategy models.StrategyName
	client   *meteredClient
}

// Orchestrate answers query under budget. Hard errors carry a stable code
// (see models.ErrorCode); soft failures lower confidence instead. Memory is
// consulted only when ctx carries a scope from memory.WithScope.
func (o *Orchestrator) Orchestrate(ctx context.Context, query string, history []models.Turn, budget models.BudgetConfig) (models.OrchestrationResult, error) {
	ctx, span := tracing.StartSpan(ctx, "consensus.orchestrate")
	req := &request{
		start: time.Now(),
		trace: &models.OrchestrationTrace{TraceID: tracing.TraceID(ctx)},
	}

	res, err := o.run(ctx, req, query, history, budget)
	span.SetAttributes(
		attribute.String("strategy", string(req.strategy)),
		attribute.Float64("confidence", res.Confidence),
	)
	tracing.EndSpan(span, err)

	strategyLabel := string(req.strategy)
	if strategyLabel == "" {
		strategyLabel = "none"
	}
	outcome := "success"
	switch {
	case err != nil:
		outcome = strings.ToLower(models.ErrorCode(err))
		o.logger.Warn("Orchestration failed",
			zap.String("trace_id", req.trace.TraceID),
			zap.String("code", models.ErrorCode(err)),
			zap.Error(err),
		)
	case res.NeedsClarification:
		outcome = "clarification"
	case res.Degraded:
		outcome = "degraded"
	}
	metrics.RequestsTotal.WithLabelValues(strategyLabel, outcome).Inc()
	metrics.RequestDuration.WithLabelValues(strategyLabel).Observe(time.Since(req.start).Seconds())
	return res, err
}

func (o *Orchestrator) run(parent context.Context, req *request, query string, history []models.Turn, budget models.BudgetConfig) (models.OrchestrationResult, error) {
	trace := req.trace

	budget = budget.Normalize()
	if err := budget.Validate(); err != nil {
		return models.OrchestrationResult{}, err
	}
	deadline := o.defaultDeadline
	if budget.MaxLatencyMs != nil {
		deadline = time.Duration(*budget.MaxLatencyMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(parent, deadline)
	defer cancel()

	pctx, pspan := tracing.StartSpan(ctx, "consensus.preprocess")
	cls, err := o.preprocessor.Classify(pctx, query, history)
	tracing.EndSpan(pspan, err)
	if err != nil {
		return models.OrchestrationResult{}, err
	}
	trace.Append("preprocess", "query classified", map[string]interface{}{
		"task_type":     string(cls.TaskType),
		"complexity":    string(cls.Complexity),
		"classifier":    cls.ClassifierUsed,
		"tool_hints":    cls.ToolHints,
		"safety_flag":   string(cls.SafetyFlag),
		"safety_reason": cls.SafetyReason,
	})
	if cls.SafetyFlag == models.SafetyBlock {
		return models.OrchestrationResult{}, &models.SafetyBlockedError{Reason: cls.SafetyReason}
	}
	if cls.RequiresClarification {
		return o.clarification(req, cls), nil
	}
	// Memory only feeds prompts; ambiguity is judged on the caller's own
	// conversation.
	promptHistory := o.recall(ctx, trace, &cls, history)

	snap, err := o.catalog.Snapshot(ctx)
	if err != nil {
		return models.OrchestrationResult{}, fmt.Errorf("load catalog snapshot: %w", err)
	}
	req.client = newMeteredClient(o.router.ForSnapshot(snap))

	_, done := o.stage(ctx, "select")
	name, plan, err := o.selector.Select(cls, budget, snap)
	done(err)
	if err != nil {
		return models.OrchestrationResult{}, err
	}
	req.strategy = name
	trace.StrategyUsed = name
	trace.ModelsUsed = lo.Uniq(plan.ModelIDs())
	trace.Append("strategy", "plan built", map[string]interface{}{
		"strategy": string(name),
		"steps":    len(plan.Steps),
		"groups":   len(plan.Groups),
	})

	ectx, done := o.stage(ctx, "execute")
	responses := o.executor.Execute(ectx, req.client, plan, withContext(cls.SanitizedText, promptHistory))
	done(nil)

	completed := lo.CountBy(responses, func(r models.ModelResponse) bool { return r.OK() })
	deadlineHit := errors.Is(ctx.Err(), context.DeadlineExceeded)
	if completed == 0 {
		if deadlineHit {
			return models.OrchestrationResult{}, &models.DeadlineExceededError{Stage: "execution"}
		}
		return models.OrchestrationResult{}, &models.OrchestrationFailedError{
			Steps:  len(responses),
			Errors: lo.Map(responses, func(r models.ModelResponse, _ int) string { return r.Error }),
		}
	}
	toolResults := o.recordExecution(trace, responses)
	trace.Append("execution", "plan executed", map[string]interface{}{
		"completed": completed,
		"steps":     len(responses),
	})

	// Past the request deadline the remaining stages get a short grace
	// window so completed work can still be returned.
	post := ctx
	if deadlineHit {
		o.degrade(trace, "deadline_exceeded", "request deadline reached during execution")
		var postCancel context.CancelFunc
		post, postCancel = context.WithTimeout(context.WithoutCancel(parent), o.graceTimeout)
		defer postCancel()
	}

	report := models.VerificationReport{}
	if cls.TaskType != models.TaskCreative {
		vctx, done := o.stage(post, "verify")
		report = o.verifier.Verify(vctx, responses, toolResults)
		done(nil)
		if report.TimedOut {
			o.degrade(trace, "verification_timeout", (&models.VerificationTimeout{Outstanding: countUnverifiable(report)}).Error())
		}
	}
	trace.VerificationStatus = verificationStatus(report, toolResults)
	trace.Append("verification", "claims checked", map[string]interface{}{
		"claims": len(report.Claims),
		"status": trace.VerificationStatus,
		"delta":  report.ConfidenceDelta,
	})

	cctx, done := o.stage(post, "consensus")
	result, err := o.consensus.Synthesize(cctx, consensus.Input{
		Query:          cls.SanitizedText,
		Classification: cls,
		Strategy:       name,
		Responses:      responses,
		Verification:   report,
		Client:         req.client,
	})
	done(err)
	if err != nil {
		return models.OrchestrationResult{}, &models.OrchestrationFailedError{Steps: len(responses), Errors: []string{err.Error()}}
	}
	if result.UsedFallback {
		o.degrade(trace, "final_step_failed", "final step failed, answering from an intermediate draft")
	}
	trace.Append("consensus", "answer synthesized", map[string]interface{}{
		"method":    string(result.Method),
		"agreement": result.AgreementLevel,
		"rounds":    result.Rounds,
		"skipped":   result.SkippedSynthesis,
	})

	_, done = o.stage(post, "refine")
	content := refine.Refine(refine.Input{
		Consensus:    result,
		Verification: report,
		Domain:       cls.Domain,
		History:      history,
		Sources:      trace.Sources,
	})
	done(nil)

	trace.CostUSD = req.client.Cost()
	trace.Confidence = confidence(result, report, trace, deadlineHit)
	out := o.result(req, content, report)

	o.remember(parent, cls.SanitizedText, out)
	metrics.RequestCostUSD.Observe(out.CostUSD)
	metrics.ResultConfidence.Observe(out.Confidence)
	o.logger.Info("Orchestration completed",
		zap.String("trace_id", trace.TraceID),
		zap.String("strategy", string(name)),
		zap.String("consensus", string(result.Method)),
		zap.String("verification", trace.VerificationStatus),
		zap.Float64("confidence", out.Confidence),
		zap.Float64("cost_usd", out.CostUSD),
		zap.Strings("degradations", trace.Degradations),
	)
	return out, nil
}

func (o *Orchestrator) clarification(req *request, cls models.ClassificationResult) models.OrchestrationResult {
	req.trace.VerificationStatus = models.VerificationSkipped
	req.trace.Append("preprocess", "clarification requested", map[string]interface{}{
		"ambiguities": len(cls.Ambiguities),
	})
	return models.OrchestrationResult{
		Content:               cls.ClarificationQuestion,
		TraceID:               req.trace.TraceID,
		VerificationStatus:    models.VerificationSkipped,
		NeedsClarification:    true,
		ClarificationQuestion: cls.ClarificationQuestion,
		LatencyMs:             time.Since(req.start).Milliseconds(),
		ModelsUsed:            []string{},
		ToolsUsed:             []string{},
		Sources:               []string{},
		Trace:                 req.trace,
	}
}

func (o *Orchestrator) result(req *request, content string, report models.VerificationReport) models.OrchestrationResult {
	t := req.trace
	return models.OrchestrationResult{
		Content:            content,
		TraceID:            t.TraceID,
		Confidence:         t.Confidence,
		ModelsUsed:         t.ModelsUsed,
		StrategyUsed:       t.StrategyUsed,
		VerificationStatus: t.VerificationStatus,
		VerificationScore:  report.Score(),
		ToolsUsed:          t.ToolsUsed,
		Sources:            t.Sources,
		CostUSD:            t.CostUSD,
		LatencyMs:          time.Since(req.start).Milliseconds(),
		Degraded:           len(t.Degradations) > 0,
		Trace:              t,
	}
}

// recordExecution fills tools and sources on the trace, records soft
// failures and returns every tool result in step order.
func (o *Orchestrator) recordExecution(trace *models.OrchestrationTrace, responses []models.ModelResponse) []models.ToolResult {
	var results []models.ToolResult
	for _, r := range responses {
		switch {
		case r.TimedOut:
			o.degrade(trace, "step_timeout", fmt.Sprintf("step %d (%s) timed out", r.StepIndex, r.ModelID))
		case !r.OK():
			o.degrade(trace, "step_failed", fmt.Sprintf("step %d (%s) failed: %s", r.StepIndex, r.ModelID, r.Error))
		}
		for _, tr := range r.ToolResults {
			results = append(results, tr)
			switch tr.Status {
			case models.ToolSuccess:
				if tr.ToolName == models.ToolWebSearch {
					trace.Sources = append(trace.Sources, tools.SourceURLs(tr.Payload)...)
				}
			case models.ToolTimeout:
				o.degrade(trace, "tool_timeout", fmt.Sprintf("tool %s (%s) timed out", tr.ToolName, tr.CallID))
			case models.ToolFailed:
				o.degrade(trace, "tool_failed", fmt.Sprintf("tool %s (%s) failed: %s", tr.ToolName, tr.CallID, tr.Error))
			}
		}
	}
	trace.ToolsUsed = lo.Uniq(lo.Map(results, func(r models.ToolResult, _ int) string { return r.ToolName }))
	trace.Sources = lo.Uniq(trace.Sources)
	if trace.ToolsUsed == nil {
		trace.ToolsUsed = []string{}
	}
	if trace.Sources == nil {
		trace.Sources = []string{}
	}
	return results
}

func (o *Orchestrator) degrade(trace *models.OrchestrationTrace, reason, detail string) {
	trace.Degrade(detail)
	metrics.Degradations.WithLabelValues(reason).Inc()
}

// stage opens a span for name and returns a func that closes it and
// records the stage duration.
func (o *Orchestrator) stage(ctx context.Context, name string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "consensus."+name)
	return ctx, func(err error) {
		metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		tracing.EndSpan(span, err)
	}
}

// recall returns history prefixed with related memory of the caller's scope
// and refreshes the tool hints that depend on it.
func (o *Orchestrator) recall(ctx context.Context, trace *models.OrchestrationTrace, cls *models.ClassificationResult, history []models.Turn) []models.Turn {
	scope := memory.ScopeFrom(ctx)
	if scope == "" {
		return history
	}
	entries := o.memory.GetRelevantContext(ctx, scope, cls.SanitizedText)
	if len(entries) == 0 {
		return history
	}
	trace.Append("memory", "seeded related context", map[string]interface{}{"entries": len(entries)})
	seeded := append(memoryTurns(entries), history...)
	cls.ToolHints = preprocess.ToolHints(cls.SanitizedText, cls.TaskType, cls.Ambiguities, seeded)
	cls.RequiresTools = len(cls.ToolHints) > 0
	return seeded
}

// remember stores the sanitized query, so redactions made during
// preprocessing never reach later prompts.
func (o *Orchestrator) remember(parent context.Context, sanitized string, res models.OrchestrationResult) {
	scope := memory.ScopeFrom(parent)
	if scope == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 2*time.Second)
	defer cancel()
	err := o.memory.Record(ctx, scope, memory.Entry{
		Query:      sanitized,
		Answer:     util.TruncateString(res.Content, 2000, true),
		Strategy:   string(res.StrategyUsed),
		Confidence: res.Confidence,
		Sources:    res.Sources,
	})
	if err != nil {
		o.logger.Warn("Failed to record orchestration in memory",
			zap.String("trace_id", res.TraceID),
			zap.Error(err),
		)
	}
}

// WatchCatalog hot-reloads a file-backed catalog through w.
func (o *Orchestrator) WatchCatalog(w *config.FileWatcher) error {
	fp, ok := o.catalog.(*catalog.FileProvider)
	if !ok {
		return nil
	}
	return fp.Watch(w)
}

// Catalog returns the model catalog provider.
func (o *Orchestrator) Catalog() catalog.Provider { return o.catalog }

// BreakerStates reports the circuit state of every registered provider.
func (o *Orchestrator) BreakerStates() map[string]circuitbreaker.State {
	return o.router.BreakerStates()
}

func memoryTurns(entries []memory.Entry) []models.Turn {
	turns := make([]models.Turn, 0, len(entries))
	for _, e := range entries {
		turns = append(turns, models.Turn{
			Role:    preprocess.MemoryRole,
			Content: fmt.Sprintf("Earlier question: %s\nAnswer: %s", e.Query, e.Answer),
		})
	}
	return turns
}

const contextTurns = 4

// withContext prefixes the last few history turns to the question models see.
func withContext(text string, history []models.Turn) string {
	if len(history) == 0 {
		return text
	}
	recent := history
	if len(recent) > contextTurns {
		recent = recent[len(recent)-contextTurns:]
	}
	var b strings.Builder
	b.WriteString("Conversation context:\n")
	for _, t := range recent {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, util.TruncateString(strings.TrimSpace(t.Content), 500, true))
	}
	b.WriteString("\nCurrent question: ")
	b.WriteString(text)
	return b.String()
}

func countUnverifiable(r models.VerificationReport) int {
	return r.Counts().Unverifiable
}
