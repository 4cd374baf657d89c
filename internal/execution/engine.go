// Package execution runs an execution plan against the model team. Groups run
// in order, steps inside a group run concurrently, and every step yields a
// ModelResponse whether or not its model call succeeded.
package execution

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/inference"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

// ToolRunner executes a step's tool calls.
type ToolRunner interface {
	ExecuteBatch(ctx context.Context, calls []models.ToolCall) []models.ToolResult
}

// Engine executes plans.
type Engine struct {
	tools           ToolRunner
	stepTimeout     time.Duration
	defaultDeadline time.Duration
	maxConcurrency  int
	logger          *zap.Logger
}

// NewEngine creates an engine. tools may be nil when no step requests tools.
func NewEngine(cfg config.ExecutionConfig, tools ToolRunner, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		tools:           tools,
		stepTimeout:     config.Millis(cfg.StepTimeoutMs, 30*time.Second),
		defaultDeadline: config.Millis(cfg.DefaultDeadlineMs, 90*time.Second),
		maxConcurrency:  cfg.MaxConcurrency,
		logger:          logger,
	}
	if e.maxConcurrency <= 0 {
		e.maxConcurrency = 8
	}
	return e
}

// Execute runs plan and returns one response per step in step order. The plan
// deadline bounds the whole run; steps still pending when it passes are
// marked timed out.
func (e *Engine) Execute(ctx context.Context, client inference.Completer, plan models.ExecutionPlan, query string) []models.ModelResponse {
	deadline := plan.Deadline
	if deadline <= 0 {
		deadline = e.defaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	responses := make([]models.ModelResponse, len(plan.Steps))
	for i, s := range plan.Steps {
		responses[i] = models.ModelResponse{StepIndex: s.Index, Role: s.Role, ModelID: s.AssignedModelID, Final: s.Final, Fallback: s.Fallback}
	}

	for g, group := range plan.Groups {
		if ctx.Err() != nil {
			for _, idx := range group {
				e.markTimedOut(&responses[idx], "plan deadline reached before the step started")
			}
			continue
		}

		eg := new(errgroup.Group)
		eg.SetLimit(min(len(group), e.maxConcurrency))
		for _, idx := range group {
			idx := idx
			eg.Go(func() error {
				// Dependencies live in earlier groups and are final here.
				deps := make([]dependencyInput, 0, len(plan.Steps[idx].DependsOn))
				for _, d := range plan.Steps[idx].DependsOn {
					deps = append(deps, dependencyInput{
						step: d,
						role: plan.Steps[d].Role,
						text: dependencyText(responses[d]),
						ok:   responses[d].OK(),
					})
				}
				responses[idx] = e.runStep(ctx, client, plan.Steps[idx], query, deps)
				return nil
			})
		}
		_ = eg.Wait()

		e.logger.Debug("Plan group finished",
			zap.Int("group", g),
			zap.Ints("steps", group),
		)
	}
	return responses
}

func (e *Engine) runStep(ctx context.Context, client inference.Completer, step models.PlanStep, query string, deps []dependencyInput) models.ModelResponse {
	resp := models.ModelResponse{StepIndex: step.Index, Role: step.Role, ModelID: step.AssignedModelID, Final: step.Final, Fallback: step.Fallback}

	if len(step.ToolCalls) > 0 && e.tools != nil {
		resp.ToolResults = e.tools.ExecuteBatch(ctx, step.ToolCalls)
		for _, r := range resp.ToolResults {
			if !r.OK() {
				resp.Degraded = true
			}
		}
	}
	for _, d := range deps {
		if !d.ok {
			resp.Degraded = true
		}
	}

	if ctx.Err() != nil {
		e.markTimedOut(&resp, "plan deadline reached during tool calls")
		return resp
	}

	prompt := buildPrompt(step, query, resp.ToolResults, deps)
	sctx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	start := time.Now()
	out, err := client.Complete(sctx, step.AssignedModelID, prompt, step.MaxTokens)
	resp.LatencyMs = time.Since(start).Milliseconds()

	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || sctx.Err() != nil
		failure := &models.ModelCallFailure{ModelID: step.AssignedModelID, StepIndex: step.Index, Timeout: timedOut, Cause: err}
		resp.Error = failure.Error()
		resp.TimedOut = timedOut
		outcome := "failed"
		if timedOut {
			outcome = "timeout"
		}
		metrics.PlanSteps.WithLabelValues(outcome).Inc()
		e.logger.Warn("Plan step failed",
			zap.Int("step", step.Index),
			zap.String("role", step.Role),
			zap.String("model", step.AssignedModelID),
			zap.Bool("timeout", timedOut),
			zap.Error(err),
		)
		return resp
	}

	resp.RawText = out.Text
	resp.Usage = models.TokenUsage{
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
		TotalTokens:  out.InputTokens + out.OutputTokens,
		CostUSD:      out.CostUSD,
	}
	if out.LatencyMs > 0 {
		resp.LatencyMs = out.LatencyMs
	}
	if resp.RawText == "" {
		resp.Error = (&models.ModelCallFailure{ModelID: step.AssignedModelID, StepIndex: step.Index, Cause: inference.ErrEmptyCompletion}).Error()
		metrics.PlanSteps.WithLabelValues("failed").Inc()
		return resp
	}
	metrics.PlanSteps.WithLabelValues("success").Inc()
	return resp
}

func (e *Engine) markTimedOut(resp *models.ModelResponse, reason string) {
	resp.TimedOut = true
	resp.Error = reason
	metrics.PlanSteps.WithLabelValues("timeout").Inc()
}
