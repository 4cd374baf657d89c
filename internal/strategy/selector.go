// Package strategy picks an orchestration strategy and model team for a
// classified query and lays out the execution plan.
package strategy

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/catalog"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/validation"
)

// Selector applies the threshold-driven decision table.
type Selector struct {
	cfg    config.StrategyConfig
	logger *zap.Logger
}

// NewSelector creates a selector with the given thresholds.
func NewSelector(cfg config.StrategyConfig, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 1024
	}
	if cfg.AccuracyWeight == 0 {
		cfg.AccuracyWeight = 1
	}
	return &Selector{cfg: cfg, logger: logger}
}

// Decide maps classification and budget to a strategy name. Precedence:
// coding, maximum accuracy, hierarchical planning, expert panel, speed,
// then complexity.
func (s *Selector) Decide(cls models.ClassificationResult, budget models.BudgetConfig) models.StrategyName {
	budget = budget.Normalize()
	complexRank := models.ComplexityComplex.Rank()
	speed := budget.MaxLatencyMs != nil && *budget.MaxLatencyMs <= s.cfg.TightLatencyMs

	switch {
	case cls.TaskType == models.TaskCoding:
		return models.StrategyChallengeAndRefine
	case budget.AccuracyLevel >= s.cfg.SelfConsistencyMinAccuracy:
		return models.StrategySelfConsistency
	case cls.HierarchicalPlanning:
		return models.StrategyHierarchical
	case cls.Complexity.Rank() >= complexRank && budget.AccuracyLevel >= s.cfg.ExpertPanelMinAccuracy:
		return models.StrategyExpertPanel
	case speed && cls.Complexity == models.ComplexitySimple:
		if budget.AccuracyLevel <= s.cfg.SingleBestMaxAccuracy {
			return models.StrategySingleBest
		}
		return models.StrategyParallelRace
	case cls.Complexity == models.ComplexitySimple:
		return models.StrategySingleBest
	case cls.Complexity == models.ComplexityModerate:
		return models.StrategyBestOfN
	default:
		return models.StrategyFusion
	}
}

// Select picks the strategy, assembles the team and returns a validated
// plan. A budget that excludes every capable model yields
// NoViableStrategyError; the strategy is never silently downgraded.
func (s *Selector) Select(cls models.ClassificationResult, budget models.BudgetConfig, snap *catalog.Snapshot) (models.StrategyName, models.ExecutionPlan, error) {
	budget = budget.Normalize()
	if snap == nil || snap.Len() == 0 {
		return "", models.ExecutionPlan{}, &models.NoViableStrategyError{Constraint: "catalog", Detail: "model catalog is empty"}
	}

	name := s.Decide(cls, budget)
	caps := RequiredCapabilities(cls.TaskType)
	ranked, err := s.rank(snap, caps, budget, s.stepCount(name))
	if err != nil {
		var constraint string
		var nv *models.NoViableStrategyError
		if errors.As(err, &nv) {
			constraint = nv.Constraint
		}
		metrics.NoViableStrategy.WithLabelValues(constraint).Inc()
		s.logger.Warn("No viable strategy",
			zap.String("strategy", string(name)),
			zap.Int("accuracy_level", budget.AccuracyLevel),
			zap.Error(err),
		)
		return "", models.ExecutionPlan{}, err
	}

	steps := s.build(name, ranked)
	for i := range steps {
		if len(steps[i].DependsOn) == 0 {
			steps[i].ToolCalls = toolCalls(i, cls)
		}
	}
	groups, err := validation.PlanGroups(steps)
	if err != nil {
		return "", models.ExecutionPlan{}, fmt.Errorf("build %s plan: %w", name, err)
	}

	plan := models.ExecutionPlan{Strategy: name, Steps: steps, Groups: groups}
	if budget.MaxLatencyMs != nil {
		plan.Deadline = time.Duration(*budget.MaxLatencyMs) * time.Millisecond
	}
	if err := validation.ValidatePlan(plan); err != nil {
		return "", models.ExecutionPlan{}, fmt.Errorf("validate %s plan: %w", name, err)
	}

	metrics.StrategySelections.WithLabelValues(string(name), string(cls.TaskType)).Inc()
	s.logger.Info("Strategy selected",
		zap.String("strategy", string(name)),
		zap.String("task_type", string(cls.TaskType)),
		zap.String("complexity", string(cls.Complexity)),
		zap.Int("accuracy_level", budget.AccuracyLevel),
		zap.Strings("models", plan.ModelIDs()),
		zap.Int("groups", len(groups)),
	)
	return name, plan, nil
}
