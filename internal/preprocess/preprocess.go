// Package preprocess turns raw query text into a ClassificationResult:
// validation, safety, task classification, ambiguity, tool hints and domain.
package preprocess

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/policy"
)

// SafetyChecker evaluates a query against the safety policy.
type SafetyChecker interface {
	Check(ctx context.Context, text string) (policy.Decision, error)
}

// Preprocessor runs every preprocessing pass for one query.
type Preprocessor struct {
	cfg      config.PreprocessConfig
	primary  Classifier
	fallback Classifier
	safety   SafetyChecker
	logger   *zap.Logger
}

// Option customizes a Preprocessor.
type Option func(*Preprocessor)

// WithClassifier sets the primary classifier. The rule classifier stays the fallback.
func WithClassifier(c Classifier) Option {
	return func(p *Preprocessor) { p.primary = c }
}

// New creates a preprocessor. A nil safety checker skips the safety pass.
func New(cfg config.PreprocessConfig, safety SafetyChecker, logger *zap.Logger, opts ...Option) *Preprocessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxQueryChars <= 0 {
		cfg.MaxQueryChars = 8000
	}
	if cfg.AmbiguityEscalationTypes <= 0 {
		cfg.AmbiguityEscalationTypes = 2
	}
	p := &Preprocessor{
		cfg:      cfg,
		primary:  RuleBasedClassifier{},
		fallback: RuleBasedClassifier{},
		safety:   safety,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Classify derives the ClassificationResult for text. It fails only on
// malformed input or a safety policy that cannot be evaluated; ambiguity
// and unsafe content are reported in the result.
func (p *Preprocessor) Classify(ctx context.Context, text string, history []models.Turn) (models.ClassificationResult, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())
	}()

	if err := p.validate(text); err != nil {
		return models.ClassificationResult{}, err
	}
	text = strings.TrimSpace(text)

	result := models.ClassificationResult{
		SafetyFlag:    models.SafetyNone,
		SanitizedText: text,
		Domain:        models.DomainGeneral,
	}

	if p.safety != nil {
		d, err := p.safety.Check(ctx, text)
		if err != nil {
			return models.ClassificationResult{}, &models.ClassificationError{Reason: "safety policy unavailable", Cause: err}
		}
		result.SafetyFlag = d.Flag
		result.SafetyReason = d.Reason
		metrics.SafetyDecisions.WithLabelValues(string(d.Flag)).Inc()
		switch d.Flag {
		case models.SafetyBlock:
			result.TaskType = models.TaskOther
			result.Complexity = models.ComplexitySimple
			return result, nil
		case models.SafetyWarn:
			result.SanitizedText = policy.Sanitize(text, d.Terms)
		}
	}

	cls, used := p.classify(ctx, result.SanitizedText)
	result.TaskType = cls.TaskType
	result.Complexity = cls.Complexity
	result.ClassifierUsed = used

	result.Ambiguities = DetectAmbiguities(result.SanitizedText, history)
	for _, a := range result.Ambiguities {
		if a.Blocking {
			result.RequiresClarification = true
		}
	}
	if result.RequiresClarification {
		result.ClarificationQuestion = ClarificationQuestion(result.Ambiguities)
		metrics.ClarificationsRequested.Inc()
	}

	if len(result.AmbiguityTypes()) >= p.cfg.AmbiguityEscalationTypes &&
		(result.TaskType == models.TaskResearch || result.TaskType == models.TaskMultiStep) {
		if result.Complexity.Rank() < models.ComplexityComplex.Rank() {
			result.Complexity = models.ComplexityComplex
		}
		result.HierarchicalPlanning = true
	}

	result.ToolHints = ToolHints(result.SanitizedText, result.TaskType, result.Ambiguities, history)
	result.RequiresTools = len(result.ToolHints) > 0
	result.Domain = DetectDomain(result.SanitizedText, result.TaskType)

	metrics.Classifications.WithLabelValues(used, string(result.TaskType), string(result.Complexity)).Inc()
	p.logger.Debug("Query classified",
		zap.String("classifier", used),
		zap.String("task_type", string(result.TaskType)),
		zap.String("complexity", string(result.Complexity)),
		zap.Int("ambiguities", len(result.Ambiguities)),
		zap.Bool("requires_clarification", result.RequiresClarification),
		zap.Strings("tool_hints", result.ToolHints),
		zap.String("safety_flag", string(result.SafetyFlag)),
	)
	return result, nil
}

func (p *Preprocessor) validate(text string) error {
	if !utf8.ValidString(text) {
		return &models.ClassificationError{Reason: "query is not valid UTF-8"}
	}
	if strings.TrimSpace(text) == "" {
		return &models.ClassificationError{Reason: "query is empty", Cause: models.ErrEmptyQuery}
	}
	if n := utf8.RuneCountInString(text); n > p.cfg.MaxQueryChars {
		return &models.ClassificationError{Reason: "query exceeds maximum length"}
	}
	return nil
}

func (p *Preprocessor) classify(ctx context.Context, text string) (Classification, string) {
	cls, err := p.primary.Classify(ctx, text)
	if err == nil {
		return cls, p.primary.Name()
	}
	p.logger.Warn("Classifier failed, using rule-based fallback",
		zap.String("classifier", p.primary.Name()),
		zap.Error(err),
	)
	cls, _ = p.fallback.Classify(ctx, text)
	return cls, p.fallback.Name()
}
