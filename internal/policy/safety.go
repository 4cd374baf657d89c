// Package policy evaluates the two-tier safety policy with OPA.
package policy

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

//go:embed safety.rego
var defaultPolicy string

const decisionQuery = "data.consensus.safety.decision"

// Redaction replaces sensitive spans in a sanitized query.
const Redaction = "[redacted]"

// Decision is the safety verdict for one query.
type Decision struct {
	Flag   models.SafetyFlag
	Reason string
	// Terms holds matched terms or patterns, sorted.
	Terms []string
}

// SafetyEngine evaluates queries against a compiled rego policy.
type SafetyEngine struct {
	logger   *zap.Logger
	compiled rego.PreparedEvalQuery
	version  string
	cache    *decisionCache
}

// NewSafetyEngine compiles the policy at path, or the built-in policy when
// path is empty. A policy that fails to compile is an error: the engine never
// runs fail-open.
func NewSafetyEngine(ctx context.Context, path string, logger *zap.Logger) (*SafetyEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	source, module := "builtin", defaultPolicy
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
		}
		source, module = path, string(content)
	}

	compiled, err := rego.New(
		rego.Query(decisionQuery),
		rego.Module("safety.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		policyErrors.WithLabelValues("compile").Inc()
		return nil, fmt.Errorf("failed to compile safety policy: %w", err)
	}

	version := fmt.Sprintf("%x", sha256.Sum256([]byte(module)))[:12]
	policyVersion.WithLabelValues(source, version).Set(1)
	logger.Info("Safety policy loaded",
		zap.String("source", source),
		zap.String("version", version),
	)

	return &SafetyEngine{
		logger:   logger,
		compiled: compiled,
		version:  version,
		cache:    newDecisionCache(1000, 5*time.Minute),
	}, nil
}

// Version returns a short hash of the loaded policy.
func (e *SafetyEngine) Version() string { return e.version }

// Check evaluates text. Evaluation errors are returned to the caller, which
// treats them as classification failures rather than silently allowing.
func (e *SafetyEngine) Check(ctx context.Context, text string) (Decision, error) {
	start := time.Now()
	if d, ok := e.cache.Get(text); ok {
		policyCacheHits.Inc()
		return d, nil
	}
	policyCacheMisses.Inc()

	results, err := e.compiled.Eval(ctx, rego.EvalInput(map[string]interface{}{"query": text}))
	if err != nil {
		policyErrors.WithLabelValues("evaluation").Inc()
		return Decision{}, fmt.Errorf("safety policy evaluation failed: %w", err)
	}
	d, err := parseDecision(results)
	if err != nil {
		policyErrors.WithLabelValues("parse").Inc()
		return Decision{}, err
	}

	policyEvaluations.WithLabelValues(string(d.Flag)).Inc()
	policyEvaluationDuration.Observe(time.Since(start).Seconds())
	if d.Flag != models.SafetyNone {
		e.logger.Info("Safety policy matched",
			zap.String("flag", string(d.Flag)),
			zap.Strings("terms", d.Terms),
		)
	}
	e.cache.Set(text, d)
	return d, nil
}

func parseDecision(results rego.ResultSet) (Decision, error) {
	d := Decision{Flag: models.SafetyNone}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return d, nil
	}
	value, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("safety policy returned %T, want object", results[0].Expressions[0].Value)
	}
	if flag, ok := value["flag"].(string); ok {
		switch models.SafetyFlag(flag) {
		case models.SafetyNone, models.SafetyWarn, models.SafetyBlock:
			d.Flag = models.SafetyFlag(flag)
		default:
			return Decision{}, fmt.Errorf("safety policy returned unknown flag %q", flag)
		}
	}
	if reason, ok := value["reason"].(string); ok {
		d.Reason = reason
	}
	if terms, ok := value["terms"].([]interface{}); ok {
		for _, t := range terms {
			if s, ok := t.(string); ok {
				d.Terms = append(d.Terms, s)
			}
		}
	}
	return d, nil
}

// Sanitize replaces every match of terms in text with Redaction. Terms are
// either literal phrases or the regular expressions the policy reported.
func Sanitize(text string, terms []string) string {
	out := text
	for _, term := range terms {
		re, err := termPattern(term)
		if err != nil {
			continue
		}
		out = re.ReplaceAllString(out, Redaction)
	}
	return out
}

func termPattern(term string) (*regexp.Regexp, error) {
	if regexp.QuoteMeta(term) == term {
		return regexp.Compile(`(?i)\b` + term + `\b`)
	}
	return regexp.Compile(`(?i)` + term)
}
