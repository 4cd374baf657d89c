// Package verification checks numeric, code and factual claims in model
// responses against independent evaluators and tool evidence.
package verification

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/util"
)

// CodeChecker runs or syntax-checks code.
type CodeChecker interface {
	Check(ctx context.Context, language, code string) (tools.CheckResult, error)
}

// Engine verifies claims. It never fails a request: problems become
// unverifiable verdicts.
type Engine struct {
	sandbox   CodeChecker
	timeout   time.Duration
	overlap   float64
	weights   weights
	maxClaims int
	logger    *zap.Logger
}

type weights struct {
	verified, refuted, unverifiable float64
}

// NewEngine creates a verification engine. sandbox may be nil, in which case
// code claims are unverifiable.
func NewEngine(cfg config.VerificationConfig, sandbox CodeChecker, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		sandbox:   sandbox,
		timeout:   config.Millis(cfg.TimeoutMs, 3*time.Second),
		overlap:   cfg.FactualOverlap,
		weights:   weights{verified: cfg.WeightVerified, refuted: cfg.WeightRefuted, unverifiable: cfg.WeightUnverifiable},
		maxClaims: cfg.MaxClaims,
		logger:    logger,
	}
	if e.overlap <= 0 {
		e.overlap = 0.6
	}
	if e.weights == (weights{}) {
		e.weights = weights{verified: 0.3, refuted: 0.6, unverifiable: 0.1}
	}
	return e
}

// Verify checks every claim in the usable responses under the engine's
// sub-deadline. Claims still outstanding at the deadline stay unverifiable
// and the report is marked timed out.
func (e *Engine) Verify(ctx context.Context, responses []models.ModelResponse, toolResults []models.ToolResult) models.VerificationReport {
	claims := extractClaims(responses, e.maxClaims)
	report := models.VerificationReport{Claims: make([]models.ClaimCheck, len(claims))}
	if len(claims) == 0 {
		return report
	}
	for i, c := range claims {
		report.Claims[i] = models.ClaimCheck{ClaimText: c.text, Kind: c.kind, Verdict: models.VerdictUnverifiable, ResponseIndex: c.response}
	}

	vctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	evidence := collectEvidence(toolResults)

	g := new(errgroup.Group)
	g.SetLimit(4)
	for i := range claims {
		i := i
		g.Go(func() error {
			if vctx.Err() != nil {
				return nil
			}
			check := e.check(vctx, claims[i], evidence)
			if vctx.Err() != nil && check.Verdict != models.VerdictRefuted && check.Verdict != models.VerdictVerified {
				return nil
			}
			report.Claims[i] = check
			return nil
		})
	}
	_ = g.Wait()

	if errors.Is(vctx.Err(), context.DeadlineExceeded) {
		report.TimedOut = true
		metrics.VerificationTimeouts.Inc()
		e.logger.Warn("Verification hit its deadline",
			zap.Error(&models.VerificationTimeout{Outstanding: outstanding(report.Claims)}),
		)
	}

	for _, c := range report.Claims {
		metrics.ClaimVerdicts.WithLabelValues(string(c.Kind), string(c.Verdict)).Inc()
	}
	report.ConfidenceDelta = e.delta(report.Counts())

	e.logger.Debug("Verification finished",
		zap.Int("claims", len(report.Claims)),
		zap.String("status", report.Status()),
		zap.Float64("delta", report.ConfidenceDelta),
	)
	return report
}

func outstanding(claims []models.ClaimCheck) int {
	n := 0
	for _, c := range claims {
		if c.Verdict == models.VerdictUnverifiable {
			n++
		}
	}
	return n
}

// delta weighs verdict fractions. Refuted claims always cost more than
// unverifiable ones; syntax-only checks earn half a verification.
func (e *Engine) delta(c models.VerificationCounts) float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	w := e.weights
	d := (w.verified*float64(c.Verified) +
		0.5*w.verified*float64(c.SyntaxChecked) -
		w.refuted*float64(c.Refuted) -
		w.unverifiable*float64(c.Unverifiable)) / float64(total)
	return math.Max(-1, math.Min(1, d))
}

func (e *Engine) check(ctx context.Context, c claim, ev []evidenceDoc) models.ClaimCheck {
	out := models.ClaimCheck{ClaimText: c.text, Kind: c.kind, Verdict: models.VerdictUnverifiable, ResponseIndex: c.response}
	switch c.kind {
	case models.ClaimNumeric:
		e.checkNumeric(c, &out)
	case models.ClaimCode:
		e.checkCode(ctx, c, &out)
	case models.ClaimFactual:
		e.checkFactual(c, ev, &out)
	}
	return out
}

func (e *Engine) checkNumeric(c claim, out *models.ClaimCheck) {
	got, err := tools.Evaluate(normalizeExpression(c.lhs))
	if err != nil {
		return
	}
	claimed, ok := util.ParseNumericValue(c.rhs)
	if !ok {
		return
	}
	out.EvidenceSource = models.ToolCalculator
	if math.Abs(got) > tools.MaxExactInteger || math.Abs(claimed) > tools.MaxExactInteger {
		// float64 cannot confirm every digit here; only a clear mismatch
		// is refuted, and no correction is offered.
		if !approxEqual(got, claimed, 0) {
			out.Verdict = models.VerdictRefuted
		}
		return
	}
	if approxEqual(got, claimed, decimals(c.rhs)) {
		out.Verdict = models.VerdictVerified
		return
	}
	out.Verdict = models.VerdictRefuted
	correction := c.lhs + " = " + util.FormatNumber(round(got))
	out.Correction = &correction
}

// approxEqual accepts a claimed value rounded to the number of decimals the
// model wrote.
func approxEqual(got, claimed float64, places int) bool {
	diff := math.Abs(got - claimed)
	if diff <= 1e-9*math.Max(1, math.Abs(got)) {
		return true
	}
	return places > 0 && diff <= 0.5*math.Pow(10, -float64(places))
}

func decimals(num string) int {
	if i := strings.IndexByte(num, '.'); i >= 0 {
		return len(num) - i - 1
	}
	return 0
}

func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func (e *Engine) checkCode(ctx context.Context, c claim, out *models.ClaimCheck) {
	if e.sandbox == nil || c.language == "" {
		return
	}
	res, err := e.sandbox.Check(ctx, c.language, c.code)
	if err != nil {
		if !errors.Is(err, tools.ErrSkipped) {
			e.logger.Debug("Code check failed", zap.String("language", c.language), zap.Error(err))
		}
		return
	}
	out.EvidenceSource = models.ToolCodeSandbox
	switch {
	case !res.OK:
		out.Verdict = models.VerdictRefuted
	case res.Executed:
		out.Verdict = models.VerdictVerified
	default:
		out.Verdict = models.VerdictSyntaxChecked
	}
}

func (e *Engine) checkFactual(c claim, ev []evidenceDoc, out *models.ClaimCheck) {
	if len(ev) == 0 {
		return
	}
	claimWords := wordsWithoutNumbers(c.text)
	if len(claimWords) == 0 {
		return
	}

	var (
		best       float64
		bestSource string
		bestText   string
	)
	for _, doc := range ev {
		for _, s := range util.Sentences(doc.text) {
			if o := overlap(claimWords, wordsWithoutNumbers(s)); o > best {
				best, bestSource, bestText = o, doc.source, s
			}
		}
	}
	if best < e.overlap {
		return
	}
	out.EvidenceSource = bestSource
	if contradicts(c.text, bestText) {
		out.Verdict = models.VerdictRefuted
		return
	}
	out.Verdict = models.VerdictVerified
}

// contradicts reports a negation mismatch or disjoint numbers between a
// claim and the evidence sentence that best supports it.
func contradicts(claimText, evidence string) bool {
	if negationRe.MatchString(claimText) != negationRe.MatchString(evidence) {
		return true
	}
	cn, en := numbers(claimText), numbers(evidence)
	if len(cn) == 0 || len(en) == 0 {
		return false
	}
	for n := range cn {
		if en[n] {
			return false
		}
	}
	return true
}

func numbers(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range util.Tokens(s) {
		if numberTokenRe.MatchString(t) {
			out[t] = true
		}
	}
	return out
}

func wordsWithoutNumbers(s string) map[string]bool {
	out := util.ContentTokens(s)
	for t := range out {
		if numberTokenRe.MatchString(t) || negationRe.MatchString(t) {
			delete(out, t)
		}
	}
	return out
}

func overlap(claim, evidence map[string]bool) float64 {
	if len(claim) == 0 {
		return 0
	}
	hit := 0
	for t := range claim {
		if evidence[t] {
			hit++
		}
	}
	return float64(hit) / float64(len(claim))
}

// evidenceDoc is one retrievable source from a tool payload.
type evidenceDoc struct {
	source string
	text   string
}

// collectEvidence splits web_search payloads into per-result documents and
// keeps knowledge_base payloads whole.
func collectEvidence(results []models.ToolResult) []evidenceDoc {
	var out []evidenceDoc
	for _, r := range results {
		if !r.OK() {
			continue
		}
		switch r.ToolName {
		case models.ToolWebSearch:
			out = append(out, splitSearchPayload(r.Payload)...)
		case models.ToolKnowledgeBase:
			out = append(out, evidenceDoc{source: models.ToolKnowledgeBase, text: r.Payload})
		}
	}
	return out
}

func splitSearchPayload(payload string) []evidenceDoc {
	var out []evidenceDoc
	title := ""
	for _, line := range strings.Split(payload, "\n") {
		switch {
		case resultHeaderRe.MatchString(line):
			title = resultHeaderRe.ReplaceAllString(line, "")
		case strings.HasPrefix(line, "URL: "):
			out = append(out, evidenceDoc{
				source: strings.TrimSpace(strings.TrimPrefix(line, "URL: ")),
				text:   title + "\n",
			})
			title = ""
		case len(out) > 0:
			out[len(out)-1].text += line + "\n"
		}
	}
	if len(out) == 0 && strings.TrimSpace(payload) != "" {
		out = append(out, evidenceDoc{source: models.ToolWebSearch, text: payload})
	}
	return out
}
