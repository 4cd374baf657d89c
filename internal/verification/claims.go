package verification

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/util"
)

// claim is one checkable assertion found in a response.
type claim struct {
	text     string
	kind     models.ClaimKind
	response int

	// numeric
	lhs string
	rhs string
	// code
	language string
	code     string
}

var (
	// Operands and operators of an arithmetic chain followed by "= result".
	// The leading group keeps the match from starting inside a word or number.
	numericClaimRe = regexp.MustCompile(`(^|[^\w.])((?:\(?\s*-?\d+(?:\.\d+)?\s*\)?\s*[-+*/×÷^]\s*)+\(?\s*-?\d+(?:\.\d+)?\s*\)?)\s*=\s*(-?\d+(?:\.\d+)?)`)
	fenceRe        = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[^\\n]*\\n(.*?)```")
	negationRe     = regexp.MustCompile(`(?i)\b(not|never|no|none|neither|nor|isn't|wasn't|didn't|doesn't|cannot|can't)\b`)
	numberTokenRe  = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
	resultHeaderRe = regexp.MustCompile(`^\[\d+\] `)
)

func extractClaims(responses []models.ModelResponse, maxClaims int) []claim {
	var out []claim
	bearing, _ := models.AnswerBearing(responses)
	for i, r := range responses {
		if !bearing[i] {
			continue
		}
		out = append(out, claimsFromText(r.RawText, i)...)
	}
	if maxClaims > 0 && len(out) > maxClaims {
		out = out[:maxClaims]
	}
	return out
}

func claimsFromText(text string, response int) []claim {
	var out []claim

	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		code := strings.TrimSpace(m[2])
		if code == "" {
			continue
		}
		out = append(out, claim{
			text:     util.TruncateString(code, 120, false),
			kind:     models.ClaimCode,
			response: response,
			language: strings.ToLower(m[1]),
			code:     code,
		})
	}
	prose := fenceRe.ReplaceAllString(text, "\n")

	seen := make(map[string]bool)
	for _, m := range numericClaimRe.FindAllStringSubmatch(prose, -1) {
		lhs := strings.TrimSpace(m[2])
		rhs := m[3]
		text := lhs + " = " + rhs
		if seen[text] {
			continue
		}
		seen[text] = true
		out = append(out, claim{text: text, kind: models.ClaimNumeric, response: response, lhs: lhs, rhs: rhs})
	}

	for _, s := range util.Sentences(prose) {
		if isFactualSentence(s) {
			out = append(out, claim{text: s, kind: models.ClaimFactual, response: response})
		}
	}
	return out
}

// isFactualSentence accepts declarative sentences that name an entity or
// carry a number, excluding arithmetic, questions and list scaffolding.
func isFactualSentence(s string) bool {
	s = strings.TrimSpace(strings.TrimLeft(s, "-*•> #"))
	if s == "" || strings.HasSuffix(s, "?") || strings.HasSuffix(s, ":") {
		return false
	}
	if numericClaimRe.MatchString(s) {
		return false
	}
	words := strings.Fields(s)
	if len(words) < 4 {
		return false
	}
	for i, w := range words {
		w = strings.Trim(w, `"'(),.;:!`)
		if w == "" {
			continue
		}
		if numberTokenRe.MatchString(w) {
			return true
		}
		if i > 0 && unicode.IsUpper([]rune(w)[0]) {
			return true
		}
	}
	return false
}

// normalizeExpression rewrites typographic operators for the evaluator.
func normalizeExpression(expr string) string {
	r := strings.NewReplacer("×", "*", "÷", "/", "^", "**")
	return r.Replace(expr)
}

// ReplaceClaim substitutes correction for claimText in text only where the
// match is not part of a longer number or word. "15 + 3 = 9" is untouched
// when correcting "5 + 3 = 9".
func ReplaceClaim(text, claimText, correction string) string {
	if claimText == "" || claimText == correction {
		return text
	}
	pattern := regexp.MustCompile(`(^|[^\w.])` + flexibleSpaces(claimText) + `($|[^\w.]|\.(?:\D|$))`)
	return pattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := pattern.FindStringSubmatch(m)
		return sub[1] + correction + sub[2]
	})
}

// flexibleSpaces quotes s and lets any run of spaces match any run.
func flexibleSpaces(s string) string {
	parts := strings.Fields(s)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, `\s*`)
}
