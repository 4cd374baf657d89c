// Package util holds text helpers shared by the preprocessing, verification,
// consensus and refinement stages.
package util

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ParseNumericValue attempts to extract a numeric value from a free‑form string.
// Preference order: direct parse, "equals|is|=" N pattern, then last numeric token.
func ParseNumericValue(response string) (float64, bool) {
	response = strings.TrimSpace(response)
	if val, err := parseNumber(response); err == nil {
		return val, true
	}
	fields := strings.Fields(response)
	var numbers []float64
	for i := 0; i < len(fields); i++ {
		token := strings.Trim(fields[i], ".,!?:;*`")
		if v, err := parseNumber(token); err == nil {
			numbers = append(numbers, v)
		}
		if (strings.EqualFold(token, "equals") || strings.EqualFold(token, "is") || token == "=") && i+1 < len(fields) {
			next := strings.Trim(fields[i+1], ".,!?:;*`")
			if v, err := parseNumber(next); err == nil {
				return v, true
			}
		}
	}
	if len(numbers) > 0 {
		return numbers[len(numbers)-1], true
	}
	return 0, false
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

// FormatNumber renders integral values without a decimal point.
func FormatNumber(v float64) string {
	if v == float64(int64(v)) && v < 1e15 && v > -1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// TruncateString truncates s to maxLen runes and appends "..." if truncated.
// If preserveWords is true, truncates at the last space before maxLen when possible.
func TruncateString(s string, maxLen int, preserveWords bool) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	cut := maxLen - 3
	if preserveWords {
		for i := cut; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
	}
	return string(runes[:cut]) + "..."
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:[.'][\p{L}\p{N}]+)*`)

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "by": true, "as": true,
	"at": true, "it": true, "that": true, "this": true, "from": true,
}

// Tokens returns lowercased word tokens in order.
func Tokens(s string) []string {
	return wordRe.FindAllString(strings.ToLower(s), -1)
}

// ContentTokens returns the distinct non-stopword tokens of s.
func ContentTokens(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range Tokens(s) {
		if !stopwords[t] {
			out[t] = true
		}
	}
	return out
}

// Jaccard is the token-set similarity of a and b. Two empty texts are identical.
func Jaccard(a, b string) float64 {
	sa, sb := ContentTokens(a), ContentTokens(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Overlap is the fraction of claim tokens present in evidence.
func Overlap(claim, evidence string) float64 {
	ct := ContentTokens(claim)
	if len(ct) == 0 {
		return 0
	}
	et := ContentTokens(evidence)
	hit := 0
	for t := range ct {
		if et[t] {
			hit++
		}
	}
	return float64(hit) / float64(len(ct))
}

var finalAnswerRe = regexp.MustCompile(`(?i)(?:final answer|answer|result)\s*(?:is|:|=)\s*([^\n]+)`)

// NormalizeAnswer reduces a response to a comparable final answer: the
// explicit "answer:" line when present, else the last numeric value, else the
// lowercased first sentence.
func NormalizeAnswer(text string) string {
	text = strings.TrimSpace(text)
	if m := finalAnswerRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		ans := strings.TrimSpace(m[len(m)-1][1])
		if v, ok := ParseNumericValue(ans); ok {
			return FormatNumber(v)
		}
		return strings.Join(Tokens(ans), " ")
	}
	if v, ok := ParseNumericValue(text); ok {
		return FormatNumber(v)
	}
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return ""
	}
	return strings.Join(Tokens(sentences[0]), " ")
}

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

// Sentences splits prose into trimmed sentences, keeping terminal punctuation.
func Sentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	var out []string
	for _, s := range strings.Split(marked, "\x00") {
		for _, line := range strings.Split(s, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
	}
	return out
}

var blankLine = regexp.MustCompile(`\n\s*\n`)

// Paragraphs splits on blank lines.
func Paragraphs(text string) []string {
	var out []string
	for _, p := range blankLine.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EstimateTokens approximates token count at four characters per token.
func EstimateTokens(s string) int {
	n := len([]rune(s))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
