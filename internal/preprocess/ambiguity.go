package preprocess

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

var (
	wordPattern = regexp.MustCompile(`[A-Za-z][A-Za-z'-]*|\d+`)

	personalPronouns = map[string]bool{
		"it": true, "its": true, "it's": true, "they": true, "them": true, "their": true,
		"he": true, "him": true, "his": true, "she": true, "her": true,
	}
	demonstratives = map[string]bool{"this": true, "that": true, "these": true, "those": true}
	// A demonstrative followed by one of these stands in for a noun.
	demonstrativeVerbs = map[string]bool{
		"is": true, "was": true, "are": true, "were": true, "does": true, "do": true,
		"mean": true, "means": true, "work": true, "works": true, "one": true,
	}

	// Expletive "it" that needs no antecedent.
	expletives = []string{
		"is it possible", "is it true", "is it worth", "is it safe", "is it legal",
		"what time is it", "it is possible", "it takes", "it depends",
	}

	functionWords = map[string]bool{
		"a": true, "an": true, "the": true, "is": true, "are": true, "was": true, "were": true,
		"be": true, "do": true, "does": true, "did": true, "can": true, "could": true,
		"should": true, "would": true, "will": true, "what": true, "who": true, "why": true,
		"how": true, "when": true, "where": true, "which": true, "me": true, "i": true,
		"you": true, "we": true, "my": true, "your": true, "our": true, "of": true, "to": true,
		"in": true, "on": true, "for": true, "and": true, "or": true, "but": true, "with": true,
		"about": true, "tell": true, "explain": true, "please": true, "give": true, "show": true,
		"make": true, "better": true, "worse": true, "than": true, "more": true, "less": true,
		"fix": true, "use": true, "get": true, "so": true, "if": true, "not": true,
		"best": true, "worst": true, "good": true, "bad": true, "other": true, "same": true,
		"old": true, "new": true, "right": true, "first": true, "last": true,
	}
	// "one" stands in for a noun after these words.
	oneDeterminers = map[string]bool{
		"the": true, "this": true, "that": true, "which": true, "best": true, "better": true,
		"worst": true, "other": true, "same": true, "old": true, "new": true, "right": true,
		"good": true, "first": true, "last": true, "cheaper": true, "faster": true,
	}

	comparativePhrases = []string{
		"the best", "best", "better", "the worst", "worse", "faster", "cheaper",
		"the most popular", "more efficient", "the greatest", "superior",
	}
	temporalWords = []string{
		"recent", "recently", "now", "currently", "current", "latest", "today",
		"nowadays", "this year", "these days", "lately", "upcoming",
	}
	scopeWords = map[string]bool{"all": true, "every": true, "everything": true, "anything": true, "each": true}
)

// DetectAmbiguities is the ambiguity pass. It is independent of task
// classification and reads only the query and history.
func DetectAmbiguities(text string, history []models.Turn) []models.Ambiguity {
	lower := strings.ToLower(text)
	words := wordPattern.FindAllString(lower, -1)
	hasHistory := len(historyContent(history)) > 0

	var out []models.Ambiguity
	out = append(out, pronounAmbiguities(lower, words, history, hasHistory)...)
	if a, ok := firstPhrase(lower, comparativePhrases); ok {
		out = append(out, models.Ambiguity{
			Type:                models.AmbiguityComparative,
			Span:                a,
			SuggestedResolution: "State the criterion for comparison, such as performance, cost or popularity",
		})
	}
	if a, ok := firstPhrase(lower, temporalWords); ok {
		out = append(out, models.Ambiguity{
			Type:                models.AmbiguityTemporal,
			Span:                a,
			SuggestedResolution: "Interpret relative to the current date and prefer up-to-date sources",
		})
	}
	out = append(out, scopeAmbiguities(words, hasHistory)...)
	return out
}

func pronounAmbiguities(lower string, words []string, history []models.Turn, hasHistory bool) []models.Ambiguity {
	for _, e := range expletives {
		lower = strings.ReplaceAll(lower, e, "")
	}
	words = wordPattern.FindAllString(lower, -1)

	for i, w := range words {
		isPronoun := personalPronouns[w]
		if !isPronoun && demonstratives[w] {
			isPronoun = i == len(words)-1 || demonstrativeVerbs[words[i+1]]
		}
		if !isPronoun && (w == "one" || w == "ones") && i > 0 {
			isPronoun = oneDeterminers[words[i-1]]
		}
		if !isPronoun || hasAntecedent(words[:i]) {
			continue
		}
		if hasHistory {
			return []models.Ambiguity{{
				Type:                models.AmbiguityPronoun,
				Span:                w,
				SuggestedResolution: fmt.Sprintf("Assume %q refers to %s", w, lastSubject(history)),
			}}
		}
		return []models.Ambiguity{{
			Type:                models.AmbiguityPronoun,
			Span:                w,
			SuggestedResolution: fmt.Sprintf("Name what %q refers to", w),
			Blocking:            true,
		}}
	}
	return nil
}

// hasAntecedent reports whether any preceding word could be a noun phrase.
func hasAntecedent(preceding []string) bool {
	for _, w := range preceding {
		if len(w) >= 3 && !functionWords[w] && !personalPronouns[w] && !demonstratives[w] && !scopeWords[w] {
			return true
		}
		if len(w) > 0 && w[0] >= '0' && w[0] <= '9' {
			return true
		}
	}
	return false
}

func scopeAmbiguities(words []string, hasHistory bool) []models.Ambiguity {
	for i, w := range words {
		if !scopeWords[w] {
			continue
		}
		object := ""
		for j := i + 1; j < len(words) && j <= i+3; j++ {
			if !functionWords[words[j]] && !personalPronouns[words[j]] && !demonstratives[words[j]] && len(words[j]) >= 3 {
				object = words[j]
				break
			}
		}
		if object != "" {
			return []models.Ambiguity{{
				Type:                models.AmbiguityScope,
				Span:                w + " " + object,
				SuggestedResolution: fmt.Sprintf("Limit %q to the most relevant or widely used cases", object),
			}}
		}
		return []models.Ambiguity{{
			Type:                models.AmbiguityScope,
			Span:                w,
			SuggestedResolution: "Specify what should be covered",
			Blocking:            !hasHistory,
		}}
	}
	return nil
}

func firstPhrase(lower string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if containsWord(lower, p) {
			return p, true
		}
	}
	return "", false
}

func historyContent(history []models.Turn) []models.Turn {
	var out []models.Turn
	for _, t := range history {
		if strings.TrimSpace(t.Content) != "" {
			out = append(out, t)
		}
	}
	return out
}

func lastSubject(history []models.Turn) string {
	turns := historyContent(history)
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == "user" {
			return fmt.Sprintf("the subject of %q", truncate(turns[i].Content, 60))
		}
	}
	return fmt.Sprintf("the subject of %q", truncate(turns[len(turns)-1].Content, 60))
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

// ClarificationQuestion builds one question covering every blocking ambiguity.
func ClarificationQuestion(ambiguities []models.Ambiguity) string {
	var parts []string
	for _, a := range ambiguities {
		if !a.Blocking {
			continue
		}
		switch a.Type {
		case models.AmbiguityPronoun:
			parts = append(parts, fmt.Sprintf("What does %q refer to?", a.Span))
		case models.AmbiguityScope:
			parts = append(parts, fmt.Sprintf("What should %q cover?", a.Span))
		default:
			parts = append(parts, fmt.Sprintf("Could you clarify %q?", a.Span))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "Could you clarify your question? " + strings.Join(parts, " ")
}
