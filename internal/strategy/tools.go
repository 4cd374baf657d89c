package strategy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

var (
	expressionPattern = regexp.MustCompile(`[-+]?\(?\d+(?:\.\d+)?(?:\s*[-+*/^%]\s*\(?[-+]?\d+(?:\.\d+)?\)?)+`)
	fencePattern      = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)\\s*\\n(.*?)```")
)

// toolCalls turns classification hints into concrete calls for one step.
// Hints whose arguments cannot be derived from the text are dropped.
func toolCalls(step int, cls models.ClassificationResult) []models.ToolCall {
	text := cls.SanitizedText
	var calls []models.ToolCall
	add := func(tool string, args map[string]interface{}) {
		calls = append(calls, models.ToolCall{
			ID:             fmt.Sprintf("s%d-%s", step, tool),
			ToolName:       tool,
			Arguments:      args,
			RequestingStep: step,
		})
	}
	for _, hint := range cls.ToolHints {
		switch hint {
		case models.ToolWebSearch:
			add(hint, map[string]interface{}{"query": text, "max_results": 5})
		case models.ToolCalculator:
			if expr := ExtractExpression(text); expr != "" {
				add(hint, map[string]interface{}{"expression": expr})
			}
		case models.ToolCodeSandbox:
			if lang, code, ok := ExtractCode(text); ok {
				add(hint, map[string]interface{}{"language": lang, "code": code})
			}
		case models.ToolKnowledgeBase:
			add(hint, map[string]interface{}{"query": text})
		case models.ToolImageGeneration:
			add(hint, map[string]interface{}{"prompt": text})
		}
	}
	return calls
}

// ExtractExpression returns the first arithmetic expression in text.
func ExtractExpression(text string) string {
	normalized := strings.NewReplacer("×", "*", "÷", "/").Replace(text)
	return strings.TrimSpace(expressionPattern.FindString(normalized))
}

// ExtractCode returns the language tag and body of the first fenced block.
func ExtractCode(text string) (string, string, bool) {
	m := fencePattern.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return strings.ToLower(m[1]), m[2], true
}
