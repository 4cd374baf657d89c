package preprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/inference"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

// Classification is the fixed-enum output of a Classifier.
type Classification struct {
	TaskType   models.TaskType   `json:"task_type"`
	Complexity models.Complexity `json:"complexity"`
}

// Classifier assigns a task type and complexity to query text.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, text string) (Classification, error)
}

// RuleBasedClassifier classifies with keyword and pattern rules. It never fails.
type RuleBasedClassifier struct{}

func (RuleBasedClassifier) Name() string { return "rules" }

var (
	// Minus needs surrounding spaces so dates and ranges do not match.
	arithmeticPattern = regexp.MustCompile(`\d+(\.\d+)?(\s*[+*/^%×÷]|\s+-)\s*\(?\d+`)
	codeFencePattern  = regexp.MustCompile("(?s)```")
	stepsPattern      = regexp.MustCompile(`(?i)\b(first|then|after that|finally|next)\b|(^|\n)\s*\d+[.)]\s`)
)

type taskRule struct {
	task     models.TaskType
	keywords []string
	pattern  *regexp.Regexp
}

// Earlier rules win ties.
var taskRules = []taskRule{
	{models.TaskCoding, []string{
		"code", "function", "bug", "compile", "implement", "refactor", "debug", "script",
		"python", "golang", "javascript", "typescript", "java", "rust", "sql", "regex",
		"stack trace", "exception", "unit test", "algorithm",
	}, codeFencePattern},
	{models.TaskMath, []string{
		"calculate", "compute", "solve", "equation", "integral", "derivative", "probability",
		"percent", "square root", "sum of", "multiply", "divide", "how much is",
	}, arithmeticPattern},
	{models.TaskResearch, []string{
		"research", "compare", "comparison", "analyze", "analysis", "survey", "literature",
		"pros and cons", "in depth", "in-depth", "comprehensive", "trends", "state of the art",
		"evidence", "impact of",
	}, nil},
	{models.TaskMultiStep, []string{
		"step by step", "step-by-step", "and then", "plan", "workflow", "roadmap", "checklist",
	}, nil},
	{models.TaskCreative, []string{
		"poem", "story", "haiku", "lyrics", "slogan", "creative", "imagine", "fiction",
		"write a song", "tagline", "brainstorm",
	}, nil},
	{models.TaskFactual, []string{
		"who", "what", "when", "where", "which", "capital of", "discovered", "invented",
		"define", "definition", "meaning of", "how many", "how old", "is it true",
	}, nil},
}

var researchDepthWords = []string{"comprehensive", "literature", "in-depth", "in depth", "survey", "systematic"}

func (RuleBasedClassifier) Classify(_ context.Context, text string) (Classification, error) {
	lower := strings.ToLower(text)
	best, bestScore := models.TaskOther, 0
	for _, r := range taskRules {
		score := 0
		for _, kw := range r.keywords {
			if containsWord(lower, kw) {
				score++
			}
		}
		if r.pattern != nil && r.pattern.MatchString(text) {
			score += 2
		}
		if score > bestScore {
			best, bestScore = r.task, score
		}
	}
	// Multiple sequencing markers outrank a single topical keyword.
	if best != models.TaskCoding && len(stepsPattern.FindAllStringIndex(text, -1)) >= 2 {
		best = models.TaskMultiStep
	}
	return Classification{TaskType: best, Complexity: ruleComplexity(best, lower)}, nil
}

func ruleComplexity(task models.TaskType, lower string) models.Complexity {
	words := len(strings.Fields(lower))
	sentences := strings.Count(lower, "?") + strings.Count(lower, ". ") + 1

	if task == models.TaskResearch {
		for _, w := range researchDepthWords {
			if strings.Contains(lower, w) {
				return models.ComplexityResearch
			}
		}
		if words > 25 {
			return models.ComplexityComplex
		}
		return models.ComplexityModerate
	}
	if task == models.TaskMultiStep {
		if words > 40 {
			return models.ComplexityComplex
		}
		return models.ComplexityModerate
	}
	switch {
	case words <= 15 && sentences <= 2:
		return models.ComplexitySimple
	case words <= 50:
		return models.ComplexityModerate
	default:
		return models.ComplexityComplex
	}
}

// containsWord matches kw on word boundaries. Multi-word phrases match as substrings.
func containsWord(lower, kw string) bool {
	if strings.Contains(kw, " ") || strings.Contains(kw, "-") {
		return strings.Contains(lower, kw)
	}
	idx := 0
	for {
		i := strings.Index(lower[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		if (start == 0 || !isWordByte(lower[start-1])) && (end == len(lower) || !isWordByte(lower[end])) {
			return true
		}
		idx = end
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

const classifierPrompt = `Classify the user query. Respond with JSON only, no prose:
{"task_type": one of [factual, coding, math, creative, research, multi_step, other],
 "complexity": one of [simple, moderate, complex, research]}

Query:
%s`

// LLMClassifier asks a model for a constrained JSON classification and
// rejects anything outside the fixed enums.
type LLMClassifier struct {
	client  inference.Completer
	model   string
	timeout time.Duration
}

// NewLLMClassifier creates a classifier that calls model through client.
func NewLLMClassifier(client inference.Completer, model string, timeout time.Duration) *LLMClassifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LLMClassifier{client: client, model: model, timeout: timeout}
}

func (c *LLMClassifier) Name() string { return "llm" }

func (c *LLMClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.client.Complete(ctx, c.model, fmt.Sprintf(classifierPrompt, text), 64)
	if err != nil {
		return Classification{}, fmt.Errorf("classifier call failed: %w", err)
	}
	return ParseClassification(out.Text)
}

// ParseClassification extracts the JSON object from a model reply and
// validates both enums.
func ParseClassification(reply string) (Classification, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Classification{}, fmt.Errorf("classifier reply has no JSON object")
	}
	var c Classification
	if err := json.Unmarshal([]byte(reply[start:end+1]), &c); err != nil {
		return Classification{}, fmt.Errorf("decode classifier reply: %w", err)
	}
	c.TaskType = models.TaskType(strings.ToLower(strings.TrimSpace(string(c.TaskType))))
	c.Complexity = models.Complexity(strings.ToLower(strings.TrimSpace(string(c.Complexity))))
	if !c.TaskType.Valid() {
		return Classification{}, fmt.Errorf("classifier returned unknown task_type %q", c.TaskType)
	}
	if !c.Complexity.Valid() {
		return Classification{}, fmt.Errorf("classifier returned unknown complexity %q", c.Complexity)
	}
	return c, nil
}
