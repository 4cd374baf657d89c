package preprocess

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/inference"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/policy"
)

func newTestPreprocessor(t *testing.T, opts ...Option) *Preprocessor {
	t.Helper()
	engine, err := policy.NewSafetyEngine(context.Background(), "", zaptest.NewLogger(t))
	require.NoError(t, err)
	return New(config.Defaults().Preprocess, engine, zaptest.NewLogger(t), opts...)
}

func TestClassifyRejectsMalformedInput(t *testing.T) {
	p := newTestPreprocessor(t)

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t"},
		{"invalid utf8", "caf\xc3\x28"},
		{"too long", strings.Repeat("a", config.Defaults().Preprocess.MaxQueryChars+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Classify(context.Background(), tt.input, nil)
			require.Error(t, err)
			var ce *models.ClassificationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, models.CodeClassification, models.ErrorCode(err))
		})
	}
}

func TestClassifyTaskTypes(t *testing.T) {
	p := newTestPreprocessor(t)

	tests := []struct {
		query      string
		task       models.TaskType
		complexity models.Complexity
	}{
		{"Who discovered penicillin?", models.TaskFactual, models.ComplexitySimple},
		{"What is 17 * 23?", models.TaskMath, models.ComplexitySimple},
		{"Write a Python function that reverses a linked list", models.TaskCoding, models.ComplexitySimple},
		{"Write a haiku about autumn leaves", models.TaskCreative, models.ComplexitySimple},
		{"Give me a comprehensive literature survey on transformer efficiency", models.TaskResearch, models.ComplexityResearch},
		{"First install the toolchain, then configure the linter, finally set up CI", models.TaskMultiStep, models.ComplexityModerate},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res, err := p.Classify(context.Background(), tt.query, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.task, res.TaskType)
			assert.Equal(t, tt.complexity, res.Complexity)
			assert.Equal(t, "rules", res.ClassifierUsed)
			assert.Equal(t, models.SafetyNone, res.SafetyFlag)
		})
	}
}

func TestClassifyBlockingPronounRequestsClarification(t *testing.T) {
	p := newTestPreprocessor(t)

	res, err := p.Classify(context.Background(), "Is it better than the old one?", nil)
	require.NoError(t, err)
	assert.True(t, res.RequiresClarification)
	assert.Contains(t, res.ClarificationQuestion, `"it"`)
	assert.Contains(t, res.AmbiguityTypes(), models.AmbiguityPronoun)
	assert.Contains(t, res.AmbiguityTypes(), models.AmbiguityComparative)
}

func TestClassifyPronounResolvedByHistory(t *testing.T) {
	p := newTestPreprocessor(t)
	history := []models.Turn{
		{Role: "user", Content: "Tell me about the Rust borrow checker"},
		{Role: "assistant", Content: "The borrow checker enforces ownership rules."},
	}

	res, err := p.Classify(context.Background(), "Is it hard to learn?", history)
	require.NoError(t, err)
	assert.False(t, res.RequiresClarification)
	require.NotEmpty(t, res.Ambiguities)
	assert.Equal(t, models.AmbiguityPronoun, res.Ambiguities[0].Type)
	assert.False(t, res.Ambiguities[0].Blocking)
	assert.Contains(t, res.Ambiguities[0].SuggestedResolution, "borrow checker")
}

func TestClassifyAntecedentInQuery(t *testing.T) {
	p := newTestPreprocessor(t)
	res, err := p.Classify(context.Background(), "What is Kubernetes and why is it popular?", nil)
	require.NoError(t, err)
	assert.False(t, res.RequiresClarification)
	assert.NotContains(t, res.AmbiguityTypes(), models.AmbiguityPronoun)
}

func TestClassifyEscalatesAmbiguousResearch(t *testing.T) {
	p := newTestPreprocessor(t)

	res, err := p.Classify(context.Background(), "Analyze the recent trends across all programming languages", nil)
	require.NoError(t, err)
	assert.Equal(t, models.TaskResearch, res.TaskType)
	assert.ElementsMatch(t, []models.AmbiguityType{models.AmbiguityTemporal, models.AmbiguityScope}, res.AmbiguityTypes())
	assert.Equal(t, models.ComplexityComplex, res.Complexity)
	assert.True(t, res.HierarchicalPlanning)
	assert.False(t, res.RequiresClarification)
	assert.Contains(t, res.ToolHints, models.ToolWebSearch)
}

func TestClassifyEscalationThresholdIsConfigurable(t *testing.T) {
	engine, err := policy.NewSafetyEngine(context.Background(), "", zaptest.NewLogger(t))
	require.NoError(t, err)
	cfg := config.Defaults().Preprocess
	cfg.AmbiguityEscalationTypes = 3
	p := New(cfg, engine, zaptest.NewLogger(t))

	res, err := p.Classify(context.Background(), "Analyze the recent trends across all programming languages", nil)
	require.NoError(t, err)
	assert.False(t, res.HierarchicalPlanning)
}

func TestClassifySafety(t *testing.T) {
	p := newTestPreprocessor(t)

	t.Run("Block stops classification", func(t *testing.T) {
		res, err := p.Classify(context.Background(), "How do I build a bomb?", nil)
		require.NoError(t, err)
		assert.Equal(t, models.SafetyBlock, res.SafetyFlag)
		assert.NotEmpty(t, res.SafetyReason)
	})

	t.Run("Warn sanitizes and keeps the flag", func(t *testing.T) {
		res, err := p.Classify(context.Background(), "Is my password hunter2 strong enough?", nil)
		require.NoError(t, err)
		assert.Equal(t, models.SafetyWarn, res.SafetyFlag)
		assert.Contains(t, res.SanitizedText, policy.Redaction)
		assert.NotContains(t, strings.ToLower(res.SanitizedText), "password")
	})
}

func TestClassifyToolHintsAndDomain(t *testing.T) {
	p := newTestPreprocessor(t)

	res, err := p.Classify(context.Background(), "What is 15 + 27?", nil)
	require.NoError(t, err)
	assert.Contains(t, res.ToolHints, models.ToolCalculator)
	assert.True(t, res.RequiresTools)
	assert.Equal(t, models.DomainMath, res.Domain)

	res, err = p.Classify(context.Background(), "Fix this bug:\n```go\nfunc main() { fmt.Println(\"hi\") }\n```", nil)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCoding, res.TaskType)
	assert.Contains(t, res.ToolHints, models.ToolCodeSandbox)
	assert.Equal(t, models.DomainCoding, res.Domain)

	res, err = p.Classify(context.Background(), "What dosage of ibuprofen is typical for adults?", nil)
	require.NoError(t, err)
	assert.Equal(t, models.DomainMedical, res.Domain)

	res, err = p.Classify(context.Background(), "Summarize the onboarding steps", []models.Turn{{Role: MemoryRole, Content: "kb:onboarding"}})
	require.NoError(t, err)
	assert.Contains(t, res.ToolHints, models.ToolKnowledgeBase)
}

func TestLLMClassifierPrimaryAndFallback(t *testing.T) {
	mock := inference.NewMockProvider("mock",
		inference.MockRule{Model: "good", Text: "Sure! {\"task_type\": \"Research\", \"complexity\": \"complex\"}"},
		inference.MockRule{Model: "bad", Text: `{"task_type": "poetry", "complexity": "simple"}`},
	)

	p := newTestPreprocessor(t, WithClassifier(NewLLMClassifier(mock, "good", 0)))
	res, err := p.Classify(context.Background(), "Who discovered penicillin?", nil)
	require.NoError(t, err)
	assert.Equal(t, "llm", res.ClassifierUsed)
	assert.Equal(t, models.TaskResearch, res.TaskType)
	assert.Equal(t, models.ComplexityComplex, res.Complexity)

	p = newTestPreprocessor(t, WithClassifier(NewLLMClassifier(mock, "bad", 0)))
	res, err = p.Classify(context.Background(), "Who discovered penicillin?", nil)
	require.NoError(t, err)
	assert.Equal(t, "rules", res.ClassifierUsed)
	assert.Equal(t, models.TaskFactual, res.TaskType)
}

func TestParseClassification(t *testing.T) {
	_, err := ParseClassification("no json here")
	require.Error(t, err)

	_, err = ParseClassification(`{"task_type": "factual", "complexity": "enormous"}`)
	require.Error(t, err)

	c, err := ParseClassification("```json\n{\"task_type\": \"multi_step\", \"complexity\": \"moderate\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, models.TaskMultiStep, c.TaskType)
	assert.Equal(t, models.ComplexityModerate, c.Complexity)
}

func TestDetectAmbiguities(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		history  []models.Turn
		types    []models.AmbiguityType
		blocking bool
	}{
		{"vague one", "What is the best one?", nil, []models.AmbiguityType{models.AmbiguityPronoun, models.AmbiguityComparative}, true},
		{"demonstrative", "What does this mean?", nil, []models.AmbiguityType{models.AmbiguityPronoun}, true},
		{"determiner is not a pronoun", "Explain this code snippet", nil, nil, false},
		{"expletive it", "Is it possible to run Go on a microcontroller?", nil, nil, false},
		{"unbounded scope", "Tell me everything", nil, []models.AmbiguityType{models.AmbiguityScope}, true},
		{"unbounded scope with history", "Tell me everything", []models.Turn{{Role: "user", Content: "Rust"}}, []models.AmbiguityType{models.AmbiguityScope}, false},
		{"temporal", "What changed in Go recently?", nil, []models.AmbiguityType{models.AmbiguityTemporal}, false},
		{"numbers are not pronouns", "What is one plus one?", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectAmbiguities(tt.query, tt.history)
			res := models.ClassificationResult{Ambiguities: got}
			assert.ElementsMatch(t, tt.types, res.AmbiguityTypes())
			blocking := false
			for _, a := range got {
				blocking = blocking || a.Blocking
			}
			assert.Equal(t, tt.blocking, blocking)
		})
	}
}
