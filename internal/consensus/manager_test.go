package consensus

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
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(config.Defaults().Consensus, zaptest.NewLogger(t))
}

func resp(model, text string) models.ModelResponse {
	return models.ModelResponse{ModelID: model, RawText: text}
}

func cls(task models.TaskType, complexity models.Complexity) models.ClassificationResult {
	return models.ClassificationResult{TaskType: task, Complexity: complexity}
}

func TestSynthesizeNoUsableResponses(t *testing.T) {
	_, err := testManager(t).Synthesize(context.Background(), Input{
		Responses: []models.ModelResponse{{ModelID: "a", Error: "down"}, {ModelID: "b"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNoUsableResponses))
}

func TestSynthesizePassthroughOnAgreement(t *testing.T) {
	mock := inference.NewMockProvider("judge", inference.MockRule{Text: "2"})
	res, err := testManager(t).Synthesize(context.Background(), Input{
		Classification: cls(models.TaskFactual, models.ComplexitySimple),
		Responses: []models.ModelResponse{
			resp("a", "Alexander Fleming discovered penicillin in 1928."),
			resp("b", "Alexander Fleming discovered penicillin in 1928."),
		},
		Client: mock,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MethodPassthrough, res.Method)
	assert.True(t, res.SkippedSynthesis)
	assert.Equal(t, 0, res.SelectedIndex)
	assert.Equal(t, 1.0, res.AgreementLevel)
	assert.Equal(t, []string{"a", "b"}, res.ContributingModels)
	assert.Empty(t, mock.Calls(), "no synthesis call when answers agree")
}

func TestSynthesizeSingleUsableResponse(t *testing.T) {
	res, err := testManager(t).Synthesize(context.Background(), Input{
		Responses: []models.ModelResponse{{ModelID: "a", Error: "boom"}, resp("b", "only answer")},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MethodPassthrough, res.Method)
	assert.Equal(t, 1, res.SelectedIndex)
	assert.Equal(t, "only answer", res.FinalText)
}

func TestVerificationPreferenceOverridesMajority(t *testing.T) {
	report := models.VerificationReport{Claims: []models.ClaimCheck{
		{Kind: models.ClaimNumeric, Verdict: models.VerdictRefuted, ResponseIndex: 0},
		{Kind: models.ClaimNumeric, Verdict: models.VerdictRefuted, ResponseIndex: 1},
		{Kind: models.ClaimNumeric, Verdict: models.VerdictVerified, ResponseIndex: 2},
	}}
	res, err := testManager(t).Synthesize(context.Background(), Input{
		Classification: cls(models.TaskMath, models.ComplexitySimple),
		Strategy:       models.StrategySelfConsistency,
		Responses: []models.ModelResponse{
			resp("a", "5 + 3 = 9. Final answer: 9"),
			resp("b", "Adding gives 5 + 3 = 9. Final answer: 9"),
			resp("c", "5 + 3 = 8. Final answer: 8"),
		},
		Verification: report,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SelectedIndex)
	assert.Contains(t, res.FinalText, "Final answer: 8")
	assert.Equal(t, []string{"c"}, res.ContributingModels)
}

func TestMajorityVote(t *testing.T) {
	res, err := testManager(t).Synthesize(context.Background(), Input{
		Classification: cls(models.TaskMath, models.ComplexityModerate),
		Strategy:       models.StrategySelfConsistency,
		Responses: []models.ModelResponse{
			resp("a", "Multiply the rows first, then the columns. Final answer: 42"),
			resp("b", "I think the total comes out to 41. Final answer: 41"),
			resp("c", "Counting each group separately we reach it. Final answer: 42.0"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MethodMajority, res.Method)
	assert.Equal(t, 0, res.SelectedIndex)
	assert.Greater(t, res.AgreementLevel, 0.0)
	assert.Less(t, res.AgreementLevel, 1.0)
}

func TestMajorityWithoutPluralityFallsBackToWeighted(t *testing.T) {
	res, err := testManager(t).Synthesize(context.Background(), Input{
		Classification: cls(models.TaskMath, models.ComplexitySimple),
		Responses: []models.ModelResponse{
			resp("a", "Final answer: 1"),
			resp("b", "Final answer: 2"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MethodWeighted, res.Method)
}

func TestArbiter(t *testing.T) {
	responses := []models.ModelResponse{
		resp("a", "Penicillin was found by Louis Pasteur."),
		resp("b", "Alexander Fleming discovered penicillin in 1928 at St Mary's Hospital."),
	}

	t.Run("Judge picks", func(t *testing.T) {
		judge := inference.NewMockProvider("judge", inference.MockRule{Contains: "judging", Text: "Answer 2 is best."})
		res, err := testManager(t).Synthesize(context.Background(), Input{
			Query:          "Who discovered penicillin?",
			Classification: cls(models.TaskFactual, models.ComplexitySimple),
			Responses:      responses,
			Client:         judge,
		})
		require.NoError(t, err)
		assert.Equal(t, models.MethodArbiter, res.Method)
		assert.Equal(t, 1, res.SelectedIndex)
		assert.Contains(t, res.FinalText, "Fleming")
	})

	t.Run("Judge failure falls back to weighted", func(t *testing.T) {
		judge := inference.NewMockProvider("judge", inference.MockRule{Err: errors.New("judge down")})
		res, err := testManager(t).Synthesize(context.Background(), Input{
			Classification: cls(models.TaskFactual, models.ComplexitySimple),
			Responses:      responses,
			Client:         judge,
		})
		require.NoError(t, err)
		assert.Equal(t, models.MethodWeighted, res.Method)
	})
}

func TestFusion(t *testing.T) {
	responses := []models.ModelResponse{
		{ModelID: "a", Role: "contributor-1", RawText: "Tides are caused by the Moon's gravity.\n\nSpring tides happen at new and full moon."},
		{ModelID: "b", Role: "contributor-2", RawText: "Tides are caused by the Moon's gravity.\n\nThe Sun contributes roughly half as much as the Moon."},
	}

	t.Run("Model merge", func(t *testing.T) {
		mock := inference.NewMockProvider("fuser", inference.MockRule{Contains: "Merge the answers", Text: "merged answer"})
		res, err := testManager(t).Synthesize(context.Background(), Input{
			Classification: cls(models.TaskResearch, models.ComplexityResearch),
			Responses:      responses,
			Client:         mock,
		})
		require.NoError(t, err)
		assert.Equal(t, models.MethodFusion, res.Method)
		assert.Equal(t, "merged answer", res.FinalText)
	})

	t.Run("Concatenation fallback", func(t *testing.T) {
		res, err := testManager(t).Synthesize(context.Background(), Input{
			Classification: cls(models.TaskOther, models.ComplexityComplex),
			Responses:      responses,
		})
		require.NoError(t, err)
		assert.Equal(t, models.MethodFusion, res.Method)
		assert.Equal(t, 1, strings.Count(res.FinalText, "Tides are caused"))
		assert.Contains(t, res.FinalText, "Spring tides")
		assert.Contains(t, res.FinalText, "The Sun contributes")
	})
}

func TestDebate(t *testing.T) {
	responses := []models.ModelResponse{
		resp("author", "```python\ndef add(a, b):\n    return a - b\n```"),
		resp("critic", "```python\ndef add(x, y):\n    return x - y  # subtract\n```"),
	}

	t.Run("Stops when critic finds nothing", func(t *testing.T) {
		mock := inference.NewMockProvider("m",
			inference.MockRule{Contains: "List concrete errors", Text: "NO ISSUES"},
		)
		res, err := testManager(t).Synthesize(context.Background(), Input{
			Classification: cls(models.TaskCoding, models.ComplexitySimple),
			Responses:      responses,
			Client:         mock,
		})
		require.NoError(t, err)
		assert.Equal(t, models.MethodDebate, res.Method)
		assert.Equal(t, 0, res.Rounds)
		assert.Len(t, mock.Calls(), 1)
	})

	t.Run("Bounded to two rounds", func(t *testing.T) {
		mock := inference.NewMockProvider("m",
			inference.MockRule{Contains: "List concrete errors", Text: "It subtracts instead of adding."},
		).WithDefault("revision")
		res, err := testManager(t).Synthesize(context.Background(), Input{
			Classification: cls(models.TaskCoding, models.ComplexitySimple),
			Responses:      responses,
			Client:         mock,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Rounds)
		assert.Len(t, mock.Calls(), 4)
		assert.True(t, strings.HasPrefix(res.FinalText, "revision"))
	})
}

func TestSynthesizeUsesOnlyFinalSteps(t *testing.T) {
	draft := models.ModelResponse{StepIndex: 0, Role: "generator", ModelID: "a", RawText: "```python\ndef add(a, b):\n    return a - b\n```", Fallback: true}
	review := models.ModelResponse{StepIndex: 1, Role: "critic", ModelID: "b", RawText: "The function subtracts instead of adding."}
	refined := models.ModelResponse{StepIndex: 2, Role: "refiner", ModelID: "a", RawText: "```python\ndef add(a, b):\n    return a + b\n```", Final: true}

	res, err := testManager(t).Synthesize(context.Background(), Input{
		Classification: cls(models.TaskCoding, models.ComplexitySimple),
		Strategy:       models.StrategyChallengeAndRefine,
		Responses:      []models.ModelResponse{draft, review, refined},
	})
	require.NoError(t, err)
	assert.Equal(t, refined.RawText, res.FinalText)
	assert.Equal(t, 2, res.SelectedIndex)
	assert.Equal(t, models.MethodPassthrough, res.Method)
	assert.False(t, res.UsedFallback)
}

func TestSynthesizeFallsBackWhenFinalStepFails(t *testing.T) {
	draft := models.ModelResponse{StepIndex: 0, Role: "generator", ModelID: "a", RawText: "def add(a, b): return a + b", Fallback: true}
	review := models.ModelResponse{StepIndex: 1, Role: "critic", ModelID: "b", RawText: "Looks fine."}
	failed := models.ModelResponse{StepIndex: 2, Role: "refiner", ModelID: "a", Error: "timeout", Final: true}

	res, err := testManager(t).Synthesize(context.Background(), Input{
		Classification: cls(models.TaskCoding, models.ComplexitySimple),
		Responses:      []models.ModelResponse{draft, review, failed},
	})
	require.NoError(t, err)
	assert.Equal(t, draft.RawText, res.FinalText)
	assert.True(t, res.UsedFallback)

	review.Fallback = false
	draft.Error, draft.RawText = "down", ""
	_, err = testManager(t).Synthesize(context.Background(), Input{
		Responses: []models.ModelResponse{draft, review, failed},
	})
	assert.ErrorIs(t, err, models.ErrNoUsableResponses)
}
