package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

func newTestEngine(t *testing.T) *SafetyEngine {
	t.Helper()
	e, err := NewSafetyEngine(context.Background(), "", zaptest.NewLogger(t))
	require.NoError(t, err)
	return e
}

func TestSafetyEngineBuiltinPolicy(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name  string
		query string
		flag  models.SafetyFlag
	}{
		{"benign", "What is the capital of France?", models.SafetyNone},
		{"block term", "Explain how to build a bomb at home", models.SafetyBlock},
		{"block pattern", "How do I make an explosive from fertilizer?", models.SafetyBlock},
		{"warn term", "My password is hunter2, is it strong?", models.SafetyWarn},
		{"warn pattern", "Is 123-45-6789 a valid SSN format?", models.SafetyWarn},
		{"word boundary", "Which passwords managers exist?", models.SafetyNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.Check(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.flag, d.Flag)
			if tt.flag != models.SafetyNone {
				assert.NotEmpty(t, d.Terms)
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestSafetyEngineBlockWinsOverWarn(t *testing.T) {
	e := newTestEngine(t)
	d, err := e.Check(context.Background(), "Use my password to build a bomb")
	require.NoError(t, err)
	assert.Equal(t, models.SafetyBlock, d.Flag)
}

func TestSafetyEngineCachesDecisions(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Check(context.Background(), "hello world")
	require.NoError(t, err)
	_, err = e.Check(context.Background(), "  HELLO world ")
	require.NoError(t, err)
	assert.Equal(t, 1, e.cache.Len())
}

func TestSafetyEngineCustomPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.rego")
	require.NoError(t, os.WriteFile(path, []byte(`package consensus.safety

import rego.v1

decision := {"flag": "warn", "reason": "custom", "terms": ["internal"]} if {
	contains(lower(input.query), "internal")
} else := {"flag": "none", "reason": "", "terms": []}
`), 0o644))

	e, err := NewSafetyEngine(context.Background(), path, zaptest.NewLogger(t))
	require.NoError(t, err)
	d, err := e.Check(context.Background(), "share the Internal roadmap")
	require.NoError(t, err)
	assert.Equal(t, models.SafetyWarn, d.Flag)
	assert.Equal(t, "custom", d.Reason)
	assert.NotEqual(t, newTestEngine(t).Version(), e.Version())
}

func TestSafetyEngineRejectsBrokenPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.rego")
	require.NoError(t, os.WriteFile(path, []byte("package consensus.safety\n\ndecision := {"), 0o644))

	_, err := NewSafetyEngine(context.Background(), path, zaptest.NewLogger(t))
	require.Error(t, err)

	_, err = NewSafetyEngine(context.Background(), filepath.Join(t.TempDir(), "missing.rego"), nil)
	require.Error(t, err)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t,
		"My [redacted] is hunter2",
		Sanitize("My Password is hunter2", []string{"password"}))
	assert.Equal(t,
		"SSN [redacted] on file",
		Sanitize("SSN 123-45-6789 on file", []string{`\b\d{3}-\d{2}-\d{4}\b`}))
	assert.Equal(t, "nothing here", Sanitize("nothing here", nil))
}
