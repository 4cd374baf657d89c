package inference

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockRule answers prompts containing Contains (case-insensitive).
// An empty Model matches every model.
type MockRule struct {
	Model    string
	Contains string
	Text     string
	Err      error
	Delay    time.Duration
}

// MockProvider returns deterministic completions for local runs and tests.
type MockProvider struct {
	name            string
	rules           []MockRule
	defaultResponse string

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one invocation.
type MockCall struct {
	ModelID   string
	Prompt    string
	MaxTokens int
}

// NewMockProvider creates a mock registered under name ("mock" when empty).
func NewMockProvider(name string, rules ...MockRule) *MockProvider {
	if name == "" {
		name = "mock"
	}
	return &MockProvider{name: name, rules: rules, defaultResponse: "mock response:"}
}

// WithDefault sets the text used when no rule matches.
func (m *MockProvider) WithDefault(text string) *MockProvider {
	m.defaultResponse = text
	return m
}

func (m *MockProvider) Name() string { return m.name }

// Calls returns a copy of the recorded invocations.
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

func (m *MockProvider) Complete(ctx context.Context, modelID, prompt string, maxTokens int) (Completion, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{ModelID: modelID, Prompt: prompt, MaxTokens: maxTokens})
	m.mu.Unlock()

	start := time.Now()
	lower := strings.ToLower(prompt)
	for _, r := range m.rules {
		if r.Model != "" && r.Model != modelID {
			continue
		}
		if r.Contains != "" && !strings.Contains(lower, strings.ToLower(r.Contains)) {
			continue
		}
		if r.Delay > 0 {
			select {
			case <-time.After(r.Delay):
			case <-ctx.Done():
				return Completion{}, ctx.Err()
			}
		}
		if r.Err != nil {
			return Completion{}, r.Err
		}
		return m.completion(modelID, prompt, r.Text, start), nil
	}
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	return m.completion(modelID, prompt, fmt.Sprintf("%s %s", m.defaultResponse, firstLine(prompt)), start), nil
}

func (m *MockProvider) completion(modelID, prompt, text string, start time.Time) Completion {
	return Completion{
		Text:         text,
		ModelID:      modelID,
		InputTokens:  (len(prompt) + 3) / 4,
		OutputTokens: (len(text) + 3) / 4,
		LatencyMs:    time.Since(start).Milliseconds(),
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
