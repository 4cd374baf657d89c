package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectProviderRoutesCatalogIDs(t *testing.T) {
	cases := map[string]string{
		"gpt-4.1":                    ProviderOpenAI,
		"gpt-4.1-mini":               ProviderOpenAI,
		"o4-mini":                    ProviderOpenAI,
		"claude-sonnet-4-5-20250929": ProviderAnthropic,
		"claude-haiku-4-5":           ProviderAnthropic,
		"gemini-2.5-pro":             ProviderGoogle,
		"gemini-2.5-flash":           ProviderGoogle,
		"deepseek-reasoner":          ProviderDeepSeek,
		"grok-3-mini":                ProviderXAI,
		"codestral-22b-v0.1":         ProviderMistral,
		"qwen3-8b":                   ProviderOllama,
		"mock-alpha":                 ProviderMock,
	}
	for id, want := range cases {
		assert.Equal(t, want, DetectProvider(id), id)
	}
}

func TestDetectProviderOrdering(t *testing.T) {
	// Earlier patterns shadow later ones.
	assert.Equal(t, ProviderMock, DetectProvider("mock-claude"))
	assert.Equal(t, ProviderMistral, DetectProvider("mixtral-8x7b"))
	assert.Equal(t, ProviderOllama, DetectProvider("codellama-34b"))
}

func TestDetectProviderUnknown(t *testing.T) {
	assert.Equal(t, ProviderUnknown, DetectProvider(""))
	assert.Equal(t, ProviderUnknown, DetectProvider("my-finetune"))
	assert.Equal(t, ProviderAnthropic, DetectProvider("Claude-Opus-4"))
}
