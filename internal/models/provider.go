package models

import "strings"

// Provider identifiers understood by the inference router.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderDeepSeek  = "deepseek"
	ProviderXAI       = "xai"
	ProviderMistral   = "mistral"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
	ProviderUnknown   = "unknown"
)

type providerPattern struct {
	provider string
	needles  []string
}

// First match wins.
var providerPatterns = []providerPattern{
	{ProviderMock, []string{"mock-"}},
	{ProviderOpenAI, []string{"gpt-", "davinci", "turbo", "o1-", "o3-", "o4-"}},
	{ProviderAnthropic, []string{"claude", "opus", "sonnet", "haiku"}},
	{ProviderGoogle, []string{"gemini", "palm"}},
	{ProviderDeepSeek, []string{"deepseek"}},
	{ProviderXAI, []string{"grok"}},
	{ProviderMistral, []string{"mistral", "mixtral", "codestral"}},
	{ProviderOllama, []string{"llama", "qwen"}},
}

// DetectProvider infers the provider from a model ID when the catalog entry
// leaves it blank.
func DetectProvider(model string) string {
	if model == "" {
		return ProviderUnknown
	}
	ml := strings.ToLower(model)
	for _, p := range providerPatterns {
		for _, n := range p.needles {
			if strings.Contains(ml, n) {
				return p.provider
			}
		}
	}
	return ProviderUnknown
}
