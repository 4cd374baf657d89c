package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// OpenAIProvider serves OpenAI models and OpenAI-compatible endpoints.
type OpenAIProvider struct {
	name   string
	client openai.Client
}

// NewOpenAIProvider creates a provider for api.openai.com.
func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	return &OpenAIProvider{
		name:   "openai",
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// NewDeepSeekProvider reuses the OpenAI client against DeepSeek's compatible API.
func NewDeepSeekProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek API key is required")
	}
	return &OpenAIProvider{
		name:   "deepseek",
		client: openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(deepseekBaseURL)),
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Complete(ctx context.Context, modelID, prompt string, maxTokens int) (Completion, error) {
	start := time.Now()
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(modelID),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, p.wrap(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Completion{}, &ProviderError{Provider: p.name, Err: ErrEmptyCompletion}
	}

	return Completion{
		Text:         resp.Choices[0].Message.Content,
		ModelID:      modelID,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (p *OpenAIProvider) wrap(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.name, Status: apiErr.StatusCode, Err: err}
	}
	return &ProviderError{Provider: p.name, Err: err}
}
