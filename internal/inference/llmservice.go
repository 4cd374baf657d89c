package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/tracing"
)

// LLMServiceProvider calls the shared llm-service /agent/query endpoint,
// which fronts every vendor the deployment has credentials for.
type LLMServiceProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewLLMServiceProvider creates a provider for baseURL (e.g. http://llm-service:8000).
func NewLLMServiceProvider(baseURL string, client *http.Client) (*LLMServiceProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("llm-service URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 180 * time.Second}
	}
	return &LLMServiceProvider{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}, nil
}

func (p *LLMServiceProvider) Name() string { return "llm-service" }

type llmServiceRequest struct {
	Query        string                 `json:"query"`
	Context      map[string]interface{} `json:"context"`
	AllowedTools []string               `json:"allowed_tools"`
	AgentID      string                 `json:"agent_id"`
	MaxTokens    int                    `json:"max_tokens,omitempty"`
}

type llmServiceResponse struct {
	Response   string                 `json:"response"`
	Metadata   map[string]interface{} `json:"metadata"`
	TokensUsed int                    `json:"tokens_used"`
	ModelUsed  string                 `json:"model_used"`
}

func (p *LLMServiceProvider) Complete(ctx context.Context, modelID, prompt string, maxTokens int) (Completion, error) {
	start := time.Now()
	body, err := json.Marshal(llmServiceRequest{
		Query:        prompt,
		Context:      map[string]interface{}{"model_override": modelID},
		AllowedTools: []string{},
		AgentID:      "consensus",
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/agent/query", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Completion{}, &ProviderError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Completion{}, &ProviderError{Provider: p.Name(), Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Completion{}, &ProviderError{
			Provider: p.Name(),
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("non-2xx response: %s", strings.TrimSpace(string(raw))),
		}
	}

	var out llmServiceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Completion{}, &ProviderError{Provider: p.Name(), Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if strings.TrimSpace(out.Response) == "" {
		return Completion{}, &ProviderError{Provider: p.Name(), Err: ErrEmptyCompletion}
	}

	c := Completion{
		Text:      out.Response,
		ModelID:   modelID,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if out.ModelUsed != "" {
		c.ModelID = out.ModelUsed
	}
	in, okIn := metadataInt(out.Metadata, "input_tokens")
	outTok, okOut := metadataInt(out.Metadata, "output_tokens")
	if okIn && okOut {
		c.InputTokens, c.OutputTokens = in, outTok
	} else {
		// Only a total is reported; attribute the prompt estimate to input.
		c.InputTokens = len(prompt) / 4
		c.OutputTokens = out.TokensUsed - c.InputTokens
		if c.OutputTokens < 0 {
			c.InputTokens, c.OutputTokens = out.TokensUsed, 0
		}
	}
	return c, nil
}

func metadataInt(m map[string]interface{}, key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
