package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/tracing"
)

const defaultTavilyURL = "https://api.tavily.com/search"

// WebSearch queries the Tavily search API for raw page content. Tavily's own
// answer synthesis is disabled; the model team does the reading.
type WebSearch struct {
	apiKey     string
	url        string
	httpClient *http.Client
	maxResults int
}

// NewWebSearch creates the web_search tool. An empty url uses the public endpoint.
func NewWebSearch(apiKey, url string, client *http.Client) *WebSearch {
	if url == "" {
		url = defaultTavilyURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebSearch{apiKey: apiKey, url: url, httpClient: client, maxResults: 5}
}

func (w *WebSearch) Name() string { return models.ToolWebSearch }

// Available reports whether an API key is configured.
func (w *WebSearch) Available() bool { return w.apiKey != "" }

type tavilyRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
}

type tavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Invoke returns results formatted as "[n] Title\nURL: <url>\n<content>".
func (w *WebSearch) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	if !w.Available() {
		return "", fmt.Errorf("%w: web search API key not configured", ErrSkipped)
	}
	query, err := StringArg(args, "query")
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(tavilyRequest{
		Query:         query,
		SearchDepth:   "advanced",
		IncludeAnswer: false,
		MaxResults:    IntArg(args, "max_results", w.maxResults),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	tracing.InjectTraceparent(ctx, req)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("search API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var tr tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(tr.Results) == 0 {
		return "", errors.New("search returned no results")
	}

	var sb strings.Builder
	for i, r := range tr.Results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s\nURL: %s\n%s", i+1, strings.TrimSpace(r.Title), r.URL, PlainText(r.Content))
	}
	return sb.String(), nil
}

// PlainText strips markup from content that may contain HTML. Script and
// style bodies are dropped and whitespace is collapsed. Adjacent elements are
// separated by a space.
func PlainText(content string) string {
	if !strings.Contains(content, "<") {
		return strings.Join(strings.Fields(content), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(strings.ReplaceAll(content, "<", " <")))
	if err != nil {
		return strings.Join(strings.Fields(content), " ")
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// SourceURLs extracts the URL lines from a web_search payload.
func SourceURLs(payload string) []string {
	var out []string
	for _, line := range strings.Split(payload, "\n") {
		if strings.HasPrefix(line, "URL: ") {
			if u := strings.TrimSpace(strings.TrimPrefix(line, "URL: ")); u != "" {
				out = append(out, u)
			}
		}
	}
	return out
}
