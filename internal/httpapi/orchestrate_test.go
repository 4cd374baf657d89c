package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/catalog"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/memory"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

type stubOrchestrator struct {
	result models.OrchestrationResult
	err    error

	gotQuery  string
	gotBudget models.BudgetConfig
	gotScope  string
}

func (s *stubOrchestrator) Orchestrate(ctx context.Context, query string, _ []models.Turn, budget models.BudgetConfig) (models.OrchestrationResult, error) {
	s.gotQuery = query
	s.gotBudget = budget
	s.gotScope = memory.ScopeFrom(ctx)
	return s.result, s.err
}

func serve(t *testing.T, orch Orchestrator, method, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewOrchestrateHandler(orch, 0, zaptest.NewLogger(t)).RegisterRoutes(mux)
	req := httptest.NewRequest(method, "/v1/orchestrate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestOrchestrateSuccess(t *testing.T) {
	stub := &stubOrchestrator{result: models.OrchestrationResult{
		Content:      "Alexander Fleming.",
		TraceID:      "abc",
		StrategyUsed: models.StrategySingleBest,
		Trace:        &models.OrchestrationTrace{TraceID: "abc"},
	}}

	rec := serve(t, stub, http.MethodPost, `{"query":"Who discovered penicillin?","budget":{"accuracy_level":2}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Who discovered penicillin?", stub.gotQuery)
	assert.Equal(t, 2, stub.gotBudget.AccuracyLevel)
	assert.Empty(t, stub.gotScope)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Alexander Fleming.", got["content"])
	assert.Equal(t, "single_best", got["strategy_used"])
	assert.NotContains(t, got, "trace")

	rec = serve(t, stub, http.MethodPost, `{"query":"Who discovered penicillin?","include_trace":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Contains(t, got, "trace")
}

func TestOrchestrateErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"classification", &models.ClassificationError{Reason: "query is empty"}, http.StatusBadRequest, models.CodeClassification},
		{"safety", &models.SafetyBlockedError{Reason: "weapons"}, http.StatusForbidden, models.CodeSafetyBlocked},
		{"no viable strategy", &models.NoViableStrategyError{Constraint: "max_cost_usd"}, http.StatusUnprocessableEntity, models.CodeNoViableStrategy},
		{"all steps failed", &models.OrchestrationFailedError{Steps: 2}, http.StatusBadGateway, models.CodeOrchestrationFailed},
		{"deadline", &models.DeadlineExceededError{Stage: "execution"}, http.StatusGatewayTimeout, models.CodeDeadlineExceeded},
		{"internal", errors.New("boom"), http.StatusInternalServerError, models.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &stubOrchestrator{err: tt.err}, http.MethodPost, `{"query":"q"}`)
			assert.Equal(t, tt.status, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestOrchestrateRejectsBadRequests(t *testing.T) {
	rec := serve(t, &stubOrchestrator{}, http.MethodGet, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(t, &stubOrchestrator{}, http.MethodPost, `{"query":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, &stubOrchestrator{}, http.MethodPost, `{"query":"q","unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	cat, err := catalog.NewStaticProvider([]models.ModelProfile{
		{ID: "mock-alpha", Provider: models.ProviderMock, CapabilityScores: map[models.Capability]float64{models.CapFactual: 0.9}},
	}, 0.002)
	require.NoError(t, err)

	states := map[string]circuitbreaker.State{"openai": circuitbreaker.StateClosed, "anthropic": circuitbreaker.StateOpen}
	mux := http.NewServeMux()
	NewHealthHandler(cat, func() map[string]circuitbreaker.State { return states }, zaptest.NewLogger(t)).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, 1, body.CatalogModels)

	states["openai"] = circuitbreaker.StateOpen
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrchestrateSessionScope(t *testing.T) {
	stub := &stubOrchestrator{result: models.OrchestrationResult{Content: "ok"}}

	rec := serve(t, stub, http.MethodPost, `{"query":"Who discovered penicillin?","session_id":"user-42"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", stub.gotScope)

	stub.gotQuery = ""
	rec = serve(t, stub, http.MethodPost, `{"query":"Who discovered penicillin?","session_id":"../other user"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, stub.gotQuery)
}
