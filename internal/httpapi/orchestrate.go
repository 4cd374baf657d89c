// Package httpapi exposes the orchestrator over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/memory"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

// Orchestrator is the request-level contract served by the handler.
type Orchestrator interface {
	Orchestrate(ctx context.Context, query string, history []models.Turn, budget models.BudgetConfig) (models.OrchestrationResult, error)
}

const maxRequestBytes = 1 << 20

// OrchestrateHandler serves POST /v1/orchestrate.
type OrchestrateHandler struct {
	orch    Orchestrator
	timeout time.Duration
	logger  *zap.Logger
}

// NewOrchestrateHandler creates a handler. A zero timeout leaves the
// orchestrator's own deadline in charge.
func NewOrchestrateHandler(orch Orchestrator, timeout time.Duration, logger *zap.Logger) *OrchestrateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrchestrateHandler{orch: orch, timeout: timeout, logger: logger}
}

// RegisterRoutes registers orchestration routes on the provided mux.
func (h *OrchestrateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/orchestrate", h.handleOrchestrate)
}

type orchestrateRequest struct {
	Query        string              `json:"query"`
	History      []models.Turn       `json:"history,omitempty"`
	Budget       models.BudgetConfig `json:"budget"`
	SessionID    string              `json:"session_id,omitempty"`
	IncludeTrace bool                `json:"include_trace,omitempty"`
}

type errorResponse struct {
	Error models.ErrorBody `json:"error"`
}

func (h *OrchestrateHandler) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: models.ErrorBody{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"}})
		return
	}

	var req orchestrateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("Orchestrate decode error", zap.Error(err))
		h.writeError(w, &models.ClassificationError{Reason: "invalid JSON body", Cause: err})
		return
	}

	ctx := r.Context()
	if req.SessionID != "" {
		if !memory.ValidScope(req.SessionID) {
			h.writeError(w, &models.ClassificationError{Reason: "invalid session_id"})
			return
		}
		ctx = memory.WithScope(ctx, req.SessionID)
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := h.orch.Orchestrate(ctx, req.Query, req.History, req.Budget)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !req.IncludeTrace {
		res.Trace = nil
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrchestrateHandler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Orchestrate request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: models.NewErrorBody(err)})
}

// StatusFor maps an orchestration error to its HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return 499
	}
	switch models.ErrorCode(err) {
	case models.CodeClassification:
		return http.StatusBadRequest
	case models.CodeSafetyBlocked:
		return http.StatusForbidden
	case models.CodeNoViableStrategy:
		return http.StatusUnprocessableEntity
	case models.CodeOrchestrationFailed:
		return http.StatusBadGateway
	case models.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
