package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/catalog"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/circuitbreaker"
)

// HealthHandler reports liveness and readiness. Readiness needs a non-empty
// catalog and at least one provider whose breaker is not open.
type HealthHandler struct {
	catalog  catalog.Provider
	breakers func() map[string]circuitbreaker.State
	logger   *zap.Logger
}

// NewHealthHandler creates a handler. breakers may be nil.
func NewHealthHandler(cat catalog.Provider, breakers func() map[string]circuitbreaker.State, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{catalog: cat, breakers: breakers, logger: logger}
}

// RegisterRoutes registers health check endpoints with an HTTP mux
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/ready", h.handleHealth)
	mux.HandleFunc("/health/live", h.handleLiveness)
}

type healthResponse struct {
	Status         string            `json:"status"`
	Ready          bool              `json:"ready"`
	CatalogModels  int               `json:"catalog_models"`
	CatalogVersion int64             `json:"catalog_version"`
	Providers      map[string]string `json:"providers,omitempty"`
	Timestamp      int64             `json:"timestamp"`
}

func (h *HealthHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "alive", "timestamp": time.Now().Unix()})
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{Timestamp: time.Now().Unix()}
	if snap, err := h.catalog.Snapshot(r.Context()); err == nil && snap != nil {
		resp.CatalogModels = snap.Len()
		resp.CatalogVersion = snap.Version()
	}

	openProviders := 0
	if h.breakers != nil {
		states := h.breakers()
		resp.Providers = make(map[string]string, len(states))
		for name, st := range states {
			resp.Providers[name] = st.String()
			if st == circuitbreaker.StateOpen {
				openProviders++
			}
		}
	}

	resp.Ready = resp.CatalogModels > 0 && (len(resp.Providers) == 0 || openProviders < len(resp.Providers))
	status := http.StatusOK
	switch {
	case !resp.Ready:
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case openProviders > 0:
		resp.Status = "degraded"
	default:
		resp.Status = "healthy"
	}
	writeJSON(w, status, resp)
}
