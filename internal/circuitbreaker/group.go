package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "consensus_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	breakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_circuit_breaker_state_changes_total",
			Help: "Total number of state changes in circuit breaker",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// SettingsFromConfig maps the provider breaker knobs onto Settings.
func SettingsFromConfig(c config.CircuitBreakerConfig) Settings {
	s := DefaultSettings()
	if c.FailureThreshold > 0 {
		s.FailureThreshold = uint32(c.FailureThreshold)
	}
	if c.ResetTimeoutMs > 0 {
		s.Timeout = time.Duration(c.ResetTimeoutMs) * time.Millisecond
	}
	if c.HalfOpenRequests > 0 {
		s.MaxRequests = uint32(c.HalfOpenRequests)
	}
	return s
}

// Group lazily creates one breaker per upstream name, sharing settings.
type Group struct {
	settings Settings
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates a group whose breakers report state to Prometheus.
func NewGroup(s Settings, logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	user := s.OnStateChange
	s.OnStateChange = func(name string, from, to State) {
		if user != nil {
			user(name, from, to)
		}
		breakerStateChanges.WithLabelValues(name, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name).Set(float64(to))
	}
	return &Group{settings: s, logger: logger, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (g *Group) Get(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[name]; ok {
		return b
	}
	b := New(name, g.settings, g.logger)
	g.breakers[name] = b
	breakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// States reports the state of every known breaker.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	breakers := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		breakers = append(breakers, b)
	}
	g.mu.Unlock()

	out := make(map[string]State, len(breakers))
	for _, b := range breakers {
		out[b.Name()] = b.State()
	}
	return out
}
