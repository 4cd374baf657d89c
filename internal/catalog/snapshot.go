// Package catalog supplies read-only model metadata to the orchestration core.
//
// A Snapshot is an immutable value. Reloading the catalog builds a new
// Snapshot and swaps a pointer; requests already holding the old one are
// never affected.
package catalog

import (
	"fmt"
	"sort"
	"time"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

// Snapshot is an immutable view of the model catalog.
type Snapshot struct {
	models       []models.ModelProfile
	byID         map[string]int
	defaultPer1K float64
	version      int64
	loadedAt     time.Time
}

// NewSnapshot validates profiles and builds a snapshot preserving their order.
func NewSnapshot(profiles []models.ModelProfile, defaultPer1K float64, version int64) (*Snapshot, error) {
	s := &Snapshot{
		models:       make([]models.ModelProfile, 0, len(profiles)),
		byID:         make(map[string]int, len(profiles)),
		defaultPer1K: defaultPer1K,
		version:      version,
		loadedAt:     time.Now(),
	}
	for _, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("model entry %d has no id", len(s.models))
		}
		if _, dup := s.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", p.ID)
		}
		if p.CostPer1KInput < 0 || p.CostPer1KOutput < 0 {
			return nil, fmt.Errorf("model %q has negative cost", p.ID)
		}
		for c, score := range p.CapabilityScores {
			if score < 0 || score > 1 {
				return nil, fmt.Errorf("model %q capability %s score %.2f outside [0,1]", p.ID, c, score)
			}
		}
		if p.Provider == "" {
			p.Provider = models.DetectProvider(p.ID)
		}
		if p.LatencyClass <= 0 {
			p.LatencyClass = 2
		}
		s.byID[p.ID] = len(s.models)
		s.models = append(s.models, cloneProfile(p))
	}
	return s, nil
}

func cloneProfile(p models.ModelProfile) models.ModelProfile {
	scores := make(map[models.Capability]float64, len(p.CapabilityScores))
	for k, v := range p.CapabilityScores {
		scores[k] = v
	}
	p.CapabilityScores = scores
	return p
}

// Len returns the number of models.
func (s *Snapshot) Len() int { return len(s.models) }

// Version increments on every reload.
func (s *Snapshot) Version() int64 { return s.version }

// LoadedAt reports when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// DefaultPer1K is the fallback combined price for unknown models.
func (s *Snapshot) DefaultPer1K() float64 { return s.defaultPer1K }

// Models returns copies of all profiles in catalog order.
func (s *Snapshot) Models() []models.ModelProfile {
	out := make([]models.ModelProfile, len(s.models))
	for i, p := range s.models {
		out[i] = cloneProfile(p)
	}
	return out
}

// Get returns a copy of the profile for id.
func (s *Snapshot) Get(id string) (models.ModelProfile, bool) {
	i, ok := s.byID[id]
	if !ok {
		return models.ModelProfile{}, false
	}
	return cloneProfile(s.models[i]), true
}

// Position returns the catalog insertion index of id, or -1.
func (s *Snapshot) Position(id string) int {
	if i, ok := s.byID[id]; ok {
		return i
	}
	return -1
}

// Filter narrows GetModels results. Zero value matches everything.
type Filter struct {
	Capabilities []models.Capability
	MinScore     float64
	Providers    []string
}

func (f Filter) matches(p models.ModelProfile) bool {
	if len(f.Providers) > 0 {
		found := false
		for _, prov := range f.Providers {
			if prov == p.Provider {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, c := range f.Capabilities {
		score, ok := p.CapabilityScores[c]
		if !ok || score < f.MinScore || score == 0 {
			return false
		}
	}
	return true
}

// Select returns copies of profiles matching f in catalog order.
func (s *Snapshot) Select(f Filter) []models.ModelProfile {
	var out []models.ModelProfile
	for _, p := range s.models {
		if f.matches(p) {
			out = append(out, cloneProfile(p))
		}
	}
	return out
}

// Cheapest returns the lowest blended-cost profile among candidates,
// breaking ties by catalog order.
func (s *Snapshot) Cheapest(candidates []models.ModelProfile) (models.ModelProfile, bool) {
	if len(candidates) == 0 {
		return models.ModelProfile{}, false
	}
	sorted := append([]models.ModelProfile(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := sorted[i].CostPerToken(), sorted[j].CostPerToken()
		if ci != cj {
			return ci < cj
		}
		return s.Position(sorted[i].ID) < s.Position(sorted[j].ID)
	})
	return sorted[0], true
}
