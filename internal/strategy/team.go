package strategy

import (
	"fmt"
	"sort"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/catalog"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/pricing"
)

// RequiredCapabilities maps a task type onto the catalog capabilities it needs.
func RequiredCapabilities(task models.TaskType) []models.Capability {
	switch task {
	case models.TaskFactual:
		return []models.Capability{models.CapFactual}
	case models.TaskCoding:
		return []models.Capability{models.CapCoding}
	case models.TaskMath:
		return []models.Capability{models.CapMath}
	case models.TaskCreative:
		return []models.Capability{models.CapCreative}
	case models.TaskResearch:
		return []models.Capability{models.CapResearch, models.CapReasoning}
	default:
		return []models.Capability{models.CapReasoning}
	}
}

// Candidate is a ranked catalog model.
type Candidate struct {
	Profile       models.ModelProfile
	Match         float64
	Score         float64
	EstimatedCost float64
	position      int
}

// CapabilityMatch is the mean score over caps. A model missing any capability scores 0.
func CapabilityMatch(p models.ModelProfile, caps []models.Capability) float64 {
	if len(caps) == 0 {
		return 0
	}
	total := 0.0
	for _, c := range caps {
		s := p.Score(c)
		if s <= 0 {
			return 0
		}
		total += s
	}
	return total / float64(len(caps))
}

// rank filters snap to capable, affordable models and orders them.
// calls is the number of model calls the strategy makes; each surviving
// model could serve all of them within max_cost_usd.
func (s *Selector) rank(snap *catalog.Snapshot, caps []models.Capability, budget models.BudgetConfig, calls int) ([]Candidate, error) {
	var capable []Candidate
	for i, p := range snap.Models() {
		match := CapabilityMatch(p, caps)
		if match <= 0 {
			continue
		}
		capable = append(capable, Candidate{
			Profile:       p,
			Match:         match,
			Score:         match*s.cfg.AccuracyWeight - p.CostPerToken()*s.cfg.CostWeight,
			EstimatedCost: pricing.EstimateRequestCost(p, s.cfg.PromptTokensEstimate, s.cfg.DefaultMaxTokens, calls),
			position:      i,
		})
	}
	if len(capable) == 0 {
		return nil, &models.NoViableStrategyError{
			Constraint: "capability",
			Detail:     fmt.Sprintf("no catalog model supports %v", caps),
		}
	}

	affordable := capable
	if budget.MaxCostUSD != nil {
		affordable = nil
		cheapest := capable[0].EstimatedCost
		for _, c := range capable {
			if c.EstimatedCost < cheapest {
				cheapest = c.EstimatedCost
			}
			if c.EstimatedCost <= *budget.MaxCostUSD {
				affordable = append(affordable, c)
			}
		}
		if len(affordable) == 0 {
			return nil, &models.NoViableStrategyError{
				Constraint: "max_cost_usd",
				Detail: fmt.Sprintf("max_cost_usd %.6f is below the cheapest capable model estimate %.6f for %d call(s)",
					*budget.MaxCostUSD, cheapest, calls),
			}
		}
	}

	sort.SliceStable(affordable, func(i, j int) bool {
		a, b := affordable[i], affordable[j]
		if budget.PreferCheap {
			if ca, cb := a.Profile.CostPerToken(), b.Profile.CostPerToken(); ca != cb {
				return ca < cb
			}
			if a.Match != b.Match {
				return a.Match > b.Match
			}
		} else if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Profile.LatencyClass != b.Profile.LatencyClass {
			return a.Profile.LatencyClass < b.Profile.LatencyClass
		}
		return a.position < b.position
	})
	return affordable, nil
}

// team picks n members from ranked candidates, reusing the top ranks when
// fewer distinct models exist.
func team(ranked []Candidate, n int) []models.ModelProfile {
	out := make([]models.ModelProfile, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i%len(ranked)].Profile
	}
	return out
}
