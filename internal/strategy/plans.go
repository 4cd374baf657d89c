package strategy

import (
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

const (
	goalAnswer     = "Answer the question accurately and concisely."
	goalSample     = "Answer the question. Reason briefly, then end with a line of the form \"Final answer: <answer>\"."
	goalGenerate   = "Write a correct, complete solution. Include the code in a fenced block."
	goalCritique   = "Review the previous solution. List concrete bugs, edge cases and improvements. Do not rewrite it."
	goalRefine     = "Rewrite the solution so it addresses every point of the critique. Include the final code in a fenced block."
	goalResearch   = "Gather the key facts, figures and sources relevant to the question. Do not draw conclusions yet."
	goalAnalyze    = "Using the research notes, analyze the question from the %s perspective."
	goalSynthesize = "Combine the research and analyses into one well-structured, complete answer."
)

// Expert roles for expert_panel, assigned in order.
var expertRoles = []struct{ name, focus string }{
	{"analyst", "Give a structured analysis with the strongest supporting evidence."},
	{"skeptic", "Challenge common assumptions and point out risks, caveats and counterexamples."},
	{"domain_expert", "Answer as a domain specialist, with precise terminology and specifics."},
	{"practitioner", "Focus on practical implications and concrete recommendations."},
	{"historian", "Explain how the topic developed and what context shaped it."},
}

type planBuilder struct {
	steps     []models.PlanStep
	maxTokens int
}

func (b *planBuilder) add(role, goal, model string, deps ...int) int {
	idx := len(b.steps)
	b.steps = append(b.steps, models.PlanStep{
		Index:           idx,
		Role:            role,
		Goal:            goal,
		AssignedModelID: model,
		DependsOn:       deps,
		MaxTokens:       b.maxTokens,
	})
	return idx
}

// stepCount is the number of model calls each strategy makes.
func (s *Selector) stepCount(name models.StrategyName) int {
	switch name {
	case models.StrategySingleBest:
		return 1
	case models.StrategyParallelRace:
		return 2
	case models.StrategyBestOfN:
		return max(s.cfg.BestOfN, 2)
	case models.StrategyFusion:
		return max(s.cfg.FusionSize, 2)
	case models.StrategyExpertPanel:
		return max(s.cfg.ExpertPanelSize, 3)
	case models.StrategyChallengeAndRefine:
		return 3
	case models.StrategySelfConsistency:
		return max(s.cfg.SelfConsistencySamples, 3)
	case models.StrategyHierarchical:
		return 4
	}
	return 1
}

// build lays out the steps for name using the ranked candidates.
func (s *Selector) build(name models.StrategyName, ranked []Candidate) []models.PlanStep {
	b := &planBuilder{maxTokens: s.cfg.DefaultMaxTokens}
	n := s.stepCount(name)

	switch name {
	case models.StrategySingleBest:
		b.add("answerer", goalAnswer, ranked[0].Profile.ID)

	case models.StrategyParallelRace:
		for i, m := range team(ranked, n) {
			b.add(fmt.Sprintf("racer-%d", i+1), goalAnswer, m.ID)
		}

	case models.StrategyBestOfN:
		for i, m := range team(ranked, n) {
			b.add(fmt.Sprintf("candidate-%d", i+1), goalAnswer, m.ID)
		}

	case models.StrategyFusion:
		for i, m := range team(ranked, n) {
			b.add(fmt.Sprintf("contributor-%d", i+1), goalAnswer, m.ID)
		}

	case models.StrategyExpertPanel:
		for i, m := range team(ranked, n) {
			role := expertRoles[i%len(expertRoles)]
			stepRole := "expert-" + role.name
			if i >= len(expertRoles) {
				stepRole = fmt.Sprintf("%s-%d", stepRole, i/len(expertRoles)+1)
			}
			b.add(stepRole, role.focus+" "+goalAnswer, m.ID)
		}

	case models.StrategyChallengeAndRefine:
		members := team(ranked, 2)
		gen := b.add("generator", goalGenerate, members[0].ID)
		crit := b.add("critic", goalCritique, members[1].ID, gen)
		b.add("refiner", goalRefine, members[0].ID, gen, crit)
		b.steps[gen].Fallback = true

	case models.StrategySelfConsistency:
		// Independent samples from the strongest model.
		for i := 0; i < n; i++ {
			b.add(fmt.Sprintf("sampler-%d", i+1), goalSample, ranked[0].Profile.ID)
		}

	case models.StrategyHierarchical:
		members := team(ranked, 3)
		research := b.add("researcher", goalResearch, members[0].ID)
		a1 := b.add("analyst-"+expertRoles[0].name, fmt.Sprintf(goalAnalyze, expertRoles[0].name), members[1].ID, research)
		a2 := b.add("analyst-"+expertRoles[1].name, fmt.Sprintf(goalAnalyze, expertRoles[1].name), members[2].ID, research)
		b.add("synthesizer", goalSynthesize, members[0].ID, research, a1, a2)
		b.steps[a1].Fallback = true
		b.steps[a2].Fallback = true
	}
	markFinal(b.steps)
	return b.steps
}

// markFinal flags the steps no other step depends on.
func markFinal(steps []models.PlanStep) {
	feeds := make(map[int]bool, len(steps))
	for _, s := range steps {
		for _, d := range s.DependsOn {
			feeds[d] = true
		}
	}
	for i := range steps {
		steps[i].Final = !feeds[steps[i].Index]
	}
}
