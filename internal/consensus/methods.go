package consensus

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/util"
)

// weighted scores candidates by verification outcome, centrality and
// degradation, breaking ties by position.
func (m *Manager) weighted(cands []candidate, out *models.ConsensusResult) {
	best := cands[0]
	bestScore := score(best, cands)
	for _, c := range cands[1:] {
		if s := score(c, cands); s > bestScore {
			best, bestScore = c, s
		}
	}
	out.Method = models.MethodWeighted
	out.FinalText = best.resp.RawText
	out.SelectedIndex = best.index
}

func score(c candidate, cands []candidate) float64 {
	s := 0.0
	if c.verified {
		s += 1
	}
	if c.refuted {
		s -= 2
	}
	if c.resp.Degraded {
		s -= 0.25
	}
	if len(cands) > 1 {
		sum := 0.0
		for _, o := range cands {
			if o.index != c.index {
				sum += util.Jaccard(c.resp.RawText, o.resp.RawText)
			}
		}
		s += sum / float64(len(cands)-1)
	}
	return s
}

// majority votes on normalized final answers. Without a strict plurality it
// falls back to weighted.
func (m *Manager) majority(cands []candidate, out *models.ConsensusResult) {
	groups := make(map[string][]candidate)
	var order []string
	for _, c := range cands {
		key := util.NormalizeAnswer(c.resp.RawText)
		if key == "" {
			continue
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}
	sort.SliceStable(order, func(i, j int) bool { return len(groups[order[i]]) > len(groups[order[j]]) })

	if len(order) == 0 || len(groups[order[0]]) < 2 ||
		(len(order) > 1 && len(groups[order[0]]) == len(groups[order[1]])) {
		m.weighted(cands, out)
		return
	}
	winner := preferred(groups[order[0]])
	out.Method = models.MethodMajority
	out.FinalText = winner.resp.RawText
	out.SelectedIndex = winner.index
}

var choiceRe = regexp.MustCompile(`\d+`)

// arbiter asks a judge model to pick the best candidate.
func (m *Manager) arbiter(ctx context.Context, in Input, cands []candidate, out *models.ConsensusResult) {
	if in.Client == nil {
		m.weighted(cands, out)
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are judging answers to the question below. Pick the single most accurate and complete answer.\n\nQuestion:\n%s\n", in.Query)
	for i, c := range cands {
		fmt.Fprintf(&sb, "\nAnswer %d:\n%s\n", i+1, c.resp.RawText)
	}
	sb.WriteString("\nReply with the number of the best answer only.")

	reply, err := in.Client.Complete(ctx, m.judge(cands), sb.String(), 16)
	if err != nil {
		m.logger.Warn("Judge call failed, using weighted selection", zap.Error(err))
		m.weighted(cands, out)
		return
	}
	n, err := strconv.Atoi(choiceRe.FindString(reply.Text))
	if err != nil || n < 1 || n > len(cands) {
		m.logger.Warn("Judge reply unusable, using weighted selection", zap.String("reply", util.TruncateString(reply.Text, 80, false)))
		m.weighted(cands, out)
		return
	}
	pick := cands[n-1]
	out.Method = models.MethodArbiter
	out.FinalText = pick.resp.RawText
	out.SelectedIndex = pick.index
}

func (m *Manager) judge(cands []candidate) string {
	if m.judgeModel != "" {
		return m.judgeModel
	}
	return preferred(cands).resp.ModelID
}

// fusion merges candidates with a model call, falling back to concatenating
// their distinct paragraphs.
func (m *Manager) fusion(ctx context.Context, in Input, cands []candidate, out *models.ConsensusResult) {
	out.Method = models.MethodFusion
	out.SelectedIndex = preferred(cands).index

	if in.Client != nil {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Merge the answers below into one complete, non-repetitive answer to the question. Keep every correct point and drop contradictions.\n\nQuestion:\n%s\n", in.Query)
		for i, c := range cands {
			fmt.Fprintf(&sb, "\nAnswer %d (%s):\n%s\n", i+1, c.resp.Role, c.resp.RawText)
		}
		reply, err := in.Client.Complete(ctx, m.judge(cands), sb.String(), m.maxTokens)
		if err == nil && strings.TrimSpace(reply.Text) != "" {
			out.FinalText = reply.Text
			return
		}
		m.logger.Warn("Fusion call failed, concatenating distinct content", zap.Error(err))
	}
	out.FinalText = m.concatenate(cands)
}

func (m *Manager) concatenate(cands []candidate) string {
	ordered := append([]candidate{preferred(cands)}, cands...)
	var kept []string
	seen := make(map[int]bool)
	for _, c := range ordered {
		if seen[c.index] {
			continue
		}
		seen[c.index] = true
		for _, p := range util.Paragraphs(c.resp.RawText) {
			dup := false
			for _, k := range kept {
				if util.Jaccard(p, k) >= m.threshold {
					dup = true
					break
				}
			}
			if !dup {
				kept = append(kept, p)
			}
		}
	}
	return strings.Join(kept, "\n\n")
}

// debateState is one step of the critique and refine loop.
type debateState int

const (
	debateCritique debateState = iota
	debateRefine
	debateDone
)

const noIssues = "NO ISSUES"

// debate starts from the weighted pick and alternates critique and refine
// for at most maxRounds rounds. It stops early when the critic finds nothing
// or a revision does not change the answer.
func (m *Manager) debate(ctx context.Context, in Input, cands []candidate, out *models.ConsensusResult) {
	m.weighted(cands, out)
	out.Method = models.MethodDebate
	if in.Client == nil {
		return
	}

	author := cands[0].resp.ModelID
	for _, c := range cands {
		if c.index == out.SelectedIndex {
			author = c.resp.ModelID
		}
	}
	critic := author
	for _, c := range cands {
		if c.resp.ModelID != author {
			critic = c.resp.ModelID
			break
		}
	}

	current := out.FinalText
	critique := ""
	state := debateCritique
	for state != debateDone {
		if ctx.Err() != nil {
			break
		}
		switch state {
		case debateCritique:
			if out.Rounds >= m.maxRounds {
				state = debateDone
				continue
			}
			prompt := fmt.Sprintf("Question:\n%s\n\nProposed answer:\n%s\n\nList concrete errors or missing cases. If there are none, reply exactly %q.", in.Query, current, noIssues)
			reply, err := in.Client.Complete(ctx, critic, prompt, m.maxTokens)
			if err != nil || strings.Contains(strings.ToUpper(reply.Text), noIssues) || strings.TrimSpace(reply.Text) == "" {
				state = debateDone
				continue
			}
			critique = reply.Text
			state = debateRefine
		case debateRefine:
			prompt := fmt.Sprintf("Question:\n%s\n\nYour answer:\n%s\n\nCritique:\n%s\n\nRewrite the answer so it addresses the critique. Reply with the full answer only.", in.Query, current, critique)
			reply, err := in.Client.Complete(ctx, author, prompt, m.maxTokens)
			out.Rounds++
			revised := strings.TrimSpace(reply.Text)
			if err != nil || revised == "" || revised == strings.TrimSpace(current) {
				state = debateDone
				continue
			}
			current = revised
			state = debateCritique
		}
	}
	out.FinalText = current
}
