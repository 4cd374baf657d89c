// Package refine turns a consensus answer into the text returned to the
// caller. Refinement is deterministic and idempotent: refining its own
// output with the same inputs changes nothing.
package refine

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/verification"
)

// Input carries everything refinement reads.
type Input struct {
	Consensus    models.ConsensusResult
	Verification models.VerificationReport
	Domain       models.Domain
	History      []models.Turn
	Sources      []string
}

// Hedge lines appended once for sensitive domains.
const (
	MedicalHedge = "This information is general and is not a substitute for advice from a qualified medical professional."
	LegalHedge   = "This is general information, not legal advice. Consult a qualified lawyer about your situation."
)

const (
	verificationPrefix = "_Verification:"
	recentTurns        = 3
)

var preambleRe = regexp.MustCompile(`(?i)^(sure|certainly|of course|absolutely|great question|good question|happy to help|here you go)\b[^\n]{0,80}$`)

// Refine applies, in order: removal of previously generated trailers,
// anti-repetition, tone, claim annotations, format repair and the generated
// trailers (verification note, hedge, sources).
func Refine(in Input) string {
	blocks := splitBlocks(stripSources(in.Consensus.FinalText))
	blocks = dropGenerated(blocks)
	blocks = dropRepeats(blocks, in.History)
	if in.Domain == models.DomainCoding {
		blocks = dropPreamble(blocks)
	}

	text := annotate(joinBlocks(blocks), in.Verification)

	blocks = splitBlocks(text)
	blocks = closeFences(blocks)
	blocks = terminate(blocks)
	blocks = balanceBrackets(blocks)

	if note := verificationNote(in.Verification); note != "" {
		blocks = append(blocks, block{text: note})
	}
	if hedge := hedgeFor(in.Domain); hedge != "" {
		blocks = append(blocks, block{text: hedge})
	}
	return withSources(joinBlocks(blocks), in.Sources)
}

func hedgeFor(d models.Domain) string {
	switch d {
	case models.DomainMedical:
		return MedicalHedge
	case models.DomainLegal:
		return LegalHedge
	}
	return ""
}

// dropGenerated removes trailers a previous refinement added.
func dropGenerated(blocks []block) []block {
	out := blocks[:0:0]
	for _, b := range blocks {
		if !b.code && (b.text == MedicalHedge || b.text == LegalHedge || strings.HasPrefix(b.text, verificationPrefix)) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// dropRepeats removes paragraphs identical to recent assistant turns. The
// answer is never emptied.
func dropRepeats(blocks []block, history []models.Turn) []block {
	seen := make(map[string]bool)
	count := 0
	for i := len(history) - 1; i >= 0 && count < recentTurns; i-- {
		if history[i].Role != "assistant" {
			continue
		}
		count++
		for _, b := range splitBlocks(history[i].Content) {
			seen[normalizeBlock(b.text)] = true
		}
	}
	if len(seen) == 0 {
		return blocks
	}
	var out []block
	for _, b := range blocks {
		if !seen[normalizeBlock(b.text)] {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return blocks
	}
	return out
}

func dropPreamble(blocks []block) []block {
	for len(blocks) > 1 && !blocks[0].code && preambleRe.MatchString(blocks[0].text) {
		blocks = blocks[1:]
	}
	return blocks
}

// annotate applies corrections in place and marks verified and unverified
// claims found in the text. Claims are never removed.
func annotate(text string, report models.VerificationReport) string {
	factualEvidence := false
	for _, c := range report.Claims {
		if c.Kind == models.ClaimFactual && c.EvidenceSource != "" {
			factualEvidence = true
		}
	}

	done := make(map[string]bool)
	for _, c := range report.Claims {
		if c.Kind == models.ClaimCode || done[c.ClaimText] {
			continue
		}
		done[c.ClaimText] = true
		switch c.Verdict {
		case models.VerdictRefuted:
			if c.Correction != nil {
				text = verification.ReplaceClaim(text, c.ClaimText, *c.Correction+" [corrected: originally "+claimedValue(c.ClaimText)+"]")
			} else {
				text = mark(text, c.ClaimText, "[disputed]")
			}
		case models.VerdictVerified:
			text = mark(text, c.ClaimText, "[verified]")
		case models.VerdictUnverifiable:
			// Without any factual evidence every sentence would be marked;
			// the trailing note covers that case.
			if c.Kind == models.ClaimNumeric || factualEvidence {
				text = mark(text, c.ClaimText, "[unverified]")
			}
		}
	}
	return text
}

func claimedValue(claim string) string {
	if i := strings.LastIndex(claim, "="); i >= 0 {
		return strings.TrimSpace(claim[i+1:])
	}
	return claim
}

// mark appends tag after the first occurrence of claim unless it is already
// tagged.
func mark(text, claim, tag string) string {
	idx := strings.Index(text, claim)
	if idx < 0 {
		return text
	}
	end := idx + len(claim)
	if strings.HasPrefix(text[end:], " "+tag) {
		return text
	}
	return text[:end] + " " + tag + text[end:]
}

// verificationNote summarizes the report, including syntax-only code checks.
func verificationNote(report models.VerificationReport) string {
	c := report.Counts()
	if c.Total() == 0 {
		return ""
	}
	var parts []string
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, strconv.Itoa(n)+" "+label)
		}
	}
	add(c.Verified, "verified")
	add(c.Refuted, "corrected or disputed")
	add(c.SyntaxChecked, "syntax-checked only")
	add(c.Unverifiable, "could not be verified")
	note := verificationPrefix + " " + strings.Join(parts, ", ")
	if report.TimedOut {
		note += " (verification timed out)"
	}
	return note + "._"
}
