package execution

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

// dependencyInput is what a dependent step sees of an earlier step.
type dependencyInput struct {
	step int
	role string
	text string
	ok   bool
}

// Unavailable formats the fallback value passed for a failed dependency.
func Unavailable(reason string) string {
	return "[unavailable: " + reason + "]"
}

// dependencyText returns the dependency's output or its fallback value.
func dependencyText(r models.ModelResponse) string {
	if r.OK() {
		return r.RawText
	}
	reason := r.Error
	switch {
	case r.TimedOut:
		reason = "timed out"
	case reason == "":
		reason = "empty response"
	}
	return Unavailable(reason)
}

// buildPrompt assembles the prompt for one step.
func buildPrompt(step models.PlanStep, query string, toolResults []models.ToolResult, deps []dependencyInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Role: %s\n", step.Role)
	fmt.Fprintf(&sb, "Task: %s\n\n", step.Goal)
	sb.WriteString("Question:\n")
	sb.WriteString(strings.TrimSpace(query))
	sb.WriteString("\n")

	if len(toolResults) > 0 {
		sb.WriteString("\nTool results:\n")
		for _, r := range toolResults {
			if r.OK() {
				fmt.Fprintf(&sb, "[%s %s]\n%s\n", r.ToolName, r.CallID, r.Payload)
				continue
			}
			fmt.Fprintf(&sb, "[%s %s] unavailable (%s). Answer without it and say so if it matters.\n", r.ToolName, r.CallID, r.Status)
		}
	}

	for _, d := range deps {
		fmt.Fprintf(&sb, "\nOutput of %s (step %d):\n%s\n", d.role, d.step, d.text)
	}
	return sb.String()
}
