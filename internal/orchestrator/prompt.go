package orchestrator

import (
	"fmt"
	"strings"
)

const planInstructions = `You are the marketing strategist for the business described below. Decide what to produce and adjust in the next cycle.

Your output must be ONLY a single JSON object with this shape. Do not include any other text, prose, or markdown.
{
  "contentPlan": [{"type": "post|reel|story|email|ad", "topic": "...", "platform": "...", "angle": "...", "hook": "...", "cta": "...", "priority": 1}],
  "optimizations": [{"campaignId": "...", "action": "...", "reason": "..."}],
  "experiments": [{"hypothesis": "...", "variants": ["..."], "metric": "..."}],
  "learningsToApply": ["..."],
  "reasoning": "one short paragraph"
}

Rules:
- Never plan more content items than the remaining content quota.
- Prefer angles that past learnings show working; avoid repeating stale ideas.
- Leave a list empty rather than inventing low-value work.`

// BuildPrompt renders the planning prompt for one cycle.
func BuildPrompt(c CycleContext) string {
	var sb strings.Builder
	sb.WriteString(planInstructions)

	if c.UnitName != "" {
		fmt.Fprintf(&sb, "\n\n[Focus]\n%s", c.UnitName)
	}
	writeSection(&sb, "Business Identity", c.Identity)
	writeSection(&sb, "Recent Learnings", c.Learnings)
	writeSection(&sb, "Trends", c.Trends)

	sb.WriteString("\n\n[Current State]\n")
	fmt.Fprintf(&sb, "- jobs in flight: %d\n", c.Pending.InFlightJobs)
	fmt.Fprintf(&sb, "- content drafts awaiting review: %d\n", c.Pending.DraftContent)
	fmt.Fprintf(&sb, "- active campaigns: %d\n", c.Pending.ActiveCampaigns)
	if c.ContentUnlimited {
		sb.WriteString("- remaining content quota this month: unlimited")
	} else {
		fmt.Fprintf(&sb, "- remaining content quota this month: %d", c.ContentRemaining)
	}
	return sb.String()
}

func writeSection(sb *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n\n[%s]", title)
	for _, l := range lines {
		fmt.Fprintf(sb, "\n- %s", l)
	}
}
