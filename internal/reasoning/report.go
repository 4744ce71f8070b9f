package reasoning

import (
	"fmt"
	"strings"
)

// Report renders a round as markdown for display.
func Report(r ConsensusRound) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Consensus round %d: %s\n\n", r.RoundNumber, r.ProposedPlan.Title))
	sb.WriteString(fmt.Sprintf("**Goal:** %s\n", r.GoalPlanID))
	sb.WriteString(fmt.Sprintf("**Result:** %s\n", strings.ToUpper(string(r.Result))))
	if r.FinalScore != nil {
		sb.WriteString(fmt.Sprintf("**Final score:** %.2f\n", *r.FinalScore))
	}
	sb.WriteString(fmt.Sprintf("**Participation:** %d/%d (quorum %.0f%%)\n\n",
		len(r.Evaluations), len(r.ParticipantAgents), r.Quorum*100))

	if len(r.Evaluations) > 0 {
		sb.WriteString("## Evaluations\n\n")
		sb.WriteString("| Agent | Score | Brand | Feasibility | Efficiency | Risk |\n")
		sb.WriteString("|---|---|---|---|---|---|\n")
		for _, e := range r.Evaluations {
			sb.WriteString(fmt.Sprintf("| %s | %.2f | %.2f | %.2f | %.2f | %.2f |\n",
				e.EvaluatorAgent, e.Score, e.Alignment.Brand, e.Alignment.Feasibility,
				e.Alignment.Efficiency, e.Alignment.RiskLevel))
		}
		sb.WriteString("\n")
	}

	if len(r.EvaluationErrors) > 0 {
		sb.WriteString("## Missing votes\n")
		for _, e := range r.EvaluationErrors {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", e.AgentID, e.Reason))
		}
		sb.WriteString("\n")
	}

	writeUnique := func(title string, pick func(PlanEvaluation) []string) {
		seen := make(map[string]bool)
		var items []string
		for _, e := range r.Evaluations {
			for _, s := range pick(e) {
				if !seen[s] {
					seen[s] = true
					items = append(items, s)
				}
			}
		}
		if len(items) == 0 {
			return
		}
		sb.WriteString("## " + title + "\n")
		for _, s := range items {
			sb.WriteString(fmt.Sprintf("- %s\n", s))
		}
		sb.WriteString("\n")
	}
	writeUnique("Blockers", func(e PlanEvaluation) []string { return e.Blockers })
	writeUnique("Suggestions", func(e PlanEvaluation) []string { return e.Suggestions })

	if len(r.ProposedPlan.RiskFactors) > 0 {
		sb.WriteString("## Risk factors\n")
		for _, rf := range r.ProposedPlan.RiskFactors {
			sb.WriteString(fmt.Sprintf("- %s\n", rf))
		}
	}
	return sb.String()
}
