package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/memory"
	"reasonmesh/internal/planner"
	"reasonmesh/internal/reasoning"
	"reasonmesh/internal/router"
)

var (
	accent  = lipgloss.Color("#8BC34A")
	primary = lipgloss.Color("#2196F3")
	warning = lipgloss.Color("#FFC107")
	danger  = lipgloss.Color("#e53935")
	muted   = lipgloss.Color("#6b7280")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primary)
	labelStyle   = lipgloss.NewStyle().Foreground(muted).Width(18)
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(accent)
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(warning)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(danger)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1)
)

// renderMarkdown renders md for the terminal, falling back to the raw text.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func field(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}

func statusBadge(status string) string {
	switch status {
	case "approved", "completed", "success":
		return okStyle.Render(status)
	case "failed", "failure", "timeout":
		return errorStyle.Render(status)
	default:
		return warnStyle.Render(status)
	}
}

func printPlanningResult(res *planner.PlanningResult) {
	g := res.Goal
	lines := []string{
		titleStyle.Render(g.Title),
		field("Goal", g.ID),
		field("Status", statusBadge(string(g.Status))),
		field("Category", g.Category),
		field("Priority", g.Priority),
		field("Complexity", g.Complexity),
		field("Estimate", fmt.Sprintf("%d min", g.EstimatedTimeMinutes)),
		field("Feasibility", fmt.Sprintf("%.2f", g.Feasibility)),
		field("Brand alignment", fmt.Sprintf("%.2f", g.BrandAlignment)),
		field("Risk", res.Risk.Level),
		field("Agents", joinAgents(res.RecruitedAgents)),
	}
	if len(res.MissingAgents) > 0 {
		lines = append(lines, field("Unavailable", warnStyle.Render(joinAgents(res.MissingAgents))))
	}
	fmt.Println(sectionStyle.Render(strings.Join(lines, "\n")))

	if res.Failure != nil {
		fmt.Println(field("Failure", fmt.Sprintf("%s (%s)", res.Failure.Category, res.Failure.Cause)))
	}
	if res.ReplanDiff != "" {
		fmt.Println(mutedStyle.Render(res.ReplanDiff))
	}
	if res.Round != nil {
		fmt.Print(renderMarkdown(reasoning.Report(*res.Round)))
	}
}

func printCommandResult(res *router.CommandResult) {
	lines := []string{
		titleStyle.Render(res.Command),
		field("Command", res.ID),
		field("Intent", fmt.Sprintf("%s (%.2f)", res.Intent.Key(), res.Intent.Confidence)),
		field("Status", statusBadge(string(res.Status))),
		field("Budget impact", fmt.Sprintf("$%.2f", res.EstimatedBudgetImpact)),
		field("Duration", res.Duration),
	}
	if res.Workflow != "" {
		lines = append(lines, field("Workflow", res.Workflow))
	}
	if res.Reason != "" {
		lines = append(lines, field("Reason", res.Reason))
	}
	fmt.Println(sectionStyle.Render(strings.Join(lines, "\n")))

	for _, s := range res.Steps {
		line := fmt.Sprintf("  %-12s %-20s %s x%d", s.StepID, s.AgentType, statusBadge(string(s.Status)), s.Attempts)
		if s.Error != "" {
			line += " " + mutedStyle.Render(s.Error)
		}
		fmt.Println(line)
	}
	for _, r := range res.AgentResults {
		fmt.Println(mutedStyle.Render(fmt.Sprintf("  %s: %s in %v, %d tokens, $%.4f",
			r.AgentType, r.Status, r.Duration, r.TokensUsed, r.Cost)))
	}
}

func printInsights(insights []memory.Insight) {
	if len(insights) == 0 {
		fmt.Println(mutedStyle.Render("no insights yet"))
		return
	}
	var sb strings.Builder
	sb.WriteString("# Memory insights\n\n")
	for _, in := range insights {
		mark := ""
		if in.Actionable {
			mark = " (actionable)"
		}
		sb.WriteString(fmt.Sprintf("## %s%s\n", in.Title, mark))
		sb.WriteString(fmt.Sprintf("*%s, confidence %.2f*\n\n%s\n\n", in.Type, in.Confidence, in.Description))
		for _, e := range in.Evidence {
			sb.WriteString("- " + e + "\n")
		}
		sb.WriteString("\n")
	}
	fmt.Print(renderMarkdown(sb.String()))
}

func joinAgents(types []agents.AgentType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
