package planner

import (
	"strings"

	"reasonmesh/internal/decomposer"
)

// AssessRisk grades factors by count and attaches one mitigation per factor.
func AssessRisk(factors []string) RiskAssessment {
	ra := RiskAssessment{
		Factors:     append([]string(nil), factors...),
		Mitigations: make([]string, 0, len(factors)),
	}
	switch n := len(factors); {
	case n == 0:
		ra.Level = RiskLow
	case n <= 2:
		ra.Level = RiskMedium
	case n <= 4:
		ra.Level = RiskHigh
	default:
		ra.Level = RiskCritical
	}
	for _, f := range factors {
		ra.Mitigations = append(ra.Mitigations, mitigationFor(f))
	}
	return ra
}

func mitigationFor(factor string) string {
	f := strings.ToLower(factor)
	switch {
	case strings.Contains(f, "timeline"):
		return "Add buffer time to the schedule"
	case strings.Contains(f, "quality"):
		return "Insert quality checkpoints between phases"
	case strings.Contains(f, "resource"):
		return "Line up fallback resources for critical agents"
	case strings.Contains(f, "dependency"):
		return "Prepare contingency plans for blocked dependencies"
	default:
		return "Monitor closely"
	}
}

var failureCategories = []struct {
	category string
	keywords []string
}{
	{"timeline", []string{"timeout", "timed out", "deadline", "late", "slow", "time"}},
	{"quality", []string{"quality", "off-brand", "brand", "tone", "rejected", "error rate"}},
	{"resource", []string{"budget", "cost", "resource", "unavailable", "capacity", "quota"}},
	{"dependency", []string{"depend", "blocked", "waiting", "upstream"}},
}

// AnalyzeFailure classifies a free-text failure reason.
func AnalyzeFailure(reason string) FailureAnalysis {
	cause := strings.TrimSpace(reason)
	if cause == "" {
		cause = "unspecified failure"
	}
	l := strings.ToLower(cause)
	for _, fc := range failureCategories {
		for _, kw := range fc.keywords {
			if strings.Contains(l, kw) {
				return FailureAnalysis{Cause: cause, Category: fc.category}
			}
		}
	}
	return FailureAnalysis{Cause: cause, Category: "execution"}
}

// adjustForReplan derives the decomposition for a replanning attempt: the
// estimate grows by multiplier, the cause is appended as a risk, and LOW
// complexity is escalated one level.
func adjustForReplan(g Goal, analysis FailureAnalysis, multiplier float64) decomposer.DecomposedGoal {
	d := decomposition(g)
	d.EstimatedTimeMinutes = scaleMinutes(g.EstimatedTimeMinutes, multiplier)
	d.RiskFactors = append(d.RiskFactors, "Previous attempt failed: "+analysis.Cause)
	if d.Complexity == decomposer.ComplexityLow {
		d.Complexity = d.Complexity.Escalate()
	}
	return d
}

// decomposition rebuilds a DecomposedGoal from a stored goal.
func decomposition(g Goal) decomposer.DecomposedGoal {
	return decomposer.DecomposedGoal{
		Description:          g.Description,
		Category:             g.Category,
		Urgency:              g.Priority,
		SubGoals:             append([]decomposer.SubGoal(nil), g.SubGoals...),
		AgentSequence:        append([]decomposer.AgentAssignment(nil), g.AgentSequence...),
		EstimatedTimeMinutes: g.EstimatedTimeMinutes,
		Complexity:           g.Complexity,
		RiskFactors:          append([]string(nil), g.RiskFactors...),
		Dependencies:         append([]decomposer.Dependency(nil), g.Dependencies...),
		SuccessMetrics:       decomposer.SuccessMetrics(g.Category),
		TargetMetrics:        g.TargetMetrics,
	}
}
