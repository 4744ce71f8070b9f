package planner

import (
	"testing"

	"reasonmesh/internal/decomposer"
)

func TestAssessRiskLevels(t *testing.T) {
	cases := []struct {
		n    int
		want RiskLevel
	}{
		{0, RiskLow}, {1, RiskMedium}, {2, RiskMedium}, {3, RiskHigh}, {4, RiskHigh}, {5, RiskCritical},
	}
	for _, c := range cases {
		factors := make([]string, c.n)
		for i := range factors {
			factors[i] = "something"
		}
		got := AssessRisk(factors)
		if got.Level != c.want {
			t.Errorf("%d factors: expected %s, got %s", c.n, c.want, got.Level)
		}
		if len(got.Mitigations) != c.n {
			t.Errorf("%d factors: expected %d mitigations, got %d", c.n, c.n, len(got.Mitigations))
		}
	}
}

func TestMitigations(t *testing.T) {
	ra := AssessRisk([]string{
		"Critical urgency compresses the timeline",
		"Quality checks may be skipped",
		"Human oversight required; resource availability may delay execution",
		"Upstream dependency on legal",
		"Weather",
	})
	want := []string{
		"Add buffer time to the schedule",
		"Insert quality checkpoints between phases",
		"Line up fallback resources for critical agents",
		"Prepare contingency plans for blocked dependencies",
		"Monitor closely",
	}
	for i, w := range want {
		if ra.Mitigations[i] != w {
			t.Errorf("mitigation %d: expected %q, got %q", i, w, ra.Mitigations[i])
		}
	}
}

func TestAnalyzeFailure(t *testing.T) {
	cases := map[string]string{
		"request timed out":              "timeline",
		"copy was off-brand":             "quality",
		"ad budget exhausted":            "resource",
		"blocked on legal review":        "dependency",
		"agent crashed with exit code 2": "execution",
	}
	for reason, want := range cases {
		if got := AnalyzeFailure(reason); got.Category != want {
			t.Errorf("%q: expected %s, got %s", reason, want, got.Category)
		}
	}
	if got := AnalyzeFailure("  "); got.Cause != "unspecified failure" {
		t.Errorf("expected unspecified failure, got %q", got.Cause)
	}
}

func TestAdjustForReplan(t *testing.T) {
	g := Goal{
		EstimatedTimeMinutes: 100,
		Complexity:           decomposer.ComplexityLow,
		RiskFactors:          []string{"existing"},
		SubGoals:             []decomposer.SubGoal{{ID: "sg_research"}},
	}
	d := adjustForReplan(g, FailureAnalysis{Cause: "deadline missed"}, 1.2)

	if d.EstimatedTimeMinutes != 120 {
		t.Errorf("expected 120 minutes, got %d", d.EstimatedTimeMinutes)
	}
	if d.Complexity != decomposer.ComplexityMedium {
		t.Errorf("expected MEDIUM complexity, got %s", d.Complexity)
	}
	if len(d.RiskFactors) != 2 || d.RiskFactors[1] != "Previous attempt failed: deadline missed" {
		t.Errorf("unexpected risk factors %v", d.RiskFactors)
	}
	if len(g.RiskFactors) != 1 {
		t.Errorf("goal risk factors were mutated: %v", g.RiskFactors)
	}

	g.Complexity = decomposer.ComplexityHigh
	if d := adjustForReplan(g, FailureAnalysis{Cause: "x"}, 1.2); d.Complexity != decomposer.ComplexityHigh {
		t.Errorf("expected HIGH to stay HIGH, got %s", d.Complexity)
	}
}

func TestScaleMinutesRounds(t *testing.T) {
	if got := scaleMinutes(390, 1.2); got != 468 {
		t.Errorf("expected 468, got %d", got)
	}
	if got := scaleMinutes(468, 1.2); got != 562 {
		t.Errorf("expected 562, got %d", got)
	}
}

func TestGoalTitleTruncates(t *testing.T) {
	long := "Increase newsletter signups across every region we operate in before the holidays"
	got := goalTitle(GoalRequest{Description: long})
	if len([]rune(got)) != 63 {
		t.Errorf("expected 60 runes plus ellipsis, got %q", got)
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(StatusFailed, StatusReplanning) {
		t.Error("failed goals should be replannable")
	}
	if CanTransition(StatusCompleted, StatusReplanning) {
		t.Error("completed is terminal")
	}
}
