package reasoning

import (
	"fmt"
	"math"
	"strings"
	"time"

	"reasonmesh/internal/agents"
)

// Weights distributes an evaluator's attention over the four axes. Each
// row sums to 1.0.
type Weights struct {
	Brand       float64
	Feasibility float64
	Efficiency  float64
	Risk        float64
}

var defaultWeights = Weights{0.25, 0.25, 0.25, 0.25}

var weightTable = map[agents.AgentType]Weights{
	agents.AgentBrandVoice:       {0.5, 0.2, 0.15, 0.15},
	agents.AgentTrendAnalyzer:    {0.1, 0.4, 0.35, 0.15},
	agents.AgentInsightGenerator: {0.15, 0.35, 0.2, 0.3},
	agents.AgentStrategyPlanner:  {0.25, 0.3, 0.25, 0.2},
}

// WeightsFor returns the axis weights used by agentType.
func WeightsFor(agentType agents.AgentType) Weights {
	if w, ok := weightTable[agentType]; ok {
		return w
	}
	return defaultWeights
}

// EfficiencyScore is min(1, 60/estimatedTimeMinutes). Non-positive
// estimates score 1.
func EfficiencyScore(estimatedTimeMinutes int) float64 {
	if estimatedTimeMinutes <= 0 {
		return 1
	}
	return math.Min(1, 60/float64(estimatedTimeMinutes))
}

// RiskScore is max(0, 1 − 0.1·riskCount).
func RiskScore(riskCount int) float64 {
	return math.Max(0, 1-0.1*float64(riskCount))
}

// Blockers returns the risk factors mentioning "blocker" or "critical".
func Blockers(risks []string) []string {
	var out []string
	for _, r := range risks {
		l := strings.ToLower(r)
		if strings.Contains(l, "blocker") || strings.Contains(l, "critical") {
			out = append(out, r)
		}
	}
	return out
}

// Assess scores plan from the point of view of evaluator. It is the default
// evaluator and has no side effects.
func Assess(plan ProposedPlan, evaluator AgentRef, now time.Time) PlanEvaluation {
	w := WeightsFor(evaluator.Type)
	a := Alignment{
		Brand:       plan.BrandAlignment,
		Feasibility: plan.Feasibility,
		Efficiency:  EfficiencyScore(plan.EstimatedTimeMinutes),
		RiskLevel:   RiskScore(len(plan.RiskFactors)),
	}
	score := w.Brand*a.Brand + w.Feasibility*a.Feasibility + w.Efficiency*a.Efficiency + w.Risk*a.RiskLevel

	return PlanEvaluation{
		EvaluatorAgent: evaluator.id(),
		AgentType:      evaluator.Type,
		Score:          clamp01(score),
		Reasoning: fmt.Sprintf("brand %.2f×%.2f, feasibility %.2f×%.2f, efficiency %.2f×%.2f, risk %.2f×%.2f",
			a.Brand, w.Brand, a.Feasibility, w.Feasibility, a.Efficiency, w.Efficiency, a.RiskLevel, w.Risk),
		Alignment:   a,
		Suggestions: suggestions(a),
		Blockers:    Blockers(plan.RiskFactors),
		Timestamp:   now,
	}
}

func suggestions(a Alignment) []string {
	var out []string
	if a.Brand < 0.5 {
		out = append(out, "Route deliverables through brand voice review before publishing")
	}
	if a.Feasibility < 0.5 {
		out = append(out, "Recruit missing agents or reduce scope to improve feasibility")
	}
	if a.Efficiency < 0.5 {
		out = append(out, "Run independent phases in parallel to shorten the timeline")
	}
	if a.RiskLevel < 0.5 {
		out = append(out, "Resolve listed risk factors before execution")
	}
	return out
}

// scoreEpsilon absorbs rounding in averaged scores so a mean of identical
// threshold votes lands on the threshold.
const scoreEpsilon = 1e-9

// Resolve decides a round from the received evaluations. It is a pure
// function of its inputs. The rules are applied in order:
//
//  1. received/participants < quorum: quorum not met
//  2. share of scores ≥ 0.7 is ≥ quorum and mean ≥ 0.7: approved
//  3. mean < 0.4: rejected
//  4. otherwise pending
func Resolve(evaluations []PlanEvaluation, participants int, quorum float64) (ConsensusResult, float64) {
	if len(evaluations) == 0 || participants <= 0 {
		return ResultQuorumNotMet, 0
	}

	var sum float64
	approving := 0
	for _, e := range evaluations {
		sum += e.Score
		if e.Score >= ApprovalScore-scoreEpsilon {
			approving++
		}
	}
	received := float64(len(evaluations))
	final := sum / received

	switch {
	case received/float64(participants) < quorum-scoreEpsilon:
		return ResultQuorumNotMet, final
	case float64(approving)/received >= quorum-scoreEpsilon && final >= ApprovalScore-scoreEpsilon:
		return ResultApproved, final
	case final < RejectionScore-scoreEpsilon:
		return ResultRejected, final
	default:
		return ResultPending, final
	}
}

// Validate checks the structural requirements of a plan.
func Validate(plan ProposedPlan) error {
	switch {
	case strings.TrimSpace(plan.Title) == "":
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	case len(plan.SubGoals) == 0:
		return &ValidationError{Field: "subgoals", Reason: "must contain at least one subgoal"}
	case len(plan.AgentSequence) == 0:
		return &ValidationError{Field: "agent_sequence", Reason: "must contain at least one assignment"}
	}
	scores := []struct {
		field string
		v     float64
	}{
		{"brand_alignment", plan.BrandAlignment},
		{"feasibility", plan.Feasibility},
		{"confidence", plan.Confidence},
	}
	for _, s := range scores {
		if s.v < 0 || s.v > 1 || math.IsNaN(s.v) {
			return &ValidationError{Field: s.field, Reason: fmt.Sprintf("must be in [0,1], got %v", s.v)}
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
