// Package reasoning implements plan proposal, per-agent evaluation and
// quorum-based consensus over proposed plans.
package reasoning

import (
	"errors"
	"fmt"
	"time"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/decomposer"
)

// DefaultQuorum is used when a round is started with quorum 0.
const DefaultQuorum = 0.7

// ApprovalScore is the per-evaluation and mean score needed for approval.
const ApprovalScore = 0.7

// RejectionScore is the mean score below which a plan is rejected.
const RejectionScore = 0.4

// ProposedPlan is a candidate realization of a goal.
type ProposedPlan struct {
	GoalPlanID           string                       `json:"goal_plan_id"`
	Title                string                       `json:"title"`
	ProposingAgent       agents.AgentType             `json:"proposing_agent"`
	SubGoals             []decomposer.SubGoal         `json:"subgoals"`
	AgentSequence        []decomposer.AgentAssignment `json:"agent_sequence"`
	EstimatedTimeMinutes int                          `json:"estimated_time_minutes"`
	BrandAlignment       float64                      `json:"brand_alignment"`
	Feasibility          float64                      `json:"feasibility"`
	Confidence           float64                      `json:"confidence"`
	RiskFactors          []string                     `json:"risk_factors"`
	Dependencies         []decomposer.Dependency      `json:"dependencies"`
}

// Clone returns a deep copy so a round can hold a snapshot of the plan.
func (p ProposedPlan) Clone() ProposedPlan {
	c := p
	c.SubGoals = make([]decomposer.SubGoal, len(p.SubGoals))
	for i, sg := range p.SubGoals {
		sg.RequiredCapabilities = append([]agents.AgentType(nil), sg.RequiredCapabilities...)
		sg.SuccessCriteria = append([]string(nil), sg.SuccessCriteria...)
		c.SubGoals[i] = sg
	}
	c.AgentSequence = make([]decomposer.AgentAssignment, len(p.AgentSequence))
	for i, a := range p.AgentSequence {
		a.Tasks = append([]string(nil), a.Tasks...)
		a.Dependencies = append([]string(nil), a.Dependencies...)
		a.FallbackAgents = append([]agents.AgentType(nil), a.FallbackAgents...)
		c.AgentSequence[i] = a
	}
	c.RiskFactors = append([]string(nil), p.RiskFactors...)
	c.Dependencies = append([]decomposer.Dependency(nil), p.Dependencies...)
	return c
}

// Alignment is the per-axis breakdown of an evaluation.
type Alignment struct {
	Brand       float64 `json:"brand"`
	Feasibility float64 `json:"feasibility"`
	Efficiency  float64 `json:"efficiency"`
	RiskLevel   float64 `json:"risk_level"`
}

// PlanEvaluation is one agent's vote on a plan.
type PlanEvaluation struct {
	EvaluatorAgent string           `json:"evaluator_agent"`
	AgentType      agents.AgentType `json:"agent_type"`
	Score          float64          `json:"score"`
	Reasoning      string           `json:"reasoning"`
	Alignment      Alignment        `json:"alignment"`
	Suggestions    []string         `json:"suggestions,omitempty"`
	Blockers       []string         `json:"blockers,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// ConsensusResult is the terminal state of a round.
type ConsensusResult string

const (
	ResultPending      ConsensusResult = "pending"
	ResultApproved     ConsensusResult = "approved"
	ResultRejected     ConsensusResult = "rejected"
	ResultQuorumNotMet ConsensusResult = "quorum_not_met"
)

// ConsensusRound is one attempt to reach a quorum on a proposed plan.
// A round is immutable once CompletedAt is set.
type ConsensusRound struct {
	GoalPlanID        string            `json:"goal_plan_id"`
	RoundNumber       int               `json:"round_number"`
	ProposedPlan      ProposedPlan      `json:"proposed_plan"`
	ParticipantAgents []string          `json:"participant_agents"`
	Evaluations       []PlanEvaluation  `json:"evaluations"`
	EvaluationErrors  []EvaluationError `json:"evaluation_errors,omitempty"`
	Quorum            float64           `json:"quorum"`
	Result            ConsensusResult   `json:"result"`
	FinalScore        *float64          `json:"final_score,omitempty"`
	WinningPlan       *ProposedPlan     `json:"winning_plan,omitempty"`
	StartedAt         time.Time         `json:"started_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// Participation is the fraction of invited evaluators that responded.
func (r ConsensusRound) Participation() float64 {
	if len(r.ParticipantAgents) == 0 {
		return 0
	}
	return float64(len(r.Evaluations)) / float64(len(r.ParticipantAgents))
}

// AgentRef names one evaluator. ID defaults to the type string.
type AgentRef struct {
	ID   string           `json:"id"`
	Type agents.AgentType `json:"type"`
}

func (a AgentRef) id() string {
	if a.ID != "" {
		return a.ID
	}
	return string(a.Type)
}

// Refs builds one AgentRef per agent type.
func Refs(types ...agents.AgentType) []AgentRef {
	out := make([]AgentRef, len(types))
	for i, t := range types {
		out[i] = AgentRef{ID: string(t), Type: t}
	}
	return out
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrProposerUnavailable is returned when the proposing agent is not available.
var ErrProposerUnavailable = errors.New("proposing agent unavailable")

// ErrRoundImmutable is returned when a completed round would be overwritten.
var ErrRoundImmutable = errors.New("consensus round is immutable once completed")

// ErrRoundNotPending is returned by Supersede when the latest round already
// reached a decision, or when the goal has no round.
var ErrRoundNotPending = errors.New("no pending consensus round to supersede")

// ValidationError reports a malformed plan or round request. It is raised
// before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid plan: %s %s", e.Field, e.Reason)
}

// EvaluationError records one evaluator that failed or timed out. The round
// continues without its vote.
type EvaluationError struct {
	AgentID   string           `json:"agent_id"`
	AgentType agents.AgentType `json:"agent_type"`
	Reason    string           `json:"reason"`
	Err       error            `json:"-"`
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation by %s failed: %s", e.AgentID, e.Reason)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
