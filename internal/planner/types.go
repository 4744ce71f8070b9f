// Package planner orchestrates goal planning: decomposition, agent
// recruitment, plan proposal and consensus, replanning and monitoring.
package planner

import (
	"context"
	"errors"
	"time"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/decomposer"
	"reasonmesh/internal/memory"
	"reasonmesh/internal/reasoning"
)

// GoalStatus is the planning and execution state of a goal.
type GoalStatus string

const (
	StatusPlanning   GoalStatus = "planning"
	StatusReplanning GoalStatus = "replanning"
	StatusApproved   GoalStatus = "approved"
	StatusExecuting  GoalStatus = "executing"
	StatusCompleted  GoalStatus = "completed"
	StatusFailed     GoalStatus = "failed"
)

// Goal is the persisted record of a decomposed goal plus its status. It
// owns its subgoals and assignments.
type Goal struct {
	ID                   string                       `json:"id"`
	Title                string                       `json:"title"`
	Description          string                       `json:"description"`
	Priority             decomposer.Priority          `json:"priority"`
	Status               GoalStatus                   `json:"status"`
	Category             decomposer.GoalCategory      `json:"category"`
	TargetMetrics        map[string]float64           `json:"target_metrics,omitempty"`
	SubGoals             []decomposer.SubGoal         `json:"subgoals"`
	AgentSequence        []decomposer.AgentAssignment `json:"agent_sequence"`
	Dependencies         []decomposer.Dependency      `json:"dependencies,omitempty"`
	RiskFactors          []string                     `json:"risk_factors,omitempty"`
	Complexity           decomposer.Complexity        `json:"complexity"`
	Confidence           float64                      `json:"confidence"`
	Feasibility          float64                      `json:"feasibility"`
	BrandAlignment       float64                      `json:"brand_alignment"`
	EstimatedTimeMinutes int                          `json:"estimated_time_minutes"`
	Metadata             map[string]any               `json:"metadata,omitempty"`
	PlanningDuration     time.Duration                `json:"planning_duration"`
	CreatedAt            time.Time                    `json:"created_at"`
	UpdatedAt            time.Time                    `json:"updated_at"`
}

// Terminal reports whether no further planning happens for the goal.
func (g Goal) Terminal() bool {
	return g.Status == StatusCompleted
}

// GoalRequest is the input to Plan.
type GoalRequest struct {
	Title         string
	Description   string
	Priority      decomposer.Priority // empty = detected urgency
	TargetMetrics map[string]float64
	Quorum        float64 // 0 = configured default
	Metadata      map[string]any
}

// ExecutionAttempt is one recorded execution of work for a goal.
type ExecutionAttempt struct {
	ID          string                 `json:"id"`
	GoalPlanID  string                 `json:"goal_plan_id"`
	AgentType   agents.AgentType       `json:"agent_type"`
	Status      agents.ExecutionStatus `json:"status"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	TokensUsed  int                    `json:"tokens_used,omitempty"`
	Cost        float64                `json:"cost,omitempty"`
}

// Failed reports whether the attempt counts as a failure for monitoring.
func (a ExecutionAttempt) Failed() bool {
	switch a.Status {
	case agents.ExecFailed, agents.ExecTimeout:
		return true
	}
	return false
}

// RiskLevel grades a plan's risk factor count.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskAssessment pairs each risk factor with a mitigation.
type RiskAssessment struct {
	Level       RiskLevel `json:"level"`
	Factors     []string  `json:"factors"`
	Mitigations []string  `json:"mitigations"`
}

// FailureAnalysis is the classified cause behind a replan.
type FailureAnalysis struct {
	Cause    string `json:"cause"`
	Category string `json:"category"`
}

// PlanningResult is the outcome of Plan or Replan. The latest result per
// goal is persisted.
type PlanningResult struct {
	Goal            Goal                      `json:"goal"`
	Decomposition   decomposer.DecomposedGoal `json:"decomposition"`
	Round           *reasoning.ConsensusRound `json:"round,omitempty"`
	RecruitedAgents []agents.AgentType        `json:"recruited_agents"`
	MissingAgents   []agents.AgentType        `json:"missing_agents,omitempty"`
	Risk            RiskAssessment            `json:"risk"`
	Failure         *FailureAnalysis          `json:"failure,omitempty"`
	ReplanDiff      string                    `json:"replan_diff,omitempty"`
}

// Approved reports whether the consensus round approved the plan.
func (r PlanningResult) Approved() bool {
	return r.Round != nil && r.Round.Result == reasoning.ResultApproved
}

// PlanningInsights aggregates historical planning outcomes.
type PlanningInsights struct {
	TotalGoals          int                `json:"total_goals"`
	Completed           int                `json:"completed"`
	Failed              int                `json:"failed"`
	SuccessRate         float64            `json:"success_rate"`
	MeanPlanningLatency time.Duration      `json:"mean_planning_latency"`
	BestPractices       []string           `json:"best_practices"`
	FailureReasons      []string           `json:"failure_reasons"`
	Performance         map[string]float64 `json:"performance,omitempty"`
	AveragePerformance  *float64           `json:"average_performance,omitempty"`
	MemoryInsights      []memory.Insight   `json:"memory_insights,omitempty"`
}

// GoalStore persists goals, their latest planning result and execution
// attempts.
type GoalStore interface {
	CreateGoal(ctx context.Context, g Goal) error
	GetGoal(ctx context.Context, id string) (*Goal, error)
	UpdateGoal(ctx context.Context, g Goal) error
	// ListGoals returns goals in creation order, optionally filtered by status.
	ListGoals(ctx context.Context, statuses ...GoalStatus) ([]Goal, error)

	SaveResult(ctx context.Context, r PlanningResult) error
	GetResult(ctx context.Context, goalID string) (*PlanningResult, error)

	SaveAttempt(ctx context.Context, a ExecutionAttempt) error
	// RecentAttempts returns up to n attempts for a goal, newest first.
	RecentAttempts(ctx context.Context, goalID string, n int) ([]ExecutionAttempt, error)
}

var (
	// ErrGoalNotFound is returned by stores for unknown goal ids.
	ErrGoalNotFound = errors.New("goal not found")
	// ErrEmptyGoal is returned when a request has no description.
	ErrEmptyGoal = errors.New("goal description is empty")
	// ErrInvalidTransition is returned for disallowed status changes.
	ErrInvalidTransition = errors.New("invalid goal status transition")
	// ErrGoalCompleted is returned when replanning a completed goal.
	ErrGoalCompleted = errors.New("goal already completed")
)

var transitions = map[GoalStatus][]GoalStatus{
	StatusPlanning:   {StatusApproved, StatusFailed},
	StatusReplanning: {StatusApproved, StatusFailed},
	StatusApproved:   {StatusExecuting, StatusCompleted, StatusFailed, StatusReplanning},
	StatusExecuting:  {StatusCompleted, StatusFailed, StatusReplanning},
	StatusFailed:     {StatusReplanning},
}

// CanTransition reports whether a goal may move from one status to another.
func CanTransition(from, to GoalStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
