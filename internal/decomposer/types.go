// Package decomposer turns a free-text goal description into subgoals, a
// phased agent assignment sequence, and a complexity and risk estimate.
package decomposer

import "reasonmesh/internal/agents"

// GoalCategory classifies what a goal is trying to move.
type GoalCategory string

const (
	CategoryAwareness  GoalCategory = "awareness"
	CategoryEngagement GoalCategory = "engagement"
	CategoryConversion GoalCategory = "conversion"
	CategoryRetention  GoalCategory = "retention"
	CategoryGrowth     GoalCategory = "growth"
)

// Priority is shared by goal urgency and subgoal priority.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Complexity is a coarse size class for a decomposed goal.
type Complexity string

const (
	ComplexityLow      Complexity = "LOW"
	ComplexityMedium   Complexity = "MEDIUM"
	ComplexityHigh     Complexity = "HIGH"
	ComplexityCritical Complexity = "CRITICAL"
)

// Escalate returns the next complexity level, saturating at CRITICAL.
func (c Complexity) Escalate() Complexity {
	switch c {
	case ComplexityLow:
		return ComplexityMedium
	case ComplexityMedium:
		return ComplexityHigh
	default:
		return ComplexityCritical
	}
}

// SubGoal is one step of the research→strategy→execution→monitoring skeleton.
type SubGoal struct {
	ID                   string             `json:"id"`
	Title                string             `json:"title"`
	Description          string             `json:"description"`
	Priority             Priority           `json:"priority"`
	EstimatedTimeMinutes int                `json:"estimated_time_minutes"`
	RequiredCapabilities []agents.AgentType `json:"required_capabilities"`
	SuccessCriteria      []string           `json:"success_criteria"`
}

// AgentAssignment schedules one agent type within a phase. Dependencies
// reference other assignment ids and must form a DAG.
type AgentAssignment struct {
	ID                       string             `json:"id"`
	AgentType                agents.AgentType   `json:"agent_type"`
	Phase                    int                `json:"phase"`
	Tasks                    []string           `json:"tasks"`
	Dependencies             []string           `json:"dependencies,omitempty"`
	EstimatedDurationMinutes int                `json:"estimated_duration_minutes"`
	FallbackAgents           []agents.AgentType `json:"fallback_agents,omitempty"`
	RequiresHumanOversight   bool               `json:"requires_human_oversight,omitempty"`
}

// Dependency is one edge of the assignment graph: From waits on To.
type Dependency struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DecomposedGoal is the output of Decompose.
type DecomposedGoal struct {
	Description          string             `json:"description"`
	Category             GoalCategory       `json:"category"`
	Urgency              Priority           `json:"urgency"`
	SubGoals             []SubGoal          `json:"subgoals"`
	AgentSequence        []AgentAssignment  `json:"agent_sequence"`
	EstimatedTimeMinutes int                `json:"estimated_time_minutes"`
	Complexity           Complexity         `json:"complexity"`
	RiskFactors          []string           `json:"risk_factors"`
	Dependencies         []Dependency       `json:"dependencies"`
	SuccessMetrics       []string           `json:"success_metrics"`
	TargetMetrics        map[string]float64 `json:"target_metrics,omitempty"`

	// Filled only by DecomposeWithHistory.
	PriorPatterns []string `json:"prior_patterns,omitempty"`
	KnownPitfalls []string `json:"known_pitfalls,omitempty"`
}

// RequiredAgentTypes returns the distinct agent types in sequence order.
func (d DecomposedGoal) RequiredAgentTypes() []agents.AgentType {
	return RequiredAgentTypes(d.AgentSequence)
}

// RequiredAgentTypes returns the distinct agent types of assignments in order.
func RequiredAgentTypes(assignments []AgentAssignment) []agents.AgentType {
	seen := make(map[agents.AgentType]bool)
	var out []agents.AgentType
	for _, a := range assignments {
		if !seen[a.AgentType] {
			seen[a.AgentType] = true
			out = append(out, a.AgentType)
		}
	}
	return out
}
