// Package agents defines the capability and availability contracts that
// every concrete agent implements, plus a registry that wires them together.
package agents

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AgentType identifies a capability class.
type AgentType string

const (
	AgentContentCreator     AgentType = "content_creator"
	AgentSEOOptimizer       AgentType = "seo_optimizer"
	AgentTrendAnalyzer      AgentType = "trend_analyzer"
	AgentInsightGenerator   AgentType = "insight_generator"
	AgentBrandVoice         AgentType = "brand_voice"
	AgentCampaignManager    AgentType = "campaign_manager"
	AgentSocialMedia        AgentType = "social_media"
	AgentEmailMarketing     AgentType = "email_marketing"
	AgentAnalytics          AgentType = "analytics"
	AgentStrategyPlanner    AgentType = "strategy_planner"
	AgentPerformanceMonitor AgentType = "performance_monitor"
	AgentHumanReview        AgentType = "human_review"
)

// AllTypes lists every known agent type in a stable order.
var AllTypes = []AgentType{
	AgentContentCreator, AgentSEOOptimizer, AgentTrendAnalyzer, AgentInsightGenerator,
	AgentBrandVoice, AgentCampaignManager, AgentSocialMedia, AgentEmailMarketing,
	AgentAnalytics, AgentStrategyPlanner, AgentPerformanceMonitor, AgentHumanReview,
}

// Valid reports whether t is a known agent type.
func (t AgentType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Task is the unit of work handed to a capability.
type Task struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Input       map[string]any `json:"input,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// Capability is implemented by any concrete agent. Implementations may be
// slow and may fail; callers bound them with ctx.
type Capability interface {
	Execute(ctx context.Context, task Task) (Result, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, task Task) (Result, error)

// Execute calls f.
func (f CapabilityFunc) Execute(ctx context.Context, task Task) (Result, error) {
	return f(ctx, task)
}

// ExecutionStatus is the lifecycle state of one agent invocation.
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
	ExecTimeout   ExecutionStatus = "timeout"
)

// ExecutionResult is the per-invocation execution record.
type ExecutionResult struct {
	AgentType   AgentType       `json:"agent_type"`
	AgentID     string          `json:"agent_id"`
	TaskID      string          `json:"task_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Duration    time.Duration   `json:"duration"`
	Result      Result          `json:"result"`
	Error       string          `json:"error,omitempty"`
	TokensUsed  int             `json:"tokens_used,omitempty"`
	Cost        float64         `json:"cost,omitempty"`
}

// Succeeded reports whether the invocation completed with a successful result.
func (r ExecutionResult) Succeeded() bool {
	return r.Status == ExecCompleted && r.Result.Success
}

// AvailabilityStatus is what an availability source reports for one agent.
type AvailabilityStatus struct {
	IsAvailable       bool       `json:"is_available"`
	EstimatedFreeTime *time.Time `json:"estimated_free_time,omitempty"`
}

// Availability answers whether an agent can be recruited right now.
type Availability interface {
	GetAgentAvailability(ctx context.Context, agentID string) (AvailabilityStatus, error)
}

// ErrUnknownAgent is returned for agent ids with no registered capability.
var ErrUnknownAgent = errors.New("unknown agent")

// AvailabilityError records that an agent could not be recruited. It is
// recoverable: callers degrade rather than abort.
type AvailabilityError struct {
	AgentType AgentType
	Err       error
}

func (e *AvailabilityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("agent %s unavailable", e.AgentType)
	}
	return fmt.Sprintf("agent %s unavailable: %v", e.AgentType, e.Err)
}

func (e *AvailabilityError) Unwrap() error { return e.Err }
