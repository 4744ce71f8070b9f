// Package router turns free-text commands into agent executions: it parses
// an intent, enforces permissions and budget, then runs either a
// precomputed multi-step workflow or a single routed agent.
package router

import (
	"errors"
	"fmt"
	"time"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/intent"
)

// CommandStatus is the lifecycle state of a command.
type CommandStatus string

const (
	StatusPending          CommandStatus = "pending"
	StatusRunning          CommandStatus = "running"
	StatusCompleted        CommandStatus = "completed"
	StatusFailed           CommandStatus = "failed"
	StatusCancelled        CommandStatus = "cancelled"
	StatusTimeout          CommandStatus = "timeout"
	StatusRequiresApproval CommandStatus = "requires_approval"
)

// Terminal reports whether no further transitions happen.
func (s CommandStatus) Terminal() bool {
	return s != StatusPending && s != StatusRunning
}

// Permissions a caller may hold.
const (
	PermExecuteCommands = "execute_commands"
	PermManageCampaigns = "manage_campaigns"
	PermAccessReports   = "access_reports"
)

// Constraints bound what a command may spend. Zero means unconstrained.
type Constraints struct {
	MaxBudgetImpact   float64 `json:"max_budget_impact"`
	ApprovalThreshold float64 `json:"approval_threshold"`
}

// CommandContext describes the caller.
type CommandContext struct {
	UserID      string   `json:"user_id"`
	SessionID   string   `json:"session_id,omitempty"`
	Permissions []string `json:"permissions"`
	// AllowedAgents restricts which agent types may service the command.
	// Empty allows all.
	AllowedAgents []agents.AgentType `json:"allowed_agents,omitempty"`
	Constraints   Constraints        `json:"constraints"`
	// AutoFix lets a failed single-agent command fall through to the
	// rule's fallback agents. It never bypasses permission or budget gates.
	AutoFix bool `json:"auto_fix,omitempty"`
}

func (c CommandContext) has(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

func (c CommandContext) allows(t agents.AgentType) bool {
	if len(c.AllowedAgents) == 0 {
		return true
	}
	for _, a := range c.AllowedAgents {
		if a == t {
			return true
		}
	}
	return false
}

// StepResult records one workflow step. Attempts counts invocations
// including retries.
type StepResult struct {
	StepID      string                 `json:"step_id"`
	AgentType   agents.AgentType       `json:"agent_type"`
	Status      agents.ExecutionStatus `json:"status"`
	Attempts    int                    `json:"attempts"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
}

// CommandResult is the archived record of one processed command.
type CommandResult struct {
	ID                    string                   `json:"id"`
	Command               string                   `json:"command"`
	Intent                intent.Intent            `json:"intent"`
	Status                CommandStatus            `json:"status"`
	Workflow              string                   `json:"workflow,omitempty"`
	StartedAt             time.Time                `json:"started_at"`
	CompletedAt           time.Time                `json:"completed_at"`
	Duration              time.Duration            `json:"duration"`
	AgentResults          []agents.ExecutionResult `json:"agent_results,omitempty"`
	Steps                 []StepResult             `json:"steps,omitempty"`
	Reason                string                   `json:"reason,omitempty"`
	EstimatedBudgetImpact float64                  `json:"estimated_budget_impact"`
}

func (r *CommandResult) clone() CommandResult {
	out := *r
	out.AgentResults = append([]agents.ExecutionResult(nil), r.AgentResults...)
	out.Steps = append([]StepResult(nil), r.Steps...)
	return out
}

// RoutingRule maps an intent to the agent that services it. Rules are
// tried in descending priority; the first whose Condition holds wins.
type RoutingRule struct {
	Name           string
	Condition      func(intent.Intent) bool
	AgentType      agents.AgentType
	Priority       int
	FallbackAgents []agents.AgentType
}

// RetryPolicy governs re-invocation of a failed workflow step. The delay
// before attempt n+1 is InitialDelay × BackoffMultiplier^(n−1).
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	InitialDelay      time.Duration `json:"initial_delay"`
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.BackoffMultiplier
	}
	return time.Duration(d)
}

// WorkflowStep is one unit of a workflow. Dependencies name other step ids.
type WorkflowStep struct {
	ID           string
	AgentType    agents.AgentType
	Task         string
	Dependencies []string
	Retry        *RetryPolicy // nil = router default
}

// Workflow is a precomputed multi-step plan for an intent.
type Workflow struct {
	Name  string
	Steps []WorkflowStep
}

var (
	// ErrCommandNotFound is returned for unknown command ids.
	ErrCommandNotFound = errors.New("command not found")
	// ErrNotRunning is returned when cancelling a command that is not running.
	ErrNotRunning = errors.New("command is not running")
	// ErrInvalidWorkflow is returned for workflows with unknown or cyclic
	// dependencies.
	ErrInvalidWorkflow = errors.New("invalid workflow")
)

// WorkflowStepError aborts a workflow. The failing step is recorded in the
// command's Steps before it propagates.
type WorkflowStepError struct {
	Workflow string
	StepID   string
	Attempts int
	Err      error
}

func (e *WorkflowStepError) Error() string {
	return fmt.Sprintf("workflow %s: step %s failed after %d attempt(s): %v", e.Workflow, e.StepID, e.Attempts, e.Err)
}

func (e *WorkflowStepError) Unwrap() error { return e.Err }
