package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"reasonmesh/internal/clock"
	"reasonmesh/internal/logging"
)

// Registry maps agent types to capabilities and tracks their availability.
// An agent is available when it is registered and has not been marked busy.
// The agent id of a registered capability is its type string.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[AgentType]Capability
	busy         map[AgentType]*time.Time
	clock        clock.Clock
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[AgentType]Capability),
		busy:         make(map[AgentType]*time.Time),
		clock:        clock.Real(),
	}
}

// WithClock sets the clock used to time invocations.
func (r *Registry) WithClock(c clock.Clock) *Registry {
	r.clock = c
	return r
}

// Register installs cap for agentType, replacing any previous capability.
func (r *Registry) Register(agentType AgentType, cap Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[agentType] = cap
	logging.BootDebug("registered agent %s", agentType)
}

// Get returns the capability for agentType.
func (r *Registry) Get(agentType AgentType) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[agentType]
	return c, ok
}

// SetAvailable marks an agent available, or busy until freeAt (nil = unknown).
func (r *Registry) SetAvailable(agentType AgentType, available bool, freeAt *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if available {
		delete(r.busy, agentType)
		return
	}
	r.busy[agentType] = freeAt
}

// Types returns registered agent types in sorted order.
func (r *Registry) Types() []AgentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentType, 0, len(r.capabilities))
	for t := range r.capabilities {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetAgentAvailability implements Availability.
func (r *Registry) GetAgentAvailability(ctx context.Context, agentID string) (AvailabilityStatus, error) {
	if err := ctx.Err(); err != nil {
		return AvailabilityStatus{}, err
	}
	t := AgentType(agentID)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.capabilities[t]; !ok {
		return AvailabilityStatus{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	if freeAt, isBusy := r.busy[t]; isBusy {
		return AvailabilityStatus{IsAvailable: false, EstimatedFreeTime: freeAt}, nil
	}
	return AvailabilityStatus{IsAvailable: true}, nil
}

// Invoke runs task on the capability registered for agentType. The returned
// ExecutionResult is always populated; err is non-nil when the invocation did
// not complete successfully.
func (r *Registry) Invoke(ctx context.Context, agentType AgentType, task Task) (ExecutionResult, error) {
	start := r.clock.Now()
	exec := ExecutionResult{
		AgentType: agentType,
		AgentID:   string(agentType),
		TaskID:    task.ID,
		Status:    ExecRunning,
		StartedAt: start,
	}

	finish := func(status ExecutionStatus, res Result, err error) (ExecutionResult, error) {
		exec.CompletedAt = r.clock.Now()
		exec.Duration = exec.CompletedAt.Sub(start)
		exec.Status = status
		exec.Result = res
		exec.TokensUsed = res.TokensUsed
		exec.Cost = res.Cost
		if err != nil {
			exec.Error = err.Error()
		}
		return exec, err
	}

	capability, ok := r.Get(agentType)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownAgent, agentType)
		return finish(ExecFailed, Failure(agentType, err), err)
	}

	res, err := capability.Execute(ctx, task)
	if err != nil {
		status := ExecFailed
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = ExecTimeout
		case errors.Is(err, context.Canceled):
			status = ExecCancelled
		}
		return finish(status, Failure(agentType, err), fmt.Errorf("agent %s failed: %w", agentType, err))
	}
	if res.Kind == "" {
		res.Kind = agentType
	}
	if verr := res.Validate(); verr != nil {
		return finish(ExecFailed, Failure(agentType, verr), fmt.Errorf("agent %s returned invalid result: %w", agentType, verr))
	}
	if !res.Success {
		return finish(ExecFailed, res, fmt.Errorf("agent %s reported failure: %s", agentType, res.Error))
	}
	return finish(ExecCompleted, res, nil)
}
