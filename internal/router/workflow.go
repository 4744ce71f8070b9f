package router

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/logging"
)

// levels groups steps into dependency levels: every step's dependencies
// sit in earlier levels. Order within a level follows declaration order.
func (wf Workflow) levels() ([][]WorkflowStep, error) {
	index := make(map[string]int, len(wf.Steps))
	for i, s := range wf.Steps {
		if s.ID == "" {
			return nil, fmt.Errorf("%w: %s: step %d has no id", ErrInvalidWorkflow, wf.Name, i)
		}
		if _, dup := index[s.ID]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate step %s", ErrInvalidWorkflow, wf.Name, s.ID)
		}
		index[s.ID] = i
	}
	for _, s := range wf.Steps {
		for _, d := range s.Dependencies {
			if _, ok := index[d]; !ok {
				return nil, fmt.Errorf("%w: %s: step %s depends on unknown step %s", ErrInvalidWorkflow, wf.Name, s.ID, d)
			}
		}
	}

	done := make(map[string]bool, len(wf.Steps))
	var out [][]WorkflowStep
	for len(done) < len(wf.Steps) {
		var level []WorkflowStep
		for _, s := range wf.Steps {
			if done[s.ID] {
				continue
			}
			ready := true
			for _, d := range s.Dependencies {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, s)
			}
		}
		if len(level) == 0 {
			return nil, fmt.Errorf("%w: %s: dependency cycle", ErrInvalidWorkflow, wf.Name)
		}
		for _, s := range level {
			done[s.ID] = true
		}
		out = append(out, level)
	}
	return out, nil
}

// runWorkflow executes wf level by level. Ready steps of a level run
// concurrently; the first step failure cancels its siblings and aborts the
// workflow. AgentResults are committed only when every step succeeds.
func (r *Router) runWorkflow(ctx context.Context, cmd *command, wf Workflow) error {
	levels, err := wf.levels()
	if err != nil {
		return err
	}

	succeeded := make(map[string]agents.ExecutionResult, len(wf.Steps))
	for n, level := range levels {
		logging.RouterDebug("%s: workflow %s level %d/%d (%d steps)", cmd.res.ID, wf.Name, n+1, len(levels), len(level))
		g, gctx := errgroup.WithContext(ctx)
		for _, step := range level {
			g.Go(func() error {
				exec, err := r.runStep(gctx, cmd, wf.Name, step, succeeded)
				if err != nil {
					return err
				}
				cmd.mu.Lock()
				succeeded[step.ID] = exec
				cmd.mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	results := make([]agents.ExecutionResult, 0, len(wf.Steps))
	for _, s := range wf.Steps {
		results = append(results, succeeded[s.ID])
	}
	cmd.mu.Lock()
	cmd.res.AgentResults = results
	cmd.mu.Unlock()
	return nil
}

// runStep invokes one step, retrying per its policy. The step result is
// recorded whether it succeeds or not.
func (r *Router) runStep(ctx context.Context, cmd *command, workflow string, step WorkflowStep, upstream map[string]agents.ExecutionResult) (agents.ExecutionResult, error) {
	policy := r.cfg.DefaultRetry
	if step.Retry != nil {
		policy = *step.Retry
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	inputs := make(map[string]any, len(step.Dependencies))
	cmd.mu.Lock()
	for _, d := range step.Dependencies {
		inputs[d] = upstream[d].Result
	}
	cmd.mu.Unlock()

	in := cmd.res.Intent
	task := agents.Task{
		ID:          cmd.res.ID + "/" + step.ID,
		Description: step.Task,
		Input: map[string]any{
			"command":    cmd.res.Command,
			"action":     in.PrimaryAction,
			"entity":     in.EntityType,
			"parameters": in.Parameters,
			"upstream":   inputs,
		},
		Context: map[string]any{"command_id": cmd.res.ID, "workflow": workflow, "step": step.ID},
	}

	sr := StepResult{StepID: step.ID, AgentType: step.AgentType, StartedAt: r.clock.Now()}
	fail := func(status agents.ExecutionStatus, attempts int, err error) (agents.ExecutionResult, error) {
		sr.Status = status
		sr.Attempts = attempts
		sr.Error = err.Error()
		sr.CompletedAt = r.clock.Now()
		cmd.recordStep(sr)
		return agents.ExecutionResult{}, &WorkflowStepError{Workflow: workflow, StepID: step.ID, Attempts: attempts, Err: err}
	}

	for attempt := 1; ; attempt++ {
		exec, err := r.invoker.Invoke(ctx, step.AgentType, task)
		cmd.recordExecution(exec)
		if err == nil && exec.Succeeded() {
			sr.Status = agents.ExecCompleted
			sr.Attempts = attempt
			sr.CompletedAt = r.clock.Now()
			cmd.recordStep(sr)
			return exec, nil
		}
		err = executionError(exec, err)
		if ctx.Err() != nil || attempt >= policy.MaxAttempts {
			status := exec.Status
			if status == "" || status == agents.ExecRunning {
				status = agents.ExecFailed
			}
			return fail(status, attempt, err)
		}

		wait := policy.delay(attempt)
		logging.RouterWarn("%s: step %s attempt %d/%d failed, retrying in %v: %v",
			cmd.res.ID, step.ID, attempt, policy.MaxAttempts, wait, err)
		select {
		case <-ctx.Done():
			status := agents.ExecCancelled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				status = agents.ExecTimeout
			}
			return fail(status, attempt, ctx.Err())
		case <-r.clock.After(wait):
		}
	}
}
