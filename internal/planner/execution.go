package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/logging"
	"reasonmesh/internal/memory"
)

// UpdateStatus moves a goal to status if the transition is allowed.
func (p *Planner) UpdateStatus(ctx context.Context, goalPlanID string, status GoalStatus) (*Goal, error) {
	g, err := p.goals.GetGoal(ctx, goalPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load goal %s: %w", goalPlanID, err)
	}
	if g.Status == status {
		return g, nil
	}
	if !CanTransition(g.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.Status, status)
	}
	g.Status = status
	g.UpdatedAt = p.clock.Now()
	if err := p.goals.UpdateGoal(ctx, *g); err != nil {
		return nil, fmt.Errorf("failed to update goal %s: %w", goalPlanID, err)
	}
	logging.Planner("goal %s -> %s", goalPlanID, status)
	return g, nil
}

// RecordExecution stores an execution attempt for a goal. The first
// attempt on an approved goal moves it to executing. The attempt is also
// ingested into memory when an index is attached.
func (p *Planner) RecordExecution(ctx context.Context, attempt ExecutionAttempt) (ExecutionAttempt, error) {
	g, err := p.goals.GetGoal(ctx, attempt.GoalPlanID)
	if err != nil {
		return attempt, fmt.Errorf("failed to load goal %s: %w", attempt.GoalPlanID, err)
	}
	if attempt.ID == "" {
		attempt.ID = "att_" + uuid.New().String()
	}
	now := p.clock.Now()
	if attempt.CompletedAt.IsZero() {
		attempt.CompletedAt = now
	}
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = attempt.CompletedAt
	}
	if attempt.Status == "" {
		attempt.Status = agents.ExecCompleted
	}

	if err := p.goals.SaveAttempt(ctx, attempt); err != nil {
		return attempt, fmt.Errorf("failed to save attempt for %s: %w", attempt.GoalPlanID, err)
	}

	if g.Status == StatusApproved {
		if _, err := p.UpdateStatus(ctx, g.ID, StatusExecuting); err != nil {
			return attempt, err
		}
	}

	if p.memory != nil {
		outcome := memory.OutcomeSuccess
		if attempt.Failed() {
			outcome = memory.OutcomeFailure
		} else if attempt.Status != agents.ExecCompleted {
			outcome = memory.OutcomeUnknown
		}
		output := map[string]any{"status": string(attempt.Status)}
		if attempt.Error != "" {
			output["error"] = attempt.Error
		}
		_, err := p.memory.Ingest(ctx, memory.Record{
			AgentType:  attempt.AgentType,
			SessionID:  attempt.ID,
			GoalPlanID: attempt.GoalPlanID,
			Input:      map[string]any{"goal": g.Description, "category": string(g.Category)},
			Output:     output,
			Outcome:    outcome,
			Performance: memory.Performance{
				ExecutionTimeMs: attempt.CompletedAt.Sub(attempt.StartedAt).Milliseconds(),
				TokensUsed:      attempt.TokensUsed,
				Cost:            attempt.Cost,
			},
		})
		if err != nil {
			logging.PlannerWarn("failed to record attempt %s in memory: %v", attempt.ID, err)
		}
	}
	logging.PlannerDebug("attempt %s for %s: %s", attempt.ID, attempt.GoalPlanID, attempt.Status)
	return attempt, nil
}

// MonitorAndOptimize inspects the recent attempts of every executing goal
// and replans goals with too many failures. Attempts started before the
// goal's last replan do not count. Per-goal errors are collected
// and do not stop the pass.
func (p *Planner) MonitorAndOptimize(ctx context.Context) error {
	executing, err := p.goals.ListGoals(ctx, StatusExecuting)
	if err != nil {
		return fmt.Errorf("failed to list executing goals: %w", err)
	}
	logging.SchedulerDebug("monitor pass over %d executing goals", len(executing))

	var errs []error
	for _, g := range executing {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		attempts, err := p.goals.RecentAttempts(ctx, g.ID, p.cfg.FailureWindow)
		if err != nil {
			errs = append(errs, fmt.Errorf("attempts for %s: %w", g.ID, err))
			continue
		}
		since := replannedAt(g)
		failed, counted := 0, 0
		lastError := ""
		for _, a := range attempts {
			if !since.IsZero() && !a.StartedAt.After(since) {
				continue
			}
			counted++
			if a.Failed() {
				failed++
				if lastError == "" {
					lastError = a.Error
				}
			}
		}
		if failed < p.cfg.FailureThreshold {
			continue
		}

		reason := fmt.Sprintf("%d of the last %d execution attempts failed", failed, counted)
		if lastError != "" {
			reason += ": " + lastError
		}
		logging.Scheduler("goal %s: %s, replanning", g.ID, reason)
		if _, err := p.Replan(ctx, g.ID, reason); err != nil {
			errs = append(errs, fmt.Errorf("replan %s: %w", g.ID, err))
		}
	}
	return errors.Join(errs...)
}
