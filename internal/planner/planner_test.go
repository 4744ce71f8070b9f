package planner_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/analytics"
	"reasonmesh/internal/clock"
	"reasonmesh/internal/memory"
	"reasonmesh/internal/planner"
	"reasonmesh/internal/reasoning"
	"reasonmesh/internal/store/memstore"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

const engagementGoal = "Boost community engagement on our product posts"

type harness struct {
	planner *planner.Planner
	store   *memstore.Store
	clock   *clock.Fake
	reg     *agents.Registry
}

func newHarness(t *testing.T, reg *agents.Registry, protoOpts []reasoning.Option, opts ...planner.Option) *harness {
	t.Helper()
	if reg == nil {
		reg = agents.NewStubRegistry()
	}
	st := memstore.New()
	fc := clock.NewFake(epoch)
	proto := reasoning.NewProtocol(reg, st, append([]reasoning.Option{reasoning.WithClock(fc)}, protoOpts...)...)
	opts = append([]planner.Option{planner.WithClock(fc)}, opts...)
	return &harness{
		planner: planner.New(st, proto, reg, opts...),
		store:   st,
		clock:   fc,
		reg:     reg,
	}
}

// scoreAll makes every evaluator of the given types return score.
func scoreAll(score float64, types ...agents.AgentType) []reasoning.Option {
	var out []reasoning.Option
	for _, t := range types {
		out = append(out, reasoning.WithEvaluator(t, reasoning.EvaluatorFunc(
			func(_ context.Context, _ reasoning.ProposedPlan, ref reasoning.AgentRef) (reasoning.PlanEvaluation, error) {
				return reasoning.PlanEvaluation{AgentType: ref.Type, Score: score}, nil
			})))
	}
	return out
}

func TestPlanApproved(t *testing.T) {
	bus := planner.NewBus()
	signals, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	h := newHarness(t, nil, nil, planner.WithBroadcaster(bus))
	ctx := context.Background()

	res, err := h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)

	assert.True(t, res.Approved())
	assert.Equal(t, planner.StatusApproved, res.Goal.Status)
	assert.True(t, strings.HasPrefix(res.Goal.ID, "goal_"))
	assert.Len(t, res.Goal.ID, len("goal_")+8)
	assert.Equal(t, engagementGoal, res.Goal.Title)
	assert.Equal(t, 390, res.Goal.EstimatedTimeMinutes)
	assert.Len(t, res.RecruitedAgents, 7)
	assert.Empty(t, res.MissingAgents)
	assert.Equal(t, planner.RiskLow, res.Risk.Level)
	assert.InDelta(t, 0.85, res.Goal.BrandAlignment, 1e-9)

	require.NotNil(t, res.Round)
	require.NotNil(t, res.Round.FinalScore)
	assert.Equal(t, 1, res.Round.RoundNumber)
	assert.InDelta(t, *res.Round.FinalScore, res.Goal.Confidence, 1e-9)
	assert.Equal(t, 1, res.Goal.Metadata["consensus_round"])

	stored, err := h.store.GetGoal(ctx, res.Goal.ID)
	require.NoError(t, err)
	assert.Equal(t, planner.StatusApproved, stored.Status)

	saved, err := h.store.GetResult(ctx, res.Goal.ID)
	require.NoError(t, err)
	assert.True(t, saved.Approved())

	select {
	case s := <-signals:
		assert.Equal(t, planner.SignalPlanningIntent, s.Kind)
		assert.Equal(t, res.Goal.ID, s.GoalPlanID)
		assert.Len(t, s.RequiredAgents, 7)
	default:
		t.Fatal("expected a planning intent signal")
	}
}

func TestPlanRejectedLeavesGoalFailed(t *testing.T) {
	reg := agents.NewRegistry()
	reg.Register(agents.AgentTrendAnalyzer, agents.NewStub(agents.AgentTrendAnalyzer))
	reg.Register(agents.AgentStrategyPlanner, agents.NewStub(agents.AgentStrategyPlanner))

	h := newHarness(t, reg, scoreAll(0.1, agents.AgentTrendAnalyzer, agents.AgentStrategyPlanner))
	res, err := h.planner.Plan(context.Background(), planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)

	assert.False(t, res.Approved())
	assert.Equal(t, reasoning.ResultRejected, res.Round.Result)
	assert.Equal(t, planner.StatusFailed, res.Goal.Status)
	assert.Equal(t, "consensus rejected", res.Goal.Metadata["failure_reason"])
	assert.ElementsMatch(t,
		[]agents.AgentType{agents.AgentTrendAnalyzer, agents.AgentStrategyPlanner}, res.RecruitedAgents)
	assert.Len(t, res.MissingAgents, 5)
	assert.InDelta(t, 2.0/7.0, res.Goal.Feasibility, 1e-9)
	assert.InDelta(t, 0.6, res.Goal.BrandAlignment, 1e-9)
}

func TestPlanProposerUnavailable(t *testing.T) {
	reg := agents.NewStubRegistry()
	reg.SetAvailable(agents.AgentStrategyPlanner, false, nil)
	h := newHarness(t, reg, nil)
	ctx := context.Background()

	_, err := h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.Error(t, err)
	assert.ErrorIs(t, err, reasoning.ErrProposerUnavailable)

	goals, err := h.store.ListGoals(ctx, planner.StatusFailed)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	reason, _ := goals[0].Metadata["failure_reason"].(string)
	assert.Contains(t, reason, "proposing agent unavailable")
}

func TestPlanEmptyDescription(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.planner.Plan(context.Background(), planner.GoalRequest{Description: "   "})
	assert.ErrorIs(t, err, planner.ErrEmptyGoal)
}

func TestPlanRequestOverrides(t *testing.T) {
	h := newHarness(t, nil, nil)
	res, err := h.planner.Plan(context.Background(), planner.GoalRequest{
		Title:         "Q3 engagement push",
		Description:   engagementGoal,
		Priority:      "high",
		TargetMetrics: map[string]float64{"comments_per_post": 25},
		Metadata:      map[string]any{"owner": "growth-team"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Q3 engagement push", res.Goal.Title)
	assert.EqualValues(t, "high", res.Goal.Priority)
	assert.Equal(t, 25.0, res.Goal.TargetMetrics["comments_per_post"])
	assert.Equal(t, "growth-team", res.Goal.Metadata["owner"])
}

func TestPlanRecordsMemory(t *testing.T) {
	fc := clock.NewFake(epoch)
	ix := memory.NewIndex(memory.WithClock(fc))
	h := newHarness(t, nil, nil, planner.WithMemory(ix))

	res, err := h.planner.Plan(context.Background(), planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)

	refs, ok := res.Goal.Metadata["memory_refs"].([]string)
	require.True(t, ok, "memory_refs missing: %#v", res.Goal.Metadata)
	require.Len(t, refs, 1)

	entry, ok := ix.Get(refs[0])
	require.True(t, ok)
	assert.Equal(t, memory.OutcomeSuccess, entry.Outcome)
	assert.Equal(t, res.Goal.ID, entry.GoalPlanID)
	assert.Equal(t, agents.AgentStrategyPlanner, entry.AgentType)
}

func TestReplanGrowsEstimateAndRecordsCause(t *testing.T) {
	bus := planner.NewBus()
	h := newHarness(t, nil, nil, planner.WithBroadcaster(bus))
	ctx := context.Background()

	first, err := h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)

	signals, unsubscribe := bus.Subscribe(1)
	defer unsubscribe()

	h.clock.Advance(time.Hour)
	res, err := h.planner.Replan(ctx, first.Goal.ID, "deadline missed by the content team")
	require.NoError(t, err)

	assert.Equal(t, 468, res.Goal.EstimatedTimeMinutes)
	assert.Contains(t, res.Goal.RiskFactors, "Previous attempt failed: deadline missed by the content team")
	assert.Equal(t, "deadline missed by the content team", res.Goal.Metadata["last_replan_reason"])
	assert.Equal(t, 1, res.Goal.Metadata["replan_count"])
	require.NotNil(t, res.Failure)
	assert.Equal(t, "timeline", res.Failure.Category)
	assert.Equal(t, 2, res.Round.RoundNumber)
	assert.True(t, res.Approved())

	assert.Contains(t, res.ReplanDiff, "-estimate: 390m")
	assert.Contains(t, res.ReplanDiff, "+estimate: 468m")
	assert.Contains(t, res.ReplanDiff, "(replanned)")

	s := <-signals
	assert.Equal(t, planner.SignalReplanningIntent, s.Kind)

	rounds, err := h.store.ListRounds(ctx, first.Goal.ID)
	require.NoError(t, err)
	assert.Len(t, rounds, 2)
}

func TestReplanCountAccumulates(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	first, err := h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)
	_, err = h.planner.Replan(ctx, first.Goal.ID, "budget exhausted")
	require.NoError(t, err)
	res, err := h.planner.Replan(ctx, first.Goal.ID, "budget exhausted again")
	require.NoError(t, err)

	// The stored counter comes back from the store as a JSON number.
	assert.Equal(t, 2, res.Goal.Metadata["replan_count"])
	assert.Equal(t, "resource", res.Failure.Category)
	assert.Equal(t, 562, res.Goal.EstimatedTimeMinutes)
}

func TestReplanRejectsCompletedAndUnknownGoals(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	res, err := h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)
	_, err = h.planner.UpdateStatus(ctx, res.Goal.ID, planner.StatusCompleted)
	require.NoError(t, err)

	_, err = h.planner.Replan(ctx, res.Goal.ID, "late")
	assert.ErrorIs(t, err, planner.ErrGoalCompleted)

	_, err = h.planner.Replan(ctx, "goal_missing", "late")
	assert.ErrorIs(t, err, planner.ErrGoalNotFound)
}

func TestUpdateStatusTransitions(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	res, err := h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)
	id := res.Goal.ID

	g, err := h.planner.UpdateStatus(ctx, id, planner.StatusApproved)
	require.NoError(t, err, "same status is a no-op")
	assert.Equal(t, planner.StatusApproved, g.Status)

	_, err = h.planner.UpdateStatus(ctx, id, planner.StatusPlanning)
	assert.ErrorIs(t, err, planner.ErrInvalidTransition)

	_, err = h.planner.UpdateStatus(ctx, id, planner.StatusExecuting)
	require.NoError(t, err)
	_, err = h.planner.UpdateStatus(ctx, id, planner.StatusCompleted)
	require.NoError(t, err)
	_, err = h.planner.UpdateStatus(ctx, id, planner.StatusFailed)
	assert.ErrorIs(t, err, planner.ErrInvalidTransition)
}

func TestRecordExecutionStartsExecuting(t *testing.T) {
	fc := clock.NewFake(epoch)
	ix := memory.NewIndex(memory.WithClock(fc))
	h := newHarness(t, nil, nil, planner.WithMemory(ix))
	ctx := context.Background()

	res, err := h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)
	fc.Advance(time.Minute)

	att, err := h.planner.RecordExecution(ctx, planner.ExecutionAttempt{
		GoalPlanID: res.Goal.ID,
		AgentType:  agents.AgentContentCreator,
		Status:     agents.ExecFailed,
		Error:      "asset rejected as off-brand",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(att.ID, "att_"))
	assert.True(t, att.CompletedAt.Equal(epoch))

	g, err := h.store.GetGoal(ctx, res.Goal.ID)
	require.NoError(t, err)
	assert.Equal(t, planner.StatusExecuting, g.Status)

	entries := ix.ByGoal(res.Goal.ID)
	require.Len(t, entries, 2, "planning outcome and attempt")
	assert.Equal(t, memory.OutcomeFailure, entries[1].Outcome)
	assert.Equal(t, "asset rejected as off-brand", entries[1].Content.Output["error"])

	_, err = h.planner.RecordExecution(ctx, planner.ExecutionAttempt{GoalPlanID: "goal_missing"})
	assert.ErrorIs(t, err, planner.ErrGoalNotFound)
}

func TestMonitorReplansFailingGoals(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	failing, err := h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)
	healthy, err := h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)

	record := func(goalID string, status agents.ExecutionStatus, msg string) {
		t.Helper()
		h.clock.Advance(time.Minute)
		_, err := h.planner.RecordExecution(ctx, planner.ExecutionAttempt{
			GoalPlanID: goalID, AgentType: agents.AgentSocialMedia, Status: status, Error: msg,
		})
		require.NoError(t, err)
	}
	record(failing.Goal.ID, agents.ExecFailed, "rate limited")
	record(failing.Goal.ID, agents.ExecCompleted, "")
	record(failing.Goal.ID, agents.ExecTimeout, "timed out waiting for upstream")
	record(healthy.Goal.ID, agents.ExecCompleted, "")
	record(healthy.Goal.ID, agents.ExecFailed, "rate limited")

	require.NoError(t, h.planner.MonitorAndOptimize(ctx))

	g, err := h.store.GetGoal(ctx, failing.Goal.ID)
	require.NoError(t, err)
	assert.Equal(t, planner.StatusApproved, g.Status, "replanned and re-approved")
	assert.Equal(t, "2 of the last 3 execution attempts failed: timed out waiting for upstream",
		g.Metadata["last_replan_reason"])

	other, err := h.store.GetGoal(ctx, healthy.Goal.ID)
	require.NoError(t, err)
	assert.Equal(t, planner.StatusExecuting, other.Status)
	assert.Nil(t, other.Metadata["replan_count"])
}

func TestMonitorRespectsFailureWindow(t *testing.T) {
	cfg := planner.DefaultConfig()
	cfg.FailureWindow = 2
	h := newHarness(t, nil, nil, planner.WithConfig(cfg))
	ctx := context.Background()

	res, err := h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)
	for _, st := range []agents.ExecutionStatus{agents.ExecFailed, agents.ExecFailed, agents.ExecCompleted, agents.ExecCompleted} {
		h.clock.Advance(time.Minute)
		_, err := h.planner.RecordExecution(ctx, planner.ExecutionAttempt{GoalPlanID: res.Goal.ID, Status: st})
		require.NoError(t, err)
	}

	require.NoError(t, h.planner.MonitorAndOptimize(ctx))
	g, err := h.store.GetGoal(ctx, res.Goal.ID)
	require.NoError(t, err)
	assert.Equal(t, planner.StatusExecuting, g.Status, "old failures fall outside the window")
}

func TestMonitorIgnoresAttemptsBeforeReplan(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	res, err := h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)
	record := func(status agents.ExecutionStatus) {
		t.Helper()
		h.clock.Advance(time.Minute)
		_, err := h.planner.RecordExecution(ctx, planner.ExecutionAttempt{GoalPlanID: res.Goal.ID, Status: status})
		require.NoError(t, err)
	}

	record(agents.ExecFailed)
	record(agents.ExecFailed)
	require.NoError(t, h.planner.MonitorAndOptimize(ctx))
	g, err := h.store.GetGoal(ctx, res.Goal.ID)
	require.NoError(t, err)
	require.Equal(t, planner.StatusApproved, g.Status)
	estimate := g.EstimatedTimeMinutes

	record(agents.ExecCompleted)
	require.NoError(t, h.planner.MonitorAndOptimize(ctx))

	g, err = h.store.GetGoal(ctx, res.Goal.ID)
	require.NoError(t, err)
	assert.Equal(t, planner.StatusExecuting, g.Status)
	assert.EqualValues(t, 1, g.Metadata["replan_count"])
	assert.Equal(t, estimate, g.EstimatedTimeMinutes)
}

func TestPlanningInsights(t *testing.T) {
	reg := agents.NewStubRegistry()
	scores := analytics.NewStaticSource(nil)
	h := newHarness(t, reg, nil, planner.WithAnalytics(scores))
	ctx := context.Background()

	good, err := h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)
	_, err = h.planner.UpdateStatus(ctx, good.Goal.ID, planner.StatusCompleted)
	require.NoError(t, err)
	scores.Set(good.Goal.ID, 0.9)

	reg.SetAvailable(agents.AgentStrategyPlanner, false, nil)
	_, err = h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.Error(t, err)

	in, err := h.planner.GetPlanningInsights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, in.TotalGoals)
	assert.Equal(t, 1, in.Completed)
	assert.Equal(t, 1, in.Failed)
	assert.InDelta(t, 0.5, in.SuccessRate, 1e-9)
	require.Len(t, in.FailureReasons, 1)
	assert.Contains(t, in.FailureReasons[0], "proposing agent unavailable")
	assert.NotEmpty(t, in.BestPractices)
	require.NotNil(t, in.AveragePerformance)
	assert.InDelta(t, 0.9, *in.AveragePerformance, 1e-9)
	assert.Equal(t, map[string]float64{good.Goal.ID: 0.9}, in.Performance)
}

func TestInsightsWithoutGoals(t *testing.T) {
	h := newHarness(t, nil, nil)
	in, err := h.planner.GetPlanningInsights(context.Background())
	require.NoError(t, err)
	assert.Zero(t, in.TotalGoals)
	assert.Zero(t, in.SuccessRate)
	assert.Nil(t, in.AveragePerformance)
}

var errStoreDown = errors.New("store down")

type brokenGoals struct{ *memstore.Store }

func (brokenGoals) ListGoals(context.Context, ...planner.GoalStatus) ([]planner.Goal, error) {
	return nil, errStoreDown
}

func TestMonitorReportsStoreErrors(t *testing.T) {
	reg := agents.NewStubRegistry()
	st := memstore.New()
	p := planner.New(brokenGoals{st}, reasoning.NewProtocol(reg, st), reg)

	err := p.MonitorAndOptimize(context.Background())
	assert.ErrorIs(t, err, errStoreDown)

	_, err = p.GetPlanningInsights(context.Background())
	assert.ErrorIs(t, err, errStoreDown)
}

// flakyGoals fails the first failUpdates goal updates, and every result save
// when failSave is set.
type flakyGoals struct {
	*memstore.Store
	failUpdates int
	failSave    bool
}

func (f *flakyGoals) UpdateGoal(ctx context.Context, g planner.Goal) error {
	if f.failUpdates > 0 {
		f.failUpdates--
		return errStoreDown
	}
	return f.Store.UpdateGoal(ctx, g)
}

func (f *flakyGoals) SaveResult(ctx context.Context, r planner.PlanningResult) error {
	if f.failSave {
		return errStoreDown
	}
	return f.Store.SaveResult(ctx, r)
}

func TestPlanPropagatesPersistenceErrors(t *testing.T) {
	tests := []struct {
		name  string
		store func(*memstore.Store) *flakyGoals
	}{
		{"goal update", func(st *memstore.Store) *flakyGoals { return &flakyGoals{Store: st, failUpdates: 1} }},
		{"result save", func(st *memstore.Store) *flakyGoals { return &flakyGoals{Store: st, failSave: true} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := agents.NewStubRegistry()
			st := memstore.New()
			p := planner.New(tt.store(st), reasoning.NewProtocol(reg, st), reg)
			ctx := context.Background()

			res, err := p.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
			require.ErrorIs(t, err, errStoreDown)
			assert.Nil(t, res)

			goals, err := st.ListGoals(ctx)
			require.NoError(t, err)
			require.Len(t, goals, 1)
			assert.Equal(t, planner.StatusFailed, goals[0].Status)
			assert.Contains(t, goals[0].Metadata["failure_reason"], "store down")
		})
	}
}
