package router_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/budget"
	"reasonmesh/internal/clock"
	"reasonmesh/internal/intent"
	"reasonmesh/internal/memory"
	"reasonmesh/internal/router"
)

var operator = router.CommandContext{
	UserID:    "u-1",
	SessionID: "s-1",
	Permissions: []string{
		router.PermExecuteCommands,
		router.PermManageCampaigns,
		router.PermAccessReports,
	},
}

func newRouter(t *testing.T, inv router.Invoker, opts ...router.Option) *router.Router {
	t.Helper()
	cfg := router.DefaultConfig()
	cfg.DefaultRetry.InitialDelay = time.Millisecond
	return router.New(inv, intent.NewKeywordParser(), append([]router.Option{router.WithConfig(cfg)}, opts...)...)
}

// recorder wraps an invoker and remembers which agents ran, in order.
type recorder struct {
	inner router.Invoker
	mu    sync.Mutex
	calls []agents.AgentType
	steps []string
}

func (r *recorder) Invoke(ctx context.Context, t agents.AgentType, task agents.Task) (agents.ExecutionResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, t)
	if s, ok := task.Context["step"].(string); ok {
		r.steps = append(r.steps, s)
	}
	r.mu.Unlock()
	return r.inner.Invoke(ctx, t, task)
}

func (r *recorder) called() []agents.AgentType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agents.AgentType(nil), r.calls...)
}

func (r *recorder) stepOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

type fakeBudget struct {
	mu      sync.Mutex
	status  budget.Status
	err     error
	records []budget.CostRecord
}

func newFakeBudget() *fakeBudget {
	return &fakeBudget{status: budget.Status{CanExecute: true, Limit: 1000}}
}

func (f *fakeBudget) CheckBudgetStatus(context.Context) (budget.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.err
}

func (f *fakeBudget) TrackCost(_ context.Context, rec budget.CostRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeBudget) tracked() []budget.CostRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]budget.CostRecord(nil), f.records...)
}

func failing(msg string) agents.Capability {
	return agents.CapabilityFunc(func(context.Context, agents.Task) (agents.Result, error) {
		return agents.Result{}, errors.New(msg)
	})
}

// blocking reports the command id of each task it receives, then waits for
// the task's context to end.
func blocking(started chan<- string) agents.Capability {
	return agents.CapabilityFunc(func(ctx context.Context, task agents.Task) (agents.Result, error) {
		id, _ := task.Context["command_id"].(string)
		started <- id
		<-ctx.Done()
		return agents.Result{}, ctx.Err()
	})
}

func stepByID(steps []router.StepResult, id string) (router.StepResult, bool) {
	for _, s := range steps {
		if s.StepID == id {
			return s, true
		}
	}
	return router.StepResult{}, false
}

func TestProcessCommandSingleAgent(t *testing.T) {
	rt := newRouter(t, agents.NewStubRegistry())

	res := rt.ProcessCommand(context.Background(), "write a blog article about spring gardening", operator)

	require.NotNil(t, res)
	assert.True(t, strings.HasPrefix(res.ID, "cmd_"), "id %q", res.ID)
	assert.Equal(t, router.StatusCompleted, res.Status, res.Reason)
	assert.Equal(t, "generate:content", res.Intent.Key())
	assert.Equal(t, 30.0, res.EstimatedBudgetImpact)
	require.Len(t, res.AgentResults, 1)
	assert.Equal(t, agents.AgentContentCreator, res.AgentResults[0].AgentType)
	assert.Empty(t, res.Workflow)
	assert.False(t, res.CompletedAt.Before(res.StartedAt))

	got, ok := rt.GetCommand(res.ID)
	require.True(t, ok)
	assert.Equal(t, router.StatusCompleted, got.Status)
}

func TestPermissionChecks(t *testing.T) {
	tests := []struct {
		name    string
		command string
		perms   []string
		want    string
	}{
		{
			name:    "execute required",
			command: "write a blog article",
			perms:   nil,
			want:    router.PermExecuteCommands,
		},
		{
			name:    "campaign mutation",
			command: `launch the "Spring Sale" campaign`,
			perms:   []string{router.PermExecuteCommands},
			want:    router.PermManageCampaigns,
		},
		{
			name:    "reporting",
			command: "show the analytics dashboard",
			perms:   []string{router.PermExecuteCommands},
			want:    router.PermAccessReports,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{inner: agents.NewStubRegistry()}
			rt := newRouter(t, rec)

			res := rt.ProcessCommand(context.Background(), tt.command, router.CommandContext{UserID: "u-2", Permissions: tt.perms})

			assert.Equal(t, router.StatusFailed, res.Status)
			assert.Contains(t, res.Reason, tt.want)
			assert.Empty(t, rec.called(), "no agent may run for a rejected command")
			require.Len(t, rt.History(), 1)
		})
	}
}

func TestAgentAccessCheckedBeforeBudget(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    string
	}{
		{"workflow step agent", "launch the spring campaign", "workflow campaign_launch"},
		{"single agent", "schedule the newsletter email", "agent " + string(agents.AgentEmailMarketing)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBudget()
			fb.status = budget.Status{CanExecute: false, UtilizationPercentage: 100}
			rec := &recorder{inner: agents.NewStubRegistry()}
			rt := newRouter(t, rec, router.WithBudget(fb))
			cctx := operator
			cctx.AllowedAgents = []agents.AgentType{agents.AgentContentCreator}
			cctx.Constraints.MaxBudgetImpact = 10

			res := rt.ProcessCommand(context.Background(), tt.command, cctx)

			assert.Equal(t, router.StatusFailed, res.Status)
			assert.Contains(t, res.Reason, "permission denied")
			assert.Contains(t, res.Reason, tt.want)
			assert.Empty(t, res.Workflow, "a denied command never starts running")
			assert.Empty(t, rec.called())
		})
	}
}

func TestBudgetGateRequiresApproval(t *testing.T) {
	t.Run("max budget impact", func(t *testing.T) {
		rec := &recorder{inner: agents.NewStubRegistry()}
		rt := newRouter(t, rec)
		cctx := operator
		cctx.AutoFix = true
		cctx.Constraints.MaxBudgetImpact = 100

		res := rt.ProcessCommand(context.Background(), "launch the spring campaign", cctx)

		assert.Equal(t, router.StatusRequiresApproval, res.Status)
		assert.Equal(t, 500.0, res.EstimatedBudgetImpact)
		assert.Contains(t, res.Reason, "exceeds limit")
		assert.Empty(t, rec.called())
	})

	t.Run("configured approval threshold", func(t *testing.T) {
		cfg := router.DefaultConfig()
		cfg.ApprovalThreshold = 200
		rt := router.New(agents.NewStubRegistry(), nil, router.WithConfig(cfg))

		res := rt.ProcessCommand(context.Background(), "launch the spring campaign", operator)

		assert.Equal(t, router.StatusRequiresApproval, res.Status)
		assert.Contains(t, res.Reason, "approval threshold")
	})

	t.Run("caller threshold overrides config", func(t *testing.T) {
		cfg := router.DefaultConfig()
		cfg.ApprovalThreshold = 200
		rt := router.New(agents.NewStubRegistry(), nil, router.WithConfig(cfg))
		cctx := operator
		cctx.Constraints.ApprovalThreshold = 1000

		res := rt.ProcessCommand(context.Background(), "launch the spring campaign", cctx)

		assert.Equal(t, router.StatusCompleted, res.Status, res.Reason)
	})

	t.Run("budget exhausted", func(t *testing.T) {
		fb := newFakeBudget()
		fb.status = budget.Status{CanExecute: false, UtilizationPercentage: 100, Spent: 1000, Limit: 1000}
		rec := &recorder{inner: agents.NewStubRegistry()}
		rt := newRouter(t, rec, router.WithBudget(fb))

		res := rt.ProcessCommand(context.Background(), "write a blog article", operator)

		assert.Equal(t, router.StatusRequiresApproval, res.Status)
		assert.Contains(t, res.Reason, "budget exhausted")
		assert.Empty(t, rec.called())
	})

	t.Run("zero impact skips the budget check", func(t *testing.T) {
		fb := newFakeBudget()
		fb.err = errors.New("ledger offline")
		rt := newRouter(t, agents.NewStubRegistry(), router.WithBudget(fb))

		res := rt.ProcessCommand(context.Background(), "optimize the blog content", operator)

		assert.Equal(t, router.StatusCompleted, res.Status, res.Reason)
	})
}

func TestWorkflowLaunchCampaign(t *testing.T) {
	fb := newFakeBudget()
	rec := &recorder{inner: agents.NewStubRegistry()}
	rt := newRouter(t, rec, router.WithBudget(fb))
	cctx := operator
	cctx.Constraints.MaxBudgetImpact = 1000

	res := rt.ProcessCommand(context.Background(), "launch the spring campaign", cctx)

	require.Equal(t, router.StatusCompleted, res.Status, res.Reason)
	assert.Equal(t, "campaign_launch", res.Workflow)
	require.Len(t, res.AgentResults, 6)
	assert.Equal(t, agents.AgentTrendAnalyzer, res.AgentResults[0].AgentType)
	assert.Equal(t, agents.AgentPerformanceMonitor, res.AgentResults[5].AgentType)
	require.Len(t, res.Steps, 6)
	for _, s := range res.Steps {
		assert.Equal(t, agents.ExecCompleted, s.Status, s.StepID)
		assert.Equal(t, 1, s.Attempts, s.StepID)
	}

	order := rec.stepOrder()
	pos := make(map[string]int, len(order))
	for i, s := range order {
		pos[s] = i
	}
	assert.Less(t, pos["research"], pos["brand_check"])
	assert.Less(t, pos["brand_check"], pos["configure"])
	assert.Less(t, pos["configure"], pos["social"])
	assert.Less(t, pos["configure"], pos["email"])
	assert.Less(t, pos["social"], pos["monitor"])
	assert.Less(t, pos["email"], pos["monitor"])

	records := fb.tracked()
	require.Len(t, records, 6)
	for _, r := range records {
		assert.Equal(t, "campaign_launch", r.Operation)
		assert.Equal(t, res.ID, r.CommandID)
		assert.Equal(t, "s-1", r.SessionID)
		assert.InDelta(t, 0.002, r.Cost, 1e-9)
	}
}

func TestWorkflowStepFailureFailsFast(t *testing.T) {
	reg := agents.NewStubRegistry()
	reg.Register(agents.AgentBrandVoice, failing("guidelines unavailable"))
	fb := newFakeBudget()
	rec := &recorder{inner: reg}
	ix := memory.NewIndex()
	rt := newRouter(t, rec, router.WithBudget(fb), router.WithMemory(ix))

	res := rt.ProcessCommand(context.Background(), "create content for the product page", operator)

	assert.Equal(t, router.StatusFailed, res.Status)
	assert.Equal(t, "content_production", res.Workflow)
	assert.Contains(t, res.Reason, "brand_check")
	assert.Contains(t, res.Reason, "guidelines unavailable")
	assert.Empty(t, res.AgentResults)
	assert.Empty(t, fb.tracked(), "failed commands track no cost")

	research, ok := stepByID(res.Steps, "research")
	require.True(t, ok)
	assert.Equal(t, agents.ExecCompleted, research.Status)
	brand, ok := stepByID(res.Steps, "brand_check")
	require.True(t, ok)
	assert.Equal(t, agents.ExecFailed, brand.Status)
	assert.Contains(t, brand.Error, "guidelines unavailable")

	// every execution is remembered, including the failure
	assert.GreaterOrEqual(t, ix.Len(), 3)
	failures, err := ix.Retrieve(context.Background(), memory.Query{AgentType: agents.AgentBrandVoice, Outcome: memory.OutcomeFailure})
	require.NoError(t, err)
	assert.Len(t, failures, 1)
}

func TestWorkflowRetriesWithBackoff(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	reg := agents.NewStubRegistry()
	stub := agents.NewStub(agents.AgentTrendAnalyzer)
	reg.Register(agents.AgentTrendAnalyzer, agents.CapabilityFunc(func(ctx context.Context, task agents.Task) (agents.Result, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return agents.Result{}, errors.New("rate limited")
		}
		return stub.Execute(ctx, task)
	}))

	fc := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	rt := router.New(reg, nil, router.WithClock(fc))
	require.NoError(t, rt.AddWorkflow("research:trend", router.Workflow{
		Name: "trend_scan",
		Steps: []router.WorkflowStep{{
			ID:        "scan",
			AgentType: agents.AgentTrendAnalyzer,
			Task:      "Scan for trends",
			Retry:     &router.RetryPolicy{MaxAttempts: 3, BackoffMultiplier: 2, InitialDelay: time.Second},
		}},
	}))

	done := make(chan *router.CommandResult, 1)
	go func() {
		done <- rt.ProcessCommand(context.Background(), "research trends in short video", operator)
	}()

	waitForWaiter := func() {
		require.Eventually(t, func() bool { return fc.Waiters() == 1 }, 2*time.Second, time.Millisecond)
	}

	waitForWaiter()
	fc.Advance(time.Second)

	waitForWaiter()
	fc.Advance(time.Second)
	assert.Equal(t, 1, fc.Waiters(), "second backoff doubles the delay")
	fc.Advance(time.Second)

	var res *router.CommandResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("command did not finish")
	}
	require.Equal(t, router.StatusCompleted, res.Status, res.Reason)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, 3, res.Steps[0].Attempts)
	assert.Equal(t, 3*time.Second, res.Duration)
}

func TestWorkflowRetriesExhausted(t *testing.T) {
	reg := agents.NewStubRegistry()
	reg.Register(agents.AgentTrendAnalyzer, failing("rate limited"))
	cfg := router.DefaultConfig()
	cfg.DefaultRetry = router.RetryPolicy{MaxAttempts: 2, BackoffMultiplier: 1, InitialDelay: time.Millisecond}
	rt := router.New(reg, nil, router.WithConfig(cfg))

	res := rt.ProcessCommand(context.Background(), "analyze our audience segments", operator)

	assert.Equal(t, router.StatusFailed, res.Status)
	assert.Equal(t, "audience_analysis", res.Workflow)
	trends, ok := stepByID(res.Steps, "trends")
	require.True(t, ok)
	assert.Equal(t, 2, trends.Attempts)
	_, ran := stepByID(res.Steps, "insights")
	assert.False(t, ran, "dependent steps must not run after a failure")
}

func TestAutoFixFallsBack(t *testing.T) {
	reg := agents.NewStubRegistry()
	reg.Register(agents.AgentSEOOptimizer, failing("index unavailable"))
	const cmd = "optimize the blog content for search"

	t.Run("without autofix", func(t *testing.T) {
		rt := newRouter(t, reg)
		res := rt.ProcessCommand(context.Background(), cmd, operator)
		assert.Equal(t, router.StatusFailed, res.Status)
		assert.Contains(t, res.Reason, "index unavailable")
		assert.Empty(t, res.AgentResults)
	})

	t.Run("with autofix", func(t *testing.T) {
		rt := newRouter(t, reg)
		cctx := operator
		cctx.AutoFix = true
		res := rt.ProcessCommand(context.Background(), cmd, cctx)
		require.Equal(t, router.StatusCompleted, res.Status, res.Reason)
		require.Len(t, res.AgentResults, 2)
		assert.Equal(t, agents.AgentSEOOptimizer, res.AgentResults[0].AgentType)
		assert.Equal(t, agents.AgentContentCreator, res.AgentResults[1].AgentType)
	})

	t.Run("allowed agents filter the candidates", func(t *testing.T) {
		rt := newRouter(t, reg)
		cctx := operator
		cctx.AllowedAgents = []agents.AgentType{agents.AgentContentCreator}
		res := rt.ProcessCommand(context.Background(), cmd, cctx)
		require.Equal(t, router.StatusCompleted, res.Status, res.Reason)
		require.Len(t, res.AgentResults, 1)
		assert.Equal(t, agents.AgentContentCreator, res.AgentResults[0].AgentType)
	})

	t.Run("no allowed agent", func(t *testing.T) {
		rt := newRouter(t, reg)
		cctx := operator
		cctx.AllowedAgents = []agents.AgentType{agents.AgentAnalytics}
		res := rt.ProcessCommand(context.Background(), cmd, cctx)
		assert.Equal(t, router.StatusFailed, res.Status)
		assert.Contains(t, res.Reason, "not allowed")
	})
}

func TestSelectAgent(t *testing.T) {
	rt := newRouter(t, agents.NewStubRegistry())

	agent, fallbacks := rt.SelectAgent(intent.Intent{PrimaryAction: "update", EntityType: "brand"})
	assert.Equal(t, agents.AgentBrandVoice, agent)
	assert.Equal(t, []agents.AgentType{agents.AgentHumanReview}, fallbacks)

	agent, fallbacks = rt.SelectAgent(intent.Intent{PrimaryAction: "schedule", EntityType: "email"})
	assert.Equal(t, agents.AgentEmailMarketing, agent)
	assert.Empty(t, fallbacks)

	agent, _ = rt.SelectAgent(intent.Intent{PrimaryAction: "analyze", EntityType: "general"})
	assert.Equal(t, agents.AgentInsightGenerator, agent)

	rt.AddRule(router.RoutingRule{
		Name:      "email-strategy",
		Priority:  500,
		AgentType: agents.AgentStrategyPlanner,
		Condition: func(in intent.Intent) bool { return in.EntityType == "email" },
	})
	agent, _ = rt.SelectAgent(intent.Intent{PrimaryAction: "schedule", EntityType: "email"})
	assert.Equal(t, agents.AgentStrategyPlanner, agent)
}

func TestCancelCommand(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan string, 1)
	reg := agents.NewStubRegistry()
	reg.Register(agents.AgentContentCreator, blocking(started))
	rt := newRouter(t, reg)

	done := make(chan *router.CommandResult, 1)
	go func() {
		done <- rt.ProcessCommand(context.Background(), "write a blog article", operator)
	}()

	id := <-started
	running, ok := rt.GetCommand(id)
	require.True(t, ok)
	assert.Equal(t, router.StatusRunning, running.Status)

	require.NoError(t, rt.CancelCommand(id))
	res := <-done
	assert.Equal(t, router.StatusCancelled, res.Status)
	assert.Empty(t, res.AgentResults)

	err := rt.CancelCommand(id)
	assert.True(t, errors.Is(err, router.ErrNotRunning), "got %v", err)
	err = rt.CancelCommand("cmd_missing")
	assert.True(t, errors.Is(err, router.ErrCommandNotFound), "got %v", err)
}

// gatedStore holds the first memory write until released and reports the
// command it belongs to.
type gatedStore struct {
	once    sync.Once
	saving  chan string
	release chan struct{}
}

func (g *gatedStore) SaveEntry(_ context.Context, e memory.Entry) error {
	g.once.Do(func() {
		id, _ := e.Metadata["command_id"].(string)
		g.saving <- id
		<-g.release
	})
	return nil
}

func (g *gatedStore) DeleteEntry(context.Context, string) error { return nil }

func (g *gatedStore) ListEntries(context.Context) ([]memory.Entry, error) { return nil, nil }

func TestCancelAfterWorkReturnedKeepsOutcome(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &gatedStore{saving: make(chan string, 1), release: make(chan struct{})}
	ix := memory.NewIndex(memory.WithStore(store))
	rt := newRouter(t, agents.NewStubRegistry(), router.WithMemory(ix))

	done := make(chan *router.CommandResult, 1)
	go func() {
		done <- rt.ProcessCommand(context.Background(), "write a blog article", operator)
	}()

	id := <-store.saving
	err := rt.CancelCommand(id)
	assert.True(t, errors.Is(err, router.ErrNotRunning), "got %v", err)
	close(store.release)

	res := <-done
	assert.Equal(t, router.StatusCompleted, res.Status, res.Reason)
	assert.Len(t, res.AgentResults, 1)
}

func TestCommandTimeout(t *testing.T) {
	started := make(chan string, 1)
	reg := agents.NewStubRegistry()
	reg.Register(agents.AgentContentCreator, blocking(started))
	cfg := router.DefaultConfig()
	cfg.CommandTimeout = 20 * time.Millisecond
	rt := router.New(reg, nil, router.WithConfig(cfg))

	res := rt.ProcessCommand(context.Background(), "write a blog article", operator)

	assert.Equal(t, router.StatusTimeout, res.Status)
	assert.Contains(t, res.Reason, "deadline")
}

func TestHistoryKeepsMostRecent(t *testing.T) {
	cfg := router.DefaultConfig()
	cfg.HistorySize = 3
	rt := router.New(agents.NewStubRegistry(), nil, router.WithConfig(cfg))
	guest := router.CommandContext{UserID: "guest"}

	var ids []string
	for _, c := range []string{"one", "two", "three", "four", "five"} {
		ids = append(ids, rt.ProcessCommand(context.Background(), c, guest).ID)
	}

	hist := rt.History()
	require.Len(t, hist, 3)
	for i, h := range hist {
		assert.Equal(t, ids[i+2], h.ID)
	}
	_, ok := rt.GetCommand(ids[0])
	assert.False(t, ok, "evicted commands are forgotten")
}

func TestSuccessfulCommandsAreRemembered(t *testing.T) {
	ix := memory.NewIndex()
	rt := newRouter(t, agents.NewStubRegistry(), router.WithMemory(ix))

	res := rt.ProcessCommand(context.Background(), "write a blog article about holiday sales", operator)
	require.Equal(t, router.StatusCompleted, res.Status, res.Reason)

	entries, err := ix.Retrieve(context.Background(), memory.Query{AgentType: agents.AgentContentCreator})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, memory.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, "s-1", entries[0].SessionID)
	assert.Contains(t, entries[0].Tags, "holiday")
	assert.Equal(t, res.ID, entries[0].Metadata["command_id"])
}
