package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/analytics"
	"reasonmesh/internal/budget"
	"reasonmesh/internal/config"
	"reasonmesh/internal/decomposer"
	"reasonmesh/internal/intent"
	"reasonmesh/internal/logging"
	"reasonmesh/internal/memory"
	"reasonmesh/internal/planner"
	"reasonmesh/internal/reasoning"
	"reasonmesh/internal/router"
	"reasonmesh/internal/store"
)

// app holds the wired mesh for one CLI invocation.
type app struct {
	cfg      *config.Config
	backend  store.Backend
	registry *agents.Registry
	memory   *memory.Index
	planner  *planner.Planner
	router   *router.Router
	budget   *budget.Tracker
	bus      *planner.Bus
}

// newApp opens the store, warms memory and builds the planner and router
// on top of stub capabilities.
func newApp(ctx context.Context, c *config.Config) (*app, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "newApp")
	defer timer.Stop()

	backend, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", c.Store.Driver, err)
	}

	ix := memory.NewIndex(memory.WithStore(backend), memory.WithConfig(memoryConfig(c)))
	if _, err := ix.Load(ctx); err != nil {
		backend.Close()
		return nil, err
	}

	ledger := viper.GetString("budget-file")
	if viper.GetBool("ephemeral") {
		ledger = ""
	}
	tracker, err := budget.NewTracker(ledger, viper.GetFloat64("monthly-limit"))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to open cost ledger: %w", err)
	}

	reg := agents.NewStubRegistry()
	protocol := reasoning.NewProtocol(reg, backend, reasoning.WithEvaluationTimeout(c.GetEvaluationTimeout()))
	bus := planner.NewBus()

	a := &app{
		cfg:      c,
		backend:  backend,
		registry: reg,
		memory:   ix,
		budget:   tracker,
		bus:      bus,
	}
	a.planner = planner.New(backend, protocol, reg,
		planner.WithConfig(plannerConfig(c)),
		planner.WithDecomposer(decomposer.New(ix)),
		planner.WithMemory(ix),
		planner.WithBroadcaster(bus),
		planner.WithAnalytics(analytics.Chain{&analytics.MemorySource{Index: ix}}),
	)
	a.router = router.New(reg, intent.NewKeywordParser(),
		router.WithConfig(routerConfig(c)),
		router.WithBudget(tracker),
		router.WithMemory(ix),
	)
	logging.Boot("mesh ready: store=%s memory=%d entries", c.Store.Driver, ix.Len())
	return a, nil
}

func (a *app) Close() error {
	if err := a.budget.Save(); err != nil {
		logging.BudgetWarn("failed to save cost ledger: %v", err)
	}
	return a.backend.Close()
}

func plannerConfig(c *config.Config) planner.Config {
	pc := planner.DefaultConfig()
	pc.DefaultQuorum = c.Planner.DefaultQuorum
	if t := agents.AgentType(c.Planner.ProposingAgent); t.Valid() {
		pc.ProposingAgent = t
	}
	pc.FailureWindow = c.Planner.FailureWindow
	pc.FailureThreshold = c.Planner.FailureThreshold
	pc.ReplanTimeMultiplier = c.Planner.ReplanTimeMultiplier
	return pc
}

func memoryConfig(c *config.Config) memory.Config {
	return memory.Config{
		RetentionDays:     c.Memory.RetentionDays,
		MinScore:          c.Memory.MinScore,
		DefaultWindowDays: c.Memory.DefaultWindowDays,
		CandidateLimit:    c.Memory.CandidateLimit,
		DefaultLimit:      c.Memory.DefaultLimit,
	}
}

func routerConfig(c *config.Config) router.Config {
	return router.Config{
		HistorySize:       c.Router.HistorySize,
		ApprovalThreshold: c.Router.ApprovalThreshold,
		CommandTimeout:    c.GetCommandTimeout(),
		DefaultRetry: router.RetryPolicy{
			MaxAttempts:       c.Router.DefaultRetry.MaxAttempts,
			BackoffMultiplier: c.Router.DefaultRetry.BackoffMultiplier,
			InitialDelay:      c.GetRetryInitialDelay(),
		},
	}
}
