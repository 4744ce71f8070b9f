package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/budget"
	"reasonmesh/internal/clock"
	"reasonmesh/internal/intent"
	"reasonmesh/internal/logging"
	"reasonmesh/internal/memory"
	"reasonmesh/internal/telemetry"
)

// Invoker executes one task on one agent type. *agents.Registry satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, agentType agents.AgentType, task agents.Task) (agents.ExecutionResult, error)
}

// Config tunes the router.
type Config struct {
	HistorySize       int
	ApprovalThreshold float64       // 0 = unconstrained; a caller's own threshold wins
	CommandTimeout    time.Duration // 0 = no deadline beyond the caller's ctx
	DefaultRetry      RetryPolicy
}

// DefaultConfig returns the standard router settings.
func DefaultConfig() Config {
	return Config{
		HistorySize:    100,
		CommandTimeout: 5 * time.Minute,
		DefaultRetry:   RetryPolicy{MaxAttempts: 1, BackoffMultiplier: 2, InitialDelay: time.Second},
	}
}

// Router routes commands to agents and workflows.
type Router struct {
	invoker Invoker
	parser  intent.Parser
	budget  budget.Checker
	memory  *memory.Index
	clock   clock.Clock
	cfg     Config

	mu        sync.Mutex
	rules     []RoutingRule
	workflows map[string]Workflow
	active    map[string]*command
	history   *history
}

// Option configures a Router.
type Option func(*Router)

// WithBudget enables the budget gate and cost tracking.
func WithBudget(b budget.Checker) Option { return func(r *Router) { r.budget = b } }

// WithMemory ingests every agent execution into ix.
func WithMemory(ix *memory.Index) Option { return func(r *Router) { r.memory = ix } }

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option { return func(r *Router) { r.clock = c } }

// WithConfig overrides router settings.
func WithConfig(cfg Config) Option { return func(r *Router) { r.cfg = cfg } }

// New creates a router with the default rules and workflows.
func New(invoker Invoker, parser intent.Parser, opts ...Option) *Router {
	r := &Router{
		invoker:   invoker,
		parser:    parser,
		clock:     clock.Real(),
		cfg:       DefaultConfig(),
		workflows: defaultWorkflows(),
		active:    make(map[string]*command),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.parser == nil {
		r.parser = intent.NewKeywordParser()
	}
	r.history = newHistory(r.cfg.HistorySize)
	for _, rule := range defaultRules() {
		r.AddRule(rule)
	}
	return r
}

// command is a command in flight. Workflow steps write to it concurrently.
type command struct {
	mu         sync.Mutex
	res        CommandResult
	executions []agents.ExecutionResult
	cancel     context.CancelFunc
	cancelled  bool
}

func (c *command) snapshot() CommandResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res.clone()
}

func (c *command) recordExecution(exec agents.ExecutionResult) {
	c.mu.Lock()
	c.executions = append(c.executions, exec)
	c.mu.Unlock()
}

func (c *command) recordStep(s StepResult) {
	c.mu.Lock()
	c.res.Steps = append(c.res.Steps, s)
	c.mu.Unlock()
}

// AddRule installs a routing rule. Rules stay sorted by descending
// priority; equal priorities keep insertion order.
func (r *Router) AddRule(rule RoutingRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	sort.SliceStable(r.rules, func(i, j int) bool {
		return r.rules[i].Priority > r.rules[j].Priority
	})
}

// AddWorkflow installs or replaces the workflow for an intent key.
func (r *Router) AddWorkflow(key string, wf Workflow) error {
	if _, err := wf.levels(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[key] = wf
	return nil
}

// SelectAgent returns the agent for in and its fallbacks: the first
// matching rule by priority, else the action/entity table.
func (r *Router) SelectAgent(in intent.Intent) (agents.AgentType, []agents.AgentType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range r.rules {
		if rule.Condition != nil && rule.Condition(in) {
			return rule.AgentType, append([]agents.AgentType(nil), rule.FallbackAgents...)
		}
	}
	return defaultAgent(in), nil
}

// ProcessCommand parses and executes command for the caller described by
// cctx. It never returns nil; every outcome, including rejections, is
// archived in the history.
func (r *Router) ProcessCommand(ctx context.Context, text string, cctx CommandContext) *CommandResult {
	cmd := &command{res: CommandResult{
		ID:        "cmd_" + uuid.New().String(),
		Command:   text,
		Status:    StatusPending,
		StartedAt: r.clock.Now(),
	}}
	log := logging.WithRequestID(logging.CategoryRouter, cmd.res.ID).WithField("user", cctx.UserID)

	in, err := r.parser.Parse(ctx, text)
	if err != nil {
		return r.finish(ctx, cmd, StatusFailed, fmt.Sprintf("failed to parse command: %v", err))
	}
	cmd.res.Intent = in
	cmd.res.EstimatedBudgetImpact = EstimateBudgetImpact(in)
	log = log.WithField("intent", in.Key())

	if reason := checkPermissions(in, cctx); reason != "" {
		log.Warn("rejected: %s", reason)
		return r.finish(ctx, cmd, StatusFailed, reason)
	}
	rt, reason := r.resolve(in, cctx)
	if reason != "" {
		log.Warn("rejected: %s", reason)
		return r.finish(ctx, cmd, StatusFailed, reason)
	}

	if status, reason := r.gate(ctx, cmd.res.EstimatedBudgetImpact, cctx); status != "" {
		log.Info("command held: %s", reason)
		return r.finish(ctx, cmd, status, reason)
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if r.cfg.CommandTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.CommandTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	r.mu.Lock()
	cmd.cancel = cancel
	cmd.res.Status = StatusRunning
	if rt.workflow != nil {
		cmd.res.Workflow = rt.workflow.Name
	}
	r.active[cmd.res.ID] = cmd
	r.mu.Unlock()

	var runErr error
	if rt.workflow != nil {
		log.Info("running workflow %s (%d steps)", rt.workflow.Name, len(rt.workflow.Steps))
		runErr = r.runWorkflow(runCtx, cmd, *rt.workflow)
	} else {
		runErr = r.runSingle(runCtx, cmd, cctx, rt.candidates)
	}

	// Work has returned; CancelCommand reports ErrNotRunning from here on.
	cmd.mu.Lock()
	cancelled := cmd.cancelled
	cmd.cancel = nil
	cmd.mu.Unlock()

	r.ingest(ctx, cmd, cctx)

	status, reason := StatusCompleted, ""
	switch {
	case runErr == nil:
	case cancelled:
		status, reason = StatusCancelled, "cancelled"
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		status, reason = StatusTimeout, fmt.Sprintf("command exceeded its deadline: %v", runCtx.Err())
	case runCtx.Err() != nil:
		status, reason = StatusCancelled, runCtx.Err().Error()
	default:
		status, reason = StatusFailed, runErr.Error()
	}

	if status == StatusCompleted {
		r.trackCost(ctx, cmd, cctx)
	} else {
		cmd.mu.Lock()
		cmd.res.AgentResults = nil
		cmd.mu.Unlock()
		log.Warn("command %s: %s", status, reason)
	}
	return r.finish(ctx, cmd, status, reason)
}

// checkPermissions returns a denial reason, or "" when allowed.
func checkPermissions(in intent.Intent, cctx CommandContext) string {
	switch {
	case !cctx.has(PermExecuteCommands):
		return "permission denied: " + PermExecuteCommands + " required"
	case mutatesCampaign(in) && !cctx.has(PermManageCampaigns):
		return "permission denied: " + PermManageCampaigns + " required to " + in.PrimaryAction + " a campaign"
	case isReporting(in) && !cctx.has(PermAccessReports):
		return "permission denied: " + PermAccessReports + " required"
	}
	return ""
}

// route is what will service a command: a workflow, or candidate agents
// in the order they are tried.
type route struct {
	workflow   *Workflow
	candidates []agents.AgentType
}

// resolve picks the workflow or agents for in and returns a denial reason
// when the caller may not use them. A registered workflow wins over rules.
func (r *Router) resolve(in intent.Intent, cctx CommandContext) (route, string) {
	r.mu.Lock()
	wf, isWorkflow := r.workflows[in.Key()]
	r.mu.Unlock()
	if isWorkflow {
		for _, s := range wf.Steps {
			if !cctx.allows(s.AgentType) {
				return route{}, fmt.Sprintf("permission denied: workflow %s step %s needs agent %s, which is not allowed for this caller",
					wf.Name, s.ID, s.AgentType)
			}
		}
		return route{workflow: &wf}, ""
	}

	primary, fallbacks := r.SelectAgent(in)
	var candidates []agents.AgentType
	for _, t := range append([]agents.AgentType{primary}, fallbacks...) {
		if cctx.allows(t) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return route{}, fmt.Sprintf("permission denied: agent %s is not allowed for this caller", primary)
	}
	if !cctx.AutoFix {
		candidates = candidates[:1]
	}
	return route{candidates: candidates}, ""
}

// gate applies the budget constraints. AutoFix has no effect here.
func (r *Router) gate(ctx context.Context, impact float64, cctx CommandContext) (CommandStatus, string) {
	if impact <= 0 {
		return "", ""
	}
	if limit := cctx.Constraints.MaxBudgetImpact; limit > 0 && impact > limit {
		return StatusRequiresApproval, fmt.Sprintf("estimated budget impact %.2f exceeds limit %.2f", impact, limit)
	}
	threshold := cctx.Constraints.ApprovalThreshold
	if threshold == 0 {
		threshold = r.cfg.ApprovalThreshold
	}
	if threshold > 0 && impact > threshold {
		return StatusRequiresApproval, fmt.Sprintf("estimated budget impact %.2f exceeds approval threshold %.2f", impact, threshold)
	}
	if r.budget == nil {
		return "", ""
	}
	st, err := r.budget.CheckBudgetStatus(ctx)
	if err != nil {
		return StatusFailed, fmt.Sprintf("budget check failed: %v", err)
	}
	if !st.CanExecute {
		logging.BudgetWarn("budget exhausted: %.2f of %.2f spent (%.1f%%)", st.Spent, st.Limit, st.UtilizationPercentage)
		return StatusRequiresApproval, fmt.Sprintf("budget exhausted: %.1f%% of monthly limit used", st.UtilizationPercentage)
	}
	return "", ""
}

// runSingle invokes the candidates in order until one succeeds.
func (r *Router) runSingle(ctx context.Context, cmd *command, cctx CommandContext, candidates []agents.AgentType) error {
	in := cmd.res.Intent

	task := agents.Task{
		ID:          cmd.res.ID,
		Description: in.Raw,
		Input:       map[string]any{"action": in.PrimaryAction, "entity": in.EntityType, "parameters": in.Parameters},
		Context:     map[string]any{"command_id": cmd.res.ID, "user_id": cctx.UserID, "session_id": cctx.SessionID},
	}

	var lastErr error
	for i, t := range candidates {
		if i > 0 {
			logging.RouterWarn("%s: %s failed, falling back to %s", cmd.res.ID, candidates[i-1], t)
		}
		exec, err := r.invoker.Invoke(ctx, t, task)
		cmd.recordExecution(exec)
		cmd.mu.Lock()
		cmd.res.AgentResults = append(cmd.res.AgentResults, exec)
		cmd.mu.Unlock()
		if err == nil && exec.Succeeded() {
			return nil
		}
		lastErr = executionError(exec, err)
		if ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

func executionError(exec agents.ExecutionResult, err error) error {
	if err != nil {
		return err
	}
	if exec.Error != "" {
		return errors.New(exec.Error)
	}
	return fmt.Errorf("agent %s did not succeed (status %s)", exec.AgentType, exec.Status)
}

func (r *Router) trackCost(ctx context.Context, cmd *command, cctx CommandContext) {
	if r.budget == nil {
		return
	}
	op := cmd.res.Intent.Key()
	if cmd.res.Workflow != "" {
		op = cmd.res.Workflow
	}
	for _, exec := range cmd.res.AgentResults {
		rec := budget.CostRecord{
			Timestamp:  exec.CompletedAt,
			AgentType:  string(exec.AgentType),
			Operation:  op,
			SessionID:  cctx.SessionID,
			CommandID:  cmd.res.ID,
			TokensUsed: exec.TokensUsed,
			Cost:       exec.Cost,
		}
		if err := r.budget.TrackCost(ctx, rec); err != nil {
			logging.BudgetWarn("failed to track cost for %s: %v", cmd.res.ID, err)
		}
	}
}

// ingest records every execution, successful or not, into memory.
func (r *Router) ingest(ctx context.Context, cmd *command, cctx CommandContext) {
	if r.memory == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	cmd.mu.Lock()
	execs := append([]agents.ExecutionResult(nil), cmd.executions...)
	cmd.mu.Unlock()

	in := cmd.res.Intent
	for _, exec := range execs {
		outcome := memory.OutcomeFailure
		if exec.Succeeded() {
			outcome = memory.OutcomeSuccess
		}
		rec := memory.Record{
			AgentID:   exec.AgentID,
			AgentType: exec.AgentType,
			SessionID: cctx.SessionID,
			Input:     map[string]any{"command": cmd.res.Command, "action": in.PrimaryAction, "entity": in.EntityType},
			Output:    asMap(exec.Result),
			Outcome:   outcome,
			Performance: memory.Performance{
				ExecutionTimeMs: exec.Duration.Milliseconds(),
				TokensUsed:      exec.TokensUsed,
				Cost:            exec.Cost,
			},
			Metadata: map[string]any{"command_id": cmd.res.ID, "task_id": exec.TaskID},
		}
		if _, err := r.memory.Ingest(ctx, rec); err != nil {
			logging.RouterWarn("failed to ingest execution of %s: %v", exec.AgentType, err)
		}
	}
}

func asMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// finish stamps the terminal status, archives the command and returns a copy.
func (r *Router) finish(ctx context.Context, cmd *command, status CommandStatus, reason string) *CommandResult {
	cmd.mu.Lock()
	cmd.res.Status = status
	cmd.res.Reason = reason
	cmd.res.CompletedAt = r.clock.Now()
	cmd.res.Duration = cmd.res.CompletedAt.Sub(cmd.res.StartedAt)
	out := cmd.res.clone()
	cmd.mu.Unlock()

	r.mu.Lock()
	delete(r.active, out.ID)
	r.history.push(out)
	r.mu.Unlock()

	telemetry.RecordCommand(ctx, string(status), out.Duration)
	logging.WithRequestID(logging.CategoryRouter, out.ID).
		WithField("status", status).
		WithField("duration", out.Duration).
		Info("command %q finished: %s", out.Command, status)

	res := out.clone()
	return &res
}

// CancelCommand cancels a running command. It returns ErrNotRunning for
// commands that already finished.
func (r *Router) CancelCommand(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.active[id]
	if !ok {
		if _, archived := r.history.find(id); archived {
			return fmt.Errorf("%w: %s", ErrNotRunning, id)
		}
		return fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}

	cmd.mu.Lock()
	defer cmd.mu.Unlock()
	if cmd.res.Status != StatusRunning || cmd.cancel == nil {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	cmd.cancelled = true
	cmd.cancel()
	logging.Router("cancelled command %s", id)
	return nil
}

// GetCommand returns a running or archived command.
func (r *Router) GetCommand(id string) (CommandResult, bool) {
	r.mu.Lock()
	cmd, ok := r.active[id]
	if !ok {
		res, found := r.history.find(id)
		r.mu.Unlock()
		return res.clone(), found
	}
	r.mu.Unlock()
	return cmd.snapshot(), true
}

// History returns archived commands, oldest first.
func (r *Router) History() []CommandResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.history.list()
	for i := range out {
		out[i] = out[i].clone()
	}
	return out
}
