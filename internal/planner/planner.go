package planner

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/sync/errgroup"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/analytics"
	"reasonmesh/internal/clock"
	"reasonmesh/internal/decomposer"
	"reasonmesh/internal/logging"
	"reasonmesh/internal/memory"
	"reasonmesh/internal/reasoning"
	"reasonmesh/internal/telemetry"
)

// Config tunes planning and monitoring.
type Config struct {
	DefaultQuorum        float64
	ProposingAgent       agents.AgentType
	FailureWindow        int     // attempts inspected per executing goal
	FailureThreshold     int     // failed attempts in the window that trigger a replan
	ReplanTimeMultiplier float64 // estimate growth per replan
}

// DefaultConfig returns the standard planning settings.
func DefaultConfig() Config {
	return Config{
		DefaultQuorum:        reasoning.DefaultQuorum,
		ProposingAgent:       agents.AgentStrategyPlanner,
		FailureWindow:        5,
		FailureThreshold:     2,
		ReplanTimeMultiplier: 1.2,
	}
}

// Planner is the goal planning orchestrator.
type Planner struct {
	goals        GoalStore
	protocol     *reasoning.Protocol
	availability agents.Availability

	decomposer  *decomposer.Decomposer
	broadcaster Broadcaster
	memory      *memory.Index
	analytics   analytics.Source
	clock       clock.Clock
	cfg         Config
}

// Option configures a Planner.
type Option func(*Planner)

// WithDecomposer overrides the decomposer (e.g. one backed by memory).
func WithDecomposer(d *decomposer.Decomposer) Option { return func(p *Planner) { p.decomposer = d } }

// WithBroadcaster sets where planning-intent signals go.
func WithBroadcaster(b Broadcaster) Option { return func(p *Planner) { p.broadcaster = b } }

// WithMemory enables ingestion of planning outcomes and execution attempts.
func WithMemory(ix *memory.Index) Option { return func(p *Planner) { p.memory = ix } }

// WithAnalytics sets the performance figure source used by insights.
func WithAnalytics(s analytics.Source) Option { return func(p *Planner) { p.analytics = s } }

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option { return func(p *Planner) { p.clock = c } }

// WithConfig overrides planning settings.
func WithConfig(cfg Config) Option { return func(p *Planner) { p.cfg = cfg } }

// New creates a planner.
func New(goals GoalStore, protocol *reasoning.Protocol, availability agents.Availability, opts ...Option) *Planner {
	p := &Planner{
		goals:        goals,
		protocol:     protocol,
		availability: availability,
		decomposer:   decomposer.New(nil),
		clock:        clock.Real(),
		cfg:          DefaultConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// =============================================================================
// PLAN
// =============================================================================

// Plan decomposes a goal, recruits agents, proposes a plan and runs one
// consensus round. A consensus failure is reported through the result and
// leaves the goal failed; an error aborts planning, and a goal that was
// already persisted is marked failed before the error is returned.
func (p *Planner) Plan(ctx context.Context, req GoalRequest) (*PlanningResult, error) {
	timer := logging.StartTimer(logging.CategoryPlanner, "Plan")
	defer timer.Stop()

	if strings.TrimSpace(req.Description) == "" {
		return nil, ErrEmptyGoal
	}
	start := p.clock.Now()

	dec := p.decomposer.DecomposeWithHistory(ctx, req.Description)
	if err := decomposer.ValidateDependencies(dec.AgentSequence); err != nil {
		return nil, fmt.Errorf("decomposition produced invalid dependencies: %w", err)
	}
	if len(req.TargetMetrics) > 0 {
		if dec.TargetMetrics == nil {
			dec.TargetMetrics = make(map[string]float64)
		}
		for k, v := range req.TargetMetrics {
			dec.TargetMetrics[k] = v
		}
	}

	goal := Goal{
		ID:                   newGoalID(),
		Title:                goalTitle(req),
		Description:          req.Description,
		Priority:             dec.Urgency,
		Status:               StatusPlanning,
		Category:             dec.Category,
		TargetMetrics:        dec.TargetMetrics,
		SubGoals:             dec.SubGoals,
		AgentSequence:        dec.AgentSequence,
		Dependencies:         dec.Dependencies,
		RiskFactors:          dec.RiskFactors,
		Complexity:           dec.Complexity,
		EstimatedTimeMinutes: dec.EstimatedTimeMinutes,
		Metadata:             copyMetadata(req.Metadata),
		CreatedAt:            start,
		UpdatedAt:            start,
	}
	if req.Priority != "" {
		goal.Priority = req.Priority
	}

	if err := p.goals.CreateGoal(ctx, goal); err != nil {
		return nil, fmt.Errorf("failed to persist goal: %w", err)
	}
	logging.Planner("planning %s (%s, %s): %q", goal.ID, goal.Category, goal.Priority, goal.Title)

	p.broadcast(ctx, SignalPlanningIntent, goal, dec.RequiredAgentTypes())

	result, err := p.negotiate(ctx, &goal, dec, req.Quorum)
	if err != nil {
		p.markFailed(ctx, &goal, err)
		telemetry.RecordPlan(ctx, "plan", string(StatusFailed))
		return nil, err
	}
	if err := p.finish(ctx, &goal, result, start); err != nil {
		p.markFailed(ctx, &goal, err)
		telemetry.RecordPlan(ctx, "plan", string(StatusFailed))
		return nil, err
	}
	telemetry.RecordPlan(ctx, "plan", string(goal.Status))
	return result, nil
}

// =============================================================================
// REPLAN
// =============================================================================

// Replan re-runs recruitment, proposal and consensus for a stored goal with
// an adjusted decomposition, then overwrites its stored planning result.
func (p *Planner) Replan(ctx context.Context, goalPlanID, reason string) (*PlanningResult, error) {
	timer := logging.StartTimer(logging.CategoryPlanner, "Replan")
	defer timer.Stop()

	stored, err := p.goals.GetGoal(ctx, goalPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load goal %s: %w", goalPlanID, err)
	}
	if stored.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrGoalCompleted, goalPlanID)
	}
	goal := *stored
	start := p.clock.Now()
	before := outline(goal)

	goal.Status = StatusReplanning
	goal.UpdatedAt = start
	if err := p.goals.UpdateGoal(ctx, goal); err != nil {
		return nil, fmt.Errorf("failed to mark goal %s replanning: %w", goalPlanID, err)
	}

	analysis := AnalyzeFailure(reason)
	logging.Planner("replanning %s: cause=%q category=%s", goal.ID, analysis.Cause, analysis.Category)

	dec := adjustForReplan(goal, analysis, p.cfg.ReplanTimeMultiplier)
	goal.EstimatedTimeMinutes = dec.EstimatedTimeMinutes
	goal.RiskFactors = dec.RiskFactors
	goal.Complexity = dec.Complexity
	if goal.Metadata == nil {
		goal.Metadata = make(map[string]any)
	}
	goal.Metadata["last_replan_reason"] = analysis.Cause
	goal.Metadata["replan_count"] = metaInt(goal.Metadata["replan_count"]) + 1
	goal.Metadata["replanned_at"] = start.UTC().Format(time.RFC3339Nano)

	p.broadcast(ctx, SignalReplanningIntent, goal, dec.RequiredAgentTypes())

	result, err := p.negotiate(ctx, &goal, dec, 0)
	if err != nil {
		p.markFailed(ctx, &goal, err)
		telemetry.RecordPlan(ctx, "replan", string(StatusFailed))
		return nil, err
	}
	result.Failure = &analysis
	result.ReplanDiff = replanDiff(goal.ID, before, outline(goal))
	if err := p.finish(ctx, &goal, result, start); err != nil {
		p.markFailed(ctx, &goal, err)
		telemetry.RecordPlan(ctx, "replan", string(StatusFailed))
		return nil, err
	}
	telemetry.RecordPlan(ctx, "replan", string(goal.Status))
	return result, nil
}

// negotiate recruits agents, proposes the plan and runs the consensus round,
// updating goal in place with the round's outcome. It does not persist.
func (p *Planner) negotiate(ctx context.Context, goal *Goal, dec decomposer.DecomposedGoal, quorum float64) (*PlanningResult, error) {
	required := dec.RequiredAgentTypes()
	recruited, missing := p.recruit(ctx, required)

	plan := buildPlan(*goal, dec, recruited, required, p.cfg.ProposingAgent)
	proposed, err := p.protocol.ProposePlan(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("plan proposal for %s failed: %w", goal.ID, err)
	}

	if quorum == 0 {
		quorum = p.cfg.DefaultQuorum
	}
	round, err := p.protocol.ConsensusRound(ctx, goal.ID, []reasoning.ProposedPlan{*proposed},
		reasoning.Refs(recruited...), quorum)
	if err != nil {
		return nil, fmt.Errorf("consensus for %s failed: %w", goal.ID, err)
	}
	telemetry.RecordConsensusRound(ctx, string(round.Result))

	goal.BrandAlignment = proposed.BrandAlignment
	if goal.Metadata == nil {
		goal.Metadata = make(map[string]any)
	}
	goal.Metadata["consensus_round"] = round.RoundNumber
	if round.Result == reasoning.ResultApproved {
		goal.Status = StatusApproved
		goal.Confidence = *round.FinalScore
		goal.Feasibility = *round.FinalScore
		delete(goal.Metadata, "failure_reason")
	} else {
		goal.Status = StatusFailed
		goal.Feasibility = proposed.Feasibility
		goal.Confidence = 0
		if round.FinalScore != nil {
			goal.Confidence = *round.FinalScore
		}
		goal.Metadata["failure_reason"] = "consensus " + string(round.Result)
	}

	return &PlanningResult{
		Decomposition:   dec,
		Round:           round,
		RecruitedAgents: recruited,
		MissingAgents:   missing,
		Risk:            AssessRisk(dec.RiskFactors),
	}, nil
}

// finish records the outcome in memory, then persists the goal and its
// planning result. A memory failure is logged; a persistence failure is
// returned.
func (p *Planner) finish(ctx context.Context, goal *Goal, result *PlanningResult, start time.Time) error {
	now := p.clock.Now()
	goal.PlanningDuration = now.Sub(start)
	goal.UpdatedAt = now

	if ref := p.remember(ctx, *goal, result); ref != "" {
		goal.Metadata["memory_refs"] = append(memoryRefs(goal.Metadata), ref)
	}
	result.Goal = *goal

	if err := p.goals.UpdateGoal(ctx, *goal); err != nil {
		return fmt.Errorf("failed to update goal %s: %w", goal.ID, err)
	}
	if err := p.goals.SaveResult(ctx, *result); err != nil {
		return fmt.Errorf("failed to save planning result for %s: %w", goal.ID, err)
	}
	logging.Planner("goal %s %s after round %d (confidence %.2f, %d/%d agents, risk %s)",
		goal.ID, goal.Status, result.Round.RoundNumber, goal.Confidence,
		len(result.RecruitedAgents), len(result.RecruitedAgents)+len(result.MissingAgents), result.Risk.Level)
	return nil
}

func (p *Planner) markFailed(ctx context.Context, goal *Goal, cause error) {
	goal.Status = StatusFailed
	goal.UpdatedAt = p.clock.Now()
	if goal.Metadata == nil {
		goal.Metadata = make(map[string]any)
	}
	goal.Metadata["failure_reason"] = cause.Error()
	// The caller's context may be the reason for the failure.
	if err := p.goals.UpdateGoal(context.WithoutCancel(ctx), *goal); err != nil {
		logging.PlannerError("failed to mark goal %s failed: %v", goal.ID, err)
	}
	logging.PlannerWarn("goal %s failed: %v", goal.ID, cause)
}

// =============================================================================
// RECRUITMENT & PROPOSAL
// =============================================================================

// recruit queries availability for every required agent type concurrently.
// Unavailable or failing lookups are logged and reported as missing.
func (p *Planner) recruit(ctx context.Context, required []agents.AgentType) (recruited, missing []agents.AgentType) {
	available := make([]bool, len(required))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range required {
		g.Go(func() error {
			if p.availability == nil {
				available[i] = true
				return nil
			}
			status, err := p.availability.GetAgentAvailability(gctx, string(t))
			if err != nil {
				aerr := &agents.AvailabilityError{AgentType: t, Err: err}
				logging.PlannerWarn("recruitment: %v", aerr)
				return nil
			}
			if !status.IsAvailable {
				logging.PlannerWarn("recruitment: %v", &agents.AvailabilityError{AgentType: t})
				return nil
			}
			available[i] = true
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range required {
		if available[i] {
			recruited = append(recruited, t)
		} else {
			missing = append(missing, t)
		}
	}
	logging.PlannerDebug("recruited %d/%d agents, missing %v", len(recruited), len(required), missing)
	return recruited, missing
}

// buildPlan turns a decomposition into a proposal. Feasibility scales with
// the share of required agents that could be recruited.
func buildPlan(goal Goal, dec decomposer.DecomposedGoal, recruited, required []agents.AgentType, proposer agents.AgentType) reasoning.ProposedPlan {
	feasibility := 1.0
	if len(required) > 0 {
		feasibility = float64(len(recruited)) / float64(len(required))
	}
	brand := 0.6
	for _, t := range recruited {
		if t == agents.AgentBrandVoice {
			brand = 0.85
			break
		}
	}
	confidence := (feasibility + brand) / 2 * math.Max(0, 1-0.1*float64(len(dec.RiskFactors)))

	return reasoning.ProposedPlan{
		GoalPlanID:           goal.ID,
		Title:                goal.Title,
		ProposingAgent:       proposer,
		SubGoals:             dec.SubGoals,
		AgentSequence:        dec.AgentSequence,
		EstimatedTimeMinutes: dec.EstimatedTimeMinutes,
		BrandAlignment:       brand,
		Feasibility:          feasibility,
		Confidence:           confidence,
		RiskFactors:          dec.RiskFactors,
		Dependencies:         dec.Dependencies,
	}
}

func (p *Planner) broadcast(ctx context.Context, kind string, goal Goal, required []agents.AgentType) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.Broadcast(ctx, Signal{
		Kind:           kind,
		GoalPlanID:     goal.ID,
		Title:          goal.Title,
		RequiredAgents: required,
		At:             p.clock.Now(),
	})
}

// remember ingests the planning outcome into memory and returns its id.
func (p *Planner) remember(ctx context.Context, goal Goal, result *PlanningResult) string {
	if p.memory == nil {
		return ""
	}
	outcome := memory.OutcomeFailure
	if result.Approved() {
		outcome = memory.OutcomeSuccess
	}
	id, err := p.memory.Ingest(ctx, memory.Record{
		AgentType:  p.cfg.ProposingAgent,
		SessionID:  goal.ID,
		GoalPlanID: goal.ID,
		Input:      map[string]any{"goal": goal.Description, "category": string(goal.Category)},
		Output: map[string]any{
			"result":      string(result.Round.Result),
			"risk_level":  string(result.Risk.Level),
			"risk":        goal.RiskFactors,
			"recruited":   result.RecruitedAgents,
			"missing":     result.MissingAgents,
			"round":       result.Round.RoundNumber,
			"subgoal_ids": subGoalIDs(goal.SubGoals),
		},
		Outcome:     outcome,
		Performance: memory.Performance{ExecutionTimeMs: goal.PlanningDuration.Milliseconds()},
	})
	if err != nil {
		logging.PlannerWarn("failed to record planning outcome for %s: %v", goal.ID, err)
		return ""
	}
	return id
}

// =============================================================================
// HELPERS
// =============================================================================

func newGoalID() string {
	return "goal_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

func goalTitle(req GoalRequest) string {
	if t := strings.TrimSpace(req.Title); t != "" {
		return t
	}
	d := strings.TrimSpace(req.Description)
	if r := []rune(d); len(r) > 60 {
		return string(r[:60]) + "..."
	}
	return d
}

func scaleMinutes(minutes int, multiplier float64) int {
	return int(math.Round(float64(minutes) * multiplier))
}

func copyMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// metaInt reads a counter that may have been through a JSON round trip.
func metaInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// replannedAt is when g was last replanned, or the zero time.
func replannedAt(g Goal) time.Time {
	s, _ := g.Metadata["replanned_at"].(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func memoryRefs(meta map[string]any) []string {
	switch refs := meta["memory_refs"].(type) {
	case []string:
		return refs
	case []any:
		out := make([]string, 0, len(refs))
		for _, r := range refs {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func subGoalIDs(sgs []decomposer.SubGoal) []string {
	out := make([]string, len(sgs))
	for i, sg := range sgs {
		out[i] = sg.ID
	}
	return out
}

// outline is the line-oriented view of a goal used for replan diffs.
func outline(g Goal) []string {
	lines := []string{
		fmt.Sprintf("estimate: %dm", g.EstimatedTimeMinutes),
		fmt.Sprintf("complexity: %s", g.Complexity),
	}
	for _, sg := range g.SubGoals {
		lines = append(lines, fmt.Sprintf("subgoal %s: %s (%dm)", sg.ID, sg.Title, sg.EstimatedTimeMinutes))
	}
	for _, a := range g.AgentSequence {
		lines = append(lines, fmt.Sprintf("phase %d %s (%dm)", a.Phase, a.AgentType, a.EstimatedDurationMinutes))
	}
	for _, r := range g.RiskFactors {
		lines = append(lines, "risk: "+r)
	}
	return lines
}

func replanDiff(goalID string, before, after []string) string {
	diff := difflib.UnifiedDiff{
		A:        withNewlines(before),
		B:        withNewlines(after),
		FromFile: goalID + " (previous)",
		ToFile:   goalID + " (replanned)",
		Context:  1,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		logging.PlannerDebug("replan diff for %s unavailable: %v", goalID, err)
		return ""
	}
	return text
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}
