package reasoning

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/clock"
	"reasonmesh/internal/logging"
)

// Evaluator scores a plan on behalf of one agent.
type Evaluator interface {
	Evaluate(ctx context.Context, plan ProposedPlan, evaluator AgentRef) (PlanEvaluation, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, plan ProposedPlan, evaluator AgentRef) (PlanEvaluation, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, plan ProposedPlan, evaluator AgentRef) (PlanEvaluation, error) {
	return f(ctx, plan, evaluator)
}

// Protocol runs proposal, evaluation and consensus for planning attempts.
type Protocol struct {
	availability agents.Availability
	rounds       RoundStore
	clock        clock.Clock

	evalTimeout time.Duration
	evaluators  map[agents.AgentType]Evaluator
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option { return func(p *Protocol) { p.clock = c } }

// WithEvaluationTimeout bounds each evaluator call. Zero disables the bound.
func WithEvaluationTimeout(d time.Duration) Option {
	return func(p *Protocol) { p.evalTimeout = d }
}

// WithEvaluator installs a custom evaluator for one agent type. Agent types
// without one use the weighted default.
func WithEvaluator(agentType agents.AgentType, ev Evaluator) Option {
	return func(p *Protocol) { p.evaluators[agentType] = ev }
}

// NewProtocol creates a protocol. A nil RoundStore defaults to an
// in-process Ledger.
func NewProtocol(availability agents.Availability, rounds RoundStore, opts ...Option) *Protocol {
	if rounds == nil {
		rounds = NewLedger()
	}
	p := &Protocol{
		availability: availability,
		rounds:       rounds,
		clock:        clock.Real(),
		evalTimeout:  30 * time.Second,
		evaluators:   make(map[agents.AgentType]Evaluator),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Rounds exposes the round store.
func (p *Protocol) Rounds() RoundStore { return p.rounds }

// =============================================================================
// PROPOSAL
// =============================================================================

// ProposePlan validates plan and checks that its proposing agent is
// available. It returns a *ValidationError for malformed plans and wraps
// ErrProposerUnavailable when the proposer cannot be reached.
func (p *Protocol) ProposePlan(ctx context.Context, plan ProposedPlan) (*ProposedPlan, error) {
	if err := Validate(plan); err != nil {
		logging.ConsensusWarn("rejected proposal for %s: %v", plan.GoalPlanID, err)
		return nil, err
	}
	if plan.ProposingAgent == "" {
		return nil, &ValidationError{Field: "proposing_agent", Reason: "must not be empty"}
	}

	if p.availability != nil {
		status, err := p.availability.GetAgentAvailability(ctx, string(plan.ProposingAgent))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProposerUnavailable,
				&agents.AvailabilityError{AgentType: plan.ProposingAgent, Err: err})
		}
		if !status.IsAvailable {
			return nil, fmt.Errorf("%w: %s", ErrProposerUnavailable, plan.ProposingAgent)
		}
	}

	proposed := plan.Clone()
	logging.Consensus("plan proposed for %s by %s: %d subgoals, %d assignments",
		plan.GoalPlanID, plan.ProposingAgent, len(plan.SubGoals), len(plan.AgentSequence))
	return &proposed, nil
}

// =============================================================================
// EVALUATION
// =============================================================================

// EvaluatePlan obtains one evaluation of plan. The evaluator's call is
// abandoned when ctx is done.
func (p *Protocol) EvaluatePlan(ctx context.Context, plan ProposedPlan, evaluator AgentRef) (PlanEvaluation, error) {
	ev, ok := p.evaluators[evaluator.Type]
	if !ok {
		now := p.clock.Now()
		ev = EvaluatorFunc(func(context.Context, ProposedPlan, AgentRef) (PlanEvaluation, error) {
			return Assess(plan, evaluator, now), nil
		})
	}

	type outcome struct {
		eval PlanEvaluation
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		e, err := ev.Evaluate(ctx, plan, evaluator)
		ch <- outcome{e, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return PlanEvaluation{}, o.err
		}
		if o.eval.Score < 0 || o.eval.Score > 1 {
			return PlanEvaluation{}, fmt.Errorf("score %v outside [0,1]", o.eval.Score)
		}
		if o.eval.EvaluatorAgent == "" {
			o.eval.EvaluatorAgent = evaluator.id()
		}
		if o.eval.AgentType == "" {
			o.eval.AgentType = evaluator.Type
		}
		if o.eval.Timestamp.IsZero() {
			o.eval.Timestamp = p.clock.Now()
		}
		return o.eval, nil
	case <-ctx.Done():
		return PlanEvaluation{}, ctx.Err()
	}
}

// =============================================================================
// CONSENSUS
// =============================================================================

// ConsensusRound evaluates the first of plans with every participant
// concurrently and resolves the round. Failing evaluators are recorded and
// excluded. The completed round is persisted and returned; a consensus
// failure is a Result value, not an error.
func (p *Protocol) ConsensusRound(ctx context.Context, goalPlanID string, plans []ProposedPlan, participants []AgentRef, quorum float64) (*ConsensusRound, error) {
	timer := logging.StartTimer(logging.CategoryConsensus, "ConsensusRound")
	defer timer.Stop()

	if len(plans) == 0 {
		return nil, &ValidationError{Field: "plans", Reason: "must contain at least one plan"}
	}
	if quorum == 0 {
		quorum = DefaultQuorum
	}
	if quorum < 0 || quorum > 1 {
		return nil, &ValidationError{Field: "quorum", Reason: fmt.Sprintf("must be in (0,1], got %v", quorum)}
	}
	plan := plans[0].Clone()
	if err := Validate(plan); err != nil {
		return nil, err
	}

	number, err := p.rounds.NextRoundNumber(ctx, goalPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate round number: %w", err)
	}

	round := &ConsensusRound{
		GoalPlanID:        goalPlanID,
		RoundNumber:       number,
		ProposedPlan:      plan,
		ParticipantAgents: make([]string, len(participants)),
		Quorum:            quorum,
		Result:            ResultPending,
		StartedAt:         p.clock.Now(),
	}
	for i, ref := range participants {
		round.ParticipantAgents[i] = ref.id()
	}
	logging.Consensus("round %d for %s started with %d participants (quorum %.2f)",
		number, goalPlanID, len(participants), quorum)

	// Each goroutine writes only its own slot.
	evaluations := make([]*PlanEvaluation, len(participants))
	failures := make([]*EvaluationError, len(participants))

	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range participants {
		g.Go(func() error {
			ectx := gctx
			if p.evalTimeout > 0 {
				var cancel context.CancelFunc
				ectx, cancel = context.WithTimeout(gctx, p.evalTimeout)
				defer cancel()
			}
			eval, err := p.EvaluatePlan(ectx, plan, ref)
			if err != nil {
				logging.ConsensusWarn("evaluator %s failed on %s: %v", ref.id(), goalPlanID, err)
				failures[i] = &EvaluationError{AgentID: ref.id(), AgentType: ref.Type, Reason: err.Error(), Err: err}
				return nil
			}
			evaluations[i] = &eval
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("consensus round %d for %s aborted: %w", number, goalPlanID, err)
	}

	for i := range participants {
		if evaluations[i] != nil {
			round.Evaluations = append(round.Evaluations, *evaluations[i])
		}
		if failures[i] != nil {
			round.EvaluationErrors = append(round.EvaluationErrors, *failures[i])
		}
	}

	result, final := Resolve(round.Evaluations, len(participants), quorum)
	round.Result = result
	if len(round.Evaluations) > 0 {
		round.FinalScore = &final
	}
	if result == ResultApproved {
		winner := plan.Clone()
		round.WinningPlan = &winner
	}
	completed := p.clock.Now()
	round.CompletedAt = &completed

	if err := p.rounds.SaveRound(ctx, *round); err != nil {
		return nil, fmt.Errorf("failed to save round %d for %s: %w", number, goalPlanID, err)
	}

	logging.Consensus("round %d for %s resolved %s: score=%.3f participation=%d/%d",
		number, goalPlanID, result, final, len(round.Evaluations), len(participants))
	return round, nil
}

// Supersede runs a follow-up round for goalPlanID with a revised plan. It is
// only allowed while the latest round is pending; approved, rejected and
// quorum-not-met rounds stand. The superseded round is kept unchanged and
// the new round becomes the latest.
func (p *Protocol) Supersede(ctx context.Context, goalPlanID string, plan ProposedPlan, participants []AgentRef, quorum float64) (*ConsensusRound, error) {
	latest, err := p.rounds.LatestRound(ctx, goalPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest round for %s: %w", goalPlanID, err)
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %s has no rounds", ErrRoundNotPending, goalPlanID)
	}
	if latest.Result != ResultPending {
		return nil, fmt.Errorf("%w: %s round %d is %s", ErrRoundNotPending, goalPlanID, latest.RoundNumber, latest.Result)
	}
	logging.Consensus("superseding round %d for %s", latest.RoundNumber, goalPlanID)
	return p.ConsensusRound(ctx, goalPlanID, []ProposedPlan{plan}, participants, quorum)
}
