package decomposer

import (
	"context"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/logging"
	"reasonmesh/internal/memory"
)

// PatternSource supplies prior success patterns and pitfalls, usually the
// memory index.
type PatternSource interface {
	ContextualPrompts(ctx context.Context, goalType string, agentType agents.AgentType) (memory.Prompts, error)
}

// Decomposer wraps Decompose with optional lookups of prior executions.
type Decomposer struct {
	patterns PatternSource
}

// New creates a Decomposer. patterns may be nil.
func New(patterns PatternSource) *Decomposer {
	return &Decomposer{patterns: patterns}
}

// Decompose is the pure decomposition with logging.
func (d *Decomposer) Decompose(description string) DecomposedGoal {
	timer := logging.StartTimer(logging.CategoryDecomposer, "Decompose")
	defer timer.Stop()

	out := Decompose(description)
	logging.Decomposer("decomposed goal: category=%s urgency=%s subgoals=%d assignments=%d estimate=%dm complexity=%s",
		out.Category, out.Urgency, len(out.SubGoals), len(out.AgentSequence), out.EstimatedTimeMinutes, out.Complexity)
	return out
}

// DecomposeWithHistory decomposes description and annotates the result with
// patterns and pitfalls recorded for the category's execution agents. Lookup
// failures are logged and skipped; the structural decomposition is never
// changed by history.
func (d *Decomposer) DecomposeWithHistory(ctx context.Context, description string) DecomposedGoal {
	out := d.Decompose(description)
	if d.patterns == nil {
		return out
	}

	seenPattern := make(map[string]bool)
	seenPitfall := make(map[string]bool)
	for _, a := range out.AgentSequence {
		if a.Phase != 3 {
			continue
		}
		prompts, err := d.patterns.ContextualPrompts(ctx, string(out.Category), a.AgentType)
		if err != nil {
			logging.DecomposerDebug("no history for %s/%s: %v", out.Category, a.AgentType, err)
			continue
		}
		for _, list := range [][]string{prompts.SuccessPatterns, prompts.BestPractices} {
			for _, p := range list {
				if !seenPattern[p] {
					seenPattern[p] = true
					out.PriorPatterns = append(out.PriorPatterns, p)
				}
			}
		}
		for _, p := range prompts.Pitfalls {
			if !seenPitfall[p] {
				seenPitfall[p] = true
				out.KnownPitfalls = append(out.KnownPitfalls, p)
			}
		}
	}
	return out
}
