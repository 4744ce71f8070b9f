package reasoning

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// RoundStore persists consensus rounds. Rounds are append-only: a round
// that has CompletedAt set may not be saved again.
type RoundStore interface {
	// NextRoundNumber reserves the next round number for goalPlanID,
	// starting at 1.
	NextRoundNumber(ctx context.Context, goalPlanID string) (int, error)
	SaveRound(ctx context.Context, round ConsensusRound) error
	// LatestRound returns nil when the goal has no rounds.
	LatestRound(ctx context.Context, goalPlanID string) (*ConsensusRound, error)
	ListRounds(ctx context.Context, goalPlanID string) ([]ConsensusRound, error)
}

// Ledger is an in-process RoundStore.
type Ledger struct {
	mu     sync.Mutex
	next   map[string]int
	rounds map[string]map[int]ConsensusRound
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		next:   make(map[string]int),
		rounds: make(map[string]map[int]ConsensusRound),
	}
}

func (l *Ledger) NextRoundNumber(_ context.Context, goalPlanID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next[goalPlanID]++
	return l.next[goalPlanID], nil
}

func (l *Ledger) SaveRound(_ context.Context, round ConsensusRound) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	byNum := l.rounds[round.GoalPlanID]
	if byNum == nil {
		byNum = make(map[int]ConsensusRound)
		l.rounds[round.GoalPlanID] = byNum
	}
	if existing, ok := byNum[round.RoundNumber]; ok && existing.CompletedAt != nil {
		return fmt.Errorf("%w: %s round %d", ErrRoundImmutable, round.GoalPlanID, round.RoundNumber)
	}
	byNum[round.RoundNumber] = round
	if round.RoundNumber > l.next[round.GoalPlanID] {
		l.next[round.GoalPlanID] = round.RoundNumber
	}
	return nil
}

func (l *Ledger) LatestRound(_ context.Context, goalPlanID string) (*ConsensusRound, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var latest *ConsensusRound
	for n, r := range l.rounds[goalPlanID] {
		if latest == nil || n > latest.RoundNumber {
			r := r
			latest = &r
		}
	}
	return latest, nil
}

func (l *Ledger) ListRounds(_ context.Context, goalPlanID string) ([]ConsensusRound, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ConsensusRound, 0, len(l.rounds[goalPlanID]))
	for _, r := range l.rounds[goalPlanID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundNumber < out[j].RoundNumber })
	return out, nil
}
