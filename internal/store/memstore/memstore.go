// Package memstore is an in-process implementation of the mesh stores,
// used by tests and the CLI's --ephemeral mode.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"reasonmesh/internal/memory"
	"reasonmesh/internal/planner"
	"reasonmesh/internal/reasoning"
)

// Store keeps every record in maps. Records are deep-copied through JSON on
// the way in and out so callers never share state with the store.
type Store struct {
	*reasoning.Ledger

	mu       sync.RWMutex
	goals    map[string][]byte
	order    []string
	results  map[string][]byte
	attempts map[string][][]byte // per goal, oldest first
	entries  map[string][]byte
}

// New creates an empty store.
func New() *Store {
	return &Store{
		Ledger:   reasoning.NewLedger(),
		goals:    make(map[string][]byte),
		results:  make(map[string][]byte),
		attempts: make(map[string][][]byte),
		entries:  make(map[string][]byte),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) CreateGoal(_ context.Context, g planner.Goal) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode goal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.goals[g.ID]; exists {
		return fmt.Errorf("goal %s already exists", g.ID)
	}
	s.goals[g.ID] = data
	s.order = append(s.order, g.ID)
	return nil
}

func (s *Store) GetGoal(_ context.Context, id string) (*planner.Goal, error) {
	s.mu.RLock()
	data, ok := s.goals[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", planner.ErrGoalNotFound, id)
	}
	var g planner.Goal
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode goal %s: %w", id, err)
	}
	return &g, nil
}

func (s *Store) UpdateGoal(_ context.Context, g planner.Goal) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode goal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.goals[g.ID]; !ok {
		return fmt.Errorf("%w: %s", planner.ErrGoalNotFound, g.ID)
	}
	s.goals[g.ID] = data
	return nil
}

func (s *Store) ListGoals(_ context.Context, statuses ...planner.GoalStatus) ([]planner.Goal, error) {
	want := make(map[planner.GoalStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]planner.Goal, 0, len(s.order))
	for _, id := range s.order {
		var g planner.Goal
		if err := json.Unmarshal(s.goals[id], &g); err != nil {
			return nil, fmt.Errorf("decode goal %s: %w", id, err)
		}
		if len(want) > 0 && !want[g.Status] {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Store) SaveResult(_ context.Context, r planner.PlanningResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode planning result: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.Goal.ID] = data
	return nil
}

func (s *Store) GetResult(_ context.Context, goalID string) (*planner.PlanningResult, error) {
	s.mu.RLock()
	data, ok := s.results[goalID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no planning result for %s", planner.ErrGoalNotFound, goalID)
	}
	var r planner.PlanningResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode planning result %s: %w", goalID, err)
	}
	return &r, nil
}

func (s *Store) SaveAttempt(_ context.Context, a planner.ExecutionAttempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.GoalPlanID] = append(s.attempts[a.GoalPlanID], data)
	return nil
}

func (s *Store) RecentAttempts(_ context.Context, goalID string, n int) ([]planner.ExecutionAttempt, error) {
	s.mu.RLock()
	raw := s.attempts[goalID]
	s.mu.RUnlock()

	out := make([]planner.ExecutionAttempt, 0, len(raw))
	for _, data := range raw {
		var a planner.ExecutionAttempt
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("decode attempt: %w", err)
		}
		out = append(out, a)
	}
	// Newest first; insertion order breaks ties.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *Store) SaveEntry(_ context.Context, e memory.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode memory entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = data
	return nil
}

func (s *Store) DeleteEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *Store) ListEntries(_ context.Context) ([]memory.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]memory.Entry, 0, len(s.entries))
	for id, data := range s.entries {
		var e memory.Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode memory entry %s: %w", id, err)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
