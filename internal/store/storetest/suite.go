// Package storetest holds the behavioral suite every store backend must
// pass. Backends run it from their own tests with a constructor.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/memory"
	"reasonmesh/internal/planner"
	"reasonmesh/internal/reasoning"
)

// Backend is the union of stores a backend implements.
type Backend interface {
	planner.GoalStore
	reasoning.RoundStore
	memory.Store
	Close() error
}

// Suite exercises a Backend. New is called once per test and must return
// an empty store.
type Suite struct {
	suite.Suite
	New func() (Backend, error)

	ctx   context.Context
	store Backend
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	st, err := s.New()
	s.Require().NoError(err)
	s.store = st
}

func (s *Suite) TearDownTest() {
	if s.store != nil {
		s.Require().NoError(s.store.Close())
	}
}

func goal(id string, status planner.GoalStatus) planner.Goal {
	return planner.Goal{
		ID:          id,
		Title:       "Goal " + id,
		Description: "grow newsletter signups",
		Status:      status,
		Metadata:    map[string]any{"source": "test"},
		CreatedAt:   epoch,
		UpdatedAt:   epoch,
	}
}

func (s *Suite) TestGoalLifecycle() {
	g := goal("goal_a", planner.StatusPlanning)
	s.Require().NoError(s.store.CreateGoal(s.ctx, g))

	got, err := s.store.GetGoal(s.ctx, "goal_a")
	s.Require().NoError(err)
	s.Equal("Goal goal_a", got.Title)
	s.Equal(planner.StatusPlanning, got.Status)
	s.Equal("test", got.Metadata["source"])

	got.Status = planner.StatusApproved
	got.UpdatedAt = epoch.Add(time.Minute)
	s.Require().NoError(s.store.UpdateGoal(s.ctx, *got))

	again, err := s.store.GetGoal(s.ctx, "goal_a")
	s.Require().NoError(err)
	s.Equal(planner.StatusApproved, again.Status)
	s.True(again.UpdatedAt.Equal(epoch.Add(time.Minute)))
}

func (s *Suite) TestGoalNotFound() {
	_, err := s.store.GetGoal(s.ctx, "missing")
	s.ErrorIs(err, planner.ErrGoalNotFound)

	err = s.store.UpdateGoal(s.ctx, goal("missing", planner.StatusFailed))
	s.ErrorIs(err, planner.ErrGoalNotFound)

	_, err = s.store.GetResult(s.ctx, "missing")
	s.ErrorIs(err, planner.ErrGoalNotFound)
}

func (s *Suite) TestListGoalsFiltersAndKeepsCreationOrder() {
	for _, g := range []planner.Goal{
		goal("goal_c", planner.StatusExecuting),
		goal("goal_a", planner.StatusFailed),
		goal("goal_b", planner.StatusExecuting),
	} {
		s.Require().NoError(s.store.CreateGoal(s.ctx, g))
	}

	all, err := s.store.ListGoals(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"goal_c", "goal_a", "goal_b"}, goalIDs(all))

	executing, err := s.store.ListGoals(s.ctx, planner.StatusExecuting)
	s.Require().NoError(err)
	s.Equal([]string{"goal_c", "goal_b"}, goalIDs(executing))

	none, err := s.store.ListGoals(s.ctx, planner.StatusCompleted)
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *Suite) TestResultIsReplaced() {
	g := goal("goal_r", planner.StatusApproved)
	s.Require().NoError(s.store.CreateGoal(s.ctx, g))

	s.Require().NoError(s.store.SaveResult(s.ctx, planner.PlanningResult{
		Goal:            g,
		RecruitedAgents: []agents.AgentType{agents.AgentStrategyPlanner},
	}))
	s.Require().NoError(s.store.SaveResult(s.ctx, planner.PlanningResult{
		Goal:            g,
		RecruitedAgents: []agents.AgentType{agents.AgentBrandVoice},
		ReplanDiff:      "+ new",
	}))

	got, err := s.store.GetResult(s.ctx, "goal_r")
	s.Require().NoError(err)
	s.Equal([]agents.AgentType{agents.AgentBrandVoice}, got.RecruitedAgents)
	s.Equal("+ new", got.ReplanDiff)
}

func (s *Suite) TestRecentAttemptsNewestFirst() {
	for i, st := range []agents.ExecutionStatus{agents.ExecCompleted, agents.ExecFailed, agents.ExecTimeout} {
		at := epoch.Add(time.Duration(i) * time.Minute)
		s.Require().NoError(s.store.SaveAttempt(s.ctx, planner.ExecutionAttempt{
			ID:          "att_" + string(rune('a'+i)),
			GoalPlanID:  "goal_x",
			AgentType:   agents.AgentContentCreator,
			Status:      st,
			StartedAt:   at,
			CompletedAt: at,
		}))
	}
	s.Require().NoError(s.store.SaveAttempt(s.ctx, planner.ExecutionAttempt{
		ID: "att_other", GoalPlanID: "goal_y", Status: agents.ExecFailed, CompletedAt: epoch,
	}))

	recent, err := s.store.RecentAttempts(s.ctx, "goal_x", 2)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal("att_c", recent[0].ID)
	s.Equal("att_b", recent[1].ID)

	all, err := s.store.RecentAttempts(s.ctx, "goal_x", 0)
	s.Require().NoError(err)
	s.Len(all, 3)
}

func (s *Suite) TestRoundNumbersAreSequentialPerGoal() {
	for want := 1; want <= 3; want++ {
		n, err := s.store.NextRoundNumber(s.ctx, "goal_1")
		s.Require().NoError(err)
		s.Equal(want, n)
	}
	n, err := s.store.NextRoundNumber(s.ctx, "goal_2")
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *Suite) TestRoundNumbersUnderConcurrency() {
	const workers = 8
	seen := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.store.NextRoundNumber(s.ctx, "goal_c")
			if err == nil {
				seen <- n
			}
		}()
	}
	wg.Wait()
	close(seen)

	got := make(map[int]bool)
	for n := range seen {
		s.False(got[n], "round number %d handed out twice", n)
		got[n] = true
	}
	s.Len(got, workers)
}

func (s *Suite) TestCompletedRoundsAreImmutable() {
	n, err := s.store.NextRoundNumber(s.ctx, "goal_i")
	s.Require().NoError(err)

	score := 0.8
	done := epoch.Add(time.Second)
	round := reasoning.ConsensusRound{
		GoalPlanID:        "goal_i",
		RoundNumber:       n,
		ParticipantAgents: []string{"brand_voice"},
		Quorum:            0.7,
		Result:            reasoning.ResultApproved,
		FinalScore:        &score,
		StartedAt:         epoch,
		CompletedAt:       &done,
	}
	s.Require().NoError(s.store.SaveRound(s.ctx, round))

	round.Result = reasoning.ResultRejected
	err = s.store.SaveRound(s.ctx, round)
	s.ErrorIs(err, reasoning.ErrRoundImmutable)

	latest, err := s.store.LatestRound(s.ctx, "goal_i")
	s.Require().NoError(err)
	s.Require().NotNil(latest)
	s.Equal(reasoning.ResultApproved, latest.Result)
	s.Require().NotNil(latest.FinalScore)
	s.InDelta(0.8, *latest.FinalScore, 1e-9)
}

func (s *Suite) TestLatestAndListRounds() {
	none, err := s.store.LatestRound(s.ctx, "goal_l")
	s.Require().NoError(err)
	s.Nil(none)

	for i := 0; i < 2; i++ {
		n, err := s.store.NextRoundNumber(s.ctx, "goal_l")
		s.Require().NoError(err)
		done := epoch.Add(time.Duration(n) * time.Minute)
		s.Require().NoError(s.store.SaveRound(s.ctx, reasoning.ConsensusRound{
			GoalPlanID:  "goal_l",
			RoundNumber: n,
			Result:      reasoning.ResultRejected,
			StartedAt:   epoch,
			CompletedAt: &done,
		}))
	}

	latest, err := s.store.LatestRound(s.ctx, "goal_l")
	s.Require().NoError(err)
	s.Require().NotNil(latest)
	s.Equal(2, latest.RoundNumber)

	rounds, err := s.store.ListRounds(s.ctx, "goal_l")
	s.Require().NoError(err)
	s.Require().Len(rounds, 2)
	s.Equal(1, rounds[0].RoundNumber)
	s.Equal(2, rounds[1].RoundNumber)

	next, err := s.store.NextRoundNumber(s.ctx, "goal_l")
	s.Require().NoError(err)
	s.Equal(3, next)
}

func (s *Suite) TestMemoryEntries() {
	score := 0.9
	for _, id := range []string{"mem_b", "mem_a"} {
		s.Require().NoError(s.store.SaveEntry(s.ctx, memory.Entry{
			ID:          id,
			AgentType:   agents.AgentSEOOptimizer,
			Outcome:     memory.OutcomeSuccess,
			Confidence:  0.9,
			Tags:        []string{"organic"},
			Performance: memory.Performance{SuccessMetricScore: &score},
			Temporal:    memory.Temporal{CreatedAt: epoch, LastAccessed: epoch, DecayScore: 1},
		}))
	}

	// Saving again updates in place.
	s.Require().NoError(s.store.SaveEntry(s.ctx, memory.Entry{
		ID:        "mem_a",
		AgentType: agents.AgentSEOOptimizer,
		Outcome:   memory.OutcomeSuccess,
		Temporal:  memory.Temporal{CreatedAt: epoch, LastAccessed: epoch, AccessCount: 3},
	}))

	entries, err := s.store.ListEntries(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal("mem_a", entries[0].ID)
	s.Equal(3, entries[0].Temporal.AccessCount)
	s.Require().NotNil(entries[1].Performance.SuccessMetricScore)

	s.Require().NoError(s.store.DeleteEntry(s.ctx, "mem_a"))
	s.Require().NoError(s.store.DeleteEntry(s.ctx, "mem_missing"))
	entries, err = s.store.ListEntries(s.ctx)
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func goalIDs(goals []planner.Goal) []string {
	out := make([]string, len(goals))
	for i, g := range goals {
		out[i] = g.ID
	}
	return out
}
