package planner_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"reasonmesh/internal/clock"
	"reasonmesh/internal/planner"
)

func TestMonitorRunsOnEveryTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	fc := clock.NewFake(epoch)
	var calls atomic.Int64
	m := planner.NewMonitor("test", time.Minute, fc, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	passes := make(chan error, 4)
	m.OnPass(func(err error) { passes <- err })

	require.NoError(t, m.Start(context.Background()))
	assert.ErrorIs(t, m.Start(context.Background()), planner.ErrMonitorRunning)

	for i := 0; i < 3; i++ {
		fc.Advance(time.Minute)
		select {
		case err := <-passes:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatalf("pass %d did not run", i+1)
		}
	}
	m.Stop()

	assert.EqualValues(t, 3, calls.Load())
	assert.EqualValues(t, 3, m.Runs())
	assert.Zero(t, m.Skipped())
}

func TestMonitorSkipsOverlappingTicks(t *testing.T) {
	defer goleak.VerifyNone(t)

	fc := clock.NewFake(epoch)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	m := planner.NewMonitor("slow", time.Minute, fc, func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, m.Start(context.Background()))

	fc.Advance(time.Minute)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first pass did not start")
	}

	fc.Advance(time.Minute)
	require.Eventually(t, func() bool { return m.Skipped() == 1 }, 2*time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return m.Runs() == 1 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()
	assert.EqualValues(t, 1, m.Skipped())
}

func TestMonitorStopCancelsInFlightPass(t *testing.T) {
	defer goleak.VerifyNone(t)

	fc := clock.NewFake(epoch)
	started := make(chan struct{}, 1)
	m := planner.NewMonitor("cancel", time.Second, fc, func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})
	var lastErr atomic.Value
	m.OnPass(func(err error) { lastErr.Store(err) })

	require.NoError(t, m.Start(context.Background()))
	fc.Advance(time.Second)
	<-started

	m.Stop()
	m.Stop()

	err, _ := lastErr.Load().(error)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.EqualValues(t, 1, m.Runs())
}

func TestPlannerMonitorReplansOnTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, nil, nil)
	ctx := context.Background()
	res, err := h.planner.Plan(ctx, planner.GoalRequest{Description: engagementGoal})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		h.clock.Advance(time.Second)
		_, err := h.planner.RecordExecution(ctx, planner.ExecutionAttempt{
			GoalPlanID: res.Goal.ID, Status: "failed", Error: "upstream blocked",
		})
		require.NoError(t, err)
	}

	m := h.planner.NewMonitor(time.Minute)
	passes := make(chan error, 1)
	m.OnPass(func(err error) { passes <- err })
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	h.clock.Advance(time.Minute)
	select {
	case err := <-passes:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor pass did not run")
	}

	g, err := h.store.GetGoal(ctx, res.Goal.ID)
	require.NoError(t, err)
	assert.Equal(t, planner.StatusApproved, g.Status)
	assert.Equal(t, "dependency", mustResult(t, h, res.Goal.ID).Failure.Category)
}

func mustResult(t *testing.T, h *harness, goalID string) *planner.PlanningResult {
	t.Helper()
	r, err := h.store.GetResult(context.Background(), goalID)
	require.NoError(t, err)
	return r
}
