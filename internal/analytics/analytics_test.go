package analytics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/memory"
)

func TestStaticSource(t *testing.T) {
	s := NewStaticSource(map[string]float64{"goal_a": 0.7})
	v, ok := s.PerformanceScore(context.Background(), "goal_a")
	assert.True(t, ok)
	assert.Equal(t, 0.7, v)

	_, ok = s.PerformanceScore(context.Background(), "goal_b")
	assert.False(t, ok)

	s.Set("goal_b", 0.4)
	v, ok = s.PerformanceScore(context.Background(), "goal_b")
	assert.True(t, ok)
	assert.Equal(t, 0.4, v)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	flat := filepath.Join(dir, "flat.json")
	nested := filepath.Join(dir, "nested.json")
	require.NoError(t, os.WriteFile(flat, []byte(`{"goal_a": 0.5}`), 0o644))
	require.NoError(t, os.WriteFile(nested, []byte(`{"scores": {"goal_a": 0.9}}`), 0o644))

	v, ok := (&FileSource{Path: flat}).PerformanceScore(context.Background(), "goal_a")
	assert.True(t, ok)
	assert.Equal(t, 0.5, v)

	v, ok = (&FileSource{Path: nested}).PerformanceScore(context.Background(), "goal_a")
	assert.True(t, ok)
	assert.Equal(t, 0.9, v)

	_, ok = (&FileSource{Path: filepath.Join(dir, "missing.json")}).PerformanceScore(context.Background(), "goal_a")
	assert.False(t, ok)
}

func TestMemorySource(t *testing.T) {
	ctx := context.Background()
	ix := memory.NewIndex()
	src := &MemorySource{Index: ix}

	_, ok := src.PerformanceScore(ctx, "goal_a")
	assert.False(t, ok)

	slow := memory.Performance{ExecutionTimeMs: 10000, Cost: 1}
	_, err := ix.Ingest(ctx, memory.Record{AgentType: agents.AgentSEOOptimizer, GoalPlanID: "goal_a", Outcome: memory.OutcomeSuccess, Performance: slow})
	require.NoError(t, err)
	_, err = ix.Ingest(ctx, memory.Record{AgentType: agents.AgentSEOOptimizer, GoalPlanID: "goal_a", Outcome: memory.OutcomeFailure, Performance: slow})
	require.NoError(t, err)

	// 0.9 / (0.9 + 0.3)
	v, ok := src.PerformanceScore(ctx, "goal_a")
	assert.True(t, ok)
	assert.InDelta(t, 0.75, v, 1e-9)

	score := 0.6
	_, err = ix.Ingest(ctx, memory.Record{AgentType: agents.AgentAnalytics, GoalPlanID: "goal_a", Outcome: memory.OutcomeSuccess,
		Performance: memory.Performance{ExecutionTimeMs: 10000, Cost: 1, SuccessMetricScore: &score}})
	require.NoError(t, err)
	v, ok = src.PerformanceScore(ctx, "goal_a")
	assert.True(t, ok)
	assert.InDelta(t, 0.6, v, 1e-9)
}

func TestChain(t *testing.T) {
	c := Chain{NewStaticSource(nil), NewStaticSource(map[string]float64{"g": 0.3})}
	v, ok := c.PerformanceScore(context.Background(), "g")
	assert.True(t, ok)
	assert.Equal(t, 0.3, v)
}
