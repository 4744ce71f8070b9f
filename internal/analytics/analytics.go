// Package analytics provides pluggable performance figures for goals.
// Planner insights read numeric performance only through a Source.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"reasonmesh/internal/memory"
)

// Source reports a performance score in [0,1] for a goal plan. ok is false
// when the source has no figure for it.
type Source interface {
	Name() string
	PerformanceScore(ctx context.Context, goalPlanID string) (score float64, ok bool)
}

// StaticSource serves fixed scores.
type StaticSource struct {
	mu     sync.RWMutex
	scores map[string]float64
}

// NewStaticSource copies scores into a new source.
func NewStaticSource(scores map[string]float64) *StaticSource {
	s := &StaticSource{scores: make(map[string]float64, len(scores))}
	for k, v := range scores {
		s.scores[k] = v
	}
	return s
}

func (s *StaticSource) Name() string { return "static" }

// Set records a score for a goal.
func (s *StaticSource) Set(goalPlanID string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[goalPlanID] = score
}

func (s *StaticSource) PerformanceScore(_ context.Context, goalPlanID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scores[goalPlanID]
	return v, ok
}

// FileSource reads scores from a JSON object of goal id to score, either at
// the top level or under a "scores" key. A missing file yields no scores.
type FileSource struct {
	Path string
}

func (f *FileSource) Name() string { return "file" }

func (f *FileSource) PerformanceScore(_ context.Context, goalPlanID string) (float64, bool) {
	scores, err := f.load()
	if err != nil {
		return 0, false
	}
	v, ok := scores[goalPlanID]
	return v, ok
}

func (f *FileSource) load() (map[string]float64, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read analytics file: %w", err)
	}
	var wrapped struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Scores != nil {
		return wrapped.Scores, nil
	}
	var flat map[string]float64
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("parse analytics file: %w", err)
	}
	return flat, nil
}

// MemorySource derives a score from the execution history linked to a goal:
// the mean recorded success-metric score when present, else the share of
// successful executions weighted by entry confidence.
type MemorySource struct {
	Index *memory.Index
}

func (m *MemorySource) Name() string { return "memory" }

func (m *MemorySource) PerformanceScore(_ context.Context, goalPlanID string) (float64, bool) {
	if m.Index == nil {
		return 0, false
	}
	entries := m.Index.ByGoal(goalPlanID)
	if len(entries) == 0 {
		return 0, false
	}

	var metricSum float64
	metricN := 0
	var weighted, weights float64
	for _, e := range entries {
		if s := e.Performance.SuccessMetricScore; s != nil {
			metricSum += *s
			metricN++
		}
		weights += e.Confidence
		if e.Outcome == memory.OutcomeSuccess {
			weighted += e.Confidence
		}
	}
	if metricN > 0 {
		return metricSum / float64(metricN), true
	}
	if weights == 0 {
		return 0, false
	}
	return weighted / weights, true
}

// Chain returns the first score any source reports.
type Chain []Source

func (c Chain) Name() string { return "chain" }

func (c Chain) PerformanceScore(ctx context.Context, goalPlanID string) (float64, bool) {
	for _, s := range c {
		if v, ok := s.PerformanceScore(ctx, goalPlanID); ok {
			return v, true
		}
	}
	return 0, false
}
