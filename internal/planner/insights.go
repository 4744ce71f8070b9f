package planner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"reasonmesh/internal/memory"
)

var plannerBestPractices = []string{
	"Recruit brand voice before proposing customer-facing plans",
	"State numeric targets so success can be measured",
	"Keep phase 3 agents independent so they can run in parallel",
	"Replan early when two of five recent attempts fail",
}

// GetPlanningInsights aggregates outcomes of stored goals. Numeric
// performance comes only from the configured analytics source.
func (p *Planner) GetPlanningInsights(ctx context.Context) (PlanningInsights, error) {
	goals, err := p.goals.ListGoals(ctx)
	if err != nil {
		return PlanningInsights{}, fmt.Errorf("failed to list goals: %w", err)
	}

	in := PlanningInsights{
		TotalGoals:    len(goals),
		BestPractices: append([]string(nil), plannerBestPractices...),
	}

	var latencyTotal time.Duration
	latencyN := 0
	reasons := make(map[string]int)
	var perfSum float64
	for _, g := range goals {
		switch g.Status {
		case StatusCompleted:
			in.Completed++
		case StatusFailed:
			in.Failed++
			if r, ok := g.Metadata["failure_reason"].(string); ok && r != "" {
				reasons[r]++
			}
		}
		if g.PlanningDuration > 0 {
			latencyTotal += g.PlanningDuration
			latencyN++
		}
		if p.analytics != nil {
			if score, ok := p.analytics.PerformanceScore(ctx, g.ID); ok {
				if in.Performance == nil {
					in.Performance = make(map[string]float64)
				}
				in.Performance[g.ID] = score
				perfSum += score
			}
		}
	}

	if done := in.Completed + in.Failed; done > 0 {
		in.SuccessRate = float64(in.Completed) / float64(done)
	}
	if latencyN > 0 {
		in.MeanPlanningLatency = latencyTotal / time.Duration(latencyN)
	}
	if len(in.Performance) > 0 {
		avg := perfSum / float64(len(in.Performance))
		in.AveragePerformance = &avg
	}
	in.FailureReasons = rankReasons(reasons)

	if p.memory != nil {
		for _, mi := range p.memory.GenerateInsights(ctx) {
			if mi.Type == memory.InsightPattern && !mi.Actionable {
				in.BestPractices = append(in.BestPractices, mi.Title)
			}
			if len(in.MemoryInsights) < 5 {
				in.MemoryInsights = append(in.MemoryInsights, mi)
			}
		}
	}
	return in, nil
}

// rankReasons orders reasons by frequency, then text.
func rankReasons(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for r := range counts {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
