package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"reasonmesh/internal/agents"
)

var bestPractices = map[string][]string{
	"awareness":  {"Lead with a single memorable message", "Repurpose top assets across channels"},
	"engagement": {"Respond to community comments within a day", "Favor interactive formats"},
	"conversion": {"Keep one call to action per asset", "Test landing page variants before scaling spend"},
	"retention":  {"Segment by lifecycle stage", "Trigger outreach on early churn signals"},
	"growth":     {"Validate channel fit before expanding budget", "Track acquisition cost per channel"},
}

// ContextualPrompts retrieves successful and failed executions for a goal
// type and agent type and condenses them into pattern lists.
func (ix *Index) ContextualPrompts(ctx context.Context, goalType string, agentType agents.AgentType) (Prompts, error) {
	base := Query{AgentType: agentType}
	if goalType != "" {
		base.Categories = []string{goalType}
	}

	successQ := base
	successQ.Outcome = OutcomeSuccess
	successes, err := ix.Retrieve(ctx, successQ)
	if err != nil {
		return Prompts{}, fmt.Errorf("failed to retrieve successes: %w", err)
	}

	failureQ := base
	failureQ.Outcome = OutcomeFailure
	failures, err := ix.Retrieve(ctx, failureQ)
	if err != nil {
		return Prompts{}, fmt.Errorf("failed to retrieve failures: %w", err)
	}

	var p Prompts
	for _, tc := range topTags(successes) {
		p.SuccessPatterns = append(p.SuccessPatterns,
			fmt.Sprintf("%s work tagged %q succeeded %d time(s)", agentType, tc.tag, tc.count))
	}
	if len(successes) > 0 {
		p.BestPractices = append(p.BestPractices, bestPractices[goalType]...)
	}

	seen := make(map[string]bool)
	for _, f := range failures {
		if msg, ok := f.Content.Output["error"].(string); ok && msg != "" && !seen[msg] {
			seen[msg] = true
			p.Pitfalls = append(p.Pitfalls, msg)
		}
	}
	for _, tc := range topTags(failures) {
		p.Pitfalls = append(p.Pitfalls,
			fmt.Sprintf("%s work tagged %q failed %d time(s)", agentType, tc.tag, tc.count))
	}
	return p, nil
}

type tagCount struct {
	tag   string
	count int
}

// topTags counts descriptive tags (not agent:/outcome:) across entries.
func topTags(entries []Entry) []tagCount {
	counts := make(map[string]int)
	for _, e := range entries {
		for _, t := range e.Tags {
			if strings.HasPrefix(t, "agent:") || strings.HasPrefix(t, "outcome:") {
				continue
			}
			counts[t]++
		}
	}
	out := make([]tagCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, tagCount{t, c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].tag < out[j].tag
	})
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func successRate(entries []Entry) float64 {
	if len(entries) == 0 {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.Outcome == OutcomeSuccess {
			n++
		}
	}
	return float64(n) / float64(len(entries))
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// GenerateInsights derives pattern, anomaly, trend and correlation insights
// from the cached entries, ranked by confidence × (1.5 if actionable).
func (ix *Index) GenerateInsights(ctx context.Context) []Insight {
	entries := ix.snapshot()
	now := ix.clock.Now()

	var insights []Insight
	insights = append(insights, agentPatterns(entries)...)
	insights = append(insights, timeAnomalies(entries)...)
	insights = append(insights, successTrend(entries, now)...)
	insights = append(insights, tagCorrelations(entries)...)

	sort.SliceStable(insights, func(i, j int) bool {
		return insights[i].RankKey() > insights[j].RankKey()
	})
	return insights
}

func agentPatterns(entries []Entry) []Insight {
	byAgent := make(map[agents.AgentType][]Entry)
	for _, e := range entries {
		byAgent[e.AgentType] = append(byAgent[e.AgentType], e)
	}
	types := make([]agents.AgentType, 0, len(byAgent))
	for t := range byAgent {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var out []Insight
	for _, t := range types {
		group := byAgent[t]
		if len(group) < 3 {
			continue
		}
		rate := successRate(group)
		switch {
		case rate >= 0.8:
			out = append(out, Insight{
				Type:        InsightPattern,
				Title:       fmt.Sprintf("%s consistently succeeds", t),
				Description: fmt.Sprintf("%.0f%% success across %d executions", rate*100, len(group)),
				AgentType:   t,
				Confidence:  rate,
				Evidence:    ids(group),
			})
		case rate < 0.5:
			out = append(out, Insight{
				Type:        InsightPattern,
				Title:       fmt.Sprintf("%s frequently fails", t),
				Description: fmt.Sprintf("only %.0f%% success across %d executions; review inputs or fallbacks", rate*100, len(group)),
				AgentType:   t,
				Confidence:  1 - rate,
				Actionable:  true,
				Evidence:    ids(group),
			})
		}
	}
	return out
}

func timeAnomalies(entries []Entry) []Insight {
	var timed []Entry
	var total float64
	for _, e := range entries {
		if e.Performance.ExecutionTimeMs > 0 {
			timed = append(timed, e)
			total += float64(e.Performance.ExecutionTimeMs)
		}
	}
	if len(timed) < 3 {
		return nil
	}
	mean := total / float64(len(timed))

	var out []Insight
	for _, e := range timed {
		if float64(e.Performance.ExecutionTimeMs) > 3*mean {
			out = append(out, Insight{
				Type:  InsightAnomaly,
				Title: fmt.Sprintf("Slow %s execution", e.AgentType),
				Description: fmt.Sprintf("%s took %dms, more than 3x the mean of %.0fms",
					e.ID, e.Performance.ExecutionTimeMs, mean),
				AgentType:  e.AgentType,
				Confidence: 0.7,
				Actionable: true,
				Evidence:   []string{e.ID},
			})
		}
	}
	return out
}

func successTrend(entries []Entry, now time.Time) []Insight {
	week := 7 * day
	var recent, prior []Entry
	for _, e := range entries {
		age := now.Sub(e.Temporal.CreatedAt)
		switch {
		case age < week:
			recent = append(recent, e)
		case age < 2*week:
			prior = append(prior, e)
		}
	}
	if len(recent) < 2 || len(prior) < 2 {
		return nil
	}
	diff := successRate(recent) - successRate(prior)
	if math.Abs(diff) < 0.2 {
		return nil
	}
	in := Insight{
		Type:       InsightTrend,
		Confidence: math.Min(1, 0.5+math.Abs(diff)),
		Evidence:   ids(recent),
	}
	if diff > 0 {
		in.Title = "Success rate improving"
		in.Description = fmt.Sprintf("week-over-week success up %.0f points", diff*100)
	} else {
		in.Title = "Success rate declining"
		in.Description = fmt.Sprintf("week-over-week success down %.0f points", -diff*100)
		in.Actionable = true
	}
	return []Insight{in}
}

func tagCorrelations(entries []Entry) []Insight {
	if len(entries) == 0 {
		return nil
	}
	overall := successRate(entries)
	byTag := make(map[string][]Entry)
	for _, e := range entries {
		for _, t := range e.Tags {
			if strings.HasPrefix(t, "outcome:") || strings.HasPrefix(t, "agent:") {
				continue
			}
			byTag[t] = append(byTag[t], e)
		}
	}
	tags := make([]string, 0, len(byTag))
	for t := range byTag {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	var out []Insight
	for _, t := range tags {
		group := byTag[t]
		if len(group) < 3 {
			continue
		}
		diff := successRate(group) - overall
		if math.Abs(diff) < 0.25 {
			continue
		}
		direction := "higher"
		if diff < 0 {
			direction = "lower"
		}
		out = append(out, Insight{
			Type:        InsightCorrelation,
			Title:       fmt.Sprintf("Tag %q correlates with %s success", t, direction),
			Description: fmt.Sprintf("%.0f%% vs %.0f%% overall across %d executions", successRate(group)*100, overall*100, len(group)),
			Confidence:  math.Min(1, 0.5+math.Abs(diff)),
			Actionable:  true,
			Evidence:    ids(group),
		})
	}
	return out
}

// BuildKnowledgeGraph links agent types to the goals they executed for,
// weighting edges by execution count and success ratio.
func (ix *Index) BuildKnowledgeGraph(ctx context.Context) KnowledgeGraph {
	entries := ix.snapshot()

	type edgeKey struct{ agent, goal string }
	type agg struct{ count, success int }
	edges := make(map[edgeKey]*agg)
	agentSet := make(map[string]bool)
	goalSet := make(map[string]bool)

	for _, e := range entries {
		if e.GoalPlanID == "" {
			continue
		}
		agentNode := "agent:" + string(e.AgentType)
		goalNode := "goal:" + e.GoalPlanID
		agentSet[agentNode] = true
		goalSet[goalNode] = true
		k := edgeKey{agentNode, goalNode}
		if edges[k] == nil {
			edges[k] = &agg{}
		}
		edges[k].count++
		if e.Outcome == OutcomeSuccess {
			edges[k].success++
		}
	}

	var g KnowledgeGraph
	for id := range agentSet {
		g.Nodes = append(g.Nodes, GraphNode{ID: id, Kind: "agent", Label: strings.TrimPrefix(id, "agent:")})
	}
	for id := range goalSet {
		g.Nodes = append(g.Nodes, GraphNode{ID: id, Kind: "goal", Label: strings.TrimPrefix(id, "goal:")})
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })

	for k, a := range edges {
		g.Edges = append(g.Edges, GraphEdge{
			From:        k.agent,
			To:          k.goal,
			Count:       a.count,
			SuccessRate: float64(a.success) / float64(a.count),
		})
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})
	return g
}
