// Package memory implements the cross-agent memory index: execution records
// are ingested, tagged, indexed and retrieved with relevance and decay
// scoring.
package memory

import (
	"context"
	"time"

	"reasonmesh/internal/agents"
)

// Outcome is how an execution ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
	OutcomeUnknown Outcome = "unknown"
)

// Content is the serialized input, output and context of an execution.
type Content struct {
	Input   map[string]any `json:"input,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Performance captures execution cost. SuccessMetricScore is optional.
type Performance struct {
	ExecutionTimeMs    int64    `json:"execution_time_ms"`
	TokensUsed         int      `json:"tokens_used"`
	Cost               float64  `json:"cost"`
	SuccessMetricScore *float64 `json:"success_metric_score,omitempty"`
}

// Relationships are soft links to other entries by id.
type Relationships struct {
	Dependencies []string `json:"dependencies,omitempty"`
	Influences   []string `json:"influences,omitempty"`
	Conflicts    []string `json:"conflicts,omitempty"`
}

// Temporal holds the mutable freshness bookkeeping of an entry.
type Temporal struct {
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
	DecayScore   float64   `json:"decay_score"`
}

// Entry is one indexed execution record.
type Entry struct {
	ID            string           `json:"id"`
	AgentID       string           `json:"agent_id"`
	AgentType     agents.AgentType `json:"agent_type"`
	SessionID     string           `json:"session_id"`
	GoalPlanID    string           `json:"goal_plan_id,omitempty"`
	CampaignID    string           `json:"campaign_id,omitempty"`
	Content       Content          `json:"content"`
	Tags          []string         `json:"tags"`
	Categories    []string         `json:"categories"`
	Outcome       Outcome          `json:"outcome"`
	Confidence    float64          `json:"confidence"`
	Performance   Performance      `json:"performance"`
	Relationships Relationships    `json:"relationships"`
	Temporal      Temporal         `json:"temporal"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

// Record is the input to Ingest.
type Record struct {
	AgentID       string
	AgentType     agents.AgentType
	SessionID     string
	GoalPlanID    string
	CampaignID    string
	Input         map[string]any
	Output        map[string]any
	Context       map[string]any
	Outcome       Outcome
	Performance   Performance
	Relationships Relationships
	Metadata      map[string]any
}

// Query filters and ranks a retrieval. Zero values mean "no filter";
// Limit 0 means the configured default.
type Query struct {
	Categories    []string
	Tags          []string
	AgentType     agents.AgentType
	Outcome       Outcome
	MinConfidence float64
	Since         time.Time
	Until         time.Time
	Limit         int
}

// Prompts are the pattern lists extracted for a goal type and agent type.
type Prompts struct {
	SuccessPatterns []string `json:"success_patterns"`
	BestPractices   []string `json:"best_practices"`
	Pitfalls        []string `json:"pitfalls"`
}

// InsightType classifies a generated insight.
type InsightType string

const (
	InsightPattern     InsightType = "pattern"
	InsightAnomaly     InsightType = "anomaly"
	InsightTrend       InsightType = "trend"
	InsightCorrelation InsightType = "correlation"
)

// Insight is a derived observation over the cached memory set.
type Insight struct {
	Type        InsightType      `json:"type"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	AgentType   agents.AgentType `json:"agent_type,omitempty"`
	Confidence  float64          `json:"confidence"`
	Actionable  bool             `json:"actionable"`
	Evidence    []string         `json:"evidence,omitempty"`
}

// RankKey is the ordering key for insights.
func (i Insight) RankKey() float64 {
	if i.Actionable {
		return i.Confidence * 1.5
	}
	return i.Confidence
}

// GraphNode is an agent or goal in the knowledge graph.
type GraphNode struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"` // agent, goal
	Label string `json:"label"`
}

// GraphEdge links an agent to a goal it worked on.
type GraphEdge struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Count       int     `json:"count"`
	SuccessRate float64 `json:"success_rate"`
}

// KnowledgeGraph is the agent↔goal graph derived from memory.
type KnowledgeGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// CleanupStats summarizes one Cleanup pass.
type CleanupStats struct {
	Scanned   int `json:"scanned"`
	Evicted   int `json:"evicted"`
	Remaining int `json:"remaining"`
}

// Store persists entries. The index stays authoritative; the store is a
// write-through copy used to warm the cache on start.
type Store interface {
	SaveEntry(ctx context.Context, e Entry) error
	DeleteEntry(ctx context.Context, id string) error
	ListEntries(ctx context.Context) ([]Entry, error)
}

func (e Entry) clone() Entry {
	c := e
	c.Tags = append([]string(nil), e.Tags...)
	c.Categories = append([]string(nil), e.Categories...)
	c.Relationships.Dependencies = append([]string(nil), e.Relationships.Dependencies...)
	c.Relationships.Influences = append([]string(nil), e.Relationships.Influences...)
	c.Relationships.Conflicts = append([]string(nil), e.Relationships.Conflicts...)
	if e.Performance.SuccessMetricScore != nil {
		v := *e.Performance.SuccessMetricScore
		c.Performance.SuccessMetricScore = &v
	}
	return c
}
