// Package budget gates budget-impacting work and records what it cost.
package budget

import (
	"context"
	"time"
)

// Status is the answer to "may we spend right now?".
type Status struct {
	CanExecute            bool    `json:"can_execute"`
	UtilizationPercentage float64 `json:"utilization_percentage"`
	Spent                 float64 `json:"spent"`
	Limit                 float64 `json:"limit"`
}

// CostRecord is one cost-bearing execution.
type CostRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	AgentType  string    `json:"agent_type"`
	Operation  string    `json:"operation"` // intent key or workflow name
	SessionID  string    `json:"session_id"`
	CommandID  string    `json:"command_id,omitempty"`
	TokensUsed int       `json:"tokens_used"`
	Cost       float64   `json:"cost"`
}

// Checker is consulted before committing budget-impacting commands.
type Checker interface {
	CheckBudgetStatus(ctx context.Context) (Status, error)
	TrackCost(ctx context.Context, record CostRecord) error
}

// LedgerData is the root structure stored on disk.
type LedgerData struct {
	Version   string          `json:"version"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// AggregatedStats holds cost counters broken down by dimension.
type AggregatedStats struct {
	Total       Counts            `json:"total"`
	ByMonth     map[string]Counts `json:"by_month"` // "2006-01"
	ByAgentType map[string]Counts `json:"by_agent_type"`
	ByOperation map[string]Counts `json:"by_operation"`
	BySession   map[string]Counts `json:"by_session"`
}

// Counts holds executions, tokens and spend.
type Counts struct {
	Executions int64   `json:"executions"`
	Tokens     int64   `json:"tokens"`
	Cost       float64 `json:"cost_usd"`
}

func (c *Counts) Add(tokens int, cost float64) {
	c.Executions++
	c.Tokens += int64(tokens)
	c.Cost += cost
}

func newAggregate() AggregatedStats {
	return AggregatedStats{
		ByMonth:     make(map[string]Counts),
		ByAgentType: make(map[string]Counts),
		ByOperation: make(map[string]Counts),
		BySession:   make(map[string]Counts),
	}
}
