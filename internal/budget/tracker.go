package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"reasonmesh/internal/clock"
	"reasonmesh/internal/logging"
)

const monthKey = "2006-01"

// Tracker implements Checker with a monthly spend limit. When a file path
// is set, aggregates are persisted as JSON after every tracked cost.
type Tracker struct {
	mu               sync.Mutex
	data             LedgerData
	filePath         string
	monthlyLimit     float64 // 0 = unlimited
	warningThreshold float64 // percent, logged once crossed
	clock            clock.Clock
}

// NewTracker creates a tracker persisted at filePath. An empty filePath
// keeps everything in memory.
func NewTracker(filePath string, monthlyLimit float64) (*Tracker, error) {
	t := &Tracker{
		filePath:         filePath,
		monthlyLimit:     monthlyLimit,
		warningThreshold: 80,
		clock:            clock.Real(),
		data:             LedgerData{Version: "1.0", Aggregate: newAggregate()},
	}
	if filePath == "" {
		return t, nil
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create budget dir: %w", err)
	}
	if err := t.Load(); err != nil {
		logging.BudgetWarn("budget ledger unreadable, starting empty: %v", err)
	}
	return t, nil
}

// WithClock sets the clock used for month bucketing.
func (t *Tracker) WithClock(c clock.Clock) *Tracker {
	t.clock = c
	return t
}

// WithWarningThreshold sets the utilization percentage that triggers a warning.
func (t *Tracker) WithWarningThreshold(pct float64) *Tracker {
	t.warningThreshold = pct
	return t
}

// Load reads the ledger from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &t.data); err != nil {
		return err
	}

	// Ensure maps are initialized if file was empty/partial
	agg := &t.data.Aggregate
	if agg.ByMonth == nil {
		agg.ByMonth = make(map[string]Counts)
	}
	if agg.ByAgentType == nil {
		agg.ByAgentType = make(map[string]Counts)
	}
	if agg.ByOperation == nil {
		agg.ByOperation = make(map[string]Counts)
	}
	if agg.BySession == nil {
		agg.BySession = make(map[string]Counts)
	}
	return nil
}

// Save writes the ledger to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	if t.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0644)
}

// CheckBudgetStatus implements Checker.
func (t *Tracker) CheckBudgetStatus(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(), nil
}

func (t *Tracker) statusLocked() Status {
	spent := t.data.Aggregate.ByMonth[t.clock.Now().Format(monthKey)].Cost
	st := Status{CanExecute: true, Spent: spent, Limit: t.monthlyLimit}
	if t.monthlyLimit > 0 {
		st.UtilizationPercentage = spent * 100 / t.monthlyLimit
		st.CanExecute = spent < t.monthlyLimit
	}
	return st
}

// TrackCost implements Checker.
func (t *Tracker) TrackCost(ctx context.Context, record CostRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if record.Timestamp.IsZero() {
		record.Timestamp = t.clock.Now()
	}
	before := t.statusLocked().UtilizationPercentage

	agg := &t.data.Aggregate
	agg.Total.Add(record.TokensUsed, record.Cost)
	addTo(agg.ByMonth, record.Timestamp.Format(monthKey), record)
	addTo(agg.ByAgentType, orUnknown(record.AgentType), record)
	addTo(agg.ByOperation, orUnknown(record.Operation), record)
	addTo(agg.BySession, orUnknown(record.SessionID), record)

	after := t.statusLocked().UtilizationPercentage
	if t.warningThreshold > 0 && before < t.warningThreshold && after >= t.warningThreshold {
		logging.BudgetWarn("monthly budget utilization at %.1f%% (limit %.2f)", after, t.monthlyLimit)
	}
	logging.BudgetDebug("tracked %.4f for %s/%s", record.Cost, record.AgentType, record.Operation)

	if err := t.saveLocked(); err != nil {
		return fmt.Errorf("failed to persist budget ledger: %w", err)
	}
	return nil
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByMonth = copyCounts(stats.ByMonth)
	stats.ByAgentType = copyCounts(stats.ByAgentType)
	stats.ByOperation = copyCounts(stats.ByOperation)
	stats.BySession = copyCounts(stats.BySession)
	return stats
}

func copyCounts(src map[string]Counts) map[string]Counts {
	if src == nil {
		return nil
	}
	dst := make(map[string]Counts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addTo(m map[string]Counts, key string, r CostRecord) {
	entry := m[key]
	entry.Add(r.TokensUsed, r.Cost)
	m[key] = entry
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
