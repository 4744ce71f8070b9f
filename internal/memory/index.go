package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/clock"
	"reasonmesh/internal/logging"
)

// Config tunes retention and retrieval.
type Config struct {
	RetentionDays     int
	MinScore          float64 // confidence*decay floor for eviction
	DefaultWindowDays int     // unfiltered retrieval window
	CandidateLimit    int     // unfiltered retrieval candidate cap
	DefaultLimit      int
}

// DefaultConfig returns the standard retention and retrieval settings.
func DefaultConfig() Config {
	return Config{
		RetentionDays:     30,
		MinScore:          0.1,
		DefaultWindowDays: 7,
		CandidateLimit:    100,
		DefaultLimit:      10,
	}
}

type idSet map[string]struct{}

// Index is the in-process memory index. One mutex guards the cache and the
// inverted indexes; every mutation path holds it, so per-entry updates are
// serialized.
type Index struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	byCategory map[string]idSet
	byTag      map[string]idSet
	byAgent    map[agents.AgentType]idSet

	cfg   Config
	store Store
	clock clock.Clock
}

// Option configures an Index.
type Option func(*Index)

// WithStore enables write-through persistence.
func WithStore(s Store) Option { return func(ix *Index) { ix.store = s } }

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option { return func(ix *Index) { ix.clock = c } }

// WithConfig overrides retention and retrieval settings.
func WithConfig(cfg Config) Option { return func(ix *Index) { ix.cfg = cfg } }

// NewIndex creates an empty index.
func NewIndex(opts ...Option) *Index {
	ix := &Index{
		entries:    make(map[string]*Entry),
		byCategory: make(map[string]idSet),
		byTag:      make(map[string]idSet),
		byAgent:    make(map[agents.AgentType]idSet),
		cfg:        DefaultConfig(),
		clock:      clock.Real(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Load replaces the cache with the store's contents.
func (ix *Index) Load(ctx context.Context) (int, error) {
	if ix.store == nil {
		return 0, nil
	}
	entries, err := ix.store.ListEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load memory entries: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = make(map[string]*Entry, len(entries))
	for i := range entries {
		e := entries[i].clone()
		ix.entries[e.ID] = &e
	}
	ix.rebuildLocked()
	logging.Memory("loaded %d memory entries", len(entries))
	return len(entries), nil
}

// Ingest records an execution and returns its memory id.
func (ix *Index) Ingest(ctx context.Context, rec Record) (string, error) {
	if rec.Outcome == "" {
		rec.Outcome = OutcomeUnknown
	}
	now := ix.clock.Now()
	categories, tags := classify(rec.AgentType, rec.Outcome, rec.Input, rec.Output)

	e := Entry{
		ID:            "mem_" + uuid.New().String(),
		AgentID:       rec.AgentID,
		AgentType:     rec.AgentType,
		SessionID:     rec.SessionID,
		GoalPlanID:    rec.GoalPlanID,
		CampaignID:    rec.CampaignID,
		Content:       Content{Input: rec.Input, Output: rec.Output, Context: rec.Context},
		Tags:          tags,
		Categories:    categories,
		Outcome:       rec.Outcome,
		Confidence:    Confidence(rec.Outcome, rec.Performance),
		Performance:   rec.Performance,
		Relationships: rec.Relationships,
		Temporal: Temporal{
			CreatedAt:    now,
			LastAccessed: now,
			DecayScore:   1,
		},
		Metadata: rec.Metadata,
	}
	if e.AgentID == "" {
		e.AgentID = string(rec.AgentType)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.store != nil {
		if err := ix.store.SaveEntry(ctx, e); err != nil {
			return "", fmt.Errorf("failed to persist memory entry: %w", err)
		}
	}
	stored := e.clone()
	ix.entries[e.ID] = &stored
	ix.indexLocked(&stored)

	logging.MemoryDebug("ingested %s agent=%s outcome=%s confidence=%.2f categories=%v",
		e.ID, e.AgentType, e.Outcome, e.Confidence, e.Categories)
	return e.ID, nil
}

// Retrieve returns the top entries for q, updating their access bookkeeping.
func (ix *Index) Retrieve(ctx context.Context, q Query) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = ix.cfg.DefaultLimit
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	now := ix.clock.Now()
	candidates := ix.candidatesLocked(q, now)

	ranked := make([]scored, 0, len(candidates))
	for _, e := range candidates {
		if !matches(e, q) {
			continue
		}
		e.Temporal.DecayScore = decayAt(e, now)
		rel := Relevance(*e, q, now)
		ranked = append(ranked, scored{entry: e, key: RankKey(rel, *e)})
	}
	sortScored(ranked)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]Entry, 0, len(ranked))
	for _, s := range ranked {
		s.entry.Temporal.LastAccessed = now
		s.entry.Temporal.AccessCount++
		if ix.store != nil {
			if err := ix.store.SaveEntry(ctx, *s.entry); err != nil {
				logging.MemoryWarn("failed to persist access for %s: %v", s.entry.ID, err)
			}
		}
		out = append(out, s.entry.clone())
	}
	logging.MemoryDebug("retrieved %d/%d candidates (limit %d)", len(out), len(candidates), limit)
	return out, nil
}

// candidatesLocked selects the candidate set: index hits for the requested
// categories and tags, else the agent index, else recent successes.
func (ix *Index) candidatesLocked(q Query, now time.Time) []*Entry {
	ids := make(idSet)
	switch {
	case len(q.Categories) > 0 || len(q.Tags) > 0:
		for _, c := range q.Categories {
			for id := range ix.byCategory[c] {
				ids[id] = struct{}{}
			}
		}
		for _, t := range q.Tags {
			for id := range ix.byTag[t] {
				ids[id] = struct{}{}
			}
		}
	case q.AgentType != "":
		for id := range ix.byAgent[q.AgentType] {
			ids[id] = struct{}{}
		}
	default:
		window := now.Add(-time.Duration(ix.cfg.DefaultWindowDays) * day)
		var recent []*Entry
		for _, e := range ix.entries {
			if e.Outcome == OutcomeSuccess && !e.Temporal.CreatedAt.Before(window) {
				recent = append(recent, e)
			}
		}
		sort.Slice(recent, func(i, j int) bool {
			if !recent[i].Temporal.CreatedAt.Equal(recent[j].Temporal.CreatedAt) {
				return recent[i].Temporal.CreatedAt.After(recent[j].Temporal.CreatedAt)
			}
			return recent[i].ID < recent[j].ID
		})
		if len(recent) > ix.cfg.CandidateLimit {
			recent = recent[:ix.cfg.CandidateLimit]
		}
		return recent
	}

	out := make([]*Entry, 0, len(ids))
	for id := range ids {
		if e, ok := ix.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

func matches(e *Entry, q Query) bool {
	if q.AgentType != "" && e.AgentType != q.AgentType {
		return false
	}
	if q.Outcome != "" && e.Outcome != q.Outcome {
		return false
	}
	if e.Confidence < q.MinConfidence {
		return false
	}
	if !q.Since.IsZero() && e.Temporal.CreatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Temporal.CreatedAt.After(q.Until) {
		return false
	}
	return true
}

// Cleanup recomputes decay for every entry, evicts entries whose
// confidence×decay falls below the floor or that exceed the retention
// window, and rebuilds the indexes.
func (ix *Index) Cleanup(ctx context.Context) (CleanupStats, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Cleanup")
	defer timer.Stop()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	now := ix.clock.Now()
	retention := time.Duration(ix.cfg.RetentionDays) * day
	stats := CleanupStats{Scanned: len(ix.entries)}
	var errs []error

	for id, e := range ix.entries {
		e.Temporal.DecayScore = decayAt(e, now)
		expired := now.Sub(e.Temporal.CreatedAt) > retention
		if !expired && e.Confidence*e.Temporal.DecayScore >= ix.cfg.MinScore {
			continue
		}
		if ix.store != nil {
			if err := ix.store.DeleteEntry(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
				continue
			}
		}
		delete(ix.entries, id)
		stats.Evicted++
	}

	if ix.store != nil {
		for _, e := range ix.entries {
			if err := ix.store.SaveEntry(ctx, *e); err != nil {
				errs = append(errs, fmt.Errorf("save %s: %w", e.ID, err))
			}
		}
	}

	ix.rebuildLocked()
	stats.Remaining = len(ix.entries)
	logging.Memory("cleanup: scanned=%d evicted=%d remaining=%d", stats.Scanned, stats.Evicted, stats.Remaining)
	return stats, errors.Join(errs...)
}

// Get returns a copy of one entry without touching its access bookkeeping.
func (ix *Index) Get(id string) (Entry, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Len returns the number of cached entries.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.entries)
}

// ByGoal returns entries linked to a goal plan, oldest first.
func (ix *Index) ByGoal(goalPlanID string) []Entry {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var out []Entry
	for _, e := range ix.entries {
		if e.GoalPlanID == goalPlanID {
			out = append(out, e.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Temporal.CreatedAt.Before(out[j].Temporal.CreatedAt)
	})
	return out
}

// snapshot returns copies of all entries sorted by creation time.
func (ix *Index) snapshot() []Entry {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Temporal.CreatedAt.Equal(out[j].Temporal.CreatedAt) {
			return out[i].Temporal.CreatedAt.Before(out[j].Temporal.CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (ix *Index) indexLocked(e *Entry) {
	for _, c := range e.Categories {
		add(ix.byCategory, c, e.ID)
	}
	for _, t := range e.Tags {
		add(ix.byTag, t, e.ID)
	}
	if ix.byAgent[e.AgentType] == nil {
		ix.byAgent[e.AgentType] = make(idSet)
	}
	ix.byAgent[e.AgentType][e.ID] = struct{}{}
}

func (ix *Index) rebuildLocked() {
	ix.byCategory = make(map[string]idSet)
	ix.byTag = make(map[string]idSet)
	ix.byAgent = make(map[agents.AgentType]idSet)
	for _, e := range ix.entries {
		ix.indexLocked(e)
	}
}

func add(m map[string]idSet, key, id string) {
	if m[key] == nil {
		m[key] = make(idSet)
	}
	m[key][id] = struct{}{}
}
