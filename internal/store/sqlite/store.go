// Package sqlite persists goals, consensus rounds and memory entries in a
// single SQLite file using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"reasonmesh/internal/logging"
	"reasonmesh/internal/memory"
	"reasonmesh/internal/planner"
	"reasonmesh/internal/reasoning"
)

//go:embed schema.sql
var schema string

// Store is the SQLite backend. Records are kept as JSON documents with the
// columns needed for filtering and ordering pulled out alongside.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "sqlite.Open")
	defer timer.Stop()

	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{db: db, path: path}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logging.Store("sqlite store ready at %s", path)
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			logging.StoreWarn("pragma %q failed: %v", p, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	logging.StoreDebug("closing sqlite store %s", s.path)
	return s.db.Close()
}

// =============================================================================
// GOALS
// =============================================================================

func (s *Store) CreateGoal(ctx context.Context, g planner.Goal) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode goal: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO goals (id, status, seq, updated_at, data)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM goals), ?, ?)`,
		g.ID, string(g.Status), g.UpdatedAt.UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("failed to create goal %s: %w", g.ID, err)
	}
	logging.StoreDebug("created goal %s", g.ID)
	return nil
}

func (s *Store) GetGoal(ctx context.Context, id string) (*planner.Goal, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM goals WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", planner.ErrGoalNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load goal %s: %w", id, err)
	}
	var g planner.Goal
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("decode goal %s: %w", id, err)
	}
	return &g, nil
}

func (s *Store) UpdateGoal(ctx context.Context, g planner.Goal) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode goal: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE goals SET status = ?, updated_at = ?, data = ? WHERE id = ?`,
		string(g.Status), g.UpdatedAt.UnixNano(), string(data), g.ID)
	if err != nil {
		return fmt.Errorf("failed to update goal %s: %w", g.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", planner.ErrGoalNotFound, g.ID)
	}
	return nil
}

func (s *Store) ListGoals(ctx context.Context, statuses ...planner.GoalStatus) ([]planner.Goal, error) {
	query := `SELECT data FROM goals`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ",") + `)`
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer rows.Close()

	var out []planner.Goal
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var g planner.Goal
		if err := json.Unmarshal([]byte(data), &g); err != nil {
			return nil, fmt.Errorf("decode goal: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) SaveResult(ctx context.Context, r planner.PlanningResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode planning result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO planning_results (goal_id, saved_at, data) VALUES (?, ?, ?)
		 ON CONFLICT(goal_id) DO UPDATE SET saved_at = excluded.saved_at, data = excluded.data`,
		r.Goal.ID, time.Now().UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("failed to save planning result for %s: %w", r.Goal.ID, err)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, goalID string) (*planner.PlanningResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM planning_results WHERE goal_id = ?`, goalID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no planning result for %s", planner.ErrGoalNotFound, goalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load planning result %s: %w", goalID, err)
	}
	var r planner.PlanningResult
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("decode planning result %s: %w", goalID, err)
	}
	return &r, nil
}

func (s *Store) SaveAttempt(ctx context.Context, a planner.ExecutionAttempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, goal_id, status, completed_at, seq, data)
		 VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM attempts), ?)`,
		a.ID, a.GoalPlanID, string(a.Status), a.CompletedAt.UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("failed to save attempt %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) RecentAttempts(ctx context.Context, goalID string, n int) ([]planner.ExecutionAttempt, error) {
	query := `SELECT data FROM attempts WHERE goal_id = ? ORDER BY completed_at DESC, seq DESC`
	args := []any{goalID}
	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts for %s: %w", goalID, err)
	}
	defer rows.Close()

	var out []planner.ExecutionAttempt
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var a planner.ExecutionAttempt
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("decode attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// CONSENSUS ROUNDS
// =============================================================================

func (s *Store) NextRoundNumber(ctx context.Context, goalPlanID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO round_counters (goal_id, next_round) VALUES (?, 1)
		 ON CONFLICT(goal_id) DO UPDATE SET next_round = next_round + 1
		 RETURNING next_round`, goalPlanID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve round number for %s: %w", goalPlanID, err)
	}
	return next, nil
}

func (s *Store) SaveRound(ctx context.Context, round reasoning.ConsensusRound) error {
	data, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("encode round: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var completed int
	err = tx.QueryRowContext(ctx,
		`SELECT completed FROM rounds WHERE goal_id = ? AND round_number = ?`,
		round.GoalPlanID, round.RoundNumber).Scan(&completed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to check round: %w", err)
	case completed == 1:
		return fmt.Errorf("%w: %s round %d", reasoning.ErrRoundImmutable, round.GoalPlanID, round.RoundNumber)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rounds (goal_id, round_number, completed, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(goal_id, round_number) DO UPDATE SET completed = excluded.completed, data = excluded.data`,
		round.GoalPlanID, round.RoundNumber, boolInt(round.CompletedAt != nil), string(data))
	if err != nil {
		return fmt.Errorf("failed to save round: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO round_counters (goal_id, next_round) VALUES (?, ?)
		 ON CONFLICT(goal_id) DO UPDATE SET next_round = MAX(next_round, excluded.next_round)`,
		round.GoalPlanID, round.RoundNumber)
	if err != nil {
		return fmt.Errorf("failed to advance round counter: %w", err)
	}
	return tx.Commit()
}

func (s *Store) LatestRound(ctx context.Context, goalPlanID string) (*reasoning.ConsensusRound, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM rounds WHERE goal_id = ? ORDER BY round_number DESC LIMIT 1`,
		goalPlanID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest round for %s: %w", goalPlanID, err)
	}
	var r reasoning.ConsensusRound
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("decode round: %w", err)
	}
	return &r, nil
}

func (s *Store) ListRounds(ctx context.Context, goalPlanID string) ([]reasoning.ConsensusRound, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM rounds WHERE goal_id = ? ORDER BY round_number`, goalPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds for %s: %w", goalPlanID, err)
	}
	defer rows.Close()

	out := []reasoning.ConsensusRound{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r reasoning.ConsensusRound
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("decode round: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// MEMORY
// =============================================================================

func (s *Store) SaveEntry(ctx context.Context, e memory.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode memory entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_entries (id, agent_type, outcome, created_at, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		e.ID, string(e.AgentType), string(e.Outcome), e.Temporal.CreatedAt.UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("failed to save memory entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete memory entry %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context) ([]memory.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM memory_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory entries: %w", err)
	}
	defer rows.Close()

	var out []memory.Entry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e memory.Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("decode memory entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
