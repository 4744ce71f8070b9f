// Package postgres persists goals, consensus rounds and memory entries in
// PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reasonmesh/internal/logging"
	"reasonmesh/internal/memory"
	"reasonmesh/internal/planner"
	"reasonmesh/internal/reasoning"
)

//go:embed schema.sql
var schema string

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, or to $DATABASE_URL when dsn is empty, and applies
// the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "postgres.Open")
	defer timer.Stop()

	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres DSN: %w", err)
	}
	cfg.MaxConns = 20
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	logging.Store("postgres store ready (%s)", cfg.ConnConfig.Host)
	return &Store{pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Store) CreateGoal(ctx context.Context, g planner.Goal) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode goal: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO goals (id, status, updated_at, data) VALUES ($1, $2, $3, $4)`,
		g.ID, string(g.Status), g.UpdatedAt, data)
	if err != nil {
		return fmt.Errorf("failed to create goal %s: %w", g.ID, err)
	}
	return nil
}

func (s *Store) GetGoal(ctx context.Context, id string) (*planner.Goal, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM goals WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", planner.ErrGoalNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load goal %s: %w", id, err)
	}
	var g planner.Goal
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode goal %s: %w", id, err)
	}
	return &g, nil
}

func (s *Store) UpdateGoal(ctx context.Context, g planner.Goal) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode goal: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE goals SET status = $1, updated_at = $2, data = $3 WHERE id = $4`,
		string(g.Status), g.UpdatedAt, data, g.ID)
	if err != nil {
		return fmt.Errorf("failed to update goal %s: %w", g.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", planner.ErrGoalNotFound, g.ID)
	}
	return nil
}

func (s *Store) ListGoals(ctx context.Context, statuses ...planner.GoalStatus) ([]planner.Goal, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.pool.Query(ctx, `SELECT data FROM goals ORDER BY seq`)
	} else {
		want := make([]string, len(statuses))
		for i, st := range statuses {
			want[i] = string(st)
		}
		rows, err = s.pool.Query(ctx, `SELECT data FROM goals WHERE status = ANY($1) ORDER BY seq`, want)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	return collectJSON[planner.Goal](rows)
}

func (s *Store) SaveResult(ctx context.Context, r planner.PlanningResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode planning result: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO planning_results (goal_id, data) VALUES ($1, $2)
		 ON CONFLICT (goal_id) DO UPDATE SET saved_at = now(), data = EXCLUDED.data`,
		r.Goal.ID, data)
	if err != nil {
		return fmt.Errorf("failed to save planning result for %s: %w", r.Goal.ID, err)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, goalID string) (*planner.PlanningResult, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM planning_results WHERE goal_id = $1`, goalID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no planning result for %s", planner.ErrGoalNotFound, goalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load planning result %s: %w", goalID, err)
	}
	var r planner.PlanningResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode planning result %s: %w", goalID, err)
	}
	return &r, nil
}

func (s *Store) SaveAttempt(ctx context.Context, a planner.ExecutionAttempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO attempts (id, goal_id, status, completed_at, data) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.GoalPlanID, string(a.Status), a.CompletedAt, data)
	if err != nil {
		return fmt.Errorf("failed to save attempt %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) RecentAttempts(ctx context.Context, goalID string, n int) ([]planner.ExecutionAttempt, error) {
	limit := any(nil)
	if n > 0 {
		limit = n
	}
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM attempts WHERE goal_id = $1 ORDER BY completed_at DESC, seq DESC LIMIT $2`,
		goalID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts for %s: %w", goalID, err)
	}
	return collectJSON[planner.ExecutionAttempt](rows)
}

func (s *Store) NextRoundNumber(ctx context.Context, goalPlanID string) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO round_counters (goal_id, next_round) VALUES ($1, 1)
		 ON CONFLICT (goal_id) DO UPDATE SET next_round = round_counters.next_round + 1
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
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var completed bool
		err := tx.QueryRow(ctx,
			`SELECT completed FROM rounds WHERE goal_id = $1 AND round_number = $2 FOR UPDATE`,
			round.GoalPlanID, round.RoundNumber).Scan(&completed)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to check round: %w", err)
		case completed:
			return fmt.Errorf("%w: %s round %d", reasoning.ErrRoundImmutable, round.GoalPlanID, round.RoundNumber)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO rounds (goal_id, round_number, completed, data) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (goal_id, round_number) DO UPDATE SET completed = EXCLUDED.completed, data = EXCLUDED.data`,
			round.GoalPlanID, round.RoundNumber, round.CompletedAt != nil, data); err != nil {
			return fmt.Errorf("failed to save round: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO round_counters (goal_id, next_round) VALUES ($1, $2)
			 ON CONFLICT (goal_id) DO UPDATE SET next_round = GREATEST(round_counters.next_round, EXCLUDED.next_round)`,
			round.GoalPlanID, round.RoundNumber); err != nil {
			return fmt.Errorf("failed to advance round counter: %w", err)
		}
		return nil
	})
}

func (s *Store) LatestRound(ctx context.Context, goalPlanID string) (*reasoning.ConsensusRound, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM rounds WHERE goal_id = $1 ORDER BY round_number DESC LIMIT 1`,
		goalPlanID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest round for %s: %w", goalPlanID, err)
	}
	var r reasoning.ConsensusRound
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode round: %w", err)
	}
	return &r, nil
}

func (s *Store) ListRounds(ctx context.Context, goalPlanID string) ([]reasoning.ConsensusRound, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM rounds WHERE goal_id = $1 ORDER BY round_number`, goalPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds for %s: %w", goalPlanID, err)
	}
	out, err := collectJSON[reasoning.ConsensusRound](rows)
	if out == nil && err == nil {
		out = []reasoning.ConsensusRound{}
	}
	return out, err
}

func (s *Store) SaveEntry(ctx context.Context, e memory.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode memory entry: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO memory_entries (id, agent_type, outcome, created_at, data) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		e.ID, string(e.AgentType), string(e.Outcome), e.Temporal.CreatedAt, data)
	if err != nil {
		return fmt.Errorf("failed to save memory entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM memory_entries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete memory entry %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context) ([]memory.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM memory_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory entries: %w", err)
	}
	return collectJSON[memory.Entry](rows)
}

// collectJSON decodes a single JSONB column from every row.
func collectJSON[T any](rows pgx.Rows) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Reset truncates every table. Intended for tests against a scratch
// database.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`TRUNCATE goals, planning_results, attempts, round_counters, rounds, memory_entries RESTART IDENTITY`)
	return err
}
