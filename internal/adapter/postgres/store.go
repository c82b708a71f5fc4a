package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentsdashboard/orchestrator/internal/domain"
	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/ledger"
)

// Store implements ledger.Store using PostgreSQL. One row per run ID; every
// state transition is a compare-and-set on the state column so concurrent
// writers cannot skip states.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) UpsertQueued(ctx context.Context, req *run.Request) error {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	// A running entry must not be reset; queued and terminal entries may.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO runs (run_id, task_id, state, request_json)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id) DO UPDATE
		 SET state = EXCLUDED.state,
		     task_id = EXCLUDED.task_id,
		     request_json = EXCLUDED.request_json,
		     summary = '',
		     payload_json = '',
		     started_at = NULL,
		     ended_at = NULL,
		     updated_at = now()
		 WHERE runs.state <> $5`,
		req.Key(), req.TaskID, run.StateQueued, string(reqJSON), run.StateRunning)
	if err != nil {
		return fmt.Errorf("upsert queued %s: %w", req.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upsert queued %s: run is active: %w", req.Key(), domain.ErrConflict)
	}
	return nil
}

func (s *Store) MarkRunning(ctx context.Context, runID string) error {
	return s.transition(ctx, runID,
		`UPDATE runs
		 SET state = $2, started_at = COALESCE(started_at, now()), updated_at = now()
		 WHERE run_id = $1 AND state = $3`,
		run.Key(runID), run.StateRunning, run.StateQueued)
}

func (s *Store) MarkCompleted(ctx context.Context, runID string, state run.State, summary, payloadJSON string) error {
	if !state.Terminal() {
		return fmt.Errorf("mark completed %s: %q is not terminal: %w", runID, state, domain.ErrValidation)
	}

	// Cancellation may land before dispatch; every other terminal state
	// requires the run to be running.
	allowed := []run.State{run.StateRunning}
	if state == run.StateCancelled {
		allowed = append(allowed, run.StateQueued)
	}

	return s.transition(ctx, runID,
		`UPDATE runs
		 SET state = $2, summary = $3, payload_json = $4, ended_at = now(), updated_at = now()
		 WHERE run_id = $1 AND state = ANY($5)`,
		run.Key(runID), state, summary, payloadJSON, statesToStrings(allowed))
}

// transition runs a CAS update and maps a zero-row result to either
// domain.ErrNotFound (no such run) or domain.ErrConflict (state mismatch).
func (s *Store) transition(ctx context.Context, runID, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition %s: %w", runID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM runs WHERE run_id = $1)`, run.Key(runID)).Scan(&exists); err != nil {
		return fmt.Errorf("transition %s: %w", runID, err)
	}
	if !exists {
		return fmt.Errorf("transition %s: %w", runID, domain.ErrNotFound)
	}
	return fmt.Errorf("transition %s: %w", runID, domain.ErrConflict)
}

func (s *Store) ListQueuedRequests(ctx context.Context) ([]run.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT request_json FROM runs WHERE state = $1 ORDER BY created_at ASC`,
		run.StateQueued)
	if err != nil {
		return nil, fmt.Errorf("list queued: %w", err)
	}
	defer rows.Close()

	var reqs []run.Request
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan queued request: %w", err)
		}
		var req run.Request
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return nil, fmt.Errorf("unmarshal queued request: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func (s *Store) ListRunningIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id FROM runs WHERE state = $1`, run.StateRunning)
	if err != nil {
		return nil, fmt.Errorf("list running: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan running id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetSnapshot(ctx context.Context, runID string) (*run.LedgerEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT run_id, task_id, state, summary, payload_json, request_json,
		        created_at, started_at, ended_at, updated_at
		 FROM runs WHERE run_id = $1`, run.Key(runID))

	var e run.LedgerEntry
	err := row.Scan(&e.RunID, &e.TaskID, &e.State, &e.Summary, &e.PayloadJSON,
		&e.RequestJSON, &e.CreatedAt, &e.StartedAt, &e.EndedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get run %s", runID)
	}
	return &e, nil
}

func (s *Store) RecoverStaleRunning(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs
		 SET state = $1, summary = $2, ended_at = now(), updated_at = now()
		 WHERE state = $3`,
		run.StateFailed, ledger.RecoverySummary, run.StateRunning)
	if err != nil {
		return 0, fmt.Errorf("recover stale running: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func statesToStrings(states []run.State) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = string(st)
	}
	return out
}
