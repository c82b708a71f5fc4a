// Package ledger defines the run ledger port: the durable source of truth
// for run state, driving crash recovery and idempotent transitions.
package ledger

import (
	"context"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
)

// RecoverySummary is stamped on entries swept from Running to Failed when the
// worker restarts mid-run.
const RecoverySummary = "task runtime restarted before completion"

// Store is the port interface for the run ledger. All writes are synchronous
// to stable storage; a failed write leaves the entry unchanged. Transitions
// are compare-and-set on state: each operation names its allowed predecessor
// set and returns domain.ErrConflict when the entry is not in it.
type Store interface {
	// UpsertQueued creates or resets the entry for the request to Queued,
	// persisting the serialized request. Re-upserting an already queued
	// request refreshes updated_at; terminal entries are reset to Queued
	// (a re-dispatch of a finished run).
	UpsertQueued(ctx context.Context, req *run.Request) error

	// MarkRunning transitions Queued -> Running, stamping started_at once.
	MarkRunning(ctx context.Context, runID string) error

	// MarkCompleted transitions Running (or Queued, for cancellation before
	// dispatch) to the given terminal state, stamping ended_at.
	MarkCompleted(ctx context.Context, runID string, state run.State, summary, payloadJSON string) error

	// ListQueuedRequests returns all queued requests in creation order.
	ListQueuedRequests(ctx context.Context) ([]run.Request, error)

	// ListRunningIDs returns the run IDs of all entries in Running.
	ListRunningIDs(ctx context.Context) ([]string, error)

	// GetSnapshot returns the ledger entry for a run.
	GetSnapshot(ctx context.Context, runID string) (*run.LedgerEntry, error)

	// RecoverStaleRunning sweeps every Running entry to Failed with
	// RecoverySummary. Called once on startup before re-enqueueing queued
	// work. Returns the number of swept entries.
	RecoverStaleRunning(ctx context.Context) (int, error)
}
