package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/ledger"
)

// ErrQueueClosed is returned by Dequeue after Close, once drained.
var ErrQueueClosed = errors.New("dispatch queue closed")

// ErrAtCapacity rejects an admission when every slot is taken.
var ErrAtCapacity = errors.New("worker at capacity")

// activeRun tracks one admitted run from admission to terminal state.
type activeRun struct {
	req     run.Request
	cancel  context.CancelFunc
	running bool
}

// DispatchQueue is the admission gate and FIFO dispatch buffer. A run is
// "active" from admission until its terminal ledger transition; the number of
// active runs never exceeds maxSlots. Every admission is written through to
// the ledger before it becomes visible.
type DispatchQueue struct {
	maxSlots int
	store    ledger.Store

	mu      sync.Mutex
	active  map[string]*activeRun
	pending []run.Request
	signal  chan struct{}
	closed  bool
}

// NewDispatchQueue creates a queue with the given slot count.
func NewDispatchQueue(maxSlots int, store ledger.Store) *DispatchQueue {
	if maxSlots <= 0 {
		maxSlots = 1
	}
	return &DispatchQueue{
		maxSlots: maxSlots,
		store:    store,
		active:   make(map[string]*activeRun),
		signal:   make(chan struct{}, 1),
	}
}

// CanAccept reports whether a new run would be admitted right now.
func (q *DispatchQueue) CanAccept() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.closed && len(q.active) < q.maxSlots
}

// Enqueue admits a run: ledger write first, then the in-memory registration.
// A run ID already running is refused by the ledger with a conflict.
func (q *DispatchQueue) Enqueue(ctx context.Context, req *run.Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	key := req.Key()
	if _, dup := q.active[key]; !dup && len(q.active) >= q.maxSlots {
		return ErrAtCapacity
	}

	if err := q.store.UpsertQueued(ctx, req); err != nil {
		return fmt.Errorf("persist queued run: %w", err)
	}

	if _, dup := q.active[key]; dup {
		// Re-dispatch of a still-queued run: the ledger refresh is enough.
		return nil
	}
	q.active[key] = &activeRun{req: *req}
	q.pending = append(q.pending, *req)
	q.notify()
	return nil
}

// Dequeue blocks until a pending run is available, the context ends, or the
// queue is closed and drained.
func (q *DispatchQueue) Dequeue(ctx context.Context) (*run.Request, error) {
	for {
		q.mu.Lock()
		for len(q.pending) > 0 {
			req := q.pending[0]
			q.pending = q.pending[1:]
			// Skip entries cancelled before dispatch.
			if _, ok := q.active[req.Key()]; !ok {
				continue
			}
			q.mu.Unlock()
			return &req, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// SetCancel attaches the run's cancel function once dispatch starts and marks
// the run as running.
func (q *DispatchQueue) SetCancel(runID string, cancel context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if a, ok := q.active[run.Key(runID)]; ok {
		a.cancel = cancel
		a.running = true
	}
}

// Cancel requests cancellation of an active run. A running run gets its
// context cancelled and completes through the pipeline; a run still pending
// dispatch is completed as Cancelled directly. Reports whether the run was
// active.
func (q *DispatchQueue) Cancel(ctx context.Context, runID string) bool {
	key := run.Key(runID)

	q.mu.Lock()
	a, ok := q.active[key]
	if !ok {
		q.mu.Unlock()
		return false
	}
	if a.running {
		cancel := a.cancel
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return true
	}
	delete(q.active, key)
	q.mu.Unlock()

	if err := q.store.MarkCompleted(ctx, key, run.StateCancelled, "Run cancelled before dispatch", ""); err != nil {
		slog.Error("mark cancelled before dispatch", "run_id", key, "error", err)
	}
	return true
}

// MarkCompleted releases the run's slot. Idempotent.
func (q *DispatchQueue) MarkCompleted(runID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, run.Key(runID))
}

// Recover sweeps stale Running entries to Failed and re-enqueues everything
// the ledger still holds as Queued, in creation order. Called once on startup
// before the consumer loop starts.
func (q *DispatchQueue) Recover(ctx context.Context) error {
	swept, err := q.store.RecoverStaleRunning(ctx)
	if err != nil {
		return fmt.Errorf("recover stale running: %w", err)
	}
	if swept > 0 {
		slog.Warn("swept stale running entries to failed", "count", swept)
	}

	reqs, err := q.store.ListQueuedRequests(ctx)
	if err != nil {
		return fmt.Errorf("list queued requests: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range reqs {
		req := reqs[i]
		key := req.Key()
		if _, ok := q.active[key]; ok {
			continue
		}
		q.active[key] = &activeRun{req: req}
		q.pending = append(q.pending, req)
	}
	if len(reqs) > 0 {
		slog.Info("re-enqueued persisted runs", "count", len(reqs))
		q.notify()
	}
	return nil
}

// ActiveRunIDs returns the canonical IDs of all active runs.
func (q *DispatchQueue) ActiveRunIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.active))
	for id := range q.active {
		ids = append(ids, id)
	}
	return ids
}

// ActiveSlots returns the number of occupied slots.
func (q *DispatchQueue) ActiveSlots() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// MaxSlots returns the slot capacity.
func (q *DispatchQueue) MaxSlots() int { return q.maxSlots }

// Close stops admissions. Dequeue drains what is pending, then reports
// ErrQueueClosed.
func (q *DispatchQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notify()
}

// CancelAllRunning cancels every run currently executing. Used by shutdown
// after the grace window expires.
func (q *DispatchQueue) CancelAllRunning() {
	q.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(q.active))
	for _, a := range q.active {
		if a.running && a.cancel != nil {
			cancels = append(cancels, a.cancel)
		}
	}
	q.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// notify wakes one Dequeue waiter. Callers hold q.mu.
func (q *DispatchQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
