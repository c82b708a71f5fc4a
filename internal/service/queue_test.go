package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/adapter/memledger"
	"github.com/agentsdashboard/orchestrator/internal/domain/run"
)

func queuedRequest(id string) *run.Request {
	return &run.Request{RunID: id, TaskID: "task-1", Harness: "codex"}
}

func TestEnqueueCapacity(t *testing.T) {
	ctx := context.Background()
	q := NewDispatchQueue(2, memledger.NewStore())

	if !q.CanAccept() {
		t.Fatal("empty queue should accept")
	}
	if err := q.Enqueue(ctx, queuedRequest("r1")); err != nil {
		t.Fatalf("enqueue r1: %v", err)
	}
	if err := q.Enqueue(ctx, queuedRequest("r2")); err != nil {
		t.Fatalf("enqueue r2: %v", err)
	}
	if q.CanAccept() {
		t.Error("full queue should not accept")
	}
	if err := q.Enqueue(ctx, queuedRequest("r3")); !errors.Is(err, ErrAtCapacity) {
		t.Errorf("enqueue r3 = %v, want ErrAtCapacity", err)
	}

	// Re-dispatch of an admitted run does not need a free slot.
	if err := q.Enqueue(ctx, queuedRequest("R1")); err != nil {
		t.Errorf("re-enqueue r1 = %v", err)
	}

	q.MarkCompleted("r1")
	if !q.CanAccept() {
		t.Error("freed slot should accept again")
	}
}

func TestCancelPendingRunSkippedByDequeue(t *testing.T) {
	ctx := context.Background()
	store := memledger.NewStore()
	q := NewDispatchQueue(4, store)

	if err := q.Enqueue(ctx, queuedRequest("r1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, queuedRequest("r2")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if !q.Cancel(ctx, "R1") {
		t.Fatal("cancel of pending run should be accepted")
	}
	snap, err := store.GetSnapshot(ctx, "r1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != run.StateCancelled {
		t.Errorf("state = %q, want cancelled", snap.State)
	}

	req, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if req.RunID != "r2" {
		t.Errorf("dequeued %q, want r2 (r1 was cancelled)", req.RunID)
	}
}

func TestCancelUnknownRun(t *testing.T) {
	q := NewDispatchQueue(1, memledger.NewStore())
	if q.Cancel(context.Background(), "nope") {
		t.Error("cancel of unknown run should report false")
	}
}

func TestCancelRunningRunInvokesCancelFunc(t *testing.T) {
	ctx := context.Background()
	q := NewDispatchQueue(1, memledger.NewStore())
	if err := q.Enqueue(ctx, queuedRequest("r1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cancelled := false
	q.SetCancel("r1", func() { cancelled = true })

	if !q.Cancel(ctx, "r1") {
		t.Fatal("cancel of running run should be accepted")
	}
	if !cancelled {
		t.Error("cancel func was not invoked")
	}
	// The slot stays occupied until the pipeline completes the run.
	if q.ActiveSlots() != 1 {
		t.Errorf("active slots = %d, want 1", q.ActiveSlots())
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	ctx := context.Background()
	q := NewDispatchQueue(1, memledger.NewStore())

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, queuedRequest("r1"))
	}()

	deadline, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := q.Dequeue(deadline)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if req.RunID != "r1" {
		t.Errorf("dequeued %q, want r1", req.RunID)
	}
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	ctx := context.Background()
	q := NewDispatchQueue(1, memledger.NewStore())
	if err := q.Enqueue(ctx, queuedRequest("r1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Close()

	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("dequeue pending after close: %v", err)
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("dequeue = %v, want ErrQueueClosed", err)
	}
	if err := q.Enqueue(ctx, queuedRequest("r2")); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("enqueue after close = %v, want ErrQueueClosed", err)
	}
}

func TestRecoverSweepsAndReenqueues(t *testing.T) {
	ctx := context.Background()
	store := memledger.NewStore()

	// One run crashed mid-flight, two are still queued.
	if err := store.UpsertQueued(ctx, queuedRequest("crashed")); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkRunning(ctx, "crashed"); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertQueued(ctx, queuedRequest("q1")); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertQueued(ctx, queuedRequest("q2")); err != nil {
		t.Fatal(err)
	}

	q := NewDispatchQueue(4, store)
	if err := q.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	snap, err := store.GetSnapshot(ctx, "crashed")
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != run.StateFailed {
		t.Errorf("crashed state = %q, want failed", snap.State)
	}

	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if first.RunID != "q1" || second.RunID != "q2" {
		t.Errorf("recovered order = %q, %q; want q1, q2", first.RunID, second.RunID)
	}
}
