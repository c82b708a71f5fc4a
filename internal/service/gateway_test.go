package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/adapter/memledger"
	"github.com/agentsdashboard/orchestrator/internal/bus"
	"github.com/agentsdashboard/orchestrator/internal/domain/run"
)

func newGateway(t *testing.T, maxSlots int) (*Gateway, *DispatchQueue) {
	t.Helper()
	store := memledger.NewStore()
	q := NewDispatchQueue(maxSlots, store)
	b := bus.New()
	t.Cleanup(b.Close)
	rec := NewReconciler(&nopRuntime{}, q, nil, time.Minute)
	return NewGateway("worker-1", q, store, nil, rec, b), q
}

func TestDispatchJobValidation(t *testing.T) {
	g, _ := newGateway(t, 2)

	reply := g.DispatchJob(context.Background(), &run.Request{TaskID: "t1"})
	if reply.Accepted {
		t.Error("request without run_id accepted")
	}
	if reply.Reason != "run_id is required" {
		t.Errorf("reason = %q, want bare message without the sentinel", reply.Reason)
	}

	reply = g.DispatchJob(context.Background(), queuedRequest("r1"))
	if !reply.Accepted {
		t.Errorf("valid request refused: %q", reply.Reason)
	}
}

func TestDispatchJobAtCapacity(t *testing.T) {
	g, _ := newGateway(t, 1)

	if reply := g.DispatchJob(context.Background(), queuedRequest("r1")); !reply.Accepted {
		t.Fatalf("first dispatch refused: %q", reply.Reason)
	}
	reply := g.DispatchJob(context.Background(), queuedRequest("r2"))
	if reply.Accepted {
		t.Error("dispatch above capacity accepted")
	}
	if !strings.Contains(reply.Reason, "capacity") {
		t.Errorf("reason = %q", reply.Reason)
	}
}

func TestCancelJobIdempotent(t *testing.T) {
	g, _ := newGateway(t, 2)
	ctx := context.Background()

	g.DispatchJob(ctx, queuedRequest("r1"))
	if reply := g.CancelJob(ctx, "R1"); !reply.Accepted {
		t.Error("cancel of active run refused")
	}
	if reply := g.CancelJob(ctx, "r1"); reply.Accepted {
		t.Error("second cancel should report not active")
	}
	if reply := g.CancelJob(ctx, "never-existed"); reply.Accepted {
		t.Error("cancel of unknown run accepted")
	}
}

func TestHeartbeatReportsSlots(t *testing.T) {
	g, _ := newGateway(t, 3)
	ctx := context.Background()

	g.DispatchJob(ctx, queuedRequest("r1"))
	g.DispatchJob(ctx, queuedRequest("r2"))

	if reply := g.Heartbeat(ctx); !reply.Acknowledged {
		t.Error("heartbeat not acknowledged")
	}
	st := g.Status("ok")
	if st.ActiveSlots != 2 || st.MaxSlots != 3 {
		t.Errorf("slots = %d/%d, want 2/3", st.ActiveSlots, st.MaxSlots)
	}
	if st.WorkerID != "worker-1" {
		t.Errorf("worker id = %q", st.WorkerID)
	}
}

func TestGetRunSnapshot(t *testing.T) {
	g, _ := newGateway(t, 2)
	ctx := context.Background()

	g.DispatchJob(ctx, queuedRequest("r1"))
	snap, err := g.GetRun(ctx, "R1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if snap.State != run.StateQueued {
		t.Errorf("state = %q, want queued", snap.State)
	}

	if _, err := g.GetRun(ctx, "missing"); err == nil {
		t.Error("expected error for unknown run")
	}
}
