package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/adapter/memledger"
	"github.com/agentsdashboard/orchestrator/internal/domain/container"
)

// listRuntime extends the nop runtime with a canned container listing.
type listRuntime struct {
	nopRuntime
	containers []container.Container
	removeErr  map[string]error
	removed    []string
}

func (l *listRuntime) ListOrchestratorContainers(context.Context) ([]container.Container, error) {
	return l.containers, nil
}

func (l *listRuntime) Remove(_ context.Context, id string) error {
	if err := l.removeErr[id]; err != nil {
		return err
	}
	l.removed = append(l.removed, id)
	return nil
}

func TestReconcileRemovesOrphans(t *testing.T) {
	ctx := context.Background()
	q := NewDispatchQueue(4, memledger.NewStore())
	if err := q.Enqueue(ctx, queuedRequest("active-1")); err != nil {
		t.Fatal(err)
	}

	rt := &listRuntime{containers: []container.Container{
		{ID: "c1", RunID: "Active-1", State: "running"}, // protected, case-insensitive
		{ID: "c2", RunID: "gone-1", State: "exited"},
		{ID: "c3", RunID: "protected-remote", State: "running"}, // protected by caller
		{ID: "c4", RunID: "gone-2", State: "running"},
	}}

	r := NewReconciler(rt, q, nil, time.Minute)
	reply, err := r.Reconcile(ctx, []string{"PROTECTED-REMOTE"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if reply.OrphanedCount != 2 {
		t.Errorf("orphaned = %d, want 2", reply.OrphanedCount)
	}
	if len(reply.RemovedContainers) != 2 {
		t.Fatalf("removed = %+v, want 2", reply.RemovedContainers)
	}
	want := map[string]bool{"c2": true, "c4": true}
	for _, rc := range reply.RemovedContainers {
		if !want[rc.ContainerID] {
			t.Errorf("unexpected removal %+v", rc)
		}
	}
}

func TestReconcileCountsUnremovableOrphans(t *testing.T) {
	q := NewDispatchQueue(4, memledger.NewStore())
	rt := &listRuntime{
		containers: []container.Container{{ID: "c1", RunID: "gone", State: "exited"}},
		removeErr:  map[string]error{"c1": errors.New("in use")},
	}

	r := NewReconciler(rt, q, nil, time.Minute)
	reply, err := r.Reconcile(context.Background(), nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if reply.OrphanedCount != 1 {
		t.Errorf("orphaned = %d, want 1", reply.OrphanedCount)
	}
	if len(reply.RemovedContainers) != 0 {
		t.Errorf("removed = %+v, want none", reply.RemovedContainers)
	}
}
