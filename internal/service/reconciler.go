package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/adapter/otel"
	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/containers"
	"github.com/agentsdashboard/orchestrator/internal/port/messagequeue"
)

// Reconciler reaps orphaned containers: anything carrying the orchestrator
// run-id label whose run is no longer active. A crashed pipeline or a missed
// removal leaves such containers behind; reconciliation is the backstop.
type Reconciler struct {
	runtime  containers.Runtime
	queue    *DispatchQueue
	metrics  *otel.Metrics
	interval time.Duration
}

// NewReconciler creates a reconciler. metrics may be nil.
func NewReconciler(runtime containers.Runtime, queue *DispatchQueue, metrics *otel.Metrics, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{runtime: runtime, queue: queue, metrics: metrics, interval: interval}
}

// Run reconciles on a fixed interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx, r.queue.ActiveRunIDs()); err != nil {
				slog.Error("reconcile orphans", "error", err)
			}
		}
	}
}

// Reconcile removes every labelled container whose run ID is not in
// activeRunIDs. Matching is case-insensitive on run ID. The local active set
// is always included, so a control-plane provided list can only widen the
// set of protected runs.
func (r *Reconciler) Reconcile(ctx context.Context, activeRunIDs []string) (*messagequeue.ReconcileReply, error) {
	active := make(map[string]bool, len(activeRunIDs)+8)
	for _, id := range activeRunIDs {
		active[run.Key(id)] = true
	}
	for _, id := range r.queue.ActiveRunIDs() {
		active[run.Key(id)] = true
	}

	listed, err := r.runtime.ListOrchestratorContainers(ctx)
	if err != nil {
		return nil, err
	}

	reply := &messagequeue.ReconcileReply{}
	for _, c := range listed {
		if active[run.Key(c.RunID)] {
			continue
		}
		reply.OrphanedCount++
		if r.metrics != nil {
			r.metrics.OrphansDetected.Add(ctx, 1)
		}
		slog.Warn("orphaned container found", "container_id", c.ID, "run_id", c.RunID, "state", c.State)

		if err := r.runtime.Remove(ctx, c.ID); err != nil {
			slog.Error("remove orphaned container", "container_id", c.ID, "error", err)
			continue
		}
		if r.metrics != nil {
			r.metrics.OrphansRemoved.Add(ctx, 1)
		}
		reply.RemovedContainers = append(reply.RemovedContainers, messagequeue.RemovedContainer{
			ContainerID: c.ID,
			RunID:       c.RunID,
		})
	}

	if reply.OrphanedCount > 0 {
		slog.Info("reconciliation complete",
			"orphaned", reply.OrphanedCount, "removed", len(reply.RemovedContainers))
	}
	return reply, nil
}
