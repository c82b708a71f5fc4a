package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/bus"
	"github.com/agentsdashboard/orchestrator/internal/domain"
	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/ledger"
	"github.com/agentsdashboard/orchestrator/internal/port/messagequeue"
)

// Gateway is the worker's RPC surface for the control plane: dispatch,
// cancel, heartbeat, reconcile, and event subscription. The HTTP API, the
// MCP server, and the NATS request/reply bindings all go through it.
type Gateway struct {
	workerID   string
	queue      *DispatchQueue
	store      ledger.Store
	snapshots  *Snapshots
	reconciler *Reconciler
	bus        *bus.EventBus
}

// NewGateway wires the gateway over the dispatch queue and ledger. snapshots
// may be nil, in which case reads go straight to the ledger.
func NewGateway(workerID string, queue *DispatchQueue, store ledger.Store, snapshots *Snapshots, reconciler *Reconciler, b *bus.EventBus) *Gateway {
	return &Gateway{workerID: workerID, queue: queue, store: store, snapshots: snapshots, reconciler: reconciler, bus: b}
}

// DispatchJob validates and admits a run.
func (g *Gateway) DispatchJob(ctx context.Context, req *run.Request) messagequeue.DispatchJobReply {
	if err := req.Validate(); err != nil {
		return messagequeue.DispatchJobReply{Reason: validationReason(err)}
	}
	if err := g.queue.Enqueue(ctx, req); err != nil {
		slog.Warn("dispatch refused", "run_id", req.Key(), "reason", err)
		return messagequeue.DispatchJobReply{Reason: err.Error()}
	}
	slog.Info("run dispatched", "run_id", req.Key(), "harness", req.Harness)
	return messagequeue.DispatchJobReply{Accepted: true}
}

// validationReason strips the validation sentinel from a wrapped error so
// clients see the human-readable part ("run_id is required") rather than the
// internal error chain.
func validationReason(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+domain.ErrValidation.Error())
}

// CancelJob cancels an active run. Unknown or already completed runs report
// Accepted=false; cancellation is idempotent.
func (g *Gateway) CancelJob(ctx context.Context, runID string) messagequeue.CancelJobReply {
	accepted := g.queue.Cancel(ctx, runID)
	slog.Info("cancel requested", "run_id", run.Key(runID), "accepted", accepted)
	return messagequeue.CancelJobReply{Accepted: accepted}
}

// Heartbeat acknowledges a liveness probe and publishes current slot usage.
func (g *Gateway) Heartbeat(ctx context.Context) messagequeue.HeartbeatReply {
	g.bus.PublishWorkerStatus(g.Status("ok"))
	return messagequeue.HeartbeatReply{Acknowledged: true}
}

// Status builds the worker's current status snapshot.
func (g *Gateway) Status(status string) messagequeue.WorkerStatus {
	return messagequeue.WorkerStatus{
		WorkerID:    g.workerID,
		Status:      status,
		ActiveSlots: g.queue.ActiveSlots(),
		MaxSlots:    g.queue.MaxSlots(),
		TimestampMs: time.Now().UnixMilli(),
	}
}

// GetRun returns the ledger snapshot for a run, through the cache when wired.
func (g *Gateway) GetRun(ctx context.Context, runID string) (*run.LedgerEntry, error) {
	if g.snapshots != nil {
		return g.snapshots.Get(ctx, runID)
	}
	return g.store.GetSnapshot(ctx, run.Key(runID))
}

// ActiveRuns returns the ledger snapshots of every admitted run. Runs that
// complete between listing and lookup are skipped.
func (g *Gateway) ActiveRuns(ctx context.Context) ([]*run.LedgerEntry, error) {
	ids := g.queue.ActiveRunIDs()
	entries := make([]*run.LedgerEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := g.store.GetSnapshot(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Reconcile removes orphaned containers, protecting the given active runs.
func (g *Gateway) Reconcile(ctx context.Context, activeRunIDs []string) (*messagequeue.ReconcileReply, error) {
	return g.reconciler.Reconcile(ctx, activeRunIDs)
}

// SubscribeEvents returns a live event stream and its cancel function.
func (g *Gateway) SubscribeEvents() (<-chan bus.Message, func()) {
	return g.bus.Subscribe()
}

// BindNATS registers the request/reply handlers for the control plane
// protocol. The returned function cancels all bindings.
func (g *Gateway) BindNATS(ctx context.Context, q messagequeue.Queue) (func(), error) {
	var cancels []func()
	cancelAll := func() {
		for _, c := range cancels {
			c()
		}
	}

	bind := func(subject string, handler messagequeue.ReplyHandler) error {
		cancel, err := q.Reply(ctx, subject, handler)
		if err != nil {
			return fmt.Errorf("bind %s: %w", subject, err)
		}
		cancels = append(cancels, cancel)
		return nil
	}

	if err := bind(messagequeue.SubjectJobDispatch, g.handleDispatch); err != nil {
		cancelAll()
		return nil, err
	}
	if err := bind(messagequeue.SubjectJobCancel, g.handleCancel); err != nil {
		cancelAll()
		return nil, err
	}
	if err := bind(messagequeue.SubjectJobReconcile, g.handleReconcile); err != nil {
		cancelAll()
		return nil, err
	}
	if err := bind(messagequeue.SubjectWorkerHeartbeat, g.handleHeartbeat); err != nil {
		cancelAll()
		return nil, err
	}
	return cancelAll, nil
}

func (g *Gateway) handleDispatch(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if err := messagequeue.Validate(subject, data); err != nil {
		return json.Marshal(messagequeue.DispatchJobReply{Reason: err.Error()})
	}
	var req messagequeue.DispatchJobRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return json.Marshal(messagequeue.DispatchJobReply{Reason: err.Error()})
	}
	return json.Marshal(g.DispatchJob(ctx, &req.Request))
}

func (g *Gateway) handleCancel(ctx context.Context, subject string, data []byte) ([]byte, error) {
	var req messagequeue.CancelJobRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return json.Marshal(messagequeue.CancelJobReply{})
	}
	return json.Marshal(g.CancelJob(ctx, req.RunID))
}

func (g *Gateway) handleReconcile(ctx context.Context, subject string, data []byte) ([]byte, error) {
	var req messagequeue.ReconcileRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	reply, err := g.Reconcile(ctx, req.ActiveRunIDs)
	if err != nil {
		return nil, err
	}
	return json.Marshal(reply)
}

func (g *Gateway) handleHeartbeat(ctx context.Context, _ string, _ []byte) ([]byte, error) {
	return json.Marshal(g.Heartbeat(ctx))
}
