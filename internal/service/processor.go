package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/adapter/otel"
	"github.com/agentsdashboard/orchestrator/internal/bus"
	"github.com/agentsdashboard/orchestrator/internal/config"
	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/containers"
	"github.com/agentsdashboard/orchestrator/internal/port/harness"
	"github.com/agentsdashboard/orchestrator/internal/port/ledger"
	"github.com/agentsdashboard/orchestrator/internal/port/messagequeue"
	"github.com/agentsdashboard/orchestrator/internal/port/workspace"
)

// Summaries used for runs that never produced a usable adapter envelope.
const (
	cancelledSummary = "Run cancelled or timed out"
	cancelledError   = "Execution cancelled or exceeded timeout"
)

// selector routes a request to a runtime adapter selection. Declared as a
// function so tests can substitute the routing table.
type selector func(req *run.Request) (*harness.Selection, error)

// Processor consumes admitted runs from the dispatch queue and drives each
// one through the full pipeline: ledger transition, workspace preparation,
// harness execution with fallback, envelope finalization, workspace
// finalization, terminal ledger transition, terminal event.
type Processor struct {
	queue      *DispatchQueue
	store      ledger.Store
	workspaces workspace.Manager
	runtime    containers.Runtime
	finalizer  *Finalizer
	bus        *bus.EventBus
	mq         messagequeue.Queue
	metrics    *otel.Metrics
	cfg        config.Worker
	route      selector

	wg sync.WaitGroup
}

// NewProcessor wires a processor. mq and metrics may be nil.
func NewProcessor(
	queue *DispatchQueue,
	store ledger.Store,
	workspaces workspace.Manager,
	runtime containers.Runtime,
	b *bus.EventBus,
	mq messagequeue.Queue,
	metrics *otel.Metrics,
	cfg config.Worker,
) *Processor {
	return &Processor{
		queue:      queue,
		store:      store,
		workspaces: workspaces,
		runtime:    runtime,
		finalizer:  NewFinalizer(),
		bus:        b,
		mq:         mq,
		metrics:    metrics,
		cfg:        cfg,
		route:      harness.Select,
	}
}

// Run consumes the dispatch queue until ctx ends or the queue closes. Each
// run executes on its own goroutine so slots fill concurrently.
func (p *Processor) Run(ctx context.Context) error {
	for {
		req, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.execute(req)
		}()
	}
}

// Shutdown closes the queue, waits out the grace window, then cancels every
// run still executing and waits for the pipelines to finish.
func (p *Processor) Shutdown(ctx context.Context) {
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	grace := p.cfg.ShutdownGrace
	if grace <= 0 {
		grace = time.Second
	}
	select {
	case <-done:
		return
	case <-time.After(grace):
	case <-ctx.Done():
	}

	slog.Warn("shutdown grace expired, cancelling active runs")
	p.queue.CancelAllRunning()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// execute drives one run through the pipeline. The run context is detached
// from the consumer loop so a dequeue shutdown does not abort runs in flight.
func (p *Processor) execute(req *run.Request) {
	key := req.Key()
	defer p.queue.MarkCompleted(key)

	timeout := p.cfg.DefaultTimeout
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec) * time.Second
	}
	runCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	p.queue.SetCancel(key, cancel)

	if err := p.store.MarkRunning(runCtx, key); err != nil {
		// Cancelled before dispatch or duplicate delivery; nothing to do.
		slog.Info("skip run, not queued", "run_id", key, "error", err)
		return
	}

	runCtx, span := otel.StartRunSpan(runCtx, req.RunID, req.TaskID, req.RepositoryID)
	defer span.End()
	if p.metrics != nil {
		p.metrics.RunsStarted.Add(runCtx, 1)
	}
	started := time.Now()
	slog.Info("run started", "run_id", key, "harness", req.Harness, "task_id", req.TaskID)

	sink := NewRunEventSink(req.RunID, req.StructuredProtocolVersion, p.bus, p.mq)
	env, ws, exitCode, rt, cancelled := p.runPipeline(runCtx, req, sink)

	// Everything from here on must survive cancellation.
	endCtx := context.WithoutCancel(runCtx)

	p.finalizer.Finalize(req, ws, env, exitCode, rt)

	if ws != nil {
		finCtx, finSpan := otel.StartWorkspaceSpan(endCtx, key, "finalize")
		if err := p.workspaces.Finalize(finCtx, req, ws, env); err != nil {
			slog.Error("workspace finalize", "run_id", key, "error", err)
			failFinalize(env, err)
		}
		finSpan.End()
	}

	state := env.LedgerState()
	if cancelled {
		state = run.StateCancelled
	}

	payload, err := json.Marshal(env)
	if err != nil {
		slog.Error("marshal envelope", "run_id", key, "error", err)
		payload = []byte("{}")
	}
	if err := p.store.MarkCompleted(endCtx, key, state, env.Summary, string(payload)); err != nil {
		slog.Error("mark completed", "run_id", key, "state", state, "error", err)
	}

	p.recordMetrics(endCtx, state, time.Since(started))
	slog.Info("run completed", "run_id", key, "state", state, "duration", time.Since(started))

	// Terminal event last, with the highest sequence.
	sink.Completed(endCtx, env, state)
}

// runPipeline prepares the workspace and executes the harness, returning the
// raw adapter envelope (or a synthesized failure envelope) plus the workspace
// context when preparation succeeded.
func (p *Processor) runPipeline(ctx context.Context, req *run.Request, sink *RunEventSink) (*run.Envelope, *workspace.Context, int, RuntimeInfo, bool) {
	prepCtx, prepSpan := otel.StartWorkspaceSpan(ctx, req.Key(), "prepare")
	ws, err := p.workspaces.Prepare(prepCtx, req)
	prepSpan.End()
	if err != nil {
		slog.Error("workspace prepare", "run_id", req.Key(), "error", err)
		if ctx.Err() != nil {
			return cancelledEnvelope(), nil, 0, RuntimeInfo{}, true
		}
		return &run.Envelope{
			Status:  run.EnvelopeFailed,
			Summary: "Workspace preparation failed",
			Error:   err.Error(),
		}, nil, 0, RuntimeInfo{}, false
	}

	if req.Env == nil {
		req.Env = make(map[string]string)
	}
	req.Env[harness.EnvWorkspacePath] = ws.Path
	artifactsDir := filepath.Join(p.cfg.ArtifactsRoot, req.Key())
	if err := os.MkdirAll(artifactsDir, 0o755); err == nil {
		req.Env[harness.EnvArtifactsPath] = artifactsDir
	}

	sel, err := p.route(req)
	if err != nil {
		return &run.Envelope{
			Status:  run.EnvelopeFailed,
			Summary: "Harness routing failed",
			Error:   err.Error(),
		}, ws, 0, RuntimeInfo{}, false
	}

	res, rt, err := p.runWithFallback(ctx, sel, req, sink)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			p.killContainer(req.Key())
			return cancelledEnvelope(), ws, 0, rt, true
		}
		return &run.Envelope{
			Status:  run.EnvelopeFailed,
			Summary: "Harness execution crashed",
			Error:   err.Error(),
		}, ws, 0, rt, false
	}
	return res.Envelope, ws, res.ExitCode, rt, false
}

// runWithFallback executes the primary adapter and, on a non-cancellation
// failure, retries once on the fallback with a diagnostic event in between.
func (p *Processor) runWithFallback(ctx context.Context, sel *harness.Selection, req *run.Request, sink *RunEventSink) (*harness.Result, RuntimeInfo, error) {
	rt := RuntimeInfo{Name: sel.Primary.Name(), Mode: sel.Mode}

	primaryCtx, primarySpan := otel.StartHarnessSpan(ctx, req.Key(), sel.Primary.Name(), sel.Mode)
	res, err := sel.Primary.Run(primaryCtx, req, sink)
	primarySpan.End()
	if err == nil {
		return res, rt, nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, rt, err
	}
	if sel.Fallback == nil {
		return nil, rt, err
	}

	failure := err.Error()
	slog.Warn("structured runtime failed, falling back",
		"run_id", req.Key(), "primary", sel.Primary.Name(), "fallback", sel.Fallback.Name(), "error", err)
	sink.Emit(ctx, run.EventDiagnostic,
		fmt.Sprintf("Structured runtime '%s' failed: %s", sel.Primary.Name(), failure),
		map[string]string{
			run.MetaStructuredRuntimeFallback: "true",
			run.MetaStructuredRuntimeFailure:  failure,
		})

	rt = RuntimeInfo{
		Name:     sel.Fallback.Name(),
		Mode:     sel.Fallback.Mode(),
		FellBack: true,
		Failure:  failure,
	}
	fallbackCtx, fallbackSpan := otel.StartHarnessSpan(ctx, req.Key(), sel.Fallback.Name(), rt.Mode)
	res, err = sel.Fallback.Run(fallbackCtx, req, sink)
	fallbackSpan.End()
	if err != nil {
		return nil, rt, err
	}
	return res, rt, nil
}

// killContainer force-removes whatever container still carries the run label.
func (p *Processor) killContainer(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if found, err := p.runtime.KillByRunID(ctx, runID, true); err != nil {
		slog.Error("kill run container", "run_id", runID, "error", err)
	} else if found {
		slog.Info("killed run container", "run_id", runID)
	}
}

func (p *Processor) recordMetrics(ctx context.Context, state run.State, elapsed time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.RunsCompleted.Add(ctx, 1)
	if state == run.StateFailed || state == run.StateCancelled {
		p.metrics.RunsFailed.Add(ctx, 1)
	}
	p.metrics.RunDuration.Record(ctx, elapsed.Seconds())
}

// failFinalize downgrades an envelope whose workspace finalization errored
// out before the git workflow could record an outcome. A run whose changes
// never verifiably reached the remote must not land as Succeeded.
func failFinalize(env *run.Envelope, err error) {
	if env.Status != run.EnvelopeSucceeded {
		return
	}
	env.Status = run.EnvelopeFailed
	env.Summary = "Git finalization failed"
	env.Error = err.Error()
	env.SetMeta(run.MetaGitWorkflow, "failed")
	env.SetMeta(run.MetaGitFailure, err.Error())
}

func cancelledEnvelope() *run.Envelope {
	return &run.Envelope{
		Status:  run.EnvelopeFailed,
		Summary: cancelledSummary,
		Error:   cancelledError,
	}
}
