package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "orchestrator"

// StartRunSpan starts a span covering one run from admission to terminal state.
func StartRunSpan(ctx context.Context, runID, taskID, repoID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("task.id", taskID),
			attribute.String("repo.id", repoID),
		),
	)
}

// StartWorkspaceSpan starts a span for a workspace prepare or finalize phase.
func StartWorkspaceSpan(ctx context.Context, runID, phase string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "workspace."+phase,
		trace.WithAttributes(attribute.String("run.id", runID)),
	)
}

// StartHarnessSpan starts a span for one harness runtime execution.
func StartHarnessSpan(ctx context.Context, runID, runtime, mode string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "harness",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("harness.runtime", runtime),
			attribute.String("harness.mode", mode),
		),
	)
}
