// Package harness defines the runtime adapter port: one adapter executes a
// single agent invocation and streams typed events through a sink.
package harness

import (
	"context"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
)

// Env keys through which the pipeline hands host paths to the adapters. The
// values are host paths bound into the container at /workspace and /artifacts.
const (
	EnvWorkspacePath = "WORKSPACE_PATH"
	EnvArtifactsPath = "ARTIFACTS_PATH"
)

// EventSink receives runtime events from an adapter. The sink is
// single-producer and ordered; it assigns a monotonic sequence starting at 1
// to every emitted event.
type EventSink interface {
	// Emit publishes one event. The sink owns sequencing; adapters never
	// set Sequence themselves.
	Emit(ctx context.Context, eventType run.EventType, content string, metadata map[string]string)
}

// Result is what an adapter returns for one completed invocation.
type Result struct {
	Envelope *run.Envelope
	ExitCode int
}

// Adapter is the port interface for one harness runtime. Run must be
// cancellable via ctx, must not retain req after returning, and reports all
// progress through the sink.
type Adapter interface {
	// Name returns the adapter id (e.g. "command", "codex-app-server").
	Name() string

	// Mode returns the runtime mode this adapter advertises
	// (e.g. "command", "app-server", "sse", "stream-json").
	Mode() string

	// Run executes one agent invocation.
	Run(ctx context.Context, req *run.Request, sink EventSink) (*Result, error)
}
