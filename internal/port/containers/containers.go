// Package containers defines the container runtime port used to sandbox
// harness executions.
package containers

import (
	"context"

	"github.com/agentsdashboard/orchestrator/internal/domain/container"
)

// CreateSpec describes one container to create for a run.
type CreateSpec struct {
	Image             string
	Cmd               []string
	Env               map[string]string
	Labels            map[string]string
	WorkspaceHostPath string
	ArtifactsHostPath string
	Sandbox           container.SandboxProfile
	User              string
}

// LogChunk is one flushed slice of merged stdout+stderr output.
type LogChunk struct {
	Data []byte
	Err  error
}

// Runtime is the port interface for the container runtime. Implementations
// must stamp container.LabelRunID (plus task/repo labels) on every container
// they create; that label is the sole predicate for orphan reconciliation.
type Runtime interface {
	// Create creates a container and returns its ID. The container is not
	// started.
	Create(ctx context.Context, spec CreateSpec) (string, error)

	// Start starts a created container.
	Start(ctx context.Context, containerID string) error

	// StreamLogs follows merged stdout+stderr as UTF-8 chunks, flushing when
	// at least 4096 bytes accumulate or on EOF. The channel closes when the
	// container exits or ctx is cancelled. Before attaching to an existing
	// container the implementation verifies its run-id label matches
	// expectRunID.
	StreamLogs(ctx context.Context, containerID, expectRunID string) (<-chan LogChunk, error)

	// Wait blocks until the container exits and returns its exit status.
	Wait(ctx context.Context, containerID string) (int, error)

	// Remove force-removes a container. A missing container is not an error.
	Remove(ctx context.Context, containerID string) error

	// KillByRunID stops the container labelled with runID. With force the
	// container is removed immediately; otherwise it is stopped gracefully
	// with a 5 second wait. Reports whether a container was found.
	KillByRunID(ctx context.Context, runID string, force bool) (bool, error)

	// ListOrchestratorContainers returns every container carrying the
	// orchestrator run-id label.
	ListOrchestratorContainers(ctx context.Context) ([]container.Container, error)
}
