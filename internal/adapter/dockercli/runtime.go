// Package dockercli implements the container runtime port by shelling out to
// the docker CLI. All orchestrator containers are stamped with run labels so
// they can be found again after a process restart.
package dockercli

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/domain/container"
	"github.com/agentsdashboard/orchestrator/internal/port/containers"
)

// createdAtLayout matches the docker ps --format {{.CreatedAt}} output.
const createdAtLayout = "2006-01-02 15:04:05 -0700 MST"

// Runtime implements containers.Runtime using the docker CLI.
type Runtime struct{}

// NewRuntime creates a docker CLI runtime.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// Create creates a container with the sandbox profile applied. The container
// is not started. Auto-remove is set so the daemon reaps the container on
// exit even if the orchestrator dies before its own Remove call.
func (r *Runtime) Create(ctx context.Context, spec containers.CreateSpec) (string, error) {
	if spec.Image == "" {
		return "", fmt.Errorf("container create: image is required")
	}

	output, err := runDocker(ctx, createArgs(spec)...)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	return strings.TrimSpace(output), nil
}

// createArgs builds the docker create argument list for a spec.
func createArgs(spec containers.CreateSpec) []string {
	args := []string{"create", "--rm"}

	for k, v := range spec.Labels {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, v))
	}

	if spec.Sandbox.CPULimit > 0 {
		args = append(args, fmt.Sprintf("--cpus=%g", spec.Sandbox.CPULimit))
	}
	args = append(args, fmt.Sprintf("--memory=%d", container.ParseMemoryBytes(spec.Sandbox.MemoryLimit)))

	if spec.Sandbox.NetworkDisabled {
		args = append(args, "--network=none")
	}
	if spec.Sandbox.ReadOnlyRootFS {
		args = append(args,
			"--read-only",
			"--tmpfs", "/tmp:rw,size=100m",
			"--tmpfs", "/var/tmp:rw,size=50m",
		)
	}
	args = append(args,
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
	)

	if spec.WorkspaceHostPath != "" {
		args = append(args, "-v", fmt.Sprintf("%s:/workspace", spec.WorkspaceHostPath))
	}
	if spec.ArtifactsHostPath != "" {
		args = append(args, "-v", fmt.Sprintf("%s:/artifacts", spec.ArtifactsHostPath))
	}
	args = append(args, "--workdir", "/workspace")

	if spec.User != "" {
		args = append(args, "--user", spec.User)
	}

	for k, v := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	args = append(args, spec.Image)
	args = append(args, spec.Cmd...)
	return args
}

// Start starts a created container.
func (r *Runtime) Start(ctx context.Context, containerID string) error {
	if _, err := runDocker(ctx, "start", containerID); err != nil {
		return fmt.Errorf("container start: %w", err)
	}
	return nil
}

// StreamLogs follows merged stdout+stderr of the container, flushing chunks
// of at least 4096 bytes (or whatever remains at EOF). The run-id label of
// the container is verified against expectRunID before attaching so a
// recycled container ID cannot leak another run's output.
func (r *Runtime) StreamLogs(ctx context.Context, containerID, expectRunID string) (<-chan containers.LogChunk, error) {
	label, err := r.inspectLabel(ctx, containerID, container.LabelRunID)
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(label), strings.TrimSpace(expectRunID)) {
		return nil, fmt.Errorf("container logs: run label %q does not match %q", label, expectRunID)
	}

	cmd := exec.CommandContext(ctx, "docker", "logs", "-f", containerID) //nolint:gosec // G204: docker args are constructed internally, not from user input
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("container logs pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("container logs start: %w", err)
	}

	ch := make(chan containers.LogChunk, 8)
	go func() {
		defer close(ch)
		defer func() { _ = cmd.Wait() }()

		var pending bytes.Buffer
		buf := make([]byte, 4096)
		for {
			n, readErr := stdout.Read(buf)
			if n > 0 {
				pending.Write(buf[:n])
				if pending.Len() >= 4096 {
					flush(ctx, ch, &pending)
				}
			}
			if readErr != nil {
				if pending.Len() > 0 {
					flush(ctx, ch, &pending)
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return ch, nil
}

func flush(ctx context.Context, ch chan<- containers.LogChunk, pending *bytes.Buffer) {
	data := make([]byte, pending.Len())
	copy(data, pending.Bytes())
	pending.Reset()
	select {
	case ch <- containers.LogChunk{Data: data}:
	case <-ctx.Done():
	}
}

// Wait blocks until the container exits and returns its exit status.
func (r *Runtime) Wait(ctx context.Context, containerID string) (int, error) {
	output, err := runDocker(ctx, "wait", containerID)
	if err != nil {
		return -1, fmt.Errorf("container wait: %w", err)
	}

	code, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil {
		return -1, fmt.Errorf("container wait: parse exit code %q: %w", strings.TrimSpace(output), err)
	}
	return code, nil
}

// Remove force-removes a container. A missing container is not an error.
func (r *Runtime) Remove(ctx context.Context, containerID string) error {
	if _, err := runDocker(ctx, "rm", "-f", containerID); err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return nil
		}
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// KillByRunID stops the container labelled with runID. With force the
// container is removed immediately; otherwise it gets a 5 second grace stop.
func (r *Runtime) KillByRunID(ctx context.Context, runID string, force bool) (bool, error) {
	output, err := runDocker(ctx, "ps", "-q",
		"--filter", fmt.Sprintf("label=%s=%s", container.LabelRunID, runID))
	if err != nil {
		return false, fmt.Errorf("container kill: %w", err)
	}

	ids := splitLines(output)
	if len(ids) == 0 {
		return false, nil
	}

	for _, id := range ids {
		if force {
			if err := r.Remove(ctx, id); err != nil {
				return true, err
			}
			continue
		}
		if _, err := runDocker(ctx, "stop", "-t", "5", id); err != nil {
			return true, fmt.Errorf("container stop: %w", err)
		}
	}
	return true, nil
}

// ListOrchestratorContainers returns every container (running or exited)
// carrying the orchestrator run-id label.
func (r *Runtime) ListOrchestratorContainers(ctx context.Context) ([]container.Container, error) {
	format := strings.Join([]string{
		"{{.ID}}",
		fmt.Sprintf(`{{.Label "%s"}}`, container.LabelRunID),
		fmt.Sprintf(`{{.Label "%s"}}`, container.LabelTaskID),
		fmt.Sprintf(`{{.Label "%s"}}`, container.LabelRepoID),
		"{{.State}}",
		"{{.Image}}",
		"{{.CreatedAt}}",
	}, "|")

	output, err := runDocker(ctx, "ps", "-a",
		"--filter", "label="+container.LabelRunID,
		"--format", format)
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	var list []container.Container
	for _, line := range splitLines(output) {
		fields := strings.SplitN(line, "|", 7)
		if len(fields) < 7 {
			continue
		}
		c := container.Container{
			ID:     fields[0],
			RunID:  fields[1],
			TaskID: fields[2],
			RepoID: fields[3],
			State:  fields[4],
			Image:  fields[5],
		}
		if t, err := time.Parse(createdAtLayout, fields[6]); err == nil {
			c.CreatedAt = t
		}
		list = append(list, c)
	}
	return list, nil
}

// inspectLabel reads one label value from a container.
func (r *Runtime) inspectLabel(ctx context.Context, containerID, label string) (string, error) {
	output, err := runDocker(ctx, "inspect",
		"--format", fmt.Sprintf(`{{index .Config.Labels "%s"}}`, label), containerID)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// splitLines splits command output into non-empty trimmed lines.
func splitLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// runDocker executes a docker command and returns stdout.
func runDocker(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...) //nolint:gosec // G204: docker args are constructed internally, not from user input

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
