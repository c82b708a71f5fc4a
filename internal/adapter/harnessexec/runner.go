// Package harnessexec implements the runtime adapters. Every adapter executes
// the harness CLI inside a sandboxed container and translates its output
// stream into typed runtime events; the adapters differ only in the command
// they launch and the output protocol they parse.
package harnessexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentsdashboard/orchestrator/internal/domain/container"
	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/containers"
	"github.com/agentsdashboard/orchestrator/internal/port/harness"
)

// Env keys the pipeline uses to hand host paths to the adapters, aliased from
// the harness port.
const (
	EnvWorkspacePath = harness.EnvWorkspacePath
	EnvArtifactsPath = harness.EnvArtifactsPath
)

// lineParser converts one output line into an event. It reports whether the
// line was consumed; unconsumed lines fall through to the generic wire and
// log handling.
type lineParser func(ctx context.Context, line string, sink harness.EventSink) bool

// execSpec describes one containerized harness invocation.
type execSpec struct {
	cmd      []string
	extraEnv map[string]string
	parse    lineParser
}

// Runner executes harness invocations in containers. It is shared by all
// adapters and carries the sandbox defaults from configuration.
type Runner struct {
	runtime containers.Runtime
	image   string
	sandbox container.SandboxProfile
	user    string
}

// NewRunner creates a Runner backed by the given container runtime.
func NewRunner(runtime containers.Runtime, image string, sandbox container.SandboxProfile, user string) *Runner {
	return &Runner{runtime: runtime, image: image, sandbox: sandbox, user: user}
}

// execute runs one harness invocation to completion, streaming output through
// the sink. Cancellation surfaces as ctx.Err; the container is always removed.
func (r *Runner) execute(ctx context.Context, req *run.Request, sink harness.EventSink, spec execSpec) (*harness.Result, error) {
	createSpec := containers.CreateSpec{
		Image:             r.image,
		Cmd:               spec.cmd,
		Env:               r.containerEnv(req, spec.extraEnv),
		Labels:            containerLabels(req),
		WorkspaceHostPath: req.Env[EnvWorkspacePath],
		ArtifactsHostPath: req.Env[EnvArtifactsPath],
		Sandbox:           r.effectiveSandbox(req),
		User:              r.user,
	}

	id, err := r.runtime.Create(ctx, createSpec)
	if err != nil {
		return nil, fmt.Errorf("harness container: %w", err)
	}
	defer func() { _ = r.runtime.Remove(context.WithoutCancel(ctx), id) }()

	if err := r.runtime.Start(ctx, id); err != nil {
		return nil, fmt.Errorf("harness container start: %w", err)
	}

	sink.Emit(ctx, run.EventRunLifecycle, "Runtime started", map[string]string{"containerId": id})

	logs, err := r.runtime.StreamLogs(ctx, id, req.RunID)
	if err != nil {
		return nil, fmt.Errorf("harness logs: %w", err)
	}

	var remainder string
	for chunk := range logs {
		if chunk.Err != nil {
			sink.Emit(ctx, run.EventDiagnostic, chunk.Err.Error(), nil)
			continue
		}
		remainder = r.consume(ctx, remainder+string(chunk.Data), sink, spec.parse)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if line := strings.TrimSpace(remainder); line != "" {
		r.emitLine(ctx, line, sink, spec.parse)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	exit, err := r.runtime.Wait(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("harness wait: %w", err)
	}

	env := &run.Envelope{}
	if exit == 0 {
		env.Status = run.EnvelopeSucceeded
		env.Summary = "Harness run completed"
	} else {
		env.Status = run.EnvelopeFailed
		env.Summary = fmt.Sprintf("Harness exited with code %d", exit)
		env.Error = fmt.Sprintf("exit code %d", exit)
	}
	return &harness.Result{Envelope: env, ExitCode: exit}, nil
}

// consume splits buffered output into complete lines and emits each one,
// returning the trailing partial line.
func (r *Runner) consume(ctx context.Context, buf string, sink harness.EventSink, parse lineParser) string {
	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			return buf
		}
		line := strings.TrimRight(buf[:idx], "\r")
		buf = buf[idx+1:]
		if strings.TrimSpace(line) == "" {
			continue
		}
		r.emitLine(ctx, line, sink, parse)
	}
}

// emitLine routes one output line: protocol parser first, then the generic
// wire envelope, then verbatim command output.
func (r *Runner) emitLine(ctx context.Context, line string, sink harness.EventSink, parse lineParser) {
	if parse != nil && parse(ctx, line, sink) {
		return
	}
	if wire, ok := run.ParseWire([]byte(line)); ok {
		ev := wire.Event()
		sink.Emit(ctx, ev.Type, ev.Content, ev.Metadata)
		return
	}
	sink.Emit(ctx, run.EventCommandDelta, line, nil)
}

// containerEnv merges the request env with the harness contract variables.
func (r *Runner) containerEnv(req *run.Request, extra map[string]string) map[string]string {
	env := make(map[string]string, len(req.Env)+len(extra)+3)
	for k, v := range req.Env {
		env[k] = v
	}
	if req.Prompt != "" {
		env["PROMPT"] = req.Prompt
	}
	if req.Harness != "" {
		env["HARNESS"] = req.Harness
	}
	if req.MCPConfigJSON != "" {
		env["MCP_CONFIG_JSON"] = req.MCPConfigJSON
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

// effectiveSandbox applies the configured defaults when the request does not
// carry its own profile.
func (r *Runner) effectiveSandbox(req *run.Request) container.SandboxProfile {
	if req.Sandbox == (container.SandboxProfile{}) {
		return r.sandbox
	}
	return req.Sandbox
}

// containerLabels stamps the orchestrator labels plus any request extras.
func containerLabels(req *run.Request) map[string]string {
	labels := make(map[string]string, len(req.ContainerLabels)+3)
	for k, v := range req.ContainerLabels {
		labels[k] = v
	}
	labels[container.LabelRunID] = req.RunID
	labels[container.LabelTaskID] = req.TaskID
	labels[container.LabelRepoID] = req.RepositoryID
	return labels
}
