package harnessexec

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/harness"
)

// OpenCodeSSE is the structured OpenCode runtime: it runs the opencode CLI
// in SSE output mode and maps its event stream to typed events.
type OpenCodeSSE struct {
	runner *Runner
}

// NewOpenCodeSSE creates the OpenCode structured runtime adapter.
func NewOpenCodeSSE(r *Runner) *OpenCodeSSE {
	return &OpenCodeSSE{runner: r}
}

// Name returns "opencode-sse".
func (a *OpenCodeSSE) Name() string { return harness.NameOpenCodeSSE }

// Mode returns "sse".
func (a *OpenCodeSSE) Mode() string { return harness.ModeSSE }

// Run executes an OpenCode invocation, parsing SSE data lines.
func (a *OpenCodeSSE) Run(ctx context.Context, req *run.Request, sink harness.EventSink) (*harness.Result, error) {
	cmd := req.Command
	if len(cmd) == 0 {
		cmd = []string{"opencode", "run", "--format", "sse"}
		if req.Prompt != "" {
			cmd = append(cmd, req.Prompt)
		}
	}

	return a.runner.execute(ctx, req, sink, execSpec{cmd: cmd, parse: parseSSELine})
}

// parseSSELine consumes SSE framing. Data payloads are mapped through the
// canonical category table; other SSE fields (event:, id:, comments) carry
// no payload and are dropped.
func parseSSELine(ctx context.Context, line string, sink harness.EventSink) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "data:"):
		payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
		if payload == "" {
			return true
		}
		var ev struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return false
		}
		category := run.CanonicalCategory(ev.Type)
		sink.Emit(ctx, run.EventType(category), payload, nil)
		return true
	case strings.HasPrefix(trimmed, "event:"),
		strings.HasPrefix(trimmed, "id:"),
		strings.HasPrefix(trimmed, "retry:"),
		strings.HasPrefix(trimmed, ":"):
		return true
	}
	return false
}
