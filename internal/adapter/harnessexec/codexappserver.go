package harnessexec

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/harness"
)

// CodexAppServer is the structured Codex runtime. It drives `codex exec` in
// JSON mode and maps the app-server notification stream to typed events.
type CodexAppServer struct {
	runner *Runner
}

// NewCodexAppServer creates the Codex structured runtime adapter.
func NewCodexAppServer(r *Runner) *CodexAppServer {
	return &CodexAppServer{runner: r}
}

// Name returns "codex-app-server".
func (a *CodexAppServer) Name() string { return harness.NameCodexAppServer }

// Mode returns "app-server".
func (a *CodexAppServer) Mode() string { return harness.ModeAppServer }

// Run executes a Codex invocation and parses its JSON notification lines.
func (a *CodexAppServer) Run(ctx context.Context, req *run.Request, sink harness.EventSink) (*harness.Result, error) {
	cmd := req.Command
	if len(cmd) == 0 {
		cmd = []string{"codex", "exec", "--json"}
		if req.Prompt != "" {
			cmd = append(cmd, req.Prompt)
		}
	}

	return a.runner.execute(ctx, req, sink, execSpec{cmd: cmd, parse: parseCodexLine})
}

// codexNotification is one line of codex --json output.
type codexNotification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// parseCodexLine maps a codex notification to a typed event. Lines that are
// not codex notifications are left for the generic handling.
func parseCodexLine(ctx context.Context, line string, sink harness.EventSink) bool {
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return false
	}
	var n codexNotification
	if err := json.Unmarshal([]byte(line), &n); err != nil || n.Method == "" {
		return false
	}

	method := strings.ToLower(n.Method)
	switch {
	case strings.Contains(method, "agent_reasoning"):
		sink.Emit(ctx, run.EventReasoningDelta, paramText(n.Params, "delta", "text"), nil)
	case strings.Contains(method, "agent_message"):
		sink.Emit(ctx, run.EventAssistantDelta, paramText(n.Params, "delta", "message", "text"), nil)
	case strings.Contains(method, "exec_command_output"):
		sink.Emit(ctx, run.EventCommandDelta, paramText(n.Params, "chunk", "output"), nil)
	case strings.Contains(method, "turn_diff"):
		sink.Emit(ctx, run.EventDiffUpdated, paramText(n.Params, "unified_diff", "diff"), nil)
	case strings.Contains(method, "token_count"):
		sink.Emit(ctx, run.EventUsageUpdated, string(n.Params), nil)
	case strings.Contains(method, "error"):
		sink.Emit(ctx, run.EventError, paramText(n.Params, "message", "error"), nil)
	default:
		sink.Emit(ctx, run.EventRunLifecycle, n.Method, nil)
	}
	return true
}

// paramText extracts the first present string field from a params object,
// falling back to the raw JSON.
func paramText(params json.RawMessage, keys ...string) string {
	if len(params) == 0 {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal(params, &obj); err == nil {
		for _, key := range keys {
			if s, ok := obj[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return string(params)
}
