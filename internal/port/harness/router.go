package harness

import (
	"fmt"
	"os"
	"strings"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
)

// Well-known adapter names. Adding a harness means adding a registry entry,
// an adapter implementation, and a row in the routing table.
const (
	NameCommand        = "command"
	NameCodexAppServer = "codex-app-server"
	NameOpenCodeSSE    = "opencode-sse"
	NameClaudeStream   = "claude-stream"
	NameZaiClaude      = "zai-claude"
)

// Runtime modes advertised by the router.
const (
	ModeCommand    = "command"
	ModeAppServer  = "app-server"
	ModeSSE        = "sse"
	ModeStreamJSON = "stream-json"
)

// Environment variables that may override the requested runtime mode,
// checked in order.
var modeEnvVars = []string{"HARNESS_MODE", "HARNESS_RUNTIME_MODE", "HARNESS_EXECUTION_MODE"}

// Selection is the routing decision for one run: a primary adapter, an
// optional fallback used when the primary fails with a non-cancellation
// error, and the advertised runtime mode.
type Selection struct {
	Primary  Adapter
	Fallback Adapter
	Mode     string
}

// route is one row of the routing table.
type route struct {
	primary  string
	fallback string
	mode     string
}

// routes maps normalized harness names to their adapters. Modes are resolved
// separately for codex, which routes on mode as well.
var routes = map[string]route{
	"codex":    {primary: NameCodexAppServer, fallback: NameCommand, mode: ModeAppServer},
	"opencode": {primary: NameOpenCodeSSE, mode: ModeSSE},
	"claude":   {primary: NameClaudeStream, fallback: NameCommand, mode: ModeStreamJSON},
	"zai":      {primary: NameZaiClaude, fallback: NameCommand, mode: ModeStreamJSON},
}

// Select picks the primary and fallback adapters for a request from
// (harness, mode, env), per the routing table.
func Select(req *run.Request) (*Selection, error) {
	name := normalizeHarness(req.Harness)
	mode := effectiveMode(req)

	r, ok := routes[name]
	if !ok {
		return build(route{primary: NameCommand, mode: ModeCommand})
	}

	// Codex routes on mode: an explicit "command" mode bypasses the
	// app-server runtime entirely.
	if name == "codex" {
		switch mode {
		case ModeCommand:
			return build(route{primary: NameCommand, mode: ModeCommand})
		case "", ModeAppServer, "structured", "auto":
			return build(r)
		default:
			return build(r)
		}
	}

	return build(r)
}

func build(r route) (*Selection, error) {
	primary, err := New(r.primary)
	if err != nil {
		return nil, fmt.Errorf("route primary: %w", err)
	}
	sel := &Selection{Primary: primary, Mode: r.mode}
	if r.fallback != "" {
		fallback, err := New(r.fallback)
		if err != nil {
			return nil, fmt.Errorf("route fallback: %w", err)
		}
		sel.Fallback = fallback
	}
	return sel, nil
}

// normalizeHarness folds harness name variants ("open-code", "claude code")
// onto their canonical routing keys.
func normalizeHarness(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "-")
	switch n {
	case "open-code", "opencode":
		return "opencode"
	case "claude", "claude-code":
		return "claude"
	default:
		return n
	}
}

// effectiveMode resolves the runtime mode from the request, then the
// request's env map, then the process environment.
func effectiveMode(req *run.Request) string {
	if req.Mode != "" {
		return strings.ToLower(req.Mode)
	}
	for _, key := range modeEnvVars {
		if v, ok := req.Env[key]; ok && v != "" {
			return strings.ToLower(v)
		}
	}
	for _, key := range modeEnvVars {
		if v := os.Getenv(key); v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}
