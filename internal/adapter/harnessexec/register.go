package harnessexec

import "github.com/agentsdashboard/orchestrator/internal/port/harness"

// Register wires every runtime adapter into the harness registry, sharing one
// container-backed runner.
func Register(r *Runner) {
	harness.Register(harness.NameCommand, func() harness.Adapter { return NewCommand(r) })
	harness.Register(harness.NameCodexAppServer, func() harness.Adapter { return NewCodexAppServer(r) })
	harness.Register(harness.NameOpenCodeSSE, func() harness.Adapter { return NewOpenCodeSSE(r) })
	harness.Register(harness.NameClaudeStream, func() harness.Adapter { return NewClaudeStream(r) })
	harness.Register(harness.NameZaiClaude, func() harness.Adapter { return NewZai(r) })
}
