package harnessexec

import (
	"context"
	"fmt"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/harness"
)

// Command is the plain command runtime: it runs the request's command (or the
// harness CLI itself) and forwards output verbatim, recognizing wire-marked
// lines as structured events. It is the universal fallback runtime.
type Command struct {
	runner *Runner
}

// NewCommand creates the command runtime adapter.
func NewCommand(r *Runner) *Command {
	return &Command{runner: r}
}

// Name returns "command".
func (c *Command) Name() string { return harness.NameCommand }

// Mode returns "command".
func (c *Command) Mode() string { return harness.ModeCommand }

// Run executes the request command in a sandboxed container.
func (c *Command) Run(ctx context.Context, req *run.Request, sink harness.EventSink) (*harness.Result, error) {
	cmd := req.Command
	if len(cmd) == 0 {
		if req.Harness == "" {
			return nil, fmt.Errorf("command runtime: no command configured")
		}
		// The harness CLI reads PROMPT from its environment.
		cmd = []string{req.Harness}
	}

	return c.runner.execute(ctx, req, sink, execSpec{cmd: cmd})
}
