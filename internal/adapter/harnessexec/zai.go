package harnessexec

import (
	"context"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/harness"
)

// zaiBaseURL is the Anthropic-compatible endpoint used when the request does
// not override it.
const zaiBaseURL = "https://api.z.ai/api/anthropic"

// Zai is the Z.AI runtime: the claude CLI in stream-json mode pointed at the
// Anthropic-compatible Z.AI endpoint.
type Zai struct {
	runner *Runner
}

// NewZai creates the Z.AI runtime adapter.
func NewZai(r *Runner) *Zai {
	return &Zai{runner: r}
}

// Name returns "zai-claude".
func (a *Zai) Name() string { return harness.NameZaiClaude }

// Mode returns "stream-json".
func (a *Zai) Mode() string { return harness.ModeStreamJSON }

// Run executes a Z.AI invocation, reusing the claude stream-json protocol.
func (a *Zai) Run(ctx context.Context, req *run.Request, sink harness.EventSink) (*harness.Result, error) {
	cmd := req.Command
	if len(cmd) == 0 {
		cmd = []string{"claude", "-p", "--output-format", "stream-json", "--verbose"}
		if req.Prompt != "" {
			cmd = append(cmd, req.Prompt)
		}
	}

	extraEnv := map[string]string{}
	if req.Env["ANTHROPIC_BASE_URL"] == "" {
		extraEnv["ANTHROPIC_BASE_URL"] = zaiBaseURL
	}

	capture := &streamResult{}
	res, err := a.runner.execute(ctx, req, sink, execSpec{
		cmd:      cmd,
		extraEnv: extraEnv,
		parse:    capture.parseLine,
	})
	if err != nil {
		return nil, err
	}
	capture.apply(res.Envelope)
	return res, nil
}
