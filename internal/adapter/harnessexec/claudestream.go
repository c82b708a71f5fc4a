package harnessexec

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/harness"
)

// ClaudeStream is the structured Claude runtime: it runs the claude CLI in
// stream-json output mode and maps its message stream to typed events.
type ClaudeStream struct {
	runner *Runner
}

// NewClaudeStream creates the Claude structured runtime adapter.
func NewClaudeStream(r *Runner) *ClaudeStream {
	return &ClaudeStream{runner: r}
}

// Name returns "claude-stream".
func (a *ClaudeStream) Name() string { return harness.NameClaudeStream }

// Mode returns "stream-json".
func (a *ClaudeStream) Mode() string { return harness.ModeStreamJSON }

// Run executes a Claude invocation, parsing stream-json lines. The final
// "result" line overrides the generic exit-code envelope.
func (a *ClaudeStream) Run(ctx context.Context, req *run.Request, sink harness.EventSink) (*harness.Result, error) {
	cmd := req.Command
	if len(cmd) == 0 {
		cmd = []string{"claude", "-p", "--output-format", "stream-json", "--verbose"}
		if req.Prompt != "" {
			cmd = append(cmd, req.Prompt)
		}
	}

	capture := &streamResult{}
	res, err := a.runner.execute(ctx, req, sink, execSpec{
		cmd:   cmd,
		parse: capture.parseLine,
	})
	if err != nil {
		return nil, err
	}
	capture.apply(res.Envelope)
	return res, nil
}

// streamResult accumulates the terminal "result" line of a stream-json run.
type streamResult struct {
	mu      sync.Mutex
	summary string
	isError bool
	seen    bool
}

// streamLine is one line of claude stream-json output.
type streamLine struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	Result  string          `json:"result"`
	IsError bool            `json:"is_error"`
	Message json.RawMessage `json:"message"`
	Usage   json.RawMessage `json:"usage"`
}

func (s *streamResult) parseLine(ctx context.Context, line string, sink harness.EventSink) bool {
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return false
	}
	var l streamLine
	if err := json.Unmarshal([]byte(line), &l); err != nil || l.Type == "" {
		return false
	}

	switch l.Type {
	case "assistant":
		for _, part := range messageTextParts(l.Message) {
			sink.Emit(ctx, run.EventAssistantDelta, part, nil)
		}
	case "system":
		sink.Emit(ctx, run.EventRunLifecycle, l.Subtype, nil)
	case "result":
		s.mu.Lock()
		s.summary = l.Result
		s.isError = l.IsError
		s.seen = true
		s.mu.Unlock()
		if len(l.Usage) > 0 {
			sink.Emit(ctx, run.EventUsageUpdated, string(l.Usage), nil)
		}
	default:
		sink.Emit(ctx, run.EventRunLifecycle, l.Type, nil)
	}
	return true
}

// apply folds the captured result line into the envelope.
func (s *streamResult) apply(env *run.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seen {
		return
	}
	if s.summary != "" {
		env.Summary = s.summary
	}
	if s.isError {
		env.Status = run.EnvelopeFailed
		if env.Error == "" {
			env.Error = s.summary
		}
	}
}

// messageTextParts extracts the text blocks of an assistant message.
func messageTextParts(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var msg struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	var parts []string
	for _, c := range msg.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return parts
}
