package harnessexec

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/agentsdashboard/orchestrator/internal/domain/container"
	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/containers"
)

// mockRuntime is an in-memory container runtime that replays canned output.
type mockRuntime struct {
	output   []string
	exitCode int

	createdSpec containers.CreateSpec
	removed     []string
}

func (m *mockRuntime) Create(_ context.Context, spec containers.CreateSpec) (string, error) {
	m.createdSpec = spec
	return "cid-1", nil
}

func (m *mockRuntime) Start(_ context.Context, _ string) error { return nil }

func (m *mockRuntime) StreamLogs(_ context.Context, _, _ string) (<-chan containers.LogChunk, error) {
	ch := make(chan containers.LogChunk, len(m.output))
	for _, line := range m.output {
		ch <- containers.LogChunk{Data: []byte(line)}
	}
	close(ch)
	return ch, nil
}

func (m *mockRuntime) Wait(_ context.Context, _ string) (int, error) { return m.exitCode, nil }

func (m *mockRuntime) Remove(_ context.Context, id string) error {
	m.removed = append(m.removed, id)
	return nil
}

func (m *mockRuntime) KillByRunID(_ context.Context, _ string, _ bool) (bool, error) {
	return false, nil
}

func (m *mockRuntime) ListOrchestratorContainers(_ context.Context) ([]container.Container, error) {
	return nil, nil
}

// mockSink records emitted events in order.
type mockSink struct {
	events []run.Event
}

func (s *mockSink) Emit(_ context.Context, t run.EventType, content string, metadata map[string]string) {
	s.events = append(s.events, run.Event{Type: t, Content: content, Metadata: metadata})
}

func (s *mockSink) typesAfterStart() []run.EventType {
	var types []run.EventType
	for _, ev := range s.events[1:] { // skip the lifecycle start event
		types = append(types, ev.Type)
	}
	return types
}

func testRequest() *run.Request {
	return &run.Request{
		RunID:        "run-1",
		RepositoryID: "repo-1",
		TaskID:       "task-1",
		Harness:      "custom",
		Command:      []string{"/bin/echo", "hi"},
	}
}

func testRunner(rt *mockRuntime) *Runner {
	return NewRunner(rt, "harness:latest", container.SandboxProfile{MemoryLimit: "2g"}, "1000:1000")
}

func TestCommandForwardsOutput(t *testing.T) {
	wire, _ := json.Marshal(run.WireEvent{
		Marker:   run.WireMarker,
		Sequence: 7,
		Type:     string(run.EventAssistantDelta),
		Content:  "hello",
	})
	rt := &mockRuntime{output: []string{string(wire) + "\nplain output\n"}}
	sink := &mockSink{}

	res, err := NewCommand(testRunner(rt)).Run(context.Background(), testRequest(), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Envelope.Status != run.EnvelopeSucceeded {
		t.Errorf("status = %q, want succeeded", res.Envelope.Status)
	}

	if len(sink.events) != 3 {
		t.Fatalf("events = %d, want 3 (lifecycle + wire + plain)", len(sink.events))
	}
	if sink.events[0].Type != run.EventRunLifecycle {
		t.Errorf("first event = %q, want run.lifecycle", sink.events[0].Type)
	}
	if sink.events[1].Type != run.EventAssistantDelta || sink.events[1].Content != "hello" {
		t.Errorf("wire event = %+v", sink.events[1])
	}
	if sink.events[2].Type != run.EventCommandDelta || sink.events[2].Content != "plain output" {
		t.Errorf("plain event = %+v", sink.events[2])
	}

	if len(rt.removed) != 1 {
		t.Errorf("container not removed: %v", rt.removed)
	}
}

func TestCommandStampsLabelsAndEnv(t *testing.T) {
	rt := &mockRuntime{}
	sink := &mockSink{}
	req := testRequest()
	req.Prompt = "do things"
	req.Env = map[string]string{EnvWorkspacePath: "/host/ws", "FOO": "bar"}

	if _, err := NewCommand(testRunner(rt)).Run(context.Background(), req, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	spec := rt.createdSpec
	if spec.Labels[container.LabelRunID] != "run-1" ||
		spec.Labels[container.LabelTaskID] != "task-1" ||
		spec.Labels[container.LabelRepoID] != "repo-1" {
		t.Errorf("labels = %v", spec.Labels)
	}
	if spec.WorkspaceHostPath != "/host/ws" {
		t.Errorf("workspace path = %q", spec.WorkspaceHostPath)
	}
	if spec.Env["PROMPT"] != "do things" || spec.Env["FOO"] != "bar" {
		t.Errorf("env = %v", spec.Env)
	}
	if spec.Sandbox.MemoryLimit != "2g" {
		t.Errorf("sandbox defaults not applied: %+v", spec.Sandbox)
	}
}

func TestCommandNonZeroExit(t *testing.T) {
	rt := &mockRuntime{exitCode: 3}
	sink := &mockSink{}

	res, err := NewCommand(testRunner(rt)).Run(context.Background(), testRequest(), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Envelope.Status != run.EnvelopeFailed {
		t.Errorf("status = %q, want failed", res.Envelope.Status)
	}
	if !strings.Contains(res.Envelope.Summary, "3") {
		t.Errorf("summary = %q, want exit code mentioned", res.Envelope.Summary)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestCommandRequiresCommandOrHarness(t *testing.T) {
	req := testRequest()
	req.Command = nil
	req.Harness = ""

	_, err := NewCommand(testRunner(&mockRuntime{})).Run(context.Background(), req, &mockSink{})
	if err == nil {
		t.Fatal("expected error when neither command nor harness is set")
	}
}

func TestClaudeStreamParsesResult(t *testing.T) {
	lines := []string{
		`{"type":"system","subtype":"init"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"}]}}`,
		`{"type":"result","subtype":"success","result":"All done","is_error":false,"usage":{"input_tokens":10}}`,
	}
	rt := &mockRuntime{output: []string{strings.Join(lines, "\n") + "\n"}}
	sink := &mockSink{}
	req := testRequest()
	req.Command = nil
	req.Harness = "claude"

	res, err := NewClaudeStream(testRunner(rt)).Run(context.Background(), req, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Envelope.Summary != "All done" {
		t.Errorf("summary = %q, want result line text", res.Envelope.Summary)
	}
	if res.Envelope.Status != run.EnvelopeSucceeded {
		t.Errorf("status = %q", res.Envelope.Status)
	}

	want := []run.EventType{run.EventRunLifecycle, run.EventAssistantDelta, run.EventUsageUpdated}
	got := sink.typesAfterStart()
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClaudeStreamErrorResult(t *testing.T) {
	rt := &mockRuntime{output: []string{
		`{"type":"result","subtype":"error","result":"credit exhausted","is_error":true}` + "\n",
	}}
	req := testRequest()
	req.Command = nil
	req.Harness = "claude"

	res, err := NewClaudeStream(testRunner(rt)).Run(context.Background(), req, &mockSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Envelope.Status != run.EnvelopeFailed {
		t.Errorf("status = %q, want failed", res.Envelope.Status)
	}
	if res.Envelope.Error != "credit exhausted" {
		t.Errorf("error = %q", res.Envelope.Error)
	}
}

func TestParseCodexLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantType run.EventType
		handled  bool
	}{
		{"reasoning", `{"method":"codex/event/agent_reasoning_delta","params":{"delta":"thinking"}}`, run.EventReasoningDelta, true},
		{"message", `{"method":"codex/event/agent_message_delta","params":{"delta":"answer"}}`, run.EventAssistantDelta, true},
		{"command output", `{"method":"codex/event/exec_command_output_delta","params":{"chunk":"ls"}}`, run.EventCommandDelta, true},
		{"diff", `{"method":"codex/event/turn_diff","params":{"unified_diff":"--- a"}}`, run.EventDiffUpdated, true},
		{"usage", `{"method":"codex/event/token_count","params":{"total":5}}`, run.EventUsageUpdated, true},
		{"error", `{"method":"error","params":{"message":"boom"}}`, run.EventError, true},
		{"lifecycle", `{"method":"codex/event/task_started","params":{}}`, run.EventRunLifecycle, true},
		{"not codex", `{"foo":"bar"}`, "", false},
		{"not json", `plain text`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &mockSink{}
			handled := parseCodexLine(context.Background(), tt.line, sink)
			if handled != tt.handled {
				t.Fatalf("handled = %v, want %v", handled, tt.handled)
			}
			if !tt.handled {
				return
			}
			if len(sink.events) != 1 || sink.events[0].Type != tt.wantType {
				t.Errorf("events = %+v, want one %q", sink.events, tt.wantType)
			}
		})
	}
}

func TestParseSSELine(t *testing.T) {
	sink := &mockSink{}

	if !parseSSELine(context.Background(), `data: {"type":"message.part.updated","properties":{"text":"hi"}}`, sink) {
		t.Fatal("data line not handled")
	}
	if len(sink.events) != 1 || sink.events[0].Type != run.EventAssistantDelta {
		t.Errorf("events = %+v, want assistant.delta", sink.events)
	}

	// Framing lines are consumed without emitting.
	for _, line := range []string{"event: message", "id: 4", ": keepalive", "retry: 100"} {
		if !parseSSELine(context.Background(), line, sink) {
			t.Errorf("framing line %q not handled", line)
		}
	}
	if len(sink.events) != 1 {
		t.Errorf("framing lines emitted events: %+v", sink.events)
	}

	// Non-SSE lines fall through.
	if parseSSELine(context.Background(), "ordinary log output", sink) {
		t.Error("plain line should not be handled")
	}
}
