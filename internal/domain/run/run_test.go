package run

import (
	"strings"
	"testing"
)

func TestStateTerminal(t *testing.T) {
	terminal := []State{StateSucceeded, StateFailed, StateCancelled, StateObsolete}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateQueued, StateRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if State("bogus").Valid() {
		t.Error("unknown state reported valid")
	}
}

func TestKeyNormalizes(t *testing.T) {
	if Key("  Run-ABC ") != "run-abc" {
		t.Errorf("Key = %q", Key("  Run-ABC "))
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"valid", Request{RunID: "r1", TaskID: "t1", Harness: "codex"}, false},
		{"missing run id", Request{TaskID: "t1"}, true},
		{"blank run id", Request{RunID: "   ", TaskID: "t1"}, true},
		{"missing task id", Request{RunID: "r1"}, true},
		{"negative timeout", Request{RunID: "r1", TaskID: "t1", TimeoutSec: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvelopeLedgerState(t *testing.T) {
	succeeded := Envelope{Status: EnvelopeSucceeded, Summary: "done"}
	if succeeded.LedgerState() != StateSucceeded {
		t.Errorf("state = %q", succeeded.LedgerState())
	}

	failed := Envelope{Status: EnvelopeFailed, Summary: "broke"}
	if failed.LedgerState() != StateFailed {
		t.Errorf("state = %q", failed.LedgerState())
	}

	obsolete := Envelope{Status: EnvelopeSucceeded, Summary: "done"}
	obsolete.MarkObsolete("no diff against origin")
	if obsolete.LedgerState() != StateObsolete {
		t.Errorf("state = %q", obsolete.LedgerState())
	}
	if !obsolete.IsObsolete() {
		t.Error("IsObsolete = false after MarkObsolete")
	}
	if obsolete.Meta(MetaObsoleteReason) != "no diff against origin" {
		t.Errorf("reason = %q", obsolete.Meta(MetaObsoleteReason))
	}
}

func TestEnvelopeIsValid(t *testing.T) {
	if (&Envelope{Status: EnvelopeSucceeded}).IsValid() {
		t.Error("envelope without summary reported valid")
	}
	if (&Envelope{Summary: "x"}).IsValid() {
		t.Error("envelope without status reported valid")
	}
	if !(&Envelope{Status: EnvelopeFailed, Summary: "x"}).IsValid() {
		t.Error("complete envelope reported invalid")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		errText   string
		exitCode  int
		wantClass FailureClass
		retryable bool
	}{
		{"auth", "401 unauthorized", 1, FailureAuthentication, false},
		{"rate limit", "429 Too Many Requests", 1, FailureRateLimitExceeded, true},
		{"timeout", "context deadline exceeded", 1, FailureTimeout, true},
		{"cancelled", "Execution cancelled or exceeded timeout", 1, FailureTimeout, true},
		{"oom", "container killed: out of memory", 137, FailureResourceExhausted, false},
		{"network", "dial tcp: connection refused", 1, FailureNetwork, true},
		{"permission", "403 Forbidden", 1, FailurePermissionDenied, false},
		{"internal", "panic: nil pointer", 2, FailureInternal, false},
		{"bare exit", "", 1, FailureInternal, false},
		{"unknown", "", 0, FailureUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(EnvelopeFailed, tt.errText, tt.exitCode)
			if c.Class != tt.wantClass {
				t.Errorf("class = %q, want %q", c.Class, tt.wantClass)
			}
			if c.IsRetryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", c.IsRetryable, tt.retryable)
			}
		})
	}

	if c := Classify(EnvelopeSucceeded, "", 0); c.Class != FailureNone {
		t.Errorf("success classified as %q", c.Class)
	}
}

func TestParseWire(t *testing.T) {
	chunk := `{"marker":"` + WireMarker + `","sequence":3,"type":"assistant.delta","content":"hi"}`
	w, ok := ParseWire([]byte("  " + chunk + "\n"))
	if !ok {
		t.Fatal("valid wire event rejected")
	}
	ev := w.Event()
	if ev.Sequence != 3 || ev.Type != EventAssistantDelta || ev.Content != "hi" {
		t.Errorf("event = %+v", ev)
	}

	rejected := []string{
		"plain log line",
		`{"marker":"wrong","sequence":1,"type":"x"}`,
		`{"marker":"` + WireMarker + `","sequence":0,"type":"x"}`,
		`{"marker":"` + WireMarker + `","sequence":1,"type":""}`,
		`{"marker":"` + WireMarker + `","sequence":1`,
	}
	for _, s := range rejected {
		if _, ok := ParseWire([]byte(s)); ok {
			t.Errorf("accepted invalid chunk %q", s)
		}
	}
}

func TestProjectEmbeddedJSON(t *testing.T) {
	ev := Event{
		Sequence: 1,
		Type:     EventRunLifecycle,
		Content:  `{"type":"reasoning_delta","schemaVersion":"v9","properties":{"thinking":"hmm"}}`,
	}
	p := Project(ev, "request-v1")
	if p.Category != string(EventReasoningDelta) {
		t.Errorf("category = %q", p.Category)
	}
	// Embedded schema version wins over the request's.
	if p.SchemaVersion != "v9" {
		t.Errorf("schema = %q", p.SchemaVersion)
	}
	if !strings.Contains(p.PayloadJSON, "hmm") {
		t.Errorf("payload = %q", p.PayloadJSON)
	}
}

func TestProjectPlainText(t *testing.T) {
	p := Project(Event{Type: EventCommandDelta, Content: "make: done"}, "")
	if p.Category != string(EventCommandDelta) {
		t.Errorf("category = %q", p.Category)
	}
	if p.SchemaVersion != DefaultSchemaVersion {
		t.Errorf("schema = %q", p.SchemaVersion)
	}
	if !strings.Contains(p.PayloadJSON, "make: done") {
		t.Errorf("payload = %q", p.PayloadJSON)
	}

	// Diagnostic folds into the error category.
	p = Project(Event{Type: EventDiagnostic, Content: "boom"}, "v3")
	if p.Category != string(EventError) {
		t.Errorf("category = %q", p.Category)
	}
	if p.SchemaVersion != "v3" {
		t.Errorf("schema = %q", p.SchemaVersion)
	}
}

func TestCanonicalCategory(t *testing.T) {
	cases := map[string]string{
		"command_output":     string(EventCommandDelta),
		"diff_update":        string(EventDiffUpdated),
		"error":              string(EventError),
		"session.usage":      string(EventUsageUpdated),
		"session.log":        string(EventRunLifecycle),
		"message.part.delta": string(EventAssistantDelta),
		"":                   string(EventRunLifecycle),
		"custom.thing":       "custom.thing",
	}
	for raw, want := range cases {
		if got := CanonicalCategory(raw); got != want {
			t.Errorf("CanonicalCategory(%q) = %q, want %q", raw, got, want)
		}
	}
}
