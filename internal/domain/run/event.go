package run

import (
	"encoding/json"
	"strings"
)

// WireMarker identifies a log chunk as a structured harness runtime event.
// Chunks that do not parse as a wire envelope are forwarded verbatim as
// opaque log text.
const WireMarker = "agentsdashboard.harness-runtime-event.v1"

// DefaultSchemaVersion is used when neither the embedded payload nor the
// request provides a structured protocol version.
const DefaultSchemaVersion = "harness-structured-event-v2"

// EventType is the canonical category of a runtime event. Per-run event
// streams are totally ordered by sequence; RunCompleted is always last.
type EventType string

const (
	EventRunLifecycle   EventType = "run.lifecycle"
	EventAssistantDelta EventType = "assistant.delta"
	EventReasoningDelta EventType = "reasoning.delta"
	EventCommandDelta   EventType = "command.delta"
	EventDiffUpdated    EventType = "diff.updated"
	EventUsageUpdated   EventType = "usage.updated"
	EventDiagnostic     EventType = "diagnostic"
	EventError          EventType = "error"
	EventRunCompleted   EventType = "run.completed"
)

// Event is one runtime event emitted by an adapter through its sink.
type Event struct {
	Sequence int64             `json:"sequence"`
	Type     EventType         `json:"type"`
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// WireEvent is the wire envelope wrapped around every runtime event so the
// outer processor can distinguish structured events from opaque log text.
type WireEvent struct {
	Marker   string            `json:"marker"`
	Sequence int64             `json:"sequence"`
	Type     string            `json:"type"`
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// WrapWire builds the wire envelope for an event.
func WrapWire(ev Event) WireEvent {
	return WireEvent{
		Marker:   WireMarker,
		Sequence: ev.Sequence,
		Type:     string(ev.Type),
		Content:  ev.Content,
		Metadata: ev.Metadata,
	}
}

// ParseWire interprets a log chunk as a runtime event. It returns false when
// the chunk is not valid JSON, carries the wrong marker, a non-positive
// sequence, or an empty type.
func ParseWire(chunk []byte) (WireEvent, bool) {
	trimmed := strings.TrimSpace(string(chunk))
	if !strings.HasPrefix(trimmed, "{") {
		return WireEvent{}, false
	}
	var w WireEvent
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return WireEvent{}, false
	}
	if w.Marker != WireMarker || w.Sequence <= 0 || w.Type == "" {
		return WireEvent{}, false
	}
	return w, true
}

// Event converts a wire envelope back to a runtime event.
func (w WireEvent) Event() Event {
	return Event{
		Sequence: w.Sequence,
		Type:     EventType(w.Type),
		Content:  w.Content,
		Metadata: w.Metadata,
	}
}
