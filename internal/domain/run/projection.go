package run

import (
	"encoding/json"
	"strings"
)

// Projection is the canonical view of a runtime event consumed by the control
// plane: a category, an optional structured payload, and the schema version
// the payload conforms to.
type Projection struct {
	Category      string `json:"category"`
	PayloadJSON   string `json:"payload_json,omitempty"`
	SchemaVersion string `json:"schema_version"`
}

// embeddedEvent is the shape of structured JSON an adapter may embed in an
// event's content field.
type embeddedEvent struct {
	Type          string          `json:"type"`
	SchemaVersion string          `json:"schemaVersion,omitempty"`
	Properties    json.RawMessage `json:"properties,omitempty"`
}

// Project maps a runtime event to its canonical category, preferring
// structured JSON embedded in the content over the event's own type.
//
// Schema version precedence: embedded payload, then the request-provided
// protocol version, then DefaultSchemaVersion.
func Project(ev Event, requestProtocolVersion string) Projection {
	schema := DefaultSchemaVersion
	if requestProtocolVersion != "" {
		schema = requestProtocolVersion
	}

	content := strings.TrimSpace(ev.Content)
	if strings.HasPrefix(content, "{") {
		var emb embeddedEvent
		if err := json.Unmarshal([]byte(content), &emb); err == nil && emb.Type != "" {
			if emb.SchemaVersion != "" {
				schema = emb.SchemaVersion
			}
			payload := content
			if len(emb.Properties) > 0 {
				payload = string(emb.Properties)
			}
			return Projection{
				Category:      CanonicalCategory(emb.Type),
				PayloadJSON:   payload,
				SchemaVersion: schema,
			}
		}
	}

	return Projection{
		Category:      string(canonicalEventType(ev.Type)),
		PayloadJSON:   synthesizePayload(ev),
		SchemaVersion: schema,
	}
}

// CanonicalCategory maps a raw (embedded) event type string to its canonical
// category. Unknown types pass through lowercased.
func CanonicalCategory(rawType string) string {
	t := strings.ToLower(strings.TrimSpace(rawType))
	switch {
	case t == "":
		return string(EventRunLifecycle)
	case t == "reasoning_delta":
		return string(EventReasoningDelta)
	case t == "assistant_delta":
		return string(EventAssistantDelta)
	case t == "command_output":
		return string(EventCommandDelta)
	case t == "diff_update":
		return string(EventDiffUpdated)
	case t == "diagnostic" || t == "error":
		return string(EventError)
	case t == "completion":
		return string(EventRunCompleted)
	case t == "log" || strings.HasPrefix(t, "session."):
		if t == "session.usage" {
			return string(EventUsageUpdated)
		}
		return string(EventRunLifecycle)
	case strings.HasPrefix(t, "message.part."):
		return string(EventAssistantDelta)
	case t == "usage.updated":
		return string(EventUsageUpdated)
	default:
		return t
	}
}

// canonicalEventType folds Diagnostic into the error category; every other
// event type is already canonical.
func canonicalEventType(t EventType) EventType {
	if t == EventDiagnostic {
		return EventError
	}
	if t == "" {
		return EventRunLifecycle
	}
	return t
}

// synthesizePayload builds a structured payload for events whose content is
// plain text rather than embedded JSON.
func synthesizePayload(ev Event) string {
	var payload map[string]string
	switch canonicalEventType(ev.Type) {
	case EventReasoningDelta:
		payload = map[string]string{"thinking": ev.Content}
	case EventAssistantDelta:
		payload = map[string]string{"text": ev.Content}
	case EventCommandDelta:
		payload = map[string]string{"output": ev.Content}
	case EventDiffUpdated:
		payload = map[string]string{"diffPatch": ev.Content}
	case EventError:
		payload = map[string]string{"message": ev.Content}
	case EventRunCompleted:
		payload = map[string]string{"status": ev.Metadata["status"]}
	default:
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}
