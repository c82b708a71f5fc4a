package messagequeue

import "github.com/agentsdashboard/orchestrator/internal/domain/run"

// JobEvent event types on the wire. Structured runtime events arrive as
// "log" with a category; opaque harness output arrives as "log_chunk";
// "completed" is the terminal event for a run.
const (
	JobEventLog       = "log"
	JobEventLogChunk  = "log_chunk"
	JobEventCompleted = "completed"
)

// DispatchJobRequest is the schema for jobs.dispatch requests.
type DispatchJobRequest struct {
	Request run.Request `json:"request"`
}

// DispatchJobReply is the schema for jobs.dispatch replies.
type DispatchJobReply struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// CancelJobRequest is the schema for jobs.cancel requests.
type CancelJobRequest struct {
	RunID string `json:"run_id"`
}

// CancelJobReply is the schema for jobs.cancel replies.
type CancelJobReply struct {
	Accepted bool `json:"accepted"`
}

// HeartbeatRequest is the schema for worker heartbeats.
type HeartbeatRequest struct {
	WorkerID    string `json:"worker_id"`
	ActiveSlots int    `json:"active_slots"`
	MaxSlots    int    `json:"max_slots"`
}

// HeartbeatReply acknowledges a heartbeat.
type HeartbeatReply struct {
	Acknowledged bool `json:"acknowledged"`
}

// JobEvent is the schema for jobs.events messages: one run event as seen by
// the control plane.
type JobEvent struct {
	RunID         string            `json:"run_id"`
	EventType     string            `json:"event_type"` // log | log_chunk | completed
	Summary       string            `json:"summary,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Sequence      int64             `json:"sequence,omitempty"`
	Category      string            `json:"category,omitempty"`
	PayloadJSON   string            `json:"payload_json,omitempty"`
	SchemaVersion string            `json:"schema_version,omitempty"`
	TimestampMs   int64             `json:"timestamp_ms"`
}

// WorkerStatus is the schema for workers.status messages.
type WorkerStatus struct {
	WorkerID    string `json:"worker_id"`
	Status      string `json:"status"`
	ActiveSlots int    `json:"active_slots"`
	MaxSlots    int    `json:"max_slots"`
	TimestampMs int64  `json:"timestamp_ms"`
	Message     string `json:"message,omitempty"`
}

// ReconcileRequest is the schema for jobs.reconcile requests.
type ReconcileRequest struct {
	ActiveRunIDs []string `json:"active_run_ids"`
}

// RemovedContainer identifies one container removed during reconciliation.
type RemovedContainer struct {
	ContainerID string `json:"container_id"`
	RunID       string `json:"run_id"`
}

// ReconcileReply is the schema for jobs.reconcile replies.
type ReconcileReply struct {
	OrphanedCount     int                `json:"orphaned_count"`
	RemovedContainers []RemovedContainer `json:"removed_containers,omitempty"`
}
