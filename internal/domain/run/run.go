// Package run defines the run entity: the unit of scheduling for one agent
// invocation against a task, plus its ledger entry and result envelope.
package run

import "time"

// State represents the ledger state of a run.
//
// Transitions form a DAG with no back-edges:
//
//	Queued -> Running -> {Succeeded, Failed, Cancelled, Obsolete}
//	Queued -> Cancelled (cancel before dispatch)
//
// Obsolete is a variant of success reached only from Running when the
// workspace produced no diff.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateObsolete  State = "obsolete"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled, StateObsolete:
		return true
	}
	return false
}

// validStates enumerates all valid ledger states.
var validStates = map[State]bool{
	StateQueued:    true,
	StateRunning:   true,
	StateSucceeded: true,
	StateFailed:    true,
	StateCancelled: true,
	StateObsolete:  true,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool { return validStates[s] }

// LedgerEntry is the durable record of a run. One row per run ID; survives
// process restart and drives crash recovery.
type LedgerEntry struct {
	RunID       string     `json:"run_id"`
	TaskID      string     `json:"task_id"`
	State       State      `json:"state"`
	Summary     string     `json:"summary,omitempty"`
	PayloadJSON string     `json:"payload_json,omitempty"`
	RequestJSON string     `json:"request_json,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
