// Package container defines the sandbox profile and the orchestrator's view
// of a container as observed from the runtime via labels.
package container

import (
	"strconv"
	"strings"
	"time"
)

// Labels stamped on every orchestrator-owned container. Presence of
// LabelRunID is the sole predicate for "is an orchestrator container"
// during orphan reconciliation.
const (
	LabelRunID  = "orchestrator.run-id"
	LabelTaskID = "orchestrator.task-id"
	LabelRepoID = "orchestrator.repo-id"
)

// DefaultMemoryBytes is used when a memory limit string cannot be parsed.
const DefaultMemoryBytes = int64(2) << 30

// SandboxProfile is the resource and isolation profile applied to a run's
// container.
type SandboxProfile struct {
	CPULimit        float64 `json:"cpu_limit,omitempty"`    // fractional cores
	MemoryLimit     string  `json:"memory_limit,omitempty"` // "2g", "512m", or bytes
	NetworkDisabled bool    `json:"network_disabled,omitempty"`
	ReadOnlyRootFS  bool    `json:"read_only_root_fs,omitempty"`
}

// Container is the orchestrator's view of a container, reconstructed from
// runtime labels.
type Container struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	TaskID    string    `json:"task_id,omitempty"`
	RepoID    string    `json:"repo_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ParseMemoryBytes converts a memory limit string to bytes. Supported forms:
// "2g" (GiB), "512m" (MiB), or a bare integer byte count. Malformed input
// falls back to DefaultMemoryBytes.
func ParseMemoryBytes(limit string) int64 {
	s := strings.ToLower(strings.TrimSpace(limit))
	if s == "" {
		return DefaultMemoryBytes
	}

	var mult int64 = 1
	switch {
	case strings.HasSuffix(s, "g"):
		mult = 1 << 30
		s = strings.TrimSuffix(s, "g")
	case strings.HasSuffix(s, "m"):
		mult = 1 << 20
		s = strings.TrimSuffix(s, "m")
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return DefaultMemoryBytes
	}
	return n * mult
}
