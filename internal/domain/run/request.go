package run

import (
	"fmt"
	"strings"

	"github.com/agentsdashboard/orchestrator/internal/domain"
	"github.com/agentsdashboard/orchestrator/internal/domain/artifact"
	"github.com/agentsdashboard/orchestrator/internal/domain/container"
)

// Request is the immutable dispatch input for one run. The run ID is the
// system-wide unique key; matching is case-insensitive.
type Request struct {
	RunID                     string                   `json:"run_id"`
	RepositoryID              string                   `json:"repository_id"`
	TaskID                    string                   `json:"task_id"`
	Harness                   string                   `json:"harness"`
	Mode                      string                   `json:"mode,omitempty"`
	Prompt                    string                   `json:"prompt,omitempty"`
	Command                   []string                 `json:"command,omitempty"`
	TimeoutSec                int                      `json:"timeout_sec,omitempty"`
	Sandbox                   container.SandboxProfile `json:"sandbox,omitempty"`
	Artifacts                 artifact.Policy          `json:"artifacts,omitempty"`
	Env                       map[string]string        `json:"env,omitempty"`
	ContainerLabels           map[string]string        `json:"container_labels,omitempty"`
	CloneURL                  string                   `json:"clone_url,omitempty"`
	Branch                    string                   `json:"branch,omitempty"`
	InputParts                []string                 `json:"input_parts,omitempty"`
	ImageAttachments          []string                 `json:"image_attachments,omitempty"`
	MCPConfigJSON             string                   `json:"mcp_config_json,omitempty"`
	StructuredProtocolVersion string                   `json:"structured_protocol_version,omitempty"`
}

// Key returns the canonical (case-insensitive) run ID used for lookups.
func (r *Request) Key() string { return Key(r.RunID) }

// Key normalizes a run ID for case-insensitive matching.
func Key(runID string) string { return strings.ToLower(strings.TrimSpace(runID)) }

// Validate checks that a Request has all required fields.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("run_id is required: %w", domain.ErrValidation)
	}
	if r.TaskID == "" {
		return fmt.Errorf("task_id is required: %w", domain.ErrValidation)
	}
	if r.TimeoutSec < 0 {
		return fmt.Errorf("timeout_sec must be non-negative: %w", domain.ErrValidation)
	}
	return nil
}
