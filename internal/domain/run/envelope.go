package run

import "github.com/agentsdashboard/orchestrator/internal/domain/artifact"

// EnvelopeStatus is the adapter-reported outcome of a run.
type EnvelopeStatus string

const (
	EnvelopeSucceeded EnvelopeStatus = "succeeded"
	EnvelopeFailed    EnvelopeStatus = "failed"
	EnvelopeUnknown   EnvelopeStatus = "unknown"
)

// Well-known envelope metadata keys.
const (
	MetaRuntimeMode                = "runtimeMode"
	MetaRuntimeName                = "runtimeName"
	MetaRunDisposition             = "runDisposition"
	MetaObsoleteReason             = "obsoleteReason"
	MetaGitWorkflow                = "gitWorkflow"
	MetaGitWorkflowReason          = "gitWorkflowReason"
	MetaGitFailure                 = "gitFailure"
	MetaStructuredRuntimeFallback  = "structuredRuntimeFallback"
	MetaStructuredRuntimeFailure   = "structuredRuntimeFailure"
	MetaFailureClass               = "failureClass"
	MetaIsRetryable                = "isRetryable"
	MetaSuggestedBackoffSeconds    = "suggestedBackoffSeconds"
	MetaRemediationHints           = "remediationHints"
	MetaMCPConfigPresent           = "mcpConfigPresent"
	MetaMCPConfigValid             = "mcpConfigValid"
	MetaMCPConfigPath              = "mcpConfigPath"
	MetaMCPInstallActionCount      = "mcpInstallActionCount"
	MetaMCPDiagnostics             = "mcpDiagnostics"
	MetaExtractedArtifactCount     = "extractedArtifactCount"
	MetaExtractedArtifactSizeBytes = "extractedArtifactSize"
)

// DispositionObsolete marks a successful run that produced no workspace diff.
const DispositionObsolete = "obsolete"

// Envelope is the canonical result object returned by a runtime adapter and
// finalized before the ledger transition.
type Envelope struct {
	Status       EnvelopeStatus      `json:"status"`
	Summary      string              `json:"summary"`
	Error        string              `json:"error,omitempty"`
	Artifacts    []artifact.Artifact `json:"artifacts,omitempty"`
	Actions      []string            `json:"actions,omitempty"`
	Metrics      map[string]float64  `json:"metrics,omitempty"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
	RawOutputRef string              `json:"raw_output_ref,omitempty"`
}

// SetMeta sets a metadata key, allocating the map on first use.
func (e *Envelope) SetMeta(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}

// Meta returns the metadata value for key, or "".
func (e *Envelope) Meta(key string) string {
	return e.Metadata[key]
}

// IsValid reports whether the envelope carries the required fields.
func (e *Envelope) IsValid() bool {
	return e.Status != "" && e.Summary != ""
}

// IsObsolete reports whether the envelope encodes a no-diff success.
func (e *Envelope) IsObsolete() bool {
	return e.Status == EnvelopeSucceeded && e.Meta(MetaRunDisposition) == DispositionObsolete
}

// MarkObsolete rewrites the envelope as a no-diff success.
func (e *Envelope) MarkObsolete(reason string) {
	e.Status = EnvelopeSucceeded
	e.Summary = "No changes produced"
	e.SetMeta(MetaRunDisposition, DispositionObsolete)
	e.SetMeta(MetaObsoleteReason, reason)
}

// LedgerState maps a finalized envelope to its terminal ledger state.
func (e *Envelope) LedgerState() State {
	switch {
	case e.IsObsolete():
		return StateObsolete
	case e.Status == EnvelopeSucceeded:
		return StateSucceeded
	default:
		return StateFailed
	}
}
