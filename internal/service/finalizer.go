package service

import (
	"encoding/json"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/agentsdashboard/orchestrator/internal/domain/artifact"
	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/workspace"
)

// envelopeValidationError is stamped on envelopes missing required fields.
const envelopeValidationError = "Envelope validation failed: missing required fields (status, summary)"

// maxMCPDiagnostics bounds the diagnostics joined into envelope metadata.
const maxMCPDiagnostics = 4

// RuntimeInfo describes which adapter actually produced the envelope.
type RuntimeInfo struct {
	Name     string
	Mode     string
	FellBack bool
	Failure  string // primary adapter error when FellBack
}

// Finalizer normalizes every completed envelope before the terminal ledger
// transition: validation, runtime and MCP metadata, failure classification,
// and artifact extraction from the workspace.
type Finalizer struct{}

// NewFinalizer creates a Finalizer.
func NewFinalizer() *Finalizer { return &Finalizer{} }

// Finalize mutates env in place. ws may be nil when workspace preparation
// failed; artifact extraction is skipped in that case.
func (f *Finalizer) Finalize(req *run.Request, ws *workspace.Context, env *run.Envelope, exitCode int, rt RuntimeInfo) {
	f.validate(env)
	f.stampRuntime(env, rt)
	f.stampMCP(req, env)
	f.classify(env, exitCode)
	if ws != nil {
		f.extractArtifacts(ws.Path, req.Artifacts.OrDefault(), env)
	}
}

func (f *Finalizer) validate(env *run.Envelope) {
	if env.IsValid() {
		return
	}
	env.Status = run.EnvelopeFailed
	if env.Summary == "" {
		env.Summary = "Run produced no result summary"
	}
	if env.Error != "" {
		env.Error = env.Error + "; " + envelopeValidationError
	} else {
		env.Error = envelopeValidationError
	}
}

func (f *Finalizer) stampRuntime(env *run.Envelope, rt RuntimeInfo) {
	if rt.Name != "" {
		env.SetMeta(run.MetaRuntimeName, rt.Name)
	}
	if rt.Mode != "" {
		env.SetMeta(run.MetaRuntimeMode, rt.Mode)
	}
	if rt.FellBack {
		env.SetMeta(run.MetaStructuredRuntimeFallback, "true")
		env.SetMeta(run.MetaStructuredRuntimeFailure, rt.Failure)
	}
}

// mcpConfig is the accepted shape of a request's MCP configuration.
type mcpConfig struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
}

func (f *Finalizer) stampMCP(req *run.Request, env *run.Envelope) {
	raw := strings.TrimSpace(req.MCPConfigJSON)
	env.SetMeta(run.MetaMCPConfigPresent, strconv.FormatBool(raw != ""))
	if raw == "" {
		env.SetMeta(run.MetaMCPConfigValid, "false")
		env.SetMeta(run.MetaMCPInstallActionCount, "0")
		return
	}

	var diags []string
	var cfg mcpConfig
	valid := true
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		valid = false
		diags = append(diags, "mcp config is not valid JSON: "+err.Error())
	} else if len(cfg.MCPServers) == 0 {
		diags = append(diags, "mcp config declares no servers")
	}

	env.SetMeta(run.MetaMCPConfigValid, strconv.FormatBool(valid))
	env.SetMeta(run.MetaMCPInstallActionCount, strconv.Itoa(len(cfg.MCPServers)))
	if path := req.Env["MCP_CONFIG_PATH"]; path != "" {
		env.SetMeta(run.MetaMCPConfigPath, path)
	}
	if len(diags) > maxMCPDiagnostics {
		diags = diags[:maxMCPDiagnostics]
	}
	if len(diags) > 0 {
		env.SetMeta(run.MetaMCPDiagnostics, strings.Join(diags, " | "))
	}
}

func (f *Finalizer) classify(env *run.Envelope, exitCode int) {
	c := run.Classify(env.Status, env.Error, exitCode)
	env.SetMeta(run.MetaFailureClass, string(c.Class))
	env.SetMeta(run.MetaIsRetryable, strconv.FormatBool(c.IsRetryable))
	if c.SuggestedBackoffSec > 0 {
		env.SetMeta(run.MetaSuggestedBackoffSeconds, strconv.Itoa(c.SuggestedBackoffSec))
	}
	if len(c.RemediationHints) > 0 {
		env.SetMeta(run.MetaRemediationHints, strings.Join(c.RemediationHints, "; "))
	}
}

// extractArtifacts walks the workspace, skipping .git, and records files until
// either policy cap would be exceeded.
func (f *Finalizer) extractArtifacts(root string, policy artifact.Policy, env *run.Envelope) {
	var (
		artifacts  []artifact.Artifact
		totalBytes int64
	)

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if len(artifacts) >= policy.MaxArtifacts || totalBytes+info.Size() > policy.MaxTotalBytes {
			return filepath.SkipAll
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		artifacts = append(artifacts, artifact.Artifact{Path: rel, SizeBytes: info.Size()})
		totalBytes += info.Size()
		return nil
	})

	env.Artifacts = artifacts
	env.SetMeta(run.MetaExtractedArtifactCount, strconv.Itoa(len(artifacts)))
	env.SetMeta(run.MetaExtractedArtifactSizeBytes, strconv.FormatInt(totalBytes, 10))
}
