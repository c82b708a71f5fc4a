// Package workspace defines the git workspace port: per-task checkout
// preparation before a run and commit/push finalization after it.
package workspace

import (
	"context"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
)

// AuthScheme identifies which credential strategy a clone settled on.
type AuthScheme string

const (
	AuthSSH    AuthScheme = "ssh"
	AuthGHCLI  AuthScheme = "gh"
	AuthHTTPS  AuthScheme = "https"
	AuthDirect AuthScheme = "direct"
)

// GitAuth records the URL and credential strategy that succeeded during
// clone; all subsequent git commands for the run reuse it.
type GitAuth struct {
	Scheme    AuthScheme
	RemoteURL string
	Token     string // GitHub token for https extraheader / gh, empty otherwise
}

// Context is the per-run view of a prepared workspace. It exists only for
// the duration of one run and is owned exclusively by it.
type Context struct {
	Path       string
	MainBranch string
	HeadBefore string
	Auth       GitAuth
}

// Manager is the port interface for the git workspace lifecycle. At most one
// run per (repositoryID, taskID) may be inside the workspace at a time; the
// implementation enforces this with a per-task lock held across Prepare and
// Finalize.
type Manager interface {
	// Prepare produces a clean checkout equal to origin/<main> at the stable
	// per-task path, cloning if needed with the auth fallback chain.
	Prepare(ctx context.Context, req *run.Request) (*Context, error)

	// Finalize commits and pushes the run's diff for a successful envelope,
	// marks the envelope obsolete when there is no diff, and mutates it to
	// failed when the push fails. Non-successful envelopes only get
	// gitWorkflow=skipped metadata.
	Finalize(ctx context.Context, req *run.Request, ws *Context, env *run.Envelope) error
}
