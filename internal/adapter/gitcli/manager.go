// Package gitcli implements the workspace port with the git CLI. Each task
// owns one persistent checkout at a stable path; runs serialize on a per-task
// mutex and always start from a tree equal to origin/<main>.
package gitcli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/git"
	"github.com/agentsdashboard/orchestrator/internal/port/workspace"
)

const (
	defaultMainBranch    = "main"
	defaultCommitterName = "AgentsDashboard Bot"
	defaultCommitterMail = "agentsdashboard-bot@local"
)

// Manager implements workspace.Manager using the git CLI.
type Manager struct {
	root  string
	pool  *git.Pool
	locks *git.KeyedMutex

	mu   sync.Mutex
	held map[string]func() // run key -> task lock release
}

// NewManager creates a Manager rooted at workspacesRoot. The pool bounds
// concurrent git subprocesses across all workspaces.
func NewManager(workspacesRoot string, pool *git.Pool) *Manager {
	return &Manager{
		root:  workspacesRoot,
		pool:  pool,
		locks: git.NewKeyedMutex(),
		held:  make(map[string]func()),
	}
}

// Prepare takes the task lock and produces a clean checkout equal to
// origin/<main> at the per-task path. The lock stays held until Finalize;
// on error it is released before returning.
func (m *Manager) Prepare(ctx context.Context, req *run.Request) (*workspace.Context, error) {
	unlock := m.locks.Lock(lockKey(req))
	prepared := false
	defer func() {
		if !prepared {
			unlock()
		}
	}()

	path := m.taskPath(req.RepositoryID, req.TaskID)
	main := mainBranch(req)

	normalized, err := NormalizeCloneURL(req.CloneURL)
	if err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}

	auth, err := m.ensureClone(ctx, req, normalized, path, main)
	if err != nil {
		return nil, err
	}

	// First setup attempt may hit a stale GitHub remote; one wipe-and-reclone
	// retry is allowed before giving up.
	if err := m.setupCheckout(ctx, req, auth, path, main); err != nil {
		_, _, isGH := githubSlug(normalized)
		if !isGH {
			return nil, err
		}
		slog.Warn("workspace fetch failed, recloning", "run_id", req.RunID, "task_id", req.TaskID, "error", err)
		if wipeErr := os.RemoveAll(path); wipeErr != nil {
			return nil, fmt.Errorf("prepare workspace: %w", wipeErr)
		}
		auth, err = m.cloneWorkspace(ctx, req, normalized, path, main)
		if err != nil {
			return nil, err
		}
		if err := m.setupCheckout(ctx, req, auth, path, main); err != nil {
			return nil, err
		}
	}

	head, err := m.git(ctx, path, "rev-parse", nil, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}

	ws := &workspace.Context{
		Path:       path,
		MainBranch: main,
		HeadBefore: strings.TrimSpace(head),
		Auth:       auth,
	}

	m.mu.Lock()
	m.held[req.Key()] = unlock
	m.mu.Unlock()
	prepared = true
	return ws, nil
}

// Finalize commits and pushes the run's diff for a successful envelope and
// releases the task lock taken by Prepare. Push failures are reported by
// mutating the envelope, not by returning an error.
func (m *Manager) Finalize(ctx context.Context, req *run.Request, ws *workspace.Context, env *run.Envelope) error {
	m.mu.Lock()
	unlock := m.held[req.Key()]
	delete(m.held, req.Key())
	m.mu.Unlock()
	if unlock != nil {
		defer unlock()
	}

	if env.Status != run.EnvelopeSucceeded {
		env.SetMeta(run.MetaGitWorkflow, "skipped")
		env.SetMeta(run.MetaGitWorkflowReason, "non-success-run")
		return nil
	}

	if _, err := m.git(ctx, ws.Path, "checkout", nil, "checkout", ws.MainBranch); err != nil {
		return err
	}

	porcelain, err := m.git(ctx, ws.Path, "status", nil, "status", "--porcelain")
	if err != nil {
		return err
	}
	if strings.TrimSpace(porcelain) == "" {
		env.MarkObsolete("no-diff")
		return nil
	}

	if _, err := m.git(ctx, ws.Path, "add", nil, "add", "-A"); err != nil {
		return err
	}

	name, email := committerIdentity(req)
	message := fmt.Sprintf("agent task %s: run %s", req.TaskID, req.RunID)
	out, err := m.git(ctx, ws.Path, "commit", nil,
		"-c", "user.name="+name, "-c", "user.email="+email,
		"commit", "-m", message)
	if err != nil && !strings.Contains(out, "nothing to commit") {
		return m.failGitWorkflow(env, err)
	}

	head, err := m.git(ctx, ws.Path, "rev-parse", nil, "rev-parse", "HEAD")
	if err != nil {
		return err
	}
	if strings.TrimSpace(head) == ws.HeadBefore {
		env.MarkObsolete("no-diff")
		return nil
	}

	pushArgs := append(authFlags(ws.Auth), "push", "origin", ws.MainBranch)
	if _, err := m.git(ctx, ws.Path, "push", nil, pushArgs...); err != nil {
		return m.failGitWorkflow(env, err)
	}

	env.SetMeta(run.MetaGitWorkflow, "main-pushed")
	return nil
}

// failGitWorkflow records a commit/push failure on the envelope.
func (m *Manager) failGitWorkflow(env *run.Envelope, err error) error {
	env.Status = run.EnvelopeFailed
	env.Summary = "Git commit/push failed"
	env.Error = err.Error()
	env.SetMeta(run.MetaGitWorkflow, "failed")
	env.SetMeta(run.MetaGitFailure, err.Error())
	return nil
}

// ensureClone clones the repository when the path holds no git checkout yet,
// otherwise derives the auth to reuse for the existing one.
func (m *Manager) ensureClone(ctx context.Context, req *run.Request, cloneURL, path, main string) (workspace.GitAuth, error) {
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		return pickAuth(req, cloneURL), nil
	}

	if err := os.RemoveAll(path); err != nil {
		return workspace.GitAuth{}, fmt.Errorf("prepare workspace: %w", err)
	}
	return m.cloneWorkspace(ctx, req, cloneURL, path, main)
}

// setupCheckout points origin at the effective URL, fetches, and forces the
// tree to origin/<main>.
func (m *Manager) setupCheckout(ctx context.Context, req *run.Request, auth workspace.GitAuth, path, main string) error {
	if _, err := m.git(ctx, path, "remote set-url", nil, "remote", "set-url", "origin", auth.RemoteURL); err != nil {
		return err
	}

	fetchArgs := append(authFlags(auth), "fetch", "--prune", "origin")
	if _, err := m.git(ctx, path, "fetch", nil, fetchArgs...); err != nil {
		return fmt.Errorf("%w; %s", err, authContext(req, string(auth.Scheme)))
	}

	if _, err := m.git(ctx, path, "checkout", nil, "checkout", main); err != nil {
		if _, err := m.git(ctx, path, "checkout", nil, "checkout", "-B", main, "origin/"+main); err != nil {
			return err
		}
	}

	if _, err := m.git(ctx, path, "reset", nil, "reset", "--hard", "origin/"+main); err != nil {
		return err
	}
	if _, err := m.git(ctx, path, "clean", nil, "clean", "-fd"); err != nil {
		return err
	}
	return nil
}

// cloneWorkspace runs the clone fallback chain: SSH, then gh, then HTTPS
// with a token header for GitHub slugs; a single direct attempt otherwise.
func (m *Manager) cloneWorkspace(ctx context.Context, req *run.Request, cloneURL, path, main string) (workspace.GitAuth, error) {
	owner, repo, isGH := githubSlug(cloneURL)
	if !isGH {
		if _, err := m.git(ctx, "", "clone", nil, "clone", cloneURL, path); err != nil {
			return workspace.GitAuth{}, fmt.Errorf("%w; %s", err, authContext(req, "direct"))
		}
		return workspace.GitAuth{Scheme: workspace.AuthDirect, RemoteURL: cloneURL}, nil
	}

	token := githubToken(req)
	var attempts []string

	if available, _ := sshCredentials(req); available {
		sshURL := fmt.Sprintf("git@github.com:%s/%s.git", owner, repo)
		if _, err := m.git(ctx, "", "clone", nil, "clone", sshURL, path); err == nil {
			return workspace.GitAuth{Scheme: workspace.AuthSSH, RemoteURL: sshURL}, nil
		} else {
			attempts = append(attempts, "ssh: "+err.Error())
			_ = os.RemoveAll(path)
		}
	}

	httpsURL := fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)

	var ghEnv []string
	if token != "" {
		ghEnv = []string{"GH_TOKEN=" + token, "GITHUB_TOKEN=" + token}
	}
	if _, err := m.gh(ctx, "", "gh repo clone", ghEnv,
		"repo", "clone", owner+"/"+repo, path, "--", "--branch", main); err == nil {
		return workspace.GitAuth{Scheme: workspace.AuthGHCLI, RemoteURL: httpsURL, Token: token}, nil
	} else {
		attempts = append(attempts, "gh: "+err.Error())
		_ = os.RemoveAll(path)
	}

	httpsAuth := workspace.GitAuth{Scheme: workspace.AuthHTTPS, RemoteURL: httpsURL, Token: token}
	httpsArgs := append(authFlags(httpsAuth), "clone", httpsURL, path)
	if _, err := m.git(ctx, "", "clone", nil, httpsArgs...); err == nil {
		return httpsAuth, nil
	} else {
		attempts = append(attempts, "https: "+err.Error())
		_ = os.RemoveAll(path)
	}

	return workspace.GitAuth{}, fmt.Errorf("all clone attempts failed: %s; %s",
		strings.Join(attempts, " | "), authContext(req, "github"))
}

// pickAuth chooses the auth to reuse for an existing checkout, mirroring the
// clone chain order without executing it.
func pickAuth(req *run.Request, cloneURL string) workspace.GitAuth {
	owner, repo, isGH := githubSlug(cloneURL)
	if !isGH {
		return workspace.GitAuth{Scheme: workspace.AuthDirect, RemoteURL: cloneURL}
	}
	if available, _ := sshCredentials(req); available {
		return workspace.GitAuth{
			Scheme:    workspace.AuthSSH,
			RemoteURL: fmt.Sprintf("git@github.com:%s/%s.git", owner, repo),
		}
	}
	return workspace.GitAuth{
		Scheme:    workspace.AuthHTTPS,
		RemoteURL: fmt.Sprintf("https://github.com/%s/%s.git", owner, repo),
		Token:     githubToken(req),
	}
}

// authFlags returns the -c flags that attach token auth to a git command.
func authFlags(auth workspace.GitAuth) []string {
	if auth.Scheme != workspace.AuthHTTPS || auth.Token == "" {
		return nil
	}
	return []string{"-c", fmt.Sprintf("http.%s.extraheader=%s", auth.RemoteURL, basicAuthHeader(auth.Token))}
}

// committerIdentity resolves the commit author from the environment, with
// committer variables taking precedence over author variables.
func committerIdentity(req *run.Request) (name, email string) {
	name = lookupEnv(req, "GIT_COMMITTER_NAME")
	if name == "" {
		name = lookupEnv(req, "GIT_AUTHOR_NAME")
	}
	if name == "" {
		name = defaultCommitterName
	}
	email = lookupEnv(req, "GIT_COMMITTER_EMAIL")
	if email == "" {
		email = lookupEnv(req, "GIT_AUTHOR_EMAIL")
	}
	if email == "" {
		email = defaultCommitterMail
	}
	return name, email
}

// taskPath is the stable checkout location for one task.
func (m *Manager) taskPath(repoID, taskID string) string {
	return filepath.Join(m.root, safeSegment(repoID), "tasks", safeSegment(taskID))
}

// safeSegment makes an ID usable as a single path segment.
func safeSegment(id string) string {
	s := strings.TrimSpace(id)
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	return s
}

// mainBranch resolves the branch runs integrate into.
func mainBranch(req *run.Request) string {
	if b := lookupEnv(req, "DEFAULT_BRANCH"); b != "" {
		return b
	}
	if req.Branch != "" {
		return req.Branch
	}
	return defaultMainBranch
}

func lockKey(req *run.Request) string {
	return safeSegment(req.RepositoryID) + ":" + safeSegment(req.TaskID)
}

// git runs one git command through the shared subprocess pool.
func (m *Manager) git(ctx context.Context, dir, op string, extraEnv []string, args ...string) (string, error) {
	var out string
	err := m.pool.Run(ctx, func() error {
		var execErr error
		out, execErr = runCmd(ctx, dir, op, "git", extraEnv, args...)
		return execErr
	})
	return out, err
}

// gh runs one gh command through the shared subprocess pool.
func (m *Manager) gh(ctx context.Context, dir, op string, extraEnv []string, args ...string) (string, error) {
	var out string
	err := m.pool.Run(ctx, func() error {
		var execErr error
		out, execErr = runCmd(ctx, dir, op, "gh", extraEnv, args...)
		return execErr
	})
	return out, err
}
