package gitcli

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
)

// keyExtensions are private key file extensions recognized under ~/.ssh.
var keyExtensions = map[string]bool{".pem": true, ".key": true, ".ppk": true}

// lookupEnv resolves an environment variable from the request's env map
// first, then the process environment.
func lookupEnv(req *run.Request, key string) string {
	if req != nil {
		if v, ok := req.Env[key]; ok && v != "" {
			return v
		}
	}
	return os.Getenv(key)
}

// githubToken returns the first of GH_TOKEN / GITHUB_TOKEN that is set.
func githubToken(req *run.Request) string {
	if t := lookupEnv(req, "GH_TOKEN"); t != "" {
		return t
	}
	return lookupEnv(req, "GITHUB_TOKEN")
}

// sshCredentials reports whether SSH credentials are usable for git, and
// whether a private key candidate file was found under ~/.ssh. Setting
// WORKER_SSH_AVAILABLE=false overrides everything.
func sshCredentials(req *run.Request) (available, keyFound bool) {
	if strings.EqualFold(lookupEnv(req, "WORKER_SSH_AVAILABLE"), "false") {
		return false, false
	}

	if sock := lookupEnv(req, "SSH_AUTH_SOCK"); sock != "" {
		if _, err := os.Stat(sock); err == nil {
			available = true
		}
	}

	home := lookupEnv(req, "HOME")
	if home == "" {
		return available, false
	}
	entries, err := os.ReadDir(filepath.Join(home, ".ssh"))
	if err != nil {
		return available, false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if isKeyCandidate(filepath.Join(home, ".ssh", entry.Name()), entry.Name()) {
			return true, true
		}
	}
	return available, false
}

// isKeyCandidate reports whether a ~/.ssh file looks like a private key:
// an id_* name, a key extension, or a PEM private key marker within the
// first 4KB. Public keys, known_hosts, config and authorized_keys files
// are excluded.
func isKeyCandidate(path, name string) bool {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".pub"),
		strings.HasPrefix(lower, "known_hosts"),
		strings.HasPrefix(lower, "authorized_keys"),
		lower == "config",
		lower == "ssh_config":
		return false
	}

	if strings.HasPrefix(lower, "id_") {
		return true
	}
	if keyExtensions[filepath.Ext(lower)] {
		return true
	}

	f, err := os.Open(path) //nolint:gosec // G304: path is under the user's own ~/.ssh
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 4096)
	n, _ := f.Read(buf)
	head := string(buf[:n])
	return strings.Contains(head, "BEGIN") && strings.Contains(head, "PRIVATE KEY")
}

// basicAuthHeader builds the extraheader value for token-authenticated
// HTTPS pushes: "Authorization: Basic base64(x-access-token:<token>)".
func basicAuthHeader(token string) string {
	cred := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
	return "Authorization: Basic " + cred
}

// authContext is the one-line credential summary appended to clone and
// fetch failures so auth problems are diagnosable from a single log line.
func authContext(req *run.Request, scheme string) string {
	available, keyFound := sshCredentials(req)
	return fmt.Sprintf("auth: scheme=%s ssh_available=%t key_candidate=%t home=%s",
		scheme, available, keyFound, lookupEnv(req, "HOME"))
}
