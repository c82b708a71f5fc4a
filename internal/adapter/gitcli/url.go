package gitcli

import (
	"fmt"
	"net/url"
	"strings"
)

// acceptedSchemes are the URL schemes a clone URL may use, in addition to
// the scp-style "user@host:path" form.
var acceptedSchemes = map[string]bool{
	"https":   true,
	"http":    true,
	"ssh":     true,
	"git":     true,
	"git+ssh": true,
}

// NormalizeCloneURL validates a clone URL and returns it in canonical form.
// Accepted forms: https, http, ssh, git, git+ssh URLs and the scp-style
// "user@host:path" shorthand. Anything else is rejected.
func NormalizeCloneURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("clone url is empty")
	}

	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		if !acceptedSchemes[u.Scheme] {
			return "", fmt.Errorf("unsupported clone url scheme %q in %q", u.Scheme, raw)
		}
		return s, nil
	}

	if isSCPStyle(s) {
		return s, nil
	}
	return "", fmt.Errorf("unsupported clone url %q", raw)
}

// isSCPStyle reports whether s looks like the scp shorthand "user@host:path".
// A space anywhere disqualifies it.
func isSCPStyle(s string) bool {
	if strings.ContainsAny(s, " \t") {
		return false
	}
	at := strings.Index(s, "@")
	if at <= 0 {
		return false
	}
	rest := s[at+1:]
	colon := strings.Index(rest, ":")
	if colon <= 0 || colon == len(rest)-1 {
		return false
	}
	// Host must come before any path separator.
	if slash := strings.Index(rest, "/"); slash != -1 && slash < colon {
		return false
	}
	return true
}

// githubSlug extracts "<owner>/<repo>" when the URL points at github.com,
// from any accepted URL form. The trailing ".git" is stripped.
func githubSlug(cloneURL string) (owner, repo string, ok bool) {
	s := strings.TrimSpace(cloneURL)

	var path string
	switch {
	case isSCPStyle(s):
		at := strings.Index(s, "@")
		rest := s[at+1:]
		colon := strings.Index(rest, ":")
		if !strings.EqualFold(rest[:colon], "github.com") {
			return "", "", false
		}
		path = rest[colon+1:]
	default:
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" {
			return "", "", false
		}
		if !strings.EqualFold(u.Hostname(), "github.com") {
			return "", "", false
		}
		path = u.Path
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
