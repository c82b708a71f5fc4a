package gitcli

import "testing"

func TestNormalizeCloneURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"https", "https://github.com/acme/widgets.git", "https://github.com/acme/widgets.git", false},
		{"http", "http://git.internal/repo.git", "http://git.internal/repo.git", false},
		{"ssh scheme", "ssh://git@github.com/acme/widgets.git", "ssh://git@github.com/acme/widgets.git", false},
		{"git scheme", "git://host/repo.git", "git://host/repo.git", false},
		{"git+ssh", "git+ssh://git@host/repo.git", "git+ssh://git@host/repo.git", false},
		{"scp style", "git@github.com:acme/widgets.git", "git@github.com:acme/widgets.git", false},
		{"whitespace trimmed", "  https://github.com/acme/widgets.git  ", "https://github.com/acme/widgets.git", false},
		{"empty", "", "", true},
		{"scp with space", "git@github.com: acme/widgets.git", "", true},
		{"ftp scheme", "ftp://host/repo", "", true},
		{"bare path", "just-a-path", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeCloneURL(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeCloneURL(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeCloneURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeCloneURLIsFixedPoint(t *testing.T) {
	inputs := []string{
		"https://github.com/acme/widgets.git",
		"git@github.com:acme/widgets.git",
		"ssh://git@github.com/acme/widgets.git",
	}
	for _, in := range inputs {
		once, err := NormalizeCloneURL(in)
		if err != nil {
			t.Fatalf("NormalizeCloneURL(%q): %v", in, err)
		}
		twice, err := NormalizeCloneURL(once)
		if err != nil {
			t.Fatalf("NormalizeCloneURL(%q): %v", once, err)
		}
		if once != twice {
			t.Errorf("normalization not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestGithubSlug(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantOwner string
		wantRepo  string
		wantOK    bool
	}{
		{"https", "https://github.com/acme/widgets.git", "acme", "widgets", true},
		{"https no .git", "https://github.com/acme/widgets", "acme", "widgets", true},
		{"scp", "git@github.com:acme/widgets.git", "acme", "widgets", true},
		{"ssh scheme", "ssh://git@github.com/acme/widgets.git", "acme", "widgets", true},
		{"case-insensitive host", "https://GitHub.com/acme/widgets", "acme", "widgets", true},
		{"other host", "https://gitlab.com/acme/widgets.git", "", "", false},
		{"scp other host", "git@gitlab.com:acme/widgets.git", "", "", false},
		{"nested path", "https://github.com/acme/group/widgets", "", "", false},
		{"owner only", "https://github.com/acme", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, ok := githubSlug(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("githubSlug(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if owner != tt.wantOwner || repo != tt.wantRepo {
				t.Errorf("githubSlug(%q) = %q/%q, want %q/%q", tt.input, owner, repo, tt.wantOwner, tt.wantRepo)
			}
		})
	}
}
