package validation

import (
	"testing"
)

func TestValidateCommit(t *testing.T) {
	tests := []struct {
		name    string
		commit  string
		wantErr bool
	}{
		// Valid commits
		{"full sha", "da39a3ee5e6b4b0d3255bfef95601890afd80709", false},
		{"abbreviated", "da39a3e", false},
		{"all digits", "1234567", false},

		// Invalid commits - injection attempts
		{"empty", "", true},
		{"too short", "da39a3", true},
		{"too long", "da39a3ee5e6b4b0d3255bfef95601890afd80709a", true},
		{"uppercase", "DA39A3E", true}, // Must be lowercase
		{"path traversal", "../../etc", true},
		{"slash injection", "abc/def", true},
		{"non-hex", "zzzzzzz", true},
		{"spaces", "da39 3e5", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommit(tt.commit)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCommit(%q) error = %v, wantErr %v", tt.commit, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRepoURL(t *testing.T) {
	tests := []struct {
		name    string
		repoURL string
		wantErr bool
	}{
		// Valid URLs
		{"http", "http://git-server:8080/base-math.git", false},
		{"https", "https://github.com/lean/mathlib4.git", false},
		{"ssh", "ssh://git@github.com/lean/mathlib4.git", false},
		{"git scheme", "git://host/repo.git", false},

		// Invalid URLs
		{"empty", "", true},
		{"no scheme", "github.com/lean/mathlib4.git", true},
		{"file scheme", "file:///etc/passwd", true},
		{"missing path", "http://host", true},
		{"embedded space", "http://host/a b.git", true},
		{"newline", "http://host/a\n.git", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRepoURL(tt.repoURL)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRepoURL(%q) error = %v, wantErr %v", tt.repoURL, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeCommit(t *testing.T) {
	tests := []struct {
		name    string
		commit  string
		want    string
		wantErr bool
	}{
		{"lowercase passthrough", "da39a3e", "da39a3e", false},
		{"uppercase normalized", "DA39A3E", "da39a3e", false},
		{"mixed case", "Da39A3e", "da39a3e", false},
		{"with spaces trimmed", "  da39a3e  ", "da39a3e", false},
		{"invalid rejected", "nothex!", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeCommit(tt.commit)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeCommit(%q) error = %v, wantErr %v", tt.commit, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeCommit(%q) = %q, want %q", tt.commit, got, tt.want)
			}
		})
	}
}

func TestValidateProofRef(t *testing.T) {
	if err := ValidateProofRef("http://git-server/base-math.git", "da39a3e"); err != nil {
		t.Errorf("valid ref rejected: %v", err)
	}
	if err := ValidateProofRef("not-a-url", "da39a3e"); err == nil {
		t.Error("invalid repo URL accepted")
	}
	if err := ValidateProofRef("http://git-server/base-math.git", "xyz"); err == nil {
		t.Error("invalid commit accepted")
	}
}
