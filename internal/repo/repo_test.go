package repo

import (
	"errors"
	"testing"
)

func TestNormalizeGitHubURLHTTPS(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://github.com/org/repo", "https://github.com/org/repo.git"},
		{"https://github.com/org/repo.git", "https://github.com/org/repo.git"},
		{"http://github.com/org/repo", "https://github.com/org/repo.git"},
	}
	for _, c := range cases {
		got, err := NormalizeGitHubURL(c.in)
		if err != nil {
			t.Errorf("NormalizeGitHubURL(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NormalizeGitHubURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeGitHubURLSSH(t *testing.T) {
	for _, in := range []string{"git@github.com:org/repo", "git@github.com:org/repo.git"} {
		got, err := NormalizeGitHubURL(in)
		if err != nil {
			t.Fatalf("NormalizeGitHubURL(%q): %v", in, err)
		}
		if got != "https://github.com/org/repo.git" {
			t.Errorf("NormalizeGitHubURL(%q) = %q", in, got)
		}
	}
}

func TestNormalizeGitHubURLShorthand(t *testing.T) {
	got, err := NormalizeGitHubURL("org/repo")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://github.com/org/repo.git" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeGitHubURLIdempotent(t *testing.T) {
	for _, in := range []string{
		"https://github.com/org/repo",
		"git@github.com:org/repo.git",
		"org/repo",
	} {
		once, err := NormalizeGitHubURL(in)
		if err != nil {
			t.Fatal(err)
		}
		twice, err := NormalizeGitHubURL(once)
		if err != nil {
			t.Fatalf("second normalization of %q failed: %v", once, err)
		}
		if once != twice {
			t.Errorf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestNormalizeGitHubURLRejectsGarbage(t *testing.T) {
	for _, in := range []string{
		"not a url",
		"https://gitlab.com/org/repo",
		"org/repo/extra",
		"org/",
		"/repo",
		"",
	} {
		if _, err := NormalizeGitHubURL(in); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("NormalizeGitHubURL(%q) should fail with ErrInvalidURL, got %v", in, err)
		}
	}
}

func TestNameFromURL(t *testing.T) {
	if got := NameFromURL("https://github.com/org/my-repo.git"); got != "my-repo" {
		t.Errorf("NameFromURL = %q, want my-repo", got)
	}
}
