// Package repo handles repository registration: URL normalization, name
// extraction, and local repository initialization.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/git"
	"github.com/outerlook/helmsman/internal/state"
	"github.com/outerlook/helmsman/pkg/models"
)

// ErrInvalidURL indicates the URL is not a recognized GitHub repo shape.
var ErrInvalidURL = errors.New("invalid repository URL")

// NormalizeGitHubURL converts any accepted GitHub URL shape into the
// canonical https://github.com/org/repo.git form. Accepted shapes:
// HTTPS (https://github.com/org/repo[.git]), SSH
// (git@github.com:org/repo[.git]), and shorthand (org/repo). The
// function is idempotent over its own output.
func NormalizeGitHubURL(url string) (string, error) {
	url = strings.TrimSpace(url)

	if rest, ok := strings.CutPrefix(url, "git@github.com:"); ok {
		path := strings.TrimSuffix(rest, ".git")
		if err := validateOrgRepo(path); err != nil {
			return "", err
		}
		return "https://github.com/" + path + ".git", nil
	}

	for _, prefix := range []string{"https://github.com/", "http://github.com/"} {
		if rest, ok := strings.CutPrefix(url, prefix); ok {
			path := strings.TrimSuffix(rest, ".git")
			if err := validateOrgRepo(path); err != nil {
				return "", err
			}
			return "https://github.com/" + path + ".git", nil
		}
	}

	if strings.Contains(url, "/") && !strings.Contains(url, ":") && !strings.HasPrefix(url, "http") {
		if err := validateOrgRepo(url); err != nil {
			return "", err
		}
		return "https://github.com/" + url + ".git", nil
	}

	return "", fmt.Errorf("%w: %q (expected https://github.com/org/repo, git@github.com:org/repo, or org/repo)",
		ErrInvalidURL, url)
}

// validateOrgRepo checks that path is exactly org/repo.
func validateOrgRepo(path string) error {
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: %q (expected exactly org/repo)", ErrInvalidURL, path)
	}
	return nil
}

// NameFromURL extracts the repository name from a normalized URL.
func NameFromURL(normalized string) string {
	trimmed := strings.TrimSuffix(normalized, ".git")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

// Service registers repositories with the store and initializes fresh
// local repositories for repo-creation workflows.
type Service struct {
	db  *state.DB
	git *git.Service
}

// NewService creates a repo service.
func NewService(db *state.DB, gitSvc *git.Service) *Service {
	return &Service{db: db, git: gitSvc}
}

// Register normalizes url, records the repo at path, and links it to
// the project.
func (s *Service) Register(projectID uuid.UUID, url, path string) (models.Repo, error) {
	normalized, err := NormalizeGitHubURL(url)
	if err != nil {
		return models.Repo{}, err
	}

	repo, err := s.db.CreateRepo(path, NameFromURL(normalized))
	if err != nil {
		return models.Repo{}, err
	}
	if err := s.db.AddProjectRepo(projectID, repo.ID); err != nil {
		return models.Repo{}, err
	}
	return repo, nil
}

// CreateLocal initializes a new repository at path with a main branch
// and records it.
func (s *Service) CreateLocal(ctx context.Context, path, name string) (models.Repo, error) {
	if err := s.git.InitializeRepoWithMainBranch(ctx, path); err != nil {
		return models.Repo{}, fmt.Errorf("initialize repo: %w", err)
	}
	return s.db.CreateRepo(path, name)
}
