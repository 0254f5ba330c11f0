package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/outerlook/helmsman/internal/exec"
)

// Service runs git operations against arbitrary repository paths.
type Service struct {
	runner exec.CommandRunner
}

// NewService creates a git service using the real command runner.
func NewService() *Service {
	return &Service{runner: exec.NewRunner()}
}

// NewServiceWithRunner creates a git service with a custom runner (for
// testing).
func NewServiceWithRunner(runner exec.CommandRunner) *Service {
	return &Service{runner: runner}
}

// run executes a git command in dir and returns trimmed output.
func (s *Service) run(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := s.runner.Run(ctx, dir, "git", args...)
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// GetBranchStatus returns how many commits taskBranch is ahead of and
// behind targetBranch.
func (s *Service) GetBranchStatus(ctx context.Context, repoPath, taskBranch, targetBranch string) (ahead, behind int, err error) {
	out, err := s.run(ctx, repoPath, "rev-list", "--left-right", "--count",
		taskBranch+"..."+targetBranch)
	if err != nil {
		return 0, 0, err
	}

	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", out)
	}
	ahead, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parse ahead count: %w", err)
	}
	behind, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parse behind count: %w", err)
	}
	return ahead, behind, nil
}

// RebaseBranch rebases branch onto the given upstream inside the
// worktree. A conflicted rebase is aborted and reported as
// MergeConflictsError.
func (s *Service) RebaseBranch(ctx context.Context, repoPath, worktreePath, onto, upstream, branch string) error {
	if _, err := s.run(ctx, worktreePath, "checkout", branch); err != nil {
		return err
	}

	out, err := s.runner.Run(ctx, worktreePath, "git", "rebase", "--onto", onto, upstream, branch)
	if err != nil {
		text := strings.TrimSpace(string(out))
		// Leave the worktree usable for the next attempt.
		if _, abortErr := s.runner.Run(ctx, worktreePath, "git", "rebase", "--abort"); abortErr != nil {
			text += " (rebase --abort also failed)"
		}
		if isConflictOutput(text) {
			return &MergeConflictsError{Op: "rebase", Output: text}
		}
		return fmt.Errorf("git rebase: %w: %s", err, text)
	}
	return nil
}

// MergeChanges merges taskBranch into targetBranch in the base worktree
// with a no-fast-forward merge commit and returns the commit SHA. A
// conflicted merge is aborted and reported as MergeConflictsError; a
// task branch still behind the target is BranchesDivergedError.
func (s *Service) MergeChanges(ctx context.Context, repoPath, taskWorktreePath, taskBranch, targetBranch, commitMessage string) (string, error) {
	_, behind, err := s.GetBranchStatus(ctx, repoPath, taskBranch, targetBranch)
	if err != nil {
		return "", err
	}
	if behind > 0 {
		return "", &BranchesDivergedError{
			TaskBranch:   taskBranch,
			TargetBranch: targetBranch,
			Behind:       behind,
		}
	}

	if _, err := s.run(ctx, repoPath, "checkout", targetBranch); err != nil {
		return "", err
	}

	out, err := s.runner.Run(ctx, repoPath, "git", "merge", "--no-ff", taskBranch, "-m", commitMessage)
	if err != nil {
		text := strings.TrimSpace(string(out))
		if _, abortErr := s.runner.Run(ctx, repoPath, "git", "merge", "--abort"); abortErr != nil {
			text += " (merge --abort also failed)"
		}
		if isConflictOutput(text) {
			return "", &MergeConflictsError{Op: "merge", Output: text}
		}
		return "", fmt.Errorf("git merge: %w: %s", err, text)
	}

	return s.run(ctx, repoPath, "rev-parse", "HEAD")
}

// InitializeRepoWithMainBranch creates a fresh repository at path with
// an empty initial commit on main.
func (s *Service) InitializeRepoWithMainBranch(ctx context.Context, path string) error {
	if _, err := s.run(ctx, "", "init", "--initial-branch", "main", path); err != nil {
		return err
	}
	if _, err := s.run(ctx, path, "commit", "--allow-empty", "-m", "Initial commit"); err != nil {
		return err
	}
	return nil
}

// CurrentBranch returns the checked-out branch of a repository.
func (s *Service) CurrentBranch(ctx context.Context, repoPath string) (string, error) {
	return s.run(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists reports whether a local branch exists.
func (s *Service) BranchExists(ctx context.Context, repoPath, name string) (bool, error) {
	_, err := s.runner.Run(ctx, repoPath, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	// show-ref exits 1 when the ref is missing.
	return false, nil
}

// CreateBranch creates a branch at the given start point.
func (s *Service) CreateBranch(ctx context.Context, repoPath, name, startPoint string) error {
	args := []string{"branch", name}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	_, err := s.run(ctx, repoPath, args...)
	return err
}

// DeleteBranch force-deletes a branch.
func (s *Service) DeleteBranch(ctx context.Context, repoPath, name string) error {
	_, err := s.run(ctx, repoPath, "branch", "-D", name)
	return err
}

// AddWorktree creates a worktree at path on a new branch starting from
// startPoint.
func (s *Service) AddWorktree(ctx context.Context, repoPath, worktreePath, branch, startPoint string) error {
	args := []string{"worktree", "add", "-b", branch, worktreePath}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	_, err := s.run(ctx, repoPath, args...)
	return err
}

// RemoveWorktree removes a worktree directory.
func (s *Service) RemoveWorktree(ctx context.Context, repoPath, worktreePath string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, worktreePath)
	_, err := s.run(ctx, repoPath, args...)
	return err
}

// isConflictOutput recognizes git's conflict markers in command output.
func isConflictOutput(out string) bool {
	return strings.Contains(out, "CONFLICT") ||
		strings.Contains(out, "could not apply") ||
		strings.Contains(out, "Automatic merge failed")
}
