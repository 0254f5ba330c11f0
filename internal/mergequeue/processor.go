package mergequeue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/git"
	"github.com/outerlook/helmsman/internal/state"
	"github.com/outerlook/helmsman/pkg/models"
)

// Conflict classification for processor errors. Conflicts are expected:
// they drop the entry and leave the task in review. Anything else also
// drops the entry but is logged as unexpected.
var (
	// ErrRebaseConflict marks a rebase that stopped on conflicts.
	ErrRebaseConflict = errors.New("rebase conflict")
	// ErrMergeConflict marks a merge that stopped on conflicts or
	// diverged branches.
	ErrMergeConflict = errors.New("merge conflict")
	// ErrWorkspaceNotFound marks a missing workspace row.
	ErrWorkspaceNotFound = errors.New("workspace not found")
	// ErrRepoNotFound marks a missing repo row.
	ErrRepoNotFound = errors.New("repo not found")
	// ErrTaskNotFound marks a missing task row.
	ErrTaskNotFound = errors.New("task not found")
	// ErrWorkspaceRepoNotFound marks a missing workspace/repo mapping.
	ErrWorkspaceRepoNotFound = errors.New("workspace repo not found")
)

// isConflict reports whether the error is an expected conflict.
func isConflict(err error) bool {
	return errors.Is(err, ErrRebaseConflict) || errors.Is(err, ErrMergeConflict)
}

// Processor drains a project's merge queue one entry at a time:
// rebase the workspace branch onto its target, merge, record, and mark
// the task done. The orchestrator guarantees at most one processor loop
// per project; loops for different projects run independently.
type Processor struct {
	db    *state.DB
	git   *git.Service
	store *Store
}

// NewProcessor creates a processor over the given collaborators.
func NewProcessor(db *state.DB, gitSvc *git.Service, store *Store) *Processor {
	return &Processor{db: db, git: gitSvc, store: store}
}

// ProcessProjectQueue claims and processes Queued entries until the
// project's queue is empty. A failing entry never aborts the loop: it
// is removed and processing continues with the next entry.
func (p *Processor) ProcessProjectQueue(ctx context.Context, projectID uuid.UUID) {
	log.Printf("[merge-queue] starting processing for project %s", projectID)

	for {
		if ctx.Err() != nil {
			return
		}

		entry, ok := p.store.ClaimNext(projectID)
		if !ok {
			log.Printf("[merge-queue] queue empty for project %s", projectID)
			return
		}

		commit, err := p.processEntry(ctx, entry)
		switch {
		case err == nil:
			log.Printf("[merge-queue] entry %s merged as %s", entry.ID, commit)
			// The entry was already removed in processEntry.
		case isConflict(err):
			log.Printf("[merge-queue] entry %s has conflicts, removing: %v", entry.ID, err)
			p.store.Remove(entry.WorkspaceID)
		default:
			log.Printf("[merge-queue] ERROR: entry %s failed, removing: %v", entry.ID, err)
			p.store.Remove(entry.WorkspaceID)
		}
	}
}

// processEntry handles one claimed entry and returns the merge commit.
func (p *Processor) processEntry(ctx context.Context, entry Entry) (string, error) {
	workspace, err := p.db.FindWorkspaceByID(entry.WorkspaceID)
	if errors.Is(err, state.ErrRowNotFound) {
		return "", fmt.Errorf("%w: %s", ErrWorkspaceNotFound, entry.WorkspaceID)
	}
	if err != nil {
		return "", err
	}

	repo, err := p.db.FindRepoByID(entry.RepoID)
	if errors.Is(err, state.ErrRowNotFound) {
		return "", fmt.Errorf("%w: %s", ErrRepoNotFound, entry.RepoID)
	}
	if err != nil {
		return "", err
	}

	task, err := p.db.FindTaskByID(workspace.TaskID)
	if errors.Is(err, state.ErrRowNotFound) {
		return "", fmt.Errorf("%w: %s", ErrTaskNotFound, workspace.TaskID)
	}
	if err != nil {
		return "", err
	}

	workspaceRepo, err := p.db.FindWorkspaceRepo(workspace.ID, repo.ID)
	if errors.Is(err, state.ErrRowNotFound) {
		return "", fmt.Errorf("%w: workspace %s repo %s", ErrWorkspaceRepoNotFound, workspace.ID, repo.ID)
	}
	if err != nil {
		return "", err
	}

	if workspace.ContainerRef == nil {
		return "", fmt.Errorf("%w: workspace %s has no worktree", ErrWorkspaceNotFound, workspace.ID)
	}
	worktreePath := filepath.Join(*workspace.ContainerRef, repo.Name)

	taskBranch := workspace.Branch
	targetBranch := workspaceRepo.TargetBranch

	if err := p.rebaseIfNeeded(ctx, repo.Path, worktreePath, targetBranch, taskBranch); err != nil {
		return "", err
	}

	commit, err := p.mergeChanges(ctx, repo.Path, worktreePath, taskBranch, targetBranch, entry.CommitMessage)
	if err != nil {
		return "", err
	}

	p.store.Remove(workspace.ID)

	if _, err := p.db.CreateMerge(workspace.ID, repo.ID, targetBranch, commit); err != nil {
		return "", err
	}

	// Marking the task done fires TaskStatusChanged; the autopilot
	// handler listening on that event enqueues unblocked dependents.
	if _, err := p.db.UpdateTaskStatus(task.ID, models.TaskStatusDone); err != nil {
		return "", err
	}

	log.Printf("[merge-queue] task %s marked done after merge", task.ID)
	return commit, nil
}

// rebaseIfNeeded rebases the task branch onto the target branch when it
// is behind. An up-to-date branch skips the rebase.
func (p *Processor) rebaseIfNeeded(ctx context.Context, repoPath, worktreePath, targetBranch, taskBranch string) error {
	_, behind, err := p.git.GetBranchStatus(ctx, repoPath, taskBranch, targetBranch)
	if err != nil {
		return err
	}
	if behind == 0 {
		return nil
	}

	err = p.git.RebaseBranch(ctx, repoPath, worktreePath, targetBranch, targetBranch, taskBranch)
	var conflicts *git.MergeConflictsError
	if errors.As(err, &conflicts) {
		return fmt.Errorf("%w: %s", ErrRebaseConflict, conflicts.Output)
	}
	return err
}

// mergeChanges merges the task branch into the target branch.
func (p *Processor) mergeChanges(ctx context.Context, repoPath, worktreePath, taskBranch, targetBranch, commitMessage string) (string, error) {
	commit, err := p.git.MergeChanges(ctx, repoPath, worktreePath, taskBranch, targetBranch, commitMessage)
	if err == nil {
		return commit, nil
	}

	var conflicts *git.MergeConflictsError
	if errors.As(err, &conflicts) {
		return "", fmt.Errorf("%w: %s", ErrMergeConflict, conflicts.Output)
	}
	var diverged *git.BranchesDivergedError
	if errors.As(err, &diverged) {
		return "", fmt.Errorf("%w: %s", ErrMergeConflict, diverged.Error())
	}
	return "", err
}
