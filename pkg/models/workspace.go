package models

import (
	"time"

	"github.com/google/uuid"
)

// Repo is a local git repository directory registered with Helmsman.
type Repo struct {
	// ID is the unique identifier for this repo.
	ID uuid.UUID `json:"id"`
	// Path is the absolute path to the repository on disk.
	Path string `json:"path"`
	// Name is the short repository name (last URL segment).
	Name string `json:"name"`
}

// ProjectRepo links a project to one of its repositories.
type ProjectRepo struct {
	// ProjectID is the project side of the association.
	ProjectID uuid.UUID `json:"project_id"`
	// RepoID is the repository side of the association.
	RepoID uuid.UUID `json:"repo_id"`
}

// Workspace is one physical worktree set for a task attempt.
type Workspace struct {
	// ID is the unique identifier for this workspace.
	ID uuid.UUID `json:"id"`
	// TaskID is the task this attempt belongs to.
	TaskID uuid.UUID `json:"task_id"`
	// Branch is the git branch created for the attempt. Unique per repo.
	Branch string `json:"branch"`
	// ContainerRef is the directory holding the per-repo worktrees.
	ContainerRef *string `json:"container_ref,omitempty"`
	// AgentWorkingDir overrides the directory the agent is launched in.
	AgentWorkingDir *string `json:"agent_working_dir,omitempty"`
	// SetupCompletedAt is when the setup script finished, if it ran.
	SetupCompletedAt *time.Time `json:"setup_completed_at,omitempty"`
	// CreatedAt is when the workspace was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the workspace was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkspaceRepo records the per-repo target branch for a workspace.
type WorkspaceRepo struct {
	// WorkspaceID is the workspace side of the association.
	WorkspaceID uuid.UUID `json:"workspace_id"`
	// RepoID is the repository side of the association.
	RepoID uuid.UUID `json:"repo_id"`
	// TargetBranch is the base branch to rebase and merge against.
	TargetBranch string `json:"target_branch"`
}

// Session is one agent conversation bound to a workspace.
type Session struct {
	// ID is the unique identifier for this session.
	ID uuid.UUID `json:"id"`
	// WorkspaceID is the workspace the session operates in.
	WorkspaceID uuid.UUID `json:"workspace_id"`
	// Executor is the executor profile id serialized as text.
	Executor string `json:"executor"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`
}

// Merge is the durable record of a successful merge.
type Merge struct {
	// WorkspaceID is the workspace whose branch was merged.
	WorkspaceID uuid.UUID `json:"workspace_id"`
	// RepoID is the repository the merge happened in.
	RepoID uuid.UUID `json:"repo_id"`
	// TargetBranch is the branch the work was merged into.
	TargetBranch string `json:"target_branch"`
	// CommitSHA is the merge commit.
	CommitSHA string `json:"commit_sha"`
	// CreatedAt is when the merge completed.
	CreatedAt time.Time `json:"created_at"`
}
