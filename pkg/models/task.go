// Package models defines the domain value types shared across Helmsman.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusTodo indicates the task has not started.
	TaskStatusTodo TaskStatus = "todo"
	// TaskStatusInProgress indicates an agent is working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusInReview indicates the work is awaiting review or merge.
	TaskStatusInReview TaskStatus = "in_review"
	// TaskStatusDone indicates the task completed and merged.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusCancelled indicates the task was abandoned.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusInReview, TaskStatusDone, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses that end the task lifecycle.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusCancelled
}

// Project is the aggregation root for tasks and merge-queue entries.
type Project struct {
	// ID is the unique identifier for this project.
	ID uuid.UUID `json:"id"`
	// Name is the human-readable project name.
	Name string `json:"name"`
	// CreatedAt is when the project was created.
	CreatedAt time.Time `json:"created_at"`
}

// Task represents a unit of work driven through the autopilot lifecycle.
type Task struct {
	// ID is the unique identifier for this task.
	ID uuid.UUID `json:"id"`
	// ProjectID is the owning project.
	ProjectID uuid.UUID `json:"project_id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// TaskGroupID links the task to a group carrying a default base branch.
	TaskGroupID *uuid.UUID `json:"task_group_id,omitempty"`
	// ParentWorkspaceID is set when the task was split off another attempt.
	ParentWorkspaceID *uuid.UUID `json:"parent_workspace_id,omitempty"`
	// SharedTaskID links tasks shared across projects.
	SharedTaskID *uuid.UUID `json:"shared_task_id,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task was last modified.
	UpdatedAt time.Time `json:"updated_at"`

	// The fields below are materialized by store triggers and must never
	// be written directly.

	// IsBlocked is true while any direct dependency is not done.
	IsBlocked bool `json:"is_blocked"`
	// HasInProgressAttempt is true while an agent execution is running.
	HasInProgressAttempt bool `json:"has_in_progress_attempt"`
	// LastAttemptFailed is true when the latest terminal coding-agent
	// execution failed or was killed.
	LastAttemptFailed bool `json:"last_attempt_failed"`
	// IsQueued is true while an execution-queue row exists for the task.
	IsQueued bool `json:"is_queued"`
	// LastExecutor is the executor profile of the latest session.
	LastExecutor string `json:"last_executor"`
	// NeedsAttention is set by the review-attention pass while the task is
	// in review; nil means no verdict has been recorded.
	NeedsAttention *bool `json:"needs_attention,omitempty"`
}

// TaskDependency records that Task depends on DependsOn completing first.
type TaskDependency struct {
	// ID is the unique identifier for this edge.
	ID uuid.UUID `json:"id"`
	// TaskID is the dependent task.
	TaskID uuid.UUID `json:"task_id"`
	// DependsOnID is the prerequisite task.
	DependsOnID uuid.UUID `json:"depends_on_id"`
	// CreatedAt is when the dependency was created.
	CreatedAt time.Time `json:"created_at"`
}

// TaskGroup bundles tasks that share a default base branch.
type TaskGroup struct {
	// ID is the unique identifier for this group.
	ID uuid.UUID `json:"id"`
	// ProjectID is the owning project.
	ProjectID uuid.UUID `json:"project_id"`
	// Name is the human-readable group name.
	Name string `json:"name"`
	// BaseBranch is the branch auto-created workspaces rebase and merge
	// against. Nil disables workspace auto-creation for the group.
	BaseBranch *string `json:"base_branch,omitempty"`
}
