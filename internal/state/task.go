package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/pkg/models"
)

const taskColumns = `id, project_id, title, description, status, task_group_id,
	parent_workspace_id, shared_task_id, created_at, updated_at,
	is_blocked, has_in_progress_attempt, last_attempt_failed, is_queued,
	last_executor, needs_attention`

// scanTask reads a task row in taskColumns order.
func scanTask(scan func(dest ...any) error) (models.Task, error) {
	var t models.Task
	var idStr, projectStr, createdAt, updatedAt string
	var description, groupStr, parentWsStr, sharedStr sql.NullString
	var needsAttention sql.NullInt64

	err := scan(&idStr, &projectStr, &t.Title, &description, &t.Status, &groupStr,
		&parentWsStr, &sharedStr, &createdAt, &updatedAt,
		&t.IsBlocked, &t.HasInProgressAttempt, &t.LastAttemptFailed, &t.IsQueued,
		&t.LastExecutor, &needsAttention)
	if err != nil {
		return models.Task{}, err
	}

	t.ID, _ = uuid.Parse(idStr)
	t.ProjectID, _ = uuid.Parse(projectStr)
	if description.Valid {
		t.Description = description.String
	}
	if groupStr.Valid {
		if id, err := uuid.Parse(groupStr.String); err == nil {
			t.TaskGroupID = &id
		}
	}
	if parentWsStr.Valid {
		if id, err := uuid.Parse(parentWsStr.String); err == nil {
			t.ParentWorkspaceID = &id
		}
	}
	if sharedStr.Valid {
		if id, err := uuid.Parse(sharedStr.String); err == nil {
			t.SharedTaskID = &id
		}
	}
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	if needsAttention.Valid {
		v := needsAttention.Int64 != 0
		t.NeedsAttention = &v
	}
	return t, nil
}

// CreateTaskParams carries the caller-supplied task fields.
type CreateTaskParams struct {
	ProjectID   uuid.UUID
	Title       string
	Description string
	TaskGroupID *uuid.UUID
}

// CreateTask inserts a new task in Todo status.
func (db *DB) CreateTask(p CreateTaskParams) (models.Task, error) {
	id := uuid.New()
	now := time.Now().UTC()

	var group any
	if p.TaskGroupID != nil {
		group = p.TaskGroupID.String()
	}
	var desc any
	if p.Description != "" {
		desc = p.Description
	}

	_, err := db.Exec(`
		INSERT INTO tasks (id, project_id, title, description, status, task_group_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), p.ProjectID.String(), p.Title, desc, string(models.TaskStatusTodo),
		group, formatTime(now), formatTime(now))
	if isConstraintViolation(err) {
		return models.Task{}, ErrConflict
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("create task: %w", err)
	}
	return db.FindTaskByID(id)
}

// FindTaskByID loads a task with its materialized attempt-status columns.
func (db *DB) FindTaskByID(id uuid.UUID) (models.Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String())
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, ErrRowNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("find task: %w", err)
	}
	return t, nil
}

// UpdateTaskStatus transitions a task to the given status and fires the
// TaskStatusChanged hook. Updating to the current status is a no-op and
// fires nothing.
func (db *DB) UpdateTaskStatus(id uuid.UUID, status models.TaskStatus) (models.Task, error) {
	if !status.Valid() {
		return models.Task{}, fmt.Errorf("%w: invalid status %q", ErrConflict, status)
	}

	current, err := db.FindTaskByID(id)
	if err != nil {
		return models.Task{}, err
	}
	if current.Status == status {
		return current, nil
	}

	_, err = db.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now().UTC()), id.String())
	if err != nil {
		return models.Task{}, fmt.Errorf("update task status: %w", err)
	}

	updated, err := db.FindTaskByID(id)
	if err != nil {
		return models.Task{}, err
	}

	if hook := db.eventHooks().TaskStatusChanged; hook != nil {
		hook(updated, current.Status)
	}
	return updated, nil
}

// UpdateTaskNeedsAttention records the review-attention verdict.
// The column is meaningful only while the task is in review; the store
// trigger clears it when the task leaves that status.
func (db *DB) UpdateTaskNeedsAttention(id uuid.UUID, needsAttention *bool) error {
	res, err := db.Exec(`UPDATE tasks SET needs_attention = ?, updated_at = ? WHERE id = ?`,
		nullableBool(needsAttention), formatTime(time.Now().UTC()), id.String())
	if err != nil {
		return fmt.Errorf("update needs_attention: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRowNotFound
	}
	return nil
}

// RecomputeTaskMaterializedStatus re-derives the materialized columns
// for one task. The triggers keep the columns current on their own;
// this entry point repairs rows after out-of-band imports.
func (db *DB) RecomputeTaskMaterializedStatus(id uuid.UUID) error {
	if _, err := db.Exec(recomputeBlockedSQL("?"), id.String()); err != nil {
		return fmt.Errorf("recompute is_blocked: %w", err)
	}
	if _, err := db.Exec(recomputeAttemptSQL("?"), id.String()); err != nil {
		return fmt.Errorf("recompute attempt status: %w", err)
	}
	return nil
}

// RecomputeTaskMaterializedStatusBulk re-derives the materialized
// columns for every task in a project.
func (db *DB) RecomputeTaskMaterializedStatusBulk(projectID uuid.UUID) error {
	target := "SELECT id FROM tasks WHERE project_id = ?"
	if _, err := db.Exec(recomputeBlockedSQL(target), projectID.String()); err != nil {
		return fmt.Errorf("recompute is_blocked: %w", err)
	}
	if _, err := db.Exec(recomputeAttemptSQL(target), projectID.String()); err != nil {
		return fmt.Errorf("recompute attempt status: %w", err)
	}
	return nil
}

// ParentProject loads the project a task belongs to.
func (db *DB) ParentProject(taskID uuid.UUID) (models.Project, error) {
	task, err := db.FindTaskByID(taskID)
	if err != nil {
		return models.Project{}, err
	}
	return db.FindProjectByID(task.ProjectID)
}

// ListTasksByProject returns all tasks in a project ordered by creation.
func (db *DB) ListTasksByProject(projectID uuid.UUID) ([]models.Task, error) {
	rows, err := db.Query(`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY created_at, id`,
		projectID.String())
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
