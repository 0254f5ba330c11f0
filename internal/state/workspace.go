package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/pkg/models"
)

const workspaceColumns = `id, task_id, branch, container_ref, agent_working_dir,
	setup_completed_at, created_at, updated_at`

func scanWorkspace(scan func(dest ...any) error) (models.Workspace, error) {
	var w models.Workspace
	var idStr, taskStr, createdAt, updatedAt string
	var containerRef, workingDir, setupAt sql.NullString

	err := scan(&idStr, &taskStr, &w.Branch, &containerRef, &workingDir,
		&setupAt, &createdAt, &updatedAt)
	if err != nil {
		return models.Workspace{}, err
	}

	w.ID, _ = uuid.Parse(idStr)
	w.TaskID, _ = uuid.Parse(taskStr)
	if containerRef.Valid {
		w.ContainerRef = &containerRef.String
	}
	if workingDir.Valid {
		w.AgentWorkingDir = &workingDir.String
	}
	w.SetupCompletedAt = parseNullableTime(setupAt)
	w.CreatedAt, _ = parseTime(createdAt)
	w.UpdatedAt, _ = parseTime(updatedAt)
	return w, nil
}

// CreateWorkspaceParams carries caller-supplied workspace fields.
type CreateWorkspaceParams struct {
	ID              uuid.UUID
	TaskID          uuid.UUID
	Branch          string
	ContainerRef    *string
	AgentWorkingDir *string
}

// CreateWorkspace inserts a workspace and fires the WorkspaceCreated hook.
func (db *DB) CreateWorkspace(p CreateWorkspaceParams) (models.Workspace, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()

	_, err := db.Exec(`
		INSERT INTO workspaces (id, task_id, branch, container_ref, agent_working_dir, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.TaskID.String(), p.Branch,
		nullableString(p.ContainerRef), nullableString(p.AgentWorkingDir),
		formatTime(now), formatTime(now))
	if isConstraintViolation(err) {
		return models.Workspace{}, ErrConflict
	}
	if err != nil {
		return models.Workspace{}, fmt.Errorf("create workspace: %w", err)
	}

	ws, err := db.FindWorkspaceByID(p.ID)
	if err != nil {
		return models.Workspace{}, err
	}
	if hook := db.eventHooks().WorkspaceCreated; hook != nil {
		hook(ws)
	}
	return ws, nil
}

// FindWorkspaceByID loads a workspace by id.
func (db *DB) FindWorkspaceByID(id uuid.UUID) (models.Workspace, error) {
	row := db.QueryRow(`SELECT `+workspaceColumns+` FROM workspaces WHERE id = ?`, id.String())
	w, err := scanWorkspace(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Workspace{}, ErrRowNotFound
	}
	if err != nil {
		return models.Workspace{}, fmt.Errorf("find workspace: %w", err)
	}
	return w, nil
}

// FindLatestWorkspaceByTaskID returns the most recently created
// workspace for a task, or ErrRowNotFound.
func (db *DB) FindLatestWorkspaceByTaskID(taskID uuid.UUID) (models.Workspace, error) {
	row := db.QueryRow(`
		SELECT `+workspaceColumns+` FROM workspaces
		WHERE task_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, taskID.String())
	w, err := scanWorkspace(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Workspace{}, ErrRowNotFound
	}
	if err != nil {
		return models.Workspace{}, fmt.Errorf("find latest workspace: %w", err)
	}
	return w, nil
}

// CreateWorkspaceRepos inserts the per-repo target branches for a
// workspace in a single transaction.
func (db *DB) CreateWorkspaceRepos(workspaceID uuid.UUID, repos []models.WorkspaceRepo) error {
	return db.Transaction(func(tx *sql.Tx) error {
		for _, r := range repos {
			_, err := tx.Exec(`
				INSERT INTO workspace_repos (workspace_id, repo_id, target_branch)
				VALUES (?, ?, ?)`,
				workspaceID.String(), r.RepoID.String(), r.TargetBranch)
			if isConstraintViolation(err) {
				return ErrConflict
			}
			if err != nil {
				return fmt.Errorf("create workspace repo: %w", err)
			}
		}
		return nil
	})
}

// FindWorkspaceRepo loads the target branch mapping for a workspace/repo
// pair.
func (db *DB) FindWorkspaceRepo(workspaceID, repoID uuid.UUID) (models.WorkspaceRepo, error) {
	var wr models.WorkspaceRepo
	var wsStr, repoStr string
	err := db.QueryRow(`
		SELECT workspace_id, repo_id, target_branch FROM workspace_repos
		WHERE workspace_id = ? AND repo_id = ?`,
		workspaceID.String(), repoID.String()).Scan(&wsStr, &repoStr, &wr.TargetBranch)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WorkspaceRepo{}, ErrRowNotFound
	}
	if err != nil {
		return models.WorkspaceRepo{}, fmt.Errorf("find workspace repo: %w", err)
	}
	wr.WorkspaceID, _ = uuid.Parse(wsStr)
	wr.RepoID, _ = uuid.Parse(repoStr)
	return wr, nil
}

// ListWorkspaceRepos returns every repo mapping for a workspace.
func (db *DB) ListWorkspaceRepos(workspaceID uuid.UUID) ([]models.WorkspaceRepo, error) {
	rows, err := db.Query(`
		SELECT workspace_id, repo_id, target_branch FROM workspace_repos
		WHERE workspace_id = ? ORDER BY repo_id`, workspaceID.String())
	if err != nil {
		return nil, fmt.Errorf("list workspace repos: %w", err)
	}
	defer rows.Close()

	var out []models.WorkspaceRepo
	for rows.Next() {
		var wr models.WorkspaceRepo
		var wsStr, repoStr string
		if err := rows.Scan(&wsStr, &repoStr, &wr.TargetBranch); err != nil {
			return nil, fmt.Errorf("scan workspace repo: %w", err)
		}
		wr.WorkspaceID, _ = uuid.Parse(wsStr)
		wr.RepoID, _ = uuid.Parse(repoStr)
		out = append(out, wr)
	}
	return out, rows.Err()
}

// CreateSession inserts a session for a workspace.
func (db *DB) CreateSession(workspaceID uuid.UUID, executor string) (models.Session, error) {
	s := models.Session{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Executor:    executor,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := db.Exec(`INSERT INTO sessions (id, workspace_id, executor, created_at) VALUES (?, ?, ?, ?)`,
		s.ID.String(), s.WorkspaceID.String(), s.Executor, formatTime(s.CreatedAt))
	if isConstraintViolation(err) {
		return models.Session{}, ErrConflict
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// FindLatestSessionByWorkspaceID returns the newest session for a
// workspace, or ErrRowNotFound.
func (db *DB) FindLatestSessionByWorkspaceID(workspaceID uuid.UUID) (models.Session, error) {
	var s models.Session
	var idStr, wsStr, createdAt string
	err := db.QueryRow(`
		SELECT id, workspace_id, executor, created_at FROM sessions
		WHERE workspace_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		workspaceID.String()).Scan(&idStr, &wsStr, &s.Executor, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrRowNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("find latest session: %w", err)
	}
	s.ID, _ = uuid.Parse(idStr)
	s.WorkspaceID, _ = uuid.Parse(wsStr)
	s.CreatedAt, _ = parseTime(createdAt)
	return s, nil
}
