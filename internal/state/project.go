package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/pkg/models"
)

// CreateProject inserts a new project.
func (db *DB) CreateProject(name string) (models.Project, error) {
	p := models.Project{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.Exec(`INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)`,
		p.ID.String(), p.Name, formatTime(p.CreatedAt))
	if err != nil {
		return models.Project{}, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// FindProjectByID loads a project by id.
func (db *DB) FindProjectByID(id uuid.UUID) (models.Project, error) {
	var p models.Project
	var idStr, createdAt string
	err := db.QueryRow(`SELECT id, name, created_at FROM projects WHERE id = ?`, id.String()).
		Scan(&idStr, &p.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Project{}, ErrRowNotFound
	}
	if err != nil {
		return models.Project{}, fmt.Errorf("find project: %w", err)
	}
	p.ID, _ = uuid.Parse(idStr)
	p.CreatedAt, _ = parseTime(createdAt)
	return p, nil
}

// CreateRepo inserts a repository record.
func (db *DB) CreateRepo(path, name string) (models.Repo, error) {
	r := models.Repo{ID: uuid.New(), Path: path, Name: name}
	_, err := db.Exec(`INSERT INTO repos (id, path, name) VALUES (?, ?, ?)`,
		r.ID.String(), r.Path, r.Name)
	if err != nil {
		return models.Repo{}, fmt.Errorf("create repo: %w", err)
	}
	return r, nil
}

// FindRepoByID loads a repository by id.
func (db *DB) FindRepoByID(id uuid.UUID) (models.Repo, error) {
	var r models.Repo
	var idStr string
	err := db.QueryRow(`SELECT id, path, name FROM repos WHERE id = ?`, id.String()).
		Scan(&idStr, &r.Path, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Repo{}, ErrRowNotFound
	}
	if err != nil {
		return models.Repo{}, fmt.Errorf("find repo: %w", err)
	}
	r.ID, _ = uuid.Parse(idStr)
	return r, nil
}

// AddProjectRepo links a repository to a project.
func (db *DB) AddProjectRepo(projectID, repoID uuid.UUID) error {
	_, err := db.Exec(`INSERT INTO project_repos (project_id, repo_id) VALUES (?, ?)`,
		projectID.String(), repoID.String())
	if isConstraintViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("add project repo: %w", err)
	}
	return nil
}

// FindReposForProject returns all repositories linked to the project.
func (db *DB) FindReposForProject(projectID uuid.UUID) ([]models.Repo, error) {
	rows, err := db.Query(`
		SELECT r.id, r.path, r.name FROM repos r
		JOIN project_repos pr ON pr.repo_id = r.id
		WHERE pr.project_id = ?
		ORDER BY r.name`, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("find repos for project: %w", err)
	}
	defer rows.Close()

	var repos []models.Repo
	for rows.Next() {
		var r models.Repo
		var idStr string
		if err := rows.Scan(&idStr, &r.Path, &r.Name); err != nil {
			return nil, fmt.Errorf("scan repo: %w", err)
		}
		r.ID, _ = uuid.Parse(idStr)
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// CreateTaskGroup inserts a task group.
func (db *DB) CreateTaskGroup(projectID uuid.UUID, name string, baseBranch *string) (models.TaskGroup, error) {
	g := models.TaskGroup{
		ID:         uuid.New(),
		ProjectID:  projectID,
		Name:       name,
		BaseBranch: baseBranch,
	}
	_, err := db.Exec(`INSERT INTO task_groups (id, project_id, name, base_branch) VALUES (?, ?, ?, ?)`,
		g.ID.String(), g.ProjectID.String(), g.Name, nullableString(g.BaseBranch))
	if err != nil {
		return models.TaskGroup{}, fmt.Errorf("create task group: %w", err)
	}
	return g, nil
}

// FindTaskGroupByID loads a task group by id.
func (db *DB) FindTaskGroupByID(id uuid.UUID) (models.TaskGroup, error) {
	var g models.TaskGroup
	var idStr, projectStr string
	var base sql.NullString
	err := db.QueryRow(`SELECT id, project_id, name, base_branch FROM task_groups WHERE id = ?`,
		id.String()).Scan(&idStr, &projectStr, &g.Name, &base)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TaskGroup{}, ErrRowNotFound
	}
	if err != nil {
		return models.TaskGroup{}, fmt.Errorf("find task group: %w", err)
	}
	g.ID, _ = uuid.Parse(idStr)
	g.ProjectID, _ = uuid.Parse(projectStr)
	if base.Valid {
		g.BaseBranch = &base.String
	}
	return g, nil
}
