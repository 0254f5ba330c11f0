package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/pkg/models"
)

// CreateDependency inserts a dependency edge (taskID depends on
// dependsOnID). Self-loops, duplicates, and edges that would close a
// cycle are rejected with ErrConflict. The is_blocked column of the
// dependent task is maintained by a store trigger.
func (db *DB) CreateDependency(taskID, dependsOnID uuid.UUID) (models.TaskDependency, error) {
	if taskID == dependsOnID {
		return models.TaskDependency{}, fmt.Errorf("%w: task cannot depend on itself", ErrConflict)
	}

	// Reject edges that would make dependsOnID transitively depend on
	// taskID.
	var cycle bool
	err := db.QueryRow(`
		WITH RECURSIVE reach(id) AS (
			SELECT ?
			UNION
			SELECT d.depends_on_id FROM task_dependencies d
			JOIN reach ON d.task_id = reach.id
		)
		SELECT EXISTS(SELECT 1 FROM reach WHERE id = ?)`,
		dependsOnID.String(), taskID.String()).Scan(&cycle)
	if err != nil {
		return models.TaskDependency{}, fmt.Errorf("check dependency cycle: %w", err)
	}
	if cycle {
		return models.TaskDependency{}, fmt.Errorf("%w: dependency would create a cycle", ErrConflict)
	}

	dep := models.TaskDependency{
		ID:          uuid.New(),
		TaskID:      taskID,
		DependsOnID: dependsOnID,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = db.Exec(`
		INSERT INTO task_dependencies (id, task_id, depends_on_id, created_at)
		VALUES (?, ?, ?, ?)`,
		dep.ID.String(), dep.TaskID.String(), dep.DependsOnID.String(), formatTime(dep.CreatedAt))
	if isConstraintViolation(err) {
		return models.TaskDependency{}, ErrConflict
	}
	if err != nil {
		return models.TaskDependency{}, fmt.Errorf("create dependency: %w", err)
	}
	return dep, nil
}

// DeleteDependency removes the edge between two tasks.
func (db *DB) DeleteDependency(taskID, dependsOnID uuid.UUID) error {
	res, err := db.Exec(`DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_id = ?`,
		taskID.String(), dependsOnID.String())
	if err != nil {
		return fmt.Errorf("delete dependency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRowNotFound
	}
	return nil
}

// FindBlocking returns the tasks that directly depend on the given task.
func (db *DB) FindBlocking(taskID uuid.UUID) ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE id IN (SELECT task_id FROM task_dependencies WHERE depends_on_id = ?)
		ORDER BY created_at, id`, taskID.String())
	if err != nil {
		return nil, fmt.Errorf("find blocking: %w", err)
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

// FindUnblockedDependents returns direct dependents of the given task
// that are no longer blocked and still in Todo.
func (db *DB) FindUnblockedDependents(taskID uuid.UUID) ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE id IN (SELECT task_id FROM task_dependencies WHERE depends_on_id = ?)
			AND is_blocked = 0
			AND status = 'todo'
		ORDER BY created_at, id`, taskID.String())
	if err != nil {
		return nil, fmt.Errorf("find unblocked dependents: %w", err)
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

// DependencyContext holds the transitive neighborhood of a task.
type DependencyContext struct {
	// Ancestors are tasks the subject transitively depends on.
	Ancestors []models.Task
	// Descendants are tasks that transitively depend on the subject.
	Descendants []models.Task
}

// FindDependencyContext returns the transitive ancestors and descendants
// of a task, limited to maxDepth hops in each direction.
func (db *DB) FindDependencyContext(taskID uuid.UUID, maxDepth int) (DependencyContext, error) {
	if maxDepth <= 0 {
		maxDepth = 10
	}

	ancestors, err := db.traverse(taskID, maxDepth, `
		WITH RECURSIVE reach(id, depth) AS (
			SELECT depends_on_id, 1 FROM task_dependencies WHERE task_id = ?
			UNION
			SELECT d.depends_on_id, reach.depth + 1 FROM task_dependencies d
			JOIN reach ON d.task_id = reach.id
			WHERE reach.depth < ?
		)
		SELECT `+taskColumns+` FROM tasks WHERE id IN (SELECT id FROM reach)
		ORDER BY created_at, id`)
	if err != nil {
		return DependencyContext{}, err
	}

	descendants, err := db.traverse(taskID, maxDepth, `
		WITH RECURSIVE reach(id, depth) AS (
			SELECT task_id, 1 FROM task_dependencies WHERE depends_on_id = ?
			UNION
			SELECT d.task_id, reach.depth + 1 FROM task_dependencies d
			JOIN reach ON d.depends_on_id = reach.id
			WHERE reach.depth < ?
		)
		SELECT `+taskColumns+` FROM tasks WHERE id IN (SELECT id FROM reach)
		ORDER BY created_at, id`)
	if err != nil {
		return DependencyContext{}, err
	}

	return DependencyContext{Ancestors: ancestors, Descendants: descendants}, nil
}

func (db *DB) traverse(taskID uuid.UUID, maxDepth int, query string) ([]models.Task, error) {
	rows, err := db.Query(query, taskID.String(), maxDepth)
	if err != nil {
		return nil, fmt.Errorf("dependency traversal: %w", err)
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
