package state

import "fmt"

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Projects},
		{2, migrationV2Tasks},
		{3, migrationV3Attempts},
		{4, blockedTriggers()},
		{5, attemptStatusTriggers()},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Projects = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS repos (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS project_repos (
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	repo_id TEXT NOT NULL REFERENCES repos(id) ON DELETE CASCADE,
	PRIMARY KEY (project_id, repo_id)
);

CREATE TABLE IF NOT EXISTS task_groups (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	base_branch TEXT
);
`

const migrationV2Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL DEFAULT 'todo',
	task_group_id TEXT REFERENCES task_groups(id) ON DELETE SET NULL,
	parent_workspace_id TEXT,
	shared_task_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	is_blocked INTEGER NOT NULL DEFAULT 0,
	has_in_progress_attempt INTEGER NOT NULL DEFAULT 0,
	last_attempt_failed INTEGER NOT NULL DEFAULT 0,
	is_queued INTEGER NOT NULL DEFAULT 0,
	last_executor TEXT NOT NULL DEFAULT '',
	needs_attention INTEGER
);

CREATE INDEX IF NOT EXISTS idx_tasks_project_id ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS task_dependencies (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	depends_on_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	created_at TEXT NOT NULL,
	UNIQUE (task_id, depends_on_id)
);

CREATE INDEX IF NOT EXISTS idx_task_dependencies_depends_on ON task_dependencies(depends_on_id);
`

const migrationV3Attempts = `
CREATE TABLE IF NOT EXISTS workspaces (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	branch TEXT NOT NULL,
	container_ref TEXT,
	agent_working_dir TEXT,
	setup_completed_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workspaces_task_id ON workspaces(task_id);

CREATE TABLE IF NOT EXISTS workspace_repos (
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	repo_id TEXT NOT NULL REFERENCES repos(id) ON DELETE CASCADE,
	target_branch TEXT NOT NULL,
	PRIMARY KEY (workspace_id, repo_id)
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	executor TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_workspace_id ON sessions(workspace_id);

CREATE TABLE IF NOT EXISTS execution_processes (
	id TEXT PRIMARY KEY,
	session_id TEXT REFERENCES sessions(id) ON DELETE SET NULL,
	conversation_session_id TEXT,
	run_reason TEXT NOT NULL,
	executor_action TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'running',
	exit_code INTEGER,
	dropped INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER,
	output_tokens INTEGER,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_execution_processes_session_id ON execution_processes(session_id);
CREATE INDEX IF NOT EXISTS idx_execution_processes_status ON execution_processes(status);

CREATE TABLE IF NOT EXISTS execution_queue (
	workspace_id TEXT PRIMARY KEY REFERENCES workspaces(id) ON DELETE CASCADE,
	executor_profile TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_feedback (
	id TEXT PRIMARY KEY,
	execution_process_id TEXT NOT NULL,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	feedback_json TEXT,
	created_at TEXT NOT NULL,
	UNIQUE (workspace_id)
);

CREATE TABLE IF NOT EXISTS merges (
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	repo_id TEXT NOT NULL REFERENCES repos(id) ON DELETE CASCADE,
	target_branch TEXT NOT NULL,
	commit_sha TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_merges_workspace_id ON merges(workspace_id);
`

// recomputeBlockedSQL updates is_blocked for the task selected by the
// given id expression. A task is blocked iff at least one direct
// dependency has a status other than done.
func recomputeBlockedSQL(target string) string {
	return fmt.Sprintf(`
	UPDATE tasks SET is_blocked = EXISTS(
		SELECT 1 FROM task_dependencies d
		JOIN tasks dt ON dt.id = d.depends_on_id
		WHERE d.task_id = tasks.id AND dt.status != 'done')
	WHERE id IN (%s);`, target)
}

// blockedTriggers builds the triggers that keep tasks.is_blocked an
// invariant of the database.
func blockedTriggers() string {
	return `
CREATE TRIGGER IF NOT EXISTS trg_deps_insert_blocked
AFTER INSERT ON task_dependencies
BEGIN` + recomputeBlockedSQL("NEW.task_id") + `
END;

CREATE TRIGGER IF NOT EXISTS trg_deps_delete_blocked
AFTER DELETE ON task_dependencies
BEGIN` + recomputeBlockedSQL("OLD.task_id") + `
END;

CREATE TRIGGER IF NOT EXISTS trg_deps_update_blocked
AFTER UPDATE ON task_dependencies
BEGIN` + recomputeBlockedSQL("OLD.task_id") + recomputeBlockedSQL("NEW.task_id") + `
END;

CREATE TRIGGER IF NOT EXISTS trg_tasks_status_blocked
AFTER UPDATE OF status ON tasks
WHEN NEW.status IS NOT OLD.status
BEGIN` + recomputeBlockedSQL("SELECT task_id FROM task_dependencies WHERE depends_on_id = NEW.id") + `
END;

CREATE TRIGGER IF NOT EXISTS trg_tasks_clear_attention
AFTER UPDATE OF status ON tasks
WHEN OLD.status = 'in_review' AND NEW.status != 'in_review'
BEGIN
	UPDATE tasks SET needs_attention = NULL WHERE id = NEW.id;
END;
`
}

// recomputeAttemptSQL updates the attempt-derived task columns for the
// task selected by the given id expression.
func recomputeAttemptSQL(target string) string {
	return fmt.Sprintf(`
	UPDATE tasks SET
		has_in_progress_attempt = EXISTS(
			SELECT 1 FROM execution_processes ep
			JOIN sessions s ON s.id = ep.session_id
			JOIN workspaces w ON w.id = s.workspace_id
			WHERE w.task_id = tasks.id AND ep.status = 'running'
				AND ep.run_reason IN ('coding_agent', 'internal_agent')),
		last_attempt_failed = COALESCE((
			SELECT ep.status IN ('failed', 'killed') FROM execution_processes ep
			JOIN sessions s ON s.id = ep.session_id
			JOIN workspaces w ON w.id = s.workspace_id
			WHERE w.task_id = tasks.id AND ep.run_reason = 'coding_agent'
				AND ep.status != 'running'
			ORDER BY ep.created_at DESC, ep.rowid DESC LIMIT 1), 0),
		is_queued = EXISTS(
			SELECT 1 FROM execution_queue q
			JOIN workspaces w ON w.id = q.workspace_id
			WHERE w.task_id = tasks.id),
		last_executor = COALESCE((
			SELECT s.executor FROM sessions s
			JOIN workspaces w ON w.id = s.workspace_id
			WHERE w.task_id = tasks.id
			ORDER BY w.created_at DESC, w.rowid DESC, s.created_at DESC, s.rowid DESC
			LIMIT 1), '')
	WHERE id IN (%s);`, target)
}

// attemptStatusTriggers builds one insert/update/delete trigger per
// table that feeds the attempt-derived columns.
func attemptStatusTriggers() string {
	type spec struct {
		table     string
		newTarget string
		oldTarget string
	}
	specs := []spec{
		{
			table:     "workspaces",
			newTarget: "SELECT NEW.task_id",
			oldTarget: "SELECT OLD.task_id",
		},
		{
			table:     "sessions",
			newTarget: "SELECT task_id FROM workspaces WHERE id = NEW.workspace_id",
			oldTarget: "SELECT task_id FROM workspaces WHERE id = OLD.workspace_id",
		},
		{
			table: "execution_processes",
			newTarget: `SELECT w.task_id FROM sessions s
				JOIN workspaces w ON w.id = s.workspace_id WHERE s.id = NEW.session_id`,
			oldTarget: `SELECT w.task_id FROM sessions s
				JOIN workspaces w ON w.id = s.workspace_id WHERE s.id = OLD.session_id`,
		},
		{
			table:     "execution_queue",
			newTarget: "SELECT task_id FROM workspaces WHERE id = NEW.workspace_id",
			oldTarget: "SELECT task_id FROM workspaces WHERE id = OLD.workspace_id",
		},
	}

	var sql string
	for _, s := range specs {
		sql += fmt.Sprintf(`
CREATE TRIGGER IF NOT EXISTS trg_%[1]s_insert_attempt
AFTER INSERT ON %[1]s
BEGIN%[2]s
END;

CREATE TRIGGER IF NOT EXISTS trg_%[1]s_update_attempt
AFTER UPDATE ON %[1]s
BEGIN%[3]s%[2]s
END;

CREATE TRIGGER IF NOT EXISTS trg_%[1]s_delete_attempt
AFTER DELETE ON %[1]s
BEGIN%[3]s
END;
`, s.table, recomputeAttemptSQL(s.newTarget), recomputeAttemptSQL(s.oldTarget))
	}
	return sql
}
