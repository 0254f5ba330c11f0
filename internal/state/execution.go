package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/pkg/models"
)

// ErrAlreadyTerminal indicates an execution process already reached a
// terminal status and cannot transition again.
var ErrAlreadyTerminal = errors.New("execution process already terminal")

const executionColumns = `id, session_id, conversation_session_id, run_reason,
	executor_action, status, exit_code, dropped, input_tokens, output_tokens,
	started_at, completed_at, created_at, updated_at`

func scanExecution(scan func(dest ...any) error) (models.ExecutionProcess, error) {
	var e models.ExecutionProcess
	var idStr, startedAt, createdAt, updatedAt string
	var sessionStr, conversationStr, completedAt sql.NullString
	var exitCode, inputTokens, outputTokens sql.NullInt64

	err := scan(&idStr, &sessionStr, &conversationStr, &e.RunReason,
		&e.ExecutorAction, &e.Status, &exitCode, &e.Dropped, &inputTokens, &outputTokens,
		&startedAt, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		return models.ExecutionProcess{}, err
	}

	e.ID, _ = uuid.Parse(idStr)
	if sessionStr.Valid {
		if id, err := uuid.Parse(sessionStr.String); err == nil {
			e.SessionID = &id
		}
	}
	if conversationStr.Valid {
		e.ConversationSessionID = &conversationStr.String
	}
	if exitCode.Valid {
		e.ExitCode = &exitCode.Int64
	}
	if inputTokens.Valid {
		e.InputTokens = &inputTokens.Int64
	}
	if outputTokens.Valid {
		e.OutputTokens = &outputTokens.Int64
	}
	e.StartedAt, _ = parseTime(startedAt)
	e.CompletedAt = parseNullableTime(completedAt)
	e.CreatedAt, _ = parseTime(createdAt)
	e.UpdatedAt, _ = parseTime(updatedAt)
	return e, nil
}

// CreateExecutionParams carries caller-supplied execution fields.
type CreateExecutionParams struct {
	ID             uuid.UUID
	SessionID      *uuid.UUID
	RunReason      models.RunReason
	ExecutorAction string
}

// CreateExecution inserts a new execution process in Running status.
func (db *DB) CreateExecution(p CreateExecutionParams) (models.ExecutionProcess, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if !p.RunReason.Valid() {
		return models.ExecutionProcess{}, fmt.Errorf("%w: invalid run reason %q", ErrConflict, p.RunReason)
	}
	now := time.Now().UTC()

	var session any
	if p.SessionID != nil {
		session = p.SessionID.String()
	}

	_, err := db.Exec(`
		INSERT INTO execution_processes
			(id, session_id, run_reason, executor_action, status, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), session, string(p.RunReason), p.ExecutorAction,
		string(models.ExecutionStatusRunning), formatTime(now), formatTime(now), formatTime(now))
	if isConstraintViolation(err) {
		return models.ExecutionProcess{}, ErrConflict
	}
	if err != nil {
		return models.ExecutionProcess{}, fmt.Errorf("create execution: %w", err)
	}
	return db.FindExecutionByID(p.ID)
}

// FindExecutionByID loads an execution process by id.
func (db *DB) FindExecutionByID(id uuid.UUID) (models.ExecutionProcess, error) {
	row := db.QueryRow(`SELECT `+executionColumns+` FROM execution_processes WHERE id = ?`, id.String())
	e, err := scanExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ExecutionProcess{}, ErrRowNotFound
	}
	if err != nil {
		return models.ExecutionProcess{}, fmt.Errorf("find execution: %w", err)
	}
	return e, nil
}

// FindExecutionByRowID loads an execution process by its SQLite rowid.
func (db *DB) FindExecutionByRowID(rowid int64) (models.ExecutionProcess, error) {
	row := db.QueryRow(`SELECT `+executionColumns+` FROM execution_processes WHERE rowid = ?`, rowid)
	e, err := scanExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ExecutionProcess{}, ErrRowNotFound
	}
	if err != nil {
		return models.ExecutionProcess{}, fmt.Errorf("find execution by rowid: %w", err)
	}
	return e, nil
}

// FindLatestExecutionForTask returns the newest execution process of the
// given run reason across all workspaces of the task.
func (db *DB) FindLatestExecutionForTask(taskID uuid.UUID, reason models.RunReason) (models.ExecutionProcess, error) {
	row := db.QueryRow(`
		SELECT `+executionPrefixed("ep")+` FROM execution_processes ep
		JOIN sessions s ON s.id = ep.session_id
		JOIN workspaces w ON w.id = s.workspace_id
		WHERE w.task_id = ? AND ep.run_reason = ?
		ORDER BY ep.created_at DESC, ep.rowid DESC LIMIT 1`,
		taskID.String(), string(reason))
	e, err := scanExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ExecutionProcess{}, ErrRowNotFound
	}
	if err != nil {
		return models.ExecutionProcess{}, fmt.Errorf("find latest execution for task: %w", err)
	}
	return e, nil
}

func executionPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.session_id, ` + alias + `.conversation_session_id, ` +
		alias + `.run_reason, ` + alias + `.executor_action, ` + alias + `.status, ` +
		alias + `.exit_code, ` + alias + `.dropped, ` + alias + `.input_tokens, ` +
		alias + `.output_tokens, ` + alias + `.started_at, ` + alias + `.completed_at, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

// LoadExecutionContext joins a process to its session, workspace and task.
func (db *DB) LoadExecutionContext(processID uuid.UUID) (models.ExecutionContext, error) {
	process, err := db.FindExecutionByID(processID)
	if err != nil {
		return models.ExecutionContext{}, err
	}
	if process.SessionID == nil {
		return models.ExecutionContext{}, fmt.Errorf("%w: execution %s has no session", ErrRowNotFound, processID)
	}

	var session models.Session
	var sIDStr, wsStr, sCreatedAt string
	err = db.QueryRow(`SELECT id, workspace_id, executor, created_at FROM sessions WHERE id = ?`,
		process.SessionID.String()).Scan(&sIDStr, &wsStr, &session.Executor, &sCreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ExecutionContext{}, ErrRowNotFound
	}
	if err != nil {
		return models.ExecutionContext{}, fmt.Errorf("load execution context: %w", err)
	}
	session.ID, _ = uuid.Parse(sIDStr)
	session.WorkspaceID, _ = uuid.Parse(wsStr)
	session.CreatedAt, _ = parseTime(sCreatedAt)

	workspace, err := db.FindWorkspaceByID(session.WorkspaceID)
	if err != nil {
		return models.ExecutionContext{}, err
	}
	task, err := db.FindTaskByID(workspace.TaskID)
	if err != nil {
		return models.ExecutionContext{}, err
	}

	return models.ExecutionContext{
		Process:   process,
		Session:   session,
		Workspace: workspace,
		Task:      task,
	}, nil
}

// UpdateExecutionCompletion transitions an execution to a terminal
// status, recording the exit code and completion time. A process
// transitions exactly once; a second call returns ErrAlreadyTerminal.
func (db *DB) UpdateExecutionCompletion(id uuid.UUID, status models.ExecutionStatus, exitCode *int64) (models.ExecutionProcess, error) {
	if !status.Terminal() {
		return models.ExecutionProcess{}, fmt.Errorf("%w: %q is not a terminal status", ErrConflict, status)
	}

	now := formatTime(time.Now().UTC())
	res, err := db.Exec(`
		UPDATE execution_processes
		SET status = ?, exit_code = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		string(status), nullableInt64(exitCode), now, now, id.String())
	if err != nil {
		return models.ExecutionProcess{}, fmt.Errorf("update execution completion: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, findErr := db.FindExecutionByID(id); findErr != nil {
			return models.ExecutionProcess{}, findErr
		}
		return models.ExecutionProcess{}, ErrAlreadyTerminal
	}
	return db.FindExecutionByID(id)
}

// UpdateExecutionTokenUsage records the token counts for an execution.
// Token counts are the only columns mutable after a process is terminal.
func (db *DB) UpdateExecutionTokenUsage(id uuid.UUID, inputTokens, outputTokens *int64) error {
	res, err := db.Exec(`
		UPDATE execution_processes SET input_tokens = ?, output_tokens = ?, updated_at = ?
		WHERE id = ?`,
		nullableInt64(inputTokens), nullableInt64(outputTokens),
		formatTime(time.Now().UTC()), id.String())
	if err != nil {
		return fmt.Errorf("update token usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRowNotFound
	}
	return nil
}

// UpdateExecutionConversationSession records the executor-side session id.
func (db *DB) UpdateExecutionConversationSession(id uuid.UUID, conversationSessionID string) error {
	res, err := db.Exec(`
		UPDATE execution_processes SET conversation_session_id = ?, updated_at = ? WHERE id = ?`,
		conversationSessionID, formatTime(time.Now().UTC()), id.String())
	if err != nil {
		return fmt.Errorf("update conversation session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRowNotFound
	}
	return nil
}
