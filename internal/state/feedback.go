package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/pkg/models"
)

// CreateAgentFeedbackParams carries caller-supplied feedback fields.
type CreateAgentFeedbackParams struct {
	ExecutionProcessID uuid.UUID
	TaskID             uuid.UUID
	WorkspaceID        uuid.UUID
	FeedbackJSON       *string
}

// CreateAgentFeedback inserts a feedback record. At most one record may
// exist per workspace; a second insert returns ErrConflict.
func (db *DB) CreateAgentFeedback(p CreateAgentFeedbackParams) (models.AgentFeedback, error) {
	f := models.AgentFeedback{
		ID:                 uuid.New(),
		ExecutionProcessID: p.ExecutionProcessID,
		TaskID:             p.TaskID,
		WorkspaceID:        p.WorkspaceID,
		FeedbackJSON:       p.FeedbackJSON,
		CreatedAt:          time.Now().UTC(),
	}
	_, err := db.Exec(`
		INSERT INTO agent_feedback (id, execution_process_id, task_id, workspace_id, feedback_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID.String(), f.ExecutionProcessID.String(), f.TaskID.String(),
		f.WorkspaceID.String(), nullableString(f.FeedbackJSON), formatTime(f.CreatedAt))
	if isConstraintViolation(err) {
		return models.AgentFeedback{}, ErrConflict
	}
	if err != nil {
		return models.AgentFeedback{}, fmt.Errorf("create agent feedback: %w", err)
	}
	return f, nil
}

// FindAgentFeedbackByWorkspaceID loads the feedback record for a
// workspace, or ErrRowNotFound.
func (db *DB) FindAgentFeedbackByWorkspaceID(workspaceID uuid.UUID) (models.AgentFeedback, error) {
	var f models.AgentFeedback
	var idStr, execStr, taskStr, wsStr, createdAt string
	var feedbackJSON sql.NullString
	err := db.QueryRow(`
		SELECT id, execution_process_id, task_id, workspace_id, feedback_json, created_at
		FROM agent_feedback WHERE workspace_id = ?`, workspaceID.String()).
		Scan(&idStr, &execStr, &taskStr, &wsStr, &feedbackJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AgentFeedback{}, ErrRowNotFound
	}
	if err != nil {
		return models.AgentFeedback{}, fmt.Errorf("find agent feedback: %w", err)
	}
	f.ID, _ = uuid.Parse(idStr)
	f.ExecutionProcessID, _ = uuid.Parse(execStr)
	f.TaskID, _ = uuid.Parse(taskStr)
	f.WorkspaceID, _ = uuid.Parse(wsStr)
	if feedbackJSON.Valid {
		f.FeedbackJSON = &feedbackJSON.String
	}
	f.CreatedAt, _ = parseTime(createdAt)
	return f, nil
}
