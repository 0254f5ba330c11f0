package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/pkg/models"
)

// CreateQueueEntry inserts an execution-queue row for a workspace.
// The operation is idempotent per workspace: a second insert for the
// same workspace leaves the existing entry in place.
func (db *DB) CreateQueueEntry(workspaceID uuid.UUID, executorProfile string) (models.ExecutionQueueEntry, error) {
	now := time.Now().UTC()
	_, err := db.Exec(`
		INSERT INTO execution_queue (workspace_id, executor_profile, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (workspace_id) DO NOTHING`,
		workspaceID.String(), executorProfile, formatTime(now))
	if err != nil {
		return models.ExecutionQueueEntry{}, fmt.Errorf("create queue entry: %w", err)
	}
	return db.FindQueueEntryByWorkspace(workspaceID)
}

// FindQueueEntryByWorkspace loads the queue entry for a workspace.
func (db *DB) FindQueueEntryByWorkspace(workspaceID uuid.UUID) (models.ExecutionQueueEntry, error) {
	var e models.ExecutionQueueEntry
	var wsStr, createdAt string
	err := db.QueryRow(`
		SELECT workspace_id, executor_profile, created_at FROM execution_queue
		WHERE workspace_id = ?`, workspaceID.String()).
		Scan(&wsStr, &e.ExecutorProfile, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ExecutionQueueEntry{}, ErrRowNotFound
	}
	if err != nil {
		return models.ExecutionQueueEntry{}, fmt.Errorf("find queue entry: %w", err)
	}
	e.WorkspaceID, _ = uuid.Parse(wsStr)
	e.CreatedAt, _ = parseTime(createdAt)
	return e, nil
}

// DeleteQueueEntryByWorkspace removes the queue entry for a workspace.
func (db *DB) DeleteQueueEntryByWorkspace(workspaceID uuid.UUID) error {
	res, err := db.Exec(`DELETE FROM execution_queue WHERE workspace_id = ?`, workspaceID.String())
	if err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRowNotFound
	}
	return nil
}

// ListQueueEntries returns all queue entries oldest first.
func (db *DB) ListQueueEntries() ([]models.ExecutionQueueEntry, error) {
	rows, err := db.Query(`
		SELECT workspace_id, executor_profile, created_at FROM execution_queue
		ORDER BY created_at, workspace_id`)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []models.ExecutionQueueEntry
	for rows.Next() {
		var e models.ExecutionQueueEntry
		var wsStr, createdAt string
		if err := rows.Scan(&wsStr, &e.ExecutorProfile, &createdAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.WorkspaceID, _ = uuid.Parse(wsStr)
		e.CreatedAt, _ = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountQueueEntries returns the number of pending queue entries.
func (db *DB) CountQueueEntries() (int64, error) {
	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM execution_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queue entries: %w", err)
	}
	return count, nil
}
