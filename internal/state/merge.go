package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/pkg/models"
)

// CreateMerge records a successful merge of a workspace branch.
func (db *DB) CreateMerge(workspaceID, repoID uuid.UUID, targetBranch, commitSHA string) (models.Merge, error) {
	m := models.Merge{
		WorkspaceID:  workspaceID,
		RepoID:       repoID,
		TargetBranch: targetBranch,
		CommitSHA:    commitSHA,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := db.Exec(`
		INSERT INTO merges (workspace_id, repo_id, target_branch, commit_sha, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.WorkspaceID.String(), m.RepoID.String(), m.TargetBranch, m.CommitSHA, formatTime(m.CreatedAt))
	if isConstraintViolation(err) {
		return models.Merge{}, ErrConflict
	}
	if err != nil {
		return models.Merge{}, fmt.Errorf("create merge: %w", err)
	}
	return m, nil
}

// FindMergesByWorkspaceID returns all merges recorded for a workspace,
// oldest first.
func (db *DB) FindMergesByWorkspaceID(workspaceID uuid.UUID) ([]models.Merge, error) {
	rows, err := db.Query(`
		SELECT workspace_id, repo_id, target_branch, commit_sha, created_at
		FROM merges WHERE workspace_id = ? ORDER BY created_at, rowid`, workspaceID.String())
	if err != nil {
		return nil, fmt.Errorf("find merges: %w", err)
	}
	defer rows.Close()

	var merges []models.Merge
	for rows.Next() {
		var m models.Merge
		var wsStr, repoStr, createdAt string
		if err := rows.Scan(&wsStr, &repoStr, &m.TargetBranch, &m.CommitSHA, &createdAt); err != nil {
			return nil, fmt.Errorf("scan merge: %w", err)
		}
		m.WorkspaceID, _ = uuid.Parse(wsStr)
		m.RepoID, _ = uuid.Parse(repoStr)
		m.CreatedAt, _ = parseTime(createdAt)
		merges = append(merges, m)
	}
	return merges, rows.Err()
}
