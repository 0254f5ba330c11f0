package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/outerlook/helmsman/internal/commitmsg"
	"github.com/outerlook/helmsman/internal/config"
	"github.com/outerlook/helmsman/internal/executor"
	"github.com/outerlook/helmsman/pkg/models"
)

// ProcessQueue drains the execution queue, spawning at most
// max_concurrent_agents workspaces concurrently (0 = unlimited). Each
// dequeue creates a session and a running execution process.
func (o *Orchestrator) ProcessQueue() {
	entries, err := o.db.ListQueueEntries()
	if err != nil {
		log.Printf("[orchestrator] failed to list execution queue: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	cfg := o.cfg.Snapshot()

	var group errgroup.Group
	if cfg.MaxConcurrentAgents > 0 {
		group.SetLimit(int(cfg.MaxConcurrentAgents))
	}

	for _, entry := range entries {
		entry := entry
		group.Go(func() error {
			if err := o.startQueued(entry); err != nil {
				log.Printf("[orchestrator] failed to start queued workspace %s: %v", entry.WorkspaceID, err)
			}
			// Queue errors never stop the drain.
			return nil
		})
	}
	group.Wait()
}

// startQueued starts the coding agent for one queue entry.
func (o *Orchestrator) startQueued(entry models.ExecutionQueueEntry) error {
	workspace, err := o.db.FindWorkspaceByID(entry.WorkspaceID)
	if err != nil {
		// The workspace is gone; drop the stale entry.
		o.db.DeleteQueueEntryByWorkspace(entry.WorkspaceID)
		return fmt.Errorf("load workspace: %w", err)
	}
	task, err := o.db.FindTaskByID(workspace.TaskID)
	if err != nil {
		o.db.DeleteQueueEntryByWorkspace(entry.WorkspaceID)
		return fmt.Errorf("load task: %w", err)
	}

	o.mu.Lock()
	_, busy := o.runningCoding[workspace.ID]
	o.mu.Unlock()
	if busy {
		// Leave the entry queued; a later drain picks it up.
		return nil
	}

	if err := o.db.DeleteQueueEntryByWorkspace(entry.WorkspaceID); err != nil {
		return fmt.Errorf("dequeue workspace: %w", err)
	}

	session, err := o.db.CreateSession(workspace.ID, entry.ExecutorProfile)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	workingDir := ""
	if workspace.AgentWorkingDir != nil {
		workingDir = *workspace.AgentWorkingDir
	} else if workspace.ContainerRef != nil {
		workingDir = *workspace.ContainerRef
	}

	action := executor.Action{
		Kind:       executor.KindInitialPrompt,
		Prompt:     taskPrompt(task),
		Profile:    executor.ParseProfile(entry.ExecutorProfile),
		WorkingDir: workingDir,
	}

	if _, err := o.spawnExecution(session, models.RunReasonCodingAgent, action); err != nil {
		return err
	}

	if _, err := o.db.UpdateTaskStatus(task.ID, models.TaskStatusInProgress); err != nil {
		log.Printf("[orchestrator] failed to move task %s to in_progress: %v", task.ID, err)
	}
	return nil
}

// taskPrompt builds the initial prompt for a coding run.
func taskPrompt(task models.Task) string {
	if task.Description == "" {
		return task.Title
	}
	return task.Title + "\n\n" + task.Description
}

// commitMessage resolves the merge commit message for a task, using
// the commit-message agent when enabled and falling back to the
// default template.
func (o *Orchestrator) commitMessage(cfg config.Config, task models.Task, workspaceID uuid.UUID) string {
	fallback := commitmsg.DefaultMessage(task, workspaceID)
	if !cfg.CommitMessageAutoGenerateEnabled {
		return fallback
	}

	generator, err := commitmsg.NewGenerator("", cfg.CommitMessageExecutorProfile)
	if err != nil {
		log.Printf("[orchestrator] commit-message agent unavailable: %v", err)
		return fallback
	}

	ctx, cancel := context.WithTimeout(o.ctx, 30*time.Second)
	defer cancel()
	message, err := generator.Generate(ctx, cfg.CommitMessagePrompt, task)
	if err != nil {
		log.Printf("[orchestrator] commit-message generation failed: %v", err)
		return fallback
	}
	return message
}
