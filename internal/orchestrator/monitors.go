package orchestrator

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/events"
	"github.com/outerlook/helmsman/internal/executor"
	"github.com/outerlook/helmsman/internal/feedback"
	"github.com/outerlook/helmsman/internal/hooks"
	"github.com/outerlook/helmsman/internal/msgstore"
	"github.com/outerlook/helmsman/internal/review"
	"github.com/outerlook/helmsman/internal/state"
	"github.com/outerlook/helmsman/pkg/models"
)

// terminalPollInterval is how often follow-up monitors re-read the
// execution row while waiting for a terminal status.
const terminalPollInterval = 500 * time.Millisecond

// runFeedbackCollection spawns the feedback follow-up for a finished
// coding run and persists the parsed response.
func (o *Orchestrator) runFeedbackCollection(t events.FeedbackCollectionTrigger, execCtx models.ExecutionContext) {
	// Idempotence: the handler already checked, but the spawned work
	// re-reads authoritative state on entry.
	if _, err := o.db.FindAgentFeedbackByWorkspaceID(t.WorkspaceID); err == nil {
		return
	}

	hookID := o.hookStore.Begin(hooks.KindFeedbackCollection, t.TaskID, &t.WorkspaceID)

	action := o.followUpAction(execCtx, feedback.Prompt())
	process, err := o.spawnExecution(execCtx.Session, models.RunReasonInternalAgent, action)
	if err != nil {
		log.Printf("[orchestrator] failed to spawn feedback execution for workspace %s: %v", t.WorkspaceID, err)
		return
	}
	o.hookStore.LinkProcess(hookID, process.ID)

	store := o.storeFor(process.ID)

	final, err := o.awaitTerminal(process.ID)
	if err != nil {
		log.Printf("[orchestrator] feedback execution %s lost: %v", process.ID, err)
		return
	}
	if final.Status != models.ExecutionStatusCompleted {
		log.Printf("[orchestrator] feedback execution %s ended %s, skipping parse", process.ID, final.Status)
		return
	}

	message, ok := o.finalMessage(process.ID, store)
	if !ok {
		log.Printf("[orchestrator] no assistant message in feedback execution %s", process.ID)
		return
	}

	parsed, err := feedback.Parse(message)
	if err != nil {
		log.Printf("[orchestrator] feedback parse failed for execution %s: %v", process.ID, err)
		return
	}
	raw, err := parsed.RawJSON()
	if err != nil {
		log.Printf("[orchestrator] feedback encode failed for execution %s: %v", process.ID, err)
		return
	}

	_, err = o.db.CreateAgentFeedback(state.CreateAgentFeedbackParams{
		ExecutionProcessID: process.ID,
		TaskID:             t.TaskID,
		WorkspaceID:        t.WorkspaceID,
		FeedbackJSON:       &raw,
	})
	if errors.Is(err, state.ErrConflict) {
		// A concurrent run won; the uniqueness constraint is the
		// authoritative guard.
		return
	}
	if err != nil {
		log.Printf("[orchestrator] failed to store feedback for task %s: %v", t.TaskID, err)
		return
	}
	o.logger.Log("stored agent feedback for task %s", t.TaskID)

	// With feedback in hand the attempt moves to review.
	o.promoteToReview(t.TaskID)
}

// promoteToReview advances a task still in todo or in-progress to
// in-review.
func (o *Orchestrator) promoteToReview(taskID uuid.UUID) {
	task, err := o.db.FindTaskByID(taskID)
	if err != nil {
		log.Printf("[orchestrator] failed to load task %s for review promotion: %v", taskID, err)
		return
	}
	if task.Status != models.TaskStatusTodo && task.Status != models.TaskStatusInProgress {
		return
	}
	if _, err := o.db.UpdateTaskStatus(taskID, models.TaskStatusInReview); err != nil {
		log.Printf("[orchestrator] failed to promote task %s to review: %v", taskID, err)
	}
}

// runReviewAttention spawns the self-review follow-up and acts on the
// verdict: flag the task, or enqueue it for merge when autopilot is on.
func (o *Orchestrator) runReviewAttention(t events.ReviewAttentionTrigger, execCtx models.ExecutionContext) {
	cfg := o.cfg.Snapshot()

	summary := o.summaryFor(t.ExecutionProcessID)
	if summary == "" {
		if store := o.storeFor(t.ExecutionProcessID); store != nil {
			summary, _ = store.LastAssistantMessage(4096)
		}
	}
	description := execCtx.Task.Description
	if description == "" {
		description = execCtx.Task.Title
	}

	wsID := execCtx.Workspace.ID
	hookID := o.hookStore.Begin(hooks.KindReviewAttention, t.TaskID, &wsID)

	action := o.followUpAction(execCtx, review.Prompt(description, summary))
	action.Profile = executor.ParseProfile(cfg.ReviewAttentionExecutorProfile)

	process, err := o.spawnExecution(execCtx.Session, models.RunReasonInternalAgent, action)
	if err != nil {
		log.Printf("[orchestrator] failed to spawn review execution for task %s: %v", t.TaskID, err)
		return
	}
	o.hookStore.LinkProcess(hookID, process.ID)

	store := o.storeFor(process.ID)

	final, err := o.awaitTerminal(process.ID)
	if err != nil {
		log.Printf("[orchestrator] review execution %s lost: %v", process.ID, err)
		return
	}
	if final.Status != models.ExecutionStatusCompleted {
		log.Printf("[orchestrator] review execution %s ended %s, skipping parse", process.ID, final.Status)
		return
	}

	message, ok := o.finalMessage(process.ID, store)
	if !ok {
		log.Printf("[orchestrator] no assistant message in review execution %s", process.ID)
		return
	}

	result, err := review.Parse(message)
	if err != nil {
		log.Printf("[orchestrator] review parse failed for execution %s: %v", process.ID, err)
		return
	}

	verdict := result.NeedsAttention
	if err := o.db.UpdateTaskNeedsAttention(t.TaskID, &verdict); err != nil {
		log.Printf("[orchestrator] failed to record attention verdict for task %s: %v", t.TaskID, err)
		return
	}

	if result.NeedsAttention {
		o.logger.Log("task %s flagged for attention: %v", t.TaskID, result.Reasoning)
		return
	}
	if !cfg.AutopilotEnabled {
		return
	}

	o.enqueueForMerge(execCtx)
}

// enqueueForMerge builds the commit message and queues the workspace's
// repos for merging, then wakes the project's merge loop.
func (o *Orchestrator) enqueueForMerge(execCtx models.ExecutionContext) {
	cfg := o.cfg.Snapshot()

	message := o.commitMessage(cfg, execCtx.Task, execCtx.Workspace.ID)

	workspaceRepos, err := o.db.ListWorkspaceRepos(execCtx.Workspace.ID)
	if err != nil || len(workspaceRepos) == 0 {
		log.Printf("[orchestrator] no workspace repos for %s, cannot enqueue merge", execCtx.Workspace.ID)
		return
	}

	for _, wr := range workspaceRepos {
		o.queueStore.Enqueue(execCtx.Task.ProjectID, execCtx.Workspace.ID, wr.RepoID, message)
	}
	o.logger.Log("enqueued workspace %s for merge", execCtx.Workspace.ID)
	o.EnsureMergeLoop(execCtx.Task.ProjectID)
}

// followUpAction builds a follow-up action against the same executor
// conversation as the prior execution.
func (o *Orchestrator) followUpAction(execCtx models.ExecutionContext, prompt string) executor.Action {
	conversationID := ""
	if execCtx.Process.ConversationSessionID != nil {
		conversationID = *execCtx.Process.ConversationSessionID
	}

	workingDir := ""
	if execCtx.Workspace.AgentWorkingDir != nil {
		workingDir = *execCtx.Workspace.AgentWorkingDir
	} else if execCtx.Workspace.ContainerRef != nil {
		workingDir = *execCtx.Workspace.ContainerRef
	}

	return executor.Action{
		Kind:                  executor.KindFollowUp,
		Prompt:                prompt,
		ConversationSessionID: conversationID,
		Profile:               executor.ParseProfile(execCtx.Session.Executor),
		WorkingDir:            workingDir,
	}
}

// awaitTerminal polls the execution row until it reaches a terminal
// status or the orchestrator shuts down.
func (o *Orchestrator) awaitTerminal(processID uuid.UUID) (models.ExecutionProcess, error) {
	ticker := time.NewTicker(terminalPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return models.ExecutionProcess{}, o.ctx.Err()
		case <-ticker.C:
		}

		process, err := o.db.FindExecutionByID(processID)
		if err != nil {
			return models.ExecutionProcess{}, err
		}
		if process.Status.Terminal() {
			return process, nil
		}
	}
}

// finalMessage returns the execution's last assistant message, from the
// live store when still attached or from the summary cache after the
// exit monitor released it.
func (o *Orchestrator) finalMessage(processID uuid.UUID, store *msgstore.Store) (string, bool) {
	if store != nil {
		if msg, ok := store.LastAssistantMessage(4096); ok {
			return msg, true
		}
	}
	if msg := o.summaryFor(processID); msg != "" {
		return msg, true
	}
	return "", false
}
