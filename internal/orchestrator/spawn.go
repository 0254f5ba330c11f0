package orchestrator

import (
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/events"
	"github.com/outerlook/helmsman/internal/executor"
	"github.com/outerlook/helmsman/internal/state"
	"github.com/outerlook/helmsman/pkg/models"
)

// ErrWorkspaceBusy indicates a coding agent is already running in the
// workspace's worktree.
var ErrWorkspaceBusy = errors.New("workspace already has a running coding agent")

// spawnExecution launches an agent process, records its execution row,
// registers it with the approval registry, and starts the exit monitor.
func (o *Orchestrator) spawnExecution(session models.Session, runReason models.RunReason, action executor.Action) (models.ExecutionProcess, error) {
	if runReason == models.RunReasonCodingAgent {
		o.mu.Lock()
		if _, busy := o.runningCoding[session.WorkspaceID]; busy {
			o.mu.Unlock()
			return models.ExecutionProcess{}, fmt.Errorf("%w: %s", ErrWorkspaceBusy, session.WorkspaceID)
		}
		o.mu.Unlock()
	}

	result, err := o.adapter.Spawn(o.ctx, action)
	if err != nil {
		return models.ExecutionProcess{}, fmt.Errorf("spawn executor: %w", err)
	}

	process, err := o.db.CreateExecution(state.CreateExecutionParams{
		ID:             result.ProcessID,
		SessionID:      &session.ID,
		RunReason:      runReason,
		ExecutorAction: action.Serialize(),
	})
	if err != nil {
		o.adapter.Kill(result.ProcessID)
		return models.ExecutionProcess{}, fmt.Errorf("record execution: %w", err)
	}

	o.mu.Lock()
	o.stores[process.ID] = result.Store
	if runReason == models.RunReasonCodingAgent {
		o.runningCoding[session.WorkspaceID] = process.ID
	}
	o.mu.Unlock()

	o.approvals.RegisterMsgStore(process.ID, result.Store)
	if result.Peer != nil {
		o.approvals.RegisterPeer(process.ID, result.Peer)
	}

	// Persist the executor-side conversation id once known.
	if result.ConversationSession != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if sessionID, ok := <-result.ConversationSession; ok && sessionID != "" {
				if err := o.db.UpdateExecutionConversationSession(process.ID, sessionID); err != nil {
					log.Printf("[orchestrator] failed to record conversation session for %s: %v", process.ID, err)
				}
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.monitorExit(process, session, result)
	}()

	o.logger.Log("spawned %s execution %s (workspace %s)", runReason, process.ID, session.WorkspaceID)
	return process, nil
}

// monitorExit waits for the process to exit, persists the terminal
// transition, extracts token usage, releases the message store and
// fires ExecutionCompleted exactly once.
func (o *Orchestrator) monitorExit(process models.ExecutionProcess, session models.Session, result executor.SpawnResult) {
	exit := <-result.Done

	status := models.ExecutionStatusCompleted
	if exit.Err != nil || exit.ExitCode != 0 {
		status = models.ExecutionStatusFailed
	}

	updated, err := o.db.UpdateExecutionCompletion(process.ID, status, &exit.ExitCode)
	if errors.Is(err, state.ErrAlreadyTerminal) {
		// An operator kill already transitioned the row; keep it.
		updated, err = o.db.FindExecutionByID(process.ID)
	}
	if err != nil {
		log.Printf("[orchestrator] failed to record completion of %s: %v", process.ID, err)
		updated = process
		updated.Status = status
	}

	// Token usage is the only post-terminal mutation.
	if in, out, ok := result.Store.LastTokenUsage(); ok {
		if err := o.db.UpdateExecutionTokenUsage(process.ID, &in, &out); err != nil {
			log.Printf("[orchestrator] failed to record token usage of %s: %v", process.ID, err)
		}
	}

	if summary, ok := result.Store.LastAssistantMessage(4096); ok {
		o.mu.Lock()
		o.summaries[process.ID] = summary
		o.mu.Unlock()
	}

	result.Store.PushFinished()

	o.approvals.UnregisterPeer(process.ID)
	o.approvals.UnregisterMsgStore(process.ID)

	o.mu.Lock()
	delete(o.stores, process.ID)
	if current, ok := o.runningCoding[session.WorkspaceID]; ok && current == process.ID {
		delete(o.runningCoding, session.WorkspaceID)
	}
	o.mu.Unlock()

	taskID := o.taskIDFor(process.ID)
	o.logger.Log("execution %s finished with status %s (exit %d)", process.ID, updated.Status, exit.ExitCode)
	o.dispatcher.Dispatch(o.ctx, events.ExecutionCompleted{Process: updated, TaskID: taskID})
}

// taskIDFor resolves the owning task of an execution; zero when the
// process has no session context.
func (o *Orchestrator) taskIDFor(processID uuid.UUID) uuid.UUID {
	execCtx, err := o.db.LoadExecutionContext(processID)
	if err != nil {
		return uuid.Nil
	}
	return execCtx.Task.ID
}

// Kill stops a running execution. The row transitions to Killed first
// so the exit monitor preserves the operator's status; the monitor
// still fires ExecutionCompleted.
func (o *Orchestrator) Kill(processID uuid.UUID) error {
	if _, err := o.db.UpdateExecutionCompletion(processID, models.ExecutionStatusKilled, nil); err != nil {
		if !errors.Is(err, state.ErrAlreadyTerminal) {
			return err
		}
	}
	return o.adapter.Kill(processID)
}
