// Package autopilot contains the event handlers that drive the
// autopilot pipeline: feedback collection, review attention, dependent
// auto-dequeue, and hook-execution telemetry.
package autopilot

import (
	"context"
	"errors"
	"log"

	"github.com/outerlook/helmsman/internal/events"
	"github.com/outerlook/helmsman/internal/state"
	"github.com/outerlook/helmsman/pkg/models"
)

// FeedbackCollectionHandler asks the agent for structured feedback
// after a coding run completes. The orchestrator spawns the follow-up
// execution and persists the parsed result; the handler only decides
// whether to trigger it.
type FeedbackCollectionHandler struct{}

// NewFeedbackCollectionHandler creates the handler.
func NewFeedbackCollectionHandler() *FeedbackCollectionHandler {
	return &FeedbackCollectionHandler{}
}

// Name implements events.Handler.
func (h *FeedbackCollectionHandler) Name() string { return "feedback_collection" }

// ExecutionMode implements events.Handler.
func (h *FeedbackCollectionHandler) ExecutionMode() events.ExecutionMode { return events.Spawned }

// Handles matches successfully completed coding-agent executions.
func (h *FeedbackCollectionHandler) Handles(event events.Event) bool {
	completed, ok := event.(events.ExecutionCompleted)
	if !ok {
		return false
	}
	return completed.Process.Status == models.ExecutionStatusCompleted &&
		completed.Process.RunReason == models.RunReasonCodingAgent
}

// Handle triggers feedback collection unless feedback already exists
// for the workspace.
func (h *FeedbackCollectionHandler) Handle(ctx context.Context, event events.Event, hctx *events.HandlerContext) error {
	completed, ok := event.(events.ExecutionCompleted)
	if !ok {
		return nil
	}

	execCtx, err := hctx.DB.LoadExecutionContext(completed.Process.ID)
	if err != nil {
		log.Printf("[autopilot] failed to load context for process %s: %v", completed.Process.ID, err)
		return nil
	}

	_, err = hctx.DB.FindAgentFeedbackByWorkspaceID(execCtx.Workspace.ID)
	if err == nil {
		// Feedback already collected for this attempt.
		return nil
	}
	if !errors.Is(err, state.ErrRowNotFound) {
		return err
	}

	trigger := hctx.ExecutionTrigger()
	if trigger == nil {
		log.Printf("[autopilot] no execution trigger wired, skipping feedback for workspace %s", execCtx.Workspace.ID)
		return nil
	}

	err = trigger(ctx, events.FeedbackCollectionTrigger{
		WorkspaceID:        execCtx.Workspace.ID,
		TaskID:             execCtx.Task.ID,
		ExecutionProcessID: completed.Process.ID,
	})
	if err != nil {
		log.Printf("[autopilot] failed to trigger feedback collection for workspace %s: %v", execCtx.Workspace.ID, err)
	}
	return nil
}
