package autopilot

import (
	"context"
	"errors"
	"log"

	"github.com/outerlook/helmsman/internal/events"
	"github.com/outerlook/helmsman/internal/state"
	"github.com/outerlook/helmsman/pkg/models"
)

// ReviewAttentionHandler asks the agent to judge its own work when a
// task enters review. The verdict drives either an attention flag or,
// with autopilot enabled, a merge-queue entry.
type ReviewAttentionHandler struct{}

// NewReviewAttentionHandler creates the handler.
func NewReviewAttentionHandler() *ReviewAttentionHandler {
	return &ReviewAttentionHandler{}
}

// Name implements events.Handler.
func (h *ReviewAttentionHandler) Name() string { return "review_attention" }

// ExecutionMode implements events.Handler.
func (h *ReviewAttentionHandler) ExecutionMode() events.ExecutionMode { return events.Spawned }

// Handles matches tasks entering review.
func (h *ReviewAttentionHandler) Handles(event events.Event) bool {
	changed, ok := event.(events.TaskStatusChanged)
	return ok && changed.Task.Status == models.TaskStatusInReview
}

// Handle triggers the review execution when the pass is configured and
// the task has at least one workspace.
func (h *ReviewAttentionHandler) Handle(ctx context.Context, event events.Event, hctx *events.HandlerContext) error {
	changed, ok := event.(events.TaskStatusChanged)
	if !ok {
		return nil
	}
	task := changed.Task

	if hctx.Config.Snapshot().ReviewAttentionExecutorProfile == "" {
		return nil
	}

	if _, err := hctx.DB.FindLatestWorkspaceByTaskID(task.ID); err != nil {
		if errors.Is(err, state.ErrRowNotFound) {
			// A task without an attempt has nothing to review.
			return nil
		}
		return err
	}

	latest, err := hctx.DB.FindLatestExecutionForTask(task.ID, models.RunReasonCodingAgent)
	if err != nil {
		if errors.Is(err, state.ErrRowNotFound) {
			log.Printf("[autopilot] task %s entered review without a coding execution, skipping review pass", task.ID)
			return nil
		}
		return err
	}

	trigger := hctx.ExecutionTrigger()
	if trigger == nil {
		return nil
	}

	err = trigger(ctx, events.ReviewAttentionTrigger{
		TaskID:             task.ID,
		ExecutionProcessID: latest.ID,
	})
	if err != nil {
		log.Printf("[autopilot] failed to trigger review attention for task %s: %v", task.ID, err)
	}
	return nil
}
