package autopilot

import (
	"context"

	"github.com/outerlook/helmsman/internal/events"
)

// HookExecutionUpdaterHandler mirrors terminal execution statuses onto
// linked hook executions. It runs inline: the update is a quick
// in-memory write, and the handler itself must never be surfaced as a
// tracked hook execution.
type HookExecutionUpdaterHandler struct{}

// NewHookExecutionUpdaterHandler creates the handler.
func NewHookExecutionUpdaterHandler() *HookExecutionUpdaterHandler {
	return &HookExecutionUpdaterHandler{}
}

// Name implements events.Handler.
func (h *HookExecutionUpdaterHandler) Name() string { return "hook_execution_updater" }

// ExecutionMode implements events.Handler.
func (h *HookExecutionUpdaterHandler) ExecutionMode() events.ExecutionMode { return events.Inline }

// Handles matches every execution completion.
func (h *HookExecutionUpdaterHandler) Handles(event events.Event) bool {
	_, ok := event.(events.ExecutionCompleted)
	return ok
}

// Handle updates the hook execution linked to the completed process.
// A no-op when no hook store is wired or no hook links the process.
func (h *HookExecutionUpdaterHandler) Handle(_ context.Context, event events.Event, hctx *events.HandlerContext) error {
	completed, ok := event.(events.ExecutionCompleted)
	if !ok {
		return nil
	}
	if hctx.HookStore == nil {
		return nil
	}
	if completed.Process.CompletedAt == nil {
		return nil
	}

	hctx.HookStore.UpdateFromExecutionProcess(
		completed.Process.ID,
		completed.Process.Status,
		*completed.Process.CompletedAt,
	)
	return nil
}
