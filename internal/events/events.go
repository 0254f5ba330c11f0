// Package events provides the domain-event bus: the closed event set,
// the handler registry, and the dispatcher that routes events to inline
// and spawned handlers in deterministic order.
package events

import (
	"github.com/google/uuid"

	"github.com/outerlook/helmsman/pkg/models"
)

// Event is a domain event. The set is closed; handlers type-switch on
// the concrete types below.
type Event interface {
	// EventName returns a stable name for logging.
	EventName() string
}

// TaskStatusChanged fires after a task transitions between statuses.
type TaskStatusChanged struct {
	// Task is the task after the transition, with materialized columns.
	Task models.Task
	// PreviousStatus is the status before the transition.
	PreviousStatus models.TaskStatus
}

// EventName implements Event.
func (TaskStatusChanged) EventName() string { return "task_status_changed" }

// WorkspaceCreated fires after a workspace row is inserted.
type WorkspaceCreated struct {
	// Workspace is the newly created workspace.
	Workspace models.Workspace
}

// EventName implements Event.
func (WorkspaceCreated) EventName() string { return "workspace_created" }

// ExecutionCompleted fires exactly once when an execution process
// reaches a terminal status.
type ExecutionCompleted struct {
	// Process is the execution process after its terminal transition.
	Process models.ExecutionProcess
	// TaskID is the owning task, when the process has one.
	TaskID uuid.UUID
}

// EventName implements Event.
func (ExecutionCompleted) EventName() string { return "execution_completed" }

// ExecutionTrigger asks the orchestrator to start work. Handlers send
// triggers through the callback on HandlerContext; the callback is
// non-blocking and surfaces only validation errors synchronously.
type ExecutionTrigger interface {
	// TriggerName returns a stable name for logging.
	TriggerName() string
}

// FeedbackCollectionTrigger requests a feedback-collection execution.
type FeedbackCollectionTrigger struct {
	WorkspaceID        uuid.UUID
	TaskID             uuid.UUID
	ExecutionProcessID uuid.UUID
}

// TriggerName implements ExecutionTrigger.
func (FeedbackCollectionTrigger) TriggerName() string { return "feedback_collection" }

// ReviewAttentionTrigger requests a review-attention execution.
type ReviewAttentionTrigger struct {
	TaskID             uuid.UUID
	ExecutionProcessID uuid.UUID
}

// TriggerName implements ExecutionTrigger.
func (ReviewAttentionTrigger) TriggerName() string { return "review_attention" }

// ProcessQueueTrigger asks the orchestrator to drain the execution queue.
type ProcessQueueTrigger struct{}

// TriggerName implements ExecutionTrigger.
func (ProcessQueueTrigger) TriggerName() string { return "process_queue" }
