package models

import (
	"time"

	"github.com/google/uuid"
)

// RunReason classifies why an execution process was started.
type RunReason string

const (
	// RunReasonCodingAgent is the primary agent working on the task.
	RunReasonCodingAgent RunReason = "coding_agent"
	// RunReasonSetupScript prepares a freshly created workspace.
	RunReasonSetupScript RunReason = "setup_script"
	// RunReasonCleanupScript tears a workspace down.
	RunReasonCleanupScript RunReason = "cleanup_script"
	// RunReasonInternalAgent is a follow-up run driven by the engine
	// itself (feedback collection, review attention).
	RunReasonInternalAgent RunReason = "internal_agent"
	// RunReasonDevServer is a long-running dev server for the workspace.
	RunReasonDevServer RunReason = "dev_server"
	// RunReasonDisposableConversation is a one-off conversation that is
	// not bound to a workspace.
	RunReasonDisposableConversation RunReason = "disposable_conversation"
)

// Valid returns true if the run reason is a known value.
func (r RunReason) Valid() bool {
	switch r {
	case RunReasonCodingAgent, RunReasonSetupScript, RunReasonCleanupScript,
		RunReasonInternalAgent, RunReasonDevServer, RunReasonDisposableConversation:
		return true
	default:
		return false
	}
}

// ExecutionStatus represents the state of an execution process.
type ExecutionStatus string

const (
	// ExecutionStatusRunning indicates the process is alive.
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusCompleted indicates the process exited cleanly.
	ExecutionStatusCompleted ExecutionStatus = "completed"
	// ExecutionStatusFailed indicates the process exited with an error.
	ExecutionStatusFailed ExecutionStatus = "failed"
	// ExecutionStatusKilled indicates the process was stopped by an operator.
	ExecutionStatusKilled ExecutionStatus = "killed"
)

// Terminal returns true for statuses an execution can never leave.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusKilled
}

// ExecutionProcess is one agent (or script) run tracked by the engine.
// It is created Running and transitions exactly once to a terminal status;
// after that only the token counts may change.
type ExecutionProcess struct {
	// ID is the unique identifier for this process.
	ID uuid.UUID `json:"id"`
	// SessionID binds the process to an agent session, when applicable.
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	// ConversationSessionID is the executor-side conversation id.
	ConversationSessionID *string `json:"conversation_session_id,omitempty"`
	// RunReason classifies the process.
	RunReason RunReason `json:"run_reason"`
	// ExecutorAction is the serialized action the process was spawned with.
	ExecutorAction string `json:"executor_action"`
	// Status is the current process state.
	Status ExecutionStatus `json:"status"`
	// ExitCode is the process exit code once terminal.
	ExitCode *int64 `json:"exit_code,omitempty"`
	// Dropped is true when the process was discarded before producing
	// observable results.
	Dropped bool `json:"dropped"`
	// InputTokens is the total input token count reported by the executor.
	InputTokens *int64 `json:"input_tokens,omitempty"`
	// OutputTokens is the total output token count reported by the executor.
	OutputTokens *int64 `json:"output_tokens,omitempty"`
	// StartedAt is when the process was spawned.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the process reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// CreatedAt is when the row was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the row was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutionContext joins a process to its session, workspace and task.
type ExecutionContext struct {
	// Process is the execution process itself.
	Process ExecutionProcess `json:"process"`
	// Session is the owning session.
	Session Session `json:"session"`
	// Workspace is the workspace the session operates in.
	Workspace Workspace `json:"workspace"`
	// Task is the task the workspace belongs to.
	Task Task `json:"task"`
}

// ExecutionQueueEntry is pending work for the orchestrator. At most one
// entry exists per workspace.
type ExecutionQueueEntry struct {
	// WorkspaceID is the workspace to start an agent in.
	WorkspaceID uuid.UUID `json:"workspace_id"`
	// ExecutorProfile is the serialized executor profile to spawn with.
	ExecutorProfile string `json:"executor_profile"`
	// CreatedAt is when the entry was queued.
	CreatedAt time.Time `json:"created_at"`
}

// AgentFeedback is the structured feedback an agent returned after
// finishing a task. At most one row exists per workspace.
type AgentFeedback struct {
	// ID is the unique identifier for this feedback record.
	ID uuid.UUID `json:"id"`
	// ExecutionProcessID is the feedback-collection execution.
	ExecutionProcessID uuid.UUID `json:"execution_process_id"`
	// TaskID is the task the feedback is about.
	TaskID uuid.UUID `json:"task_id"`
	// WorkspaceID is the attempt the feedback is about.
	WorkspaceID uuid.UUID `json:"workspace_id"`
	// FeedbackJSON is the raw JSON document the agent produced.
	FeedbackJSON *string `json:"feedback_json,omitempty"`
	// CreatedAt is when the feedback was recorded.
	CreatedAt time.Time `json:"created_at"`
}
