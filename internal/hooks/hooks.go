// Package hooks tracks autopilot hook executions for UI telemetry.
// The store links a hook run (feedback collection, review attention,
// autopilot dequeue) to the execution process it spawned so observers
// see real duration and outcome rather than the handler's fire-and-forget
// completion.
package hooks

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/msgstore"
	"github.com/outerlook/helmsman/pkg/models"
)

// Kind identifies which autopilot hook ran.
type Kind string

const (
	// KindFeedbackCollection is the post-completion feedback pass.
	KindFeedbackCollection Kind = "feedback_collection"
	// KindReviewAttention is the self-review pass.
	KindReviewAttention Kind = "review_attention"
	// KindAutopilot is the dependent auto-dequeue pass.
	KindAutopilot Kind = "autopilot"
)

// Status is the lifecycle state of a hook execution.
type Status string

const (
	// StatusStarted means the hook fired and may have spawned work.
	StatusStarted Status = "started"
	// StatusCompleted means the linked execution completed.
	StatusCompleted Status = "completed"
	// StatusFailed means the linked execution failed.
	StatusFailed Status = "failed"
	// StatusKilled means the linked execution was killed.
	StatusKilled Status = "killed"
)

// Execution is one tracked hook run.
type Execution struct {
	// ID is the unique identifier for this hook execution.
	ID uuid.UUID `json:"id"`
	// Hook identifies which hook ran.
	Hook Kind `json:"hook"`
	// TaskID is the task the hook acted on.
	TaskID uuid.UUID `json:"task_id"`
	// WorkspaceID is the workspace the hook acted on, when applicable.
	WorkspaceID *uuid.UUID `json:"workspace_id,omitempty"`
	// ExecutionProcessID is the spawned process, once linked.
	ExecutionProcessID *uuid.UUID `json:"execution_process_id,omitempty"`
	// Status is the current state.
	Status Status `json:"status"`
	// StartedAt is when the hook fired.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt mirrors the linked process's completion time.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Store is the in-memory registry of hook executions. It is a
// process-wide singleton initialized at startup.
type Store struct {
	mu        sync.RWMutex
	byID      map[uuid.UUID]*Execution
	byProcess map[uuid.UUID]uuid.UUID
	msgStore  *msgstore.Store
}

// NewStore creates an empty store mirroring changes into msgStore.
func NewStore(msgStore *msgstore.Store) *Store {
	return &Store{
		byID:      make(map[uuid.UUID]*Execution),
		byProcess: make(map[uuid.UUID]uuid.UUID),
		msgStore:  msgStore,
	}
}

// Begin records a new hook execution in Started state.
func (s *Store) Begin(hook Kind, taskID uuid.UUID, workspaceID *uuid.UUID) uuid.UUID {
	exec := &Execution{
		ID:          uuid.New(),
		Hook:        hook,
		TaskID:      taskID,
		WorkspaceID: workspaceID,
		Status:      StatusStarted,
		StartedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.byID[exec.ID] = exec
	snapshot := *exec
	s.mu.Unlock()

	s.broadcast(msgstore.OpAdd, snapshot)
	return exec.ID
}

// LinkProcess associates a spawned execution process with a hook run.
func (s *Store) LinkProcess(hookExecID, processID uuid.UUID) {
	s.mu.Lock()
	exec, ok := s.byID[hookExecID]
	if !ok {
		s.mu.Unlock()
		return
	}
	pid := processID
	exec.ExecutionProcessID = &pid
	s.byProcess[processID] = hookExecID
	snapshot := *exec
	s.mu.Unlock()

	s.broadcast(msgstore.OpReplace, snapshot)
}

// UpdateFromExecutionProcess mirrors the terminal status of a linked
// process onto its hook execution. A no-op when no hook is linked.
func (s *Store) UpdateFromExecutionProcess(processID uuid.UUID, status models.ExecutionStatus, completedAt time.Time) {
	s.mu.Lock()
	hookID, ok := s.byProcess[processID]
	if !ok {
		s.mu.Unlock()
		return
	}
	exec := s.byID[hookID]
	switch status {
	case models.ExecutionStatusCompleted:
		exec.Status = StatusCompleted
	case models.ExecutionStatusFailed:
		exec.Status = StatusFailed
	case models.ExecutionStatusKilled:
		exec.Status = StatusKilled
	default:
		s.mu.Unlock()
		return
	}
	at := completedAt
	exec.CompletedAt = &at
	snapshot := *exec
	s.mu.Unlock()

	s.broadcast(msgstore.OpReplace, snapshot)
}

// Get returns a hook execution by id.
func (s *Store) Get(id uuid.UUID) (Execution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.byID[id]
	if !ok {
		return Execution{}, false
	}
	return *exec, true
}

// ListByTask returns all hook executions recorded for a task.
func (s *Store) ListByTask(taskID uuid.UUID) []Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Execution
	for _, exec := range s.byID {
		if exec.TaskID == taskID {
			out = append(out, *exec)
		}
	}
	return out
}

func (s *Store) broadcast(op msgstore.PatchOp, exec Execution) {
	if s.msgStore == nil {
		return
	}
	s.msgStore.PushState(op, "/hook_executions/"+exec.ID.String(), exec)
}
