// Package approval implements the tool-approval and user-question state
// machine. Every agent tool invocation that needs human mediation enters
// here: the registry matches the tool call to its conversation entry,
// parks a shared waiter, and resolves it by user response or timeout.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/msgstore"
)

// ErrNotFound indicates no approval with the given id is pending.
var ErrNotFound = errors.New("approval request not found")

// ErrAlreadyCompleted indicates the approval already resolved.
var ErrAlreadyCompleted = errors.New("approval request already completed")

// ErrNoToolUseEntry indicates the matching tool-use conversation entry
// could not be located. Rare; callers warn and continue.
var ErrNoToolUseEntry = errors.New("no tool use entry for approval request")

// ErrServiceUnavailable indicates the registry is not wired.
var ErrServiceUnavailable = errors.New("approval service unavailable")

// DefaultTimeout is how long an approval waits before timing out.
const DefaultTimeout = 20 * time.Minute

// StatusKind enumerates the terminal and pending approval states.
type StatusKind string

const (
	// StatusPending means no decision has been recorded yet.
	StatusPending StatusKind = "pending"
	// StatusApproved means the user allowed the tool call.
	StatusApproved StatusKind = "approved"
	// StatusAnswered means the user allowed the call and supplied
	// answers to the agent's questions.
	StatusAnswered StatusKind = "answered"
	// StatusDenied means the user rejected the tool call.
	StatusDenied StatusKind = "denied"
	// StatusTimedOut means no decision arrived before the deadline.
	StatusTimedOut StatusKind = "timed_out"
)

// Answer is the user's response to one question.
type Answer struct {
	QuestionIndex   int    `json:"question_index"`
	SelectedIndices []int  `json:"selected_indices"`
	OtherText       string `json:"other_text,omitempty"`
}

// Status is the recorded outcome of an approval.
type Status struct {
	Kind    StatusKind `json:"kind"`
	Answers []Answer   `json:"answers,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// Terminal reports whether the status ends the approval lifecycle.
func (s Status) Terminal() bool {
	return s.Kind != StatusPending && s.Kind != ""
}

// toolState maps a terminal approval status onto the tool-use entry
// state. Approved and Answered both return the tool to Created, which
// the executor treats as "proceed".
func (s Status) toolState() (msgstore.ToolStatus, bool) {
	switch s.Kind {
	case StatusApproved, StatusAnswered:
		return msgstore.ToolStatus{State: msgstore.ToolCreated}, true
	case StatusDenied:
		return msgstore.ToolStatus{State: msgstore.ToolDenied, DenyReason: s.Reason}, true
	case StatusTimedOut:
		return msgstore.ToolStatus{State: msgstore.ToolTimedOut}, true
	default:
		return msgstore.ToolStatus{}, false
	}
}

// RequestType distinguishes plain tool approvals from user questions.
type RequestType string

const (
	// TypeToolApproval is a yes/no decision on a tool call.
	TypeToolApproval RequestType = "tool_approval"
	// TypeUserQuestion asks the user to answer structured questions.
	TypeUserQuestion RequestType = "user_question"
)

// Request is an incoming approval request from the executor adapter.
type Request struct {
	// ID is the approval id; generated when empty.
	ID string
	// ExecutionProcessID is the process the tool call belongs to.
	ExecutionProcessID uuid.UUID
	// ToolCallID is the executor-assigned call id used for matching.
	ToolCallID string
	// Type distinguishes approvals from questions.
	Type RequestType
	// ToolName is the tool being invoked (tool approvals).
	ToolName string
	// ToolInput is the serialized tool input (tool approvals).
	ToolInput string
	// Questions are the questions to pose (user questions).
	Questions []msgstore.Question
	// CreatedAt is when the request arrived; defaults to now.
	CreatedAt time.Time
	// TimeoutAt is the decision deadline; defaults to DefaultTimeout.
	TimeoutAt time.Time
}

// Response is the user's decision for a pending approval.
type Response struct {
	// Kind is the user's choice: approved or denied.
	Kind StatusKind `json:"kind"`
	// Answers are the question answers; non-empty answers promote an
	// approved response to Answered.
	Answers []Answer `json:"answers,omitempty"`
	// Reason annotates denials.
	Reason string `json:"reason,omitempty"`
}

// ToolContext identifies the tool call an approval resolved for.
type ToolContext struct {
	ToolName           string
	ToolCallID         string
	ExecutionProcessID uuid.UUID
}

// Waiter is a shared, multi-consumer future resolving to the final
// approval status. Every clone of the waiter observes the same value;
// dropping all consumers does not prevent the outcome from being
// recorded.
type Waiter struct {
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	status Status
}

func newWaiter() *Waiter {
	return &Waiter{done: make(chan struct{})}
}

// resolve records the status exactly once.
func (w *Waiter) resolve(status Status) {
	w.once.Do(func() {
		w.mu.Lock()
		w.status = status
		w.mu.Unlock()
		close(w.done)
	})
}

// Done returns a channel closed when the waiter resolves.
func (w *Waiter) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the waiter resolves or the context is cancelled.
func (w *Waiter) Wait(ctx context.Context) (Status, error) {
	select {
	case <-w.done:
		w.mu.RLock()
		defer w.mu.RUnlock()
		return w.status, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Status returns the resolved status, or pending when unresolved.
func (w *Waiter) Status() Status {
	select {
	case <-w.done:
		w.mu.RLock()
		defer w.mu.RUnlock()
		return w.status
	default:
		return Status{Kind: StatusPending}
	}
}
