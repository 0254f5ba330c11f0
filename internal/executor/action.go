package executor

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/approval"
	"github.com/outerlook/helmsman/internal/msgstore"
)

// ActionKind distinguishes fresh conversations from follow-ups.
type ActionKind string

const (
	// KindInitialPrompt starts a new agent conversation.
	KindInitialPrompt ActionKind = "initial_prompt"
	// KindFollowUp continues an existing conversation.
	KindFollowUp ActionKind = "follow_up"
)

// Action describes one executor run.
type Action struct {
	// Kind selects initial prompt vs follow-up.
	Kind ActionKind `json:"kind"`
	// Prompt is the message sent to the agent.
	Prompt string `json:"prompt"`
	// ConversationSessionID resumes the executor-side conversation for
	// follow-ups.
	ConversationSessionID string `json:"conversation_session_id,omitempty"`
	// Profile selects the executor launch command.
	Profile Profile `json:"-"`
	// ProfileID is the serialized profile for persistence.
	ProfileID string `json:"profile"`
	// WorkingDir is the directory the agent runs in.
	WorkingDir string `json:"working_dir,omitempty"`
}

// Serialize returns the JSON document stored on the execution row.
func (a Action) Serialize() string {
	a.ProfileID = a.Profile.String()
	data, err := json.Marshal(a)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ExitResult reports how a spawned process ended.
type ExitResult struct {
	// ExitCode is the process exit code; -1 when unknown.
	ExitCode int64
	// Err is the spawn-side error, if any.
	Err error
}

// SpawnResult is everything the orchestrator needs to track a spawned
// execution.
type SpawnResult struct {
	// ProcessID is the adapter-assigned execution process id.
	ProcessID uuid.UUID
	// Store receives the process's normalized output.
	Store *msgstore.Store
	// Peer injects tool results back into the agent; nil for executors
	// without a control channel.
	Peer approval.ProtocolPeer
	// ConversationSession delivers the executor-side session id once
	// known; the channel is buffered and closed after at most one send.
	ConversationSession <-chan string
	// Done fires exactly once when the process exits.
	Done <-chan ExitResult
}

// Adapter launches and kills coding-agent processes.
type Adapter interface {
	// Spawn starts a process for the action. The context bounds the
	// process lifetime, not the call.
	Spawn(ctx context.Context, action Action) (SpawnResult, error)
	// Kill signals the process to stop. The Done channel still fires.
	Kill(processID uuid.UUID) error
}
