// Package msgstore provides the per-execution broadcast of structured
// log entries and the JSON-patch stream observers consume.
package msgstore

import (
	"strings"
	"sync"
	"time"

	"github.com/outerlook/helmsman/internal/text"
)

// LogKind classifies a log message.
type LogKind string

const (
	// KindStdout is a raw stdout line from the executor process.
	KindStdout LogKind = "stdout"
	// KindStderr is a raw stderr line from the executor process.
	KindStderr LogKind = "stderr"
	// KindJSONPatch carries a conversation or state patch.
	KindJSONPatch LogKind = "json_patch"
	// KindFinished marks the end of the stream.
	KindFinished LogKind = "finished"
)

// PatchOp is a JSON-patch operation.
type PatchOp string

const (
	// OpAdd appends a new entry or document node.
	OpAdd PatchOp = "add"
	// OpReplace replaces an existing entry or document node.
	OpReplace PatchOp = "replace"
	// OpRemove removes an entry or document node.
	OpRemove PatchOp = "remove"
)

// EntryType classifies a normalized conversation entry.
type EntryType string

const (
	// EntryAssistantMessage is prose produced by the agent.
	EntryAssistantMessage EntryType = "assistant_message"
	// EntryToolUse is a single tool invocation.
	EntryToolUse EntryType = "tool_use"
	// EntryTokenUsage reports cumulative token counts.
	EntryTokenUsage EntryType = "token_usage"
	// EntrySystemMessage is an executor-side informational message.
	EntrySystemMessage EntryType = "system_message"
)

// ToolState is the approval-relevant state of a tool-use entry.
type ToolState string

const (
	// ToolCreated means the invocation exists and is unassigned.
	// A tool returned to Created after approval means "proceed".
	ToolCreated ToolState = "created"
	// ToolPendingApproval means the invocation waits for a yes/no.
	ToolPendingApproval ToolState = "pending_approval"
	// ToolPendingUserInput means the invocation waits for answers.
	ToolPendingUserInput ToolState = "pending_user_input"
	// ToolDenied means the user rejected the invocation.
	ToolDenied ToolState = "denied"
	// ToolTimedOut means no answer arrived before the deadline.
	ToolTimedOut ToolState = "timed_out"
)

// Question is one question posed to the user by the agent.
type Question struct {
	Question    string           `json:"question"`
	Header      string           `json:"header,omitempty"`
	MultiSelect bool             `json:"multi_select"`
	Options     []QuestionOption `json:"options"`
}

// QuestionOption is one selectable answer.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// ToolStatus carries the state of a tool-use entry plus the approval
// bookkeeping attached while it is pending.
type ToolStatus struct {
	State       ToolState  `json:"state"`
	ApprovalID  string     `json:"approval_id,omitempty"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	TimeoutAt   *time.Time `json:"timeout_at,omitempty"`
	Questions   []Question `json:"questions,omitempty"`
	DenyReason  string     `json:"deny_reason,omitempty"`
}

// NormalizedEntry is one normalized conversation entry.
type NormalizedEntry struct {
	// Timestamp is when the entry was produced, if known.
	Timestamp *time.Time `json:"timestamp,omitempty"`
	// Type classifies the entry.
	Type EntryType `json:"type"`
	// Content is the display text of the entry.
	Content string `json:"content,omitempty"`
	// ToolName is set for tool-use entries.
	ToolName string `json:"tool_name,omitempty"`
	// ActionType describes the tool action, e.g. "file_read".
	ActionType string `json:"action_type,omitempty"`
	// ToolStatus is set for tool-use entries.
	ToolStatus *ToolStatus `json:"tool_status,omitempty"`
	// InputTokens is set for token-usage entries.
	InputTokens int64 `json:"input_tokens,omitempty"`
	// OutputTokens is set for token-usage entries.
	OutputTokens int64 `json:"output_tokens,omitempty"`
	// ToolCallID is the executor-assigned id used for approval matching.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// WithToolState returns a copy of the entry with the tool status
// replaced. Returns false when the entry is not a tool use.
func (e NormalizedEntry) WithToolState(status ToolStatus) (NormalizedEntry, bool) {
	if e.Type != EntryToolUse {
		return e, false
	}
	copied := e
	copied.ToolStatus = &status
	return copied, true
}

// ConversationPatch mutates the normalized conversation at an index.
type ConversationPatch struct {
	Op    PatchOp          `json:"op"`
	Index int              `json:"index"`
	Entry *NormalizedEntry `json:"entry,omitempty"`
}

// StatePatch mutates an arbitrary logical document path. It mirrors
// in-memory registries (merge queue, approvals, hook executions) to
// observers.
type StatePatch struct {
	Op    PatchOp `json:"op"`
	Path  string  `json:"path"`
	Value any     `json:"value,omitempty"`
}

// LogMsg is one message in a store's history.
type LogMsg struct {
	Kind         LogKind            `json:"kind"`
	Line         string             `json:"line,omitempty"`
	Conversation *ConversationPatch `json:"conversation,omitempty"`
	State        *StatePatch        `json:"state,omitempty"`
}

// Store is a single-writer broadcast of log messages with retained
// history. Subscribers receive every message pushed after they attach;
// History exposes everything pushed so far.
type Store struct {
	mu       sync.RWMutex
	history  []LogMsg
	subs     map[int]chan LogMsg
	nextSub  int
	finished bool
}

// New creates an empty store.
func New() *Store {
	return &Store{subs: make(map[int]chan LogMsg)}
}

// push appends a message and fans it out without blocking; slow
// subscribers lose messages rather than stalling the writer.
func (s *Store) push(msg LogMsg) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.history = append(s.history, msg)
	if msg.Kind == KindFinished {
		s.finished = true
	}
	subs := make([]chan LogMsg, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// PushStdout appends a stdout line.
func (s *Store) PushStdout(line string) {
	s.push(LogMsg{Kind: KindStdout, Line: line})
}

// PushStderr appends a stderr line.
func (s *Store) PushStderr(line string) {
	s.push(LogMsg{Kind: KindStderr, Line: line})
}

// PushPatch appends a conversation patch.
func (s *Store) PushPatch(patch ConversationPatch) {
	s.push(LogMsg{Kind: KindJSONPatch, Conversation: &patch})
}

// PushState appends a state patch for a logical document path.
func (s *Store) PushState(op PatchOp, path string, value any) {
	s.push(LogMsg{Kind: KindJSONPatch, State: &StatePatch{Op: op, Path: path, Value: value}})
}

// PushFinished marks the stream complete. Later pushes are dropped.
func (s *Store) PushFinished() {
	s.push(LogMsg{Kind: KindFinished})
}

// Finished reports whether the stream is complete.
func (s *Store) Finished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finished
}

// History returns a snapshot of all messages pushed so far.
func (s *Store) History() []LogMsg {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LogMsg, len(s.history))
	copy(out, s.history)
	return out
}

// Subscribe attaches a subscriber channel. The returned cancel function
// detaches it.
func (s *Store) Subscribe(buffer int) (<-chan LogMsg, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan LogMsg, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	return ch, cancel
}

// AddEntry appends a normalized entry at the next conversation index and
// returns that index.
func (s *Store) AddEntry(entry NormalizedEntry) int {
	s.mu.Lock()
	idx := 0
	for _, msg := range s.history {
		if msg.Conversation != nil && msg.Conversation.Op == OpAdd {
			idx++
		}
	}
	patch := ConversationPatch{Op: OpAdd, Index: idx, Entry: &entry}
	s.history = append(s.history, LogMsg{Kind: KindJSONPatch, Conversation: &patch})
	subs := make([]chan LogMsg, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	msg := LogMsg{Kind: KindJSONPatch, Conversation: &patch}
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return idx
}

// LastAssistantMessage scans the history in reverse for the most recent
// non-empty assistant message, truncated to maxLen bytes at a UTF-8
// boundary with an ellipsis appended.
func (s *Store) LastAssistantMessage(maxLen int) (string, bool) {
	history := s.History()
	for i := len(history) - 1; i >= 0; i-- {
		patch := history[i].Conversation
		if patch == nil || patch.Entry == nil || patch.Entry.Type != EntryAssistantMessage {
			continue
		}
		content := strings.TrimSpace(patch.Entry.Content)
		if content == "" {
			continue
		}
		if maxLen > 0 && len(content) > maxLen {
			return text.TruncateToCharBoundary(content, maxLen) + "...", true
		}
		return content, true
	}
	return "", false
}

// LastTokenUsage scans the history in reverse for the most recent
// token-usage entry.
func (s *Store) LastTokenUsage() (inputTokens, outputTokens int64, ok bool) {
	history := s.History()
	for i := len(history) - 1; i >= 0; i-- {
		patch := history[i].Conversation
		if patch == nil || patch.Entry == nil || patch.Entry.Type != EntryTokenUsage {
			continue
		}
		return patch.Entry.InputTokens, patch.Entry.OutputTokens, true
	}
	return 0, 0, false
}

// FindToolUse scans the history in reverse for the tool-use entry with
// the given call id that is still in Created state. Indexes whose entry
// was later replaced are skipped so only the current state of each
// conversation slot is considered.
func (s *Store) FindToolUse(toolCallID string) (int, NormalizedEntry, bool) {
	history := s.History()
	seen := make(map[int]bool)
	for i := len(history) - 1; i >= 0; i-- {
		patch := history[i].Conversation
		if patch == nil || patch.Entry == nil {
			continue
		}
		if seen[patch.Index] {
			continue
		}
		seen[patch.Index] = true

		entry := *patch.Entry
		if entry.Type != EntryToolUse || entry.ToolStatus == nil {
			continue
		}
		if entry.ToolStatus.State != ToolCreated {
			continue
		}
		if entry.ToolCallID == toolCallID {
			return patch.Index, entry, true
		}
	}
	return 0, NormalizedEntry{}, false
}

// ReplaceEntry replaces the entry at a conversation index.
func (s *Store) ReplaceEntry(index int, entry NormalizedEntry) {
	s.PushPatch(ConversationPatch{Op: OpReplace, Index: index, Entry: &entry})
}
