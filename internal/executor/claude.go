package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/approval"
	"github.com/outerlook/helmsman/internal/msgstore"
)

// streamEvent is one line of the executor's stream-json output.
type streamEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   *streamMessage  `json:"message,omitempty"`
	Usage     *streamUsage    `json:"usage,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Result    string          `json:"result,omitempty"`
	Request   *controlRequest `json:"request,omitempty"`
}

// controlRequest is an inbound permission request from the agent.
type controlRequest struct {
	Subtype    string              `json:"subtype"`
	ToolName   string              `json:"tool_name,omitempty"`
	Input      json.RawMessage     `json:"input,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	CallbackID string              `json:"callback_id,omitempty"`
	Questions  []msgstore.Question `json:"questions,omitempty"`
}

type streamMessage struct {
	Role    string          `json:"role,omitempty"`
	Content []streamContent `json:"content,omitempty"`
}

type streamContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type streamUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// ApprovalBinder is implemented by adapters that mediate tool calls
// through the approval registry.
type ApprovalBinder interface {
	BindApprovals(registry *approval.Registry)
}

// ClaudeAdapter spawns the Claude Code CLI and normalizes its
// stream-json output into a message store.
type ClaudeAdapter struct {
	catalog Catalog
	// approvals mediates tool permissions; nil means auto-approve.
	approvals *approval.Registry

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewClaudeAdapter creates an adapter over the given catalog.
func NewClaudeAdapter(catalog Catalog) *ClaudeAdapter {
	return &ClaudeAdapter{
		catalog: catalog,
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

// BindApprovals wires the approval registry. Without it every
// permission request is auto-approved.
func (a *ClaudeAdapter) BindApprovals(registry *approval.Registry) {
	a.approvals = registry
}

// Spawn launches the executor process for the action. The returned Done
// channel fires exactly once with the exit result.
func (a *ClaudeAdapter) Spawn(ctx context.Context, action Action) (SpawnResult, error) {
	command, ok := a.catalog.CommandFor(action.Profile)
	if !ok {
		return SpawnResult{}, fmt.Errorf("unknown executor profile %q", action.Profile)
	}

	processID := uuid.New()
	procCtx, cancel := context.WithCancel(ctx)

	args := append([]string{}, command.Args...)
	if action.Kind == KindFollowUp && action.ConversationSessionID != "" {
		args = append(args, "--resume", action.ConversationSessionID)
	}
	args = append(args, "-p", action.Prompt)

	cmd := exec.CommandContext(procCtx, command.Program, args...)
	if action.WorkingDir != "" {
		cmd.Dir = action.WorkingDir
	}
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return SpawnResult{}, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return SpawnResult{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return SpawnResult{}, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return SpawnResult{}, fmt.Errorf("start executor: %w", err)
	}

	a.mu.Lock()
	a.cancels[processID] = cancel
	a.mu.Unlock()

	store := msgstore.New()
	sessionCh := make(chan string, 1)
	done := make(chan ExitResult, 1)
	peer := &claudePeer{stdin: stdin}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.consumeStdout(procCtx, processID, peer, stdout, store, sessionCh)
	}()
	go func() {
		defer wg.Done()
		consumeStderr(stderr, store)
	}()

	go func() {
		wg.Wait()
		err := cmd.Wait()

		a.mu.Lock()
		delete(a.cancels, processID)
		a.mu.Unlock()
		cancel()

		result := ExitResult{ExitCode: 0}
		if err != nil {
			result.Err = err
			result.ExitCode = -1
			if exitErr, ok := err.(*exec.ExitError); ok {
				result.ExitCode = int64(exitErr.ExitCode())
			}
		}
		done <- result
	}()

	return SpawnResult{
		ProcessID:           processID,
		Store:               store,
		Peer:                peer,
		ConversationSession: sessionCh,
		Done:                done,
	}, nil
}

// Kill cancels the process context, terminating the child.
func (a *ClaudeAdapter) Kill(processID uuid.UUID) error {
	a.mu.Lock()
	cancel, ok := a.cancels[processID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("no running process %s", processID)
	}
	cancel()
	return nil
}

// consumeStdout parses stream-json lines into normalized entries.
func (a *ClaudeAdapter) consumeStdout(ctx context.Context, processID uuid.UUID, peer *claudePeer, r io.Reader, store *msgstore.Store, sessionCh chan<- string) {
	defer close(sessionCh)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	sessionSent := false
	for scanner.Scan() {
		line := scanner.Text()
		store.PushStdout(line)

		var event streamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		if event.SessionID != "" && !sessionSent {
			sessionCh <- event.SessionID
			sessionSent = true
		}

		switch event.Type {
		case "system":
			if event.Subtype != "" {
				store.AddEntry(msgstore.NormalizedEntry{
					Type:    msgstore.EntrySystemMessage,
					Content: event.Subtype,
				})
			}
		case "assistant":
			if event.Message == nil {
				continue
			}
			for _, block := range event.Message.Content {
				switch block.Type {
				case "text":
					if block.Text != "" {
						store.AddEntry(msgstore.NormalizedEntry{
							Type:    msgstore.EntryAssistantMessage,
							Content: block.Text,
						})
					}
				case "tool_use":
					store.AddEntry(msgstore.NormalizedEntry{
						Type:       msgstore.EntryToolUse,
						ToolName:   block.Name,
						ActionType: actionTypeFor(block.Name),
						Content:    toolUseSummary(block),
						ToolStatus: &msgstore.ToolStatus{State: msgstore.ToolCreated},
						ToolCallID: block.ID,
					})
				}
			}
		case "result":
			if event.Usage != nil {
				store.AddEntry(msgstore.NormalizedEntry{
					Type:         msgstore.EntryTokenUsage,
					InputTokens:  event.Usage.InputTokens,
					OutputTokens: event.Usage.OutputTokens,
				})
			}
		case "control_request":
			if event.Request != nil && event.Request.Subtype == "can_use_tool" {
				request := *event.Request
				go a.handleControlRequest(ctx, processID, peer, request)
			}
		}
	}
}

// handleControlRequest resolves a permission request. Without a wired
// approval registry every request is allowed; known hook callbacks
// short-circuit; anything else goes through the approval state machine.
// Registry failures never abort the agent: they convert to a deny
// without interrupt.
func (a *ClaudeAdapter) handleControlRequest(ctx context.Context, processID uuid.UUID, peer *claudePeer, request controlRequest) {
	if request.CallbackID != "" {
		decision := a.approvals.ResolveHookCallback(request.CallbackID)
		peer.sendPermission(request.ToolCallID, string(decision), "")
		return
	}
	if a.approvals == nil {
		peer.sendPermission(request.ToolCallID, string(approval.DecisionAllow), "")
		return
	}

	req := approval.Request{
		ExecutionProcessID: processID,
		ToolCallID:         request.ToolCallID,
		Type:               approval.TypeToolApproval,
		ToolName:           request.ToolName,
		ToolInput:          string(request.Input),
	}
	if len(request.Questions) > 0 {
		req.Type = approval.TypeUserQuestion
		req.Questions = request.Questions
	}

	_, waiter, err := a.approvals.CreateWithWaiter(req)
	if err != nil {
		peer.sendPermission(request.ToolCallID, string(approval.DecisionDeny), err.Error())
		return
	}

	status, err := waiter.Wait(ctx)
	if err != nil {
		// The process is going away; nothing to answer.
		return
	}

	switch status.Kind {
	case approval.StatusApproved, approval.StatusAnswered:
		peer.sendPermission(request.ToolCallID, string(approval.DecisionAllow), "")
	case approval.StatusDenied:
		peer.sendPermission(request.ToolCallID, string(approval.DecisionDeny), status.Reason)
	default:
		peer.sendPermission(request.ToolCallID, string(approval.DecisionDeny), "approval timed out")
	}
}

func consumeStderr(r io.Reader, store *msgstore.Store) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		store.PushStderr(scanner.Text())
	}
}

// actionTypeFor classifies common tools for display purposes.
func actionTypeFor(toolName string) string {
	switch toolName {
	case "Read", "Glob", "Grep":
		return "file_read"
	case "Write", "Edit":
		return "file_write"
	case "Bash":
		return "command_run"
	default:
		return "other"
	}
}

// toolUseSummary builds the display line for a tool invocation.
func toolUseSummary(block streamContent) string {
	if len(block.Input) == 0 {
		return block.Name
	}
	var input map[string]any
	if err := json.Unmarshal(block.Input, &input); err != nil {
		return block.Name
	}
	for _, key := range []string{"file_path", "path", "command", "pattern"} {
		if v, ok := input[key].(string); ok && v != "" {
			return fmt.Sprintf("%s %s", block.Name, v)
		}
	}
	return block.Name
}

// claudePeer writes control messages onto the executor's stdin.
type claudePeer struct {
	mu    sync.Mutex
	stdin io.Writer
}

// controlResponse is the JSONL message injecting a tool result.
type controlResponse struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	Result     any    `json:"result"`
	IsError    bool   `json:"is_error"`
}

// permissionResponse answers a can_use_tool control request.
type permissionResponse struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	Behavior   string `json:"behavior"`
	Message    string `json:"message,omitempty"`
	Interrupt  bool   `json:"interrupt"`
}

// sendPermission writes the permission decision onto stdin.
func (p *claudePeer) sendPermission(toolCallID, behavior, message string) {
	msg := permissionResponse{
		Type:       "control_response",
		ToolCallID: toolCallID,
		Behavior:   behavior,
		Message:    message,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stdin.Write(append(data, '\n'))
}

// SendToolResult injects a tool result so the agent can continue.
func (p *claudePeer) SendToolResult(_ context.Context, toolCallID string, value any, isError bool) error {
	msg := controlResponse{
		Type:       "control_response",
		ToolCallID: toolCallID,
		Result:     value,
		IsError:    isError,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode tool result: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write tool result: %w", err)
	}
	return nil
}
