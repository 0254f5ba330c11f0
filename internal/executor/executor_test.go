package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/approval"
	"github.com/outerlook/helmsman/internal/msgstore"
)

func TestParseProfile(t *testing.T) {
	cases := []struct {
		in       string
		executor string
		variant  string
	}{
		{"claude-code", "claude-code", ""},
		{"claude-code:plan", "claude-code", "plan"},
		{"  claude-code  ", "claude-code", ""},
	}
	for _, c := range cases {
		p := ParseProfile(c.in)
		if p.Executor != c.executor || p.Variant != c.variant {
			t.Errorf("ParseProfile(%q) = %+v", c.in, p)
		}
	}
}

func TestProfileStringRoundTrip(t *testing.T) {
	for _, s := range []string{"claude-code", "claude-code:plan"} {
		if got := ParseProfile(s).String(); got != s {
			t.Errorf("round trip %q -> %q", s, got)
		}
	}
}

func TestDefaultCatalogHasClaudeCode(t *testing.T) {
	c := DefaultCatalog()
	cmd, ok := c.CommandFor(Profile{Executor: "claude-code"})
	if !ok {
		t.Fatal("default catalog should include claude-code")
	}
	if cmd.Program != "claude" {
		t.Errorf("program = %q, want claude", cmd.Program)
	}
}

func TestLoadCatalogMissingFileUsesDefaults(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.CommandFor(Profile{Executor: "claude-code"}); !ok {
		t.Error("defaults lost")
	}
}

func TestLoadCatalogMergesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executors.yaml")
	doc := `executors:
  claude-code:
    program: /usr/local/bin/claude
    args: ["--output-format", "stream-json", "--print"]
  custom-agent:
    program: my-agent
    args: ["--json"]
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatal(err)
	}

	claude, ok := c.CommandFor(Profile{Executor: "claude-code"})
	if !ok || claude.Program != "/usr/local/bin/claude" {
		t.Error("override not applied")
	}
	custom, ok := c.CommandFor(Profile{Executor: "custom-agent"})
	if !ok || custom.Program != "my-agent" {
		t.Error("new executor not merged")
	}
}

func TestActionSerializeCarriesProfile(t *testing.T) {
	a := Action{
		Kind:    KindFollowUp,
		Prompt:  "continue",
		Profile: Profile{Executor: "claude-code", Variant: "plan"},
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(a.Serialize()), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["profile"] != "claude-code:plan" {
		t.Errorf("profile = %v", decoded["profile"])
	}
	if decoded["kind"] != string(KindFollowUp) {
		t.Errorf("kind = %v", decoded["kind"])
	}
}

func TestConsumeStdoutNormalizesStream(t *testing.T) {
	adapter := NewClaudeAdapter(DefaultCatalog())
	store := msgstore.New()
	sessionCh := make(chan string, 1)

	lines := `{"type":"system","subtype":"init","session_id":"sess-123"}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Working on it."}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"Read","input":{"file_path":"main.go"}}]}}
{"type":"result","subtype":"success","usage":{"input_tokens":120,"output_tokens":80},"session_id":"sess-123"}
`
	peer := &claudePeer{stdin: io.Discard}
	adapter.consumeStdout(context.Background(), uuid.New(), peer, bytes.NewBufferString(lines), store, sessionCh)

	if got := <-sessionCh; got != "sess-123" {
		t.Errorf("session id = %q, want sess-123", got)
	}

	msg, ok := store.LastAssistantMessage(4096)
	if !ok || msg != "Working on it." {
		t.Errorf("assistant message = %q", msg)
	}

	idx, entry, ok := store.FindToolUse("toolu_1")
	if !ok {
		t.Fatal("tool use entry not found")
	}
	if entry.ToolName != "Read" || entry.ToolStatus.State != msgstore.ToolCreated {
		t.Errorf("tool entry = %+v at %d", entry, idx)
	}

	in, out, ok := store.LastTokenUsage()
	if !ok || in != 120 || out != 80 {
		t.Errorf("token usage = %d/%d", in, out)
	}
}

func TestControlRequestAutoApproveWithoutRegistry(t *testing.T) {
	adapter := NewClaudeAdapter(DefaultCatalog())
	var buf bytes.Buffer
	peer := &claudePeer{stdin: &buf}

	adapter.handleControlRequest(context.Background(), uuid.New(), peer, controlRequest{
		Subtype:    "can_use_tool",
		ToolName:   "Bash",
		ToolCallID: "t1",
	})

	var resp permissionResponse
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Behavior != "allow" {
		t.Errorf("behavior = %q, want allow (auto-approve mode)", resp.Behavior)
	}
	if resp.Interrupt {
		t.Error("permission responses never interrupt")
	}
}

func TestControlRequestHookCallback(t *testing.T) {
	adapter := NewClaudeAdapter(DefaultCatalog())
	adapter.BindApprovals(approval.NewRegistry(nil))
	var buf bytes.Buffer
	peer := &claudePeer{stdin: &buf}

	// The known auto-approve callback short-circuits to allow.
	adapter.handleControlRequest(context.Background(), uuid.New(), peer, controlRequest{
		Subtype:    "can_use_tool",
		ToolCallID: "t2",
		CallbackID: approval.AutoApproveCallbackID,
	})
	var resp permissionResponse
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Behavior != "allow" {
		t.Errorf("behavior = %q, want allow", resp.Behavior)
	}

	// Unknown callbacks come back as ask.
	buf.Reset()
	adapter.handleControlRequest(context.Background(), uuid.New(), peer, controlRequest{
		Subtype:    "can_use_tool",
		ToolCallID: "t3",
		CallbackID: "mystery",
	})
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Behavior != "ask" {
		t.Errorf("behavior = %q, want ask", resp.Behavior)
	}
}

func TestControlRequestDeniedThroughRegistry(t *testing.T) {
	registry := approval.NewRegistry(nil)
	adapter := NewClaudeAdapter(DefaultCatalog())
	adapter.BindApprovals(registry)

	processID := uuid.New()
	store := msgstore.New()
	registry.RegisterMsgStore(processID, store)
	store.AddEntry(msgstore.NormalizedEntry{
		Type:       msgstore.EntryToolUse,
		ToolName:   "Bash",
		ToolStatus: &msgstore.ToolStatus{State: msgstore.ToolCreated},
		ToolCallID: "t4",
	})

	var buf bytes.Buffer
	peer := &claudePeer{stdin: &buf}

	done := make(chan struct{})
	go func() {
		defer close(done)
		adapter.handleControlRequest(context.Background(), processID, peer, controlRequest{
			Subtype:    "can_use_tool",
			ToolName:   "Bash",
			ToolCallID: "t4",
		})
	}()

	// Wait for the approval to register, then deny it.
	waitDeadline := time.Now().Add(5 * time.Second)
	for registry.PendingCount() == 0 && time.Now().Before(waitDeadline) {
		time.Sleep(5 * time.Millisecond)
	}
	pending := registry.ListPending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	_, _, err := registry.Respond(context.Background(), pending[0].ID, approval.Response{
		Kind:   approval.StatusDenied,
		Reason: "not allowed here",
	})
	if err != nil {
		t.Fatal(err)
	}
	<-done

	var resp permissionResponse
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Behavior != "deny" {
		t.Errorf("behavior = %q, want deny", resp.Behavior)
	}
	if resp.Message != "not allowed here" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestClaudePeerWritesControlResponse(t *testing.T) {
	var buf bytes.Buffer
	peer := &claudePeer{stdin: &buf}

	err := peer.SendToolResult(context.Background(), "toolu_9", json.RawMessage(`[{"question_index":0}]`), false)
	if err != nil {
		t.Fatal(err)
	}

	var msg controlResponse
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &msg); err != nil {
		t.Fatalf("stdin did not receive valid JSON: %v", err)
	}
	if msg.Type != "control_response" || msg.ToolCallID != "toolu_9" || msg.IsError {
		t.Errorf("control response = %+v", msg)
	}
}
