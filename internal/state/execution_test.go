package state

import (
	"errors"
	"testing"

	"github.com/outerlook/helmsman/pkg/models"
)

func TestExecutionLifecycle(t *testing.T) {
	f := newFixture(t)

	task := f.createTask(t, "run")
	ws := f.createWorkspace(t, task.ID, "helm/run")
	session, err := f.db.CreateSession(ws.ID, "claude-code")
	if err != nil {
		t.Fatal(err)
	}

	exec, err := f.db.CreateExecution(CreateExecutionParams{
		SessionID: &session.ID,
		RunReason: models.RunReasonCodingAgent,
	})
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != models.ExecutionStatusRunning {
		t.Errorf("new execution status = %s, want running", exec.Status)
	}
	if exec.CompletedAt != nil {
		t.Error("new execution must not have completed_at")
	}

	code := int64(0)
	done, err := f.db.UpdateExecutionCompletion(exec.ID, models.ExecutionStatusCompleted, &code)
	if err != nil {
		t.Fatal(err)
	}
	if done.CompletedAt == nil {
		t.Error("terminal execution must have completed_at set")
	}

	// The transition happens exactly once.
	_, err = f.db.UpdateExecutionCompletion(exec.ID, models.ExecutionStatusFailed, nil)
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("second completion should return ErrAlreadyTerminal, got %v", err)
	}

	// Token counts remain mutable after terminal status.
	in, out := int64(100), int64(50)
	if err := f.db.UpdateExecutionTokenUsage(exec.ID, &in, &out); err != nil {
		t.Fatalf("token usage update after terminal: %v", err)
	}
	got, err := f.db.FindExecutionByID(exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.InputTokens == nil || *got.InputTokens != 100 {
		t.Error("input tokens not persisted")
	}
}

func TestUpdateExecutionCompletionRejectsNonTerminal(t *testing.T) {
	f := newFixture(t)

	task := f.createTask(t, "run")
	ws := f.createWorkspace(t, task.ID, "helm/run")
	session, err := f.db.CreateSession(ws.ID, "claude-code")
	if err != nil {
		t.Fatal(err)
	}
	exec, err := f.db.CreateExecution(CreateExecutionParams{
		SessionID: &session.ID,
		RunReason: models.RunReasonCodingAgent,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.db.UpdateExecutionCompletion(exec.ID, models.ExecutionStatusRunning, nil)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("running is not a terminal status, got %v", err)
	}
}

func TestLoadExecutionContext(t *testing.T) {
	f := newFixture(t)

	task := f.createTask(t, "context")
	ws := f.createWorkspace(t, task.ID, "helm/context")
	session, err := f.db.CreateSession(ws.ID, "claude-code")
	if err != nil {
		t.Fatal(err)
	}
	exec, err := f.db.CreateExecution(CreateExecutionParams{
		SessionID: &session.ID,
		RunReason: models.RunReasonCodingAgent,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, err := f.db.LoadExecutionContext(exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Task.ID != task.ID {
		t.Error("context task mismatch")
	}
	if ctx.Workspace.ID != ws.ID {
		t.Error("context workspace mismatch")
	}
	if ctx.Session.ID != session.ID {
		t.Error("context session mismatch")
	}
}

func TestAgentFeedbackUniquePerWorkspace(t *testing.T) {
	f := newFixture(t)

	task := f.createTask(t, "feedback")
	ws := f.createWorkspace(t, task.ID, "helm/feedback")

	jsonDoc := `{"task_clarity":"clear"}`
	params := CreateAgentFeedbackParams{
		ExecutionProcessID: task.ID, // any uuid; not enforced by FK
		TaskID:             task.ID,
		WorkspaceID:        ws.ID,
		FeedbackJSON:       &jsonDoc,
	}
	if _, err := f.db.CreateAgentFeedback(params); err != nil {
		t.Fatalf("first feedback: %v", err)
	}

	_, err := f.db.CreateAgentFeedback(params)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("second feedback for the same workspace should conflict, got %v", err)
	}
}

func TestQueueEntryIdempotentPerWorkspace(t *testing.T) {
	f := newFixture(t)

	task := f.createTask(t, "queue")
	ws := f.createWorkspace(t, task.ID, "helm/queue")

	first, err := f.db.CreateQueueEntry(ws.ID, "claude-code")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.db.CreateQueueEntry(ws.ID, "other-profile")
	if err != nil {
		t.Fatalf("second enqueue should be a no-op, got %v", err)
	}
	if second.ExecutorProfile != first.ExecutorProfile {
		t.Error("second enqueue must not overwrite the existing entry")
	}

	count, err := f.db.CountQueueEntries()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("queue count = %d, want 1", count)
	}
}

func TestFindLatestExecutionForTask(t *testing.T) {
	f := newFixture(t)

	task := f.createTask(t, "latest")
	ws := f.createWorkspace(t, task.ID, "helm/latest")
	session, err := f.db.CreateSession(ws.ID, "claude-code")
	if err != nil {
		t.Fatal(err)
	}

	first, err := f.db.CreateExecution(CreateExecutionParams{
		SessionID: &session.ID, RunReason: models.RunReasonCodingAgent,
	})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.db.CreateExecution(CreateExecutionParams{
		SessionID: &session.ID, RunReason: models.RunReasonCodingAgent,
	})
	if err != nil {
		t.Fatal(err)
	}

	latest, err := f.db.FindLatestExecutionForTask(task.ID, models.RunReasonCodingAgent)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != second.ID {
		t.Errorf("latest = %s, want %s (not %s)", latest.ID, second.ID, first.ID)
	}
}
