package state

import (
	"testing"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/pkg/models"
)

// fixture bundles the rows most tests need.
type fixture struct {
	db      *DB
	project models.Project
	repo    models.Repo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	project, err := db.CreateProject("test-project")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	repo, err := db.CreateRepo("/tmp/repo", "repo")
	if err != nil {
		t.Fatalf("create repo: %v", err)
	}
	if err := db.AddProjectRepo(project.ID, repo.ID); err != nil {
		t.Fatalf("add project repo: %v", err)
	}

	return &fixture{db: db, project: project, repo: repo}
}

func (f *fixture) createTask(t *testing.T, title string) models.Task {
	t.Helper()
	task, err := f.db.CreateTask(CreateTaskParams{ProjectID: f.project.ID, Title: title})
	if err != nil {
		t.Fatalf("create task %q: %v", title, err)
	}
	return task
}

func (f *fixture) createWorkspace(t *testing.T, taskID uuid.UUID, branch string) models.Workspace {
	t.Helper()
	ws, err := f.db.CreateWorkspace(CreateWorkspaceParams{TaskID: taskID, Branch: branch})
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	return ws
}

func (f *fixture) mustTask(t *testing.T, id uuid.UUID) models.Task {
	t.Helper()
	task, err := f.db.FindTaskByID(id)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	return task
}

func TestOpenAndMigrate(t *testing.T) {
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	// Migrate is idempotent.
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestIsBlockedTrigger(t *testing.T) {
	f := newFixture(t)

	a := f.createTask(t, "a")
	b := f.createTask(t, "b")

	if _, err := f.db.CreateDependency(b.ID, a.ID); err != nil {
		t.Fatalf("create dependency: %v", err)
	}

	if got := f.mustTask(t, b.ID); !got.IsBlocked {
		t.Error("b should be blocked while a is not done")
	}

	if _, err := f.db.UpdateTaskStatus(a.ID, models.TaskStatusDone); err != nil {
		t.Fatalf("update status: %v", err)
	}

	if got := f.mustTask(t, b.ID); got.IsBlocked {
		t.Error("b should be unblocked after a is done")
	}

	// Moving a back out of done re-blocks b.
	if _, err := f.db.UpdateTaskStatus(a.ID, models.TaskStatusInProgress); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if got := f.mustTask(t, b.ID); !got.IsBlocked {
		t.Error("b should be blocked again after a left done")
	}
}

func TestIsBlockedTriggerOnDependencyDelete(t *testing.T) {
	f := newFixture(t)

	a := f.createTask(t, "a")
	b := f.createTask(t, "b")

	if _, err := f.db.CreateDependency(b.ID, a.ID); err != nil {
		t.Fatalf("create dependency: %v", err)
	}
	if got := f.mustTask(t, b.ID); !got.IsBlocked {
		t.Fatal("b should be blocked")
	}

	if err := f.db.DeleteDependency(b.ID, a.ID); err != nil {
		t.Fatalf("delete dependency: %v", err)
	}
	if got := f.mustTask(t, b.ID); got.IsBlocked {
		t.Error("b should be unblocked after the dependency was removed")
	}
}

func TestDiamondDependencyUnblocking(t *testing.T) {
	f := newFixture(t)

	// A -> B, C and B, C -> D.
	a := f.createTask(t, "a")
	b := f.createTask(t, "b")
	c := f.createTask(t, "c")
	d := f.createTask(t, "d")

	for _, edge := range [][2]uuid.UUID{{b.ID, a.ID}, {c.ID, a.ID}, {d.ID, b.ID}, {d.ID, c.ID}} {
		if _, err := f.db.CreateDependency(edge[0], edge[1]); err != nil {
			t.Fatalf("create dependency: %v", err)
		}
	}

	if _, err := f.db.UpdateTaskStatus(a.ID, models.TaskStatusDone); err != nil {
		t.Fatalf("complete a: %v", err)
	}

	if f.mustTask(t, b.ID).IsBlocked || f.mustTask(t, c.ID).IsBlocked {
		t.Error("b and c should be unblocked after a is done")
	}
	if !f.mustTask(t, d.ID).IsBlocked {
		t.Error("d should stay blocked until both b and c are done")
	}

	if _, err := f.db.UpdateTaskStatus(b.ID, models.TaskStatusDone); err != nil {
		t.Fatalf("complete b: %v", err)
	}
	if !f.mustTask(t, d.ID).IsBlocked {
		t.Error("d should stay blocked with only b done")
	}

	if _, err := f.db.UpdateTaskStatus(c.ID, models.TaskStatusDone); err != nil {
		t.Fatalf("complete c: %v", err)
	}
	if f.mustTask(t, d.ID).IsBlocked {
		t.Error("d should unblock after both b and c are done")
	}
}

func TestNeedsAttentionClearedOnStatusTransition(t *testing.T) {
	f := newFixture(t)

	task := f.createTask(t, "review me")
	if _, err := f.db.UpdateTaskStatus(task.ID, models.TaskStatusInReview); err != nil {
		t.Fatalf("to in_review: %v", err)
	}

	yes := true
	if err := f.db.UpdateTaskNeedsAttention(task.ID, &yes); err != nil {
		t.Fatalf("set needs_attention: %v", err)
	}
	got := f.mustTask(t, task.ID)
	if got.NeedsAttention == nil || !*got.NeedsAttention {
		t.Fatal("needs_attention should be set")
	}

	if _, err := f.db.UpdateTaskStatus(task.ID, models.TaskStatusDone); err != nil {
		t.Fatalf("to done: %v", err)
	}
	if got := f.mustTask(t, task.ID); got.NeedsAttention != nil {
		t.Error("needs_attention should be cleared when leaving in_review")
	}
}

func TestAttemptStatusTriggers(t *testing.T) {
	f := newFixture(t)

	task := f.createTask(t, "work")
	ws := f.createWorkspace(t, task.ID, "helm/abc-work")
	session, err := f.db.CreateSession(ws.ID, "claude-code")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if got := f.mustTask(t, task.ID); got.LastExecutor != "claude-code" {
		t.Errorf("last_executor = %q, want claude-code", got.LastExecutor)
	}

	exec, err := f.db.CreateExecution(CreateExecutionParams{
		SessionID: &session.ID,
		RunReason: models.RunReasonCodingAgent,
	})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}

	if got := f.mustTask(t, task.ID); !got.HasInProgressAttempt {
		t.Error("has_in_progress_attempt should be true while the coding agent runs")
	}

	code := int64(1)
	if _, err := f.db.UpdateExecutionCompletion(exec.ID, models.ExecutionStatusFailed, &code); err != nil {
		t.Fatalf("complete execution: %v", err)
	}

	got := f.mustTask(t, task.ID)
	if got.HasInProgressAttempt {
		t.Error("has_in_progress_attempt should be false after terminal status")
	}
	if !got.LastAttemptFailed {
		t.Error("last_attempt_failed should be true after a failed coding agent")
	}

	// A later successful run clears last_attempt_failed.
	exec2, err := f.db.CreateExecution(CreateExecutionParams{
		SessionID: &session.ID,
		RunReason: models.RunReasonCodingAgent,
	})
	if err != nil {
		t.Fatalf("create second execution: %v", err)
	}
	zero := int64(0)
	if _, err := f.db.UpdateExecutionCompletion(exec2.ID, models.ExecutionStatusCompleted, &zero); err != nil {
		t.Fatalf("complete second execution: %v", err)
	}
	if got := f.mustTask(t, task.ID); got.LastAttemptFailed {
		t.Error("last_attempt_failed should be false after a completed coding agent")
	}
}

func TestIsQueuedTrigger(t *testing.T) {
	f := newFixture(t)

	task := f.createTask(t, "queued")
	ws := f.createWorkspace(t, task.ID, "helm/queued")

	if _, err := f.db.CreateQueueEntry(ws.ID, "claude-code"); err != nil {
		t.Fatalf("create queue entry: %v", err)
	}
	if got := f.mustTask(t, task.ID); !got.IsQueued {
		t.Error("is_queued should be true with a queue entry")
	}

	if err := f.db.DeleteQueueEntryByWorkspace(ws.ID); err != nil {
		t.Fatalf("delete queue entry: %v", err)
	}
	if got := f.mustTask(t, task.ID); got.IsQueued {
		t.Error("is_queued should be false after the entry was removed")
	}
}

func TestSetupScriptDoesNotCountAsAttempt(t *testing.T) {
	f := newFixture(t)

	task := f.createTask(t, "setup only")
	ws := f.createWorkspace(t, task.ID, "helm/setup")
	session, err := f.db.CreateSession(ws.ID, "claude-code")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if _, err := f.db.CreateExecution(CreateExecutionParams{
		SessionID: &session.ID,
		RunReason: models.RunReasonSetupScript,
	}); err != nil {
		t.Fatalf("create execution: %v", err)
	}

	if got := f.mustTask(t, task.ID); got.HasInProgressAttempt {
		t.Error("setup scripts must not count as in-progress attempts")
	}
}

func TestRecomputeTaskMaterializedStatus(t *testing.T) {
	f := newFixture(t)

	a := f.createTask(t, "a")
	b := f.createTask(t, "b")
	if _, err := f.db.CreateDependency(b.ID, a.ID); err != nil {
		t.Fatal(err)
	}

	// Corrupt the column out of band.
	if _, err := f.db.Exec(`UPDATE tasks SET is_blocked = 0 WHERE id = ?`, b.ID.String()); err != nil {
		t.Fatal(err)
	}
	if got := f.mustTask(t, b.ID); got.IsBlocked {
		t.Fatal("setup: column should be corrupted")
	}

	if err := f.db.RecomputeTaskMaterializedStatus(b.ID); err != nil {
		t.Fatal(err)
	}
	if got := f.mustTask(t, b.ID); !got.IsBlocked {
		t.Error("recompute should restore is_blocked")
	}

	// Bulk repair over the project works too.
	if _, err := f.db.Exec(`UPDATE tasks SET is_blocked = 0 WHERE id = ?`, b.ID.String()); err != nil {
		t.Fatal(err)
	}
	if err := f.db.RecomputeTaskMaterializedStatusBulk(f.project.ID); err != nil {
		t.Fatal(err)
	}
	if got := f.mustTask(t, b.ID); !got.IsBlocked {
		t.Error("bulk recompute should restore is_blocked")
	}
}

func TestTaskStatusChangeHook(t *testing.T) {
	f := newFixture(t)

	var events []struct {
		task models.Task
		prev models.TaskStatus
	}
	f.db.SetEventHooks(EventHooks{
		TaskStatusChanged: func(task models.Task, prev models.TaskStatus) {
			events = append(events, struct {
				task models.Task
				prev models.TaskStatus
			}{task, prev})
		},
	})

	task := f.createTask(t, "observed")
	if _, err := f.db.UpdateTaskStatus(task.ID, models.TaskStatusInProgress); err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].prev != models.TaskStatusTodo {
		t.Errorf("previous status = %s, want todo", events[0].prev)
	}
	if events[0].task.Status != models.TaskStatusInProgress {
		t.Errorf("event status = %s, want in_progress", events[0].task.Status)
	}

	// A no-op update fires nothing.
	if _, err := f.db.UpdateTaskStatus(task.ID, models.TaskStatusInProgress); err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("no-op status update should not fire an event, got %d", len(events))
	}
}
