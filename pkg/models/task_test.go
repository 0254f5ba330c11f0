package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusTodo,
		TaskStatusInProgress,
		TaskStatusInReview,
		TaskStatusDone,
		TaskStatusCancelled,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	if TaskStatus("pending").Valid() {
		t.Error("expected unknown status to be invalid")
	}
	if TaskStatus("").Valid() {
		t.Error("expected empty status to be invalid")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	if !TaskStatusDone.Terminal() {
		t.Error("done should be terminal")
	}
	if !TaskStatusCancelled.Terminal() {
		t.Error("cancelled should be terminal")
	}
	if TaskStatusInReview.Terminal() {
		t.Error("in_review should not be terminal")
	}
}

func TestExecutionStatusTerminal(t *testing.T) {
	cases := []struct {
		status   ExecutionStatus
		terminal bool
	}{
		{ExecutionStatusRunning, false},
		{ExecutionStatusCompleted, true},
		{ExecutionStatusFailed, true},
		{ExecutionStatusKilled, true},
	}
	for _, c := range cases {
		if got := c.status.Terminal(); got != c.terminal {
			t.Errorf("%s: Terminal() = %v, want %v", c.status, got, c.terminal)
		}
	}
}

func TestRunReasonValid(t *testing.T) {
	valid := []RunReason{
		RunReasonCodingAgent,
		RunReasonSetupScript,
		RunReasonCleanupScript,
		RunReasonInternalAgent,
		RunReasonDevServer,
		RunReasonDisposableConversation,
	}
	for _, r := range valid {
		if !r.Valid() {
			t.Errorf("expected %q to be valid", r)
		}
	}
	if RunReason("ralph").Valid() {
		t.Error("expected unknown run reason to be invalid")
	}
}
