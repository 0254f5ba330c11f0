package mergequeue

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/msgstore"
)

func newTestStore() *Store {
	return NewStore(msgstore.New())
}

func TestEnqueueAndGet(t *testing.T) {
	s := newTestStore()
	projectID, workspaceID, repoID := uuid.New(), uuid.New(), uuid.New()

	entry := s.Enqueue(projectID, workspaceID, repoID, "Test commit")
	if entry.ProjectID != projectID || entry.WorkspaceID != workspaceID {
		t.Error("entry fields mismatch")
	}
	if entry.Status != StatusQueued {
		t.Errorf("status = %s, want queued", entry.Status)
	}

	got, ok := s.Get(workspaceID)
	if !ok || got.ID != entry.ID {
		t.Error("Get should return the enqueued entry")
	}
}

func TestFIFOOrdering(t *testing.T) {
	s := newTestStore()
	projectID, repoID := uuid.New(), uuid.New()

	ws1, ws2, ws3 := uuid.New(), uuid.New(), uuid.New()
	first := s.Enqueue(projectID, ws1, repoID, "First")
	time.Sleep(10 * time.Millisecond)
	s.Enqueue(projectID, ws2, repoID, "Second")
	time.Sleep(10 * time.Millisecond)
	s.Enqueue(projectID, ws3, repoID, "Third")

	claimed, ok := s.ClaimNext(projectID)
	if !ok {
		t.Fatal("expected an entry")
	}
	if claimed.WorkspaceID != first.WorkspaceID || claimed.CommitMessage != "First" {
		t.Error("claim should return the oldest entry")
	}
	if claimed.Status != StatusMerging {
		t.Errorf("claimed status = %s, want merging", claimed.Status)
	}

	list := s.ListByProject(projectID)
	if len(list) != 3 {
		t.Fatalf("list length = %d, want 3", len(list))
	}
	if list[0].CommitMessage != "First" || list[1].CommitMessage != "Second" || list[2].CommitMessage != "Third" {
		t.Error("list not in FIFO order")
	}
}

func TestClaimSkipsMergingEntries(t *testing.T) {
	s := newTestStore()
	projectID, repoID := uuid.New(), uuid.New()

	ws1, ws2 := uuid.New(), uuid.New()
	s.Enqueue(projectID, ws1, repoID, "First")
	time.Sleep(5 * time.Millisecond)
	s.Enqueue(projectID, ws2, repoID, "Second")

	first, _ := s.ClaimNext(projectID)
	if first.CommitMessage != "First" {
		t.Error("first claim mismatch")
	}

	second, ok := s.ClaimNext(projectID)
	if !ok || second.WorkspaceID != ws2 {
		t.Error("second claim should skip the merging entry")
	}

	if _, ok := s.ClaimNext(projectID); ok {
		t.Error("no queued entries should remain")
	}
}

func TestAtMostOneMergingInvariant(t *testing.T) {
	s := newTestStore()
	projectID, repoID := uuid.New(), uuid.New()

	for i := 0; i < 5; i++ {
		s.Enqueue(projectID, uuid.New(), repoID, "entry")
	}

	// The single-processor discipline: claim one, finish (remove), claim
	// the next. At every point at most one entry is Merging.
	for {
		entry, ok := s.ClaimNext(projectID)
		if !ok {
			break
		}
		merging := 0
		for _, e := range s.ListByProject(projectID) {
			if e.Status == StatusMerging {
				merging++
			}
		}
		if merging != 1 {
			t.Fatalf("merging count = %d, want 1", merging)
		}
		s.Remove(entry.WorkspaceID)
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore()
	projectID, workspaceID, repoID := uuid.New(), uuid.New(), uuid.New()

	s.Enqueue(projectID, workspaceID, repoID, "Test")
	if _, ok := s.Get(workspaceID); !ok {
		t.Fatal("entry should exist")
	}

	if _, ok := s.Remove(workspaceID); !ok {
		t.Error("remove should report the entry")
	}
	if _, ok := s.Get(workspaceID); ok {
		t.Error("entry should be gone")
	}
	if _, ok := s.Remove(workspaceID); ok {
		t.Error("second remove should report nothing")
	}
}

func TestProjectIsolation(t *testing.T) {
	s := newTestStore()
	project1, project2, repoID := uuid.New(), uuid.New(), uuid.New()
	ws1, ws2 := uuid.New(), uuid.New()

	s.Enqueue(project1, ws1, repoID, "Project 1")
	s.Enqueue(project2, ws2, repoID, "Project 2")

	if n := s.CountByProject(project1); n != 1 {
		t.Errorf("project1 count = %d, want 1", n)
	}

	claimed, ok := s.ClaimNext(project1)
	if !ok || claimed.WorkspaceID != ws1 {
		t.Error("claim should respect project isolation")
	}
}

func TestEnqueueReplacesExistingWorkspaceEntry(t *testing.T) {
	s := newTestStore()
	projectID, workspaceID, repoID := uuid.New(), uuid.New(), uuid.New()

	s.Enqueue(projectID, workspaceID, repoID, "First")
	s.Enqueue(projectID, workspaceID, repoID, "Second")

	list := s.ListByProject(projectID)
	if len(list) != 1 {
		t.Fatalf("list length = %d, want 1", len(list))
	}
	if list[0].CommitMessage != "Second" {
		t.Error("enqueue should replace the prior entry")
	}
}

func TestConcurrentClaimEachEntryOnce(t *testing.T) {
	s := newTestStore()
	projectID, repoID := uuid.New(), uuid.New()

	workspaceIDs := make(map[uuid.UUID]bool)
	for i := 0; i < 10; i++ {
		ws := uuid.New()
		workspaceIDs[ws] = true
		s.Enqueue(projectID, ws, repoID, "entry")
		time.Sleep(time.Millisecond)
	}

	var mu sync.Mutex
	claimed := make(map[uuid.UUID]int)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				entry, ok := s.ClaimNext(projectID)
				if !ok {
					return
				}
				mu.Lock()
				claimed[entry.WorkspaceID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != len(workspaceIDs) {
		t.Errorf("claimed %d entries, want %d", len(claimed), len(workspaceIDs))
	}
	for ws, n := range claimed {
		if n != 1 {
			t.Errorf("workspace %s claimed %d times", ws, n)
		}
		if !workspaceIDs[ws] {
			t.Errorf("unknown workspace claimed: %s", ws)
		}
	}
}

func TestCountByWorkspaceIDs(t *testing.T) {
	s := newTestStore()
	projectID, repoID := uuid.New(), uuid.New()
	ws1, ws2, ws3 := uuid.New(), uuid.New(), uuid.New()

	s.Enqueue(projectID, ws1, repoID, "a")
	s.Enqueue(projectID, ws2, repoID, "b")

	if n := s.CountByWorkspaceIDs([]uuid.UUID{ws1, ws3}); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	if n := s.CountByWorkspaceIDs([]uuid.UUID{ws1, ws2}); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestPatchStreamMirrorsTransitions(t *testing.T) {
	ms := msgstore.New()
	s := NewStore(ms)
	projectID, workspaceID, repoID := uuid.New(), uuid.New(), uuid.New()

	s.Enqueue(projectID, workspaceID, repoID, "msg")
	s.ClaimNext(projectID)
	s.Remove(workspaceID)

	var ops []msgstore.PatchOp
	for _, msg := range ms.History() {
		if msg.State != nil {
			ops = append(ops, msg.State.Op)
		}
	}
	want := []msgstore.PatchOp{msgstore.OpAdd, msgstore.OpReplace, msgstore.OpRemove}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("ops = %v, want %v", ops, want)
		}
	}
}
