// Package mergequeue implements the in-memory per-project merge queue:
// the FIFO store and the processor that rebases and merges one entry at
// a time.
package mergequeue

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/msgstore"
)

// EntryStatus is the state of a queue entry.
type EntryStatus string

const (
	// StatusQueued means the entry waits its turn.
	StatusQueued EntryStatus = "queued"
	// StatusMerging means the processor claimed the entry.
	StatusMerging EntryStatus = "merging"
)

// Entry is one queued merge. Entries are ephemeral: a restart loses the
// queue, which is acceptable because the task stays in review and can
// be re-queued by the user.
type Entry struct {
	ID            uuid.UUID   `json:"id"`
	ProjectID     uuid.UUID   `json:"project_id"`
	WorkspaceID   uuid.UUID   `json:"workspace_id"`
	RepoID        uuid.UUID   `json:"repo_id"`
	QueuedAt      time.Time   `json:"queued_at"`
	Status        EntryStatus `json:"status"`
	CommitMessage string      `json:"commit_message"`
}

// Store holds queue entries, at most one per workspace. All operations
// take the interior lock briefly and never hold it across broadcasts.
type Store struct {
	mu       sync.Mutex
	entries  []Entry
	msgStore *msgstore.Store
}

// NewStore creates an empty queue mirroring changes into msgStore.
func NewStore(msgStore *msgstore.Store) *Store {
	return &Store{msgStore: msgStore}
}

// Enqueue appends a Queued entry, replacing any prior entry for the
// workspace, and returns it.
func (s *Store) Enqueue(projectID, workspaceID, repoID uuid.UUID, commitMessage string) Entry {
	entry := Entry{
		ID:            uuid.New(),
		ProjectID:     projectID,
		WorkspaceID:   workspaceID,
		RepoID:        repoID,
		QueuedAt:      time.Now().UTC(),
		Status:        StatusQueued,
		CommitMessage: commitMessage,
	}

	s.mu.Lock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.WorkspaceID != workspaceID {
			kept = append(kept, e)
		}
	}
	s.entries = append(kept, entry)
	s.mu.Unlock()

	s.broadcast(msgstore.OpAdd, entry)
	return entry
}

// ClaimNext atomically selects the oldest Queued entry for the project,
// flips it to Merging, and returns it. FIFO by queued_at; ties break by
// lexicographic entry id.
func (s *Store) ClaimNext(projectID uuid.UUID) (Entry, bool) {
	s.mu.Lock()
	best := -1
	for i, e := range s.entries {
		if e.ProjectID != projectID || e.Status != StatusQueued {
			continue
		}
		if best < 0 || older(e, s.entries[best]) {
			best = i
		}
	}
	if best < 0 {
		s.mu.Unlock()
		return Entry{}, false
	}
	s.entries[best].Status = StatusMerging
	claimed := s.entries[best]
	s.mu.Unlock()

	s.broadcast(msgstore.OpReplace, claimed)
	return claimed, true
}

// older orders entries by queued_at, then id.
func older(a, b Entry) bool {
	if a.QueuedAt.Equal(b.QueuedAt) {
		return a.ID.String() < b.ID.String()
	}
	return a.QueuedAt.Before(b.QueuedAt)
}

// Remove deletes the entry for a workspace, if any, and returns it.
func (s *Store) Remove(workspaceID uuid.UUID) (Entry, bool) {
	s.mu.Lock()
	var removed Entry
	found := false
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.WorkspaceID == workspaceID && !found {
			removed = e
			found = true
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	s.mu.Unlock()

	if found {
		s.broadcastRemove(removed)
	}
	return removed, found
}

// Get returns the entry for a workspace.
func (s *Store) Get(workspaceID uuid.UUID) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.WorkspaceID == workspaceID {
			return e, true
		}
	}
	return Entry{}, false
}

// ListByProject returns the project's entries oldest first.
func (s *Store) ListByProject(projectID uuid.UUID) []Entry {
	s.mu.Lock()
	var out []Entry
	for _, e := range s.entries {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return older(out[i], out[j]) })
	return out
}

// All returns every entry oldest first. Used for initial state sync.
func (s *Store) All() []Entry {
	s.mu.Lock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return older(out[i], out[j]) })
	return out
}

// CountByProject returns the number of entries for a project.
func (s *Store) CountByProject(projectID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.ProjectID == projectID {
			n++
		}
	}
	return n
}

// CountByWorkspaceIDs returns the number of entries whose workspace is
// in the given set.
func (s *Store) CountByWorkspaceIDs(workspaceIDs []uuid.UUID) int {
	set := make(map[uuid.UUID]bool, len(workspaceIDs))
	for _, id := range workspaceIDs {
		set[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if set[e.WorkspaceID] {
			n++
		}
	}
	return n
}

func (s *Store) broadcast(op msgstore.PatchOp, entry Entry) {
	if s.msgStore == nil {
		return
	}
	s.msgStore.PushState(op, "/merge_queue/"+entry.WorkspaceID.String(), entry)
}

func (s *Store) broadcastRemove(entry Entry) {
	if s.msgStore == nil {
		return
	}
	s.msgStore.PushState(msgstore.OpRemove, "/merge_queue/"+entry.WorkspaceID.String(), nil)
}
