package approval

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/msgstore"
	"github.com/outerlook/helmsman/internal/state"
	"github.com/outerlook/helmsman/pkg/models"
)

// ProtocolPeer sends tool results back into a running agent. The
// executor adapter's control channel implements it.
type ProtocolPeer interface {
	SendToolResult(ctx context.Context, toolCallID string, value any, isError bool) error
}

// pendingApproval is the registry's bookkeeping for one open request.
type pendingApproval struct {
	request    Request
	entryIndex int
	entry      msgstore.NormalizedEntry
	hasEntry   bool
	store      *msgstore.Store
	waiter     *Waiter
}

// Registry is the process-wide table of pending approvals keyed by
// approval id. Initialize once at startup; never rebuild mid-run, or
// outstanding waiters would be orphaned.
type Registry struct {
	mu        sync.Mutex
	pending   map[string]*pendingApproval
	completed map[string]Status

	storesMu sync.RWMutex
	stores   map[uuid.UUID]*msgstore.Store
	peers    map[uuid.UUID]ProtocolPeer

	// db enables the re-engagement heuristic; nil disables it.
	db *state.DB
}

// NewRegistry creates an empty registry. db may be nil.
func NewRegistry(db *state.DB) *Registry {
	return &Registry{
		pending:   make(map[string]*pendingApproval),
		completed: make(map[string]Status),
		stores:    make(map[uuid.UUID]*msgstore.Store),
		peers:     make(map[uuid.UUID]ProtocolPeer),
		db:        db,
	}
}

// RegisterMsgStore attaches the message store of a running execution.
func (r *Registry) RegisterMsgStore(executionProcessID uuid.UUID, store *msgstore.Store) {
	r.storesMu.Lock()
	defer r.storesMu.Unlock()
	r.stores[executionProcessID] = store
}

// UnregisterMsgStore detaches a message store when its execution ends.
func (r *Registry) UnregisterMsgStore(executionProcessID uuid.UUID) {
	r.storesMu.Lock()
	defer r.storesMu.Unlock()
	delete(r.stores, executionProcessID)
}

// RegisterPeer attaches the protocol peer of a running execution.
func (r *Registry) RegisterPeer(executionProcessID uuid.UUID, peer ProtocolPeer) {
	r.storesMu.Lock()
	defer r.storesMu.Unlock()
	r.peers[executionProcessID] = peer
}

// UnregisterPeer detaches a protocol peer when its execution ends.
func (r *Registry) UnregisterPeer(executionProcessID uuid.UUID) {
	r.storesMu.Lock()
	defer r.storesMu.Unlock()
	delete(r.peers, executionProcessID)
}

func (r *Registry) storeByID(id uuid.UUID) *msgstore.Store {
	r.storesMu.RLock()
	defer r.storesMu.RUnlock()
	return r.stores[id]
}

func (r *Registry) peerByID(id uuid.UUID) ProtocolPeer {
	r.storesMu.RLock()
	defer r.storesMu.RUnlock()
	return r.peers[id]
}

// CreateWithWaiter registers a pending approval for an incoming tool
// call and returns a shared waiter resolving to the final status.
//
// The workspace's conversation is scanned in reverse for the tool-use
// entry whose call id matches the request and whose state is still
// Created; the entry is replaced in place with the pending state. When
// no entry can be located the approval is still registered (the agent
// is waiting either way) and the registry warns.
func (r *Registry) CreateWithWaiter(req Request) (Request, *Waiter, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.TimeoutAt.IsZero() {
		req.TimeoutAt = req.CreatedAt.Add(DefaultTimeout)
	}

	waiter := newWaiter()
	p := &pendingApproval{request: req, waiter: waiter, entryIndex: -1}

	if store := r.storeByID(req.ExecutionProcessID); store != nil {
		p.store = store
		if idx, entry, ok := store.FindToolUse(req.ToolCallID); ok {
			p.entryIndex = idx
			p.entry = entry
			p.hasEntry = true

			pendingState := msgstore.ToolPendingApproval
			if req.Type == TypeUserQuestion {
				pendingState = msgstore.ToolPendingUserInput
			}
			requestedAt := req.CreatedAt
			timeoutAt := req.TimeoutAt
			updated, _ := entry.WithToolState(msgstore.ToolStatus{
				State:       pendingState,
				ApprovalID:  req.ID,
				RequestedAt: &requestedAt,
				TimeoutAt:   &timeoutAt,
				Questions:   req.Questions,
			})
			store.ReplaceEntry(idx, updated)
		} else {
			log.Printf("[approvals] no matching tool use entry for call %q on process %s",
				req.ToolCallID, req.ExecutionProcessID)
		}
	} else {
		log.Printf("[approvals] no message store for process %s", req.ExecutionProcessID)
	}

	r.mu.Lock()
	r.pending[req.ID] = p
	r.mu.Unlock()

	r.spawnTimeoutWatcher(req.ID, req.TimeoutAt, waiter)
	return req, waiter, nil
}

// Respond resolves a pending approval with the user's decision.
//
// Approved responses carrying non-empty answers are recorded as
// Answered; an Answered resolution additionally injects a tool_result
// with the answers JSON through the execution's protocol peer so the
// agent can continue. When the final status is Approved, Answered, or
// Denied and the owning task is still in review, the task is moved back
// to in-progress.
func (r *Registry) Respond(ctx context.Context, id string, resp Response) (Status, ToolContext, error) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if !ok {
		_, completed := r.completed[id]
		r.mu.Unlock()
		if completed {
			return Status{}, ToolContext{}, ErrAlreadyCompleted
		}
		return Status{}, ToolContext{}, ErrNotFound
	}
	delete(r.pending, id)

	final := Status{Kind: resp.Kind, Answers: resp.Answers, Reason: resp.Reason}
	if resp.Kind == StatusApproved && len(resp.Answers) > 0 {
		final = Status{Kind: StatusAnswered, Answers: resp.Answers}
	}
	r.completed[id] = final
	r.mu.Unlock()

	p.waiter.resolve(final)

	toolCtx := ToolContext{
		ToolName:           p.request.ToolName,
		ToolCallID:         p.request.ToolCallID,
		ExecutionProcessID: p.request.ExecutionProcessID,
	}

	r.updateEntry(p, final)

	if final.Kind == StatusAnswered {
		if peer := r.peerByID(p.request.ExecutionProcessID); peer != nil {
			value, err := json.Marshal(final.Answers)
			if err != nil {
				value = []byte("[]")
			}
			if err := peer.SendToolResult(ctx, p.request.ToolCallID, json.RawMessage(value), false); err != nil {
				log.Printf("[approvals] failed to send tool_result for %q: %v", p.request.ToolCallID, err)
			}
		} else {
			log.Printf("[approvals] no protocol peer for process %s, cannot send tool_result",
				p.request.ExecutionProcessID)
		}
	}

	switch final.Kind {
	case StatusApproved, StatusAnswered, StatusDenied:
		r.reengageTask(p.request.ExecutionProcessID)
	}

	return final, toolCtx, nil
}

// updateEntry reflects the final status on the conversation entry.
func (r *Registry) updateEntry(p *pendingApproval, final Status) {
	if p.store == nil || !p.hasEntry {
		return
	}
	toolStatus, ok := final.toolState()
	if !ok {
		return
	}
	updated, ok := p.entry.WithToolState(toolStatus)
	if !ok {
		log.Printf("[approvals] %v: approval %s", ErrNoToolUseEntry, p.request.ID)
		return
	}
	p.store.ReplaceEntry(p.entryIndex, updated)
}

// reengageTask moves a task back to in-progress when the user responded
// while the task sat in review. A response means the agent continues
// working, so review has not really started.
func (r *Registry) reengageTask(executionProcessID uuid.UUID) {
	if r.db == nil {
		return
	}
	execCtx, err := r.db.LoadExecutionContext(executionProcessID)
	if err != nil {
		return
	}
	if execCtx.Task.Status != models.TaskStatusInReview {
		return
	}
	if _, err := r.db.UpdateTaskStatus(execCtx.Task.ID, models.TaskStatusInProgress); err != nil {
		log.Printf("[approvals] failed to re-engage task %s: %v", execCtx.Task.ID, err)
	}
}

// spawnTimeoutWatcher resolves the approval as timed out when the
// deadline passes before a response arrives. Whichever of response and
// deadline fires first wins; the watcher never double-resolves.
func (r *Registry) spawnTimeoutWatcher(id string, timeoutAt time.Time, waiter *Waiter) {
	go func() {
		delay := time.Until(timeoutAt)
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-waiter.Done():
			// Respond won the race; nothing to clean up.
			return
		case <-timer.C:
		}

		r.mu.Lock()
		p, ok := r.pending[id]
		if !ok {
			// Response arrived between the timer firing and the lock.
			r.mu.Unlock()
			return
		}
		delete(r.pending, id)
		timedOut := Status{Kind: StatusTimedOut}
		r.completed[id] = timedOut
		r.mu.Unlock()

		waiter.resolve(timedOut)
		r.updateEntry(p, timedOut)
	}()
}

// CompletedStatus returns the recorded terminal status for an id.
func (r *Registry) CompletedStatus(id string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.completed[id]
	return s, ok
}

// ListPending returns the open approval requests, for display.
func (r *Registry) ListPending() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Request, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p.request)
	}
	return out
}

// PendingCount returns the number of open approvals.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
