package events

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/outerlook/helmsman/internal/config"
	"github.com/outerlook/helmsman/internal/hooks"
	"github.com/outerlook/helmsman/internal/msgstore"
	"github.com/outerlook/helmsman/internal/state"
)

// ExecutionMode selects how the dispatcher runs a handler.
type ExecutionMode int

const (
	// Inline handlers are awaited; dispatch does not return until they
	// finish. Handlers that must not be tracked as hook executions, such
	// as the hook-execution updater, run inline.
	Inline ExecutionMode = iota
	// Spawned handlers run on their own goroutine, fire-and-forget.
	Spawned
)

// Handler consumes domain events.
type Handler interface {
	// Name is a stable identifier; dispatch order is lexicographic by name.
	Name() string
	// ExecutionMode selects inline or spawned dispatch.
	ExecutionMode() ExecutionMode
	// Handles reports whether the handler wants the event.
	Handles(event Event) bool
	// Handle processes the event. Errors are logged by the dispatcher
	// and never propagated.
	Handle(ctx context.Context, event Event, hctx *HandlerContext) error
}

// TriggerFunc is the execution-trigger callback supplied by the
// orchestrator. It must be cheap and non-blocking.
type TriggerFunc func(ctx context.Context, trigger ExecutionTrigger) error

// HandlerContext carries the shared collaborators handlers reach for.
// The execution trigger is filled in after the orchestrator exists to
// break the construction cycle.
type HandlerContext struct {
	// DB is the persistent store.
	DB *state.DB
	// Config is the live configuration snapshot service.
	Config *config.Service
	// MsgStore is the engine-level patch stream for observers.
	MsgStore *msgstore.Store
	// HookStore tracks hook executions, when wired.
	HookStore *hooks.Store

	mu      sync.RWMutex
	trigger TriggerFunc
}

// NewHandlerContext builds a context without an execution trigger.
func NewHandlerContext(db *state.DB, cfg *config.Service, ms *msgstore.Store, hookStore *hooks.Store) *HandlerContext {
	return &HandlerContext{DB: db, Config: cfg, MsgStore: ms, HookStore: hookStore}
}

// SetExecutionTrigger installs the orchestrator callback.
func (c *HandlerContext) SetExecutionTrigger(fn TriggerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trigger = fn
}

// ExecutionTrigger returns the installed callback, or nil.
func (c *HandlerContext) ExecutionTrigger() TriggerFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trigger
}

// Dispatcher routes domain events to registered handlers.
//
// Handlers are sorted lexicographically by name and partitioned by
// execution mode. For a single Dispatch call, every matching inline
// handler completes before the call returns; spawned handlers are
// fire-and-forget. Handler errors are logged, never propagated, and
// never abort dispatch of subsequent handlers.
type Dispatcher struct {
	inline  []Handler
	spawned []Handler
	ctx     *HandlerContext
}

// NewDispatcher builds a dispatcher over the given handlers.
func NewDispatcher(hctx *HandlerContext, handlers ...Handler) *Dispatcher {
	sorted := make([]Handler, len(handlers))
	copy(sorted, handlers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	d := &Dispatcher{ctx: hctx}
	for _, h := range sorted {
		if h.ExecutionMode() == Inline {
			d.inline = append(d.inline, h)
		} else {
			d.spawned = append(d.spawned, h)
		}
	}
	return d
}

// Context returns the shared handler context.
func (d *Dispatcher) Context() *HandlerContext {
	return d.ctx
}

// Dispatch routes one event. Safe to call reentrantly: a handler may
// cause further status changes whose events are dispatched later.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	for _, h := range d.inline {
		if !h.Handles(event) {
			continue
		}
		if err := h.Handle(ctx, event, d.ctx); err != nil {
			log.Printf("[events] inline handler %s failed on %s: %v", h.Name(), event.EventName(), err)
		}
	}

	for _, h := range d.spawned {
		if !h.Handles(event) {
			continue
		}
		handler := h
		go func() {
			if err := handler.Handle(ctx, event, d.ctx); err != nil {
				log.Printf("[events] spawned handler %s failed on %s: %v", handler.Name(), event.EventName(), err)
			}
		}()
	}
}
