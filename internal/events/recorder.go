package events

import (
	"context"
	"log"

	"github.com/outerlook/helmsman/internal/state"
	"github.com/outerlook/helmsman/pkg/models"
)

// recorderBuffer bounds the channel between the store hooks and the
// event worker. Overflowing events are dropped with a warning:
// authoritative state lives in the store and its triggers, so a lost
// event affects liveness of downstream hooks, not correctness.
const recorderBuffer = 1024

// Recorder bridges store commit hooks onto the dispatcher through a
// bounded channel drained by a single worker goroutine.
type Recorder struct {
	dispatcher *Dispatcher
	ch         chan Event
}

// NewRecorder creates a recorder feeding the given dispatcher.
func NewRecorder(dispatcher *Dispatcher) *Recorder {
	return &Recorder{
		dispatcher: dispatcher,
		ch:         make(chan Event, recorderBuffer),
	}
}

// Hooks returns the state.EventHooks to install on the database.
func (r *Recorder) Hooks() state.EventHooks {
	return state.EventHooks{
		TaskStatusChanged: func(task models.Task, previous models.TaskStatus) {
			r.Record(TaskStatusChanged{Task: task, PreviousStatus: previous})
		},
		WorkspaceCreated: func(workspace models.Workspace) {
			r.Record(WorkspaceCreated{Workspace: workspace})
		},
	}
}

// Record enqueues an event without blocking. On overflow the event is
// dropped with a warning.
func (r *Recorder) Record(event Event) {
	select {
	case r.ch <- event:
	default:
		log.Printf("[events] recorder buffer full, dropping %s", event.EventName())
	}
}

// Run drains the channel until the context is cancelled. Callers run it
// in its own goroutine.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-r.ch:
			r.dispatcher.Dispatch(ctx, event)
		}
	}
}
