package orchestrator

import (
	"context"
	"fmt"

	"github.com/outerlook/helmsman/internal/events"
)

// Trigger is the execution-trigger callback handed to event handlers.
// It validates the request synchronously, schedules the actual work on
// its own goroutine, and returns without waiting for the spawned
// execution to finish.
func (o *Orchestrator) Trigger(ctx context.Context, trigger events.ExecutionTrigger) error {
	if o.ctx == nil {
		return fmt.Errorf("orchestrator not started")
	}

	switch t := trigger.(type) {
	case events.FeedbackCollectionTrigger:
		execCtx, err := o.db.LoadExecutionContext(t.ExecutionProcessID)
		if err != nil {
			return fmt.Errorf("feedback trigger: %w", err)
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runFeedbackCollection(t, execCtx)
		}()
		return nil

	case events.ReviewAttentionTrigger:
		if o.cfg.Snapshot().ReviewAttentionExecutorProfile == "" {
			return fmt.Errorf("review trigger: no review executor profile configured")
		}
		execCtx, err := o.db.LoadExecutionContext(t.ExecutionProcessID)
		if err != nil {
			return fmt.Errorf("review trigger: %w", err)
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runReviewAttention(t, execCtx)
		}()
		return nil

	case events.ProcessQueueTrigger:
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.ProcessQueue()
		}()
		return nil

	default:
		return fmt.Errorf("unknown execution trigger %q", trigger.TriggerName())
	}
}

