package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/approval"
	"github.com/outerlook/helmsman/internal/autopilot"
	"github.com/outerlook/helmsman/internal/config"
	"github.com/outerlook/helmsman/internal/events"
	"github.com/outerlook/helmsman/internal/executor"
	"github.com/outerlook/helmsman/internal/git"
	"github.com/outerlook/helmsman/internal/hooks"
	"github.com/outerlook/helmsman/internal/mergequeue"
	"github.com/outerlook/helmsman/internal/msgstore"
	"github.com/outerlook/helmsman/internal/state"
)

// Options configures a new Orchestrator.
type Options struct {
	// DB is the persistent store. Required.
	DB *state.DB
	// Config is the live configuration service. Required.
	Config *config.Service
	// Adapter launches agent processes. Required.
	Adapter executor.Adapter
	// Git runs the merge pipeline's git operations; defaults to the
	// real command runner.
	Git *git.Service
	// Logger receives debug output; defaults to a no-op logger.
	Logger *DebugLogger
}

// Orchestrator wires the engine together and owns every long-lived
// loop: the event worker, per-project merge loops, exit monitors and
// trigger-spawned monitors.
type Orchestrator struct {
	db        *state.DB
	cfg       *config.Service
	adapter   executor.Adapter
	logger    *DebugLogger
	approvals *approval.Registry
	hookStore *hooks.Store
	// engineStore is the engine-level patch stream for observers.
	engineStore *msgstore.Store
	queueStore  *mergequeue.Store
	processor   *mergequeue.Processor
	dispatcher  *events.Dispatcher
	recorder    *events.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.Mutex
	// mergeLoops guarantees at most one processor loop per project.
	mergeLoops map[uuid.UUID]bool
	// runningCoding maps workspace id to the running coding-agent
	// process, enforcing one agent per worktree.
	runningCoding map[uuid.UUID]uuid.UUID
	// stores keeps the message store of each live execution.
	stores map[uuid.UUID]*msgstore.Store
	// summaries caches each execution's final assistant message for
	// follow-up prompts after the store is released.
	summaries map[uuid.UUID]string
}

// New wires an orchestrator. The execution-trigger callback is
// installed on the handler context after construction, breaking the
// dispatcher/orchestrator cycle.
func New(opts Options) (*Orchestrator, error) {
	if opts.DB == nil || opts.Config == nil || opts.Adapter == nil {
		return nil, fmt.Errorf("orchestrator requires DB, Config and Adapter")
	}
	if opts.Git == nil {
		opts.Git = git.NewService()
	}
	if opts.Logger == nil {
		opts.Logger = NopLogger()
	}

	engineStore := msgstore.New()
	hookStore := hooks.NewStore(engineStore)
	queueStore := mergequeue.NewStore(engineStore)

	o := &Orchestrator{
		db:            opts.DB,
		cfg:           opts.Config,
		adapter:       opts.Adapter,
		logger:        opts.Logger,
		approvals:     approval.NewRegistry(opts.DB),
		hookStore:     hookStore,
		engineStore:   engineStore,
		queueStore:    queueStore,
		processor:     mergequeue.NewProcessor(opts.DB, opts.Git, queueStore),
		mergeLoops:    make(map[uuid.UUID]bool),
		runningCoding: make(map[uuid.UUID]uuid.UUID),
		stores:        make(map[uuid.UUID]*msgstore.Store),
		summaries:     make(map[uuid.UUID]string),
	}

	if binder, ok := opts.Adapter.(executor.ApprovalBinder); ok {
		binder.BindApprovals(o.approvals)
	}

	hctx := events.NewHandlerContext(opts.DB, opts.Config, engineStore, hookStore)
	o.dispatcher = events.NewDispatcher(hctx,
		autopilot.NewFeedbackCollectionHandler(),
		autopilot.NewReviewAttentionHandler(),
		autopilot.NewHandler(),
		autopilot.NewHookExecutionUpdaterHandler(),
	)
	hctx.SetExecutionTrigger(o.Trigger)

	o.recorder = events.NewRecorder(o.dispatcher)
	opts.DB.SetEventHooks(o.recorder.Hooks())

	return o, nil
}

// Start launches the background workers. The orchestrator runs until
// Shutdown or the context is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.recorder.Run(o.ctx)
	}()
}

// Shutdown stops the background workers and waits for them.
func (o *Orchestrator) Shutdown() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.logger.Close()
}

// Approvals exposes the approval registry for the serving layer.
func (o *Orchestrator) Approvals() *approval.Registry {
	return o.approvals
}

// MergeQueue exposes the merge-queue store for the serving layer.
func (o *Orchestrator) MergeQueue() *mergequeue.Store {
	return o.queueStore
}

// HookStore exposes hook-execution telemetry for the serving layer.
func (o *Orchestrator) HookStore() *hooks.Store {
	return o.hookStore
}

// EngineStore exposes the engine-level patch stream for observers.
func (o *Orchestrator) EngineStore() *msgstore.Store {
	return o.engineStore
}

// Dispatcher exposes the event dispatcher, mainly for tests and the
// serving layer's manual status updates.
func (o *Orchestrator) Dispatcher() *events.Dispatcher {
	return o.dispatcher
}

// EnsureMergeLoop starts a merge-queue processor loop for the project
// unless one is already running. Multiple processors on one project
// would violate the single-Merging invariant.
func (o *Orchestrator) EnsureMergeLoop(projectID uuid.UUID) {
	o.mu.Lock()
	if o.mergeLoops[projectID] {
		o.mu.Unlock()
		return
	}
	o.mergeLoops[projectID] = true
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.mergeLoops, projectID)
			o.mu.Unlock()
		}()
		o.processor.ProcessProjectQueue(o.ctx, projectID)
	}()
}

// storeFor returns the live message store of an execution.
func (o *Orchestrator) storeFor(processID uuid.UUID) *msgstore.Store {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stores[processID]
}

// summaryFor returns the cached final assistant message of an
// execution, if any.
func (o *Orchestrator) summaryFor(processID uuid.UUID) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summaries[processID]
}
