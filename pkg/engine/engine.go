// Package engine implements the execution engine: a bounded pool of
// executor workers that pull ready tasks from the queue, resolve and
// validate their parameters, dispatch them to a provider instance, and
// feed completion back into each workflow's dependency resolver.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gleitzeit/gleitzeit/pkg/errors"
	"github.com/gleitzeit/gleitzeit/pkg/persistence"
	"github.com/gleitzeit/gleitzeit/pkg/protocol"
	"github.com/gleitzeit/gleitzeit/pkg/provider"
	"github.com/gleitzeit/gleitzeit/pkg/provider/balancer"
	"github.com/gleitzeit/gleitzeit/pkg/provider/breaker"
	"github.com/gleitzeit/gleitzeit/pkg/queue"
	"github.com/gleitzeit/gleitzeit/pkg/resolver"
	"github.com/gleitzeit/gleitzeit/pkg/task"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"

	"go.opentelemetry.io/otel/trace"
)

// workflowState is the engine's in-memory bookkeeping for one active
// workflow: its dependency resolver, the substitution-reference map
// driving error_strategy=continue, and a cancellation signal scoped to
// every task still running under it.
type workflowState struct {
	mu            sync.Mutex
	resolver      *resolver.Resolver
	errorStrategy workflow.ErrorStrategy
	paramRefs     map[string][]string
	idByName      map[string]string
	tasksByID     map[string]*task.Task
	cancelled     bool
	cancelledIDs  map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
	span          *taskSpan
}

// Engine dispatches ready tasks to provider instances until stopped.
type Engine struct {
	cfg       Config
	store     persistence.Store
	queue     *queue.Queue
	protocols *protocol.Registry
	providers *provider.Registry
	balancer  *balancer.Balancer
	breakers  *breaker.Registry
	log       *slog.Logger
	tracer    trace.Tracer

	mu        sync.RWMutex
	workflows map[string]*workflowState

	wg      sync.WaitGroup
	stopped chan struct{}
	once    sync.Once
}

// New constructs an Engine. protocols and providers must already be
// populated by the caller (schema loading and provider registration are
// out of this package's scope).
func New(cfg Config, store persistence.Store, q *queue.Queue, protocols *protocol.Registry, providers *provider.Registry, breakers *breaker.Registry, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		store:     store,
		queue:     q,
		protocols: protocols,
		providers: providers,
		balancer:  balancer.New(),
		breakers:  breakers,
		log:       log,
		tracer:    defaultTracer(cfg),
		workflows: make(map[string]*workflowState),
		stopped:   make(chan struct{}),
	}
}

// Start launches the bounded worker pool. It returns immediately; workers
// run until Stop is called.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.cfg.MaxConcurrentTasks; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx)
	}
}

// Stop signals every worker to exit and blocks until they have drained,
// or ctx is done first.
func (e *Engine) Stop(ctx context.Context) error {
	e.once.Do(func() { close(e.stopped) })
	e.queue.Close()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueWorkflow registers a materialized task set under workflowID,
// persists the workflow and its tasks, and feeds every initially-ready
// task into the dispatch queue.
func (e *Engine) EnqueueWorkflow(ctx context.Context, wf *workflow.Workflow, tasks []*task.Task) error {
	deps := workflow.DependencyGraph(tasks)
	paramRefs, err := workflow.SubstitutionRefs(tasks)
	if err != nil {
		return err
	}

	idByName := make(map[string]string, len(tasks))
	tasksByID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		idByName[t.Name] = t.ID
		tasksByID[t.ID] = t
	}

	res := resolver.New(deps)
	wfCtx, cancel := context.WithCancel(context.Background())
	wfCtx, span := e.startWorkflowRun(wfCtx, wf.ID, wf.Name)
	state := &workflowState{
		resolver:      res,
		errorStrategy: wf.ErrorStrategy,
		paramRefs:     paramRefs,
		idByName:      idByName,
		tasksByID:     tasksByID,
		cancelledIDs:  make(map[string]bool),
		ctx:           wfCtx,
		cancel:        cancel,
		span:          span,
	}

	wf.TotalTasks = len(tasks)
	wf.State = workflow.StateRunning
	now := time.Now()
	wf.StartedAt = &now
	if err := e.store.UpsertWorkflow(ctx, wf); err != nil {
		return &errors.PersistenceError{Op: "upsert_workflow", Cause: err}
	}
	for _, t := range tasks {
		if err := e.store.UpsertTask(ctx, t); err != nil {
			return &errors.PersistenceError{Op: "upsert_task", Cause: err}
		}
	}

	e.mu.Lock()
	e.workflows[wf.ID] = state
	e.mu.Unlock()

	ready := make(map[string]bool)
	for _, id := range res.Ready() {
		ready[id] = true
	}
	e.queue.EnqueueBatch(tasks, func(t *task.Task) bool { return ready[t.ID] })
	return nil
}

// CancelWorkflow marks a workflow CANCELLED: queued/held tasks are
// dropped from the dispatch queue immediately, and running tasks' provider
// calls are signalled to abort (honoring each call's grace period).
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID string) error {
	e.mu.RLock()
	state, ok := e.workflows[workflowID]
	e.mu.RUnlock()
	if !ok {
		return &errors.NotFoundError{Resource: "workflow", ID: workflowID}
	}

	state.mu.Lock()
	state.cancelled = true
	for id := range state.tasksByID {
		if e.queue.Cancel(id) {
			state.cancelledIDs[id] = true
		}
	}
	state.mu.Unlock()
	state.cancel()

	now := time.Now()
	for id := range state.cancelledIDs {
		_ = e.store.SetTaskResult(ctx, id, task.StatusCancelled, nil, (&errors.Cancelled{WorkflowID: workflowID}).Error(), "cancelled", now)
	}
	return e.store.SetWorkflowStatus(ctx, workflowID, workflow.StateCancelled, "")
}

func (e *Engine) workflowState(id string) (*workflowState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.workflows[id]
	return s, ok
}

func (e *Engine) forgetWorkflow(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.workflows, id)
}

// supportsProtocolMethod reports whether at least one eligible provider
// instance currently exists for protocol+method, letting the queue skip a
// temporarily-unserviceable task in favor of one behind it.
func (e *Engine) supportsProtocolMethod(protocolID, method string) bool {
	return len(e.providers.Candidates(protocolID, method, nil, e.breakers.Allows)) > 0
}

func errKind(err error) string {
	var classifier errors.ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorType()
	}
	return "unknown"
}
