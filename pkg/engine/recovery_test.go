package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gleitzeit/gleitzeit/pkg/engine"
	"github.com/gleitzeit/gleitzeit/pkg/persistence/memory"
	"github.com/gleitzeit/gleitzeit/pkg/protocol"
	"github.com/gleitzeit/gleitzeit/pkg/provider"
	"github.com/gleitzeit/gleitzeit/pkg/provider/breaker"
	"github.com/gleitzeit/gleitzeit/pkg/queue"
	"github.com/gleitzeit/gleitzeit/pkg/task"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"
)

func newRecoveryTestEngine(t *testing.T, impl provider.Provider) (*engine.Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	protocols := protocol.NewRegistry()
	require.NoError(t, protocols.Register(echoSpec()))

	providers := provider.NewRegistry()
	inst := provider.NewInstance("p1", "echo/v1", impl, nil)
	inst.SetStatus(provider.StatusHealthy)
	providers.Register(inst)

	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	q := queue.New()

	cfg := engine.DefaultConfig()
	cfg.ProviderWaitTimeout = 500 * time.Millisecond
	cfg.CallTimeout = 2 * time.Second
	cfg.CancelGracePeriod = 100 * time.Millisecond
	e := engine.New(cfg, store, q, protocols, providers, breakers, nil)
	return e, store
}

func seedRunningWorkflow(t *testing.T, store *memory.Store, wf *workflow.Workflow, tasks []*task.Task) {
	t.Helper()
	ctx := context.Background()
	wf.TotalTasks = len(tasks)
	wf.State = workflow.StateRunning
	require.NoError(t, store.UpsertWorkflow(ctx, wf))
	for _, tk := range tasks {
		require.NoError(t, store.UpsertTask(ctx, tk))
	}
}

// A backend without the optional listing interfaces (in principle; memory.Store
// implements both here, so this test exercises the no-op guard indirectly by
// confirming Recover never errors when there is nothing RUNNING to recover).
func TestRecoverIsNoopWithNothingRunning(t *testing.T) {
	e, _ := newRecoveryTestEngine(t, &echoProvider{methods: []string{"say"}})
	require.NoError(t, e.Recover(context.Background()))
}

func TestRecoverMarksCrashedTaskFailedAndFinishesWorkflow(t *testing.T) {
	e, store := newRecoveryTestEngine(t, &echoProvider{methods: []string{"say"}})
	ctx := context.Background()

	wf := workflow.NewWorkflow("w1", "crash", workflow.ErrorStrategyStop)
	tasks := []*task.Task{{
		ID: "t1", WorkflowID: "w1", Name: "t1", Protocol: "echo/v1", Method: "say",
		Params: map[string]any{"text": "hi"}, Status: task.StatusRunning, CreatedAt: time.Now(),
	}}
	seedRunningWorkflow(t, store, wf, tasks)

	require.NoError(t, e.Recover(ctx))

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, got.Status)
	require.Equal(t, "crash_recovered", got.Kind)

	gotWf, err := store.GetWorkflow(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, workflow.StateFailed, gotWf.State)
}

// Regression test for a bug where the resolver's readiness bookkeeping was
// derived by calling MarkCompleted twice for the same already-completed
// task (once while classifying persisted statuses, once again to collect
// its newly-ready dependents) — the second call re-reported dependents that
// might already be running or terminal. Recovery must enqueue "b" as ready
// exactly once.
func TestRecoverReEnqueuesReadyDependentExactlyOnce(t *testing.T) {
	impl := &echoProvider{methods: []string{"say"}}
	e, store := newRecoveryTestEngine(t, impl)
	ctx := context.Background()

	wf := workflow.NewWorkflow("w1", "chain", workflow.ErrorStrategyStop)
	tasks := []*task.Task{
		{ID: "a", WorkflowID: "w1", Name: "a", Protocol: "echo/v1", Method: "say",
			Params: map[string]any{"text": "first"}, Status: task.StatusCompleted,
			Result: map[string]any{"text": "first"}, CreatedAt: time.Now()},
		{ID: "b", WorkflowID: "w1", Name: "b", Protocol: "echo/v1", Method: "say",
			Params: map[string]any{"text": "${a.text}"}, Dependencies: []string{"a"},
			Status: task.StatusQueued, CreatedAt: time.Now().Add(time.Millisecond)},
	}
	seedRunningWorkflow(t, store, wf, tasks)

	require.NoError(t, e.Recover(ctx))

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(runCtx)
	defer e.Stop(context.Background())

	waitForState(t, store, "w1", workflow.StateCompleted)

	b, err := store.GetTask(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, b.Status)
	require.Equal(t, "first", b.Result.(map[string]any)["text"])
	require.Equal(t, 1, impl.calls)
}

func TestRecoverCascadesFailureUnderStopStrategy(t *testing.T) {
	e, store := newRecoveryTestEngine(t, &echoProvider{methods: []string{"say"}})
	ctx := context.Background()

	wf := workflow.NewWorkflow("w1", "chain", workflow.ErrorStrategyStop)
	tasks := []*task.Task{
		{ID: "a", WorkflowID: "w1", Name: "a", Protocol: "echo/v1", Method: "say",
			Params: map[string]any{"text": "x"}, Status: task.StatusFailed,
			Error: "boom", Kind: "unknown", CreatedAt: time.Now()},
		{ID: "b", WorkflowID: "w1", Name: "b", Protocol: "echo/v1", Method: "say",
			Params: map[string]any{"text": "${a.text}"}, Dependencies: []string{"a"},
			Status: task.StatusQueued, CreatedAt: time.Now().Add(time.Millisecond)},
	}
	seedRunningWorkflow(t, store, wf, tasks)

	require.NoError(t, e.Recover(ctx))

	got, err := store.GetTask(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, got.Status)
	require.Equal(t, "dependency_failed", got.Kind)

	gotWf, err := store.GetWorkflow(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, workflow.StateFailed, gotWf.State)
}
