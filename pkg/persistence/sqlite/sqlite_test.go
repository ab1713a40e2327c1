package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gleitzeit/gleitzeit/pkg/persistence"
	"github.com/gleitzeit/gleitzeit/pkg/persistence/sqlite"
	"github.com/gleitzeit/gleitzeit/pkg/task"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"
)

func metricsSnap(providerID string, at time.Time) persistence.MetricsSnapshot {
	return persistence.MetricsSnapshot{ProviderID: providerID, ProtocolID: "llm/v1", Status: "HEALTHY", RecordedAt: at}
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(sqlite.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetTaskRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	tk := &task.Task{
		ID: "t1", WorkflowID: "w1", Name: "Generate", Protocol: "llm/v1", Method: "llm/chat",
		Params:       map[string]any{"model": "llama3"},
		Dependencies: []string{"t0"},
		Priority:     task.PriorityHigh,
		Status:       task.StatusQueued,
		CreatedAt:    time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, s.UpsertTask(ctx, tk))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "Generate", got.Name)
	require.Equal(t, task.PriorityHigh, got.Priority)
	require.Equal(t, []string{"t0"}, got.Dependencies)
	require.Equal(t, "llama3", got.Params["model"])
}

func TestSetTaskResultPersistsStatusAndResultTogether(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.UpsertTask(ctx, &task.Task{
		ID: "t1", WorkflowID: "w1", Name: "n", Protocol: "p", Method: "m",
		Status: task.StatusRunning, CreatedAt: time.Now(),
	}))

	require.NoError(t, s.SetTaskResult(ctx, "t1", task.StatusCompleted,
		map[string]any{"response": "ok"}, "", "", time.Now()))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, got.Status)
	require.Equal(t, "ok", got.Result.(map[string]any)["response"])
	require.NotNil(t, got.CompletedAt)
}

func TestListByWorkflowAndCountByStatus(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mk := func(id, wf string, status task.Status) *task.Task {
		return &task.Task{ID: id, WorkflowID: wf, Name: id, Protocol: "p", Method: "m", Status: status, CreatedAt: time.Now()}
	}
	require.NoError(t, s.UpsertTask(ctx, mk("a", "w1", task.StatusCompleted)))
	require.NoError(t, s.UpsertTask(ctx, mk("b", "w1", task.StatusFailed)))
	require.NoError(t, s.UpsertTask(ctx, mk("c", "w2", task.StatusCompleted)))

	tasks, err := s.ListByWorkflow(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	counts, err := s.CountByStatus(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, 1, counts[task.StatusCompleted])
	require.Equal(t, 1, counts[task.StatusFailed])
}

func TestWorkflowUpsertAndProgress(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	w := workflow.NewWorkflow("w1", "wf", workflow.ErrorStrategyStop)
	w.TotalTasks = 2
	require.NoError(t, s.UpsertWorkflow(ctx, w))

	require.NoError(t, s.UpdateProgress(ctx, "w1", []string{"a"}, nil, map[string]any{"a": "done"}))
	require.NoError(t, s.UpdateProgress(ctx, "w1", nil, []string{"b"}, nil))

	got, err := s.GetWorkflow(ctx, "w1")
	require.NoError(t, err)
	require.True(t, got.CompletedIDs["a"])
	require.True(t, got.FailedIDs["b"])
	require.Equal(t, "done", got.TaskResults["a"])

	require.NoError(t, s.SetWorkflowStatus(ctx, "w1", workflow.StateCompleted, ""))
	got, err = s.GetWorkflow(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, workflow.StateCompleted, got.State)
	require.NotNil(t, got.CompletedAt)
}

func TestLockAcquireExtendRelease(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ok, err := s.Acquire(ctx, "wf-1", "engine-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Acquire(ctx, "wf-1", "engine-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Extend(ctx, "wf-1", "engine-a", 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	owner, err := s.OwnerOf(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, "engine-a", owner)

	require.NoError(t, s.Release(ctx, "wf-1", "engine-a"))
	owner, _ = s.OwnerOf(ctx, "wf-1")
	require.Equal(t, "", owner)
}

func TestListByStateAndListByStatus(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	running := workflow.NewWorkflow("w1", "wf", workflow.ErrorStrategyStop)
	running.State = workflow.StateRunning
	require.NoError(t, s.UpsertWorkflow(ctx, running))
	require.NoError(t, s.UpsertTask(ctx, &task.Task{
		ID: "t1", WorkflowID: "w1", Name: "n", Protocol: "p", Method: "m",
		Status: task.StatusRunning, CreatedAt: time.Now(),
	}))

	wfs, err := s.ListByState(ctx, workflow.StateRunning)
	require.NoError(t, err)
	require.Len(t, wfs, 1)

	tasks, err := s.ListByStatus(ctx, task.StatusRunning)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestMetricsAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.AppendMetrics(ctx, metricsSnap("p1", time.Now().Add(-time.Hour))))
	require.NoError(t, s.AppendMetrics(ctx, metricsSnap("p1", time.Now())))

	snaps, err := s.ListMetrics(ctx, "p1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}
