package manager_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gleitzeit/gleitzeit/pkg/errors"
	"github.com/gleitzeit/gleitzeit/pkg/persistence/memory"
	"github.com/gleitzeit/gleitzeit/pkg/protocol"
	"github.com/gleitzeit/gleitzeit/pkg/task"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"
	"github.com/gleitzeit/gleitzeit/pkg/workflow/manager"
)

type fakeDispatcher struct {
	enqueued []*workflow.Workflow
	tasks    [][]*task.Task
	cancels  []string
	failWith error
}

func (f *fakeDispatcher) EnqueueWorkflow(ctx context.Context, wf *workflow.Workflow, tasks []*task.Task) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.enqueued = append(f.enqueued, wf)
	f.tasks = append(f.tasks, tasks)
	return nil
}

func (f *fakeDispatcher) CancelWorkflow(ctx context.Context, workflowID string) error {
	f.cancels = append(f.cancels, workflowID)
	return nil
}

func echoSpec() protocol.Spec {
	return protocol.Spec{
		Name:    "echo",
		Version: "v1",
		Methods: map[string]protocol.MethodSpec{
			"say": {Name: "say", ParamsSchema: map[string]protocol.ParameterSpec{
				"text": {Type: protocol.TypeString, Required: true},
			}},
		},
	}
}

func newTestManager(t *testing.T) (*manager.Manager, *fakeDispatcher, *memory.Store) {
	t.Helper()
	store := memory.New()
	protocols := protocol.NewRegistry()
	require.NoError(t, protocols.Register(echoSpec()))
	dispatcher := &fakeDispatcher{}
	return manager.New(store, protocols, dispatcher), dispatcher, store
}

const validYAML = `
name: greet
tasks:
  - name: say-hi
    protocol: echo/v1
    method: say
    params:
      text: hi
`

func TestManagerSubmitValidatesMaterializesAndEnqueues(t *testing.T) {
	m, dispatcher, _ := newTestManager(t)

	wf, err := m.Submit(context.Background(), []byte(validYAML))
	require.NoError(t, err)
	require.NotEmpty(t, wf.ID)
	require.Equal(t, "greet", wf.Name)
	require.Equal(t, workflow.StateQueued, wf.State)

	require.Len(t, dispatcher.enqueued, 1)
	require.Equal(t, wf.ID, dispatcher.enqueued[0].ID)
	require.Len(t, dispatcher.tasks, 1)
	require.Len(t, dispatcher.tasks[0], 1)
	require.Equal(t, "echo/v1", dispatcher.tasks[0][0].Protocol)
}

func TestManagerSubmitRejectsUnknownMethod(t *testing.T) {
	m, dispatcher, _ := newTestManager(t)

	badYAML := `
name: bad
tasks:
  - name: t1
    protocol: echo/v1
    method: nope
    params: {}
`
	_, err := m.Submit(context.Background(), []byte(badYAML))
	require.Error(t, err)
	var valErr *errors.ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Empty(t, dispatcher.enqueued)
}

func TestManagerSubmitRejectsStructurallyInvalidDefinition(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Submit(context.Background(), []byte("name: \"\"\ntasks: []\n"))
	require.Error(t, err)
}

func TestManagerStatusReadsFromPersistence(t *testing.T) {
	m, _, store := newTestManager(t)

	wf := workflow.NewWorkflow("w1", "greet", workflow.ErrorStrategyStop)
	require.NoError(t, store.UpsertWorkflow(context.Background(), wf))

	got, err := m.Status(context.Background(), "w1")
	require.NoError(t, err)
	require.Equal(t, "greet", got.Name)
}

func TestManagerCancelForwardsToDispatcher(t *testing.T) {
	m, dispatcher, _ := newTestManager(t)

	require.NoError(t, m.Cancel(context.Background(), "w1"))
	require.Equal(t, []string{"w1"}, dispatcher.cancels)
}
