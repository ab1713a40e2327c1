package gleitzeit_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gleitzeit/gleitzeit/pkg/gleitzeit"
	"github.com/gleitzeit/gleitzeit/pkg/protocol"
	"github.com/gleitzeit/gleitzeit/pkg/provider"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"
)

type echoProvider struct{}

func (echoProvider) Initialize(ctx context.Context) error { return nil }
func (echoProvider) Shutdown(ctx context.Context) error   { return nil }
func (echoProvider) SupportedMethods() []string           { return []string{"say"} }
func (echoProvider) HealthCheck(ctx context.Context) provider.HealthStatus {
	return provider.HealthStatus{Healthy: true}
}
func (echoProvider) Handle(ctx context.Context, method string, params map[string]interface{}) (interface{}, error) {
	return params, nil
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

func newTestClient(t *testing.T) *gleitzeit.Client {
	t.Helper()
	c, err := gleitzeit.New()
	require.NoError(t, err)
	require.NoError(t, c.RegisterProtocol(echoSpec()))
	c.RegisterProvider(provider.NewInstance("p1", "echo/v1", echoProvider{}, nil))

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

const sampleDefinition = `
name: greet
tasks:
  - name: say-hi
    protocol: echo/v1
    method: say
    params:
      text: hi
`

func TestSubmitAndStatusRunsToCompletion(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	wf, err := c.Submit(ctx, []byte(sampleDefinition))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := c.Status(ctx, wf.ID)
		require.NoError(t, err)
		return got.State.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	final, err := c.Status(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.StateCompleted, final.State)
}

func TestCancelStopsAWorkflow(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	wf, err := c.Submit(ctx, []byte(sampleDefinition))
	require.NoError(t, err)
	require.NoError(t, c.Cancel(ctx, wf.ID))
}

func TestRunBatchProcessesEveryMatch(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644))

	result, err := c.RunBatch(ctx, filepath.Join(dir, "*.txt"), "echo/v1", "say",
		map[string]interface{}{"text": "{{.path}}"}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, result.Total)
	require.Equal(t, 2, result.Successful)
}

func TestWatchDirectorySubmitsOnFileCreate(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	events, err := c.WatchDirectory(ctx, dir, "*.yaml")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.yaml"), []byte(sampleDefinition), 0o644))

	select {
	case ev := <-events:
		require.NoError(t, ev.Err)
		require.Equal(t, "greet", ev.Workflow.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch event")
	}
}
