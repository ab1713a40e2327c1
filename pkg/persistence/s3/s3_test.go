package s3_test

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	gzerrors "github.com/gleitzeit/gleitzeit/pkg/errors"
	"github.com/gleitzeit/gleitzeit/pkg/persistence/s3"
	"github.com/gleitzeit/gleitzeit/pkg/task"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"
)

// fakeObject is one stored body+metadata pair in the fake bucket.
type fakeObject struct {
	body     []byte
	metadata map[string]string
}

// fakeClient is an in-memory stand-in for *awss3.Client satisfying just
// enough of the API surface s3.Store calls.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string]fakeObject)}
}

func (f *fakeClient) PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(params.Key)] = fakeObject{body: body, metadata: params.Metadata}
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeClient) GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	obj, ok := f.objects[aws.ToString(params.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.body))}, nil
}

func (f *fakeClient) HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	f.mu.Lock()
	obj, ok := f.objects[aws.ToString(params.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadObjectOutput{Metadata: obj.metadata}, nil
}

func (f *fakeClient) ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(params.Prefix)
	var keys []string
	for key := range f.objects {
		if len(prefix) == 0 || (len(key) >= len(prefix) && key[:len(prefix)] == prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	contents := make([]types.Object, len(keys))
	for i, k := range keys {
		contents[i] = types.Object{Key: aws.String(k)}
	}
	return &awss3.ListObjectsV2Output{Contents: contents, IsTruncated: aws.Bool(false)}, nil
}

func TestUpsertAndGetTaskRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := s3.New(newFakeClient(), "bucket")

	tk := &task.Task{ID: "t1", WorkflowID: "w1", Status: task.StatusQueued}
	require.NoError(t, store.UpsertTask(ctx, tk))

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, task.StatusQueued, got.Status)
}

func TestGetTaskNotFound(t *testing.T) {
	store := s3.New(newFakeClient(), "bucket")
	_, err := store.GetTask(context.Background(), "missing")
	var nf *gzerrors.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestSetTaskResultRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := s3.New(newFakeClient(), "bucket")
	require.NoError(t, store.UpsertTask(ctx, &task.Task{ID: "t1", WorkflowID: "w1"}))

	require.NoError(t, store.SetTaskResult(ctx, "t1", task.StatusCompleted, map[string]any{"ok": true}, "", "", time.Now()))

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestListByWorkflowFiltersByMetadata(t *testing.T) {
	ctx := context.Background()
	store := s3.New(newFakeClient(), "bucket")
	require.NoError(t, store.UpsertTask(ctx, &task.Task{ID: "a", WorkflowID: "w1", Status: task.StatusCompleted}))
	require.NoError(t, store.UpsertTask(ctx, &task.Task{ID: "b", WorkflowID: "w1", Status: task.StatusFailed}))
	require.NoError(t, store.UpsertTask(ctx, &task.Task{ID: "c", WorkflowID: "w2", Status: task.StatusCompleted}))

	tasks, err := store.ListByWorkflow(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	counts, err := store.CountByStatus(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, 1, counts[task.StatusCompleted])
	require.Equal(t, 1, counts[task.StatusFailed])
}

func TestUpdateProgressAccumulates(t *testing.T) {
	ctx := context.Background()
	store := s3.New(newFakeClient(), "bucket")
	w := workflow.NewWorkflow("w1", "wf", workflow.ErrorStrategyStop)
	w.TotalTasks = 2
	require.NoError(t, store.UpsertWorkflow(ctx, w))

	require.NoError(t, store.UpdateProgress(ctx, "w1", []string{"a"}, nil, map[string]any{"a": "done"}))
	require.NoError(t, store.UpdateProgress(ctx, "w1", nil, []string{"b"}, nil))

	got, err := store.GetWorkflow(ctx, "w1")
	require.NoError(t, err)
	require.True(t, got.CompletedIDs["a"])
	require.True(t, got.FailedIDs["b"])
	require.Equal(t, "done", got.TaskResults["a"])
}

func TestListByStateAndListByStatus(t *testing.T) {
	ctx := context.Background()
	store := s3.New(newFakeClient(), "bucket")

	running := workflow.NewWorkflow("w1", "wf", workflow.ErrorStrategyStop)
	running.State = workflow.StateRunning
	done := workflow.NewWorkflow("w2", "wf2", workflow.ErrorStrategyStop)
	done.State = workflow.StateCompleted
	require.NoError(t, store.UpsertWorkflow(ctx, running))
	require.NoError(t, store.UpsertWorkflow(ctx, done))

	require.NoError(t, store.UpsertTask(ctx, &task.Task{ID: "t1", WorkflowID: "w1", Status: task.StatusRunning}))
	require.NoError(t, store.UpsertTask(ctx, &task.Task{ID: "t2", WorkflowID: "w1", Status: task.StatusCompleted}))

	runningWFs, err := store.ListByState(ctx, workflow.StateRunning)
	require.NoError(t, err)
	require.Len(t, runningWFs, 1)
	require.Equal(t, "w1", runningWFs[0].ID)

	runningTasks, err := store.ListByStatus(ctx, task.StatusRunning)
	require.NoError(t, err)
	require.Len(t, runningTasks, 1)
	require.Equal(t, "t1", runningTasks[0].ID)
}
