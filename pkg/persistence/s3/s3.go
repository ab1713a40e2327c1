// Package s3 provides an object-storage-backed persistence.Store, for
// deployments (e.g. a serverless or otherwise disk-less engine host) that
// would rather checkpoint to a bucket than run a database. Tasks and
// workflows are stored as one JSON object per record; unlike the SQLite
// backend there is no secondary index, so ListByWorkflow/CountByStatus and
// the optional Lister interfaces pay for an S3 HeadObject-per-candidate
// scan instead of a SQL WHERE clause. That tradeoff is acceptable for the
// workloads this backend targets (rare large-batch jobs, not high task
// throughput); engines with tight listing-latency needs should use the
// SQLite or in-memory backend instead.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	gzerrors "github.com/gleitzeit/gleitzeit/pkg/errors"
	"github.com/gleitzeit/gleitzeit/pkg/persistence"
	"github.com/gleitzeit/gleitzeit/pkg/task"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"
)

// Compile-time interface assertions.
var (
	_ persistence.TaskStore      = (*Store)(nil)
	_ persistence.WorkflowStore  = (*Store)(nil)
	_ persistence.WorkflowLister = (*Store)(nil)
	_ persistence.TaskLister     = (*Store)(nil)
	_ persistence.Store          = (*Store)(nil)
)

const (
	taskPrefix     = "tasks/"
	workflowPrefix = "workflows/"

	metaWorkflowID = "workflow-id"
	metaStatus     = "status"
	metaState      = "state"
)

// Client is the subset of *s3.Client this package calls, so tests can
// supply a fake.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store is an S3-backed persistence.Store.
type Store struct {
	client Client
	bucket string
}

// New constructs a Store against an existing bucket, from an already
// constructed client (real *s3.Client or a test fake).
func New(client Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// NewFromConfig resolves AWS credentials/region the standard way (shared
// config files, environment, instance/task role) and constructs a Store
// against bucket.
func NewFromConfig(ctx context.Context, bucket string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return New(s3.NewFromConfig(cfg), bucket), nil
}

func taskKey(id string) string     { return taskPrefix + id + ".json" }
func workflowKey(id string) string { return workflowPrefix + id + ".json" }

func (s *Store) putJSON(ctx context.Context, key string, v interface{}, metadata map[string]string) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(body),
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, v interface{}, resource, id string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return &gzerrors.NotFoundError{Resource: resource, ID: id}
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// UpsertTask creates or replaces a task record.
func (s *Store) UpsertTask(ctx context.Context, t *task.Task) error {
	return s.putJSON(ctx, taskKey(t.ID), t, map[string]string{
		metaWorkflowID: t.WorkflowID,
		metaStatus:     string(t.Status),
	})
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	var t task.Task
	if err := s.getJSON(ctx, taskKey(id), &t, "task", id); err != nil {
		return nil, err
	}
	return &t, nil
}

// SetTaskStatus transitions a task's status. S3 has no partial-update
// primitive, so this round-trips through a full read-modify-write.
func (s *Store) SetTaskStatus(ctx context.Context, id string, status task.Status, startedAt, completedAt *time.Time) error {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	t.Status = status
	if startedAt != nil {
		t.StartedAt = startedAt
	}
	if completedAt != nil {
		t.CompletedAt = completedAt
	}
	return s.UpsertTask(ctx, t)
}

// SetTaskResult records a task's terminal outcome in one read-modify-write,
// so status and result are never observed apart within this store.
func (s *Store) SetTaskResult(ctx context.Context, id string, status task.Status, result any, errMsg, kind string, completedAt time.Time) error {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	t.Status = status
	t.Result = result
	t.Error = errMsg
	t.Kind = kind
	t.CompletedAt = &completedAt
	return s.UpsertTask(ctx, t)
}

// listTaskKeys enumerates every object key under the task prefix.
func (s *Store) listTaskKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(taskPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

// ListByWorkflow returns every task belonging to a workflow. It scans the
// task prefix, filtering by the workflow-id object metadata via HeadObject
// (cheaper than a full GetObject) before fetching matching bodies.
func (s *Store) ListByWorkflow(ctx context.Context, workflowID string) ([]*task.Task, error) {
	keys, err := s.listTaskKeys(ctx)
	if err != nil {
		return nil, err
	}
	var out []*task.Task
	for _, key := range keys {
		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
		if err != nil {
			continue
		}
		if head.Metadata[metaWorkflowID] != workflowID {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(key, taskPrefix), ".json")
		t, err := s.GetTask(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// CountByStatus tallies tasks in each status for a workflow.
func (s *Store) CountByStatus(ctx context.Context, workflowID string) (map[task.Status]int, error) {
	tasks, err := s.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	counts := make(map[task.Status]int)
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// UpsertWorkflow creates or replaces a workflow record.
func (s *Store) UpsertWorkflow(ctx context.Context, w *workflow.Workflow) error {
	return s.putJSON(ctx, workflowKey(w.ID), w, map[string]string{metaState: string(w.State)})
}

// GetWorkflow retrieves a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var w workflow.Workflow
	if err := s.getJSON(ctx, workflowKey(id), &w, "workflow", id); err != nil {
		return nil, err
	}
	return &w, nil
}

// SetWorkflowStatus transitions a workflow's state via read-modify-write.
func (s *Store) SetWorkflowStatus(ctx context.Context, id string, state workflow.State, errMsg string) error {
	w, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	w.State = state
	w.Error = errMsg
	w.UpdatedAt = time.Now()
	if state.IsTerminal() && w.CompletedAt == nil {
		now := time.Now()
		w.CompletedAt = &now
	}
	return s.UpsertWorkflow(ctx, w)
}

// UpdateProgress records newly settled task ids and their results.
func (s *Store) UpdateProgress(ctx context.Context, id string, completedIDs, failedIDs []string, results map[string]any) error {
	w, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if w.CompletedIDs == nil {
		w.CompletedIDs = map[string]bool{}
	}
	if w.FailedIDs == nil {
		w.FailedIDs = map[string]bool{}
	}
	if w.TaskResults == nil {
		w.TaskResults = map[string]any{}
	}
	for _, tid := range completedIDs {
		w.CompletedIDs[tid] = true
	}
	for _, tid := range failedIDs {
		w.FailedIDs[tid] = true
	}
	for k, v := range results {
		w.TaskResults[k] = v
	}
	w.UpdatedAt = time.Now()
	return s.UpsertWorkflow(ctx, w)
}

// ListByState returns every workflow currently in state, for the engine's
// startup recovery scan.
func (s *Store) ListByState(ctx context.Context, state workflow.State) ([]*workflow.Workflow, error) {
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(workflowPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list workflows: %w", err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	var result []*workflow.Workflow
	for _, key := range keys {
		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
		if err != nil || head.Metadata[metaState] != string(state) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(key, workflowPrefix), ".json")
		w, err := s.GetWorkflow(ctx, id)
		if err != nil {
			continue
		}
		result = append(result, w)
	}
	return result, nil
}

// ListByStatus returns every task currently in status, for the engine's
// startup recovery scan.
func (s *Store) ListByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	keys, err := s.listTaskKeys(ctx)
	if err != nil {
		return nil, err
	}
	var out []*task.Task
	for _, key := range keys {
		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
		if err != nil || head.Metadata[metaStatus] != string(status) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(key, taskPrefix), ".json")
		t, err := s.GetTask(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Close is a no-op; the S3 SDK client owns no per-Store resources to release.
func (s *Store) Close() error { return nil }
