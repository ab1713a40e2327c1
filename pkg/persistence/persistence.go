// Package persistence defines the engine's storage contract: the narrow
// set of operations the execution engine depends on to checkpoint task
// and workflow state, segregated so a minimal backend only has to
// implement TaskStore and WorkflowStore.
//
// Modeled on the teacher's internal/controller/backend package: interface
// segregation over one big Backend god-interface, plus compile-time
// assertions in each concrete implementation.
package persistence

import (
	"context"
	"time"

	"github.com/gleitzeit/gleitzeit/pkg/task"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"
)

// TaskStore is the core, required interface for task storage.
type TaskStore interface {
	// UpsertTask creates or replaces a task record.
	UpsertTask(ctx context.Context, t *task.Task) error

	// GetTask retrieves a task by id.
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// SetTaskStatus transitions a task's status, stamping started_at/completed_at
	// as appropriate. Implementations perform this atomically.
	SetTaskStatus(ctx context.Context, id string, status task.Status, startedAt, completedAt *time.Time) error

	// SetTaskResult records the terminal outcome of an attempt: result on
	// success, error/kind on failure. Implementations write status and
	// result in the same atomic unit so a crash-and-recover observes both
	// together, never status alone.
	SetTaskResult(ctx context.Context, id string, status task.Status, result any, errMsg, kind string, completedAt time.Time) error

	// ListByWorkflow returns every task belonging to a workflow.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*task.Task, error)

	// CountByStatus returns, for a workflow, the number of tasks in each status.
	CountByStatus(ctx context.Context, workflowID string) (map[task.Status]int, error)
}

// WorkflowStore is the core, required interface for workflow storage.
type WorkflowStore interface {
	// UpsertWorkflow creates or replaces a workflow record.
	UpsertWorkflow(ctx context.Context, w *workflow.Workflow) error

	// GetWorkflow retrieves a workflow by id.
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)

	// SetWorkflowStatus transitions a workflow's state.
	SetWorkflowStatus(ctx context.Context, id string, state workflow.State, errMsg string) error

	// UpdateProgress records newly completed/failed task ids and their
	// results against the workflow's running tallies.
	UpdateProgress(ctx context.Context, id string, completedIDs, failedIDs []string, results map[string]any) error
}

// MetricsSnapshot is one point-in-time sample of a provider instance's
// health and load metrics, per spec.md §4.6's append-only metrics series.
type MetricsSnapshot struct {
	ProviderID        string    `json:"provider_id"`
	ProtocolID        string    `json:"protocol_id"`
	Status            string    `json:"status"`
	RequestCount      int64     `json:"request_count"`
	ErrorCount        int64     `json:"error_count"`
	ActiveRequests    int64     `json:"active_requests"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// MetricsStore is an optional, best-effort append-only metrics series.
// Backends that don't implement it are still usable; callers should treat
// a missing MetricsStore as "metrics are not retained", not an error.
type MetricsStore interface {
	AppendMetrics(ctx context.Context, snapshot MetricsSnapshot) error
	ListMetrics(ctx context.Context, providerID string, since time.Time) ([]MetricsSnapshot, error)
}

// LockStore is an optional interface required only for multi-instance
// deployments, backing distributed coordination over a workflow id
// (§5: "loss of lock aborts in-flight dispatch for that workflow").
type LockStore interface {
	// Acquire attempts to take the named lock for owner, valid for ttl.
	// Returns false if another owner currently holds it.
	Acquire(ctx context.Context, resourceID, owner string, ttl time.Duration) (bool, error)

	// Extend renews ttl on a lock this owner already holds. Returns false
	// if the lock is held by someone else or has expired.
	Extend(ctx context.Context, resourceID, owner string, ttl time.Duration) (bool, error)

	// Release drops the lock if owner currently holds it.
	Release(ctx context.Context, resourceID, owner string) error

	// OwnerOf returns the current holder, or "" if unlocked.
	OwnerOf(ctx context.Context, resourceID string) (string, error)
}

// WorkflowLister is an optional interface backing the engine's startup
// recovery scan (spec: "scans persistence for workflows in RUNNING").
// Backends that don't implement it simply skip recovery.
type WorkflowLister interface {
	ListByState(ctx context.Context, state workflow.State) ([]*workflow.Workflow, error)
}

// TaskLister is an optional interface backing the engine's startup
// recovery scan (spec: "and tasks in RUNNING").
type TaskLister interface {
	ListByStatus(ctx context.Context, status task.Status) ([]*task.Task, error)
}

// Store composes the required interfaces plus io.Closer-style lifecycle
// management into the full contract a fully-featured backend satisfies.
// Components that only need task/workflow bookkeeping should accept
// TaskStore/WorkflowStore directly rather than the full Store.
type Store interface {
	TaskStore
	WorkflowStore

	Close() error
}
