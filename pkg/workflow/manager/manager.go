// Package manager is the thin coordinator above the execution engine:
// it validates and persists a submitted workflow definition, materializes
// its declarative tasks, and hands the result to a Dispatcher (the
// execution engine) for enqueueing. It also answers status lookups and
// forwards cancellation.
package manager

import (
	"context"

	"github.com/google/uuid"

	"github.com/gleitzeit/gleitzeit/pkg/persistence"
	"github.com/gleitzeit/gleitzeit/pkg/protocol"
	"github.com/gleitzeit/gleitzeit/pkg/task"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"
)

// Dispatcher is the execution engine's submission surface, kept as an
// interface here so this package never imports pkg/engine directly.
type Dispatcher interface {
	EnqueueWorkflow(ctx context.Context, wf *workflow.Workflow, tasks []*task.Task) error
	CancelWorkflow(ctx context.Context, workflowID string) error
}

// Manager submits workflow definitions, answers status queries, and
// forwards cancellation to the dispatcher.
type Manager struct {
	store      persistence.Store
	protocols  *protocol.Registry
	dispatcher Dispatcher
}

// New constructs a Manager.
func New(store persistence.Store, protocols *protocol.Registry, dispatcher Dispatcher) *Manager {
	return &Manager{store: store, protocols: protocols, dispatcher: dispatcher}
}

// Submit parses, validates, persists, and enqueues a YAML or JSON workflow
// definition. It returns the created workflow record.
func (m *Manager) Submit(ctx context.Context, data []byte) (*workflow.Workflow, error) {
	def, err := workflow.ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	return m.SubmitDefinition(ctx, def)
}

// SubmitDefinition submits an already-parsed, structurally-valid
// definition: it additionally validates every task's protocol+method
// against the live registry (ValidateDefinition alone cannot, since it
// runs before a registry is available), persists the workflow and its
// materialized tasks, and enqueues them with the dispatcher.
func (m *Manager) SubmitDefinition(ctx context.Context, def *workflow.WorkflowDefinition) (*workflow.Workflow, error) {
	if err := workflow.ValidateAgainstRegistry(def, m.protocols); err != nil {
		return nil, err
	}

	wf := workflow.NewWorkflow(uuid.New().String(), def.Name, workflow.ErrorStrategy(def.ErrorStrategy))
	wf.Description = def.Description

	tasks := workflow.MaterializeTasks(wf.ID, def)
	if err := m.dispatcher.EnqueueWorkflow(ctx, wf, tasks); err != nil {
		return nil, err
	}
	return wf, nil
}

// Status aggregates persisted workflow state — the engine keeps
// CompletedIDs/FailedIDs/TaskResults current on every task outcome, so a
// status read never needs to consult in-memory engine state directly.
func (m *Manager) Status(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	return m.store.GetWorkflow(ctx, workflowID)
}

// Cancel requests cancellation of a running workflow.
func (m *Manager) Cancel(ctx context.Context, workflowID string) error {
	return m.dispatcher.CancelWorkflow(ctx, workflowID)
}
