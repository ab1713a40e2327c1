// Package memory provides an in-memory persistence backend, suitable for
// single-process runs and tests. Nothing survives process restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gleitzeit/gleitzeit/pkg/errors"
	"github.com/gleitzeit/gleitzeit/pkg/persistence"
	"github.com/gleitzeit/gleitzeit/pkg/task"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"
)

// Compile-time interface assertions.
var (
	_ persistence.TaskStore      = (*Store)(nil)
	_ persistence.WorkflowStore  = (*Store)(nil)
	_ persistence.MetricsStore   = (*Store)(nil)
	_ persistence.LockStore      = (*Store)(nil)
	_ persistence.WorkflowLister = (*Store)(nil)
	_ persistence.TaskLister     = (*Store)(nil)
	_ persistence.Store          = (*Store)(nil)
)

type lockEntry struct {
	owner    string
	expireAt time.Time
}

// Store is an in-memory, mutex-guarded persistence backend.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]*task.Task
	workflows map[string]*workflow.Workflow
	metrics   map[string][]persistence.MetricsSnapshot
	locks     map[string]lockEntry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tasks:     make(map[string]*task.Task),
		workflows: make(map[string]*workflow.Workflow),
		metrics:   make(map[string][]persistence.MetricsSnapshot),
		locks:     make(map[string]lockEntry),
	}
}

// UpsertTask creates or replaces a task record.
func (s *Store) UpsertTask(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "task", ID: id}
	}
	cp := *t
	return &cp, nil
}

// SetTaskStatus transitions a task's status atomically.
func (s *Store) SetTaskStatus(ctx context.Context, id string, status task.Status, startedAt, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return &errors.NotFoundError{Resource: "task", ID: id}
	}
	t.Status = status
	if startedAt != nil {
		t.StartedAt = startedAt
	}
	if completedAt != nil {
		t.CompletedAt = completedAt
	}
	return nil
}

// SetTaskResult records status and result/error in one atomic update, so a
// crash-and-recover never observes status without its matching result.
func (s *Store) SetTaskResult(ctx context.Context, id string, status task.Status, result any, errMsg, kind string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return &errors.NotFoundError{Resource: "task", ID: id}
	}
	t.Status = status
	t.Result = result
	t.Error = errMsg
	t.Kind = kind
	t.CompletedAt = &completedAt
	return nil
}

// ListByWorkflow returns every task belonging to a workflow.
func (s *Store) ListByWorkflow(ctx context.Context, workflowID string) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.WorkflowID == workflowID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CountByStatus tallies tasks in each status for a workflow.
func (s *Store) CountByStatus(ctx context.Context, workflowID string) (map[task.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[task.Status]int)
	for _, t := range s.tasks {
		if t.WorkflowID == workflowID {
			counts[t.Status]++
		}
	}
	return counts, nil
}

// UpsertWorkflow creates or replaces a workflow record.
func (s *Store) UpsertWorkflow(ctx context.Context, w *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workflows[w.ID] = &cp
	return nil
}

// GetWorkflow retrieves a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	cp := *w
	return &cp, nil
}

// SetWorkflowStatus transitions a workflow's state.
func (s *Store) SetWorkflowStatus(ctx context.Context, id string, state workflow.State, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	w.State = state
	w.Error = errMsg
	w.UpdatedAt = time.Now()
	if state.IsTerminal() && w.CompletedAt == nil {
		now := time.Now()
		w.CompletedAt = &now
	}
	return nil
}

// UpdateProgress records newly settled task ids and their results.
func (s *Store) UpdateProgress(ctx context.Context, id string, completedIDs, failedIDs []string, results map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return &errors.NotFoundError{Resource: "workflow", ID: id}
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
	return nil
}

// AppendMetrics records a point-in-time provider metrics snapshot.
func (s *Store) AppendMetrics(ctx context.Context, snapshot persistence.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[snapshot.ProviderID] = append(s.metrics[snapshot.ProviderID], snapshot)
	return nil
}

// ListMetrics returns snapshots for a provider recorded at or after since.
func (s *Store) ListMetrics(ctx context.Context, providerID string, since time.Time) ([]persistence.MetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []persistence.MetricsSnapshot
	for _, snap := range s.metrics[providerID] {
		if !snap.RecordedAt.Before(since) {
			out = append(out, snap)
		}
	}
	return out, nil
}

// Acquire takes resourceID for owner if unheld or expired.
func (s *Store) Acquire(ctx context.Context, resourceID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.locks[resourceID]; ok && existing.owner != owner && existing.expireAt.After(now) {
		return false, nil
	}
	s.locks[resourceID] = lockEntry{owner: owner, expireAt: now.Add(ttl)}
	return true, nil
}

// Extend renews ttl on a lock owner currently holds.
func (s *Store) Extend(ctx context.Context, resourceID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.locks[resourceID]
	if !ok || existing.owner != owner || !existing.expireAt.After(time.Now()) {
		return false, nil
	}
	existing.expireAt = time.Now().Add(ttl)
	s.locks[resourceID] = existing
	return true, nil
}

// Release drops the lock if owner currently holds it.
func (s *Store) Release(ctx context.Context, resourceID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.locks[resourceID]; ok && existing.owner == owner {
		delete(s.locks, resourceID)
	}
	return nil
}

// OwnerOf returns the current lock holder, or "" if unlocked/expired.
func (s *Store) OwnerOf(ctx context.Context, resourceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.locks[resourceID]
	if !ok || !existing.expireAt.After(time.Now()) {
		return "", nil
	}
	return existing.owner, nil
}

// ListByState returns every workflow currently in state, for the engine's
// startup recovery scan.
func (s *Store) ListByState(ctx context.Context, state workflow.State) ([]*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.Workflow
	for _, w := range s.workflows {
		if w.State == state {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListByStatus returns every task currently in status, for the engine's
// startup recovery scan.
func (s *Store) ListByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Close is a no-op; nothing to release for an in-memory store.
func (s *Store) Close() error { return nil }
