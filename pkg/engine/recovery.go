package engine

import (
	"context"
	"time"

	"github.com/gleitzeit/gleitzeit/pkg/errors"
	"github.com/gleitzeit/gleitzeit/pkg/persistence"
	"github.com/gleitzeit/gleitzeit/pkg/resolver"
	"github.com/gleitzeit/gleitzeit/pkg/task"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"
)

// Recover scans persistence for workflows and tasks left RUNNING by a
// previous crash, fails the in-flight tasks with CrashRecovered, re-derives
// readiness from what actually completed, and resumes each workflow from
// there. It is a no-op against a backend that doesn't implement the
// optional listing interfaces.
func (e *Engine) Recover(ctx context.Context) error {
	wfLister, ok := e.store.(persistence.WorkflowLister)
	if !ok {
		e.log.Warn("recovery skipped: persistence backend does not support workflow listing")
		return nil
	}
	taskLister, ok := e.store.(persistence.TaskLister)
	if !ok {
		e.log.Warn("recovery skipped: persistence backend does not support task listing")
		return nil
	}

	running, err := wfLister.ListByState(ctx, workflow.StateRunning)
	if err != nil {
		return &errors.PersistenceError{Op: "list_running_workflows", Cause: err}
	}

	crashedTasks, err := taskLister.ListByStatus(ctx, task.StatusRunning)
	if err != nil {
		return &errors.PersistenceError{Op: "list_running_tasks", Cause: err}
	}
	crashedByWorkflow := make(map[string][]*task.Task)
	for _, t := range crashedTasks {
		crashedByWorkflow[t.WorkflowID] = append(crashedByWorkflow[t.WorkflowID], t)
	}

	for _, wf := range running {
		if err := e.recoverWorkflow(ctx, wf, crashedByWorkflow[wf.ID]); err != nil {
			e.log.Error("failed to recover workflow", "workflow_id", wf.ID, "error", err)
		}
	}
	return nil
}

func (e *Engine) recoverWorkflow(ctx context.Context, wf *workflow.Workflow, crashed []*task.Task) error {
	now := time.Now()
	for _, t := range crashed {
		cr := &errors.CrashRecovered{TaskID: t.ID}
		if err := e.store.SetTaskResult(ctx, t.ID, task.StatusFailed, nil, cr.Error(), cr.ErrorType(), now); err != nil {
			return err
		}
	}

	tasks, err := e.store.ListByWorkflow(ctx, wf.ID)
	if err != nil {
		return err
	}

	idByName := make(map[string]string, len(tasks))
	tasksByID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		idByName[t.Name] = t.ID
		tasksByID[t.ID] = t
	}
	paramRefs, err := workflow.SubstitutionRefs(tasks)
	if err != nil {
		return err
	}

	res := resolver.New(workflow.DependencyGraph(tasks))
	var stillPending []*task.Task
	var newlyCrashedFailedIDs []string
	var cascadedFailedIDs []string
	var completedIDs []string
	readyNow := make(map[string]bool)
	for _, id := range res.Ready() {
		readyNow[id] = true
	}

	for _, t := range tasks {
		switch t.Status {
		case task.StatusCompleted:
			completedIDs = append(completedIDs, t.ID)
			for _, id := range res.MarkCompleted(t.ID, t.Result) {
				readyNow[id] = true
			}
		case task.StatusFailed:
			cascaded := res.MarkFailed(t.ID, string(wf.ErrorStrategy), paramRefs)
			if wasJustCrashed(t.ID, crashed) {
				newlyCrashedFailedIDs = append(newlyCrashedFailedIDs, t.ID)
			}
			cascadedFailedIDs = append(cascadedFailedIDs, cascaded...)
		case task.StatusCancelled:
			res.MarkFailed(t.ID, string(wf.ErrorStrategy), paramRefs)
		default:
			stillPending = append(stillPending, t)
		}
	}

	if len(completedIDs) > 0 || len(newlyCrashedFailedIDs) > 0 || len(cascadedFailedIDs) > 0 {
		if err := e.store.UpdateProgress(ctx, wf.ID, completedIDs, append(newlyCrashedFailedIDs, cascadedFailedIDs...), nil); err != nil {
			return err
		}
	}

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
	e.mu.Lock()
	e.workflows[wf.ID] = state
	e.mu.Unlock()

	if len(stillPending) == 0 {
		e.checkCompletion(ctx, state, wf.ID)
		return nil
	}

	e.queue.EnqueueBatch(stillPending, func(t *task.Task) bool { return readyNow[t.ID] })
	return nil
}

func wasJustCrashed(id string, crashed []*task.Task) bool {
	for _, t := range crashed {
		if t.ID == id {
			return true
		}
	}
	return false
}
