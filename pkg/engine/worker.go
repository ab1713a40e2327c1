package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gleitzeit/gleitzeit/pkg/errors"
	"github.com/gleitzeit/gleitzeit/pkg/provider"
	"github.com/gleitzeit/gleitzeit/pkg/provider/balancer"
	"github.com/gleitzeit/gleitzeit/pkg/provider/retry"
	"github.com/gleitzeit/gleitzeit/pkg/resolver"
	"github.com/gleitzeit/gleitzeit/pkg/task"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"
)

func (e *Engine) runWorker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopped:
			return
		case <-ctx.Done():
			return
		default:
		}

		t, err := e.queue.DequeueWait(ctx, e.supportsProtocolMethod)
		if err != nil {
			return // ctx done or queue closed
		}

		state, ok := e.workflowState(t.WorkflowID)
		if !ok {
			// Workflow was cancelled/forgotten between enqueue and dequeue.
			continue
		}
		e.dispatch(ctx, state, t)
	}
}

// dispatch runs the engine's main-loop steps for one task: transition to
// RUNNING, substitute params, validate against the protocol registry,
// select and call a provider instance, and feed the outcome back into the
// workflow's resolver.
func (e *Engine) dispatch(ctx context.Context, state *workflowState, t *task.Task) {
	ctx, span := e.startTaskDispatch(ctx, t)
	var dispatchErr error
	defer func() { span.end(dispatchErr) }()

	now := time.Now()
	if err := e.store.SetTaskStatus(ctx, t.ID, task.StatusRunning, &now, nil); err != nil {
		e.log.Error("persist task running status failed", "task_id", t.ID, "error", err)
	}

	lookup := func(key string) (interface{}, bool) {
		if id, ok := state.idByName[key]; ok {
			return state.resolver.Result(id)
		}
		return state.resolver.Result(key)
	}

	params, err := resolver.SubstituteParams(t.Params, lookup)
	if err != nil {
		dispatchErr = err
		e.finalizeFailure(ctx, state, t, err, false)
		return
	}

	if _, err := e.protocols.ValidateCall(t.Protocol, t.Method, params); err != nil {
		dispatchErr = err
		e.finalizeFailure(ctx, state, t, err, false)
		return
	}

	inst, err := e.selectProvider(state.ctx, t.Protocol, t.Method)
	if err != nil {
		dispatchErr = err
		e.finalizeFailure(ctx, state, t, err, false)
		return
	}
	span.setAttempt(inst.ProviderID, 0)

	policy := t.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}

	result, attempts, err := retry.Execute(state.ctx, policy, nil, func(callCtx context.Context, attempt int) (interface{}, error) {
		inst.Metrics.RecordStart()
		inst.Prom.ObserveStart(inst.ProviderID, inst.ProtocolID)
		start := time.Now()
		v, callErr := invokeProvider(callCtx, inst, t.Method, params, e.cfg.CallTimeout, e.cfg.CancelGracePeriod)
		elapsed := time.Since(start)
		inst.Metrics.RecordFinish(elapsed, callErr)
		inst.Prom.ObserveFinish(inst.ProviderID, inst.ProtocolID, elapsed, callErr)
		if callErr != nil {
			e.breakers.For(inst.ProviderID).RecordFailure()
		} else {
			e.breakers.For(inst.ProviderID).RecordSuccess()
		}
		return v, callErr
	})
	span.setAttempt(inst.ProviderID, attempts)

	if err != nil {
		dispatchErr = err
		e.finalizeFailure(ctx, state, t, err, true)
		return
	}
	e.finalizeSuccess(ctx, state, t, result)
}

// selectProvider retries candidate selection for up to
// cfg.ProviderWaitTimeout, giving a provider whose circuit just tripped
// open a chance to be replaced by another instance or to recover.
func (e *Engine) selectProvider(ctx context.Context, protocolID, method string) (*provider.Instance, error) {
	deadline := time.Now().Add(e.cfg.ProviderWaitTimeout)
	strategy := balancer.Strategy(e.cfg.BalancerStrategy)

	for {
		candidates := e.providers.Candidates(protocolID, method, nil, e.breakers.Allows)
		if inst, ok := e.balancer.Select(protocolID, method, strategy, candidates, ""); ok {
			return inst, nil
		}
		if time.Now().After(deadline) {
			return nil, &errors.ProviderUnavailable{ProtocolID: protocolID, Reason: "no eligible provider instance within provider_wait_timeout"}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// invokeProvider calls inst.Impl.Handle under a per-call timeout. If ctx
// is cancelled (workflow cancellation) before Handle returns, the call is
// given cancelGrace to return voluntarily before this gives up on it.
func invokeProvider(ctx context.Context, inst *provider.Instance, method string, params map[string]interface{}, timeout, cancelGrace time.Duration) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := inst.Impl.Handle(callCtx, method, params)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-callCtx.Done():
		select {
		case o := <-done:
			return o.value, o.err
		case <-time.After(cancelGrace):
			return nil, callCtx.Err()
		}
	}
}

func (e *Engine) finalizeSuccess(ctx context.Context, state *workflowState, t *task.Task, result interface{}) {
	now := time.Now()
	if err := e.store.SetTaskResult(ctx, t.ID, task.StatusCompleted, result, "", "", now); err != nil {
		e.log.Error("persist task result failed", "task_id", t.ID, "error", err)
	}

	state.mu.Lock()
	newlyReady := state.resolver.MarkCompleted(t.ID, result)
	state.mu.Unlock()

	readySet := make(map[string]bool, len(newlyReady))
	for _, id := range newlyReady {
		readySet[id] = true
	}
	e.queue.MarkCompleted(t.ID, func(held *task.Task) bool { return readySet[held.ID] })

	if err := e.store.UpdateProgress(ctx, t.WorkflowID, []string{t.ID}, nil, map[string]any{t.ID: result}); err != nil {
		e.log.Error("persist workflow progress failed", "workflow_id", t.WorkflowID, "error", err)
	}

	e.checkCompletion(ctx, state, t.WorkflowID)
}

func (e *Engine) finalizeFailure(ctx context.Context, state *workflowState, t *task.Task, taskErr error, viaCancellation bool) {
	now := time.Now()
	status := task.StatusFailed
	if viaCancellation && state.ctx.Err() != nil {
		status = task.StatusCancelled
	}
	if err := e.store.SetTaskResult(ctx, t.ID, status, nil, taskErr.Error(), errKind(taskErr), now); err != nil {
		e.log.Error("persist task failure failed", "task_id", t.ID, "error", err)
	}

	state.mu.Lock()
	cascaded := state.resolver.MarkFailed(t.ID, string(state.errorStrategy), state.paramRefs)
	state.mu.Unlock()
	e.queue.MarkFailed(cascaded)

	for _, id := range cascaded {
		dep := &errors.DependencyFailed{TaskID: id, DependsOnID: t.ID}
		if err := e.store.SetTaskResult(ctx, id, task.StatusFailed, nil, dep.Error(), dep.ErrorType(), now); err != nil {
			e.log.Error("persist cascaded failure failed", "task_id", id, "error", err)
		}
	}

	failedIDs := append([]string{t.ID}, cascaded...)
	if err := e.store.UpdateProgress(ctx, t.WorkflowID, nil, failedIDs, nil); err != nil {
		e.log.Error("persist workflow progress failed", "workflow_id", t.WorkflowID, "error", err)
	}

	e.checkCompletion(ctx, state, t.WorkflowID)
}

func (e *Engine) checkCompletion(ctx context.Context, state *workflowState, workflowID string) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		e.log.Error("load workflow for completion check failed", "workflow_id", workflowID, "error", err)
		return
	}

	state.mu.Lock()
	cancelledCount := len(state.cancelledIDs)
	cancelled := state.cancelled
	done := wf.IsDone(cancelledCount)
	state.mu.Unlock()
	if !done {
		return
	}

	final := workflow.StateCompleted
	var finalErr error
	switch {
	case cancelled:
		final = workflow.StateCancelled
	case len(wf.FailedIDs) > 0:
		final = workflow.StateFailed
		finalErr = fmt.Errorf("workflow %s finished with %d failed task(s)", workflowID, len(wf.FailedIDs))
	}
	if err := e.store.SetWorkflowStatus(ctx, workflowID, final, ""); err != nil {
		e.log.Error("persist workflow completion failed", "workflow_id", workflowID, "error", err)
	}
	state.span.end(finalErr)
	e.forgetWorkflow(workflowID)
}
