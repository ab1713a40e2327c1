// Package batch fans a directory glob out into a workflow with one
// independent task per matched file (plus an optional aggregator task
// that runs once every file task has reached a terminal state), submits
// it through the workflow manager, and collects per-file outcomes into a
// single Result.
package batch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/gleitzeit/gleitzeit/pkg/persistence"
	"github.com/gleitzeit/gleitzeit/pkg/task"
	"github.com/gleitzeit/gleitzeit/pkg/workflow"
	"github.com/gleitzeit/gleitzeit/pkg/workflow/manager"
)

// Submitter is the subset of *manager.Manager this package depends on.
type Submitter interface {
	SubmitDefinition(ctx context.Context, def *workflow.WorkflowDefinition) (*workflow.Workflow, error)
}

var _ Submitter = (*manager.Manager)(nil)

// AggregatorSpec optionally adds one extra task to the batch workflow that
// depends on every file task, for a final summarizing call.
type AggregatorSpec struct {
	Name     string
	Protocol string
	Method   string
	Params   map[string]interface{}
}

// Processor runs batch jobs: glob a directory, build one task per match,
// submit, and poll persistence for the aggregated result.
type Processor struct {
	store        persistence.Store
	submitter    Submitter
	pollInterval time.Duration
}

// New constructs a Processor.
func New(store persistence.Store, submitter Submitter) *Processor {
	return &Processor{store: store, submitter: submitter, pollInterval: 50 * time.Millisecond}
}

// Run globs pattern, builds one task per match calling protocolID/method
// with paramsTemplate (its string values may reference "{{.path}}" via the
// same template syntax as WorkflowTemplate), submits the resulting
// workflow, and blocks until it reaches a terminal state or ctx is done.
func (p *Processor) Run(ctx context.Context, pattern, protocolID, method string, paramsTemplate map[string]interface{}, aggregator *AggregatorSpec) (*Result, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return &Result{Results: map[string]ItemResult{}}, nil
	}
	sort.Strings(matches)

	def := &workflow.WorkflowDefinition{
		Name:          fmt.Sprintf("batch: %s", pattern),
		ErrorStrategy: string(workflow.ErrorStrategyContinue),
	}

	fileTaskNames := make([]string, 0, len(matches))
	for _, path := range matches {
		tmplCtx := workflow.NewTemplateContext(map[string]interface{}{"path": path})
		params, err := workflow.ResolveParams(paramsTemplate, tmplCtx)
		if err != nil {
			return nil, fmt.Errorf("resolving params for %q: %w", path, err)
		}
		def.Tasks = append(def.Tasks, workflow.TaskDefinition{
			Name: path, Protocol: protocolID, Method: method, Params: params,
		})
		fileTaskNames = append(fileTaskNames, path)
	}

	if aggregator != nil {
		name := aggregator.Name
		if name == "" {
			name = "aggregate"
		}
		def.Tasks = append(def.Tasks, workflow.TaskDefinition{
			Name: name, Protocol: aggregator.Protocol, Method: aggregator.Method,
			Params: aggregator.Params, Dependencies: fileTaskNames,
		})
	}

	wf, err := p.submitter.SubmitDefinition(ctx, def)
	if err != nil {
		return nil, err
	}

	if err := p.awaitTerminal(ctx, wf.ID); err != nil {
		return nil, err
	}

	return p.collect(ctx, wf.ID, fileTaskNames)
}

func (p *Processor) awaitTerminal(ctx context.Context, workflowID string) error {
	for {
		wf, err := p.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf.State.IsTerminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

func (p *Processor) collect(ctx context.Context, workflowID string, fileTaskNames []string) (*Result, error) {
	wf, err := p.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	tasks, err := p.store.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byName[t.Name] = t
	}

	result := &Result{Results: make(map[string]ItemResult, len(fileTaskNames))}
	for _, name := range fileTaskNames {
		t, ok := byName[name]
		if !ok {
			continue
		}
		result.Total++
		switch t.Status {
		case task.StatusCompleted:
			result.Successful++
			result.Results[name] = ItemResult{Status: string(t.Status), Content: t.Result}
		default:
			result.Failed++
			result.Results[name] = ItemResult{Status: string(t.Status), Error: t.Error}
		}
	}

	if wf.StartedAt != nil && wf.CompletedAt != nil {
		result.Duration = wf.CompletedAt.Sub(*wf.StartedAt)
	}
	return result, nil
}
