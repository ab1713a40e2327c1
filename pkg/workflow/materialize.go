package workflow

import (
	"time"

	"github.com/gleitzeit/gleitzeit/pkg/resolver"
	"github.com/gleitzeit/gleitzeit/pkg/task"
)

// MaterializeTasks converts a validated WorkflowDefinition's declarative
// TaskDefinitions into task.Task entities ready for persistence and
// enqueueing, resolving each dependency (named by id or by task name) to
// its canonical task id.
func MaterializeTasks(workflowID string, def *WorkflowDefinition) []*task.Task {
	idByName := make(map[string]string, len(def.Tasks))
	for _, td := range def.Tasks {
		idByName[td.Name] = td.ID
	}

	now := time.Now()
	tasks := make([]*task.Task, 0, len(def.Tasks))
	for _, td := range def.Tasks {
		priority, _ := task.ParsePriority(td.Priority)
		tasks = append(tasks, &task.Task{
			ID:           td.ID,
			WorkflowID:   workflowID,
			Name:         td.Name,
			Protocol:     td.Protocol,
			Method:       td.Method,
			Params:       td.Params,
			Dependencies: resolveDependencyIDs(td.Dependencies, idByName),
			Priority:     priority,
			Retry:        materializeRetry(td.Retry),
			Status:       task.StatusQueued,
			CreatedAt:    now,
		})
	}
	return tasks
}

func resolveDependencyIDs(deps []string, idByName map[string]string) []string {
	out := make([]string, len(deps))
	for i, d := range deps {
		if id, ok := idByName[d]; ok {
			out[i] = id
		} else {
			out[i] = d
		}
	}
	return out
}

func materializeRetry(r *RetryDefinition) task.RetryPolicy {
	if r == nil {
		return task.RetryPolicy{}
	}
	return task.RetryPolicy{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: time.Duration(r.InitialDelay * float64(time.Second)),
		Multiplier:   r.Multiplier,
		MaxDelay:     time.Duration(r.MaxDelay * float64(time.Second)),
		Strategy:     task.RetryStrategy(r.Strategy),
		Jitter:       r.Jitter,
	}
}

// DependencyGraph returns, for every task, its dependencies keyed by
// canonical task id — the shape pkg/resolver and pkg/engine operate on.
func DependencyGraph(tasks []*task.Task) map[string][]string {
	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		deps[t.ID] = t.Dependencies
	}
	return deps
}

// SubstitutionRefs extracts, for every task, the set of prior-task ids its
// params reference via "${...}" substitution — used by the resolver's
// error_strategy=continue branch to decide which dependents a failure
// actually invalidates versus which only needed ordering.
func SubstitutionRefs(tasks []*task.Task) (map[string][]string, error) {
	idByName := make(map[string]string, len(tasks))
	for _, t := range tasks {
		idByName[t.Name] = t.ID
	}

	refs := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		raw, err := resolver.ExtractReferences(t.Params)
		if err != nil {
			return nil, err
		}
		resolved := make([]string, len(raw))
		for i, r := range raw {
			resolved[i] = r
			if id, ok := idByName[r]; ok {
				resolved[i] = id
			}
		}
		refs[t.ID] = resolved
	}
	return refs, nil
}
