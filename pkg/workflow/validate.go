package workflow

import (
	"fmt"

	"github.com/gleitzeit/gleitzeit/pkg/errors"
	"github.com/gleitzeit/gleitzeit/pkg/protocol"
	"github.com/gleitzeit/gleitzeit/pkg/resolver"
	"github.com/gleitzeit/gleitzeit/pkg/task"
)

// ValidateDefinition performs the structural checks that do not require a
// protocol registry: non-empty name, unique ids, resolvable
// dependency references, and acyclicity. submit() additionally calls
// ValidateAgainstRegistry once a *protocol.Registry is available.
func ValidateDefinition(def *WorkflowDefinition) error {
	if def.Name == "" {
		return &errors.ValidationError{Field: "name", Message: "workflow name is required"}
	}
	if def.ErrorStrategy != "" &&
		def.ErrorStrategy != string(ErrorStrategyStop) &&
		def.ErrorStrategy != string(ErrorStrategyContinue) {
		return &errors.ValidationError{
			Field:   "error_strategy",
			Message: fmt.Sprintf("must be %q or %q, got %q", ErrorStrategyStop, ErrorStrategyContinue, def.ErrorStrategy),
		}
	}

	idsByName := make(map[string]string, len(def.Tasks))
	idsByID := make(map[string]bool, len(def.Tasks))
	for _, t := range def.Tasks {
		if t.Name == "" {
			return &errors.ValidationError{Field: "tasks[].name", Message: "task name is required"}
		}
		if t.Protocol == "" || t.Method == "" {
			return &errors.ValidationError{
				Field:   "tasks[].protocol/method",
				Message: fmt.Sprintf("task %q must name a protocol and method", t.Name),
			}
		}
		if idsByID[t.ID] {
			return &errors.ValidationError{Field: "tasks[].id", Message: fmt.Sprintf("duplicate task id %q", t.ID)}
		}
		idsByID[t.ID] = true
		idsByName[t.Name] = t.ID
	}

	deps := make(map[string][]string, len(def.Tasks))
	for _, t := range def.Tasks {
		resolvedDeps := make([]string, 0, len(t.Dependencies))
		for _, d := range t.Dependencies {
			id := d
			if byName, ok := idsByName[d]; ok {
				id = byName
			}
			if !idsByID[id] {
				return &errors.ValidationError{
					Field:   "tasks[].dependencies",
					Message: fmt.Sprintf("task %q depends on unknown task %q", t.Name, d),
				}
			}
			resolvedDeps = append(resolvedDeps, id)
		}
		deps[t.ID] = resolvedDeps
	}

	if cycle := findCycle(deps); cycle != "" {
		return &errors.ValidationError{
			Field:   "tasks[].dependencies",
			Message: fmt.Sprintf("dependency cycle detected at task %q", cycle),
		}
	}

	// Static substitution check: every ${ref...} token must reference a
	// task within the referencing task's transitive dependency set.
	for _, t := range def.Tasks {
		refs, err := resolver.ExtractReferences(t.Params)
		if err != nil {
			return &errors.ValidationError{
				Field:   "tasks[].params",
				Message: fmt.Sprintf("task %q: %v", t.Name, err),
			}
		}
		transitive := transitiveDeps(deps, t.ID)
		for _, ref := range refs {
			refID := ref
			if byName, ok := idsByName[ref]; ok {
				refID = byName
			}
			if !transitive[refID] {
				return &errors.ValidationError{
					Field: "tasks[].params",
					Message: fmt.Sprintf(
						"task %q references %q via substitution but does not declare it as a dependency",
						t.Name, ref,
					),
				}
			}
		}
	}

	return nil
}

// ValidateAgainstRegistry additionally checks that every task's
// (protocol, method) pair exists, given the concrete registry it will
// dispatch against at runtime.
func ValidateAgainstRegistry(def *WorkflowDefinition, registry *protocol.Registry) error {
	for _, t := range def.Tasks {
		if _, err := registry.ValidateCall(t.Protocol, t.Method, t.Params); err != nil {
			var methodErr *errors.MethodNotSupported
			if !errorsAs(err, &methodErr) {
				return err
			}
			return &errors.ValidationError{
				Field:   "tasks[].method",
				Message: fmt.Sprintf("task %q: %v", t.Name, err),
			}
		}
	}
	return nil
}

func errorsAs(err error, target interface{}) bool {
	return errors.As(err, target)
}

func findCycle(deps map[string][]string) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(deps))
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}
	for id := range deps {
		if color[id] == white {
			if c := visit(id); c != "" {
				return c
			}
		}
	}
	return ""
}

func transitiveDeps(deps map[string][]string, id string) map[string]bool {
	seen := map[string]bool{}
	var visit func(string)
	visit = func(cur string) {
		for _, dep := range deps[cur] {
			if !seen[dep] {
				seen[dep] = true
				visit(dep)
			}
		}
	}
	visit(id)
	return seen
}

// PriorityOf resolves a task's declared priority string, defaulting to
// task.PriorityNormal on an empty or unrecognized value.
func PriorityOf(t *TaskDefinition) task.Priority {
	p, _ := task.ParsePriority(t.Priority)
	return p
}
