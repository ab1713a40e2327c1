package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/gleitzeit/gleitzeit/pkg/errors"
)

// TaskDefinition is the declarative (YAML/JSON) shape of a single task
// inside a WorkflowDefinition, before it is materialized into a task.Task.
type TaskDefinition struct {
	ID           string                 `yaml:"id,omitempty" json:"id,omitempty"`
	Name         string                 `yaml:"name" json:"name"`
	Protocol     string                 `yaml:"protocol" json:"protocol"`
	Method       string                 `yaml:"method" json:"method"`
	Params       map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
	Dependencies []string               `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Priority     string                 `yaml:"priority,omitempty" json:"priority,omitempty"`
	Retry        *RetryDefinition       `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// RetryDefinition is the declarative shape of task.RetryPolicy.
type RetryDefinition struct {
	MaxAttempts  int     `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	InitialDelay float64 `yaml:"initial_delay,omitempty" json:"initial_delay,omitempty"`
	Multiplier   float64 `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
	MaxDelay     float64 `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
	Strategy     string  `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Jitter       bool    `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// WorkflowDefinition is the top-level declarative shape accepted by
// submit(): either YAML or JSON, same schema. Unknown top-level keys are
// rejected (UnmarshalYAML below checks every top-level key against the
// known fields).
type WorkflowDefinition struct {
	Name          string           `yaml:"name" json:"name"`
	Description   string           `yaml:"description,omitempty" json:"description,omitempty"`
	ErrorStrategy string           `yaml:"error_strategy,omitempty" json:"error_strategy,omitempty"`
	// MaxConcurrentTasks is accepted and kept on the parsed definition.
	// The engine does not read it: every workflow's tasks share the
	// engine-wide worker pool (engine.Config.MaxConcurrentTasks).
	MaxConcurrentTasks int              `yaml:"max_concurrent_tasks,omitempty" json:"max_concurrent_tasks,omitempty"`
	Tasks              []TaskDefinition `yaml:"tasks" json:"tasks"`
}

// UnmarshalYAML rejects unknown top-level keys, matching the teacher's
// strict-decode convention for declarative definitions.
func (w *WorkflowDefinition) UnmarshalYAML(value *yaml.Node) error {
	type alias WorkflowDefinition
	var a alias

	type strictCheck struct {
		Name               string           `yaml:"name"`
		Description        string           `yaml:"description"`
		ErrorStrategy      string           `yaml:"error_strategy"`
		MaxConcurrentTasks int              `yaml:"max_concurrent_tasks"`
		Tasks              []TaskDefinition `yaml:"tasks"`
	}
	var sc strictCheck
	if err := value.Decode(&sc); err != nil {
		return err
	}

	if value.Kind == yaml.MappingNode {
		known := map[string]bool{
			"name": true, "description": true, "error_strategy": true,
			"max_concurrent_tasks": true, "tasks": true,
		}
		for i := 0; i+1 < len(value.Content); i += 2 {
			if key := value.Content[i].Value; !known[key] {
				return fmt.Errorf("unknown top-level field %q", key)
			}
		}
	}

	if err := value.Decode(&a); err != nil {
		return err
	}
	*w = WorkflowDefinition(a)
	return nil
}

// ParseDefinition parses a YAML or JSON workflow definition, auto-generates
// missing task IDs, applies defaults, and validates the result. Both YAML
// and JSON are accepted against the same schema (JSON is valid YAML).
func ParseDefinition(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &errors.ValidationError{
			Field:   "workflow",
			Message: fmt.Sprintf("failed to parse workflow definition: %v", err),
		}
	}

	autoGenerateTaskIDs(&def)
	applyDefaults(&def)

	if err := ValidateDefinition(&def); err != nil {
		return nil, err
	}

	return &def, nil
}

// autoGenerateTaskIDs derives an id from each task's name when absent, and
// falls back to a generated uuid if the name is also empty or a duplicate.
func autoGenerateTaskIDs(def *WorkflowDefinition) {
	seen := make(map[string]bool, len(def.Tasks))
	for i := range def.Tasks {
		t := &def.Tasks[i]
		if t.ID == "" {
			t.ID = slugify(t.Name)
		}
		if t.ID == "" || seen[t.ID] {
			t.ID = uuid.New().String()
		}
		seen[t.ID] = true
	}
}

func slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// applyDefaults fills in the engine's default error_strategy and priority.
func applyDefaults(def *WorkflowDefinition) {
	if def.ErrorStrategy == "" {
		def.ErrorStrategy = string(ErrorStrategyStop)
	}
	for i := range def.Tasks {
		if def.Tasks[i].Priority == "" {
			def.Tasks[i].Priority = "normal"
		}
	}
}

// ParseDefinitionJSON is a thin convenience wrapper for callers already
// holding JSON bytes; ParseDefinition already accepts JSON directly since
// JSON is valid YAML, but this documents the entry point explicitly for
// API callers that only ever see JSON (e.g. an HTTP submit endpoint).
func ParseDefinitionJSON(data []byte) (*WorkflowDefinition, error) {
	var probe json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &errors.ValidationError{Field: "workflow", Message: "not valid JSON"}
	}
	return ParseDefinition(data)
}
