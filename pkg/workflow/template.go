package workflow

import (
	"bytes"
	"fmt"
	"text/template"
)

// TemplateContext holds the parameter values available when instantiating
// a WorkflowTemplate. Placeholders use Go template syntax, e.g.
// "{{.topic}}", distinct from the engine's runtime "${task.path}"
// substitution syntax (pkg/resolver), which only ever sees the already-
// expanded task definitions.
type TemplateContext struct {
	Params map[string]interface{}
}

// NewTemplateContext creates a new template context with the given
// parameter values.
func NewTemplateContext(params map[string]interface{}) *TemplateContext {
	if params == nil {
		params = make(map[string]interface{})
	}
	return &TemplateContext{Params: params}
}

// ToMap exposes parameters both at the top level ({{.name}}) and under an
// explicit "params" key ({{.params.name}}).
func (tc *TemplateContext) ToMap() map[string]interface{} {
	data := make(map[string]interface{}, len(tc.Params)+1)
	for k, v := range tc.Params {
		data[k] = v
	}
	data["params"] = tc.Params
	return data
}

// ResolveTemplate executes a Go template string with the given context.
func ResolveTemplate(templateStr string, ctx *TemplateContext) (string, error) {
	if ctx == nil {
		ctx = NewTemplateContext(nil)
	}

	tmpl, err := template.New("workflow-template").
		Funcs(TemplateFuncMap()).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx.ToMap()); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// ResolveParams resolves all string values in a task's params map using the
// template context, recursing into nested maps/slices. Used when
// instantiating a WorkflowTemplate before submission.
func ResolveParams(params map[string]interface{}, ctx *TemplateContext) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(params))
	for key, value := range params {
		resolvedVal, err := resolveValue(value, ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve param %q: %w", key, err)
		}
		resolved[key] = resolvedVal
	}
	return resolved, nil
}

func resolveValue(value interface{}, ctx *TemplateContext) (interface{}, error) {
	switch v := value.(type) {
	case string:
		if isPureTemplateRef(v) {
			if rawVal, ok := extractRawValue(v, ctx); ok {
				return rawVal, nil
			}
		}
		resolved, err := resolveOrKeep(v, ctx)
		if err != nil {
			return "", err
		}
		return resolved, nil
	case map[string]interface{}:
		resolved := make(map[string]interface{}, len(v))
		for k, val := range v {
			resolvedVal, err := resolveValue(val, ctx)
			if err != nil {
				return nil, fmt.Errorf("in field %q: %w", k, err)
			}
			resolved[k] = resolvedVal
		}
		return resolved, nil
	case []interface{}:
		resolved := make([]interface{}, len(v))
		for i, val := range v {
			resolvedVal, err := resolveValue(val, ctx)
			if err != nil {
				return nil, fmt.Errorf("at index %d: %w", i, err)
			}
			resolved[i] = resolvedVal
		}
		return resolved, nil
	default:
		return value, nil
	}
}

func resolveOrKeep(s string, ctx *TemplateContext) (string, error) {
	if !containsTemplateSyntax(s) {
		return s, nil
	}

	result, err := ResolveTemplate(s, ctx)
	if err != nil {
		return "", fmt.Errorf("template error in %q: %w", truncateForError(s), err)
	}

	if result == "<no value>" {
		return "", fmt.Errorf("undefined template variable in %q", truncateForError(s))
	}

	return result, nil
}

func truncateForError(s string) string {
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}

func containsTemplateSyntax(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '{' && s[i+1] == '{' {
			return true
		}
	}
	return false
}

// isPureTemplateRef checks if a string is exactly a single template
// reference like "{{.topic}}" with no surrounding text.
func isPureTemplateRef(s string) bool {
	s = trimWhitespace(s)
	if len(s) < 5 {
		return false
	}
	if s[:2] != "{{" || s[len(s)-2:] != "}}" {
		return false
	}
	inner := s[2 : len(s)-2]
	for i := 0; i < len(inner)-1; i++ {
		if inner[i] == '{' && inner[i+1] == '{' {
			return false
		}
		if inner[i] == '}' && inner[i+1] == '}' {
			return false
		}
	}
	return true
}

func trimWhitespace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}

// extractRawValue parses a pure template reference like "{{.topic}}" and
// navigates the context, preserving the referenced value's original type.
func extractRawValue(s string, ctx *TemplateContext) (interface{}, bool) {
	s = trimWhitespace(s)
	inner := trimWhitespace(s[2 : len(s)-2])

	if len(inner) == 0 || inner[0] != '.' {
		return nil, false
	}
	inner = inner[1:]

	parts := splitPath(inner)
	if len(parts) == 0 {
		return nil, false
	}

	data := ctx.ToMap()
	var current interface{} = data

	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		val, ok := m[part]
		if !ok {
			return nil, false
		}
		current = val
	}

	return current, true
}

func splitPath(path string) []string {
	var parts []string
	var current string

	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			if current != "" {
				parts = append(parts, current)
				current = ""
			}
		} else {
			current += string(path[i])
		}
	}
	if current != "" {
		parts = append(parts, current)
	}

	return parts
}

// WorkflowTemplate is a reusable workflow definition with named
// parameters, each carrying an optional default. Instantiate expands
// every "{{.name}}" placeholder in the template's task params against the
// supplied (plus defaulted) values before the result is handed to
// submit().
type WorkflowTemplate struct {
	Name        string                        `yaml:"name" json:"name"`
	Description string                        `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  map[string]*TemplateParameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Definition  WorkflowDefinition            `yaml:"definition" json:"definition"`
}

// TemplateParameter declares one named template parameter. A nil Default
// makes the parameter required: Instantiate fails if the caller omits it.
type TemplateParameter struct {
	Default *interface{} `yaml:"default,omitempty" json:"default,omitempty"`
}

// Instantiate merges the caller-supplied values over each parameter's
// default, rejects missing required parameters, and expands every
// "{{.name}}" placeholder in the template's task params, returning a
// WorkflowDefinition ready for ValidateDefinition/submit.
func (wt *WorkflowTemplate) Instantiate(values map[string]interface{}) (*WorkflowDefinition, error) {
	resolved := make(map[string]interface{}, len(wt.Parameters))
	for name, param := range wt.Parameters {
		if v, ok := values[name]; ok {
			resolved[name] = v
			continue
		}
		if param != nil && param.Default != nil {
			resolved[name] = *param.Default
			continue
		}
		return nil, &templateParamError{Name: name}
	}
	for name, v := range values {
		if _, declared := wt.Parameters[name]; !declared {
			resolved[name] = v
		}
	}

	ctx := NewTemplateContext(resolved)
	def := wt.Definition
	def.Name = wt.Name
	def.Description = wt.Description
	def.Tasks = make([]TaskDefinition, len(wt.Definition.Tasks))
	for i, td := range wt.Definition.Tasks {
		resolvedParams, err := ResolveParams(td.Params, ctx)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", td.Name, err)
		}
		td.Params = resolvedParams
		def.Tasks[i] = td
	}

	autoGenerateTaskIDs(&def)
	applyDefaults(&def)
	if err := ValidateDefinition(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

type templateParamError struct {
	Name string
}

func (e *templateParamError) Error() string {
	return fmt.Sprintf("missing required template parameter %q", e.Name)
}
