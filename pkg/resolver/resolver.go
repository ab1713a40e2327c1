// Package resolver implements dependency readiness tracking and the
// "${key.path}" parameter substitution grammar used to splice prior task
// results into a task's params before dispatch.
package resolver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gleitzeit/gleitzeit/pkg/errors"
)

// Resolver tracks, per workflow, how many unresolved dependencies each task
// has left and the results produced so far. It is not safe for concurrent
// use by multiple goroutines on the same workflow id; callers (the engine)
// serialize access per workflow.
type Resolver struct {
	pendingDeps map[string]map[string]bool // taskID -> set of unresolved dependency ids
	dependents  map[string][]string        // taskID -> ids that depend on it
	results     map[string]interface{}     // taskID -> stored result
	failed      map[string]bool
}

// New builds a Resolver for a single workflow's task graph. deps maps each
// task id to the (already name-to-id resolved) ids it depends on.
func New(deps map[string][]string) *Resolver {
	r := &Resolver{
		pendingDeps: make(map[string]map[string]bool, len(deps)),
		dependents:  make(map[string][]string, len(deps)),
		results:     make(map[string]interface{}),
		failed:      make(map[string]bool),
	}
	for id, ds := range deps {
		set := make(map[string]bool, len(ds))
		for _, d := range ds {
			set[d] = true
			r.dependents[d] = append(r.dependents[d], id)
		}
		r.pendingDeps[id] = set
	}
	return r
}

// Ready reports the ids with no unresolved dependencies at construction
// time — the initial ready set before any task completes.
func (r *Resolver) Ready() []string {
	var ready []string
	for id, deps := range r.pendingDeps {
		if len(deps) == 0 {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkCompleted records a task's result and returns the ids of dependents
// that just became ready (this was their last unresolved dependency).
func (r *Resolver) MarkCompleted(taskID string, result interface{}) []string {
	r.results[taskID] = result

	var newlyReady []string
	for _, dependent := range r.dependents[taskID] {
		deps := r.pendingDeps[dependent]
		delete(deps, taskID)
		if len(deps) == 0 {
			newlyReady = append(newlyReady, dependent)
		}
	}
	return newlyReady
}

// MarkFailed records a failure and propagates it per errorStrategy,
// returning the ids that must themselves be failed with DependencyFailed.
// Under "stop" every transitive dependent is failed. Under "continue" only
// direct dependents whose params substitution-reference the failed task
// are failed; dependents that merely ordered after it may still become
// ready once their other dependencies clear (paramRefs supplies, per
// candidate dependent id, the set of task ids its params reference).
func (r *Resolver) MarkFailed(taskID string, errorStrategy string, paramRefs map[string][]string) []string {
	r.failed[taskID] = true

	if errorStrategy == "continue" {
		var toFail []string
		for _, dependent := range r.dependents[taskID] {
			if referencesResult(paramRefs[dependent], taskID) {
				toFail = append(toFail, dependent)
			} else {
				deps := r.pendingDeps[dependent]
				delete(deps, taskID)
			}
		}
		return toFail
	}

	// stop: fail the entire transitive dependent closure.
	seen := map[string]bool{}
	var queue []string
	queue = append(queue, r.dependents[taskID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		queue = append(queue, r.dependents[id]...)
	}
	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	return result
}

func referencesResult(refs []string, taskID string) bool {
	for _, ref := range refs {
		if ref == taskID {
			return true
		}
	}
	return false
}

// Result returns the stored result for a completed task, if any.
func (r *Resolver) Result(taskID string) (interface{}, bool) {
	v, ok := r.results[taskID]
	return v, ok
}

// --- Parameter substitution -------------------------------------------

// ExtractReferences scans a params tree and returns the distinct task keys
// (name or id) referenced by "${key...}" tokens in its string leaves. Used
// at submission time for the static substitution check.
func ExtractReferences(params map[string]interface{}) ([]string, error) {
	seen := map[string]bool{}
	var order []string
	err := walkStrings(params, func(s string) error {
		tokens, err := findTokens(s)
		if err != nil {
			return err
		}
		for _, tok := range tokens {
			key := strings.SplitN(tok, ".", 2)[0]
			if !seen[key] {
				seen[key] = true
				order = append(order, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// SubstituteParams resolves every "${key.path}" token in params against
// resolved task results (keyed by task id, with name aliases also present
// in lookup). lookup maps a reference key (name or id) to the stored
// result of the task that produced it.
func SubstituteParams(params map[string]interface{}, lookup func(key string) (interface{}, bool)) (map[string]interface{}, error) {
	out, err := substituteValue(params, lookup)
	if err != nil {
		return nil, err
	}
	return out.(map[string]interface{}), nil
}

func substituteValue(value interface{}, lookup func(string) (interface{}, bool)) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return substituteString(v, lookup)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			resolved, err := substituteValue(val, lookup)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			resolved, err := substituteValue(val, lookup)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func substituteString(s string, lookup func(string) (interface{}, bool)) (interface{}, error) {
	if ref, ok := pureToken(s); ok {
		return resolveRef(ref, lookup)
	}

	var b strings.Builder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${")
		if start == -1 {
			b.WriteString(s[i:])
			break
		}
		start += i
		b.WriteString(s[i:start])
		end := strings.Index(s[start:], "}")
		if end == -1 {
			return nil, &errors.SubstitutionError{Token: s[start:], Reason: "unterminated token"}
		}
		end += start
		ref := s[start+2 : end]
		resolved, err := resolveRef(ref, lookup)
		if err != nil {
			return nil, err
		}
		b.WriteString(canonicalString(resolved))
		i = end + 1
	}
	return b.String(), nil
}

// pureToken reports whether s is exactly one "${ref}" token with no
// surrounding text, returning its inner ref.
func pureToken(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	inner := s[2 : len(s)-1]
	if strings.ContainsAny(inner, "{}") {
		return "", false
	}
	return inner, true
}

func resolveRef(ref string, lookup func(string) (interface{}, bool)) (interface{}, error) {
	parts := strings.Split(ref, ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil, &errors.SubstitutionError{Token: ref, Reason: "empty reference"}
	}

	current, ok := lookup(parts[0])
	if !ok {
		return nil, &errors.SubstitutionError{Token: ref, Reason: fmt.Sprintf("no result available for %q", parts[0])}
	}

	for _, segment := range parts[1:] {
		next, err := step(current, segment)
		if err != nil {
			return nil, &errors.SubstitutionError{Token: ref, Reason: err.Error()}
		}
		current = next
	}
	return current, nil
}

func step(current interface{}, segment string) (interface{}, error) {
	switch c := current.(type) {
	case map[string]interface{}:
		v, ok := c[segment]
		if !ok {
			return nil, fmt.Errorf("key %q not found", segment)
		}
		return v, nil
	case []interface{}:
		idx, err := strconv.Atoi(segment)
		if err != nil {
			return nil, fmt.Errorf("index %q is not numeric", segment)
		}
		if idx < 0 || idx >= len(c) {
			return nil, fmt.Errorf("index %d out of range", idx)
		}
		return c[idx], nil
	default:
		return nil, fmt.Errorf("cannot navigate into %T with segment %q", current, segment)
	}
}

func canonicalString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

// findTokens returns the raw ref contents of every "${...}" token in s.
func findTokens(s string) ([]string, error) {
	var tokens []string
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${")
		if start == -1 {
			break
		}
		start += i
		end := strings.Index(s[start:], "}")
		if end == -1 {
			return nil, &errors.SubstitutionError{Token: s[start:], Reason: "unterminated token"}
		}
		end += start
		tokens = append(tokens, s[start+2:end])
		i = end + 1
	}
	return tokens, nil
}

func walkStrings(value interface{}, fn func(string) error) error {
	switch v := value.(type) {
	case string:
		return fn(v)
	case map[string]interface{}:
		for _, val := range v {
			if err := walkStrings(val, fn); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, val := range v {
			if err := walkStrings(val, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
