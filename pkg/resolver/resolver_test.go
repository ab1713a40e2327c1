package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gleitzeit/gleitzeit/pkg/resolver"
)

func TestReadyReturnsTasksWithNoDeps(t *testing.T) {
	r := resolver.New(map[string][]string{
		"a": {},
		"b": {"a"},
		"c": {"a", "b"},
	})
	require.ElementsMatch(t, []string{"a"}, r.Ready())
}

func TestMarkCompletedUnlocksDependents(t *testing.T) {
	r := resolver.New(map[string][]string{
		"a": {},
		"b": {"a"},
		"c": {"a", "b"},
	})
	newlyReady := r.MarkCompleted("a", "result-a")
	require.ElementsMatch(t, []string{"b"}, newlyReady)

	newlyReady = r.MarkCompleted("b", "result-b")
	require.ElementsMatch(t, []string{"c"}, newlyReady)
}

func TestMarkFailedStopCascadesTransitively(t *testing.T) {
	r := resolver.New(map[string][]string{
		"a": {},
		"b": {"a"},
		"c": {"b"},
	})
	failed := r.MarkFailed("a", "stop", nil)
	require.ElementsMatch(t, []string{"b", "c"}, failed)
}

func TestMarkFailedContinueOnlyFailsReferencingDependents(t *testing.T) {
	r := resolver.New(map[string][]string{
		"a": {},
		"b": {"a"},
		"c": {"a"},
	})
	paramRefs := map[string][]string{
		"b": {"a"}, // b substitutes a's result
		"c": {},    // c only orders after a, doesn't reference it
	}
	failed := r.MarkFailed("a", "continue", paramRefs)
	require.ElementsMatch(t, []string{"b"}, failed)
}

func TestExtractReferencesFindsDistinctKeys(t *testing.T) {
	refs, err := resolver.ExtractReferences(map[string]interface{}{
		"prompt": "summarize: ${fetch.body}",
		"nested": map[string]interface{}{"x": "${fetch.status}, ${parse.0}"},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"fetch", "parse"}, refs)
}

func TestSubstituteParamsPreservesTypeForPureToken(t *testing.T) {
	lookup := func(key string) (interface{}, bool) {
		if key == "fetch" {
			return map[string]interface{}{"status": 200, "body": "hello"}, true
		}
		return nil, false
	}
	out, err := resolver.SubstituteParams(map[string]interface{}{
		"code": "${fetch.status}",
		"text": "body was: ${fetch.body}",
	}, lookup)
	require.NoError(t, err)
	require.Equal(t, 200, out["code"])
	require.Equal(t, "body was: hello", out["text"])
}

func TestSubstituteParamsMissingReferenceFails(t *testing.T) {
	lookup := func(string) (interface{}, bool) { return nil, false }
	_, err := resolver.SubstituteParams(map[string]interface{}{"x": "${missing.path}"}, lookup)
	require.Error(t, err)
}

func TestSubstituteParamsArrayIndexing(t *testing.T) {
	lookup := func(key string) (interface{}, bool) {
		if key == "parse" {
			return []interface{}{"first", "second"}, true
		}
		return nil, false
	}
	out, err := resolver.SubstituteParams(map[string]interface{}{"v": "${parse.1}"}, lookup)
	require.NoError(t, err)
	require.Equal(t, "second", out["v"])
}
