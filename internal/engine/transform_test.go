package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ersatzhttp/ersatz/internal/ordered"
)

func mustParse(t *testing.T, s string) *ordered.Map {
	t.Helper()
	m := ordered.NewMap()
	require.NoError(t, m.UnmarshalJSON([]byte(s)))
	return m
}

func TestMergeContentMapRecursion(t *testing.T) {
	e := newTestEngine(t)
	merge := mustParse(t, `{"b":[3]}`)
	content := mustParse(t, `{"a":1,"b":[1,2]}`)

	result := e.mergeContent(merge, content)
	out, err := json.Marshal(ordered.ToPlain(result))
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1,"b":[1,2,3]}`, string(out))
}

func TestMergeContentReplaceWith(t *testing.T) {
	e := newTestEngine(t)
	merge := mustParse(t, `{"replace_with":"hello"}`)

	result := e.mergeContent(merge, "old")
	require.Equal(t, "hello", result)
}

func TestMergeContentRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	content := mustParse(t, `{"a":1,"b":{"c":2}}`)

	result := e.mergeContent(content, content)
	out, err := json.Marshal(ordered.ToPlain(result))
	require.NoError(t, err)

	orig, err := json.Marshal(ordered.ToPlain(content))
	require.NoError(t, err)
	require.JSONEq(t, string(orig), string(out))
}

func TestMergeIntoListWhere(t *testing.T) {
	e := newTestEngine(t)
	merge := mustParse(t, `{"where":{"id":1},"content":{"id":1,"name":"updated"}}`)
	content := []interface{}{
		map[string]interface{}{"id": float64(1), "name": "old"},
		map[string]interface{}{"id": float64(2), "name": "other"},
	}

	result := e.mergeContent(merge, content)
	list, ok := result.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 2)

	first, ok := asMap(list[0])
	require.True(t, ok)
	name, _ := first.Get("name")
	require.Equal(t, "updated", name)
}

func TestDeleteContentEmptyRemovesKey(t *testing.T) {
	e := newTestEngine(t)
	del := mustParse(t, `{"a":""}`)
	content := mustParse(t, `{"a":1,"b":2}`)

	result := e.deleteContent(del, content)
	m, ok := result.(*ordered.Map)
	require.True(t, ok)
	_, hasA := m.Get("a")
	require.False(t, hasA)
	_, hasB := m.Get("b")
	require.True(t, hasB)
}

func TestDeleteContentIdempotent(t *testing.T) {
	e := newTestEngine(t)
	del := mustParse(t, `{"a":""}`)
	content := mustParse(t, `{"a":1,"b":2}`)

	once := e.deleteContent(del, content)
	twice := e.deleteContent(del, once)

	onceJSON, _ := json.Marshal(ordered.ToPlain(once))
	twiceJSON, _ := json.Marshal(ordered.ToPlain(twice))
	require.JSONEq(t, string(onceJSON), string(twiceJSON))
}

func TestReplaceInContentSedString(t *testing.T) {
	e := newTestEngine(t)
	result := e.replaceInContent("/foo/bar", "hello foo world")
	require.Equal(t, "hello bar world", result)
}

func TestModifyContentDeleteThenMerge(t *testing.T) {
	e := newTestEngine(t)
	modify := []interface{}{
		mustParse(t, `{"delete":{"a":""}}`),
		mustParse(t, `{"merge":{"c":3}}`),
	}
	content := mustParse(t, `{"a":1,"b":2}`)

	result := e.modifyContent(modify, content)
	out, err := json.Marshal(ordered.ToPlain(result))
	require.NoError(t, err)
	require.JSONEq(t, `{"b":2,"c":3}`, string(out))
}

// TestModifyContentDeleteMergeAgainstNonJSONBody exercises content_as_object's
// fallback (original_source/moxy.py): a non-JSON body doesn't make delete/merge
// a no-op, it coerces the body to {} first, same as moxy.py's
// content_as_object(content) falling back to {} on a parse failure.
func TestModifyContentDeleteMergeAgainstNonJSONBody(t *testing.T) {
	e := newTestEngine(t)
	modify := []interface{}{
		mustParse(t, `{"delete":{"a":""}}`),
		mustParse(t, `{"merge":{"c":3}}`),
	}

	result := e.modifyContent(modify, "<html><body>not json</body></html>")
	out, err := json.Marshal(ordered.ToPlain(result))
	require.NoError(t, err)
	require.JSONEq(t, `{"c":3}`, string(out))
}

func TestContentAsObjectParsesJSONString(t *testing.T) {
	result := contentAsObject(`{"a":1}`)
	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, float64(1), m["a"])
}

func TestContentAsObjectFallsBackToEmptyMapOnInvalidJSON(t *testing.T) {
	result := contentAsObject("not json at all")
	m, ok := result.(*ordered.Map)
	require.True(t, ok)
	require.Equal(t, 0, m.Len())
}

func TestContentAsObjectPassesThroughStructuredValue(t *testing.T) {
	m := mustParse(t, `{"a":1}`)
	result := contentAsObject(m)
	require.Same(t, m, result)
}

func TestContentAsStrPassesThroughString(t *testing.T) {
	require.Equal(t, "already a string", contentAsStr("already a string"))
}

func TestContentAsStrEncodesStructuredValue(t *testing.T) {
	m := mustParse(t, `{"a":1}`)
	require.JSONEq(t, `{"a":1}`, contentAsStr(m))
}
