package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersatzhttp/ersatz/internal/ordered"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := &Engine{res: newRegexCache()}
	return e
}

func TestHostMatches(t *testing.T) {
	e := newTestEngine(t)

	assert.True(t, e.hostMatches("anything.example.com", nil))
	assert.True(t, e.hostMatches("api.example.com", ".example.com"))
	assert.False(t, e.hostMatches("example.com.evil.com", ".example.com"))
	assert.True(t, e.hostMatches("api.", "api."))
	assert.True(t, e.hostMatches("api.example.com", "~^api\\."))
	assert.True(t, e.hostMatches("example.com", "example.com"))
	assert.False(t, e.hostMatches("other.com", "example.com"))

	allowMap := ordered.NewMap()
	allowMap.Set("example.com", true)
	assert.True(t, e.hostMatches("example.com", allowMap))
	assert.False(t, e.hostMatches("other.com", allowMap))

	assert.True(t, e.hostMatches("a.com", []interface{}{"b.com", "a.com"}))
}

func TestMatchesValueOrList(t *testing.T) {
	e := newTestEngine(t)

	assert.True(t, e.matchesValueOrList("GET", "GET"))
	assert.False(t, e.matchesValueOrList("GET", "POST"))
	assert.True(t, e.matchesValueOrList("GET", []interface{}{"POST", "GET"}))
	assert.True(t, e.matchesValueOrList("/u/42", "~^/u/[0-9]+$"))
	assert.True(t, e.matchesValueOrList(float64(200), float64(200)))
	assert.False(t, e.matchesValueOrList(float64(200), float64(201)))
}

func TestIsSubset(t *testing.T) {
	e := newTestEngine(t)

	sub := ordered.NewMap()
	sub.Set("a", float64(1))
	super := ordered.NewMap()
	super.Set("a", float64(1))
	super.Set("b", float64(2))
	assert.True(t, e.isSubset(sub, super))

	subList := []interface{}{float64(1)}
	superList := []interface{}{float64(1), float64(2)}
	assert.True(t, e.isSubset(subList, superList))
	assert.False(t, e.isSubset([]interface{}{float64(3)}, superList))

	assert.True(t, e.isSubset("~", "anything"))
	assert.True(t, e.isSubset("~foo$", "barfoo"))
	assert.False(t, e.isSubset("~^foo$", "barfoo"))
}

func TestContentMatchesConjunction(t *testing.T) {
	e := newTestEngine(t)
	body := `{"a":1,"b":[1,2]}`

	matchSpec := ordered.NewMap()
	matchSpec.Set("a", float64(1))

	ok := e.contentMatches(body, []interface{}{"a", matchSpec}, nil, false)
	require.True(t, ok)

	ok = e.contentMatches(body, []interface{}{"nope"}, nil, false)
	require.False(t, ok)
}
