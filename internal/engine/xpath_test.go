package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ersatzhttp/ersatz/internal/ordered"
)

// TestXPathElementMatchesEquals exercises the "xpath" content-predicate
// addition (SPEC_FULL.md section 11) against a SOAP-ish XML body.
func TestXPathElementMatchesEquals(t *testing.T) {
	e := newTestEngine(t)
	body := `<envelope><op>GetBalance</op><account>123</account></envelope>`

	elem := ordered.NewMap()
	elem.Set("xpath", "//op")
	elem.Set("equals", "GetBalance")

	matched, handled := e.xpathElementMatches(elem, body)
	require.True(t, handled)
	require.True(t, matched)

	elem2 := ordered.NewMap()
	elem2.Set("xpath", "//op")
	elem2.Set("equals", "GetStatement")
	matched2, handled2 := e.xpathElementMatches(elem2, body)
	require.True(t, handled2)
	require.False(t, matched2)
}

// TestXPathElementMatchesContains checks the substring variant of the
// predicate.
func TestXPathElementMatchesContains(t *testing.T) {
	e := newTestEngine(t)
	body := `<r><msg>order 42 shipped</msg></r>`

	elem := ordered.NewMap()
	elem.Set("xpath", "//msg")
	elem.Set("contains", "shipped")

	matched, handled := e.xpathElementMatches(elem, body)
	require.True(t, handled)
	require.True(t, matched)
}

// TestXPathElementMatchesPresenceOnly checks that an "xpath" key with no
// equals/contains just asserts node existence.
func TestXPathElementMatchesPresenceOnly(t *testing.T) {
	e := newTestEngine(t)
	body := `<r><id>1</id></r>`

	present := ordered.NewMap()
	present.Set("xpath", "//id")
	matched, handled := e.xpathElementMatches(present, body)
	require.True(t, handled)
	require.True(t, matched)

	absent := ordered.NewMap()
	absent.Set("xpath", "//missing")
	matched, handled = e.xpathElementMatches(absent, body)
	require.True(t, handled)
	require.False(t, matched)
}

// TestXPathElementMatchesFallsThroughForPlainMaps ensures a mapping element
// without an "xpath" key is left to contentMatches' ordinary isSubset(JSON)
// handling, not claimed by the xpath extension.
func TestXPathElementMatchesFallsThroughForPlainMaps(t *testing.T) {
	e := newTestEngine(t)
	plain := ordered.NewMap()
	plain.Set("a", float64(1))

	_, handled := e.xpathElementMatches(plain, `{"a":1}`)
	require.False(t, handled)
}

// TestContentMatchesWithXPathElement exercises the xpath predicate wired
// into contentMatches (C1), matching the way a handler's "request"/"content"
// predicate list can mix xpath and plain elements.
func TestContentMatchesWithXPathElement(t *testing.T) {
	e := newTestEngine(t)
	body := `<envelope><op>GetBalance</op></envelope>`

	xpathElem := ordered.NewMap()
	xpathElem.Set("xpath", "//op")
	xpathElem.Set("equals", "GetBalance")

	require.True(t, e.contentMatches(body, []interface{}{xpathElem}, nil, false))

	xpathElem2 := ordered.NewMap()
	xpathElem2.Set("xpath", "//op")
	xpathElem2.Set("equals", "Nope")
	require.False(t, e.contentMatches(body, []interface{}{xpathElem2}, nil, false))
}
