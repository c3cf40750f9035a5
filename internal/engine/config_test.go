package engine

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRegexOrderingFirstMatchWins is universal property 8 (spec.md section
// 8): among regex specifiers, the first matching one in source order is
// always chosen, regardless of which pattern is "more specific".
func TestRegexOrderingFirstMatchWins(t *testing.T) {
	eng := newEngineWithConfig(t, `{
		"request": {
			"~^/u/.*$": {"respond": "generic"},
			"~^/u/42$": {"respond": "specific"}
		}
	}`)

	resp, err := eng.OnRequest(newGetFlow("/u/42"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, "generic", resp.Text)
}

// TestInvalidRegexSpecifierDropped exercises Error Handling Design kind 4:
// an invalid regex specifier is dropped from the table at load time, but
// the rest of the config still loads and matches.
func TestInvalidRegexSpecifierDropped(t *testing.T) {
	eng := newEngineWithConfig(t, `{
		"request": {
			"~(unclosed": {"respond": "bad"},
			"/ok": {"respond": "good"}
		}
	}`)

	require.Len(t, eng.reRequest, 0)

	resp, err := eng.OnRequest(newGetFlow("/ok"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, "good", resp.Text)
}

// TestReloadAtomicSwapsState is universal property 7: no event observes a
// rule composed of old and new configuration keys, and reload clears
// hitCount/cycleIndex/mockState/reCache per spec.md section 3's Lifecycle.
func TestReloadAtomicSwapsState(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/mock.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"request":{"/x":{"count":{"~":{"respond":"v1"}}}}}`), 0644))

	eng, err := New(Options{
		ConfigPath:      path,
		ResponseFactory: fakeResponseFactory{},
	})
	require.NoError(t, err)

	resp, err := eng.OnRequest(newGetFlow("/x"))
	require.NoError(t, err)
	require.Equal(t, "v1", resp.Text)
	require.Equal(t, 1, eng.hitCount["/x"])

	// Rewrite with new content and push the mtime forward so checkReload
	// notices the change even on filesystems with coarse mtime resolution.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte(`{"request":{"/x":{"respond":"v2"}}}`), 0644))
	require.NoError(t, os.Chtimes(path, future, future))

	resp, err = eng.OnRequest(newGetFlow("/x"))
	require.NoError(t, err)
	require.Equal(t, "v2", resp.Text)
	// hitCount was cleared by the reload; the new config has no "count"
	// operator at all, so the id is simply absent now.
	require.Equal(t, 0, eng.hitCount["/x"])
}

// TestGlobalHandlerMergedIntoEveryRule exercises the "*" global handler
// (spec.md section 3) being shallow-merged into a concrete path match.
func TestGlobalHandlerMergedIntoEveryRule(t *testing.T) {
	eng := newEngineWithConfig(t, `{
		"request": {
			"*": {"headers": {"x-env": "test"}},
			"/g": {"respond": "from-global-merge"}
		}
	}`)

	flow := newGetFlow("/g")
	flow.Request.Headers.Set("x-env", "test")
	resp, err := eng.OnRequest(flow)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, "from-global-merge", resp.Text)

	flow2 := newGetFlow("/g")
	flow2.Request.Headers.Set("x-env", "prod")
	resp2, err := eng.OnRequest(flow2)
	require.NoError(t, err)
	require.Nil(t, resp2)
}
