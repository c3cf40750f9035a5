package engine

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ersatzhttp/ersatz/internal/model"
)

type fakeResponseFactory struct{}

func (fakeResponseFactory) Make(status int, body []byte, headers *model.OrderedStrings) (*model.Response, error) {
	return &model.Response{StatusCode: status, Headers: headers, Text: string(body), Content: body}, nil
}

func newEngineWithConfig(t *testing.T, configJSON string) *Engine {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mock.json")
	require.NoError(t, os.WriteFile(path, []byte(configJSON), 0644))

	eng, err := New(Options{
		ConfigPath:      path,
		ResponseFactory: fakeResponseFactory{},
		Logger:          log.New(os.Stderr, "", 0),
	})
	require.NoError(t, err)
	return eng
}

func newGetFlow(path string) *model.Flow {
	return &model.Flow{
		Request: &model.Request{
			Scheme:  "http",
			Host:    "h",
			Method:  "GET",
			Path:    path,
			RawPath: path,
			Query:   model.NewOrderedStrings(),
			Headers: model.NewOrderedStrings(),
		},
	}
}

// TestSimpleMock is scenario S1 (spec.md section 8).
func TestSimpleMock(t *testing.T) {
	eng := newEngineWithConfig(t, `{"request": {"/ping": {"respond": "pong"}}}`)

	flow := newGetFlow("/ping")
	resp, err := eng.OnRequest(flow)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "pong", resp.Text)
	ct, ok := resp.Headers.Get("Content-Type")
	require.True(t, ok)
	require.Equal(t, "application/json; charset=utf-8", ct)
}

// TestOnceThenPass is scenario S2.
func TestOnceThenPass(t *testing.T) {
	eng := newEngineWithConfig(t, `{"request": {"/a": {"once": {"respond": {"status": 503}}}}}`)

	resp1, err := eng.OnRequest(newGetFlow("/a"))
	require.NoError(t, err)
	require.NotNil(t, resp1)
	require.Equal(t, 503, resp1.StatusCode)

	resp2, err := eng.OnRequest(newGetFlow("/a"))
	require.NoError(t, err)
	require.Nil(t, resp2)
}

// TestCycle is scenario S3.
func TestCycle(t *testing.T) {
	eng := newEngineWithConfig(t, `{"request": {"/r": {"cycle": [{"respond":{"status":200}}, {"respond":{"status":500}}]}}}`)

	wantStatuses := []int{200, 500, 200, 500}
	for i, want := range wantStatuses {
		resp, err := eng.OnRequest(newGetFlow("/r"))
		require.NoError(t, err)
		require.NotNil(t, resp, "iteration %d", i)
		require.Equal(t, want, resp.StatusCode, "iteration %d", i)
	}
}

// TestRegexPathWithCount is scenario S5.
func TestRegexPathWithCount(t *testing.T) {
	eng := newEngineWithConfig(t, `{"request": {"~^/u/([0-9]+)$": {"count":{"1":{"respond":"first"},"~":{"respond":"other"}}}}}`)

	wantBodies := []string{"first", "other", "other"}
	for i, want := range wantBodies {
		resp, err := eng.OnRequest(newGetFlow("/u/42"))
		require.NoError(t, err)
		require.NotNil(t, resp, "iteration %d", i)
		require.Equal(t, want, resp.Text, "iteration %d", i)
	}
}

// TestStateSetAndRequire is scenario S6.
func TestStateSetAndRequire(t *testing.T) {
	eng := newEngineWithConfig(t, `{
		"request": {
			"/set-x": {"set":{"mode":"x"}, "respond":"set"},
			"/needs-x": {"require":{"mode":"x"}, "respond":"matched-x"},
			"/needs-y": {"require":{"mode":"y"}, "respond":"matched-y"}
		}
	}`)

	resp, err := eng.OnRequest(newGetFlow("/set-x"))
	require.NoError(t, err)
	require.Equal(t, "set", resp.Text)

	resp, err = eng.OnRequest(newGetFlow("/needs-x"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, "matched-x", resp.Text)

	resp, err = eng.OnRequest(newGetFlow("/needs-y"))
	require.NoError(t, err)
	require.Nil(t, resp)
}

// TestCounterMonotonicity is universal property 2.
func TestCounterMonotonicity(t *testing.T) {
	eng := newEngineWithConfig(t, `{"request": {"/hit": {"count":{"~":{"respond":"ok"}}}}}`)

	for i := 1; i <= 5; i++ {
		_, err := eng.OnRequest(newGetFlow("/hit"))
		require.NoError(t, err)
		require.Equal(t, i, eng.hitCount["/hit"])
	}
}

// TestCountWithCustomIdSharedAcrossPaths exercises count_based_config's
// "id" field (original_source/moxy.py's count_config.get("id", path)): two
// rules on different paths that name the same "id" inside their "count"
// mapping share a single hitCount counter instead of counting per-path.
func TestCountWithCustomIdSharedAcrossPaths(t *testing.T) {
	eng := newEngineWithConfig(t, `{
		"request": {
			"/first": {"count":{"id":"shared","1":{"respond":"first-hit"},"~":{"respond":"first-other"}}},
			"/second": {"count":{"id":"shared","1":{"respond":"second-hit"},"~":{"respond":"second-other"}}}
		}
	}`)

	resp, err := eng.OnRequest(newGetFlow("/first"))
	require.NoError(t, err)
	require.Equal(t, "first-hit", resp.Text)
	require.Equal(t, 1, eng.hitCount["shared"])

	resp, err = eng.OnRequest(newGetFlow("/second"))
	require.NoError(t, err)
	require.Equal(t, "second-other", resp.Text)
	require.Equal(t, 2, eng.hitCount["shared"])

	_, hasPerPath := eng.hitCount["/first"]
	require.False(t, hasPerPath)
}
