// Rule resolver (spec.md section 4.4, component C4). Grounded on
// original_source/moxy.py's request_matches_config / response_matches_config
// / resolve_config, reproducing its candidate-selection algorithm and
// match-predicate evaluation (host/scheme/method/path/query/content/
// status/error/require). The "headers" predicate is intentionally
// evaluated later, by the applier (internal/engine/applier.go), matching
// moxy.py's own split between resolve_config and request()/response().
package engine

import (
	"strings"

	"github.com/ersatzhttp/ersatz/internal/metrics"
	"github.com/ersatzhttp/ersatz/internal/model"
	"github.com/ersatzhttp/ersatz/internal/ordered"
)

// EventKind distinguishes the two callback events spec.md section 6 defines.
type EventKind string

const (
	EventRequest  EventKind = "request"
	EventResponse EventKind = "response"
)

// shallowMerge returns a new Map holding base's entries overlaid by
// overlay's entries (overlay wins on key collision), per spec.md 4.4's
// "candidate = merge(global, entry) (shallow; entry wins)".
func shallowMerge(base, overlay *ordered.Map) *ordered.Map {
	out := ordered.NewMap()
	if base != nil {
		for _, k := range base.Keys() {
			v, _ := base.Get(k)
			out.Set(k, v)
		}
	}
	if overlay != nil {
		for _, k := range overlay.Keys() {
			v, _ := overlay.Get(k)
			out.Set(k, v)
		}
	}
	return out
}

// Resolve implements the full C4 algorithm (spec.md 4.4 steps 1-10),
// including the C5 reduction (step 6). It returns the flat rule ready for
// C6, or nil if no rule applies (the flow passes through unmodified).
func (e *Engine) Resolve(flow *model.Flow, event EventKind) *ordered.Map {
	e.checkReload()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.config == nil {
		return nil
	}

	path := flow.Request.Path
	handlersVal, ok := e.config.Get(string(event))
	if !ok {
		metrics.RecordNoMatch(string(event))
		return nil
	}
	handlers, ok := asMap(handlersVal)
	if !ok {
		metrics.RecordNoMatch(string(event))
		return nil
	}

	pathHandler, globalHandler, matched := e.lookupPathHandler(handlers, flow.Request.RawPath, path, event)
	if !matched {
		metrics.RecordNoMatch(string(event))
		return nil
	}

	candidate := e.selectCandidate(globalHandler, pathHandler, flow, event)
	if candidate == nil {
		metrics.RecordNoMatch(string(event))
		return nil
	}

	flat := e.resolveConfigState(candidate, flow, path)

	if v, ok := flat.Get("pass"); ok && truthy(v) {
		flat.Delete("pass")
		metrics.RecordNoMatch(string(event))
		return nil
	}

	if v, ok := flat.Get("log"); ok && truthy(v) {
		e.logger.Printf("ersatz: %s %s matched: %v", flow.Request.Method, flow.Request.Path, v)
	}

	if v, ok := flat.Get("terminate"); ok && truthy(v) && e.shutdowner != nil {
		e.shutdowner.Shutdown()
	}

	metrics.RecordMatch(string(event))
	return flat
}

// lookupPathHandler implements spec.md 4.4 step 2: look up by full raw
// path (including query) first, then by query-stripped path, then walk
// the ordered regex table in source order.
func (e *Engine) lookupPathHandler(handlers *ordered.Map, rawPath, path string, event EventKind) (handler interface{}, global interface{}, ok bool) {
	global, _ = handlers.Get("*")

	if rawPath != "" {
		if h, found := handlers.Get(rawPath); found {
			return h, global, true
		}
	}
	if h, found := handlers.Get(path); found {
		return h, global, true
	}

	var table []regexHandler
	if event == EventRequest {
		table = e.reRequest
	} else {
		table = e.reResponse
	}
	for _, rh := range table {
		if rh.re.MatchString(path) {
			return rh.handler, global, true
		}
	}
	return nil, global, false
}

// selectCandidate implements spec.md 4.4 steps 3-5: merge the global
// handler with the path handler (list or single object form), evaluating
// match predicates to pick exactly one winning candidate.
func (e *Engine) selectCandidate(global, pathHandler interface{}, flow *model.Flow, event EventKind) *ordered.Map {
	globalList, globalIsList := asList(global)
	globalMap, _ := asMap(global)

	if list, ok := asList(pathHandler); ok {
		for _, entry := range list {
			entryMap, _ := asMap(entry)
			var candidate *ordered.Map
			if globalIsList {
				candidate = entryMap
			} else {
				candidate = shallowMerge(globalMap, entryMap)
			}
			if e.predicatesMatch(candidate, flow, event) {
				return candidate
			}
		}
		return nil
	}

	pathMap, _ := asMap(pathHandler)
	if globalIsList {
		for _, entry := range globalList {
			entryMap, _ := asMap(entry)
			candidate := shallowMerge(entryMap, pathMap)
			if e.predicatesMatch(candidate, flow, event) {
				return candidate
			}
		}
		return nil
	}

	candidate := shallowMerge(globalMap, pathMap)
	if e.predicatesMatch(candidate, flow, event) {
		return candidate
	}
	return nil
}

// predicatesMatch evaluates every match predicate spec.md section 3
// assigns to C4 (host, scheme, method, path, query, request/status/error/
// content, require). Missing predicates default to "match" (true).
// headers is deliberately excluded; see package doc comment.
func (e *Engine) predicatesMatch(candidate *ordered.Map, flow *model.Flow, event EventKind) bool {
	if candidate == nil {
		return false
	}

	host := firstOf(candidate, "host", e.defaultHost)
	if host != nil && !e.hostMatches(flow.Request.Host, host) {
		return false
	}

	if scheme, ok := candidate.Get("scheme"); ok {
		if !e.matchesValueOrList(flow.Request.Scheme, scheme) {
			return false
		}
	} else if e.defaultScheme != nil {
		if !e.matchesValueOrList(flow.Request.Scheme, e.defaultScheme) {
			return false
		}
	}

	if method, ok := candidate.Get("method"); ok {
		if !e.matchesValueOrList(flow.Request.Method, method) {
			return false
		}
	}

	if pathPred, ok := candidate.Get("path"); ok {
		if !e.matchesValueOrList(flow.Request.Path, pathPred) {
			return false
		}
	}

	if query, ok := candidate.Get("query"); ok {
		if !e.queryMatches(flow.Request.Query, query) {
			return false
		}
	}

	if reqPred, ok := candidate.Get("request"); ok {
		if !e.contentMatches(flow.Request.Text, reqPred, nil, false) {
			return false
		}
	}

	if event == EventResponse {
		if flow.Response == nil {
			return false
		}
		if statusPred, ok := candidate.Get("status"); ok {
			if !e.matchesValueOrList(float64(flow.Response.StatusCode), statusPred) {
				return false
			}
		}
		if errPred, ok := candidate.Get("error"); ok {
			isError := flow.Response.StatusCode >= 400
			if truthy(errPred) != isError {
				return false
			}
		}
		if contentPred, ok := candidate.Get("content"); ok {
			if !e.contentMatches(flow.Response.Text, contentPred, nil, false) {
				return false
			}
		}
	}

	if requirePred, ok := candidate.Get("require"); ok {
		if !e.requireMatches(candidate, requirePred, flow.Request.Path) {
			return false
		}
	}

	return true
}

func firstOf(m *ordered.Map, key string, fallback interface{}) interface{} {
	if v, ok := m.Get(key); ok {
		return v
	}
	return fallback
}

// queryMatches implements the "query" predicate: every listed key must
// exist in the request and match.
func (e *Engine) queryMatches(query *model.OrderedStrings, pred interface{}) bool {
	pm, ok := asMap(pred)
	if !ok {
		return true
	}
	for _, k := range pm.Keys() {
		allow, _ := pm.Get(k)
		v, present := query.Get(k)
		if !present {
			return false
		}
		if !e.matchesValueOrList(v, allow) {
			return false
		}
	}
	return true
}

// requireMatches implements the "require" predicate: a mapping of
// variable->value matched against mockState, or a scalar matched against a
// single variable (field "variable" on the candidate, else the
// query-stripped request path), per spec.md section 4.5's default chain.
func (e *Engine) requireMatches(candidate *ordered.Map, requirePred interface{}, path string) bool {
	if rm, ok := asMap(requirePred); ok {
		for _, k := range rm.Keys() {
			want, _ := rm.Get(k)
			got := e.mockState[k]
			if !e.matchesValueOrList(got, want) {
				return false
			}
		}
		return true
	}

	variable := path
	if v, ok := candidate.Get("variable"); ok {
		if s, ok := v.(string); ok && s != "" {
			variable = s
		}
	}
	got := e.mockState[variable]
	return e.matchesValueOrList(got, requirePred)
}

// SplitRawPath splits a raw request-target into its query-stripped path and
// the original raw target (path+query), used by host-proxy adapters to
// populate model.Request.Path / RawPath consistently with the resolver's
// expectations (spec.md section 4.4 step 1, "Strip the query from the
// request URL path").
func SplitRawPath(raw string) (path, rawPath string) {
	rawPath = raw
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		return raw[:idx], raw
	}
	return raw, raw
}
