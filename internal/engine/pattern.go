// Pattern primitives (spec.md section 4.1, component C1): host/scheme/
// value/content matching with glob-ish suffix/prefix rules, regex (the
// "~" escape), and structural subset semantics. Grounded directly on
// original_source/moxy.py's host_matches / matches_value_or_list /
// is_subset / content_matches, which this file mirrors function-for-
// function.
package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ersatzhttp/ersatz/internal/ordered"
)

// regexCache interns compiled regular expressions by source string,
// cleared on every config reload (spec.md section 3, "reCache").
type regexCache struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

func newRegexCache() *regexCache {
	return &regexCache{cache: make(map[string]*regexp.Regexp)}
}

// compile returns the cached compiled regex for pattern, using
// free-spacing-equivalent flags: Go's regexp does not support extended
// mode, but "(?s)" (dot matches newline) mirrors the spec's requirement
// that isSubset regexes run multi-line/DOTALL to ease multi-line template
// bodies. A compile failure is cached as nil and reported to the caller so
// Error Handling Design kind 4 (drop the specifier, log) can apply at the
// config-loading layer; pattern-matching call sites simply treat a nil
// regex as "never matches".
func (c *regexCache) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.cache[pattern]; ok {
		if re == nil {
			return nil, fmt.Errorf("invalid regex %q", pattern)
		}
		return re, nil
	}
	re, err := regexp.Compile("(?s)" + pattern)
	if err != nil {
		c.cache[pattern] = nil
		return nil, err
	}
	c.cache[pattern] = re
	return re, nil
}

func (c *regexCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*regexp.Regexp)
}

func (c *regexCache) search(pattern, text string) bool {
	re, err := c.compile(pattern)
	if err != nil || re == nil {
		return false
	}
	return re.MatchString(text)
}

// toString renders an arbitrary decoded JSON value the way Python's str()
// would for the purposes of string-vs-non-string comparisons in
// matchesValueOrList and isSubset.
func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(ordered.ToPlain(v))
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func asMap(v interface{}) (*ordered.Map, bool) {
	switch t := v.(type) {
	case *ordered.Map:
		return t, true
	case map[string]interface{}:
		m := ordered.NewMap()
		for k, val := range t {
			m.Set(k, val)
		}
		return m, true
	default:
		return nil, false
	}
}

func asList(v interface{}) ([]interface{}, bool) {
	l, ok := v.([]interface{})
	return l, ok
}

// truthy mirrors Python truthiness for the values the config tree can
// contain: nil, false, 0, "", empty list/map are falsy.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case *ordered.Map:
		return t.Len() > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

// (e *Engine) exposes pattern primitives as methods so they can share the
// engine's regex cache; they are pure otherwise and take no other state.

// hostMatches implements spec.md 4.1's hostMatches(host, allow).
func (e *Engine) hostMatches(host string, allow interface{}) bool {
	switch a := allow.(type) {
	case nil:
		return true
	case string:
		switch {
		case strings.HasPrefix(a, "."):
			return strings.HasSuffix(host, a[1:])
		case strings.HasSuffix(a, "."):
			return strings.HasPrefix(host, a)
		case strings.HasPrefix(a, "~"):
			return e.res.search(a[1:], host)
		default:
			return host == a
		}
	case *ordered.Map:
		v, ok := a.Get(host)
		return ok && truthy(v)
	case map[string]interface{}:
		v, ok := a[host]
		return ok && truthy(v)
	case []interface{}:
		for _, el := range a {
			if e.hostMatches(host, el) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// stringEqualOrRegex implements the "~"-escaped string-equality rule used
// by both matchesValueOrList and isSubset: a leading "~" means the
// remainder is a regex searched against other; otherwise literal equality.
func (e *Engine) stringEqualOrRegex(pattern, other string) bool {
	if strings.HasPrefix(pattern, "~") {
		return e.res.search(pattern[1:], other)
	}
	return pattern == other
}

// matchesValueOrList implements spec.md 4.1's matchesValueOrList(value, allow).
func (e *Engine) matchesValueOrList(value, allow interface{}) bool {
	switch a := allow.(type) {
	case nil:
		return true
	case *ordered.Map:
		key := toString(value)
		v, ok := a.Get(key)
		return ok && truthy(v)
	case map[string]interface{}:
		key := toString(value)
		v, ok := a[key]
		return ok && truthy(v)
	case []interface{}:
		for _, el := range a {
			if e.matchesValueOrList(value, el) {
				return true
			}
		}
		return false
	case string:
		if vs, ok := value.(string); ok {
			return e.stringEqualOrRegex(a, vs)
		}
		return a == toString(value)
	default:
		return sameTypeEqual(value, allow)
	}
}

// sameTypeEqual compares two values of the same dynamic kind for equality;
// used by matchesValueOrList when allow is neither nil, map, list, nor
// string (e.g. bool/float64 predicate values).
func sameTypeEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
}

// isSubset implements spec.md 4.1's isSubset(sub, super): structural
// recursive containment with "~" wildcard/regex string escapes.
func (e *Engine) isSubset(sub, super interface{}) bool {
	switch s := sub.(type) {
	case *ordered.Map:
		superMap, ok := asMap(super)
		if !ok {
			return false
		}
		for _, k := range s.Keys() {
			sv, _ := s.Get(k)
			superVal, present := superMap.Get(k)
			if !present {
				return false
			}
			if !e.isSubset(sv, superVal) {
				return false
			}
		}
		return true
	case []interface{}:
		superList, ok := asList(super)
		if !ok {
			return false
		}
		for _, sv := range s {
			found := false
			for _, ev := range superList {
				if e.isSubset(sv, ev) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case string:
		if s == "~" {
			return true
		}
		return e.stringEqualOrRegex(s, toString(super))
	default:
		return sameTypeEqual(sub, super)
	}
}

// contentMatches implements spec.md 4.1's contentMatches(text, allow,
// object). allow is normalized to a list; every element must match
// (conjunction, not disjunction). object is the body parsed as JSON; when
// the caller does not supply it (haveObject false), text is parsed once
// before any element is evaluated.
func (e *Engine) contentMatches(text string, allow interface{}, object interface{}, haveObject bool) bool {
	var elems []interface{}
	if l, ok := asList(allow); ok {
		elems = l
	} else {
		elems = []interface{}{allow}
	}

	if !haveObject {
		var parsed interface{}
		if err := json.Unmarshal([]byte(text), &parsed); err == nil {
			object = parsed
			haveObject = true
		}
	}

	for _, el := range elems {
		switch v := el.(type) {
		case string:
			if strings.HasPrefix(v, "~") {
				if !e.res.search(v[1:], text) {
					return false
				}
			} else if !strings.Contains(text, v) {
				return false
			}
		case *ordered.Map:
			if xm, handled := e.xpathElementMatches(v, text); handled {
				if !xm {
					return false
				}
				continue
			}
			if !haveObject {
				return false
			}
			if !e.isSubset(v, object) {
				return false
			}
		case map[string]interface{}:
			if !haveObject {
				return false
			}
			if !e.isSubset(v, object) {
				return false
			}
		default:
			if !e.isSubset(v, object) {
				return false
			}
		}
	}
	return true
}
