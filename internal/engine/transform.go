// Content transforms (spec.md section 4.2, component C2): mergeContent,
// deleteContent, replaceInContent, modifyContent over a JSON value tree.
// Grounded directly on original_source/moxy.py's merge_content,
// delete_content, replace_in_content, modify_content, resolve_value, and
// content_as_str/content_as_object.
package engine

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/ersatzhttp/ersatz/internal/ordered"
)

// resolveValue implements moxy.py's resolve_value: strings that look like
// a path to a .json/.js file are read from disk and parsed as JSON;
// anything else (or any failure) passes through unchanged. Resolution
// happens fresh on every call (not cached across events) so operators can
// edit content files without a process restart, per spec.md section 9's
// "File references inside values" note.
func resolveValue(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if !strings.HasPrefix(s, ".") {
		return v
	}
	if !strings.HasSuffix(s, ".json") && !strings.HasSuffix(s, ".js") {
		return v
	}
	data, err := os.ReadFile(s)
	if err != nil {
		return v
	}
	var parsed interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return v
	}
	return parsed
}

// mapSingleKey returns (key, value, true) iff m has exactly one key.
func mapSingleKey(m *ordered.Map) (string, interface{}, bool) {
	if m.Len() != 1 {
		return "", nil, false
	}
	k := m.Keys()[0]
	v, _ := m.Get(k)
	return k, v, true
}

// mergeContent implements spec.md 4.2's mergeContent(merge, content).
func (e *Engine) mergeContent(merge, content interface{}) interface{} {
	if mm, ok := asMap(merge); ok {
		if key, val, ok := mapSingleKey(mm); ok {
			switch key {
			case "replace_with":
				return resolveValue(val)
			case "replace_in":
				return e.replaceInContent(val, content)
			}
		}

		if cm, ok := asMap(content); ok {
			out := cm.Clone()
			for _, k := range mm.Keys() {
				mv, _ := mm.Get(k)
				cv, _ := cm.Get(k)
				out.Set(k, e.mergeContent(mv, cv))
			}
			return out
		}

		if cl, ok := asList(content); ok {
			whereVal, hasWhere := mm.Get("where")
			if hasWhere {
				return e.mergeIntoList(mm, whereVal, cl)
			}
			// content is a list but merge has no "where": fall through to
			// the "anything else" branch below, treating content as opaque.
		}

		// content is neither a map nor (where-driven) a list: build a new
		// mapping from merge alone.
		out := ordered.NewMap()
		for _, k := range mm.Keys() {
			mv, _ := mm.Get(k)
			out.Set(k, e.mergeContent(mv, nil))
		}
		return out
	}

	if ml, ok := asList(merge); ok {
		var base []interface{}
		if cl, ok := asList(content); ok {
			base = append(base, cl...)
		}
		for _, el := range ml {
			resolved := resolveValue(el)
			base = append(base, e.mergeContent(resolved, nil))
		}
		return base
	}

	return resolveValue(merge)
}

// mergeIntoList implements the list branch of mergeContent: iterate
// content, and for each element test isSubset(where, elem) XOR negated to
// decide a "hit"; on hit apply replace/content, then merge, then delete,
// then honor move/insert/in-place replacement; forall (default true)
// controls whether iteration continues after the first hit.
func (e *Engine) mergeIntoList(mm *ordered.Map, where interface{}, content []interface{}) []interface{} {
	negated := false
	if v, ok := mm.Get("negated"); ok {
		negated = truthy(v)
	}
	forall := true
	if v, ok := mm.Get("forall"); ok {
		forall = truthy(v)
	}

	out := append([]interface{}{}, content...)
	i := 0
	// end bounds the elements still to be examined; an element moved to the
	// tail is placed past it so it is not matched again.
	end := len(out)
	matchedOnce := false
	for i < end {
		if matchedOnce && !forall {
			break
		}
		elem := out[i]
		hit := e.isSubset(where, elem) != negated
		if !hit {
			i++
			continue
		}
		matchedOnce = true

		newElem := elem
		if rv, ok := mm.Get("replace"); ok {
			newElem = resolveValue(rv)
		} else if cv, ok := mm.Get("content"); ok {
			newElem = resolveValue(cv)
		}
		if mv, ok := mm.Get("merge"); ok {
			newElem = e.mergeContent(mv, newElem)
		}
		deleted := false
		if dv, ok := mm.Get("delete"); ok && truthy(dv) {
			deleted = true
		}

		// Remove the matched element first; insertion/move targets are
		// computed relative to the list with it removed.
		out = append(out[:i], out[i+1:]...)

		if deleted {
			// Element stays removed; don't advance i past anything new.
			end--
			continue
		}

		if mv, ok := mm.Get("move"); ok {
			moveStr, _ := mv.(string)
			if moveStr == "head" || moveStr == "first" {
				out = append([]interface{}{newElem}, out...)
				i++
			} else {
				out = append(out, newElem)
				end--
			}
			continue
		}

		if iv, ok := mm.Get("insert"); ok {
			insStr, _ := iv.(string)
			if insStr == "after" {
				insertAt := i + 1
				out = insertAtIndex(out, insertAt, newElem)
				i = insertAt + 1
			} else {
				out = insertAtIndex(out, i, newElem)
				i++
			}
			continue
		}

		// Neither move nor insert: put the (possibly transformed) element
		// back in place.
		out = insertAtIndex(out, i, newElem)
		i++
	}
	return out
}

func insertAtIndex(list []interface{}, idx int, v interface{}) []interface{} {
	if idx >= len(list) {
		return append(list, v)
	}
	out := make([]interface{}, 0, len(list)+1)
	out = append(out, list[:idx]...)
	out = append(out, v)
	out = append(out, list[idx:]...)
	return out
}

// deleteContent implements spec.md 4.2's deleteContent(delete, content).
func (e *Engine) deleteContent(del, content interface{}) interface{} {
	if dm, ok := asMap(del); ok {
		cm, ok := asMap(content)
		if !ok {
			return content
		}
		out := cm.Clone()
		for _, k := range dm.Keys() {
			dv, _ := dm.Get(k)
			cv, present := out.Get(k)
			if !present {
				continue
			}
			if !truthy(dv) {
				out.Delete(k)
				continue
			}
			if dvm, ok := asMap(dv); ok {
				if cvm, ok := asMap(cv); ok {
					out.Set(k, e.deleteContent(dvm, cvm))
				}
				continue
			}
			if dvl, ok := asList(dv); ok {
				if cvl, ok := asList(cv); ok {
					var filtered []interface{}
					for _, elem := range cvl {
						remove := false
						for _, pattern := range dvl {
							if e.isSubset(pattern, elem) {
								remove = true
								break
							}
						}
						if !remove {
							filtered = append(filtered, elem)
						}
					}
					out.Set(k, filtered)
				}
				continue
			}
			// scalar: remove only when content's value equals it.
			if sameTypeEqual(dv, cv) || toString(dv) == toString(cv) {
				out.Delete(k)
			}
		}
		return out
	}

	if dl, ok := asList(del); ok {
		if cl, ok := asList(content); ok {
			var filtered []interface{}
			for _, elem := range cl {
				remove := false
				for _, pattern := range dl {
					if e.isSubset(pattern, elem) {
						remove = true
						break
					}
				}
				if !remove {
					filtered = append(filtered, elem)
				}
			}
			return filtered
		}
	}

	return []interface{}{}
}

// replaceInContent implements spec.md 4.2's replaceInContent(replace, content).
func (e *Engine) replaceInContent(replace, content interface{}) interface{} {
	if rm, ok := asMap(replace); ok {
		cm, ok := asMap(content)
		if !ok {
			cm = ordered.NewMap()
		}
		out := cm.Clone()
		for _, k := range rm.Keys() {
			v, _ := rm.Get(k)
			out.Set(k, v)
		}
		return out
	}

	if pair, ok := asList(replace); ok && len(pair) == 2 {
		pattern, ok1 := pair[0].(string)
		repl, ok2 := pair[1].(string)
		if ok1 && ok2 {
			return e.sedReplace(pattern, repl, content)
		}
	}

	if s, ok := replace.(string); ok {
		if len(s) == 0 {
			return s
		}
		delim := string(s[0])
		fields := strings.Split(s[1:], delim)
		if len(fields) != 2 {
			return s
		}
		return e.sedReplace(fields[0], fields[1], content)
	}

	return replace
}

// sedReplace applies a regex substitution to the string form of content;
// if content was structured (not already a string), the result is
// re-parsed as JSON afterward, matching moxy.py's content_as_str /
// content_as_object round trip.
func (e *Engine) sedReplace(pattern, repl string, content interface{}) interface{} {
	re, err := e.res.compile(pattern)
	if err != nil || re == nil {
		return content
	}
	str, wasString := content.(string)
	if !wasString {
		str = toString(content)
	}
	result := re.ReplaceAllString(str, repl)
	if wasString {
		return result
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(result), &parsed); err == nil {
		return parsed
	}
	return result
}

// contentAsObject implements moxy.py's content_as_object: a string (or nil)
// body is parsed as JSON, falling back to an empty object on failure; an
// already-structured value (the *ordered.Map/[]interface{} a prior
// modifyContent step produced) passes through unchanged. delete/merge
// steps always run against the object form, even when the underlying body
// isn't valid JSON, so they never silently no-op against raw text.
func contentAsObject(content interface{}) interface{} {
	var s string
	switch v := content.(type) {
	case nil:
		s = ""
	case string:
		s = v
	default:
		return content
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(s), &parsed); err == nil {
		return parsed
	}
	return ordered.NewMap()
}

// contentAsStr implements moxy.py's content_as_str: an already-string body
// passes through unchanged; anything else (the object form left behind by a
// delete/merge step) is JSON-encoded back to a string.
func contentAsStr(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		out, err := json.Marshal(ordered.ToPlain(v))
		if err != nil {
			return ""
		}
		return string(out)
	}
}

// modifyContent implements spec.md 4.2's modifyContent(modify, content).
func (e *Engine) modifyContent(modify, content interface{}) interface{} {
	var steps []interface{}
	if l, ok := asList(modify); ok {
		steps = l
	} else {
		steps = []interface{}{modify}
	}

	for _, step := range steps {
		if sm, ok := asMap(step); ok {
			if dv, ok := sm.Get("delete"); ok {
				content = e.deleteContent(dv, contentAsObject(content))
			}
			if rv, ok := sm.Get("replace"); ok {
				content = e.applyReplaceStep(rv, content)
			}
			if mv, ok := sm.Get("merge"); ok {
				content = e.mergeContent(mv, contentAsObject(content))
			}
			continue
		}

		if pair, ok := asList(step); ok && len(pair) == 2 {
			content = e.replaceInContent(pair, content)
			continue
		}

		if s, ok := step.(string); ok {
			content = e.replaceInContent(s, content)
			continue
		}
	}
	return content
}

// applyReplaceStep implements modifyContent's "replace may also be a
// filename whose contents become the replacement, either parsed JSON or
// raw text".
func (e *Engine) applyReplaceStep(replace, content interface{}) interface{} {
	if s, ok := replace.(string); ok && looksLikeFilePath(s) {
		if data, err := os.ReadFile(s); err == nil {
			var parsed interface{}
			if err := json.Unmarshal(data, &parsed); err == nil {
				return parsed
			}
			return string(data)
		}
	}
	return e.replaceInContent(replace, content)
}

func looksLikeFilePath(s string) bool {
	if len(s) == 0 {
		return false
	}
	if _, err := os.Stat(s); err == nil {
		return true
	}
	return false
}
