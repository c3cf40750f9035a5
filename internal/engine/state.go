// State reducer (spec.md section 4.5, component C5). Grounded on
// original_source/moxy.py's resolve_config_state / count_based_config /
// state_based_config / resolve_value, reducing set/once/count/cycle/
// random/state operator keys to a flat rule with no operator keys left
// (Invariant 3), updating hitCount/cycleIndex/mockState under the
// Engine's single lock for the duration of one event (Invariant 1).
package engine

import (
	"strconv"

	"github.com/ersatzhttp/ersatz/internal/metrics"
	"github.com/ersatzhttp/ersatz/internal/model"
	"github.com/ersatzhttp/ersatz/internal/ordered"
)

var operatorKeys = []string{"set", "once", "count", "cycle", "random", "state"}

func hasAnyOperatorKey(m *ordered.Map) bool {
	for _, k := range operatorKeys {
		if _, ok := m.Get(k); ok {
			return true
		}
	}
	return false
}

// resolveConfigState repeatedly reduces one operator key per pass (in the
// fixed order set/once/count/cycle/random/state) until none remain,
// recursing so compositions like count->random are handled. Callers must
// already hold e.mu for writing.
func (e *Engine) resolveConfigState(candidate *ordered.Map, flow *model.Flow, path string) *ordered.Map {
	rule := candidate
	for hasAnyOperatorKey(rule) {
		rule = rule.Clone()
		switch {
		case has(rule, "set"):
			e.reduceSet(rule, path)
		case has(rule, "once"):
			e.reduceOnce(rule, path)
		case has(rule, "count"):
			e.reduceCount(rule, path)
		case has(rule, "cycle"):
			e.reduceCycle(rule, path)
		case has(rule, "random"):
			e.reduceRandom(rule)
		case has(rule, "state"):
			e.reduceState(rule, flow, path)
		}
	}
	return rule
}

func has(m *ordered.Map, key string) bool {
	_, ok := m.Get(key)
	return ok
}

// reduceSet implements "set": a mapping (bulk write into mockState) or a
// scalar (stored under the "variable" key if present, else path). Pure
// side effect; contributes nothing to the rule.
func (e *Engine) reduceSet(rule *ordered.Map, path string) {
	v, _ := rule.Get("set")
	rule.Delete("set")
	metrics.RecordStateOperator("set")
	if sm, ok := asMap(v); ok {
		for _, k := range sm.Keys() {
			sv, _ := sm.Get(k)
			e.mockState[k] = sv
		}
		return
	}
	variable := path
	if vv, ok := rule.Get("variable"); ok {
		if s, ok := vv.(string); ok && s != "" {
			variable = s
		}
	}
	e.mockState[variable] = v
}

// reduceOnce implements "once" as sugar for count: {"1": once_value} with
// the same count-id as a bare "count" would use.
func (e *Engine) reduceOnce(rule *ordered.Map, path string) {
	v, _ := rule.Get("once")
	rule.Delete("once")
	metrics.RecordStateOperator("once")
	countConfig := ordered.NewMap()
	countConfig.Set("1", v)
	applyCountLayers(rule, countConfig, e.nextHitCount(countID(countConfig, path)))
}

// countID reads the count-id from the count mapping itself (moxy.py's
// count_config.get("id", path)), not from the outer rule: "id" is only ever
// meaningful nested under "count" (or, for "once", the synthesized
// {"1": ...} count config, which never carries one).
func countID(countConfig *ordered.Map, path string) string {
	if v, ok := countConfig.Get("id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return path
}

func (e *Engine) nextHitCount(id string) int {
	e.hitCount[id]++
	return e.hitCount[id]
}

// reduceCount implements "count": reads an id (default path), increments
// hitCount[id], and layers *, even/odd, exact-count, and ~ fallback onto
// the rule, shallow-merging later layers over earlier ones.
func (e *Engine) reduceCount(rule *ordered.Map, path string) {
	v, _ := rule.Get("count")
	rule.Delete("count")
	metrics.RecordStateOperator("count")
	cm, ok := asMap(v)
	if !ok {
		return
	}
	n := e.nextHitCount(countID(cm, path))
	applyCountLayers(rule, cm, n)
}

// applyCountLayers merges config["*"], then config["even"/"odd"], then the
// exact count key (stringified), falling back to config["~"] when no exact
// key exists, onto rule. This mutates rule in place via Set, which is safe
// because resolveConfigState already cloned rule for this pass.
func applyCountLayers(rule *ordered.Map, countConfig *ordered.Map, n int) {
	mergeLayer(rule, countConfig, "*")

	if n%2 == 0 {
		mergeLayer(rule, countConfig, "even")
	} else {
		mergeLayer(rule, countConfig, "odd")
	}

	exactKey := strconv.Itoa(n)
	if _, ok := countConfig.Get(exactKey); ok {
		mergeLayer(rule, countConfig, exactKey)
	} else {
		mergeLayer(rule, countConfig, "~")
	}
}

// mergeLayer shallow-merges countConfig[key] (if it's a map) onto rule, or,
// when the layer value is not a map, stores it as the rule's "respond"
// value; the simple and common case in practice is an object of
// action/operator keys, matching moxy.py's dict.update(layer) semantics.
func mergeLayer(rule *ordered.Map, source *ordered.Map, key string) {
	v, ok := source.Get(key)
	if !ok {
		return
	}
	if lm, ok := asMap(v); ok {
		for _, k := range lm.Keys() {
			lv, _ := lm.Get(k)
			rule.Set(k, lv)
		}
		return
	}
	// A non-map layer value (e.g. a bare string shorthand for "respond")
	// becomes the rule's "respond" value; the rule's other keys are kept.
	rule.Set("respond", v)
}

// reduceCycle implements "cycle": a list of sub-rules; reads cycle-id
// (default path), picks index cycleIndex[id] mod len, increments the
// stored index unbounded (modded at read), merges the selected element.
func (e *Engine) reduceCycle(rule *ordered.Map, path string) {
	v, _ := rule.Get("cycle")
	rule.Delete("cycle")
	metrics.RecordStateOperator("cycle")
	list, ok := asList(v)
	if !ok || len(list) == 0 {
		return
	}
	id := path
	if cv, ok := rule.Get("cycle-id"); ok {
		if s, ok := cv.(string); ok && s != "" {
			id = s
		}
	}
	idx := e.cycleIndex[id] % len(list)
	e.cycleIndex[id]++
	mergeElementInto(rule, list[idx])
}

// reduceRandom implements "random": a list of sub-rules, one chosen
// uniformly at random and merged.
func (e *Engine) reduceRandom(rule *ordered.Map) {
	v, _ := rule.Get("random")
	rule.Delete("random")
	metrics.RecordStateOperator("random")
	list, ok := asList(v)
	if !ok || len(list) == 0 {
		return
	}
	idx := int(e.randFloat() * float64(len(list)))
	if idx >= len(list) {
		idx = len(list) - 1
	}
	mergeElementInto(rule, list[idx])
}

// reduceState implements "state": a mapping keyed by variable values (plus
// "*" and "~"). Picks the variable (field "variable", else the rule's own
// "variable" key, else path), looks up mockState[variable]; if present in
// the mapping uses that branch, else falls back to "~"; always first
// layers "*".
func (e *Engine) reduceState(rule *ordered.Map, flow *model.Flow, path string) {
	v, _ := rule.Get("state")
	rule.Delete("state")
	metrics.RecordStateOperator("state")
	sm, ok := asMap(v)
	if !ok {
		return
	}

	variable := path
	if vv, ok := sm.Get("variable"); ok {
		if s, ok := vv.(string); ok && s != "" {
			variable = s
		}
	} else if vv, ok := rule.Get("variable"); ok {
		if s, ok := vv.(string); ok && s != "" {
			variable = s
		}
	}

	mergeLayer(rule, sm, "*")

	stateVal, present := e.mockState[variable]
	if present {
		key := toString(stateVal)
		if _, ok := sm.Get(key); ok {
			mergeLayer(rule, sm, key)
			return
		}
	}
	mergeLayer(rule, sm, "~")
}

// mergeElementInto merges a cycle/random-selected element into rule the
// way applyCountLayers' map layers do: shallow, later (selected element)
// wins.
func mergeElementInto(rule *ordered.Map, elem interface{}) {
	em, ok := asMap(elem)
	if !ok {
		rule.Set("respond", elem)
		return
	}
	for _, k := range em.Keys() {
		v, _ := em.Get(k)
		rule.Set(k, v)
	}
}
