// Package ordered implements a JSON object type that preserves key
// insertion order, the Go equivalent of Python's
// json.load(..., object_pairs_hook=OrderedDict).
//
// Regex path-specifier order in the engine's configuration is semantically
// significant (the first matching regex specifier wins), so the standard
// library's map[string]any cannot be used to decode request/response
// handler tables.
package ordered

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Map is an ordered string-keyed JSON object. Zero value is usable.
type Map struct {
	keys   []string
	values map[string]interface{}
}

// NewMap returns an empty ordered Map.
func NewMap() *Map {
	return &Map{values: make(map[string]interface{})}
}

// Set inserts or updates a key, appending it to the key order on first
// insertion and leaving the order unchanged on update.
func (m *Map) Set(key string, value interface{}) {
	if m.values == nil {
		m.values = make(map[string]interface{})
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key and whether it was present.
func (m *Map) Get(key string) (interface{}, bool) {
	if m == nil || m.values == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Delete removes a key, preserving the order of the remaining keys.
func (m *Map) Delete(key string) {
	if m == nil || m.values == nil {
		return
	}
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order. Callers must not mutate it.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Clone returns a shallow copy: the key order and top-level entries are
// copied, nested values are shared.
func (m *Map) Clone() *Map {
	out := NewMap()
	if m == nil {
		return out
	}
	out.keys = append([]string(nil), m.keys...)
	out.values = make(map[string]interface{}, len(m.values))
	for k, v := range m.values {
		out.values[k] = v
	}
	return out
}

// UnmarshalJSON decodes a JSON object while recording key order, and
// recursively decodes nested objects as *Map so order is preserved at every
// depth.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("ordered: expected JSON object, got %v", tok)
	}

	m.keys = nil
	m.values = make(map[string]interface{})

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("ordered: expected string key, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		value, err := decodeValue(raw)
		if err != nil {
			return err
		}
		m.Set(key, value)
	}
	return nil
}

// decodeValue decodes a single JSON value, preserving object order
// recursively via *Map and decoding arrays element-wise through the same
// path so nested objects inside lists keep their order too.
func decodeValue(raw json.RawMessage) (interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '{':
		sub := NewMap()
		if err := sub.UnmarshalJSON(trimmed); err != nil {
			return nil, err
		}
		return sub, nil
	case '[':
		var rawItems []json.RawMessage
		if err := json.Unmarshal(trimmed, &rawItems); err != nil {
			return nil, err
		}
		items := make([]interface{}, len(rawItems))
		for i, r := range rawItems {
			v, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	default:
		var v interface{}
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// MarshalJSON encodes the map back to JSON preserving key order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ToPlain recursively converts a decoded value tree (which may contain
// *Map and []interface{} produced by UnmarshalJSON) into plain
// map[string]interface{}/[]interface{}, for callers (like the engine's JSON
// serialization of bodies and header maps) that need ordinary Go JSON types
// and don't care about order.
func ToPlain(v interface{}) interface{} {
	switch t := v.(type) {
	case *Map:
		out := make(map[string]interface{}, t.Len())
		for _, k := range t.Keys() {
			val, _ := t.Get(k)
			out[k] = ToPlain(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = ToPlain(e)
		}
		return out
	default:
		return v
	}
}
