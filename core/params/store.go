// Package params holds the flat, model-independent parameter store that backs
// the generation form. Keys are UI field names; values are strings, numbers,
// booleans, ImageReference, []ImageReference or nil.
package params

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/emirpasic/gods/v2/maps/linkedhashmap"
)

// Store is a flat key/value map of the values a user entered in the form.
// Iteration follows insertion order; overwriting a key keeps its position.
// Store is not safe for concurrent use.
type Store struct {
	m *linkedhashmap.Map[string, any]
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{m: linkedhashmap.New[string, any]()}
}

// FromMap builds a store from a plain map. Go maps are unordered, so keys are
// inserted in the order given by keys; keys missing from the list are ignored.
func FromMap(values map[string]any, keys ...string) *Store {
	s := NewStore()
	for _, k := range keys {
		if v, ok := values[k]; ok {
			s.Set(k, v)
		}
	}
	return s
}

// Get returns the stored value for a UI field name.
func (s *Store) Get(key string) (any, bool) {
	return s.m.Get(key)
}

// Set writes exactly one entry. Sibling entries are never touched.
func (s *Store) Set(key string, value any) {
	s.m.Put(key, value)
}

// Delete removes one entry.
func (s *Store) Delete(key string) {
	s.m.Remove(key)
}

// Has reports whether the key is present and non-empty.
func (s *Store) Has(key string) bool {
	v, ok := s.m.Get(key)
	return ok && !IsEmpty(v)
}

// Keys returns the keys in insertion order.
func (s *Store) Keys() []string {
	return s.m.Keys()
}

// Len returns the number of entries, empty ones included.
func (s *Store) Len() int {
	return s.m.Size()
}

// Clear drops every entry. Used on model switch and explicit reset.
func (s *Store) Clear() {
	s.m.Clear()
}

// Clone returns an independent copy. Image references are values, lists are
// copied so the clone can be mutated freely.
func (s *Store) Clone() *Store {
	c := NewStore()
	for _, k := range s.Keys() {
		v, _ := s.m.Get(k)
		if list, ok := v.([]ImageReference); ok {
			v = append([]ImageReference(nil), list...)
		}
		c.Set(k, v)
	}
	return c
}

// Snapshot returns the entries as a plain map.
func (s *Store) Snapshot() map[string]any {
	out := make(map[string]any, s.Len())
	for _, k := range s.Keys() {
		out[k], _ = s.m.Get(k)
	}
	return out
}

// MarshalJSON encodes the store as a JSON object, keeping insertion order.
func (s *Store) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		v, _ := s.m.Get(k)
		val, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cannot encode parameter %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order and turning image
// shaped objects back into ImageReference values.
func (s *Store) UnmarshalJSON(data []byte) error {
	if s.m == nil {
		s.m = linkedhashmap.New[string, any]()
	}
	s.m.Clear()

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("parameter store must be a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key %v in parameter store", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("cannot decode parameter %q: %w", key, err)
		}
		v, err := DecodeValue(raw)
		if err != nil {
			return fmt.Errorf("cannot decode parameter %q: %w", key, err)
		}
		s.Set(key, v)
	}
	_, err = dec.Token()
	return err
}

// DecodeValue converts a raw JSON value into a store value.
func DecodeValue(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '{':
		var ref ImageReference
		if err := json.Unmarshal(trimmed, &ref); err != nil {
			return nil, err
		}
		if ref.IsZero() {
			var generic map[string]any
			if err := json.Unmarshal(trimmed, &generic); err != nil {
				return nil, err
			}
			return generic, nil
		}
		return ref, nil
	case '[':
		var refs []ImageReference
		if err := json.Unmarshal(trimmed, &refs); err == nil && len(refs) > 0 && !refs[0].IsZero() {
			return refs, nil
		}
		var generic []any
		if err := json.Unmarshal(trimmed, &generic); err != nil {
			return nil, err
		}
		if len(generic) == 0 {
			return []ImageReference{}, nil
		}
		return generic, nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// IsEmpty reports whether a value counts as absent: nil, empty string, empty
// list or a zero image reference.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case ImageReference:
		return t.IsZero()
	case *ImageReference:
		return t == nil || t.IsZero()
	case []ImageReference:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}
