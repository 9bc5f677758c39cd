package record

import (
	"encoding/json"
	"fmt"
)

const (
	wireRef  = "__ref"
	wireRefs = "__refs"
)

// ToWire converts r to a JSON-shaped map in which links are written as
// {"__ref": id} and {"__refs": [id, null, ...]}.
func ToWire(r Record) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = valueToWire(v)
	}
	return out
}

func valueToWire(v any) any {
	switch val := v.(type) {
	case Ref:
		return map[string]any{wireRef: val.ID}
	case Refs:
		ids := make([]any, len(val))
		for i, id := range val {
			if id == "" {
				ids[i] = nil
			} else {
				ids[i] = id
			}
		}
		return map[string]any{wireRefs: ids}
	default:
		return CloneValue(v)
	}
}

// FromWire is the inverse of ToWire. Numeric values are kept as decoded.
func FromWire(m map[string]any) (Record, error) {
	out := make(Record, len(m))
	for k, v := range m {
		dv, err := valueFromWire(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = dv
	}
	if _, ok := out[IDKey].(string); !ok {
		return nil, fmt.Errorf("record without %s", IDKey)
	}
	return out, nil
}

func valueFromWire(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}
	if len(m) == 1 {
		if id, ok := m[wireRef]; ok {
			s, ok := id.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string, got %T", wireRef, id)
			}
			return Ref{ID: s}, nil
		}
		if ids, ok := m[wireRefs]; ok {
			list, ok := ids.([]any)
			if !ok {
				return nil, fmt.Errorf("%s must be a list, got %T", wireRefs, ids)
			}
			refs := make(Refs, len(list))
			for i, e := range list {
				switch id := e.(type) {
				case nil:
				case string:
					refs[i] = id
				default:
					return nil, fmt.Errorf("%s[%d] must be a string, got %T", wireRefs, i, e)
				}
			}
			return refs, nil
		}
	}
	return v, nil
}

// MarshalJSON encodes r in wire form.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToWire(r))
}

// UnmarshalJSON decodes a wire-form record.
func (r *Record) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	dec, err := FromWire(m)
	if err != nil {
		return err
	}
	*r = dec
	return nil
}

// DecodeSource reads a JSON-shaped map of id -> wire record, as produced by
// decoding a fixture file, into a Source. Ids missing from a record are
// filled from the map key.
func DecodeSource(m map[string]any) (Source, error) {
	out := make(Source, len(m))
	for id, raw := range m {
		fields, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %q: expected object, got %T", id, raw)
		}
		if _, ok := fields[IDKey]; !ok {
			fields[IDKey] = id
		}
		rec, err := FromWire(fields)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", id, err)
		}
		out[id] = rec
	}
	return out, nil
}
