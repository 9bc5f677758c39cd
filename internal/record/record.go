// Package record defines the normalized representation of graph nodes held
// by the store.
//
// A Record is a flat map from field storage key to value. A key that is
// absent has not been fetched; a key present with a nil value is an explicit
// null. Links to other records are stored as Ref (single) or Refs (plural),
// never as nested maps.
package record

import (
	"fmt"
	"reflect"
	"sort"
)

const (
	// IDKey holds the record's own id.
	IDKey = "__id"
	// TypenameKey holds the record's concrete type name, when known.
	TypenameKey = "__typename"
	// RootID is the id of the query root record.
	RootID = "client:root"
	// RootType is the typename given to the root record.
	RootType = "__Root"
)

// Ref links a field to a single record.
type Ref struct {
	ID string
}

// Refs links a field to a list of records. An empty string marks a null
// element.
type Refs []string

// Record is one normalized graph node.
type Record map[string]any

// New returns an empty record with its id and, if non-empty, typename set.
func New(id, typename string) Record {
	r := Record{IDKey: id}
	if typename != "" {
		r[TypenameKey] = typename
	}
	return r
}

// ID returns the record id.
func (r Record) ID() string {
	id, _ := r[IDKey].(string)
	return id
}

// Typename returns the concrete type name, or "" when it is not yet known.
func (r Record) Typename() string {
	t, _ := r[TypenameKey].(string)
	return t
}

// Get returns the value stored under key and whether the key is present.
func (r Record) Get(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = CloneValue(v)
	}
	return out
}

// Merge copies every field of src into a clone of r, last write wins, and
// returns the result. r is not modified.
func (r Record) Merge(src Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(src))
	}
	for k, v := range src {
		out[k] = CloneValue(v)
	}
	return out
}

// Equal reports whether two records hold the same fields and values.
func Equal(a, b Record) bool {
	if len(a) != len(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// CloneValue deep-copies a record field value.
func CloneValue(v any) any {
	switch val := v.(type) {
	case Refs:
		out := make(Refs, len(val))
		copy(out, val)
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = CloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// ClientID returns the generated id of a record reached from parent through
// storageKey, optionally at a list index.
func ClientID(parent, storageKey string, index ...int) string {
	if len(index) > 0 {
		return fmt.Sprintf("client:%s:%s:%d", parent, storageKey, index[0])
	}
	return fmt.Sprintf("client:%s:%s", parent, storageKey)
}

// Source is a batch of records keyed by id.
type Source map[string]Record

// IDs returns the ids in the source, sorted.
func (s Source) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IDSet is a set of record ids.
type IDSet map[string]struct{}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Add(id string) { s[id] = struct{}{} }

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Union adds every id of other to s.
func (s IDSet) Union(other IDSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Intersects reports whether s and other share an id.
func (s IDSet) Intersects(other IDSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for id := range small {
		if _, ok := large[id]; ok {
			return true
		}
	}
	return false
}

// Sorted returns the ids in lexical order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy of s.
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	out.Union(s)
	return out
}
