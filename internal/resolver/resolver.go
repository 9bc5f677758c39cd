// Package resolver holds client-side computed fields.
//
// A resolver reads a root fragment on its parent type and computes a value
// from the fragment's data and the field arguments. A live resolver returns a
// LiveState whose value can change outside of any store write.
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Func computes a field value from the root fragment data.
type Func func(model any, args map[string]any) (any, error)

// LiveFunc creates the live state backing a field.
type LiveFunc func(model any, args map[string]any) (LiveState, error)

// LiveState is an external value source.
type LiveState interface {
	// Read returns the current value. ready is false while the source is
	// suspended.
	Read() (value any, ready bool)
	// Subscribe registers cb for value changes.
	Subscribe(cb func()) (unsubscribe func())
}

// Resolver describes one computed field. Exactly one of Func and Live is set.
type Resolver struct {
	// RootFragment is the GraphQL source of the fragment read to build the
	// model, e.g. `fragment UserGreeting on User { name }`. Empty means the
	// resolver takes no model.
	RootFragment string
	Func         Func
	Live         LiveFunc
}

// IsLive reports whether r is a live resolver.
func (r *Resolver) IsLive() bool { return r.Live != nil }

var (
	ErrInvalidResolver   = errors.New("resolver: exactly one of Func and Live must be set")
	ErrDuplicateResolver = errors.New("resolver: field already registered")
)

// Registry maps parent type and field name to resolvers.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Resolver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{m: make(map[string]*Resolver)} }

func key(typeName, field string) string { return typeName + "." + field }

// Register adds r as the resolver of typeName.field.
func (reg *Registry) Register(typeName, field string, r *Resolver) error {
	if r == nil || (r.Func == nil) == (r.Live == nil) {
		return fmt.Errorf("%s.%s: %w", typeName, field, ErrInvalidResolver)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	k := key(typeName, field)
	if _, ok := reg.m[k]; ok {
		return fmt.Errorf("%s: %w", k, ErrDuplicateResolver)
	}
	reg.m[k] = r
	return nil
}

// Lookup returns the resolver of typeName.field. A nil registry has none.
func (reg *Registry) Lookup(typeName, field string) (*Resolver, bool) {
	if reg == nil {
		return nil, false
	}
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.m[key(typeName, field)]
	return r, ok
}

// Fields returns the registered "Type.field" names, sorted.
func (reg *Registry) Fields() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.m))
	for k := range reg.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
