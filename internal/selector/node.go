// Package selector defines selector trees: compiled fragments and operations
// that the reader walks against the record store.
package selector

import (
	"github.com/hanpama/graphcache/internal/cachekey"
	"github.com/hanpama/graphcache/internal/resolver"
)

// Node is one selection in a selector tree. The set of node kinds is closed:
// *ScalarField, *LinkedField, *FragmentSpread, *InlineFragment, *Condition,
// *ResolverField and *LiveResolverField.
type Node interface {
	isNode()
}

// ScalarField reads a value stored directly on the record.
type ScalarField struct {
	Alias string
	Name  string
	Args  []Argument
}

// LinkedField follows a reference to one record or, when Plural, a list of
// records.
type LinkedField struct {
	Alias  string
	Name   string
	Args   []Argument
	Plural bool
	// ConcreteType is set when the field's type is an object type.
	ConcreteType string
	Selections   []Node
}

// FragmentSpread reads another fragment in place, binding its arguments.
type FragmentSpread struct {
	Fragment *Fragment
	Args     []Argument
}

// InlineFragment applies Selections only when the record's type matches.
type InlineFragment struct {
	TypeCondition string
	// Abstract is set when TypeCondition is an interface or union; the match
	// is then checked against PossibleTypes.
	Abstract      bool
	PossibleTypes []string
	Selections    []Node
}

// Condition applies Selections when the boolean variable equals Passing.
// It is produced by @include (Passing true) and @skip (Passing false).
type Condition struct {
	Variable   string
	Passing    bool
	Selections []Node
}

// ResolverField is computed on the client by Resolver from the data of
// Fragment, its root fragment.
type ResolverField struct {
	Alias    string
	Name     string
	Args     []Argument
	Fragment *Fragment
	Resolver *resolver.Resolver
}

// LiveResolverField is a ResolverField whose resolver returns a live state.
type LiveResolverField struct {
	Alias    string
	Name     string
	Args     []Argument
	Fragment *Fragment
	Resolver *resolver.Resolver
}

func (*ScalarField) isNode()       {}
func (*LinkedField) isNode()       {}
func (*FragmentSpread) isNode()    {}
func (*InlineFragment) isNode()    {}
func (*Condition) isNode()         {}
func (*ResolverField) isNode()     {}
func (*LiveResolverField) isNode() {}

func responseKey(alias, name string) string {
	if alias != "" {
		return alias
	}
	return name
}

// ResponseKey is the key of the field in read data.
func (f *ScalarField) ResponseKey() string       { return responseKey(f.Alias, f.Name) }
func (f *LinkedField) ResponseKey() string       { return responseKey(f.Alias, f.Name) }
func (f *ResolverField) ResponseKey() string     { return responseKey(f.Alias, f.Name) }
func (f *LiveResolverField) ResponseKey() string { return responseKey(f.Alias, f.Name) }

// StorageKey is the record key of the field for vars.
func (f *ScalarField) StorageKey(vars map[string]any) string {
	return cachekey.StorageKey(f.Name, EvalArgs(f.Args, vars))
}

// StorageKey is the record key of the field for vars.
func (f *LinkedField) StorageKey(vars map[string]any) string {
	return cachekey.StorageKey(f.Name, EvalArgs(f.Args, vars))
}

// Matches reports whether a record of concrete type typename satisfies the
// fragment's type condition.
func (f *InlineFragment) Matches(typename string) bool {
	if typename == f.TypeCondition {
		return true
	}
	if !f.Abstract {
		return false
	}
	for _, t := range f.PossibleTypes {
		if t == typename {
			return true
		}
	}
	return false
}
