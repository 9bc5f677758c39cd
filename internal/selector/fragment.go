package selector

import (
	"fmt"
	"sync/atomic"
)

var fragmentSeq atomic.Uint64

// ArgumentKind tells where a fragment argument takes its value from.
type ArgumentKind int

const (
	// LocalArgument is declared with @argumentDefinitions and bound at the
	// spread site, falling back to its default.
	LocalArgument ArgumentKind = iota
	// RootArgument is inherited from the variables in scope.
	RootArgument
)

// ArgumentDefinition declares one fragment variable.
type ArgumentDefinition struct {
	Name         string
	Kind         ArgumentKind
	Type         string
	DefaultValue any
}

// Fragment is a compiled, reusable selection on a type.
//
// Fragments are compared by identity. Two fragments compiled from the same
// source are distinct.
type Fragment struct {
	Name          string
	TypeCondition string
	Abstract      bool
	PossibleTypes []string
	// Plural fragments are read against a list of references.
	Plural              bool
	ArgumentDefinitions []ArgumentDefinition
	Selections          []Node

	id uint64
}

// NewFragment returns an empty fragment with a fresh identity.
func NewFragment(name, typeCondition string) *Fragment {
	return &Fragment{Name: name, TypeCondition: typeCondition, id: fragmentSeq.Add(1)}
}

// Identity returns a process-unique name for f. Fragments built without
// NewFragment are identified by address.
func (f *Fragment) Identity() string {
	if f.id == 0 {
		return fmt.Sprintf("%s@%p", f.Name, f)
	}
	return fmt.Sprintf("%s#%d", f.Name, f.id)
}

// Variables returns the fragment's variables: local arguments take their
// binding or default, root arguments are inherited from scope and are nil
// when scope does not define them.
func (f *Fragment) Variables(bindings map[string]any, scope map[string]any) map[string]any {
	out := make(map[string]any, len(f.ArgumentDefinitions))
	for _, def := range f.ArgumentDefinitions {
		if v, ok := bindings[def.Name]; ok {
			out[def.Name] = v
			continue
		}
		switch def.Kind {
		case LocalArgument:
			out[def.Name] = def.DefaultValue
		case RootArgument:
			out[def.Name] = scope[def.Name]
		}
	}
	return out
}

// OperationKind is query, mutation or subscription.
type OperationKind string

const (
	Query        OperationKind = "query"
	Mutation     OperationKind = "mutation"
	Subscription OperationKind = "subscription"
)

// VariableDefinition declares an operation variable.
type VariableDefinition struct {
	Name         string
	Type         string
	NonNull      bool
	DefaultValue any
}

// Operation is a compiled query, mutation or subscription.
type Operation struct {
	Name                string
	Kind                OperationKind
	VariableDefinitions []VariableDefinition
	Selections          []Node
	// Root reads the operation's selections from the root record.
	Root *Fragment
	// Text is the document source sent to the network.
	Text string
}

// Variables applies variable defaults to vars. It reports an error when a
// non-null variable without a default is missing or null.
func (op *Operation) Variables(vars map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(op.VariableDefinitions))
	for _, def := range op.VariableDefinitions {
		v, ok := vars[def.Name]
		if !ok {
			v = def.DefaultValue
		}
		if v == nil && def.NonNull {
			return nil, fmt.Errorf("variable $%s of required type %s was not provided", def.Name, def.Type)
		}
		out[def.Name] = v
	}
	return out, nil
}
