package selector

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	language "github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/resolver"
	schema "github.com/hanpama/graphcache/internal/schema"
)

// Document is the compiled form of one GraphQL document.
type Document struct {
	Fragments  map[string]*Fragment
	Operations map[string]*Operation
}

// Fragment returns the fragment called name, or nil.
func (d *Document) Fragment(name string) *Fragment { return d.Fragments[name] }

// Operation returns the operation called name, or nil.
func (d *Document) Operation(name string) *Operation { return d.Operations[name] }

// Compiler turns GraphQL documents into selector trees.
//
// The schema decides whether a field is linked or scalar, plural or
// singular, and which types satisfy an abstract type condition. Without a
// schema a field is linked when it has a selection set. Fields registered in
// the resolver registry compile to resolver fields.
type Compiler struct {
	schema    *schema.Schema
	resolvers *resolver.Registry

	mu    sync.Mutex
	roots map[*resolver.Resolver]*Fragment
}

// NewCompiler returns a compiler. Both arguments may be nil.
func NewCompiler(s *schema.Schema, reg *resolver.Registry) *Compiler {
	return &Compiler{schema: s, resolvers: reg, roots: make(map[*resolver.Resolver]*Fragment)}
}

// Compile parses and compiles source.
func (c *Compiler) Compile(source string) (*Document, error) {
	doc, err := language.ParseQuery(source)
	if err != nil {
		return nil, err
	}
	comp := c.newCompilation(doc)
	if err := comp.compileFragments(); err != nil {
		return nil, err
	}
	out := &Document{Fragments: comp.fragments, Operations: make(map[string]*Operation)}
	for _, def := range doc.Operations {
		op, err := comp.compileOperation(def, source)
		if err != nil {
			return nil, err
		}
		out.Operations[op.Name] = op
	}
	return out, nil
}

// MustCompile is Compile for sources known to be valid.
func (c *Compiler) MustCompile(source string) *Document {
	d, err := c.Compile(source)
	if err != nil {
		panic(err)
	}
	return d
}

type compilation struct {
	c         *Compiler
	doc       *language.QueryDocument
	fragments map[string]*Fragment
	// used collects variables referenced while compiling one definition.
	used map[string]bool
}

func (c *Compiler) newCompilation(doc *language.QueryDocument) *compilation {
	comp := &compilation{c: c, doc: doc, fragments: make(map[string]*Fragment, len(doc.Fragments))}
	for _, def := range doc.Fragments {
		comp.fragments[def.Name] = NewFragment(def.Name, def.TypeCondition)
	}
	return comp
}

func (comp *compilation) compileFragments() error {
	for _, def := range comp.doc.Fragments {
		if err := comp.compileFragment(def); err != nil {
			return fmt.Errorf("fragment %s: %w", def.Name, err)
		}
	}
	comp.propagateRootArguments()
	return nil
}

// propagateRootArguments makes every fragment declare the root arguments of
// the fragments it depends on, unless the dependency binds them.
func (comp *compilation) propagateRootArguments() {
	for changed := true; changed; {
		changed = false
		for _, def := range comp.doc.Fragments {
			f := comp.fragments[def.Name]
			have := make(map[string]bool, len(f.ArgumentDefinitions))
			for _, ad := range f.ArgumentDefinitions {
				have[ad.Name] = true
			}
			var added []string
			walkDependencies(f.Selections, func(dep *Fragment, bound map[string]bool) {
				for _, ad := range dep.ArgumentDefinitions {
					if ad.Kind == RootArgument && !bound[ad.Name] && !have[ad.Name] {
						have[ad.Name] = true
						added = append(added, ad.Name)
					}
				}
			})
			sort.Strings(added)
			for _, name := range added {
				f.ArgumentDefinitions = append(f.ArgumentDefinitions, ArgumentDefinition{Name: name, Kind: RootArgument})
			}
			changed = changed || len(added) > 0
		}
	}
}

// walkDependencies calls fn for every fragment read from nodes, with the
// argument names bound at the use site.
func walkDependencies(nodes []Node, fn func(dep *Fragment, bound map[string]bool)) {
	names := func(args []Argument) map[string]bool {
		m := make(map[string]bool, len(args))
		for _, a := range args {
			m[a.Name] = true
		}
		return m
	}
	for _, n := range nodes {
		switch n := n.(type) {
		case *LinkedField:
			walkDependencies(n.Selections, fn)
		case *InlineFragment:
			walkDependencies(n.Selections, fn)
		case *Condition:
			walkDependencies(n.Selections, fn)
		case *FragmentSpread:
			fn(n.Fragment, names(n.Args))
		case *ResolverField:
			if n.Fragment != nil {
				fn(n.Fragment, names(n.Args))
			}
		case *LiveResolverField:
			if n.Fragment != nil {
				fn(n.Fragment, names(n.Args))
			}
		}
	}
}

func (comp *compilation) compileFragment(def *language.FragmentDefinition) error {
	f := comp.fragments[def.Name]
	f.TypeCondition = def.TypeCondition
	f.Abstract, f.PossibleTypes = comp.typeInfo(def.TypeCondition)

	if d := def.Directives.ForName("relay"); d != nil {
		if a := d.Arguments.ForName("plural"); a != nil {
			f.Plural, _ = astValueToGo(a.Value).(bool)
		}
	}
	locals := map[string]bool{}
	if d := def.Directives.ForName("argumentDefinitions"); d != nil {
		for _, a := range d.Arguments {
			ad := ArgumentDefinition{Name: a.Name, Kind: LocalArgument}
			if spec, ok := astValueToGo(a.Value).(map[string]any); ok {
				ad.Type, _ = spec["type"].(string)
				ad.DefaultValue = spec["defaultValue"]
			}
			f.ArgumentDefinitions = append(f.ArgumentDefinitions, ad)
			locals[a.Name] = true
		}
	}

	comp.used = map[string]bool{}
	sels, err := comp.compileSelections(def.SelectionSet, def.TypeCondition)
	if err != nil {
		return err
	}
	f.Selections = sels

	var roots []string
	for name := range comp.used {
		if !locals[name] {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)
	for _, name := range roots {
		f.ArgumentDefinitions = append(f.ArgumentDefinitions, ArgumentDefinition{Name: name, Kind: RootArgument})
	}
	return nil
}

func (comp *compilation) compileOperation(def *language.OperationDefinition, source string) (*Operation, error) {
	op := &Operation{Name: def.Name, Kind: OperationKind(def.Operation), Text: source}
	for _, vd := range def.VariableDefinitions {
		op.VariableDefinitions = append(op.VariableDefinitions, VariableDefinition{
			Name:         vd.Variable,
			Type:         vd.Type.String(),
			NonNull:      vd.Type.NonNull,
			DefaultValue: astValueToGo(vd.DefaultValue),
		})
	}
	rootType := comp.rootType(op.Kind)
	comp.used = map[string]bool{}
	sels, err := comp.compileSelections(def.SelectionSet, rootType)
	if err != nil {
		return nil, fmt.Errorf("operation %s: %w", def.Name, err)
	}
	op.Selections = sels
	op.Root = NewFragment(def.Name, rootType)
	op.Root.Selections = sels
	for _, vd := range op.VariableDefinitions {
		op.Root.ArgumentDefinitions = append(op.Root.ArgumentDefinitions, ArgumentDefinition{
			Name: vd.Name, Kind: RootArgument, Type: vd.Type,
		})
	}
	return op, nil
}

func (comp *compilation) rootType(kind OperationKind) string {
	s := comp.c.schema
	if s == nil {
		return ""
	}
	switch kind {
	case Mutation:
		return s.MutationType
	case Subscription:
		return s.SubscriptionType
	default:
		return s.QueryType
	}
}

func (comp *compilation) typeInfo(name string) (bool, []string) {
	s := comp.c.schema
	if s == nil || !s.IsAbstract(name) {
		return false, nil
	}
	return true, s.PossibleTypes(name)
}

func (comp *compilation) compileSelections(set language.SelectionSet, parent string) ([]Node, error) {
	var out []Node
	for _, selection := range set {
		var (
			nodes      []Node
			directives language.DirectiveList
		)
		switch sel := selection.(type) {
		case *language.Field:
			n, err := comp.compileField(sel, parent)
			if err != nil {
				return nil, err
			}
			nodes, directives = []Node{n}, sel.Directives

		case *language.InlineFragment:
			children, err := comp.compileSelections(sel.SelectionSet, typeOr(sel.TypeCondition, parent))
			if err != nil {
				return nil, err
			}
			directives = sel.Directives
			if sel.TypeCondition == "" || sel.TypeCondition == parent {
				nodes = children
			} else {
				abstract, possible := comp.typeInfo(sel.TypeCondition)
				nodes = []Node{&InlineFragment{
					TypeCondition: sel.TypeCondition,
					Abstract:      abstract,
					PossibleTypes: possible,
					Selections:    children,
				}}
			}

		case *language.FragmentSpread:
			frag := comp.fragments[sel.Name]
			if frag == nil {
				return nil, language.Errorf(sel.Position, "unknown fragment %q", sel.Name)
			}
			spread := &FragmentSpread{Fragment: frag}
			if d := sel.Directives.ForName("arguments"); d != nil {
				spread.Args = comp.compileArgs(d.Arguments)
			}
			directives = sel.Directives
			tc := comp.spreadTypeCondition(sel.Name)
			if tc == "" || parent == "" || tc == parent {
				nodes = []Node{spread}
			} else {
				abstract, possible := comp.typeInfo(tc)
				nodes = []Node{&InlineFragment{
					TypeCondition: tc,
					Abstract:      abstract,
					PossibleTypes: possible,
					Selections:    []Node{spread},
				}}
			}
		}

		wrapped, include := comp.applyConditions(nodes, directives)
		if include {
			out = append(out, wrapped...)
		}
	}
	return out, nil
}

// spreadTypeCondition reads the type condition from the definition since the
// spread fragment may not be compiled yet.
func (comp *compilation) spreadTypeCondition(name string) string {
	if def := comp.doc.Fragments.ForName(name); def != nil {
		return def.TypeCondition
	}
	return ""
}

// applyConditions wraps nodes for @skip/@include bound to variables. A
// literal condition that excludes the selection reports include=false.
func (comp *compilation) applyConditions(nodes []Node, directives language.DirectiveList) ([]Node, bool) {
	for _, name := range []string{"skip", "include"} {
		d := directives.ForName(name)
		if d == nil {
			continue
		}
		passing := name == "include"
		arg := d.Arguments.ForName("if")
		if arg == nil {
			continue
		}
		if arg.Value.Kind == language.Variable {
			comp.used[arg.Value.Raw] = true
			nodes = []Node{&Condition{Variable: arg.Value.Raw, Passing: passing, Selections: nodes}}
			continue
		}
		if b, ok := astValueToGo(arg.Value).(bool); ok && b != passing {
			return nil, false
		}
	}
	return nodes, true
}

func (comp *compilation) compileField(f *language.Field, parent string) (Node, error) {
	alias := f.Alias
	if alias == f.Name {
		alias = ""
	}
	args := comp.compileArgs(f.Arguments)

	if f.Name == "__typename" {
		return &ScalarField{Alias: alias, Name: f.Name}, nil
	}

	if res, ok := comp.c.resolvers.Lookup(parent, f.Name); ok {
		root, err := comp.c.rootFragment(res)
		if err != nil {
			return nil, fmt.Errorf("resolver %s.%s: %w", parent, f.Name, err)
		}
		if res.IsLive() {
			return &LiveResolverField{Alias: alias, Name: f.Name, Args: args, Fragment: root, Resolver: res}, nil
		}
		return &ResolverField{Alias: alias, Name: f.Name, Args: args, Fragment: root, Resolver: res}, nil
	}

	linked, plural, concrete, named, err := comp.fieldType(f, parent)
	if err != nil {
		return nil, err
	}
	if !linked {
		if len(f.SelectionSet) > 0 {
			return nil, language.Errorf(f.Position, "field %q of scalar type cannot have a selection set", f.Name)
		}
		return &ScalarField{Alias: alias, Name: f.Name, Args: args}, nil
	}
	if len(f.SelectionSet) == 0 {
		return nil, language.Errorf(f.Position, "field %q of type %q must have a selection set", f.Name, named)
	}
	children, err := comp.compileSelections(f.SelectionSet, named)
	if err != nil {
		return nil, err
	}
	return &LinkedField{
		Alias:        alias,
		Name:         f.Name,
		Args:         args,
		Plural:       plural,
		ConcreteType: concrete,
		Selections:   children,
	}, nil
}

// fieldType resolves f on parent. named is the field's named type, concrete
// is set when that type is an object type.
func (comp *compilation) fieldType(f *language.Field, parent string) (linked, plural bool, concrete, named string, err error) {
	s := comp.c.schema
	if s == nil || parent == "" {
		return len(f.SelectionSet) > 0, false, "", "", nil
	}
	pt := s.Types[parent]
	if pt == nil {
		return false, false, "", "", language.Errorf(f.Position, "unknown type %q", parent)
	}
	fd := pt.Field(f.Name)
	if fd == nil {
		return false, false, "", "", language.Errorf(f.Position, "unknown field %q on type %q", f.Name, parent)
	}
	named = fd.Type.NamedType()
	t := s.Types[named]
	if t == nil || !t.Kind.IsComposite() {
		return false, false, "", named, nil
	}
	if t.Kind == schema.TypeKindObject {
		concrete = named
	}
	return true, fd.Type.IsList(), concrete, named, nil
}

func (comp *compilation) compileArgs(args language.ArgumentList) []Argument {
	if len(args) == 0 {
		return nil
	}
	out := make([]Argument, len(args))
	for i, a := range args {
		out[i] = Argument{Name: a.Name, Value: comp.compileValue(a.Value)}
	}
	return out
}

func (comp *compilation) compileValue(v *language.Value) Value {
	if v == nil {
		return &Literal{}
	}
	switch v.Kind {
	case language.Variable:
		comp.used[v.Raw] = true
		return &Variable{Name: v.Raw}
	case language.ListValue:
		items := make([]Value, len(v.Children))
		for i, c := range v.Children {
			items[i] = comp.compileValue(c.Value)
		}
		return &ListValue{Items: items}
	case language.ObjectValue:
		fields := make([]Argument, len(v.Children))
		for i, c := range v.Children {
			fields[i] = Argument{Name: c.Name, Value: comp.compileValue(c.Value)}
		}
		return &ObjectValue{Fields: fields}
	default:
		return &Literal{Value: astValueToGo(v)}
	}
}

// rootFragment compiles the root fragment of res once per compiler.
func (c *Compiler) rootFragment(res *resolver.Resolver) (*Fragment, error) {
	if res.RootFragment == "" {
		return nil, nil
	}
	c.mu.Lock()
	if f, ok := c.roots[res]; ok {
		c.mu.Unlock()
		return f, nil
	}
	doc, err := language.ParseQuery(res.RootFragment)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if len(doc.Fragments) == 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("root fragment source has no fragment definition")
	}
	comp := c.newCompilation(doc)
	root := comp.fragments[doc.Fragments[0].Name]
	c.roots[res] = root
	c.mu.Unlock()

	if err := comp.compileFragments(); err != nil {
		c.mu.Lock()
		delete(c.roots, res)
		c.mu.Unlock()
		return nil, err
	}
	return root, nil
}

func typeOr(t, fallback string) string {
	if t != "" {
		return t
	}
	return fallback
}

// astValueToGo converts a constant AST value to a Go value.
func astValueToGo(value *language.Value) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.IntValue:
		iv, _ := strconv.Atoi(value.Raw)
		return iv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue, language.EnumValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = astValueToGo(c.Value)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any, len(value.Children))
		for _, f := range value.Children {
			m[f.Name] = astValueToGo(f.Value)
		}
		return m
	default:
		return nil
	}
}
