// Package schema is the client's view of a server schema: enough of it to
// compile selections against. It knows which fields link to records, which
// of them are plural, and which concrete types an abstract type covers.
package schema

// Schema holds the named types of a server schema.
type Schema struct {
	QueryType        string
	MutationType     string
	SubscriptionType string
	Types            map[string]*Type
}

// Root returns the root type for an operation kind ("query", "mutation" or
// "subscription"), or nil when the schema has none.
func (s *Schema) Root(kind string) *Type {
	switch kind {
	case "query":
		return s.Types[s.QueryType]
	case "mutation":
		return s.Types[s.MutationType]
	case "subscription":
		return s.Types[s.SubscriptionType]
	}
	return nil
}

// IsAbstract reports whether name is an interface or union type.
func (s *Schema) IsAbstract(name string) bool {
	t := s.Types[name]
	return t != nil && (t.Kind == TypeKindInterface || t.Kind == TypeKindUnion)
}

// PossibleTypes returns the concrete object types of an abstract type. For an
// object type it returns the type itself.
func (s *Schema) PossibleTypes(name string) []string {
	t := s.Types[name]
	if t == nil {
		return nil
	}
	if t.Kind == TypeKindObject {
		return []string{t.Name}
	}
	return append([]string(nil), t.PossibleTypes...)
}

type Type struct {
	Name          string
	Kind          TypeKind
	Description   string
	Fields        []*Field
	Interfaces    []string
	PossibleTypes []string // sorted; interfaces and unions only
}

// Field returns the field definition called name, or nil.
func (t *Type) Field(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

type Field struct {
	Name        string
	Description string
	Type        *TypeRef
	Arguments   []*Argument
}

// Argument is a field argument with its parsed default, if any.
type Argument struct {
	Name         string
	Description  string
	Type         *TypeRef
	DefaultValue any
}

type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindInterface   TypeKind = "INTERFACE"
	TypeKindUnion       TypeKind = "UNION"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// IsComposite reports whether values of this kind have sub-selections.
func (k TypeKind) IsComposite() bool {
	return k == TypeKindObject || k == TypeKindInterface || k == TypeKindUnion
}

// TypeRef is a possibly wrapped type reference. Exactly one of Named and
// Elem is set; Elem marks a list of Elem.
type TypeRef struct {
	Named   string
	Elem    *TypeRef
	NonNull bool
}

// IsList reports whether the outermost type, ignoring non-null, is a list.
func (t *TypeRef) IsList() bool { return t != nil && t.Elem != nil }

// NamedType returns the innermost named type.
func (t *TypeRef) NamedType() string {
	for t != nil && t.Elem != nil {
		t = t.Elem
	}
	if t == nil {
		return ""
	}
	return t.Named
}

func (t *TypeRef) String() string {
	if t == nil {
		return ""
	}
	s := t.Named
	if t.Elem != nil {
		s = "[" + t.Elem.String() + "]"
	}
	if t.NonNull {
		s += "!"
	}
	return s
}
