package schema

import (
	"fmt"
	"sort"

	language "github.com/hanpama/graphcache/internal/language"
)

// BuildFromSDL parses and validates SDL and returns the corresponding Schema.
func BuildFromSDL(name, sdl string) (*Schema, error) {
	doc, err := language.LoadSchema(&language.Source{Name: name, Input: sdl})
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	return BuildFromAST(doc), nil
}

// BuildFromAST converts a validated gqlparser schema into a Schema. Possible
// types of abstract types are sorted for deterministic output.
func BuildFromAST(doc *language.Schema) *Schema {
	s := NewSchema()
	if doc.Query != nil {
		s.QueryType = doc.Query.Name
	}
	if doc.Mutation != nil {
		s.MutationType = doc.Mutation.Name
	}
	if doc.Subscription != nil {
		s.SubscriptionType = doc.Subscription.Name
	}

	names := make([]string, 0, len(doc.Types))
	for name := range doc.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := doc.Types[name]
		t := &Type{Name: def.Name, Kind: buildKind(def.Kind), Description: def.Description}
		t.Interfaces = append(t.Interfaces, def.Interfaces...)
		for _, fd := range def.Fields {
			t.Fields = append(t.Fields, buildField(fd))
		}
		if t.Kind == TypeKindInterface || t.Kind == TypeKindUnion {
			for _, pt := range doc.PossibleTypes[def.Name] {
				t.PossibleTypes = append(t.PossibleTypes, pt.Name)
			}
			sort.Strings(t.PossibleTypes)
		}
		s.AddType(t)
	}
	return s
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{Types: make(map[string]*Type)}
}

// AddType registers t, replacing any type with the same name.
func (s *Schema) AddType(t *Type) *Schema {
	s.Types[t.Name] = t
	return s
}

func buildKind(k language.DefinitionKind) TypeKind {
	switch k {
	case language.Object:
		return TypeKindObject
	case language.Interface:
		return TypeKindInterface
	case language.Union:
		return TypeKindUnion
	case language.Enum:
		return TypeKindEnum
	case language.InputObject:
		return TypeKindInputObject
	default:
		return TypeKindScalar
	}
}

func buildField(fd *language.FieldDefinition) *Field {
	f := &Field{Name: fd.Name, Description: fd.Description, Type: buildTypeRef(fd.Type)}
	for _, ad := range fd.Arguments {
		in := &Argument{Name: ad.Name, Description: ad.Description, Type: buildTypeRef(ad.Type)}
		if ad.DefaultValue != nil {
			if v, err := ad.DefaultValue.Value(nil); err == nil {
				in.DefaultValue = v
			}
		}
		f.Arguments = append(f.Arguments, in)
	}
	return f
}

func buildTypeRef(t *language.Type) *TypeRef {
	if t == nil {
		return nil
	}
	return &TypeRef{Named: t.NamedType, Elem: buildTypeRef(t.Elem), NonNull: t.NonNull}
}
