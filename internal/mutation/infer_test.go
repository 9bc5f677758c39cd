package mutation

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hanpama/graphcache/internal/graphtest"
	"github.com/hanpama/graphcache/internal/selector"
)

func TestInferOptimisticSelections(t *testing.T) {
	doc := graphtest.Compile(t, nil, `
fragment StoryLikes on Story { likeCount }
mutation LikeStory($id: ID!) {
  likeStory(id: $id) { story { id ...StoryLikes } }
}
mutation Rename($id: ID!, $name: String!) {
  rename(id: $id, name: $name) { id name username }
}
`)

	rename := doc.Operation("Rename").Selections
	got := InferOptimisticSelections(rename, map[string]any{
		"rename": map[string]any{"id": "4", "name": "Zuck"},
		"extra":  map[string]any{"id": "x", "tags": []any{"a"}},
	})
	field := rename[0].(*selector.LinkedField)
	want := []selector.Node{
		&selector.LinkedField{Alias: "extra", Name: "extra", Selections: []selector.Node{
			&selector.ScalarField{Alias: "id", Name: "id"},
			&selector.ScalarField{Alias: "tags", Name: "tags"},
		}},
		&selector.LinkedField{
			Alias: field.Alias, Name: field.Name, Args: field.Args,
			ConcreteType: field.ConcreteType,
			Selections:   field.Selections[:2],
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("narrowed selections mismatch (-want +got):\n%s", diff)
	}

	// a field whose selections spread a fragment is kept whole
	like := doc.Operation("LikeStory").Selections
	got = InferOptimisticSelections(like, map[string]any{
		"likeStory": map[string]any{"story": map[string]any{"id": "s1", "likeCount": 2}},
	})
	if len(got) != 1 || got[0] != like[0] {
		t.Fatalf("expected the fat likeStory field, got %#v", got)
	}

	list := InferOptimisticSelections(nil, map[string]any{
		"items": []any{nil, map[string]any{"id": "1"}, map[string]any{"name": "n"}},
	})
	want = []selector.Node{
		&selector.LinkedField{Alias: "items", Name: "items", Plural: true, Selections: []selector.Node{
			&selector.ScalarField{Alias: "id", Name: "id"},
			&selector.ScalarField{Alias: "name", Name: "name"},
		}},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Fatalf("inferred list mismatch (-want +got):\n%s", diff)
	}
}
