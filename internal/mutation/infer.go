package mutation

import (
	"sort"

	"github.com/hanpama/graphcache/internal/selector"
)

// InferOptimisticSelections derives the selections to normalize an
// optimistic response with from the mutation's fat selections and the
// response shape.
//
// Scalars and objects present in response are kept. A linked field of fat
// whose selections are all scalar fields is narrowed to what response holds.
// Any other linked field is treated as containing fragments and kept whole;
// normalizing skips what response does not carry. Response keys that fat
// does not select are inferred from their values.
func InferOptimisticSelections(fat []selector.Node, response map[string]any) []selector.Node {
	fields := make(map[string]selector.Node)
	collectFields(fat, fields)

	keys := make([]string, 0, len(response))
	for k := range response {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]selector.Node, 0, len(keys))
	for _, k := range keys {
		v := response[k]
		switch f := fields[k].(type) {
		case *selector.ScalarField:
			out = append(out, f)
		case *selector.LinkedField:
			if !scalarOnly(f.Selections) {
				out = append(out, f)
				continue
			}
			narrowed := *f
			narrowed.Selections = InferOptimisticSelections(f.Selections, objectShape(v))
			out = append(out, &narrowed)
		case *selector.ResolverField, *selector.LiveResolverField:
			// computed on read, never written
		default:
			out = append(out, inferField(k, v))
		}
	}
	return out
}

// collectFields indexes fields by response key, looking through inline
// fragments, conditions and spreads. The first occurrence wins.
func collectFields(nodes []selector.Node, into map[string]selector.Node) {
	add := func(k string, n selector.Node) {
		if _, ok := into[k]; !ok {
			into[k] = n
		}
	}
	for _, n := range nodes {
		switch f := n.(type) {
		case *selector.ScalarField:
			add(f.ResponseKey(), f)
		case *selector.LinkedField:
			add(f.ResponseKey(), f)
		case *selector.ResolverField:
			add(f.ResponseKey(), f)
		case *selector.LiveResolverField:
			add(f.ResponseKey(), f)
		case *selector.InlineFragment:
			collectFields(f.Selections, into)
		case *selector.Condition:
			collectFields(f.Selections, into)
		case *selector.FragmentSpread:
			if f.Fragment != nil {
				collectFields(f.Fragment.Selections, into)
			}
		}
	}
}

func scalarOnly(nodes []selector.Node) bool {
	for _, n := range nodes {
		if _, ok := n.(*selector.ScalarField); !ok {
			return false
		}
	}
	return true
}

// objectShape merges the objects of v, which may be an object or a list of
// objects, so every key seen anywhere is selected.
func objectShape(v any) map[string]any {
	switch x := v.(type) {
	case map[string]any:
		return x
	case []any:
		out := make(map[string]any)
		for _, item := range x {
			for k, iv := range objectShape(item) {
				if _, ok := out[k]; !ok || out[k] == nil {
					out[k] = iv
				}
			}
		}
		return out
	default:
		return nil
	}
}

func inferField(key string, v any) selector.Node {
	switch x := v.(type) {
	case map[string]any:
		return &selector.LinkedField{Alias: key, Name: key, Selections: InferOptimisticSelections(nil, x)}
	case []any:
		if shape := objectShape(x); shape != nil && isObjectList(x) {
			return &selector.LinkedField{Alias: key, Name: key, Plural: true, Selections: InferOptimisticSelections(nil, shape)}
		}
	}
	return &selector.ScalarField{Alias: key, Name: key}
}

func isObjectList(items []any) bool {
	found := false
	for _, item := range items {
		switch item.(type) {
		case nil:
		case map[string]any:
			found = true
		default:
			return false
		}
	}
	return found
}
