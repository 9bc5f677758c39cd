// Package normalize flattens a response payload into records.
package normalize

import (
	"fmt"
	"strconv"

	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selector"
)

// Normalize walks data with selections and returns the records it
// describes, starting at the record rootID.
//
// Objects with an "id" field are keyed by it; others get a client id derived
// from their parent and field. Fields absent from data are left out rather
// than set to null. Resolver fields are computed on read and never stored.
func Normalize(selections []selector.Node, vars map[string]any, rootID string, data map[string]any) (record.Source, error) {
	n := &normalizer{src: make(record.Source)}
	typename := record.RootType
	if rootID != record.RootID {
		typename, _ = data[record.TypenameKey].(string)
	}
	root, err := n.record(rootID, typename)
	if err != nil {
		return nil, err
	}
	if err := n.traverse(selections, vars, root, data); err != nil {
		return nil, err
	}
	return n.src, nil
}

type normalizer struct {
	src record.Source
}

func (n *normalizer) record(id, typename string) (record.Record, error) {
	r, ok := n.src[id]
	if !ok {
		r = record.New(id, typename)
		n.src[id] = r
		return r, nil
	}
	if typename == "" {
		return r, nil
	}
	if existing := r.Typename(); existing == "" {
		r[record.TypenameKey] = typename
	} else if existing != typename {
		return nil, fmt.Errorf("normalize: record %q has type %q and %q in one payload", id, existing, typename)
	}
	return r, nil
}

func (n *normalizer) traverse(nodes []selector.Node, vars map[string]any, rec record.Record, data map[string]any) error {
	for _, node := range nodes {
		switch f := node.(type) {
		case *selector.ScalarField:
			v, ok := data[f.ResponseKey()]
			if !ok {
				continue
			}
			rec[f.StorageKey(vars)] = record.CloneValue(v)

		case *selector.LinkedField:
			v, ok := data[f.ResponseKey()]
			if !ok {
				continue
			}
			key := f.StorageKey(vars)
			if err := n.linked(f, vars, rec, key, v); err != nil {
				return fmt.Errorf("%s: %w", f.ResponseKey(), err)
			}

		case *selector.InlineFragment:
			if t := rec.Typename(); t == "" || f.Matches(t) {
				if err := n.traverse(f.Selections, vars, rec, data); err != nil {
					return err
				}
			}

		case *selector.Condition:
			if b, _ := vars[f.Variable].(bool); b == f.Passing {
				if err := n.traverse(f.Selections, vars, rec, data); err != nil {
					return err
				}
			}

		case *selector.FragmentSpread:
			fv := f.Fragment.Variables(selector.EvalArgs(f.Args, vars), vars)
			if err := n.traverse(f.Fragment.Selections, fv, rec, data); err != nil {
				return err
			}

		case *selector.ResolverField, *selector.LiveResolverField:
		}
	}
	return nil
}

func (n *normalizer) linked(f *selector.LinkedField, vars map[string]any, parent record.Record, key string, v any) error {
	switch val := v.(type) {
	case nil:
		parent[key] = nil
	case []any:
		refs := make(record.Refs, len(val))
		for i, elem := range val {
			if elem == nil {
				continue
			}
			obj, ok := elem.(map[string]any)
			if !ok {
				return fmt.Errorf("[%d]: expected object, got %T", i, elem)
			}
			child, err := n.child(f, vars, obj, record.ClientID(parent.ID(), key, i))
			if err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
			refs[i] = child
		}
		parent[key] = refs
	case map[string]any:
		if f.Plural {
			return fmt.Errorf("expected list, got object")
		}
		child, err := n.child(f, vars, val, record.ClientID(parent.ID(), key))
		if err != nil {
			return err
		}
		parent[key] = record.Ref{ID: child}
	default:
		return fmt.Errorf("expected object, got %T", v)
	}
	return nil
}

func (n *normalizer) child(f *selector.LinkedField, vars map[string]any, data map[string]any, clientID string) (string, error) {
	id := dataID(data)
	if id == "" {
		id = clientID
	}
	typename, _ := data[record.TypenameKey].(string)
	if typename == "" {
		typename = f.ConcreteType
	}
	rec, err := n.record(id, typename)
	if err != nil {
		return "", err
	}
	if err := n.traverse(f.Selections, vars, rec, data); err != nil {
		return "", err
	}
	return id, nil
}

func dataID(data map[string]any) string {
	switch id := data["id"].(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return ""
	}
}
