package reader

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/graphtest"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/resolver"
	"github.com/hanpama/graphcache/internal/selector"
	"github.com/hanpama/graphcache/internal/store"
)

func newStore(t *testing.T, src record.Source) *store.Store {
	t.Helper()
	s := store.New()
	_, err := s.Publish(src)
	require.NoError(t, err)
	return s
}

func users() record.Source {
	return record.Source{
		"4": {record.IDKey: "4", record.TypenameKey: "User", "id": "4", "name": "Mark",
			"friends(first:2)": record.Refs{"5", ""}, "bestFriend": record.Ref{ID: "5"}},
		"5": {record.IDKey: "5", record.TypenameKey: "User", "id": "5", "name": "Zuck", "bestFriend": nil},
	}
}

func TestRead_ScalarsAndLinks(t *testing.T) {
	f := graphtest.Fragment(t, nil, `
fragment F on User {
  id
  name
  friends(first: 2) { name }
  bestFriend { name bestFriend { id } }
}`, "F")
	r := New(newStore(t, users()))
	snap := r.Read(selector.New(f, "4", nil))

	want := map[string]any{
		"id":   "4",
		"name": "Mark",
		"friends": []any{
			map[string]any{"name": "Zuck"},
			nil,
		},
		"bestFriend": map[string]any{"name": "Zuck", "bestFriend": nil},
	}
	if diff := cmp.Diff(want, snap.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.False(t, snap.IsMissingData)
	require.Equal(t, []string{"4", "5"}, snap.SeenRecords.Sorted())
	require.Equal(t, uint64(1), snap.Generation)
	require.NoError(t, snap.Err)
}

func TestRead_MissingData(t *testing.T) {
	f := graphtest.Fragment(t, nil, `fragment F on User { id username bestFriend { id } }`, "F")
	s := newStore(t, record.Source{
		"4": {record.IDKey: "4", record.TypenameKey: "User", "id": "4", "bestFriend": record.Ref{ID: "9"}},
	})
	snap := New(s).Read(selector.New(f, "4", nil))

	require.True(t, snap.IsMissingData)
	require.False(t, snap.Suspended)
	require.Equal(t, map[string]any{"id": "4"}, snap.Data)
	require.Equal(t, []string{"4.username", "9"}, snap.MissingFields)
	require.Equal(t, []string{"4", "9"}, snap.SeenRecords.Sorted(), "missing records are still seen")

	snap = New(s).Read(selector.New(f, "nope", nil))
	require.True(t, snap.IsMissingData)
	require.Nil(t, snap.Data)
}

func TestRead_PluralLinkKeepsPresentElements(t *testing.T) {
	f := graphtest.Fragment(t, nil, `fragment F on User { friends(first: 3) { id } }`, "F")
	s := newStore(t, record.Source{
		"4": {record.IDKey: "4", "friends(first:3)": record.Refs{"5", "9", ""}},
		"5": {record.IDKey: "5", "id": "5"},
	})
	snap := New(s).Read(selector.New(f, "4", nil))

	require.True(t, snap.IsMissingData)
	require.Equal(t, []string{"9"}, snap.MissingFields)
	if diff := cmp.Diff(map[string]any{
		"friends": []any{map[string]any{"id": "5"}, nil, nil},
	}, snap.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"4", "5", "9"}, snap.SeenRecords.Sorted())
}

func TestRead_ExplicitNullIsNotMissing(t *testing.T) {
	f := graphtest.Fragment(t, nil, `fragment F on User { username }`, "F")
	s := newStore(t, record.Source{"4": {record.IDKey: "4", "username": nil}})
	snap := New(s).Read(selector.New(f, "4", nil))
	require.False(t, snap.IsMissingData)
	require.Equal(t, map[string]any{"username": nil}, snap.Data)
}

func TestRead_AbstractSelections(t *testing.T) {
	f := graphtest.Fragment(t, nil, `
fragment A on Actor {
  ... on User { name }
  ... on Page { title }
}`, "A")
	s := newStore(t, record.Source{
		"u": {record.IDKey: "u", record.TypenameKey: "User", "name": "Mark"},
		"p": {record.IDKey: "p", record.TypenameKey: "Page", "title": "Home"},
		"x": {record.IDKey: "x", "name": "?"},
	})
	r := New(s)

	snap := r.Read(selector.New(f, "u", nil))
	require.Equal(t, map[string]any{"name": "Mark"}, snap.Data)
	require.False(t, snap.IsMissingData)

	snap = r.Read(selector.New(f, "p", nil))
	require.Equal(t, map[string]any{"title": "Home"}, snap.Data)

	snap = r.Read(selector.New(f, "x", nil))
	require.True(t, snap.IsMissingData, "unknown type is missing data")
}

func TestRead_ConcreteTypeMismatchIsMissing(t *testing.T) {
	f := graphtest.Fragment(t, nil, `fragment F on User { bestFriend { id } }`, "F")
	s := newStore(t, record.Source{
		"4": {record.IDKey: "4", "bestFriend": record.Ref{ID: "p"}},
		"p": {record.IDKey: "p", record.TypenameKey: "Page", "id": "p"},
	})
	snap := New(s).Read(selector.New(f, "4", nil))
	require.True(t, snap.IsMissingData)
	require.Equal(t, map[string]any{}, snap.Data)
}

func TestRead_SpreadArguments(t *testing.T) {
	doc := graphtest.Compile(t, nil, `
fragment Pic on User @argumentDefinitions(size: {type: "Int", defaultValue: 32}) {
  profilePicture(size: $size) { uri }
  friends(first: $count) { id }
}
fragment Outer on User {
  ...Pic @arguments(size: 64)
}`)
	s := newStore(t, record.Source{
		"4": {record.IDKey: "4", record.TypenameKey: "User",
			"profilePicture(size:64)": record.Ref{ID: "img"},
			"friends":                 record.Refs{},
		},
		"img": {record.IDKey: "img", "uri": "https://x/64.png"},
	})
	outer := doc.Fragment("Outer")

	// count is absent from scope, so friends is read without arguments
	snap := New(s).Read(selector.New(outer, "4", outer.Variables(nil, map[string]any{})))
	require.False(t, snap.IsMissingData)
	require.Equal(t, map[string]any{
		"profilePicture": map[string]any{"uri": "https://x/64.png"},
		"friends":        []any{},
	}, snap.Data)
}

func TestRead_Conditions(t *testing.T) {
	f := graphtest.Fragment(t, nil, `fragment F on User { id name @include(if: $withName) }`, "F")
	s := newStore(t, record.Source{"4": {record.IDKey: "4", "id": "4"}})
	r := New(s)

	snap := r.Read(selector.New(f, "4", map[string]any{"withName": false}))
	require.False(t, snap.IsMissingData)
	snap = r.Read(selector.New(f, "4", map[string]any{"withName": true}))
	require.True(t, snap.IsMissingData)
}

func greetingRegistry(t *testing.T, calls *int) *resolver.Registry {
	t.Helper()
	reg := resolver.NewRegistry()
	require.NoError(t, reg.Register("User", "greeting", &resolver.Resolver{
		RootFragment: `fragment UserGreetingResolver on User { name }`,
		Func: func(model any, args map[string]any) (any, error) {
			*calls++
			name := model.(map[string]any)["name"]
			if name == "boom" {
				return nil, errors.New("bad name")
			}
			if name == "panic" {
				panic("resolver exploded")
			}
			return "Hello, " + name.(string), nil
		},
	}))
	return reg
}

func TestRead_Resolver(t *testing.T) {
	calls := 0
	f := graphtest.Fragment(t, greetingRegistry(t, &calls), `fragment F on User { id greeting }`, "F")
	s := newStore(t, record.Source{
		"4": {record.IDKey: "4", "id": "4", "name": "Mark"},
		"5": {record.IDKey: "5", "id": "5"},
	})
	r := New(s)

	snap := r.Read(selector.New(f, "4", nil))
	require.Equal(t, map[string]any{"id": "4", "greeting": "Hello, Mark"}, snap.Data)
	require.Equal(t, 1, calls)

	// the resolver is not invoked while its root fragment is missing data
	snap = r.Read(selector.New(f, "5", nil))
	require.True(t, snap.IsMissingData)
	require.Equal(t, map[string]any{"id": "5"}, snap.Data)
	require.Equal(t, 1, calls)
	require.Equal(t, []string{"5.name"}, snap.MissingFields)
}

func TestRead_ResolverErrors(t *testing.T) {
	calls := 0
	f := graphtest.Fragment(t, greetingRegistry(t, &calls), `fragment F on User { greeting friends(first: 2) { greeting } }`, "F")
	s := newStore(t, record.Source{
		"4": {record.IDKey: "4", "name": "boom", "friends(first:2)": record.Refs{"5"}},
		"5": {record.IDKey: "5", "name": "panic"},
	})
	snap := New(s).Read(selector.New(f, "4", nil))

	require.Error(t, snap.Err)
	var merr *multierror.Error
	require.True(t, errors.As(snap.Err, &merr))
	require.Len(t, merr.Errors, 2)

	var first *ResolverError
	require.True(t, errors.As(merr.Errors[0], &first))
	require.Equal(t, "greeting", first.Path)
	require.EqualError(t, first.Err, "bad name")

	var second *ResolverError
	require.True(t, errors.As(merr.Errors[1], &second))
	require.Equal(t, "friends.0.greeting", second.Path)
	require.Contains(t, second.Err.Error(), "resolver exploded")

	require.Equal(t, map[string]any{
		"greeting": nil,
		"friends":  []any{map[string]any{"greeting": nil}},
	}, snap.Data)
	require.False(t, snap.IsMissingData)
}

func TestRead_ResolverChaining(t *testing.T) {
	calls := 0
	reg := greetingRegistry(t, &calls)
	require.NoError(t, reg.Register("User", "alternate_name", &resolver.Resolver{
		RootFragment: `fragment ShoutResolver on User { greeting }`,
		Func: func(model any, _ map[string]any) (any, error) {
			return model.(map[string]any)["greeting"].(string) + "!", nil
		},
	}))
	f := graphtest.Fragment(t, reg, `fragment F on User { alternate_name }`, "F")
	s := newStore(t, record.Source{"4": {record.IDKey: "4", "name": "Mark"}})

	snap := New(s).Read(selector.New(f, "4", nil))
	require.Equal(t, map[string]any{"alternate_name": "Hello, Mark!"}, snap.Data)
	require.Equal(t, []string{"4"}, snap.SeenRecords.Sorted())
}

func TestRead_LiveResolver(t *testing.T) {
	clock := resolver.NewSuspended()
	created := 0
	reg := resolver.NewRegistry()
	require.NoError(t, reg.Register("User", "clock", &resolver.Resolver{
		RootFragment: `fragment ClockResolver on User { id }`,
		Live: func(model any, _ map[string]any) (resolver.LiveState, error) {
			created++
			return clock, nil
		},
	}))
	f := graphtest.Fragment(t, reg, `fragment F on User { name clock }`, "F")
	s := newStore(t, record.Source{"4": {record.IDKey: "4", "id": "4", "name": "Mark"}})

	var changed []string
	r := New(s, WithOnLiveChange(func(key string) { changed = append(changed, key) }))
	sel := selector.New(f, "4", nil)
	r.Retain(sel.Key())

	snap := r.Read(sel)
	require.True(t, snap.Suspended)
	require.True(t, snap.IsMissingData)
	require.Nil(t, snap.Data)
	liveKey := LiveKey(sel.Key(), "4", "clock")
	require.True(t, snap.SeenRecords.Has(liveKey))
	require.True(t, snap.SeenRecords.Has("4"))

	clock.Set("12:00")
	require.Equal(t, []string{liveKey}, changed)

	snap = r.Read(sel)
	require.False(t, snap.Suspended)
	require.Equal(t, map[string]any{"name": "Mark", "clock": "12:00"}, snap.Data)
	require.Equal(t, 1, created, "one live state per selector and field")
	require.Equal(t, 1, r.LiveStates())

	// a model change recreates the state
	_, err := s.Publish(record.Source{"4": {record.IDKey: "4", "id": "4b"}})
	require.NoError(t, err)
	r.Read(sel)
	require.Equal(t, 2, created)
	require.Equal(t, 1, clock.Subscribers())

	r.Release(sel.Key())
	require.Equal(t, 0, r.LiveStates())
	require.Equal(t, 0, clock.Subscribers())
}

func TestRead_LiveResolverUnretainedHoldsNothing(t *testing.T) {
	clock := resolver.NewValue("11:59")
	created := 0
	reg := resolver.NewRegistry()
	require.NoError(t, reg.Register("User", "clock", &resolver.Resolver{
		Live: func(any, map[string]any) (resolver.LiveState, error) {
			created++
			return clock, nil
		},
	}))
	f := graphtest.Fragment(t, reg, `fragment F on User { name clock }`, "F")
	s := newStore(t, record.Source{"4": {record.IDKey: "4", "name": "Mark"}})

	var changed []string
	r := New(s, WithOnLiveChange(func(key string) { changed = append(changed, key) }))
	sel := selector.New(f, "4", nil)
	for range 3 {
		snap := r.Read(sel)
		require.Equal(t, map[string]any{"name": "Mark", "clock": "11:59"}, snap.Data)
	}
	require.Equal(t, 3, created)
	require.Equal(t, 0, r.LiveStates())
	require.Equal(t, 0, clock.Subscribers())

	clock.Set("12:00")
	require.Empty(t, changed)
	require.Equal(t, "12:00", r.Read(sel).Data["clock"])
}

func TestRead_LiveResolverRetainCounts(t *testing.T) {
	clock := resolver.NewValue("11:59")
	reg := resolver.NewRegistry()
	require.NoError(t, reg.Register("User", "clock", &resolver.Resolver{
		Live: func(any, map[string]any) (resolver.LiveState, error) { return clock, nil },
	}))
	f := graphtest.Fragment(t, reg, `fragment F on User { clock }`, "F")
	r := New(newStore(t, record.Source{"4": {record.IDKey: "4"}}))
	sel := selector.New(f, "4", nil)

	r.Retain(sel.Key())
	r.Retain(sel.Key())
	r.Read(sel)
	require.Equal(t, 1, r.LiveStates())
	require.Equal(t, 1, clock.Subscribers())

	r.Release(sel.Key())
	require.Equal(t, 1, r.LiveStates())
	require.Equal(t, 1, clock.Subscribers())

	r.Release(sel.Key())
	require.Equal(t, 0, r.LiveStates())
	require.Equal(t, 0, clock.Subscribers())

	r.Release(sel.Key())
	r.Read(sel)
	require.Equal(t, 0, r.LiveStates())
}

func TestRead_LiveResolverFactoryError(t *testing.T) {
	reg := resolver.NewRegistry()
	require.NoError(t, reg.Register("User", "clock", &resolver.Resolver{
		Live: func(any, map[string]any) (resolver.LiveState, error) { return nil, errors.New("no clock") },
	}))
	f := graphtest.Fragment(t, reg, `fragment F on User { clock }`, "F")
	snap := New(newStore(t, record.Source{"4": {record.IDKey: "4"}})).Read(selector.New(f, "4", nil))
	var rerr *ResolverError
	require.True(t, errors.As(snap.Err, &rerr))
	require.Equal(t, "clock", rerr.Field)
	require.Equal(t, map[string]any{"clock": nil}, snap.Data)
}

func TestRead_ValuesAreCopies(t *testing.T) {
	f := graphtest.Fragment(t, nil, `fragment F on User { name }`, "F")
	s := newStore(t, record.Source{"4": {record.IDKey: "4", "name": []any{"a"}}})
	snap := New(s).Read(selector.New(f, "4", nil))
	snap.Data["name"].([]any)[0] = "mutated"
	again := New(s).Read(selector.New(f, "4", nil))
	require.Equal(t, []any{"a"}, again.Data["name"])
}

type racingSource struct {
	*store.Store
	writes int
}

func (s *racingSource) Get(id string) (record.Record, bool) {
	if s.writes > 0 {
		s.writes--
		s.Store.Invalidate("race")
	}
	return s.Store.Get(id)
}

func TestRead_RetriesWhenGenerationMoves(t *testing.T) {
	f := graphtest.Fragment(t, nil, `fragment F on User { name }`, "F")
	src := &racingSource{Store: newStore(t, record.Source{"4": {record.IDKey: "4", "name": "Mark"}}), writes: 1}
	snap := New(src).Read(selector.New(f, "4", nil))
	require.Equal(t, uint64(2), snap.Generation)
}
