package mutation

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/graphtest"
	"github.com/hanpama/graphcache/internal/network"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selector"
	"github.com/hanpama/graphcache/internal/store"
	"github.com/hanpama/graphcache/internal/taskqueue"
)

const mutations = `
mutation LikeStory($id: ID!) {
  likeStory(id: $id) { story { id likeCount doesViewerLike } }
}
mutation Rename($id: ID!, $name: String!) {
  rename(id: $id, name: $name) { id name }
}
`

type fixture struct {
	st     *store.Store
	net    *network.Fake
	q      *Queue
	like   *selector.Operation
	rename *selector.Operation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	doc := graphtest.Compile(t, nil, mutations)
	st := store.New()
	story := record.New("s1", "Story")
	story["id"] = "s1"
	story["likeCount"] = 1
	story["doesViewerLike"] = false
	u := record.New("4", "User")
	u["id"] = "4"
	u["name"] = "Mark"
	_, err := st.Publish(record.Source{"s1": story, "4": u})
	require.NoError(t, err)
	fake := network.NewFake()
	return &fixture{
		st:     st,
		net:    fake,
		q:      NewQueue(st, fake, taskqueue.New(nil)),
		like:   doc.Operation("LikeStory"),
		rename: doc.Operation("Rename"),
	}
}

func (f *fixture) likeConfig(key string, count int) Config {
	return Config{
		Operation:    f.like,
		Variables:    map[string]any{"id": "s1"},
		CollisionKey: key,
		OptimisticResponse: map[string]any{
			"likeStory": map[string]any{
				"story": map[string]any{"id": "s1", "likeCount": count, "doesViewerLike": true},
			},
		},
	}
}

func (f *fixture) field(t *testing.T, id, key string) any {
	t.Helper()
	r, ok := f.st.Get(id)
	require.True(t, ok)
	return r[key]
}

func likeResponse(count int) map[string]any {
	return map[string]any{
		"likeStory": map[string]any{
			"story": map[string]any{"id": "s1", "likeCount": count, "doesViewerLike": true},
		},
	}
}

func TestCommit_CollisionCascade(t *testing.T) {
	f := newFixture(t)
	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })
	var finished []string
	eventbus.On(bus, func(_ context.Context, e events.CommitFinish) { finished = append(finished, e.Status) })

	a := f.q.Create(f.likeConfig("k", 2))
	require.NoError(t, a.ApplyOptimistic())
	require.NoError(t, a.Commit(context.Background()))
	require.Equal(t, Committing, a.Status())
	require.Equal(t, 2, f.field(t, "s1", "likeCount"))

	var bFailure error
	b := f.q.Create(f.likeConfig("k", 3))
	b.cfg.OnFailure = func(_ *Transaction, err error) { bFailure = err }
	require.NoError(t, b.ApplyOptimistic())
	require.NoError(t, b.Commit(context.Background()))
	require.Equal(t, CommitQueued, b.Status())
	require.Equal(t, 3, f.field(t, "s1", "likeCount"))

	c := f.q.Create(Config{
		Operation:          f.rename,
		Variables:          map[string]any{"id": "4", "name": "Zuck"},
		OptimisticResponse: map[string]any{"rename": map[string]any{"id": "4", "name": "Optimistic"}},
	})
	require.NoError(t, c.ApplyOptimistic())
	require.NoError(t, c.Commit(context.Background()))
	require.Equal(t, Committing, c.Status())
	require.Equal(t, []string{"LikeStory", "Rename"}, f.net.Names())
	require.Equal(t, []string{a.ID(), b.ID()}, f.q.Queued("k"))

	require.NoError(t, f.net.Reject(f.net.Calls[0].ID, errors.New("server error")))

	require.Equal(t, CommitFailed, a.Status())
	require.EqualError(t, a.Err(), "server error")
	require.Equal(t, CollisionCommitFailed, b.Status())
	require.ErrorIs(t, bFailure, ErrCollision)
	require.Equal(t, 1, f.field(t, "s1", "likeCount"))
	require.Equal(t, false, f.field(t, "s1", "doesViewerLike"))
	require.Equal(t, []string{"LikeStory", "Rename"}, f.net.Names())
	require.Empty(t, f.q.Queued("k"))
	require.Equal(t, []string{"COMMIT_FAILED", "COLLISION_COMMIT_FAILED"}, finished)

	require.Equal(t, Committing, c.Status())
	require.Equal(t, "Optimistic", f.field(t, "4", "name"))
	require.NoError(t, f.net.Resolve(f.net.Calls[1].ID, map[string]any{"rename": map[string]any{"id": "4", "name": "Zuck"}}))
	require.Equal(t, Committed, c.Status())
	require.Equal(t, "Zuck", f.field(t, "4", "name"))
	require.Empty(t, f.st.Layers())
}

func TestCommit_PreventAutoRollback(t *testing.T) {
	f := newFixture(t)
	a := f.q.Create(f.likeConfig("k", 2))
	cfg := f.likeConfig("k", 3)
	cfg.OnFailure = func(t *Transaction, _ error) { t.PreventAutoRollback() }
	b := f.q.Create(cfg)
	for _, tx := range []*Transaction{a, b} {
		require.NoError(t, tx.ApplyOptimistic())
		require.NoError(t, tx.Commit(context.Background()))
	}

	require.NoError(t, f.net.Reject(f.net.Calls[0].ID, errors.New("boom")))
	require.Equal(t, []string{b.ID()}, f.st.Layers())
	require.Equal(t, 3, f.field(t, "s1", "likeCount"))

	require.NoError(t, b.Recommit(context.Background()))
	require.Equal(t, Committing, b.Status())
	require.Len(t, f.net.Calls, 2)
	require.NoError(t, f.net.Resolve(f.net.Calls[1].ID, likeResponse(7)))
	require.Equal(t, Committed, b.Status())
	require.Equal(t, 7, f.field(t, "s1", "likeCount"))
	require.Empty(t, f.st.Layers())
}

func TestCommit_FIFOWithinCollisionKey(t *testing.T) {
	f := newFixture(t)
	var done []string
	mk := func(count int) *Transaction {
		cfg := f.likeConfig("k", count)
		cfg.OnSuccess = func(t *Transaction, _ *network.Payload) { done = append(done, t.ID()) }
		return f.q.Create(cfg)
	}
	a, b := mk(2), mk(3)
	require.NoError(t, a.Commit(context.Background()))
	require.NoError(t, b.Commit(context.Background()))
	require.Len(t, f.net.Calls, 1)

	require.NoError(t, f.net.Resolve(f.net.Calls[0].ID, likeResponse(2)))
	require.Equal(t, Committed, a.Status())
	require.Equal(t, Committing, b.Status())
	require.Len(t, f.net.Calls, 2)

	require.NoError(t, f.net.Resolve(f.net.Calls[1].ID, likeResponse(3)))
	require.Equal(t, []string{a.ID(), b.ID()}, done)
	require.Equal(t, 3, f.field(t, "s1", "likeCount"))
	require.Equal(t, 0, f.q.Len())
}

func TestRollback(t *testing.T) {
	f := newFixture(t)
	tx := f.q.Create(f.likeConfig("", 9))
	require.NoError(t, tx.ApplyOptimistic())
	require.Equal(t, 9, f.field(t, "s1", "likeCount"))

	tx.Rollback()
	tx.Rollback()
	require.Equal(t, 1, f.field(t, "s1", "likeCount"))
	require.Equal(t, false, f.field(t, "s1", "doesViewerLike"))
	require.Empty(t, f.st.Layers())
	require.ErrorIs(t, tx.Commit(context.Background()), ErrDetached)
	require.Equal(t, 0, f.q.Len())
}

func TestRollback_InFlightResponseIsDiscarded(t *testing.T) {
	f := newFixture(t)
	a := f.q.Create(f.likeConfig("k", 2))
	b := f.q.Create(f.likeConfig("k", 3))
	require.NoError(t, a.ApplyOptimistic())
	require.NoError(t, a.Commit(context.Background()))
	require.NoError(t, b.Commit(context.Background()))

	a.Rollback()
	require.Equal(t, 1, f.field(t, "s1", "likeCount"))
	require.Len(t, f.net.Calls, 1)

	require.NoError(t, f.net.Resolve(f.net.Calls[0].ID, likeResponse(50)))
	require.Equal(t, 1, f.field(t, "s1", "likeCount"))
	require.Equal(t, Committing, b.Status())
	require.Len(t, f.net.Calls, 2)
}

func TestTransaction_UsageErrors(t *testing.T) {
	f := newFixture(t)
	tx := f.q.Create(f.likeConfig("", 2))
	require.NoError(t, tx.ApplyOptimistic())
	require.ErrorIs(t, tx.ApplyOptimistic(), ErrAlreadyApplied)
	require.ErrorIs(t, tx.Recommit(context.Background()), ErrNotRecommittable)
	require.NoError(t, tx.Commit(context.Background()))
	require.ErrorIs(t, tx.Commit(context.Background()), ErrAlreadyCommitted)

	missing := f.q.Create(Config{Operation: f.rename, Variables: map[string]any{"id": "4"}})
	require.Error(t, missing.Commit(context.Background()))
	require.Equal(t, Uncommitted, missing.Status())

	require.ErrorIs(t, f.q.Create(Config{}).Commit(context.Background()), ErrNoOperation)
}

func TestTransaction_UsageErrorsAreLogged(t *testing.T) {
	f := newFixture(t)
	logger, hook := logtest.NewNullLogger()
	q := NewQueue(f.st, f.net, nil, WithLogger(logger))

	tx := q.Create(f.likeConfig("", 2))
	require.NoError(t, tx.ApplyOptimistic())
	require.ErrorIs(t, tx.ApplyOptimistic(), ErrAlreadyApplied)
	require.NoError(t, tx.Commit(context.Background()))
	require.ErrorIs(t, tx.Commit(context.Background()), ErrAlreadyCommitted)
	tx.Rollback()
	require.ErrorIs(t, tx.Recommit(context.Background()), ErrDetached)

	var got []error
	for _, e := range hook.AllEntries() {
		if e.Level != logrus.ErrorLevel {
			continue
		}
		require.Equal(t, tx.ID(), e.Data["transaction"])
		got = append(got, e.Data[logrus.ErrorKey].(error))
	}
	require.Equal(t, []error{ErrAlreadyApplied, ErrAlreadyCommitted, ErrDetached}, got)
}

func TestCommit_ErrorPayloadFails(t *testing.T) {
	f := newFixture(t)
	tx := f.q.Create(f.likeConfig("", 2))
	require.NoError(t, tx.ApplyOptimistic())
	require.NoError(t, tx.Commit(context.Background()))

	require.NoError(t, f.net.Respond(f.net.Calls[0].ID, &network.Payload{
		Errors: []*network.GraphQLError{{Message: "not allowed"}},
	}))
	require.Equal(t, CommitFailed, tx.Status())
	require.ErrorContains(t, tx.Err(), "not allowed")
	require.Equal(t, 1, f.field(t, "s1", "likeCount"))
}
