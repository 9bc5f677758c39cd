package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/emitter"
	"github.com/hanpama/graphcache/internal/persist"
	"github.com/hanpama/graphcache/internal/record"
)

func user(id, name string) record.Record {
	r := record.New(id, "User")
	r["name"] = name
	return r
}

func TestPublish_ChangedSetAndGeneration(t *testing.T) {
	s := New()
	changed, err := s.Publish(record.Source{"4": user("4", "Mark"), "5": user("5", "Zuck")})
	require.NoError(t, err)
	require.Equal(t, []string{"4", "5"}, changed.Sorted())
	require.Equal(t, uint64(1), s.Generation())

	// identical replacement is not a change
	changed, err = s.Publish(record.Source{"4": user("4", "Mark"), "5": user("5", "Zucc")})
	require.NoError(t, err)
	require.Equal(t, []string{"5"}, changed.Sorted())
	require.Equal(t, uint64(2), s.Generation())
}

func TestPublish_FieldLevelMerge(t *testing.T) {
	s := New()
	_, err := s.Publish(record.Source{"4": {record.IDKey: "4", "name": "Mark", "age": 30}})
	require.NoError(t, err)
	_, err = s.Publish(record.Source{"4": {record.IDKey: "4", "name": "Mark II"}})
	require.NoError(t, err)

	got, ok := s.Get("4")
	require.True(t, ok)
	require.Equal(t, record.Record{record.IDKey: "4", "name": "Mark II", "age": 30}, got)
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := New()
	_, err := s.Publish(record.Source{"4": user("4", "Mark")})
	require.NoError(t, err)
	got, _ := s.Get("4")
	got["name"] = "mutated"
	again, _ := s.Get("4")
	require.Equal(t, "Mark", again["name"])

	_, ok := s.Get("missing")
	require.False(t, ok)
}

func TestPublish_TypeMismatchRejectedBeforeWrite(t *testing.T) {
	s := New()
	_, err := s.Publish(record.Source{"4": user("4", "Mark")})
	require.NoError(t, err)

	bad := record.New("4", "Page")
	_, err = s.Publish(record.Source{"5": user("5", "Zuck"), "4": bad})
	require.ErrorIs(t, err, ErrTypeMismatch)
	var tm *TypeMismatchError
	require.True(t, errors.As(err, &tm))
	require.Equal(t, TypeMismatchError{ID: "4", Existing: "User", Incoming: "Page"}, *tm)

	_, ok := s.Get("5")
	require.False(t, ok, "no record of a rejected batch is written")
	require.Equal(t, uint64(1), s.Generation())
}

func TestOptimistic_RevertRestoresPreOptimisticValues(t *testing.T) {
	s := New()
	_, err := s.Publish(record.Source{"4": {record.IDKey: "4", "name": "Mark", "likes": 1}})
	require.NoError(t, err)

	changed, err := s.PublishOptimistic("tx1", record.Source{"4": {record.IDKey: "4", "likes": 2}, "c1": record.New("c1", "Comment")})
	require.NoError(t, err)
	require.Equal(t, []string{"4", "c1"}, changed.Sorted())
	got, _ := s.Get("4")
	require.Equal(t, 2, got["likes"])

	// a base write to another field while the layer is applied survives the revert
	_, err = s.Publish(record.Source{"4": {record.IDKey: "4", "name": "Mark II"}})
	require.NoError(t, err)

	changed = s.RevertOptimistic("tx1")
	require.Equal(t, []string{"4", "c1"}, changed.Sorted())
	got, _ = s.Get("4")
	if diff := cmp.Diff(record.Record{record.IDKey: "4", "name": "Mark II", "likes": 1}, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
	_, ok := s.Get("c1")
	require.False(t, ok)
	require.Empty(t, s.Layers())
}

func TestOptimistic_LayersAreIndependent(t *testing.T) {
	s := New()
	_, err := s.PublishOptimistic("a", record.Source{"4": {record.IDKey: "4", "x": 1}})
	require.NoError(t, err)
	_, err = s.PublishOptimistic("b", record.Source{"4": {record.IDKey: "4", "y": 2}})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, s.Layers())

	s.RevertOptimistic("a")
	got, _ := s.Get("4")
	require.Equal(t, record.Record{record.IDKey: "4", "y": 2}, got)

	gen := s.Generation()
	require.Empty(t, s.RevertOptimistic("unknown"))
	require.Equal(t, gen, s.Generation())
}

func TestSettle_ReplacesLayerWithServerPayload(t *testing.T) {
	s := New()
	_, err := s.Publish(record.Source{"4": {record.IDKey: "4", "likes": 1}})
	require.NoError(t, err)
	_, err = s.PublishOptimistic("tx", record.Source{"4": {record.IDKey: "4", "likes": 2}, "tmp": record.New("tmp", "")})
	require.NoError(t, err)
	gen := s.Generation()

	changed, err := s.Settle("tx", record.Source{"4": {record.IDKey: "4", "likes": 3}})
	require.NoError(t, err)
	require.Equal(t, []string{"4", "tmp"}, changed.Sorted())
	require.Equal(t, gen+1, s.Generation())
	got, _ := s.Get("4")
	require.Equal(t, 3, got["likes"])
	_, ok := s.Get("tmp")
	require.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	s := New()
	ids := s.Invalidate("live:abc")
	require.True(t, ids.Has("live:abc"))
	require.Equal(t, uint64(1), s.Generation())
}

func TestNotify_UsesEmitter(t *testing.T) {
	em := emitter.New()
	s := New(WithEmitter(em))
	var got []emitter.Batch
	em.Subscribe(record.NewIDSet("4"), func(_ context.Context, b emitter.Batch) { got = append(got, b) })

	changed, err := s.Publish(record.Source{"4": user("4", "Mark")})
	require.NoError(t, err)
	require.Equal(t, 1, s.Notify(context.Background(), changed))
	require.Len(t, got, 1)
	require.Equal(t, uint64(1), got[0].Generation)

	require.Equal(t, 0, s.Notify(context.Background(), record.IDSet{}))
}

func TestPersister_FallbackAndWriteThrough(t *testing.T) {
	p := persist.NewMemory(record.Source{"9": user("9", "Disk")})
	s := New(WithPersister(p))

	got, ok := s.Get("9")
	require.True(t, ok)
	require.Equal(t, "Disk", got["name"])

	_, err := s.Publish(record.Source{"9": {record.IDKey: "9", "age": 40}})
	require.NoError(t, err)
	require.Equal(t, record.Record{record.IDKey: "9", record.TypenameKey: "User", "name": "Disk", "age": 40}, p.Records()["9"])

	// optimistic writes stay in memory
	_, err = s.PublishOptimistic("tx", record.Source{"9": {record.IDKey: "9", "age": 41}})
	require.NoError(t, err)
	require.Equal(t, 40, p.Records()["9"]["age"])
}

func TestPersister_TypeMismatchAgainstPersistedRecord(t *testing.T) {
	s := New(WithPersister(persist.NewMemory(record.Source{"9": user("9", "Disk")})))
	_, err := s.Publish(record.Source{"9": record.New("9", "Page")})
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestRecords_Effective(t *testing.T) {
	s := New()
	_, err := s.Publish(record.Source{"1": user("1", "A")})
	require.NoError(t, err)
	_, err = s.PublishOptimistic("tx", record.Source{"2": user("2", "B")})
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, s.Records().IDs())
}
