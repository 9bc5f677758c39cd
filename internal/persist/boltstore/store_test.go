package boltstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/store"
)

func open(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, WithTimeout(100*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteRead_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s := open(t, path)

	in := record.Record{
		record.IDKey:       "4",
		record.TypenameKey: "User",
		"name":             "Mark",
		"age":              40,
		"score":            1.5,
		"tags":             []any{"a", "b"},
		"bestFriend":       record.Ref{ID: "5"},
		"friends":          record.Refs{"5", "", "6"},
		"nickname":         nil,
	}
	require.NoError(t, s.WriteRecord(in))
	require.NoError(t, s.Close())

	s = open(t, path)
	got, ok, err := s.ReadRecord("4")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.Record{
		record.IDKey:       "4",
		record.TypenameKey: "User",
		"name":             "Mark",
		"age":              int64(40),
		"score":            1.5,
		"tags":             []any{"a", "b"},
		"bestFriend":       record.Ref{ID: "5"},
		"friends":          record.Refs{"5", "", "6"},
		"nickname":         nil,
	}, got)

	_, ok, err = s.ReadRecord("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecordsAndDelete(t *testing.T) {
	s := open(t, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, s.WriteRecord(record.New("1", "User")))
	require.NoError(t, s.WriteRecord(record.New("2", "Page")))

	n, err := s.Len()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, s.Delete("1"))
	src, err := s.Records()
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, src.IDs())
	require.Equal(t, "Page", src["2"].Typename())
}

func TestRead_RejectsUnknownVersion(t *testing.T) {
	s := open(t, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte("1"), []byte{0x81, 0xa7, 'v', 'e', 'r', 's', 'i', 'o', 'n', 0x09})
	}))
	_, _, err := s.ReadRecord("1")
	require.ErrorIs(t, err, ErrVersion)

	src, err := s.Records()
	require.NoError(t, err)
	require.Empty(t, src)
}

func TestClosed(t *testing.T) {
	s := open(t, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, _, err := s.ReadRecord("1")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.WriteRecord(record.New("1", "User")), ErrClosed)
}

func TestAsStorePersister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	db := open(t, path)
	st := store.New(store.WithPersister(db))
	_, err := st.Publish(record.Source{"4": {record.IDKey: "4", record.TypenameKey: "User", "name": "Mark"}})
	require.NoError(t, err)

	fresh := store.New(store.WithPersister(db))
	got, ok := fresh.Get("4")
	require.True(t, ok)
	require.Equal(t, "Mark", got["name"])
}
