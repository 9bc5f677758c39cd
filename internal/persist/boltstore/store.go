// Package boltstore persists records in a bbolt file. Each record is stored
// under its id as a msgpack envelope holding the wire form of the record.
package boltstore

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/hanpama/graphcache/internal/record"
)

const envelopeVersion = 1

var (
	ErrClosed  = errors.New("boltstore: closed")
	ErrVersion = errors.New("boltstore: unsupported envelope version")
)

type envelope struct {
	Version uint32         `msgpack:"version"`
	Record  map[string]any `msgpack:"record"`
}

// Store is a store.Persister backed by bbolt.
type Store struct {
	db     *bolt.DB
	bucket []byte
	log    logrus.FieldLogger
}

// Open opens or creates the database at path and its bucket.
func Open(path string, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: o.Timeout})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %q: %w", path, err)
	}
	s := &Store{
		db:     db,
		bucket: []byte(o.Bucket),
		log:    o.Logger.WithFields(logrus.Fields{"component": "boltstore", "path": path}),
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create bucket %q: %w", o.Bucket, err)
	}
	s.log.Debug("opened")
	return s, nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) ReadRecord(id string) (record.Record, bool, error) {
	if s.db == nil {
		return nil, false, ErrClosed
	}
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(s.bucket).Get([]byte(id)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("boltstore: read %q: %w", id, err)
	}
	if raw == nil {
		return nil, false, nil
	}
	r, err := decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("boltstore: decode %q: %w", id, err)
	}
	return r, true, nil
}

func (s *Store) WriteRecord(r record.Record) error {
	if s.db == nil {
		return ErrClosed
	}
	raw, err := msgpack.Marshal(envelope{Version: envelopeVersion, Record: record.ToWire(r)})
	if err != nil {
		return fmt.Errorf("boltstore: encode %q: %w", r.ID(), err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(r.ID()), raw)
	})
}

// Delete removes the records with ids.
func (s *Store) Delete(ids ...string) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Records decodes every stored record. Undecodable entries are skipped and
// logged.
func (s *Store) Records() (record.Source, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	out := record.Source{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			r, err := decode(v)
			if err != nil {
				s.log.WithError(err).WithField("record_id", string(k)).Warn("skipping undecodable record")
				return nil
			}
			out[string(k)] = r
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: scan: %w", err)
	}
	return out, nil
}

// Len reports the number of stored records.
func (s *Store) Len() (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	return n, err
}

func decode(raw []byte) (record.Record, error) {
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, env.Version)
	}
	return record.FromWire(env.Record)
}
