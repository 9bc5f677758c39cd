// Package store holds normalized records: a base layer written by server
// payloads and optimistic layers, one per mutation transaction, that can be
// reverted independently of later base writes.
package store

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hanpama/graphcache/internal/emitter"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/record"
)

type layer struct {
	id  string
	src record.Source
}

// Store is the versioned record store of one environment.
type Store struct {
	opts *Options
	log  logrus.FieldLogger

	mu     sync.RWMutex
	base   record.Source
	layers []*layer
	gen    uint64
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.Emitter == nil {
		o.Emitter = emitter.New()
	}
	return &Store{
		opts: o,
		log:  o.Logger.WithField("component", "store"),
		base: make(record.Source),
	}
}

// Emitter returns the change emitter notified by Notify.
func (s *Store) Emitter() *emitter.Emitter { return s.opts.Emitter }

// Generation returns the current write generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Get returns a copy of the effective record for id: the base record
// overlaid with every optimistic layer in apply order. Records not held in
// memory are looked up in the persister.
func (s *Store) Get(id string) (record.Record, bool) {
	s.mu.RLock()
	r, ok := s.effective(id, "")
	s.mu.RUnlock()
	if ok {
		return r.Clone(), true
	}
	if s.opts.Persister == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hydrate(id) {
		return nil, false
	}
	r, ok = s.effective(id, "")
	return r.Clone(), ok
}

// Records returns a copy of every effective record held in memory.
func (s *Store) Records() record.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make(record.IDSet, len(s.base))
	for id := range s.base {
		ids.Add(id)
	}
	for _, l := range s.layers {
		for id := range l.src {
			ids.Add(id)
		}
	}
	out := make(record.Source, len(ids))
	for id := range ids {
		if r, ok := s.effective(id, ""); ok {
			out[id] = r.Clone()
		}
	}
	return out
}

// Layers returns the ids of the applied optimistic layers in apply order.
func (s *Store) Layers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.layers))
	for i, l := range s.layers {
		out[i] = l.id
	}
	return out
}

// Publish merges src into the base layer, field by field, last write wins.
// The generation is bumped once. The returned set holds the ids whose
// effective value changed. A batch that would change the typename of an
// existing record is rejected before anything is written.
func (s *Store) Publish(src record.Source) (record.IDSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validate(src, ""); err != nil {
		s.log.WithError(err).Error("publish rejected")
		return nil, err
	}
	changed := s.write(src, func() {
		for id, r := range src {
			s.base[id] = s.base[id].Merge(r)
		}
	})
	s.persist(src)
	s.published(context.Background(), "base", src, changed, "", false)
	return changed, nil
}

// PublishOptimistic writes src into the optimistic layer named id, creating
// the layer on first use.
func (s *Store) PublishOptimistic(id string, src record.Source) (record.IDSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validate(src, ""); err != nil {
		s.log.WithError(err).WithField("layer", id).Error("optimistic publish rejected")
		return nil, err
	}
	changed := s.write(src, func() {
		l := s.layer(id)
		if l == nil {
			l = &layer{id: id, src: make(record.Source, len(src))}
			s.layers = append(s.layers, l)
		}
		for rid, r := range src {
			l.src[rid] = l.src[rid].Merge(r)
		}
	})
	s.published(context.Background(), "optimistic", src, changed, id, false)
	return changed, nil
}

// RevertOptimistic removes the optimistic layer named id. Records return to
// the value they would have had if the layer had never been applied. An
// unknown layer is a no-op and does not bump the generation.
func (s *Store) RevertOptimistic(id string) record.IDSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.layer(id)
	if l == nil {
		return record.IDSet{}
	}
	changed := s.write(l.src, func() { s.removeLayer(id) })
	s.published(context.Background(), "revert", l.src, changed, id, true)
	return changed
}

// Settle removes the optimistic layer named id and publishes src to the base
// layer as a single batch.
func (s *Store) Settle(id string, src record.Source) (record.IDSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validate(src, id); err != nil {
		s.log.WithError(err).WithField("layer", id).Error("settle rejected")
		return nil, err
	}
	touched := make(record.Source, len(src))
	for rid, r := range src {
		touched[rid] = r
	}
	if l := s.layer(id); l != nil {
		for rid, r := range l.src {
			if _, ok := touched[rid]; !ok {
				touched[rid] = r
			}
		}
	}
	changed := s.write(touched, func() {
		s.removeLayer(id)
		for rid, r := range src {
			s.base[rid] = s.base[rid].Merge(r)
		}
	})
	s.persist(src)
	s.published(context.Background(), "settle", src, changed, id, false)
	return changed, nil
}

// Invalidate bumps the generation and reports ids as changed without
// touching any record. It is used for values computed outside the store.
func (s *Store) Invalidate(ids ...string) record.IDSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.opts.Metrics.Published("invalidate", s.gen, len(ids))
	return record.NewIDSet(ids...)
}

// Notify informs every subscriber whose seen set intersects ids and returns
// the number of callbacks invoked.
func (s *Store) Notify(ctx context.Context, ids record.IDSet) int {
	if len(ids) == 0 {
		return 0
	}
	gen := s.Generation()
	n := s.opts.Emitter.Emit(ctx, gen, ids)
	s.opts.Metrics.Notified(n)
	eventbus.Publish(ctx, events.Notify{Generation: gen, IDs: len(ids), Notified: n})
	return n
}

// effective merges base and layers for id. skip names a layer to leave out.
// The result aliases store memory and must be cloned before it escapes.
func (s *Store) effective(id, skip string) (record.Record, bool) {
	r, ok := s.base[id]
	for _, l := range s.layers {
		if l.id == skip {
			continue
		}
		lr, lok := l.src[id]
		if !lok {
			continue
		}
		if !ok {
			r, ok = lr, true
			continue
		}
		r = r.Merge(lr)
	}
	return r, ok
}

func (s *Store) validate(src record.Source, skip string) error {
	for id, r := range src {
		incoming := r.Typename()
		if incoming == "" {
			continue
		}
		s.hydrate(id)
		existing, ok := s.effective(id, skip)
		if !ok {
			continue
		}
		if t := existing.Typename(); t != "" && t != incoming {
			return &TypeMismatchError{ID: id, Existing: t, Incoming: incoming}
		}
	}
	return nil
}

// write runs apply and returns the ids among src whose effective value
// changed. The generation is bumped once.
func (s *Store) write(src record.Source, apply func()) record.IDSet {
	before := make(map[string]record.Record, len(src))
	for id := range src {
		s.hydrate(id)
		if r, ok := s.effective(id, ""); ok {
			before[id] = r.Clone()
		}
	}
	apply()
	s.gen++
	changed := make(record.IDSet)
	for id := range src {
		after, ok := s.effective(id, "")
		prev, had := before[id]
		if ok != had || (ok && !record.Equal(prev, after)) {
			changed.Add(id)
		}
	}
	return changed
}

// hydrate loads id from the persister into the base layer when it is not
// held in memory. It reports whether the record is now present in memory.
// Callers hold the write lock.
func (s *Store) hydrate(id string) bool {
	if _, ok := s.effective(id, ""); ok {
		return true
	}
	if s.opts.Persister == nil {
		return false
	}
	r, ok, err := s.opts.Persister.ReadRecord(id)
	if err != nil {
		s.log.WithError(err).WithField("record_id", id).Warn("persister read failed")
		return false
	}
	if !ok {
		return false
	}
	s.base[id] = r
	return true
}

func (s *Store) persist(src record.Source) {
	if s.opts.Persister == nil {
		return
	}
	for _, id := range src.IDs() {
		r, ok := s.base[id]
		if !ok {
			continue
		}
		if err := s.opts.Persister.WriteRecord(r); err != nil {
			s.log.WithError(err).WithField("record_id", id).Warn("persister write failed")
		}
	}
}

func (s *Store) published(ctx context.Context, kind string, src record.Source, changed record.IDSet, layer string, reverted bool) {
	s.opts.Metrics.Published(kind, s.gen, len(changed))
	s.log.WithFields(logrus.Fields{
		"generation": s.gen,
		"records":    len(src),
		"changed":    len(changed),
		"layer":      layer,
	}).Debug(kind)
	eventbus.Publish(ctx, events.Publish{
		Generation: s.gen,
		Records:    len(src),
		Changed:    len(changed),
		Layer:      layer,
		Reverted:   reverted,
	})
}

func (s *Store) layer(id string) *layer {
	for _, l := range s.layers {
		if l.id == id {
			return l
		}
	}
	return nil
}

func (s *Store) removeLayer(id string) {
	for i, l := range s.layers {
		if l.id == id {
			s.layers = append(s.layers[:i:i], s.layers[i+1:]...)
			return
		}
	}
}
