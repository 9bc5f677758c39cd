// Package emitter broadcasts record changes to subscribers whose seen-record
// set intersects the changed ids.
package emitter

import (
	"context"
	"sync"

	"github.com/hanpama/graphcache/internal/record"
)

// Batch is one set of changed ids produced by a single store write.
type Batch struct {
	Generation uint64
	IDs        record.IDSet
}

// Callback is invoked once per batch that touches a subscription.
type Callback func(context.Context, Batch)

// Emitter is a per-environment change broadcaster.
//
// Batches are delivered in the order they were emitted. A batch emitted from
// inside a callback is queued and delivered after the current batch has
// reached every listener.
type Emitter struct {
	mu       sync.Mutex
	subs     []*Subscription
	queue    []queued
	emitting bool
}

type queued struct {
	ctx   context.Context
	batch Batch
}

// New creates an empty Emitter.
func New() *Emitter { return &Emitter{} }

// Subscription is a listener registered for a seen-record set.
type Subscription struct {
	e        *Emitter
	seen     record.IDSet
	cb       Callback
	disposed bool
}

// Subscribe registers cb for changes to any id in seen.
func (e *Emitter) Subscribe(seen record.IDSet, cb Callback) *Subscription {
	s := &Subscription{e: e, seen: seen.Clone(), cb: cb}
	e.mu.Lock()
	e.subs = append(e.subs, s)
	e.mu.Unlock()
	return s
}

// Update replaces the subscription's seen-record set.
func (s *Subscription) Update(seen record.IDSet) {
	s.e.mu.Lock()
	s.seen = seen.Clone()
	s.e.mu.Unlock()
}

// Seen returns a copy of the subscription's seen-record set.
func (s *Subscription) Seen() record.IDSet {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return s.seen.Clone()
}

// Dispose removes the subscription. Calling it more than once is a no-op.
func (s *Subscription) Dispose() {
	e := s.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	for i, sub := range e.subs {
		if sub == s {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			break
		}
	}
}

// Len reports the number of active subscriptions.
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Emit delivers ids to every subscription whose seen set intersects them and
// returns the number of callbacks invoked by this call, including callbacks
// for batches queued while it was running.
func (e *Emitter) Emit(ctx context.Context, generation uint64, ids record.IDSet) int {
	if len(ids) == 0 {
		return 0
	}
	e.mu.Lock()
	e.queue = append(e.queue, queued{ctx: ctx, batch: Batch{Generation: generation, IDs: ids.Clone()}})
	if e.emitting {
		e.mu.Unlock()
		return 0
	}
	e.emitting = true
	e.mu.Unlock()

	notified := 0
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.emitting = false
			e.mu.Unlock()
			return notified
		}
		next := e.queue[0]
		e.queue = e.queue[1:]
		listeners := append([]*Subscription(nil), e.subs...)
		e.mu.Unlock()

		for _, s := range listeners {
			if !s.matches(next.batch.IDs) {
				continue
			}
			s.cb(next.ctx, next.batch)
			notified++
		}
	}
}

// matches reports whether s is still live and interested in ids. Subscriptions
// disposed by an earlier listener in the same pass are skipped.
func (s *Subscription) matches(ids record.IDSet) bool {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return !s.disposed && s.seen.Intersects(ids)
}
