package network

import (
	"sort"
	"sync"

	"github.com/hanpama/graphcache/internal/pending"
)

// Tracker records requests in flight so that reads missing data can wait
// for the request that will supply it.
type Tracker struct {
	mu       sync.Mutex
	inflight map[string]*pending.Pending
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{inflight: make(map[string]*pending.Pending)}
}

// Start marks id in flight and returns its pending handle. Starting an id
// already in flight returns the existing handle.
func (t *Tracker) Start(id string) *pending.Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.inflight[id]; ok {
		return p
	}
	p := pending.New(id)
	t.inflight[id] = p
	return p
}

// Lookup returns the handle of id while it is in flight.
func (t *Tracker) Lookup(id string) (*pending.Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.inflight[id]
	return p, ok
}

// Finish settles id with err and stops tracking it.
func (t *Tracker) Finish(id string, err error) {
	if p := t.take(id); p != nil {
		if err != nil {
			p.Reject(err)
		} else {
			p.Resolve()
		}
	}
}

// Abort settles id as aborted and stops tracking it.
func (t *Tracker) Abort(id string) {
	if p := t.take(id); p != nil {
		p.Abort()
	}
}

// InFlight returns the ids in flight, sorted.
func (t *Tracker) InFlight() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.inflight))
	for id := range t.inflight {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) take(id string) *pending.Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.inflight[id]
	delete(t.inflight, id)
	return p
}
