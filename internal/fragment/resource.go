// Package fragment caches resolved fragments for the view layer and keeps
// subscribed results current as the store changes.
package fragment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/hanpama/graphcache/internal/cachekey"
	"github.com/hanpama/graphcache/internal/emitter"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/network"
	"github.com/hanpama/graphcache/internal/pending"
	"github.com/hanpama/graphcache/internal/reader"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selector"
	"github.com/hanpama/graphcache/internal/store"
)

// Resource maps (fragment, reference, variables) to resolved results.
type Resource struct {
	store   *store.Store
	reader  *reader.Reader
	tracker *network.Tracker
	opts    *Options
	log     logrus.FieldLogger

	mu     sync.Mutex
	cache  *lru.Cache[string, *entry]
	active map[string]*entry
	nextID uint64

	empty *Result
}

type entry struct {
	key        string
	src        *source
	result     *Result
	snaps      []*reader.Snapshot
	generation uint64
	stale      bool

	refs      int
	subs      []*emitter.Subscription
	listeners map[uint64]*listener
}

type listener struct {
	cb   func(*Result)
	last *Result
}

// New returns a Resource reading st through rd. tr may be nil, in which case
// reads never wait for requests.
func New(st *store.Store, rd *reader.Reader, tr *network.Tracker, opts ...Option) *Resource {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.Capacity < 1 {
		o.Capacity = 1
	}
	r := &Resource{
		store:   st,
		reader:  rd,
		tracker: tr,
		opts:    o,
		log:     o.Logger.WithField("component", "fragment"),
		active:  make(map[string]*entry),
		empty:   &Result{Plural: true, Data: []any{}, Status: StatusReady},
	}
	r.cache, _ = lru.NewWithEvict[string, *entry](o.Capacity, r.evicted)
	return r
}

// Read resolves a singular fragment on ref. A nil ref yields a nil result.
// Reading again with no store write in between returns the same *Result.
func (r *Resource) Read(frag *selector.Fragment, ref *Ref, label string) (*Result, error) {
	if frag == nil {
		return nil, ErrNilFragment
	}
	if frag.Plural {
		return nil, fmt.Errorf("%w: %s is plural", ErrPluralMismatch, frag.Name)
	}
	if ref == nil {
		return nil, nil
	}
	sel := selector.New(frag, ref.ID, frag.Variables(ref.Variables, ref.Variables))
	src := &source{fragment: frag, label: label, request: ref.Request, sels: []selector.Selector{sel}}
	return r.read(sel.Key(), src), nil
}

// ReadPlural resolves a plural fragment on each of refs. Nil refs read as
// nil elements. An empty refs always yields the same empty result.
func (r *Resource) ReadPlural(frag *selector.Fragment, refs []*Ref, label string) (*Result, error) {
	if frag == nil {
		return nil, ErrNilFragment
	}
	if !frag.Plural {
		return nil, fmt.Errorf("%w: %s is not plural", ErrPluralMismatch, frag.Name)
	}
	if len(refs) == 0 {
		return r.empty, nil
	}
	src := &source{fragment: frag, label: label, plural: true, sels: make([]selector.Selector, len(refs))}
	keys := make([]any, len(refs))
	for i, ref := range refs {
		if ref == nil {
			keys[i] = nil
			continue
		}
		if src.request == "" {
			src.request = ref.Request
		}
		src.sels[i] = selector.New(frag, ref.ID, frag.Variables(ref.Variables, ref.Variables))
		keys[i] = src.sels[i].Key()
	}
	key, err := cachekey.Hash(cachekey.DomainFragment, keys)
	if err != nil {
		key = fmt.Sprint(keys...)
	}
	return r.read(key, src), nil
}

func (r *Resource) read(key string, src *source) *Result {
	gen := r.store.Generation()
	r.mu.Lock()
	e, ok := r.lookup(key)
	if ok && !e.stale && e.generation == gen && e.result != nil {
		res := e.result
		r.mu.Unlock()
		r.opts.Metrics.CacheHit()
		return res
	}
	if ok {
		e.src = src
	} else {
		e = &entry{key: key, src: src, listeners: make(map[uint64]*listener)}
		r.retain(e)
		r.cache.Add(key, e)
	}
	r.mu.Unlock()
	r.opts.Metrics.CacheMiss()
	res, _ := r.refresh(e, true)
	return res
}

// Subscribe calls cb with every new result for res's entry. If the entry
// changed since res was read, cb runs once before Subscribe returns.
func (r *Resource) Subscribe(res *Result, cb func(*Result)) Disposable {
	if res == nil || res.src == nil {
		return noopDisposable{}
	}
	r.mu.Lock()
	e, ok := r.lookup(res.Key)
	if !ok {
		e = &entry{key: res.Key, src: res.src, result: res, snaps: res.Snapshots, stale: true, listeners: make(map[uint64]*listener)}
		r.retain(e)
		r.cache.Add(res.Key, e)
	}
	r.nextID++
	id := r.nextID
	e.listeners[id] = &listener{cb: cb, last: res}
	e.refs++
	if e.refs == 1 {
		r.active[e.key] = e
		r.opts.Metrics.ActiveEntries(len(r.active))
	}
	r.mu.Unlock()

	r.refresh(e, false)
	r.resubscribe(e)
	r.deliver(e)
	return &subscription{r: r, e: e, id: id}
}

// CheckMissedUpdates reports whether reading res again would produce
// different data. The cache is left untouched, and live resolver states are
// only kept when a cached entry still owns res's selectors.
func (r *Resource) CheckMissedUpdates(res *Result) bool {
	if res == nil || res.src == nil {
		return false
	}
	snaps := make([]*reader.Snapshot, len(res.src.sels))
	for i, sel := range res.src.sels {
		snaps[i] = r.reader.Read(sel)
	}
	data, _, _, _ := assemble(res.src, snaps)
	_, unchanged := reader.Recycle(res.Data, data)
	return !unchanged
}

// Len reports the number of cached entries, subscribed or not.
func (r *Resource) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.cache.Len()
	for k := range r.active {
		if !r.cache.Contains(k) {
			n++
		}
	}
	return n
}

// Active reports the number of subscribed entries.
func (r *Resource) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Resource) lookup(key string) (*entry, bool) {
	if e, ok := r.active[key]; ok {
		return e, true
	}
	return r.cache.Get(key)
}

// refresh recomputes e when the store moved past it. changed reports that
// e.result was replaced.
func (r *Resource) refresh(e *entry, force bool) (res *Result, changed bool) {
	gen := r.store.Generation()
	r.mu.Lock()
	prev, src := e.result, e.src
	if !force && prev != nil && !e.stale && e.generation == gen {
		r.mu.Unlock()
		return prev, false
	}
	r.mu.Unlock()

	snaps := make([]*reader.Snapshot, len(src.sels))
	for i, sel := range src.sels {
		snaps[i] = r.reader.Read(sel)
	}
	next := r.build(e.key, src, prev, snaps)

	r.mu.Lock()
	e.result = next
	e.snaps = snaps
	e.generation = gen
	e.stale = false
	r.mu.Unlock()

	if next.Pending != nil && next != prev {
		p := next.Pending
		p.OnSettle(func(error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if e.result == next {
				e.stale = true
			}
		})
	}
	return next, next != prev
}

// build turns snapshots into a result, reusing prev when nothing a caller
// can observe has changed.
func (r *Resource) build(key string, src *source, prev *Result, snaps []*reader.Snapshot) *Result {
	data, missing, suspended, err := assemble(src, snaps)
	res := &Result{
		Key:           key,
		Snapshots:     snaps,
		Plural:        src.plural,
		IsMissingData: missing,
		Status:        StatusReady,
		Err:           err,
		src:           src,
	}
	switch {
	case suspended:
		res.Status = StatusSuspended
	case missing:
		if p, ok := r.inflight(src.request); ok {
			res.Status = StatusPending
			res.Pending = p
		} else {
			r.reportMissing(src, snaps)
		}
	}
	if prev == nil {
		res.Data = data
		return res
	}
	recycled, unchanged := reader.Recycle(prev.Data, data)
	res.Data = recycled
	if unchanged && prev.Status == res.Status && prev.Pending == res.Pending &&
		prev.IsMissingData == res.IsMissingData && (prev.Err == nil) == (res.Err == nil) {
		return prev
	}
	return res
}

func (r *Resource) inflight(request string) (*pending.Pending, bool) {
	if request == "" || r.tracker == nil {
		return nil, false
	}
	p, ok := r.tracker.Lookup(request)
	if !ok || p.Settled() {
		return nil, false
	}
	return p, true
}

func (r *Resource) reportMissing(src *source, snaps []*reader.Snapshot) {
	var fields []string
	owners := make([]string, 0, len(src.sels))
	for i, s := range snaps {
		fields = append(fields, s.MissingFields...)
		if src.sels[i].Fragment != nil {
			owners = append(owners, src.sels[i].Owner)
		}
	}
	owner := strings.Join(owners, ",")
	r.log.WithFields(logrus.Fields{
		"fragment": src.fragment.Name,
		"owner":    owner,
		"label":    src.label,
		"missing":  fields,
	}).Debug("fragment is missing data")
	r.opts.Metrics.MissingData(src.fragment.Name)
	eventbus.Publish(context.Background(), events.MissingData{
		Fragment: src.fragment.Name,
		Owner:    owner,
		Label:    src.label,
		Fields:   fields,
	})
}

// resubscribe points e's emitter subscriptions at the current seen sets.
// Snapshots sharing a seen set share a subscription.
func (r *Resource) resubscribe(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.refs == 0 {
		return
	}
	sets := distinctSeen(e.snaps)
	if len(sets) == len(e.subs) {
		for i, set := range sets {
			e.subs[i].Update(set)
		}
		return
	}
	for _, s := range e.subs {
		s.Dispose()
	}
	e.subs = e.subs[:0]
	for _, set := range sets {
		e.subs = append(e.subs, r.store.Emitter().Subscribe(set, r.onChange(e)))
	}
}

func (r *Resource) onChange(e *entry) emitter.Callback {
	return func(context.Context, emitter.Batch) {
		r.refresh(e, false)
		r.resubscribe(e)
		r.deliver(e)
	}
}

// deliver calls every listener that has not seen e's current result.
func (r *Resource) deliver(e *entry) {
	r.mu.Lock()
	cur := e.result
	ids := make([]uint64, 0, len(e.listeners))
	for id, l := range e.listeners {
		if l.last != cur {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	calls := make([]func(*Result), 0, len(ids))
	for _, id := range ids {
		l := e.listeners[id]
		l.last = cur
		calls = append(calls, l.cb)
	}
	r.mu.Unlock()
	for _, cb := range calls {
		cb(cur)
	}
}

func (r *Resource) unsubscribe(e *entry, id uint64) {
	r.mu.Lock()
	if _, ok := e.listeners[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(e.listeners, id)
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	for _, s := range e.subs {
		s.Dispose()
	}
	e.subs = nil
	delete(r.active, e.key)
	r.opts.Metrics.ActiveEntries(len(r.active))
	cached := r.cache.Contains(e.key)
	r.mu.Unlock()
	if !cached {
		r.release(e)
	}
}

// evicted runs under r.mu, from inside cache.Add.
func (r *Resource) evicted(key string, e *entry) {
	r.opts.Metrics.CacheEvicted()
	if _, active := r.active[key]; !active {
		r.release(e)
	}
}

// retain and release bracket an entry's lifetime in the resource. Entries
// sharing a selector share its live resolver states.
func (r *Resource) retain(e *entry) {
	for _, sel := range e.src.sels {
		if sel.Fragment != nil {
			r.reader.Retain(sel.Key())
		}
	}
}

func (r *Resource) release(e *entry) {
	for _, sel := range e.src.sels {
		if sel.Fragment != nil {
			r.reader.Release(sel.Key())
		}
	}
}

type subscription struct {
	r    *Resource
	e    *entry
	id   uint64
	once sync.Once
}

func (s *subscription) Dispose() {
	s.once.Do(func() { s.r.unsubscribe(s.e, s.id) })
}

func assemble(src *source, snaps []*reader.Snapshot) (data any, missing, suspended bool, err error) {
	var errs *multierror.Error
	for _, s := range snaps {
		missing = missing || s.IsMissingData
		suspended = suspended || s.Suspended
		if s.Err != nil {
			errs = multierror.Append(errs, s.Err)
		}
	}
	if src.plural {
		items := make([]any, len(snaps))
		for i, s := range snaps {
			if s.Data != nil {
				items[i] = s.Data
			}
		}
		data = items
	} else if len(snaps) == 1 && snaps[0].Data != nil {
		data = snaps[0].Data
	}
	return data, missing, suspended, errs.ErrorOrNil()
}

func distinctSeen(snaps []*reader.Snapshot) []record.IDSet {
	seen := make(map[string]bool)
	var out []record.IDSet
	for _, s := range snaps {
		if len(s.SeenRecords) == 0 {
			continue
		}
		k := strings.Join(s.SeenRecords.Sorted(), "\x00")
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s.SeenRecords)
	}
	return out
}
