// Package reader resolves selectors against a record source into
// denormalized snapshots.
package reader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selector"
)

// Source is the record source a Reader reads from.
type Source interface {
	Get(id string) (record.Record, bool)
	Generation() uint64
}

// Snapshot is the immutable result of reading a selector.
type Snapshot struct {
	Selector selector.Selector
	// Data is the denormalized result. It is nil when the owner record is
	// missing or the read suspended.
	Data        map[string]any
	SeenRecords record.IDSet
	// IsMissingData is set when a selected field, record or type was not in
	// the source. Suspended reads are also missing data.
	IsMissingData bool
	// Suspended is set when a live resolver was not ready.
	Suspended bool
	// MissingFields lists "<record id>.<storage key>" for absent fields.
	MissingFields []string
	// Err aggregates resolver failures.
	Err        error
	Generation uint64
}

// Reader reads selectors. It keeps live resolver states between reads for
// the selector keys callers retain.
type Reader struct {
	src  Source
	opts *Options
	log  logrus.FieldLogger
	live *liveStates
}

// New returns a Reader over src.
func New(src Source, opts ...Option) *Reader {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	return &Reader{
		src:  src,
		opts: o,
		log:  o.Logger.WithField("component", "reader"),
		live: newLiveStates(),
	}
}

// Read resolves sel. Reads are repeated when the source generation moves
// while reading, so a snapshot reflects a single generation unless writes
// keep racing it.
func (r *Reader) Read(sel selector.Selector) *Snapshot {
	var snap *Snapshot
	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		gen := r.src.Generation()
		snap = r.read(sel, gen)
		if r.src.Generation() == gen {
			break
		}
	}
	return snap
}

// Retain keeps the live resolver states of reads of the selector key, and
// their subscriptions, until a matching Release.
func (r *Reader) Retain(selectorKey string) { r.live.retain(selectorKey) }

// Release undoes one Retain. The last one disposes the selector key's live
// resolver states.
func (r *Reader) Release(selectorKey string) { r.live.release(selectorKey) }

// Close disposes every live resolver state.
func (r *Reader) Close() { r.live.releaseAll() }

// LiveStates reports the number of live resolver states held.
func (r *Reader) LiveStates() int { return r.live.len() }

func (r *Reader) read(sel selector.Selector, gen uint64) *Snapshot {
	st := &readState{
		r:      r,
		selKey: sel.Key(),
		seen:   make(record.IDSet),
	}
	var data map[string]any
	if sel.Fragment != nil {
		data = st.readRecord(sel.Owner, sel.Fragment.Selections, sel.Variables)
	}
	snap := &Snapshot{
		Selector:      sel,
		Data:          data,
		SeenRecords:   st.seen,
		IsMissingData: st.missing || st.suspended,
		Suspended:     st.suspended,
		MissingFields: st.missingFields,
		Err:           st.errs.ErrorOrNil(),
		Generation:    gen,
	}
	if st.suspended {
		snap.Data = nil
	}
	return snap
}

type readState struct {
	r             *Reader
	selKey        string
	seen          record.IDSet
	missing       bool
	suspended     bool
	missingFields []string
	errs          *multierror.Error
	path          []string
}

func (st *readState) markMissing(id, key string) {
	st.missing = true
	st.missingFields = append(st.missingFields, id+"."+key)
}

func (st *readState) push(seg string) { st.path = append(st.path, seg) }
func (st *readState) pop()            { st.path = st.path[:len(st.path)-1] }
func (st *readState) pathString() string {
	return strings.Join(st.path, ".")
}

// readRecord reads nodes from the record id. It returns nil when the record
// is missing.
func (st *readState) readRecord(id string, nodes []selector.Node, vars map[string]any) map[string]any {
	st.seen.Add(id)
	rec, ok := st.r.src.Get(id)
	if !ok {
		st.missing = true
		st.missingFields = append(st.missingFields, id)
		return nil
	}
	data := make(map[string]any)
	st.traverse(nodes, vars, rec, data)
	return data
}

func (st *readState) traverse(nodes []selector.Node, vars map[string]any, rec record.Record, data map[string]any) {
	for _, node := range nodes {
		if st.suspended {
			return
		}
		switch f := node.(type) {
		case *selector.ScalarField:
			key := f.StorageKey(vars)
			v, ok := rec[key]
			if !ok {
				st.markMissing(rec.ID(), key)
				continue
			}
			data[f.ResponseKey()] = record.CloneValue(v)

		case *selector.LinkedField:
			st.push(f.ResponseKey())
			st.readLinked(f, vars, rec, data)
			st.pop()

		case *selector.InlineFragment:
			typename := rec.Typename()
			if typename == "" {
				st.markMissing(rec.ID(), record.TypenameKey)
				continue
			}
			if f.Matches(typename) {
				st.traverse(f.Selections, vars, rec, data)
			}

		case *selector.Condition:
			if b, _ := vars[f.Variable].(bool); b == f.Passing {
				st.traverse(f.Selections, vars, rec, data)
			}

		case *selector.FragmentSpread:
			fv := f.Fragment.Variables(selector.EvalArgs(f.Args, vars), vars)
			st.traverse(f.Fragment.Selections, fv, rec, data)

		case *selector.ResolverField:
			st.push(f.ResponseKey())
			st.readResolver(f, vars, rec, data)
			st.pop()

		case *selector.LiveResolverField:
			st.push(f.ResponseKey())
			st.readLiveResolver(f, vars, rec, data)
			st.pop()

		default:
			panic(fmt.Sprintf("reader: unknown selector node %T", node))
		}
	}
}

func (st *readState) readLinked(f *selector.LinkedField, vars map[string]any, rec record.Record, data map[string]any) {
	key := f.StorageKey(vars)
	v, ok := rec[key]
	if !ok {
		st.markMissing(rec.ID(), key)
		return
	}
	switch link := v.(type) {
	case nil:
		data[f.ResponseKey()] = nil
	case record.Ref:
		if child, ok := st.readChild(f, link.ID, vars); ok {
			data[f.ResponseKey()] = child
		}
	case record.Refs:
		// missing elements stay nil; the snapshot is already marked missing
		items := make([]any, len(link))
		for i, id := range link {
			if id == "" {
				continue
			}
			st.push(strconv.Itoa(i))
			if child, ok := st.readChild(f, id, vars); ok {
				items[i] = child
			}
			st.pop()
		}
		data[f.ResponseKey()] = items
	default:
		// a scalar stored where a link is selected
		st.markMissing(rec.ID(), key)
	}
}

// readChild reads a linked record. A record whose known type differs from
// the field's object type is reported missing.
func (st *readState) readChild(f *selector.LinkedField, id string, vars map[string]any) (any, bool) {
	st.seen.Add(id)
	rec, ok := st.r.src.Get(id)
	if !ok {
		st.missing = true
		st.missingFields = append(st.missingFields, id)
		return nil, false
	}
	if t := rec.Typename(); f.ConcreteType != "" && t != "" && t != f.ConcreteType {
		st.markMissing(id, record.TypenameKey)
		return nil, false
	}
	data := make(map[string]any)
	st.traverse(f.Selections, vars, rec, data)
	return data, true
}

// readModel reads a resolver root fragment on rec. ok is false when the
// fragment is missing data.
func (st *readState) readModel(frag *selector.Fragment, args, vars map[string]any, rec record.Record) (model any, ok bool) {
	if frag == nil {
		return nil, true
	}
	before := st.missing
	st.missing = false
	data := make(map[string]any)
	st.traverse(frag.Selections, frag.Variables(args, vars), rec, data)
	depMissing := st.missing
	st.missing = before || depMissing
	return data, !depMissing && !st.suspended
}

func (st *readState) readResolver(f *selector.ResolverField, vars map[string]any, rec record.Record, data map[string]any) {
	args := selector.EvalArgs(f.Args, vars)
	model, ok := st.readModel(f.Fragment, args, vars, rec)
	if !ok {
		return
	}
	v, err := callResolver(f.Resolver.Func, model, args)
	if err != nil {
		st.fail(f.Name, err)
		data[f.ResponseKey()] = nil
		return
	}
	data[f.ResponseKey()] = v
}

func (st *readState) readLiveResolver(f *selector.LiveResolverField, vars map[string]any, rec record.Record, data map[string]any) {
	args := selector.EvalArgs(f.Args, vars)
	model, ok := st.readModel(f.Fragment, args, vars, rec)
	if !ok {
		return
	}
	key := LiveKey(st.selKey, rec.ID(), st.pathString())
	st.seen.Add(key)
	state, err := st.r.live.get(key, st.selKey, f.Resolver.Live, model, args, st.r.opts.OnLiveChange)
	if err != nil {
		st.fail(f.Name, err)
		data[f.ResponseKey()] = nil
		return
	}
	v, ready := state.Read()
	if !ready {
		st.suspended = true
		return
	}
	data[f.ResponseKey()] = v
}

func (st *readState) fail(field string, err error) {
	rerr := &ResolverError{Path: st.pathString(), Field: field, Err: err}
	st.r.log.WithError(err).WithFields(logrus.Fields{
		"field": field,
		"path":  rerr.Path,
	}).Warn("resolver failed")
	st.errs = multierror.Append(st.errs, rerr)
}

// callResolver runs fn, turning a panic into an error.
func callResolver(fn func(any, map[string]any) (any, error), model any, args map[string]any) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(model, args)
}
