// Package environment wires a record store, reader, fragment resource,
// mutation queue and network into one client cache.
package environment

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/fragment"
	"github.com/hanpama/graphcache/internal/mutation"
	"github.com/hanpama/graphcache/internal/network"
	"github.com/hanpama/graphcache/internal/normalize"
	"github.com/hanpama/graphcache/internal/pending"
	"github.com/hanpama/graphcache/internal/reader"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/reqid"
	"github.com/hanpama/graphcache/internal/selector"
	"github.com/hanpama/graphcache/internal/store"
	"github.com/hanpama/graphcache/internal/taskqueue"
)

// Environment is one isolated client cache.
type Environment struct {
	opts *Options
	log  logrus.FieldLogger

	store     *store.Store
	reader    *reader.Reader
	tracker   *network.Tracker
	tasks     *taskqueue.Queue
	fragments *fragment.Resource
	mutations *mutation.Queue
	compiler  *selector.Compiler

	disposed atomic.Bool
}

func New(opts ...Option) *Environment {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	e := &Environment{
		opts:    o,
		log:     o.Logger.WithField("component", "environment"),
		tracker: network.NewTracker(),
		tasks:   taskqueue.New(o.Scheduler),
	}
	storeOpts := []store.Option{store.WithLogger(o.Logger), store.WithMetrics(o.Metrics)}
	if o.Persister != nil {
		storeOpts = append(storeOpts, store.WithPersister(o.Persister))
	}
	e.store = store.New(storeOpts...)
	e.reader = reader.New(e.store,
		reader.WithLogger(o.Logger),
		reader.WithOnLiveChange(e.liveChanged),
	)
	e.fragments = fragment.New(e.store, e.reader, e.tracker,
		fragment.WithCapacity(o.FragmentCapacity),
		fragment.WithLogger(o.Logger),
		fragment.WithMetrics(o.Metrics),
	)
	e.mutations = mutation.NewQueue(e.store, o.Network, e.tasks,
		mutation.WithLogger(o.Logger),
		mutation.WithMetrics(o.Metrics),
	)
	e.compiler = selector.NewCompiler(o.Schema, o.Resolvers)
	return e
}

func (e *Environment) Store() *store.Store           { return e.store }
func (e *Environment) Fragments() *fragment.Resource { return e.fragments }
func (e *Environment) Mutations() *mutation.Queue    { return e.mutations }
func (e *Environment) Tracker() *network.Tracker     { return e.tracker }
func (e *Environment) Tasks() *taskqueue.Queue       { return e.tasks }
func (e *Environment) Compiler() *selector.Compiler  { return e.compiler }
func (e *Environment) Disposed() bool                { return e.disposed.Load() }

// Compile compiles source with the environment's schema and resolvers.
func (e *Environment) Compile(source string) (*selector.Document, error) {
	return e.compiler.Compile(source)
}

// RootRef references the root record of op with vars, as fetched by the
// request id.
func RootRef(vars map[string]any, requestID string) *fragment.Ref {
	return &fragment.Ref{ID: record.RootID, Variables: vars, Request: requestID}
}

// CommitPayload writes data as the response of op and returns the snapshot
// of op read back from the store.
func (e *Environment) CommitPayload(op *selector.Operation, vars map[string]any, data map[string]any) (*reader.Snapshot, error) {
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	vars, err := op.Variables(vars)
	if err != nil {
		return nil, err
	}
	if err := e.publish(context.Background(), op, vars, data); err != nil {
		return nil, err
	}
	return e.reader.Read(selector.New(op.Root, record.RootID, vars)), nil
}

// Lookup reads sel without caching or subscribing.
func (e *Environment) Lookup(sel selector.Selector) (*reader.Snapshot, error) {
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	return e.reader.Read(sel), nil
}

// Read is Fragments().Read guarded against disposal.
func (e *Environment) Read(frag *selector.Fragment, ref *fragment.Ref, label string) (*fragment.Result, error) {
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	return e.fragments.Read(frag, ref, label)
}

// ReadPlural is Fragments().ReadPlural guarded against disposal.
func (e *Environment) ReadPlural(frag *selector.Fragment, refs []*fragment.Ref, label string) (*fragment.Result, error) {
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	return e.fragments.ReadPlural(frag, refs, label)
}

// Execute fetches req and writes the response to the store. The returned
// handle settles after the response is published, or with the request's
// error; failed responses are never published. Unless req.Cache.Force is
// set, a request whose data is already in the store is not sent.
func (e *Environment) Execute(ctx context.Context, req *network.Request) (*pending.Pending, error) {
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	if req.Operation == nil || req.Operation.Kind == selector.Mutation {
		return nil, ErrNotQuery
	}
	vars, err := req.Operation.Variables(req.Variables)
	if err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = reqid.New()
	}
	req.Variables = vars

	if !req.Cache.Force {
		snap := e.reader.Read(selector.New(req.Operation.Root, record.RootID, vars))
		if !snap.IsMissingData {
			p := pending.New(req.ID)
			p.Resolve()
			e.opts.Metrics.Request("cached", 0)
			return p, nil
		}
	}

	if p, ok := e.tracker.Lookup(req.ID); ok {
		return p, nil
	}
	p := e.tracker.Start(req.ID)
	ctx = reqid.WithID(ctx, req.ID)
	start := time.Now()
	eventbus.Publish(ctx, events.RequestStart{RequestID: req.ID, Name: req.Name(), Kind: req.Kind()})
	e.opts.Network.Execute(ctx, req, func(payload *network.Payload, err error) {
		e.tasks.Enqueue(func() { e.complete(ctx, req, start, payload, err) })
	})
	return p, nil
}

// Abort settles the request id as aborted. A response arriving later is
// dropped.
func (e *Environment) Abort(id string) { e.tracker.Abort(id) }

// Commit creates a transaction for cfg, applies its optimistic response and
// commits it.
func (e *Environment) Commit(ctx context.Context, cfg mutation.Config) (*mutation.Transaction, error) {
	if e.disposed.Load() {
		return nil, ErrDisposed
	}
	t := e.mutations.Create(cfg)
	if cfg.OptimisticResponse != nil {
		if err := t.ApplyOptimistic(); err != nil {
			t.Rollback()
			return nil, err
		}
	}
	if err := t.Commit(ctx); err != nil {
		t.Rollback()
		return nil, err
	}
	return t, nil
}

// Dispose aborts requests in flight and releases live resolver states.
// Later calls fail with ErrDisposed.
func (e *Environment) Dispose() {
	if e.disposed.Swap(true) {
		return
	}
	for _, id := range e.tracker.InFlight() {
		e.tracker.Abort(id)
	}
	e.reader.Close()
	e.log.Debug("environment disposed")
}

func (e *Environment) complete(ctx context.Context, req *network.Request, start time.Time, payload *network.Payload, err error) {
	if _, inflight := e.tracker.Lookup(req.ID); !inflight {
		e.log.WithField("request", req.ID).Debug("dropping response of aborted request")
		return
	}
	if err == nil {
		err = payload.Err()
	}
	if err == nil {
		err = e.publish(ctx, req.Operation, req.Variables, payload.Data)
	}
	d := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		e.log.WithError(err).WithFields(logrus.Fields{
			"request":   req.ID,
			"operation": req.Name(),
		}).Warn("request failed")
	}
	e.opts.Metrics.Request(outcome, d.Seconds())
	e.tracker.Finish(req.ID, err)
	eventbus.Publish(ctx, events.RequestFinish{
		RequestID: req.ID,
		Name:      req.Name(),
		Kind:      req.Kind(),
		Err:       err,
		Duration:  d,
	})
}

func (e *Environment) publish(ctx context.Context, op *selector.Operation, vars, data map[string]any) error {
	src, err := normalize.Normalize(op.Selections, vars, record.RootID, data)
	if err != nil {
		return err
	}
	changed, err := e.store.Publish(src)
	if err != nil {
		return err
	}
	e.store.Notify(ctx, changed)
	return nil
}

// liveChanged turns a live resolver change into a store notification on the
// task queue.
func (e *Environment) liveChanged(key string) {
	e.tasks.Enqueue(func() {
		if e.disposed.Load() {
			return
		}
		e.store.Notify(context.Background(), e.store.Invalidate(key))
	})
}

func noNetwork(context.Context, *network.Request) (*network.Payload, error) {
	return nil, ErrNoNetwork
}
