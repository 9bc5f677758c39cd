// Package mutation runs mutation transactions: optimistic writes, commits
// ordered by collision key, and rollback.
package mutation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/network"
	"github.com/hanpama/graphcache/internal/normalize"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/reqid"
	"github.com/hanpama/graphcache/internal/selector"
	"github.com/hanpama/graphcache/internal/store"
	"github.com/hanpama/graphcache/internal/taskqueue"
)

// Config describes one mutation.
type Config struct {
	Operation *selector.Operation
	Variables map[string]any
	// CollisionKey orders transactions: those sharing a non-empty key are
	// sent one at a time in commit order.
	CollisionKey string
	// OptimisticResponse is the response the server is expected to return.
	OptimisticResponse map[string]any
	// OptimisticSelections normalize OptimisticResponse. When nil they are
	// inferred from the operation's selections.
	OptimisticSelections []selector.Node
	OnSuccess            func(t *Transaction, p *network.Payload)
	// OnFailure runs before the automatic rollback and may call
	// PreventAutoRollback.
	OnFailure func(t *Transaction, err error)
}

// Queue owns every transaction of an environment.
type Queue struct {
	store *store.Store
	net   network.Network
	tasks *taskqueue.Queue
	opts  *Options
	log   logrus.FieldLogger

	mu         sync.Mutex
	collisions map[string][]*Transaction
	live       map[string]*Transaction
}

// NewQueue returns a queue that writes to st, sends through net and runs
// network callbacks on tasks.
func NewQueue(st *store.Store, net network.Network, tasks *taskqueue.Queue, opts ...Option) *Queue {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if tasks == nil {
		tasks = taskqueue.New(nil)
	}
	return &Queue{
		store:      st,
		net:        net,
		tasks:      tasks,
		opts:       o,
		log:        o.Logger.WithField("component", "mutation"),
		collisions: make(map[string][]*Transaction),
		live:       make(map[string]*Transaction),
	}
}

// Create registers an uncommitted transaction for cfg.
func (q *Queue) Create(cfg Config) *Transaction {
	t := &Transaction{q: q, id: reqid.New(), cfg: cfg, status: Uncommitted}
	q.mu.Lock()
	q.live[t.id] = t
	q.mu.Unlock()
	return t
}

// Len reports the number of attached transactions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live)
}

// Queued returns the ids waiting on or holding collision key, in order.
func (q *Queue) Queued(key string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.collisions[key]))
	for _, t := range q.collisions[key] {
		out = append(out, t.id)
	}
	return out
}

// Transaction is one mutation and its optimistic write.
type Transaction struct {
	q   *Queue
	id  string
	cfg Config

	status          Status
	err             error
	applied         bool
	preventRollback bool
	detached        bool
	attempts        int
	started         time.Time
}

func (t *Transaction) ID() string { return t.id }

// CollisionKey is the key the transaction is ordered by, empty for none.
func (t *Transaction) CollisionKey() string { return t.cfg.CollisionKey }

func (t *Transaction) Status() Status {
	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	return t.status
}

// Err is the failure of the last commit attempt.
func (t *Transaction) Err() error {
	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	return t.err
}

// PreventAutoRollback keeps the optimistic write applied when the commit
// fails. It is meant to be called from OnFailure.
func (t *Transaction) PreventAutoRollback() {
	t.q.mu.Lock()
	t.preventRollback = true
	t.q.mu.Unlock()
}

// ApplyOptimistic writes the optimistic response to the transaction's
// optimistic layer. It may be called once.
func (t *Transaction) ApplyOptimistic() error {
	q := t.q
	q.mu.Lock()
	if t.detached {
		q.mu.Unlock()
		return t.misuse(ErrDetached)
	}
	if t.applied {
		q.mu.Unlock()
		return t.misuse(ErrAlreadyApplied)
	}
	t.applied = true
	q.mu.Unlock()

	if t.cfg.OptimisticResponse == nil {
		return nil
	}
	sels := t.cfg.OptimisticSelections
	if sels == nil && t.cfg.Operation != nil {
		sels = InferOptimisticSelections(t.cfg.Operation.Selections, t.cfg.OptimisticResponse)
	}
	src, err := normalize.Normalize(sels, t.variables(), record.RootID, t.cfg.OptimisticResponse)
	if err != nil {
		return fmt.Errorf("mutation: optimistic response: %w", err)
	}
	changed, err := q.store.PublishOptimistic(t.id, src)
	if err != nil {
		return err
	}
	q.store.Notify(context.Background(), changed)
	return nil
}

// Commit sends the transaction, or queues it behind a transaction with the
// same collision key that is committing.
func (t *Transaction) Commit(ctx context.Context) error {
	q := t.q
	q.mu.Lock()
	if t.detached {
		q.mu.Unlock()
		return t.misuse(ErrDetached)
	}
	if t.status != Uncommitted {
		q.mu.Unlock()
		return t.misuse(ErrAlreadyCommitted)
	}
	q.mu.Unlock()
	return q.commit(ctx, t)
}

// Recommit retries a failed transaction.
func (t *Transaction) Recommit(ctx context.Context) error {
	q := t.q
	q.mu.Lock()
	if t.detached {
		q.mu.Unlock()
		return t.misuse(ErrDetached)
	}
	if !t.status.Failed() {
		q.mu.Unlock()
		return t.misuse(ErrNotRecommittable)
	}
	t.err = nil
	t.preventRollback = false
	q.mu.Unlock()
	return q.commit(ctx, t)
}

// Rollback reverts the optimistic write and detaches the transaction. A
// response still in flight is discarded when it arrives.
func (t *Transaction) Rollback() {
	q := t.q
	q.mu.Lock()
	if t.detached {
		q.mu.Unlock()
		return
	}
	t.detached = true
	delete(q.live, t.id)
	if t.status != Committing {
		q.removeLocked(t)
	}
	q.mu.Unlock()
	q.revert(t)
}

// misuse logs a call the transaction's state does not allow and returns err.
func (t *Transaction) misuse(err error) error {
	t.q.log.WithError(err).WithFields(logrus.Fields{
		"transaction": t.id,
		"status":      t.Status().String(),
	}).Error("invalid transaction call")
	return err
}

func (t *Transaction) variables() map[string]any {
	if t.cfg.Operation == nil {
		return t.cfg.Variables
	}
	vars, err := t.cfg.Operation.Variables(t.cfg.Variables)
	if err != nil {
		return t.cfg.Variables
	}
	return vars
}

func (q *Queue) commit(ctx context.Context, t *Transaction) error {
	if t.cfg.Operation == nil {
		return ErrNoOperation
	}
	if _, err := t.cfg.Operation.Variables(t.cfg.Variables); err != nil {
		return err
	}
	q.mu.Lock()
	key := t.cfg.CollisionKey
	send := true
	if key != "" {
		waiting := q.collisions[key]
		send = len(waiting) == 0
		q.collisions[key] = append(waiting, t)
	}
	if send {
		t.status = Committing
	} else {
		t.status = CommitQueued
	}
	q.mu.Unlock()
	if send {
		q.send(ctx, t)
	} else {
		q.log.WithFields(logrus.Fields{"transaction": t.id, "collision_key": key}).Debug("commit queued")
	}
	return nil
}

func (q *Queue) send(ctx context.Context, t *Transaction) {
	q.mu.Lock()
	t.attempts++
	t.started = time.Now()
	attempt := t.attempts
	q.mu.Unlock()

	q.log.WithFields(logrus.Fields{
		"transaction":   t.id,
		"collision_key": t.cfg.CollisionKey,
		"attempt":       attempt,
	}).Debug("committing")
	eventbus.Publish(ctx, events.CommitStart{Transaction: t.id, CollisionKey: t.cfg.CollisionKey})

	req := &network.Request{
		ID:        reqid.New(),
		Operation: t.cfg.Operation,
		Variables: t.variables(),
		Cache:     network.CacheConfig{Force: true},
	}
	q.net.Execute(reqid.WithID(ctx, req.ID), req, func(p *network.Payload, err error) {
		q.tasks.Enqueue(func() { q.complete(ctx, t, p, err) })
	})
}

// complete handles the outcome of t's request.
func (q *Queue) complete(ctx context.Context, t *Transaction, p *network.Payload, err error) {
	if err == nil {
		err = p.Err()
	}
	var src record.Source
	if err == nil {
		src, err = normalize.Normalize(t.cfg.Operation.Selections, t.variables(), record.RootID, p.Data)
	}

	q.mu.Lock()
	detached := t.detached
	q.mu.Unlock()
	if detached {
		q.log.WithField("transaction", t.id).Debug("discarding response of rolled back transaction")
		q.mu.Lock()
		q.removeLocked(t)
		q.mu.Unlock()
		q.advance(ctx, t.cfg.CollisionKey)
		return
	}

	if err == nil {
		var changed record.IDSet
		changed, err = q.store.Settle(t.id, src)
		if err == nil {
			q.succeed(ctx, t, p, changed)
			return
		}
	}
	q.fail(ctx, t, err)
}

func (q *Queue) succeed(ctx context.Context, t *Transaction, p *network.Payload, changed record.IDSet) {
	q.mu.Lock()
	t.status = Committed
	t.detached = true
	delete(q.live, t.id)
	q.removeLocked(t)
	q.mu.Unlock()

	q.store.Notify(ctx, changed)
	q.finished(ctx, t, nil)
	if t.cfg.OnSuccess != nil {
		t.cfg.OnSuccess(t, p)
	}
	q.advance(ctx, t.cfg.CollisionKey)
}

// fail marks t failed and cascades the failure to every transaction queued
// behind it with the same collision key.
func (q *Queue) fail(ctx context.Context, t *Transaction, err error) {
	q.mu.Lock()
	t.status = CommitFailed
	t.err = err
	var followers []*Transaction
	if key := t.cfg.CollisionKey; key != "" {
		for _, f := range q.collisions[key] {
			if f != t {
				followers = append(followers, f)
			}
		}
		delete(q.collisions, key)
	}
	cause := err
	for _, f := range followers {
		f.status = CollisionCommitFailed
		f.err = fmt.Errorf("%w: %s: %v", ErrCollision, t.id, cause)
	}
	q.mu.Unlock()

	q.log.WithError(err).WithFields(logrus.Fields{
		"transaction":   t.id,
		"collision_key": t.cfg.CollisionKey,
		"followers":     len(followers),
	}).Warn("commit failed")
	q.finished(ctx, t, err)
	q.failed(t, err)
	for _, f := range followers {
		q.opts.Metrics.Commit(CollisionCommitFailed.String())
		eventbus.Publish(ctx, events.CommitFinish{
			Transaction:  f.id,
			CollisionKey: f.cfg.CollisionKey,
			Status:       CollisionCommitFailed.String(),
			Err:          f.Err(),
		})
		q.failed(f, f.Err())
	}
}

// failed runs the failure callback of t and then rolls it back unless the
// callback prevented it.
func (q *Queue) failed(t *Transaction, err error) {
	if t.cfg.OnFailure != nil {
		t.cfg.OnFailure(t, err)
	}
	q.mu.Lock()
	keep := t.preventRollback
	q.mu.Unlock()
	if !keep {
		q.revert(t)
	}
}

// advance sends the next transaction waiting on key.
func (q *Queue) advance(ctx context.Context, key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	waiting := q.collisions[key]
	if len(waiting) == 0 || waiting[0].status != CommitQueued {
		q.mu.Unlock()
		return
	}
	next := waiting[0]
	next.status = Committing
	q.mu.Unlock()
	q.send(ctx, next)
}

func (q *Queue) finished(ctx context.Context, t *Transaction, err error) {
	q.mu.Lock()
	status := t.status
	d := time.Since(t.started)
	q.mu.Unlock()
	q.opts.Metrics.Commit(status.String())
	eventbus.Publish(ctx, events.CommitFinish{
		Transaction:  t.id,
		CollisionKey: t.cfg.CollisionKey,
		Status:       status.String(),
		Err:          err,
		Duration:     d,
	})
}

func (q *Queue) revert(t *Transaction) {
	changed := q.store.RevertOptimistic(t.id)
	q.store.Notify(context.Background(), changed)
}

// removeLocked drops t from its collision queue. q.mu must be held.
func (q *Queue) removeLocked(t *Transaction) {
	key := t.cfg.CollisionKey
	if key == "" {
		return
	}
	waiting := q.collisions[key]
	for i, w := range waiting {
		if w == t {
			waiting = append(waiting[:i:i], waiting[i+1:]...)
			break
		}
	}
	if len(waiting) == 0 {
		delete(q.collisions, key)
	} else {
		q.collisions[key] = waiting
	}
}
