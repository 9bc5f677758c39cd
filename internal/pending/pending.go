// Package pending provides the handle returned when a read has to wait for
// an in-flight request.
package pending

import (
	"errors"
	"sync"
)

// ErrAborted is the settled error of a pending handle whose request was
// aborted.
var ErrAborted = errors.New("pending: request aborted")

// Pending settles once, when its request completes, fails or is aborted.
type Pending struct {
	id   string
	done chan struct{}

	mu      sync.Mutex
	settled bool
	err     error
	waiters []func(error)
}

// New returns an unsettled handle for request id.
func New(id string) *Pending {
	return &Pending{id: id, done: make(chan struct{})}
}

// ID is the request id the handle waits for.
func (p *Pending) ID() string { return p.id }

// Done is closed once the handle settles.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the settled error: nil while unsettled or after success.
func (p *Pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Settled reports whether the handle has settled.
func (p *Pending) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled
}

// Aborted reports whether the handle settled by Abort.
func (p *Pending) Aborted() bool { return errors.Is(p.Err(), ErrAborted) }

// OnSettle registers fn to run once the handle settles. If it has already
// settled, fn runs immediately.
func (p *Pending) OnSettle(fn func(error)) {
	p.mu.Lock()
	if p.settled {
		err := p.err
		p.mu.Unlock()
		fn(err)
		return
	}
	p.waiters = append(p.waiters, fn)
	p.mu.Unlock()
}

// Resolve settles the handle successfully.
func (p *Pending) Resolve() { p.settle(nil) }

// Reject settles the handle with err.
func (p *Pending) Reject(err error) { p.settle(err) }

// Abort settles the handle with ErrAborted.
func (p *Pending) Abort() { p.settle(ErrAborted) }

// settle is a no-op after the first call.
func (p *Pending) settle(err error) {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.settled, p.err = true, err
	waiters := p.waiters
	p.waiters = nil
	close(p.done)
	p.mu.Unlock()
	for _, fn := range waiters {
		fn(err)
	}
}
