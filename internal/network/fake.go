package network

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a Network that holds every request until the test settles it.
type Fake struct {
	mu      sync.Mutex
	Calls   []*Request
	waiting map[string]func(*Payload, error)
}

// NewFake returns an empty Fake.
func NewFake() *Fake { return &Fake{waiting: make(map[string]func(*Payload, error))} }

func (f *Fake) Execute(_ context.Context, req *Request, done func(*Payload, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, req)
	f.waiting[req.ID] = done
}

// Names returns the operation names of every request received, in order.
func (f *Fake) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	for i, r := range f.Calls {
		out[i] = r.Name()
	}
	return out
}

// Waiting reports whether the request id is unsettled.
func (f *Fake) Waiting(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.waiting[id]
	return ok
}

// Resolve completes request id with data.
func (f *Fake) Resolve(id string, data map[string]any) error {
	return f.settle(id, &Payload{Data: data}, nil)
}

// Respond completes request id with p.
func (f *Fake) Respond(id string, p *Payload) error {
	return f.settle(id, p, nil)
}

// Reject fails request id with err.
func (f *Fake) Reject(id string, err error) error {
	return f.settle(id, nil, err)
}

// Last returns the most recent request, or nil.
func (f *Fake) Last() *Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Calls) == 0 {
		return nil
	}
	return f.Calls[len(f.Calls)-1]
}

func (f *Fake) settle(id string, p *Payload, err error) error {
	f.mu.Lock()
	done, ok := f.waiting[id]
	delete(f.waiting, id)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("network: no request %q waiting", id)
	}
	done(p, err)
	return nil
}
