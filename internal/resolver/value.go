package resolver

import "sync"

// Value is a mutable LiveState. It starts suspended unless created with
// NewValue.
type Value struct {
	mu    sync.Mutex
	v     any
	ready bool
	next  int
	subs  map[int]func()
}

// NewValue returns a ready live value holding v.
func NewValue(v any) *Value { return &Value{v: v, ready: true} }

// NewSuspended returns a live value that is not ready.
func NewSuspended() *Value { return &Value{} }

func (s *Value) Read() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, s.ready
}

func (s *Value) Subscribe(cb func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func())
	}
	id := s.next
	s.next++
	s.subs[id] = cb
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Set stores v, marks the value ready and notifies subscribers.
func (s *Value) Set(v any) {
	s.mu.Lock()
	s.v, s.ready = v, true
	cbs := s.callbacks()
	s.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// Suspend marks the value not ready and notifies subscribers.
func (s *Value) Suspend() {
	s.mu.Lock()
	s.ready = false
	cbs := s.callbacks()
	s.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// Subscribers reports the number of active subscriptions.
func (s *Value) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Value) callbacks() []func() {
	out := make([]func(), 0, len(s.subs))
	for _, cb := range s.subs {
		out = append(out, cb)
	}
	return out
}
