package grpctransport

import (
	"context"
	"sync"
)

// EndpointProvider lists the targets (host:port or a gRPC target URI) that
// serve the GraphQL service. Implementations must be safe for concurrent use.
type EndpointProvider interface {
	Endpoints(ctx context.Context) ([]string, error)
}

// Static is a fixed endpoint list that can be replaced at runtime.
type Static struct {
	mu        sync.RWMutex
	endpoints []string
}

func NewStatic(endpoints ...string) *Static {
	return &Static{endpoints: append([]string(nil), endpoints...)}
}

// Set replaces the endpoint list.
func (s *Static) Set(endpoints ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append([]string(nil), endpoints...)
}

func (s *Static) Endpoints(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return append([]string(nil), s.endpoints...), nil
}
