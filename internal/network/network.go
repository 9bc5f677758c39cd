// Package network is the boundary between the cache and the transport that
// executes operations against a server.
package network

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/hanpama/graphcache/internal/selector"
)

// CacheConfig tells the transport whether a cached answer is acceptable.
type CacheConfig struct {
	// Force requires a round trip to the server.
	Force bool
}

// Request is one operation to execute.
type Request struct {
	ID        string
	Operation *selector.Operation
	Variables map[string]any
	Cache     CacheConfig
}

// Name is the operation name.
func (r *Request) Name() string {
	if r.Operation == nil {
		return ""
	}
	return r.Operation.Name
}

// Text is the document sent to the server.
func (r *Request) Text() string {
	if r.Operation == nil {
		return ""
	}
	return r.Operation.Text
}

// Kind is the operation kind.
func (r *Request) Kind() string {
	if r.Operation == nil {
		return ""
	}
	return string(r.Operation.Kind)
}

// GraphQLError is one entry of a response's "errors" list.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e *GraphQLError) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Path))
	for i, p := range e.Path {
		parts[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("%s (at %s)", e.Message, strings.Join(parts, "."))
}

// Payload is a server response.
type Payload struct {
	Data   map[string]any  `json:"data"`
	Errors []*GraphQLError `json:"errors,omitempty"`
}

// Err reports a payload that carries errors and no data.
func (p *Payload) Err() error {
	if p == nil {
		return fmt.Errorf("network: empty response")
	}
	if p.Data != nil || len(p.Errors) == 0 {
		return nil
	}
	var errs *multierror.Error
	for _, e := range p.Errors {
		errs = multierror.Append(errs, e)
	}
	return errs.ErrorOrNil()
}

// Network executes requests. done is called exactly once, possibly from
// another goroutine.
type Network interface {
	Execute(ctx context.Context, req *Request, done func(*Payload, error))
}

// Func adapts a blocking fetch to Network. The fetch runs on the calling
// goroutine.
type Func func(ctx context.Context, req *Request) (*Payload, error)

func (f Func) Execute(ctx context.Context, req *Request, done func(*Payload, error)) {
	done(f(ctx, req))
}

// Async adapts a blocking fetch to Network, running it on a new goroutine.
type Async func(ctx context.Context, req *Request) (*Payload, error)

func (f Async) Execute(ctx context.Context, req *Request, done func(*Payload, error)) {
	go func() { done(f(ctx, req)) }()
}

// ParseResponse converts a decoded JSON response body into a Payload.
func ParseResponse(m map[string]any) (*Payload, error) {
	p := &Payload{}
	switch data := m["data"].(type) {
	case nil:
	case map[string]any:
		p.Data = data
	default:
		return nil, fmt.Errorf("network: response data must be an object, got %T", m["data"])
	}
	raw, _ := m["errors"].([]any)
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("network: response error must be an object, got %T", item)
		}
		e := &GraphQLError{}
		e.Message, _ = obj["message"].(string)
		e.Path, _ = obj["path"].([]any)
		e.Extensions, _ = obj["extensions"].(map[string]any)
		p.Errors = append(p.Errors, e)
	}
	return p, nil
}

// RequestBody is the JSON body of a GraphQL request.
func RequestBody(req *Request) map[string]any {
	body := map[string]any{"query": req.Text()}
	if name := req.Name(); name != "" {
		body["operationName"] = name
	}
	if len(req.Variables) > 0 {
		body["variables"] = req.Variables
	}
	return body
}
