// Package grpctransport executes operations over a unary gRPC call whose
// messages are google.protobuf.Struct values.
package grpctransport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/network"
	"github.com/hanpama/graphcache/internal/reqid"
)

// RequestIDHeader is the metadata key carrying the request id.
const RequestIDHeader = "x-request-id"

// Transport is a network.Network over gRPC. It keeps a small set of client
// connections per endpoint and rotates requests across endpoints.
type Transport struct {
	opts *Options
	log  logrus.FieldLogger

	next   atomic.Uint64
	mu     sync.Mutex
	chans  map[string]*channelSet // key: endpoint
	closed atomic.Bool
}

func New(opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	if o.ConnsPerEndpoint <= 0 {
		o.ConnsPerEndpoint = 1
	}
	return &Transport{
		opts:  o,
		log:   o.Logger.WithField("component", "grpctransport"),
		chans: make(map[string]*channelSet),
	}
}

var _ network.Network = (*Transport)(nil)

// Execute runs Fetch on a new goroutine and reports to done.
func (t *Transport) Execute(ctx context.Context, req *network.Request, done func(*network.Payload, error)) {
	network.Async(t.Fetch).Execute(ctx, req, done)
}

// Fetch sends req and waits for the response. A call failing with
// codes.Unavailable is retried on the next endpoint up to Failover times.
func (t *Transport) Fetch(ctx context.Context, req *network.Request) (*network.Payload, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.opts.Provider == nil {
		return nil, ErrNoProvider
	}
	if _, ok := ctx.Deadline(); !ok && t.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
		defer cancel()
	}
	id := req.ID
	if id == "" {
		id, _ = reqid.FromContext(ctx)
	}
	if id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, RequestIDHeader, id)
	}

	in, err := structpb.NewStruct(network.RequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("grpctransport: encode request: %w", err)
	}
	endpoints, err := t.opts.Provider.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	first := int(t.next.Add(1) - 1)
	attempts := min(t.opts.Failover+1, len(endpoints))
	for i := 0; ; i++ {
		endpoint := endpoints[(first+i)%len(endpoints)]
		out, err := t.invoke(ctx, endpoint, in)
		if err == nil {
			return network.ParseResponse(out.AsMap())
		}
		if status.Code(err) != codes.Unavailable || i+1 >= attempts || ctx.Err() != nil {
			return nil, err
		}
		t.log.WithError(err).WithFields(logrus.Fields{
			"request":  id,
			"endpoint": endpoint,
		}).Warn("endpoint unavailable, failing over")
	}
}

func (t *Transport) invoke(ctx context.Context, endpoint string, in *structpb.Struct) (*structpb.Struct, error) {
	cc, err := t.conn(endpoint)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	eventbus.Publish(ctx, events.GRPCClientStart{Method: ExecuteMethod, Target: endpoint})
	out := new(structpb.Struct)
	err = cc.Invoke(ctx, ExecuteMethod, in, out)
	eventbus.Publish(ctx, events.GRPCClientFinish{
		Method:   ExecuteMethod,
		Target:   endpoint,
		Code:     status.Code(err),
		Err:      err,
		Duration: time.Since(start),
	})
	return out, err
}

// Close closes every client connection. Later calls fail with ErrClosed.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.chans {
		s.close()
	}
	t.chans = map[string]*channelSet{}
	return nil
}

// Endpoints reports the endpoints a connection has been opened to.
func (t *Transport) Endpoints() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.chans))
	for ep := range t.chans {
		out = append(out, ep)
	}
	return out
}

// ---------------- internals ----------------

// channelSet is a fixed number of lazily created client connections to one
// endpoint.
type channelSet struct {
	endpoint string
	next     atomic.Uint64
	mu       sync.Mutex
	conns    []*grpc.ClientConn
}

func (t *Transport) conn(endpoint string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	s := t.chans[endpoint]
	if s == nil {
		s = &channelSet{endpoint: endpoint, conns: make([]*grpc.ClientConn, t.opts.ConnsPerEndpoint)}
		t.chans[endpoint] = s
	}
	t.mu.Unlock()
	return s.get(t.opts.DialOptions)
}

func (s *channelSet) get(dial []grpc.DialOption) (*grpc.ClientConn, error) {
	i := int(s.next.Add(1)-1) % len(s.conns)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cc := s.conns[i]; cc != nil {
		return cc, nil
	}
	cc, err := grpc.NewClient(s.endpoint, dial...)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: client for %s: %w", s.endpoint, err)
	}
	s.conns[i] = cc
	return cc, nil
}

func (s *channelSet) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cc := range s.conns {
		if cc != nil {
			_ = cc.Close()
			s.conns[i] = nil
		}
	}
}
