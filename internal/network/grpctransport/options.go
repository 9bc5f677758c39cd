package grpctransport

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// Options configures a Transport.
//
// Defaults:
// - ConnsPerEndpoint: 2 client connections, used round robin
// - RPCTimeout:       3s, applied when the context has no deadline
// - Failover:         1 retry on another endpoint after codes.Unavailable
// - DialOptions:      insecure credentials
// - Logger:           discards output
//
// Provider must be set; calls fail with ErrNoProvider otherwise.
type Options struct {
	Provider         EndpointProvider
	ConnsPerEndpoint int
	RPCTimeout       time.Duration
	Failover         int
	DialOptions      []grpc.DialOption
	Logger           logrus.FieldLogger
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Options{
		ConnsPerEndpoint: 2,
		RPCTimeout:       3 * time.Second,
		Failover:         1,
		Logger:           l,
	}
}

func WithProvider(p EndpointProvider) Option { return func(o *Options) { o.Provider = p } }
func WithConnsPerEndpoint(n int) Option      { return func(o *Options) { o.ConnsPerEndpoint = n } }
func WithRPCTimeout(d time.Duration) Option  { return func(o *Options) { o.RPCTimeout = d } }
func WithFailover(n int) Option              { return func(o *Options) { o.Failover = n } }
func WithLogger(l logrus.FieldLogger) Option { return func(o *Options) { o.Logger = l } }
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = opts }
}
