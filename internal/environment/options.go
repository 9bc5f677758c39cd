package environment

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/hanpama/graphcache/internal/metrics"
	"github.com/hanpama/graphcache/internal/network"
	"github.com/hanpama/graphcache/internal/resolver"
	"github.com/hanpama/graphcache/internal/schema"
	"github.com/hanpama/graphcache/internal/store"
	"github.com/hanpama/graphcache/internal/taskqueue"
)

// Options configures an Environment.
//
// Defaults:
// - Network:          rejects every request with ErrNoNetwork
// - Scheduler:        runs tasks inline
// - FragmentCapacity: 1000
// - Logger:           discards output
type Options struct {
	Schema           *schema.Schema
	Resolvers        *resolver.Registry
	Network          network.Network
	Persister        store.Persister
	Scheduler        taskqueue.Scheduler
	FragmentCapacity int
	Logger           logrus.FieldLogger
	Metrics          *metrics.Metrics
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Options{
		Network:          network.Func(noNetwork),
		FragmentCapacity: 1000,
		Logger:           l,
	}
}

func WithSchema(s *schema.Schema) Option         { return func(o *Options) { o.Schema = s } }
func WithResolvers(r *resolver.Registry) Option  { return func(o *Options) { o.Resolvers = r } }
func WithNetwork(n network.Network) Option       { return func(o *Options) { o.Network = n } }
func WithPersister(p store.Persister) Option     { return func(o *Options) { o.Persister = p } }
func WithScheduler(s taskqueue.Scheduler) Option { return func(o *Options) { o.Scheduler = s } }
func WithFragmentCapacity(n int) Option          { return func(o *Options) { o.FragmentCapacity = n } }
func WithLogger(l logrus.FieldLogger) Option     { return func(o *Options) { o.Logger = l } }
func WithMetrics(m *metrics.Metrics) Option      { return func(o *Options) { o.Metrics = m } }
