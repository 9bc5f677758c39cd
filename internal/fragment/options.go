package fragment

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/hanpama/graphcache/internal/metrics"
)

// Options configures a Resource.
//
// Defaults:
// - Capacity: 1000 cached entries; subscribed entries are never dropped
// - Logger:   discards output
type Options struct {
	Capacity int
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Options{Capacity: 1000, Logger: l}
}

func WithCapacity(n int) Option              { return func(o *Options) { o.Capacity = n } }
func WithLogger(l logrus.FieldLogger) Option { return func(o *Options) { o.Logger = l } }
func WithMetrics(m *metrics.Metrics) Option  { return func(o *Options) { o.Metrics = m } }
