package mutation

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/hanpama/graphcache/internal/metrics"
)

// Options configures a Queue.
type Options struct {
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Options{Logger: l}
}

func WithLogger(l logrus.FieldLogger) Option { return func(o *Options) { o.Logger = l } }
func WithMetrics(m *metrics.Metrics) Option  { return func(o *Options) { o.Metrics = m } }
