package store

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/hanpama/graphcache/internal/emitter"
	"github.com/hanpama/graphcache/internal/metrics"
	"github.com/hanpama/graphcache/internal/record"
)

// Persister is a secondary record source consulted before a record is
// reported absent. Base writes are written through to it.
type Persister interface {
	ReadRecord(id string) (record.Record, bool, error)
	WriteRecord(r record.Record) error
}

// Options configures a Store.
//
// Defaults:
// - Logger:  discards output
// - Emitter: a fresh emitter owned by the store
type Options struct {
	Persister Persister
	Logger    logrus.FieldLogger
	Metrics   *metrics.Metrics
	Emitter   *emitter.Emitter
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Options{Logger: l}
}

func WithPersister(p Persister) Option       { return func(o *Options) { o.Persister = p } }
func WithLogger(l logrus.FieldLogger) Option { return func(o *Options) { o.Logger = l } }
func WithMetrics(m *metrics.Metrics) Option  { return func(o *Options) { o.Metrics = m } }
func WithEmitter(e *emitter.Emitter) Option  { return func(o *Options) { o.Emitter = e } }
