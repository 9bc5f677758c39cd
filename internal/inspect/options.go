package inspect

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Options configures a Handler.
//
// Defaults:
// - Timeout:  10s per request
// - Logger:   discards output
// - Gatherer: none; /metrics answers 404
type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses.
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	Gatherer prometheus.Gatherer
	Logger   logrus.FieldLogger
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

type Option func(*Options)

func defaultOptions() *Options {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Options{Timeout: 10 * time.Second, Logger: l}
}

func WithTimeout(d time.Duration) Option        { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                        { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option           { return func(o *Options) { o.MaxBodyBytes = n } }
func WithGatherer(g prometheus.Gatherer) Option { return func(o *Options) { o.Gatherer = g } }
func WithLogger(l logrus.FieldLogger) Option    { return func(o *Options) { o.Logger = l } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
