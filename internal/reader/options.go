package reader

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Options configures a Reader.
//
// OnLiveChange is called with the live key of a live resolver field whose
// state reported a change. It may be called from any goroutine.
type Options struct {
	Logger       logrus.FieldLogger
	OnLiveChange func(key string)
	// MaxAttempts bounds re-reads when the source generation moves during a
	// read.
	MaxAttempts int
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Options{Logger: l, OnLiveChange: func(string) {}, MaxAttempts: 3}
}

func WithLogger(l logrus.FieldLogger) Option      { return func(o *Options) { o.Logger = l } }
func WithOnLiveChange(fn func(key string)) Option { return func(o *Options) { o.OnLiveChange = fn } }
func WithMaxAttempts(n int) Option                { return func(o *Options) { o.MaxAttempts = n } }
