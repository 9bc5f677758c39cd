package boltstore

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures a Store.
//
// Defaults:
// - Bucket:  "records"
// - Timeout: 1s to acquire the file lock
// - Logger:  discards output
type Options struct {
	Bucket  string
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Options{Bucket: "records", Timeout: time.Second, Logger: l}
}

func WithBucket(name string) Option          { return func(o *Options) { o.Bucket = name } }
func WithTimeout(d time.Duration) Option     { return func(o *Options) { o.Timeout = d } }
func WithLogger(l logrus.FieldLogger) Option { return func(o *Options) { o.Logger = l } }
