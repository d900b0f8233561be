package cart

import (
	"time"

	"cartflow/pkg/logger"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 25 * time.Millisecond
)

type options struct {
	log          *logger.Logger
	rec          Recorder
	cache        Cache
	maxAttempts  uint
	retryBackoff time.Duration
	timeout      time.Duration
}

// Option configures an Engine or a Query.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.rec = r }
}

// WithCache sets the query cache. An Engine invalidates the owner's entries
// after every committed mutation; a Query reads through it.
func WithCache(c Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithMaxAttempts bounds how many times one call runs its unit of work when
// the store reports a conflict. Values below 1 mean a single attempt.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.maxAttempts = uint(n)
	}
}

// WithRetryBackoff sets the initial wait before retrying a conflicted unit of work.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *options) { o.retryBackoff = d }
}

// WithTimeout bounds each call, retries included. Zero leaves the caller's
// deadline in charge.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func newOptions(opts []Option) options {
	o := options{
		log:          logger.NewNop(),
		rec:          nopRecorder{},
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
