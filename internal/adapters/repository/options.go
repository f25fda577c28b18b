package repository

import (
	"time"

	"github.com/okian/rally/pkg/logger"
)

const (
	defaultMetricsUpdateInterval = 10 * time.Second
	defaultBusyTimeout           = 5 * time.Second
	defaultCASRetries            = 8
)

// Option applies a configuration option to a store.
type Option func(*storeOptions)

type storeOptions struct {
	metricsUpdateInterval time.Duration
	busyTimeout           time.Duration
	casRetries            int
	log                   logger.Logger
}

func newStoreOptions(opts []Option) storeOptions {
	o := storeOptions{
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		busyTimeout:           defaultBusyTimeout,
		casRetries:            defaultCASRetries,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMetricsUpdateInterval sets the interval for background gauge updates.
// Zero or negative disables the updater.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(o *storeOptions) {
		o.metricsUpdateInterval = interval
	}
}

// WithBusyTimeout sets the SQLite busy timeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *storeOptions) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithCASRetries bounds optimistic retries of MongoDB read-modify-write updates.
func WithCASRetries(n int) Option {
	return func(o *storeOptions) {
		if n > 0 {
			o.casRetries = n
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *storeOptions) {
		o.log = l
	}
}
