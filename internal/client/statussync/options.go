package statussync

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/rally/pkg/logger"
)

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithInterval sets the poll interval. Values below one millisecond are ignored.
func WithInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d >= time.Millisecond {
			s.interval = d
		}
	}
}

// WithFetchTimeout bounds one status request shared by coalesced callers.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithBackOff sets the retry policy used when the server is unavailable. The
// factory is called once per retry sequence.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Synchronizer) {
		if newBackOff != nil {
			s.newBackOff = newBackOff
		}
	}
}

// WithOnUpdate registers a callback invoked after every change to a view.
// It runs on the goroutine that made the change and must not block.
func WithOnUpdate(fn func(View)) Option {
	return func(s *Synchronizer) {
		s.onUpdate = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}
