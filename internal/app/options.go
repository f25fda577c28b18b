package service

import (
	"time"

	"github.com/okian/rally/internal/adapters/chat"
	"github.com/okian/rally/internal/adapters/notify"
	"github.com/okian/rally/internal/domain/scoring"
	"github.com/okian/rally/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithThreshold sets the interested count that opens an episode.
func WithThreshold(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithQuorum sets the confirmed count, initiator included, that forms the group.
func WithQuorum(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.policy.Quorum = n
		}
	}
}

// WithExhaustionGrace sets how long an unreachable quorum waits before dismissal.
func WithExhaustionGrace(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.policy.Grace = d
		}
	}
}

// WithEpisodeTimeout dismisses episodes that stay unresolved for d. Zero disables it.
func WithEpisodeTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.policy.Timeout = d
		}
	}
}

// WithSweepInterval sets how often the sweeper scans open episodes. Zero disables it.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		s.sweepInterval = d
	}
}

// WithChatLease sets how long a chat creation may stay in flight before the
// sweeper retries it.
func WithChatLease(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.chatLease = d
		}
	}
}

// WithMaxRecommendations caps the recommendation list length.
func WithMaxRecommendations(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRecommendations = n
		}
	}
}

// WithWorkerCount sets the number of notification workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the notification queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the idempotency key cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithScorer replaces the recommendation scorer.
func WithScorer(sc scoring.Scorer) Option {
	return func(s *Service) {
		if sc != nil {
			s.scorer = sc
		}
	}
}

// WithChatCreator sets the group formation collaborator.
func WithChatCreator(c chat.Creator) Option {
	return func(s *Service) {
		if c != nil {
			s.chat = c
		}
	}
}

// WithNotifier sets the notification delivery collaborator.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the action item ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
