// Package service is the group coordination engine. It turns interest toggles
// into action items, drives their confirmation state machine and ranks venues.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/rally/internal/adapters/chat"
	"github.com/okian/rally/internal/adapters/mq/queue"
	"github.com/okian/rally/internal/adapters/mq/worker"
	"github.com/okian/rally/internal/adapters/notify"
	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/domain/dedupe"
	"github.com/okian/rally/internal/domain/episode"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/scoring"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

const (
	defaultThreshold          = 3
	defaultQuorum             = 3
	defaultGrace              = 15 * time.Minute
	defaultEpisodeTimeout     = 48 * time.Hour
	defaultSweepInterval      = 30 * time.Second
	defaultChatLease          = time.Minute
	defaultMaxRecommendations = 50
	defaultQueueSize          = 10_000
	defaultDedupeSize         = 100_000
	idempotencyTTL            = 24 * time.Hour
)

// Service implements the coordination operations used by the HTTP API.
// It holds no per-request state; everything lives in the store.
type Service struct {
	mu sync.Mutex

	store    repository.Store
	scorer   scoring.Scorer
	chat     chat.Creator
	notifier notify.Notifier
	deduper  dedupe.Deduper
	queue    *queue.InMemoryQueue
	pool     *worker.Pool

	threshold          int
	policy             episode.Policy
	sweepInterval      time.Duration
	chatLease          time.Duration
	maxRecommendations int
	workerCount        int
	queueSize          int
	dedupeSize         int

	now   func() time.Time
	newID func() string

	started   bool
	startedAt time.Time
	cancel    context.CancelFunc
	sweeperWG sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service over store.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		threshold: defaultThreshold,
		policy: episode.Policy{
			Quorum:  defaultQuorum,
			Grace:   defaultGrace,
			Timeout: defaultEpisodeTimeout,
		},
		sweepInterval:      defaultSweepInterval,
		chatLease:          defaultChatLease,
		maxRecommendations: defaultMaxRecommendations,
		workerCount:        runtime.NumCPU(),
		queueSize:          defaultQueueSize,
		dedupeSize:         defaultDedupeSize,
		now:                time.Now,
		newID:              uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("engine")
	}
	if s.scorer == nil {
		s.scorer = scoring.NewWeightedScorer()
	}
	if s.chat == nil {
		s.chat = chat.NewLocalCreator()
	}
	if s.notifier == nil {
		s.notifier = notify.NewLogNotifier(s.logger.Named("notify"))
	}
	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
		dedupe.WithTTL(idempotencyTTL),
		dedupe.WithClock(s.now),
	)
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.startedAt = s.now()
	return s
}

// Start launches the notification workers and the sweeper.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.store == nil {
		return fmt.Errorf("start engine: no store: %w", model.ErrPreconditionFailed)
	}

	if s.queue.IsClosed() {
		s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.pool = worker.NewPool(s.workerCount, s.queue, s.notifier, worker.WithLogger(s.logger.Named("worker")))
	s.pool.Start(runCtx)

	if s.sweepInterval > 0 {
		s.sweeperWG.Add(1)
		go func() {
			defer s.sweeperWG.Done()
			s.runSweeper(runCtx)
		}()
	}

	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "coordination engine started",
		logger.Int("threshold", s.threshold),
		logger.Int("quorum", s.policy.Quorum),
		logger.Duration("grace", s.policy.Grace),
		logger.Duration("episode_timeout", s.policy.Timeout),
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
	)
	return nil
}

// Stop halts the sweeper, drains queued notifications and stops the workers.
// The store is owned by the caller and stays open.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(ctx, "stopping coordination engine")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	s.cancel()
	s.sweeperWG.Wait()

	s.started = false
	s.logger.Info(ctx, "coordination engine stopped")
}

// GetStats returns engine statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) (types.Stats, error) {
	active, err := s.store.ListActionItems(ctx, model.StatusActive)
	if err != nil {
		return types.Stats{}, err
	}

	s.mu.Lock()
	workers := 0
	if s.started && s.pool != nil {
		workers = s.pool.Size()
	}
	startedAt := s.startedAt
	s.mu.Unlock()

	metrics.UpdateActiveActionItems(len(active))
	return types.Stats{
		ActiveActionItems: len(active),
		QueueSize:         s.queue.Len(ctx),
		QueueCapacity:     s.queue.Cap(),
		Workers:           workers,
		DedupeEntries:     int(s.deduper.Size()),
		UptimeSeconds:     s.now().Sub(startedAt).Seconds(),
	}, nil
}

// snapshot projects item and fills in the venue name when the catalog knows it.
func (s *Service) snapshot(ctx context.Context, item *model.ActionItem) model.ConfirmationSnapshot {
	snap := item.ToSnapshot()
	venue, err := s.store.GetVenue(ctx, item.VenueID)
	switch {
	case err == nil:
		snap.VenueName = venue.Name
	case !errors.Is(err, model.ErrNotFound):
		s.logger.Warn(ctx, "venue lookup failed",
			logger.String("venue", item.VenueID),
			logger.Error(err),
		)
	}
	return snap
}

// notify enqueues a fan-out message. A full queue drops it with a warning.
func (s *Service) notify(ctx context.Context, kind model.NotificationKind, item *model.ActionItem, recipients []string) {
	if len(recipients) == 0 {
		return
	}
	n := model.Notification{
		ID:           uuid.NewString(),
		Kind:         kind,
		ActionItemID: item.ID,
		VenueID:      item.VenueID,
		Recipients:   recipients,
		CreatedAt:    s.now(),
	}
	if item.Status == model.StatusFormed {
		n.ChatID = item.ChatID
	}
	if !s.queue.Enqueue(ctx, n) {
		s.logger.Warn(ctx, "notification dropped",
			logger.String("kind", string(kind)),
			logger.String("action_item", item.ID),
		)
	}
}

func requireIDs(ids ...string) error {
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("empty identifier: %w", model.ErrInvalidArgument)
		}
	}
	return nil
}
