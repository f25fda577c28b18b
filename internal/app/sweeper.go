package service

import (
	"context"
	"time"

	"github.com/okian/rally/internal/domain/episode"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

func (s *Service) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep dismisses episodes whose grace period or timeout elapsed and retries
// chat creation for formed items that have no chat and no creation in flight.
func (s *Service) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.RecordSweep(float64(time.Since(start).Milliseconds()))
	}()

	active, err := s.store.ListActionItems(ctx, model.StatusActive)
	if err != nil {
		s.logger.Warn(ctx, "sweep: listing active items failed", logger.Error(err))
		return
	}
	now := s.now()
	for _, item := range active {
		if s.policy.Evaluate(item, now) == episode.Hold {
			continue
		}
		if _, err := s.settle(ctx, item.ID); err != nil {
			s.logger.Warn(ctx, "sweep: settle failed",
				logger.String("action_item", item.ID),
				logger.Error(err),
			)
		}
	}

	formed, err := s.store.ListActionItems(ctx, model.StatusFormed)
	if err != nil {
		s.logger.Warn(ctx, "sweep: listing formed items failed", logger.Error(err))
		return
	}
	for _, item := range formed {
		if item.ChatID != "" {
			continue
		}
		if err := s.retryChat(ctx, item.ID); err != nil {
			s.logger.Warn(ctx, "sweep: chat retry failed",
				logger.String("action_item", item.ID),
				logger.Error(err),
			)
		}
	}
}
