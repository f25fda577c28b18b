package repository

import (
	"context"
	"time"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

// startMetricsUpdater refreshes the active action item gauge until ctx is
// done or stop is closed.
func startMetricsUpdater(ctx context.Context, s EpisodeStore, o storeOptions, stop <-chan struct{}) {
	if o.metricsUpdateInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(o.metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				items, err := s.ListActionItems(ctx, model.StatusActive)
				if err != nil {
					metrics.RecordErrorByComponent("repository", "metrics_update")
					if o.log != nil {
						o.log.Warn(ctx, "active action item gauge update failed", logger.Error(err))
					}
					continue
				}
				metrics.UpdateActiveActionItems(len(items))
			}
		}
	}()
}
