package service

import (
	"context"
	"errors"

	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/domain/episode"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

// ToggleInterest flips userID's interest in venueID. The toggle that moves the
// count up to the threshold claims a coordination episode with the user as
// initiator. Later interest only reports the episode already open.
func (s *Service) ToggleInterest(ctx context.Context, userID, venueID string) (types.ToggleResult, error) {
	if err := requireIDs(userID, venueID); err != nil {
		return types.ToggleResult{}, err
	}
	if _, err := s.store.GetVenue(ctx, venueID); err != nil {
		return types.ToggleResult{}, err
	}

	change, err := s.store.ToggleInterest(ctx, userID, venueID, s.now())
	if err != nil {
		return types.ToggleResult{}, err
	}
	metrics.RecordInterestToggle(change.Interested)

	res := types.ToggleResult{
		Interested:      change.Interested,
		InterestedCount: change.Count,
	}
	switch {
	case change.Crossed(s.threshold):
		item, triggered := s.claim(ctx, userID, venueID)
		res.ActionItemTriggered = triggered
		res.ActionItem = types.Summarize(item, userID)
	case change.Interested && change.Count > s.threshold:
		res.ActionItem = types.Summarize(s.activeEpisode(ctx, venueID), userID)
	}
	return res, nil
}

// activeEpisode returns the venue's open episode, or nil when there is none
// or it cannot be read.
func (s *Service) activeEpisode(ctx context.Context, venueID string) *model.ActionItem {
	item, err := s.store.ActiveEpisode(ctx, venueID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.logger.Warn(ctx, "active episode lookup failed",
				logger.String("venue", venueID),
				logger.Error(err),
			)
		}
		return nil
	}
	return item
}

// ToggleInterestOnce applies ToggleInterest at most once per (user, key).
// A replayed key reports the current state without toggling again.
func (s *Service) ToggleInterestOnce(ctx context.Context, key, userID, venueID string) (types.ToggleResult, error) {
	if key == "" {
		return s.ToggleInterest(ctx, userID, venueID)
	}
	if err := requireIDs(userID, venueID); err != nil {
		return types.ToggleResult{}, err
	}

	dedupeKey := "toggle:" + userID + ":" + key
	if s.deduper.SeenAndRecord(ctx, dedupeKey) {
		metrics.RecordIdempotentReplay()
		return s.interestState(ctx, userID, venueID)
	}
	res, err := s.ToggleInterest(ctx, userID, venueID)
	if err != nil {
		s.deduper.Unrecord(ctx, dedupeKey)
		return types.ToggleResult{}, err
	}
	return res, nil
}

// interestState reads the toggle result as it stands now.
func (s *Service) interestState(ctx context.Context, userID, venueID string) (types.ToggleResult, error) {
	users, err := s.store.InterestedUsers(ctx, venueID)
	if err != nil {
		return types.ToggleResult{}, err
	}
	res := types.ToggleResult{InterestedCount: len(users)}
	for _, u := range users {
		if u == userID {
			res.Interested = true
			break
		}
	}

	item, err := s.store.ActiveEpisode(ctx, venueID)
	switch {
	case err == nil:
		res.ActionItem = types.Summarize(item, userID)
	case !errors.Is(err, model.ErrNotFound):
		return types.ToggleResult{}, err
	}
	return res, nil
}

// claim opens an episode for venueID. Losing the race joins the existing
// episode. Storage failures are logged and the venue waits for its next crossing.
func (s *Service) claim(ctx context.Context, userID, venueID string) (*model.ActionItem, bool) {
	item, err := s.store.ClaimEpisode(ctx, repository.ClaimRequest{
		ID:          s.newID(),
		VenueID:     venueID,
		InitiatorID: userID,
		Threshold:   s.threshold,
		Now:         s.now(),
	})
	switch {
	case err == nil:
	case errors.Is(err, model.ErrConflict):
		metrics.RecordEpisodeClaimConflict()
		return s.activeEpisode(ctx, venueID), false
	case errors.Is(err, model.ErrPreconditionFailed):
		s.logger.Debug(ctx, "threshold no longer met at claim",
			logger.String("venue", venueID),
			logger.String("user", userID),
		)
		return nil, false
	default:
		metrics.RecordErrorByComponent("engine", "claim")
		s.logger.Error(ctx, "episode claim failed",
			logger.String("venue", venueID),
			logger.String("user", userID),
			logger.Error(err),
		)
		return nil, false
	}

	metrics.RecordActionItemCreated()
	metrics.RecordActionItemTransition(string(model.StatusActive))
	s.logger.Info(ctx, "action item created",
		logger.String("action_item", item.ID),
		logger.String("venue", venueID),
		logger.String("initiator", userID),
		logger.Int("members", len(item.Snapshot)),
	)
	s.notify(ctx, model.NotifyActionItemCreated, item, item.PendingMembers())

	if s.policy.Evaluate(item, s.now()) != episode.Hold {
		if settled, err := s.settle(ctx, item.ID); err == nil {
			item = settled
		}
	}
	return item, true
}
