package service

import (
	"context"
	"sort"
	"time"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/scoring"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/metrics"
)

// GetRecommendations ranks every known venue for userID, best first. Ties are
// broken by venue name. A non-positive or oversized limit uses the configured cap.
func (s *Service) GetRecommendations(ctx context.Context, userID string, limit int) ([]types.Recommendation, error) {
	if err := requireIDs(userID); err != nil {
		return nil, err
	}
	start := time.Now()

	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	venues, err := s.store.ListVenues(ctx)
	if err != nil {
		return nil, err
	}
	friendsByVenue := map[string][]string{}
	if len(profile.Friends) > 0 {
		friendsByVenue, err = s.store.InterestsOf(ctx, profile.Friends)
		if err != nil {
			return nil, err
		}
	}
	names, err := s.displayNames(ctx, profile.Friends)
	if err != nil {
		return nil, err
	}

	recs := make([]types.Recommendation, 0, len(venues))
	for _, v := range venues {
		friendNames := make([]string, 0, len(friendsByVenue[v.ID]))
		for _, id := range friendsByVenue[v.ID] {
			friendNames = append(friendNames, names[id])
		}
		res := s.scorer.Score(scoring.Input{
			Interests:       profile.Interests,
			Category:        v.Category,
			InterestedCount: v.InterestedCount,
			FriendNames:     friendNames,
			DistanceKm:      scoring.DistanceKm(profile.Location, v.Location),
		})
		recs = append(recs, types.Recommendation{
			VenueID:   v.ID,
			VenueName: v.Name,
			Score:     res.Total,
			Breakdown: res.Breakdown,
			Reason:    res.Reason,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		if recs[i].VenueName != recs[j].VenueName {
			return recs[i].VenueName < recs[j].VenueName
		}
		return recs[i].VenueID < recs[j].VenueID
	})

	if limit <= 0 || limit > s.maxRecommendations {
		limit = s.maxRecommendations
	}
	if len(recs) > limit {
		recs = recs[:limit]
	}
	metrics.RecordRecommendationsServed(float64(time.Since(start).Microseconds()) / 1000)
	return recs, nil
}

// displayNames maps user IDs to display names, falling back to the ID.
func (s *Service) displayNames(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		out[id] = id
	}
	if len(ids) == 0 {
		return out, nil
	}
	profiles, err := s.store.GetProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if p.DisplayName != "" {
			out[p.ID] = p.DisplayName
		}
	}
	return out, nil
}

// UpsertVenue adds or replaces a venue in the catalog.
func (s *Service) UpsertVenue(ctx context.Context, v model.Venue) error {
	if err := requireIDs(v.ID); err != nil {
		return err
	}
	return s.store.UpsertVenue(ctx, v)
}

// GetVenue returns a venue with its live interested count.
func (s *Service) GetVenue(ctx context.Context, venueID string) (model.VenueAggregate, error) {
	if err := requireIDs(venueID); err != nil {
		return model.VenueAggregate{}, err
	}
	return s.store.GetVenue(ctx, venueID)
}

// UpsertProfile adds or replaces a user profile.
func (s *Service) UpsertProfile(ctx context.Context, p model.UserProfile) error {
	if err := requireIDs(p.ID); err != nil {
		return err
	}
	return s.store.UpsertProfile(ctx, p)
}
