// Package repository persists interests, the venue/profile read model and action items.
package repository

import (
	"context"
	"time"

	"github.com/okian/rally/internal/domain/model"
)

// ClaimRequest asks a store to open a coordination episode for a venue.
type ClaimRequest struct {
	ID          string
	VenueID     string
	InitiatorID string
	// Threshold is re-checked against the interest set read in the claim step.
	Threshold int
	Now       time.Time
}

// Mutation changes an action item inside a store's atomic step. It reports
// whether the item changed; an error aborts the write.
type Mutation func(item *model.ActionItem) (bool, error)

// InterestStore is the authoritative source of interest records and counts.
type InterestStore interface {
	// ToggleInterest flips the (user, venue) record and returns the new state
	// together with the count and members read in the same atomic step.
	ToggleInterest(ctx context.Context, userID, venueID string, now time.Time) (model.InterestChange, error)
	// InterestedUsers lists users interested in venueID.
	InterestedUsers(ctx context.Context, venueID string) ([]string, error)
	// InterestsOf maps venue IDs to the subset of userIDs interested in each.
	InterestsOf(ctx context.Context, userIDs []string) (map[string][]string, error)
}

// CatalogStore holds the venue and profile read model.
type CatalogStore interface {
	UpsertVenue(ctx context.Context, v model.Venue) error
	// GetVenue returns the venue with its derived interest count or ErrNotFound.
	GetVenue(ctx context.Context, venueID string) (model.VenueAggregate, error)
	ListVenues(ctx context.Context) ([]model.VenueAggregate, error)
	UpsertProfile(ctx context.Context, p model.UserProfile) error
	// GetProfile returns ErrNotFound for unknown users.
	GetProfile(ctx context.Context, userID string) (model.UserProfile, error)
	// GetProfiles returns the known profiles among ids; unknown ids are skipped.
	GetProfiles(ctx context.Context, ids []string) ([]model.UserProfile, error)
}

// EpisodeStore holds action items and their confirmations.
type EpisodeStore interface {
	// ClaimEpisode creates an active action item whose snapshot is the interest
	// set read in the same atomic step. It returns ErrConflict when the venue
	// already has an active episode and ErrPreconditionFailed when the interest
	// set no longer reaches the threshold or lost the initiator.
	ClaimEpisode(ctx context.Context, req ClaimRequest) (*model.ActionItem, error)
	// ActiveEpisode returns the venue's active action item or ErrNotFound.
	ActiveEpisode(ctx context.Context, venueID string) (*model.ActionItem, error)
	GetActionItem(ctx context.Context, id string) (*model.ActionItem, error)
	// UpdateActionItem applies fn atomically. Leaving the active state releases
	// the venue's episode key.
	UpdateActionItem(ctx context.Context, id string, fn Mutation) (*model.ActionItem, error)
	ListActionItems(ctx context.Context, status model.ActionItemStatus) ([]*model.ActionItem, error)
}

// Store is the full persistence surface used by the engine.
type Store interface {
	InterestStore
	CatalogStore
	EpisodeStore
	Close() error
}
