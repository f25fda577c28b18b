// Package types contains result shapes returned by the engine and the HTTP API.
package types

import "github.com/okian/rally/internal/domain/model"

// ActionItemSummary describes an episode from the point of view of one user.
type ActionItemSummary struct {
	ID          string                 `json:"id"`
	VenueID     string                 `json:"venue_id"`
	InitiatorID string                 `json:"initiator_id"`
	Status      model.ActionItemStatus `json:"status"`
	// Member is false when the user joined the venue after the snapshot froze.
	Member  bool  `json:"member"`
	Version int64 `json:"version"`
}

// ToggleResult is returned from an interest toggle.
type ToggleResult struct {
	Interested          bool               `json:"interested"`
	InterestedCount     int                `json:"interested_count"`
	ActionItemTriggered bool               `json:"action_item_triggered"`
	ActionItem          *ActionItemSummary `json:"action_item,omitempty"`
}

// Recommendation is one ranked venue for a user.
type Recommendation struct {
	VenueID   string               `json:"venue_id"`
	VenueName string               `json:"venue_name"`
	Score     float64              `json:"score"`
	Breakdown model.ScoreBreakdown `json:"breakdown"`
	Reason    string               `json:"reason"`
}

// Stats summarizes engine activity for the stats endpoint.
type Stats struct {
	ActiveActionItems int     `json:"active_action_items"`
	QueueSize         int     `json:"queue_size"`
	QueueCapacity     int     `json:"queue_capacity"`
	Workers           int     `json:"workers"`
	DedupeEntries     int     `json:"dedupe_entries"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Summarize builds the summary of item for userID.
func Summarize(item *model.ActionItem, userID string) *ActionItemSummary {
	if item == nil {
		return nil
	}
	return &ActionItemSummary{
		ID:          item.ID,
		VenueID:     item.VenueID,
		InitiatorID: item.InitiatorID,
		Status:      item.Status,
		Member:      item.IsMember(userID),
		Version:     item.Version,
	}
}
