package model

import "time"

// MemberStatus is one row of a confirmation snapshot.
type MemberStatus struct {
	UserID string         `json:"user_id"`
	Status ResponseStatus `json:"status"`
}

// ConfirmationSnapshot is the externally visible state of an action item.
type ConfirmationSnapshot struct {
	ActionItemID  string           `json:"action_item_id"`
	VenueID       string           `json:"venue_id"`
	VenueName     string           `json:"venue_name,omitempty"`
	Initiator     string           `json:"initiator"`
	Status        ActionItemStatus `json:"status"`
	Confirmations []MemberStatus   `json:"confirmations"`
	ChatID        string           `json:"chat_id,omitempty"`
	Version       int64            `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ToSnapshot projects the item into its visible form. ChatID is only exposed once formed.
func (a *ActionItem) ToSnapshot() ConfirmationSnapshot {
	rows := make([]MemberStatus, 0, len(a.Confirmations))
	for _, c := range a.Confirmations {
		rows = append(rows, MemberStatus{UserID: c.UserID, Status: c.Status})
	}
	s := ConfirmationSnapshot{
		ActionItemID:  a.ID,
		VenueID:       a.VenueID,
		Initiator:     a.InitiatorID,
		Status:        a.Status,
		Confirmations: rows,
		Version:       a.Version,
		CreatedAt:     a.CreatedAt,
	}
	if a.Status == StatusFormed {
		s.ChatID = a.ChatID
	}
	return s
}

// ScoreBreakdown holds the weighted contribution of each factor.
type ScoreBreakdown struct {
	Popularity    float64 `json:"popularity"`
	CategoryMatch float64 `json:"category_match"`
	FriendSignal  float64 `json:"friend_signal"`
	Proximity     float64 `json:"proximity"`
}

// Total sums the four contributions.
func (b ScoreBreakdown) Total() float64 {
	return b.Popularity + b.CategoryMatch + b.FriendSignal + b.Proximity
}
