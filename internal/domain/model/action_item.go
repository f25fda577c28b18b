package model

import (
	"slices"
	"time"
)

// ActionItemStatus is the lifecycle state of an action item.
type ActionItemStatus string

const (
	StatusActive    ActionItemStatus = "active"
	StatusFormed    ActionItemStatus = "formed"
	StatusDismissed ActionItemStatus = "dismissed"
)

// Terminal reports whether no further transitions are possible.
func (s ActionItemStatus) Terminal() bool {
	return s == StatusFormed || s == StatusDismissed
}

// ResponseStatus is a member's answer to an action item.
type ResponseStatus string

const (
	ResponsePending   ResponseStatus = "pending"
	ResponseConfirmed ResponseStatus = "confirmed"
	ResponseDeclined  ResponseStatus = "declined"
)

// Confirmation is one snapshot member's response. The initiator has none.
type Confirmation struct {
	UserID      string         `json:"user_id" bson:"user_id"`
	Status      ResponseStatus `json:"status" bson:"status"`
	RespondedAt *time.Time     `json:"responded_at,omitempty" bson:"responded_at,omitempty"`
}

// ActionItem is one coordination episode for a venue. ChatAttemptAt is the
// lease of the chat creation in flight on a formed item.
type ActionItem struct {
	ID            string           `bson:"_id"`
	VenueID       string           `bson:"venue_id"`
	InitiatorID   string           `bson:"initiator_id"`
	Status        ActionItemStatus `bson:"status"`
	Snapshot      []string         `bson:"snapshot"`
	Confirmations []Confirmation   `bson:"confirmations"`
	ChatID        string           `bson:"chat_id,omitempty"`
	ChatAttemptAt *time.Time       `bson:"chat_attempt_at,omitempty"`
	CreatedAt     time.Time        `bson:"created_at"`
	FormedAt      *time.Time       `bson:"formed_at,omitempty"`
	ExhaustedAt   *time.Time       `bson:"exhausted_at,omitempty"`
	DismissedAt   *time.Time       `bson:"dismissed_at,omitempty"`
	Version       int64            `bson:"version"`
}

// IsMember reports whether userID is in the frozen snapshot.
func (a *ActionItem) IsMember(userID string) bool {
	return slices.Contains(a.Snapshot, userID)
}

// Confirmation returns the record for userID, or nil for the initiator and non-members.
func (a *ActionItem) Confirmation(userID string) *Confirmation {
	for i := range a.Confirmations {
		if a.Confirmations[i].UserID == userID {
			return &a.Confirmations[i]
		}
	}
	return nil
}

// ConfirmedCount counts the initiator plus every confirmed record.
func (a *ActionItem) ConfirmedCount() int {
	n := 1
	for _, c := range a.Confirmations {
		if c.Status == ResponseConfirmed {
			n++
		}
	}
	return n
}

// PendingCount counts records still awaiting an answer.
func (a *ActionItem) PendingCount() int {
	n := 0
	for _, c := range a.Confirmations {
		if c.Status == ResponsePending {
			n++
		}
	}
	return n
}

// MaxAchievable is the best confirmed count still reachable.
func (a *ActionItem) MaxAchievable() int {
	return a.ConfirmedCount() + a.PendingCount()
}

// PendingMembers lists users that have not answered yet.
func (a *ActionItem) PendingMembers() []string {
	out := make([]string, 0, len(a.Confirmations))
	for _, c := range a.Confirmations {
		if c.Status == ResponsePending {
			out = append(out, c.UserID)
		}
	}
	return out
}

// ConfirmedMembers lists the initiator followed by every confirmed user.
func (a *ActionItem) ConfirmedMembers() []string {
	out := []string{a.InitiatorID}
	for _, c := range a.Confirmations {
		if c.Status == ResponseConfirmed {
			out = append(out, c.UserID)
		}
	}
	return out
}

// Clone returns a deep copy safe to hand out of a store.
func (a *ActionItem) Clone() *ActionItem {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Snapshot = slices.Clone(a.Snapshot)
	cp.Confirmations = slices.Clone(a.Confirmations)
	return &cp
}

// NewActionItem builds an active item whose snapshot contains members and the initiator.
// Every member other than the initiator gets a pending confirmation.
func NewActionItem(id, venueID, initiatorID string, members []string, now time.Time) *ActionItem {
	snapshot := make([]string, 0, len(members)+1)
	confirmations := make([]Confirmation, 0, len(members))
	seen := make(map[string]struct{}, len(members)+1)
	snapshot = append(snapshot, initiatorID)
	seen[initiatorID] = struct{}{}
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		snapshot = append(snapshot, m)
		confirmations = append(confirmations, Confirmation{UserID: m, Status: ResponsePending})
	}
	return &ActionItem{
		ID:            id,
		VenueID:       venueID,
		InitiatorID:   initiatorID,
		Status:        StatusActive,
		Snapshot:      snapshot,
		Confirmations: confirmations,
		CreatedAt:     now,
		Version:       1,
	}
}
