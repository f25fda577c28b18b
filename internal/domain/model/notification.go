package model

import "time"

// NotificationKind names the event a member is told about.
type NotificationKind string

const (
	NotifyActionItemCreated NotificationKind = "action_item_created"
	NotifyGroupFormed       NotificationKind = "group_formed"
	NotifyDismissed         NotificationKind = "action_item_dismissed"
)

// Notification is a fan-out message for the delivery collaborator.
type Notification struct {
	ID           string
	Kind         NotificationKind
	ActionItemID string
	VenueID      string
	Recipients   []string
	ChatID       string
	CreatedAt    time.Time
}
