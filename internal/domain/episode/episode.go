// Package episode holds the confirmation state machine of an action item.
//
// Functions here are pure: stores call them inside their own atomic step so
// every backend applies identical transition rules.
package episode

import (
	"fmt"
	"time"

	"github.com/okian/rally/internal/domain/model"
)

// Decision is what the engine should do next with an active item.
type Decision int

const (
	// Hold leaves the item as it is.
	Hold Decision = iota
	// Form means quorum is reached.
	Form
	// Exhaust means quorum became unreachable and the grace period should start.
	Exhaust
	// Dismiss means the grace period or the episode timeout elapsed.
	Dismiss
)

func (d Decision) String() string {
	switch d {
	case Form:
		return "form"
	case Exhaust:
		return "exhaust"
	case Dismiss:
		return "dismiss"
	default:
		return "hold"
	}
}

// Policy carries the tunables of the state machine.
type Policy struct {
	Quorum int
	Grace  time.Duration
	// Timeout dismisses items that never resolve. Zero disables it.
	Timeout time.Duration
}

// Evaluate decides the next transition for item at now.
func (p Policy) Evaluate(item *model.ActionItem, now time.Time) Decision {
	if item == nil || item.Status != model.StatusActive {
		return Hold
	}
	if item.ConfirmedCount() >= p.Quorum {
		return Form
	}
	if item.MaxAchievable() < p.Quorum {
		if item.ExhaustedAt == nil {
			return Exhaust
		}
		if now.Sub(*item.ExhaustedAt) >= p.Grace {
			return Dismiss
		}
		return Hold
	}
	if p.Timeout > 0 && now.Sub(item.CreatedAt) >= p.Timeout {
		return Dismiss
	}
	return Hold
}

// ApplyResponse records userID's answer on item. It reports whether item changed.
func ApplyResponse(item *model.ActionItem, userID string, resp model.ResponseStatus, now time.Time) (bool, error) {
	if resp != model.ResponseConfirmed && resp != model.ResponseDeclined {
		return false, fmt.Errorf("response %q: %w", resp, model.ErrConflict)
	}
	if !item.IsMember(userID) {
		return false, fmt.Errorf("user %s on action item %s: %w", userID, item.ID, model.ErrNotFound)
	}
	if userID == item.InitiatorID {
		if resp == model.ResponseConfirmed {
			return false, nil
		}
		return false, fmt.Errorf("initiator cannot decline action item %s: %w", item.ID, model.ErrConflict)
	}

	rec := item.Confirmation(userID)
	switch {
	case rec.Status == resp:
		return false, nil
	case item.Status == model.StatusDismissed:
		return false, fmt.Errorf("action item %s dismissed: %w", item.ID, model.ErrPreconditionFailed)
	case rec.Status != model.ResponsePending:
		return false, fmt.Errorf("user %s already %s: %w", userID, rec.Status, model.ErrConflict)
	}

	rec.Status = resp
	at := now
	rec.RespondedAt = &at
	item.Version++
	return true, nil
}

// MarkFormed moves an active item to formed. It returns ErrConflict when the
// item is no longer active so only one caller wins. The winner also holds the
// chat lease from now.
func MarkFormed(item *model.ActionItem, now time.Time) error {
	if item.Status != model.StatusActive {
		return fmt.Errorf("action item %s is %s: %w", item.ID, item.Status, model.ErrConflict)
	}
	item.Status = model.StatusFormed
	at := now
	item.FormedAt = &at
	item.ChatAttemptAt = &at
	item.Version++
	return nil
}

// ClaimChatAttempt takes the chat lease of a formed item without a chat. A
// lease younger than lease belongs to a creation still in flight and is left
// alone. It reports whether the caller now holds the lease.
func ClaimChatAttempt(item *model.ActionItem, now time.Time, lease time.Duration) bool {
	if item.Status != model.StatusFormed || item.ChatID != "" {
		return false
	}
	if item.ChatAttemptAt != nil && now.Sub(*item.ChatAttemptAt) < lease {
		return false
	}
	at := now
	item.ChatAttemptAt = &at
	item.Version++
	return true
}

// ReleaseChatAttempt drops the lease taken at stamp after a failed creation so
// the next sweep can retry. Stores may keep only millisecond precision.
func ReleaseChatAttempt(item *model.ActionItem, stamp time.Time) bool {
	if item.ChatID != "" || item.ChatAttemptAt == nil ||
		!item.ChatAttemptAt.Truncate(time.Millisecond).Equal(stamp.Truncate(time.Millisecond)) {
		return false
	}
	item.ChatAttemptAt = nil
	item.Version++
	return true
}

// AttachChat stores the chat id on a formed item. Attaching the same id twice is a no-op.
func AttachChat(item *model.ActionItem, chatID string) (bool, error) {
	if item.Status != model.StatusFormed {
		return false, fmt.Errorf("action item %s is %s: %w", item.ID, item.Status, model.ErrPreconditionFailed)
	}
	switch item.ChatID {
	case chatID:
		return false, nil
	case "":
		item.ChatID = chatID
		item.ChatAttemptAt = nil
		item.Version++
		return true, nil
	default:
		return false, fmt.Errorf("action item %s already has chat %s: %w", item.ID, item.ChatID, model.ErrConflict)
	}
}

// MarkExhausted stamps ExhaustedAt once. It reports whether item changed.
func MarkExhausted(item *model.ActionItem, now time.Time) bool {
	if item.Status != model.StatusActive || item.ExhaustedAt != nil {
		return false
	}
	at := now
	item.ExhaustedAt = &at
	item.Version++
	return true
}

// DismissItem closes an active item and flips pending answers to declined.
// It reports whether item changed.
func DismissItem(item *model.ActionItem, now time.Time) bool {
	if item.Status != model.StatusActive {
		return false
	}
	at := now
	for i := range item.Confirmations {
		if item.Confirmations[i].Status == model.ResponsePending {
			item.Confirmations[i].Status = model.ResponseDeclined
			item.Confirmations[i].RespondedAt = &at
		}
	}
	item.Status = model.StatusDismissed
	item.DismissedAt = &at
	item.Version++
	return true
}
