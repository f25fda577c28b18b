package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/rally/internal/domain/episode"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

// maxSettleSteps bounds the transitions applied in one atomic step
// (exhaust then dismiss is the longest chain).
const maxSettleSteps = 3

// transitions records what one atomic step changed.
type transitions struct {
	formed    bool
	exhausted bool
	dismissed bool
}

func (t transitions) any() bool { return t.formed || t.exhausted || t.dismissed }

// advance applies every transition the policy asks for at now.
func (s *Service) advance(item *model.ActionItem, now time.Time) transitions {
	var t transitions
	for i := 0; i < maxSettleSteps; i++ {
		switch s.policy.Evaluate(item, now) {
		case episode.Form:
			if episode.MarkFormed(item, now) == nil {
				t.formed = true
			}
		case episode.Exhaust:
			if episode.MarkExhausted(item, now) {
				t.exhausted = true
			}
		case episode.Dismiss:
			if episode.DismissItem(item, now) {
				t.dismissed = true
			}
		default:
			return t
		}
	}
	return t
}

// Confirm records userID's confirmation and forms the group once quorum is reached.
func (s *Service) Confirm(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error) {
	return s.respond(ctx, actionItemID, userID, model.ResponseConfirmed)
}

// Decline records userID's decline. It never ends the item by itself; the
// policy decides once quorum becomes unreachable.
func (s *Service) Decline(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error) {
	return s.respond(ctx, actionItemID, userID, model.ResponseDeclined)
}

func (s *Service) respond(ctx context.Context, actionItemID, userID string, resp model.ResponseStatus) (model.ConfirmationSnapshot, error) {
	if err := requireIDs(actionItemID, userID); err != nil {
		return model.ConfirmationSnapshot{}, err
	}

	var (
		t         transitions
		recorded  bool
		rejection error
	)
	item, err := s.store.UpdateActionItem(ctx, actionItemID, func(it *model.ActionItem) (bool, error) {
		t, recorded, rejection = transitions{}, false, nil
		now := s.now()

		// An elapsed grace period is applied before the answer so a late
		// response meets the dismissed item.
		pre := transitions{}
		if d := s.policy.Evaluate(it, now); d == episode.Dismiss || d == episode.Exhaust {
			pre = s.advance(it, now)
		}

		changed, err := episode.ApplyResponse(it, userID, resp, now)
		if err != nil {
			if !pre.any() {
				return false, err
			}
			t, rejection = pre, err
			return true, nil
		}
		recorded = changed

		post := s.advance(it, now)
		t = transitions{
			formed:    pre.formed || post.formed,
			exhausted: pre.exhausted || post.exhausted,
			dismissed: pre.dismissed || post.dismissed,
		}
		return changed || t.any(), nil
	})
	if err != nil {
		return model.ConfirmationSnapshot{}, err
	}

	if recorded {
		metrics.RecordConfirmation(string(resp))
		s.logger.Debug(ctx, "response recorded",
			logger.String("action_item", actionItemID),
			logger.String("user", userID),
			logger.String("response", string(resp)),
		)
	}
	item = s.afterTransitions(ctx, item, t)
	if rejection != nil {
		return model.ConfirmationSnapshot{}, rejection
	}
	return s.snapshot(ctx, item), nil
}

// settle applies due transitions to the item in one atomic step.
func (s *Service) settle(ctx context.Context, actionItemID string) (*model.ActionItem, error) {
	var t transitions
	item, err := s.store.UpdateActionItem(ctx, actionItemID, func(it *model.ActionItem) (bool, error) {
		t = s.advance(it, s.now())
		return t.any(), nil
	})
	if err != nil {
		return nil, err
	}
	return s.afterTransitions(ctx, item, t), nil
}

// afterTransitions runs the side effects of a committed step. Only the step
// that moved the item to formed reaches the chat creator.
func (s *Service) afterTransitions(ctx context.Context, item *model.ActionItem, t transitions) *model.ActionItem {
	if t.exhausted {
		metrics.RecordActionItemTransition("exhausted")
		s.logger.Info(ctx, "quorum unreachable, grace period started",
			logger.String("action_item", item.ID),
			logger.Duration("grace", s.policy.Grace),
		)
	}
	if t.dismissed {
		metrics.RecordActionItemTransition(string(model.StatusDismissed))
		s.logger.Info(ctx, "action item dismissed", logger.String("action_item", item.ID))
		s.notify(ctx, model.NotifyDismissed, item, item.Snapshot)
	}
	if t.formed {
		metrics.RecordActionItemTransition(string(model.StatusFormed))
		s.logger.Info(ctx, "group formed",
			logger.String("action_item", item.ID),
			logger.Int("confirmed", item.ConfirmedCount()),
		)
		item = s.formGroup(ctx, item)
	}
	return item
}

// formGroup creates the chat for a formed item and attaches its ID. The caller
// holds the chat lease stamped on item. A failure releases the lease and
// leaves the item formed without a chat for the sweeper to retry.
func (s *Service) formGroup(ctx context.Context, item *model.ActionItem) *model.ActionItem {
	chatID, err := s.chat.CreateChat(ctx, item.ID, item.ConfirmedMembers())
	if err != nil {
		metrics.RecordErrorByComponent("engine", "create_chat")
		s.logger.Error(ctx, "chat creation failed",
			logger.String("action_item", item.ID),
			logger.Error(err),
		)
		if item.ChatAttemptAt != nil {
			stamp := *item.ChatAttemptAt
			released, rerr := s.store.UpdateActionItem(ctx, item.ID, func(it *model.ActionItem) (bool, error) {
				return episode.ReleaseChatAttempt(it, stamp), nil
			})
			if rerr != nil {
				s.logger.Warn(ctx, "releasing chat lease failed",
					logger.String("action_item", item.ID),
					logger.Error(rerr),
				)
				return item
			}
			return released
		}
		return item
	}

	var attached bool
	updated, err := s.store.UpdateActionItem(ctx, item.ID, func(it *model.ActionItem) (bool, error) {
		changed, err := episode.AttachChat(it, chatID)
		attached = changed
		return changed, err
	})
	if err != nil {
		metrics.RecordErrorByComponent("engine", "attach_chat")
		s.logger.Error(ctx, "attaching chat failed",
			logger.String("action_item", item.ID),
			logger.String("chat", chatID),
			logger.Error(err),
		)
		return item
	}
	if attached {
		s.notify(ctx, model.NotifyGroupFormed, updated, updated.Snapshot)
	}
	return updated
}

// retryChat takes the chat lease of a formed item in its own atomic step and,
// when it wins, creates the chat. Items whose creation is still in flight keep
// their lease.
func (s *Service) retryChat(ctx context.Context, actionItemID string) error {
	var claimed bool
	item, err := s.store.UpdateActionItem(ctx, actionItemID, func(it *model.ActionItem) (bool, error) {
		claimed = episode.ClaimChatAttempt(it, s.now(), s.chatLease)
		return claimed, nil
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	s.logger.Info(ctx, "retrying chat creation", logger.String("action_item", actionItemID))
	s.formGroup(ctx, item)
	return nil
}

// GetStatus returns the current snapshot, applying any transition that came due.
func (s *Service) GetStatus(ctx context.Context, actionItemID string) (model.ConfirmationSnapshot, error) {
	if err := requireIDs(actionItemID); err != nil {
		return model.ConfirmationSnapshot{}, err
	}
	item, err := s.current(ctx, actionItemID)
	if err != nil {
		return model.ConfirmationSnapshot{}, err
	}
	return s.snapshot(ctx, item), nil
}

// InitiateActionItem returns the snapshot for a member. When the initiator
// calls it on an active item the pending members are notified again; the
// fan-out happens once per item.
func (s *Service) InitiateActionItem(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error) {
	if err := requireIDs(actionItemID, userID); err != nil {
		return model.ConfirmationSnapshot{}, err
	}
	item, err := s.current(ctx, actionItemID)
	if err != nil {
		return model.ConfirmationSnapshot{}, err
	}
	if !item.IsMember(userID) {
		return model.ConfirmationSnapshot{}, fmt.Errorf("user %s on action item %s: %w", userID, actionItemID, model.ErrNotFound)
	}
	if userID == item.InitiatorID && item.Status == model.StatusActive &&
		!s.deduper.SeenAndRecord(ctx, "initiate:"+item.ID) {
		s.notify(ctx, model.NotifyActionItemCreated, item, item.PendingMembers())
	}
	return s.snapshot(ctx, item), nil
}

// current loads an item and settles it if a transition is due.
func (s *Service) current(ctx context.Context, actionItemID string) (*model.ActionItem, error) {
	item, err := s.store.GetActionItem(ctx, actionItemID)
	if err != nil {
		return nil, err
	}
	if s.policy.Evaluate(item, s.now()) == episode.Hold {
		return item, nil
	}
	settled, err := s.settle(ctx, actionItemID)
	if err != nil {
		if errors.Is(err, model.ErrUnavailable) {
			s.logger.Warn(ctx, "lazy settle failed", logger.String("action_item", actionItemID), logger.Error(err))
			return item, nil
		}
		return nil, err
	}
	return settled, nil
}
