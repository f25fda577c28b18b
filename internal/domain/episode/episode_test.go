package episode_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/rally/internal/domain/episode"
	"github.com/okian/rally/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newItem(members ...string) *model.ActionItem {
	return model.NewActionItem("ai-1", "venue-1", "carol", members, t0)
}

func TestEvaluate(t *testing.T) {
	Convey("Given a quorum of three with a five minute grace", t, func() {
		p := episode.Policy{Quorum: 3, Grace: 5 * time.Minute}

		Convey("When the item has just been created with enough members", func() {
			item := newItem("alice", "bob")
			So(p.Evaluate(item, t0), ShouldEqual, episode.Hold)
		})

		Convey("When two members confirmed", func() {
			item := newItem("alice", "bob")
			item.Confirmation("alice").Status = model.ResponseConfirmed
			item.Confirmation("bob").Status = model.ResponseConfirmed
			So(p.Evaluate(item, t0), ShouldEqual, episode.Form)
		})

		Convey("When the snapshot is smaller than quorum", func() {
			item := newItem("alice")
			So(p.Evaluate(item, t0), ShouldEqual, episode.Exhaust)
		})

		Convey("When quorum became unreachable and grace is running", func() {
			item := newItem("alice", "bob")
			item.Confirmation("bob").Status = model.ResponseDeclined
			So(p.Evaluate(item, t0), ShouldEqual, episode.Exhaust)

			episode.MarkExhausted(item, t0)
			So(p.Evaluate(item, t0.Add(4*time.Minute)), ShouldEqual, episode.Hold)
			So(p.Evaluate(item, t0.Add(5*time.Minute)), ShouldEqual, episode.Dismiss)
		})

		Convey("When the item is not active", func() {
			item := newItem("alice", "bob")
			item.Status = model.StatusFormed
			So(p.Evaluate(item, t0), ShouldEqual, episode.Hold)
			So(p.Evaluate(nil, t0), ShouldEqual, episode.Hold)
		})

		Convey("When nobody answers until the timeout", func() {
			p.Timeout = time.Hour
			item := newItem("alice", "bob")
			So(p.Evaluate(item, t0.Add(59*time.Minute)), ShouldEqual, episode.Hold)
			So(p.Evaluate(item, t0.Add(time.Hour)), ShouldEqual, episode.Dismiss)
		})

		Convey("When quorum is one", func() {
			p.Quorum = 1
			So(p.Evaluate(newItem(), t0), ShouldEqual, episode.Form)
		})
	})
}

func TestApplyResponse(t *testing.T) {
	Convey("Given an active item with two pending members", t, func() {
		item := newItem("alice", "bob")

		Convey("When a member confirms", func() {
			changed, err := episode.ApplyResponse(item, "alice", model.ResponseConfirmed, t0)

			Convey("Then the record and version change", func() {
				So(err, ShouldBeNil)
				So(changed, ShouldBeTrue)
				So(item.Confirmation("alice").Status, ShouldEqual, model.ResponseConfirmed)
				So(*item.Confirmation("alice").RespondedAt, ShouldEqual, t0)
				So(item.Version, ShouldEqual, 2)
			})

			Convey("Then repeating it is an idempotent success", func() {
				changed, err := episode.ApplyResponse(item, "alice", model.ResponseConfirmed, t0.Add(time.Second))
				So(err, ShouldBeNil)
				So(changed, ShouldBeFalse)
				So(item.Version, ShouldEqual, 2)
			})

			Convey("Then the opposite response conflicts", func() {
				_, err := episode.ApplyResponse(item, "alice", model.ResponseDeclined, t0)
				So(errors.Is(err, model.ErrConflict), ShouldBeTrue)
				So(item.Confirmation("alice").Status, ShouldEqual, model.ResponseConfirmed)
			})
		})

		Convey("When a non-member responds", func() {
			_, err := episode.ApplyResponse(item, "dave", model.ResponseConfirmed, t0)
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("When the initiator responds", func() {
			changed, err := episode.ApplyResponse(item, "carol", model.ResponseConfirmed, t0)
			So(err, ShouldBeNil)
			So(changed, ShouldBeFalse)

			_, err = episode.ApplyResponse(item, "carol", model.ResponseDeclined, t0)
			So(errors.Is(err, model.ErrConflict), ShouldBeTrue)
		})

		Convey("When the response value is not terminal", func() {
			_, err := episode.ApplyResponse(item, "alice", model.ResponsePending, t0)
			So(err, ShouldNotBeNil)
		})

		Convey("When the item is formed", func() {
			So(episode.MarkFormed(item, t0), ShouldBeNil)
			changed, err := episode.ApplyResponse(item, "bob", model.ResponseDeclined, t0)

			Convey("Then late answers are still recorded", func() {
				So(err, ShouldBeNil)
				So(changed, ShouldBeTrue)
				So(item.Status, ShouldEqual, model.StatusFormed)
			})
		})

		Convey("When the item is dismissed", func() {
			So(episode.DismissItem(item, t0), ShouldBeTrue)

			Convey("Then a former pending member gets precondition failed", func() {
				_, err := episode.ApplyResponse(item, "alice", model.ResponseConfirmed, t0)
				So(errors.Is(err, model.ErrPreconditionFailed), ShouldBeTrue)
			})

			Convey("Then repeating the decline is fine", func() {
				changed, err := episode.ApplyResponse(item, "alice", model.ResponseDeclined, t0)
				So(err, ShouldBeNil)
				So(changed, ShouldBeFalse)
			})
		})
	})
}

func TestTransitions(t *testing.T) {
	Convey("Given an active item", t, func() {
		item := newItem("alice", "bob")

		Convey("When it is formed twice", func() {
			first := episode.MarkFormed(item, t0)
			second := episode.MarkFormed(item, t0)

			Convey("Then only the first wins", func() {
				So(first, ShouldBeNil)
				So(errors.Is(second, model.ErrConflict), ShouldBeTrue)
				So(*item.FormedAt, ShouldEqual, t0)
			})

			Convey("Then a chat can be attached once", func() {
				changed, err := episode.AttachChat(item, "chat-1")
				So(err, ShouldBeNil)
				So(changed, ShouldBeTrue)

				changed, err = episode.AttachChat(item, "chat-1")
				So(err, ShouldBeNil)
				So(changed, ShouldBeFalse)

				_, err = episode.AttachChat(item, "chat-2")
				So(errors.Is(err, model.ErrConflict), ShouldBeTrue)
			})
		})

		Convey("When attaching a chat before formation", func() {
			_, err := episode.AttachChat(item, "chat-1")
			So(errors.Is(err, model.ErrPreconditionFailed), ShouldBeTrue)
		})

		Convey("When exhausted twice", func() {
			So(episode.MarkExhausted(item, t0), ShouldBeTrue)
			So(episode.MarkExhausted(item, t0.Add(time.Minute)), ShouldBeFalse)
			So(*item.ExhaustedAt, ShouldEqual, t0)
		})

		Convey("When dismissed", func() {
			item.Confirmation("alice").Status = model.ResponseConfirmed
			So(episode.DismissItem(item, t0), ShouldBeTrue)

			Convey("Then pending answers become declined and confirmed ones stay", func() {
				So(item.Status, ShouldEqual, model.StatusDismissed)
				So(item.Confirmation("alice").Status, ShouldEqual, model.ResponseConfirmed)
				So(item.Confirmation("bob").Status, ShouldEqual, model.ResponseDeclined)
				So(episode.DismissItem(item, t0), ShouldBeFalse)
			})
		})

		Convey("Then decisions have names", func() {
			So(episode.Form.String(), ShouldEqual, "form")
			So(episode.Hold.String(), ShouldEqual, "hold")
			So(episode.Exhaust.String(), ShouldEqual, "exhaust")
			So(episode.Dismiss.String(), ShouldEqual, "dismiss")
		})
	})
}

func TestChatLease(t *testing.T) {
	Convey("Given an item formed at t0", t, func() {
		item := newItem("alice", "bob")
		So(episode.MarkFormed(item, t0), ShouldBeNil)
		So(*item.ChatAttemptAt, ShouldEqual, t0)

		Convey("When the sweeper looks before the lease ran out", func() {
			So(episode.ClaimChatAttempt(item, t0.Add(30*time.Second), time.Minute), ShouldBeFalse)
			So(*item.ChatAttemptAt, ShouldEqual, t0)
		})

		Convey("When the lease ran out", func() {
			later := t0.Add(time.Minute)
			So(episode.ClaimChatAttempt(item, later, time.Minute), ShouldBeTrue)

			Convey("Then the new holder owns it until it lapses again", func() {
				So(*item.ChatAttemptAt, ShouldEqual, later)
				So(episode.ClaimChatAttempt(item, later.Add(time.Second), time.Minute), ShouldBeFalse)
			})

			Convey("Then only the current holder can release it", func() {
				So(episode.ReleaseChatAttempt(item, t0), ShouldBeFalse)
				So(episode.ReleaseChatAttempt(item, later.Add(300*time.Microsecond)), ShouldBeTrue)
				So(item.ChatAttemptAt, ShouldBeNil)
				So(episode.ClaimChatAttempt(item, later, time.Minute), ShouldBeTrue)
			})
		})

		Convey("When the chat is attached", func() {
			_, err := episode.AttachChat(item, "chat-1")
			So(err, ShouldBeNil)

			Convey("Then there is nothing left to lease", func() {
				So(item.ChatAttemptAt, ShouldBeNil)
				So(episode.ClaimChatAttempt(item, t0.Add(time.Hour), time.Minute), ShouldBeFalse)
				So(episode.ReleaseChatAttempt(item, t0), ShouldBeFalse)
			})
		})
	})

	Convey("Given an item that is still collecting answers", t, func() {
		item := newItem("alice")
		So(episode.ClaimChatAttempt(item, t0, time.Minute), ShouldBeFalse)
	})
}
