package model_test

import (
	"testing"
	"time"

	"github.com/okian/rally/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNewActionItem(t *testing.T) {
	Convey("Given an initiator and the interested members", t, func() {
		now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
		item := model.NewActionItem("ai-1", "venue-1", "carol", []string{"alice", "bob", "carol", "alice"}, now)

		Convey("Then the snapshot holds every member once with the initiator first", func() {
			So(item.Snapshot, ShouldResemble, []string{"carol", "alice", "bob"})
			So(item.Status, ShouldEqual, model.StatusActive)
			So(item.Version, ShouldEqual, 1)
			So(item.CreatedAt, ShouldEqual, now)
		})

		Convey("Then only non-initiators get pending confirmations", func() {
			So(item.Confirmations, ShouldHaveLength, 2)
			So(item.Confirmation("carol"), ShouldBeNil)
			So(item.Confirmation("alice").Status, ShouldEqual, model.ResponsePending)
			So(item.PendingMembers(), ShouldResemble, []string{"alice", "bob"})
		})

		Convey("Then the initiator counts as confirmed", func() {
			So(item.ConfirmedCount(), ShouldEqual, 1)
			So(item.MaxAchievable(), ShouldEqual, 3)
			So(item.ConfirmedMembers(), ShouldResemble, []string{"carol"})
		})

		Convey("When a member confirms and another declines", func() {
			item.Confirmation("alice").Status = model.ResponseConfirmed
			item.Confirmation("bob").Status = model.ResponseDeclined

			Convey("Then the counts follow", func() {
				So(item.ConfirmedCount(), ShouldEqual, 2)
				So(item.PendingCount(), ShouldEqual, 0)
				So(item.MaxAchievable(), ShouldEqual, 2)
				So(item.ConfirmedMembers(), ShouldResemble, []string{"carol", "alice"})
			})
		})

		Convey("Then membership is checked against the snapshot", func() {
			So(item.IsMember("carol"), ShouldBeTrue)
			So(item.IsMember("dave"), ShouldBeFalse)
		})
	})
}

func TestActionItemClone(t *testing.T) {
	Convey("Given an action item", t, func() {
		item := model.NewActionItem("ai-2", "venue-2", "a", []string{"b"}, time.Now())

		Convey("When it is cloned and the clone is mutated", func() {
			cp := item.Clone()
			cp.Confirmations[0].Status = model.ResponseDeclined
			cp.Snapshot[0] = "z"

			Convey("Then the original is untouched", func() {
				So(item.Confirmations[0].Status, ShouldEqual, model.ResponsePending)
				So(item.Snapshot[0], ShouldEqual, "a")
			})
		})

		Convey("Then cloning nil is nil", func() {
			var nilItem *model.ActionItem
			So(nilItem.Clone(), ShouldBeNil)
		})
	})
}

func TestToSnapshot(t *testing.T) {
	Convey("Given an action item with a chat id", t, func() {
		item := model.NewActionItem("ai-3", "venue-3", "a", []string{"b", "c"}, time.Now())
		item.ChatID = "chat-1"

		Convey("When it is still active", func() {
			s := item.ToSnapshot()

			Convey("Then the chat id is hidden", func() {
				So(s.ChatID, ShouldBeEmpty)
				So(s.Initiator, ShouldEqual, "a")
				So(s.Confirmations, ShouldHaveLength, 2)
			})
		})

		Convey("When it is formed", func() {
			item.Status = model.StatusFormed
			s := item.ToSnapshot()

			Convey("Then the chat id is exposed", func() {
				So(s.ChatID, ShouldEqual, "chat-1")
				So(s.Status.Terminal(), ShouldBeTrue)
			})
		})
	})
}

func TestScoreBreakdownTotal(t *testing.T) {
	Convey("Given a breakdown", t, func() {
		b := model.ScoreBreakdown{Popularity: 1.5, CategoryMatch: 2.5, FriendSignal: 0, Proximity: 1}
		So(b.Total(), ShouldAlmostEqual, 5.0)
	})
}
