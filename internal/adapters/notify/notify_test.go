package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type failing struct{}

func (failing) Notify(context.Context, model.Notification) error { return errors.New("push down") }

func TestNotifiers(t *testing.T) {
	Convey("Given a formed group notification", t, func() {
		ctx := context.Background()
		n := model.Notification{
			ID:           "n-1",
			Kind:         model.NotifyGroupFormed,
			ActionItemID: "ai-1",
			VenueID:      "v-1",
			Recipients:   []string{"ann", "ben"},
			ChatID:       "chat-1",
		}

		Convey("When the log notifier delivers it", func() {
			var buf bytes.Buffer
			So(logger.Init(logger.WithWriter(&buf)), ShouldBeNil)
			err := NewLogNotifier(nil).Notify(ctx, n)

			Convey("Then the log line names kind, recipients and chat", func() {
				So(err, ShouldBeNil)
				So(buf.String(), ShouldContainSubstring, "kind=group_formed")
				So(buf.String(), ShouldContainSubstring, "recipients=ann,ben")
				So(buf.String(), ShouldContainSubstring, "chat=chat-1")
			})
		})

		Convey("When nobody is addressed", func() {
			n.Recipients = nil
			rec := &Recorder{}
			So(errors.Is(rec.Notify(ctx, n), ErrNoRecipients), ShouldBeTrue)
			So(rec.Sent(), ShouldBeEmpty)
		})

		Convey("When a fan-out contains a failing notifier", func() {
			rec := &Recorder{}
			err := Fanout{failing{}, rec}.Notify(ctx, n)

			Convey("Then the healthy notifier still receives it", func() {
				So(err, ShouldNotBeNil)
				So(rec.Sent(), ShouldHaveLength, 1)
				So(rec.Sent()[0].ChatID, ShouldEqual, "chat-1")
			})
		})
	})
}
