package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLocalCreator(t *testing.T) {
	Convey("Given a local creator", t, func() {
		ctx := context.Background()
		c := NewLocalCreator()

		Convey("When the same action item asks twice", func() {
			first, err1 := c.CreateChat(ctx, "ai-1", []string{"ann", "ben", "cat"})
			second, err2 := c.CreateChat(ctx, "ai-1", []string{"ann"})

			Convey("Then one chat exists with the original members", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first, ShouldEqual, second)
				So(c.Created(), ShouldEqual, 1)
				So(c.Calls(), ShouldEqual, 2)
				members, ok := c.Members("ai-1")
				So(ok, ShouldBeTrue)
				So(members, ShouldResemble, []string{"ann", "ben", "cat"})
			})

			Convey("Then the ID is a version 5 UUID", func() {
				parsed, err := uuid.Parse(first)
				So(err, ShouldBeNil)
				So(parsed.Version(), ShouldEqual, uuid.Version(5))
			})
		})

		Convey("When different action items ask", func() {
			a, _ := c.CreateChat(ctx, "ai-1", []string{"ann"})
			b, _ := c.CreateChat(ctx, "ai-2", []string{"ann"})
			So(a, ShouldNotEqual, b)
		})

		Convey("When no members are given", func() {
			_, err := c.CreateChat(ctx, "ai-1", nil)
			So(errors.Is(err, ErrNoMembers), ShouldBeTrue)
		})
	})
}

func TestWebhookCreator(t *testing.T) {
	_ = logger.Init()

	Convey("Given a chat service", t, func() {
		ctx := context.Background()
		var hits atomic.Int32
		var status atomic.Int32
		status.Store(http.StatusOK)
		var gotKey atomic.Value

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			gotKey.Store(r.Header.Get("Idempotency-Key"))
			var req createRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			code := int(status.Load())
			w.WriteHeader(code)
			if code == http.StatusOK {
				_ = json.NewEncoder(w).Encode(createResponse{ChatID: "remote-" + req.ActionItemID})
			}
		}))
		defer srv.Close()

		c := NewWebhookCreator(srv.URL, WithTimeout(defaultWebhookTimeout))

		Convey("When the service accepts", func() {
			id, err := c.CreateChat(ctx, "ai-9", []string{"ann", "ben"})

			Convey("Then the remote ID is returned and the key is the action item", func() {
				So(err, ShouldBeNil)
				So(id, ShouldEqual, "remote-ai-9")
				So(gotKey.Load(), ShouldEqual, "ai-9")
			})
		})

		Convey("When the service fails with 5xx", func() {
			status.Store(http.StatusBadGateway)
			_, err := c.CreateChat(ctx, "ai-9", []string{"ann"})

			Convey("Then the error is unavailable", func() {
				So(errors.Is(err, model.ErrUnavailable), ShouldBeTrue)
			})
		})

		Convey("When the service keeps failing", func() {
			status.Store(http.StatusServiceUnavailable)
			for i := 0; i < 5; i++ {
				_, _ = c.CreateChat(ctx, "ai-9", []string{"ann"})
			}
			before := hits.Load()
			_, err := c.CreateChat(ctx, "ai-9", []string{"ann"})

			Convey("Then the breaker opens without calling the service", func() {
				So(errors.Is(err, model.ErrUnavailable), ShouldBeTrue)
				So(hits.Load(), ShouldEqual, before)
			})
		})

		Convey("When the service rejects the request", func() {
			status.Store(http.StatusBadRequest)
			_, err := c.CreateChat(ctx, "ai-9", []string{"ann"})
			So(errors.Is(err, ErrBadResponse), ShouldBeTrue)
		})
	})
}
