package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/rally/internal/adapters/chat"
	"github.com/okian/rally/internal/config"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When configuration comes from the environment", func() {
			t.Setenv("RALLY_ADDR", ":8080")
			t.Setenv("RALLY_QUEUE_SIZE", "1000")
			t.Setenv("RALLY_WORKER_COUNT", "4")
			t.Setenv("RALLY_STORE_DRIVER", "sqlite")

			convey.Convey("Then it should be loadable", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreSQLite)
			})
		})

		convey.Convey("When the store driver is unknown", func() {
			cfg := config.New()
			cfg.StoreDriver = "etcd"
			_, err := openStore(context.Background(), cfg)

			convey.Convey("Then opening the store fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When choosing the chat collaborator", func() {
			cfg := config.New()

			convey.Convey("Then no webhook means local chats", func() {
				_, ok := newChatCreator(cfg).(*chat.LocalCreator)
				convey.So(ok, convey.ShouldBeTrue)
			})

			convey.Convey("Then a webhook URL selects the webhook creator", func() {
				cfg.ChatWebhookURL = "http://chat.invalid/chats"
				_, ok := newChatCreator(cfg).(*chat.WebhookCreator)
				convey.So(ok, convey.ShouldBeTrue)
			})
		})
	})
}

func TestMainApplicationIntegration(t *testing.T) {
	convey.Convey("Given a sqlite-backed server", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.StoreDriver = config.StoreSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "rally.db")

		store, err := openStore(ctx, cfg)
		convey.So(err, convey.ShouldBeNil)
		defer store.Close()

		svc := newService(cfg, store)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop(ctx)

		srv := httptest.NewServer(newRouter(ctx, cfg, svc))
		defer srv.Close()

		get := func(path string) (int, string) {
			resp, err := http.Get(srv.URL + path)
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			convey.So(err, convey.ShouldBeNil)
			return resp.StatusCode, string(body)
		}

		convey.Convey("Then the API and its documentation are mounted", func() {
			code, body := get("/healthz")
			convey.So(code, convey.ShouldEqual, http.StatusOK)
			convey.So(body, convey.ShouldContainSubstring, "rally_")

			code, body = get("/openapi.yaml")
			convey.So(code, convey.ShouldEqual, http.StatusOK)
			convey.So(body, convey.ShouldContainSubstring, "openapi:")

			code, _ = get("/api-docs")
			convey.So(code, convey.ShouldEqual, http.StatusOK)

			code, _ = get("/venues/none")
			convey.So(code, convey.ShouldEqual, http.StatusNotFound)
		})

		convey.Convey("Then the configured thresholds drive the engine", func() {
			convey.So(svc.UpsertVenue(ctx, model.Venue{ID: "v1", Name: "Hall", Category: "music"}), convey.ShouldBeNil)
			var triggered bool
			for _, u := range []string{"a", "b", "c"} {
				res, err := svc.ToggleInterest(ctx, u, "v1")
				convey.So(err, convey.ShouldBeNil)
				triggered = triggered || res.ActionItemTriggered
			}
			convey.So(triggered, convey.ShouldBeTrue)
		})
	})
}

func TestRunShutsDownOnCancel(t *testing.T) {
	convey.Convey("Given run with a cancelled context", t, func() {
		cfg := config.New()
		cfg.Addr = "127.0.0.1:0"

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- run(ctx, cfg) }()
		time.Sleep(50 * time.Millisecond)
		cancel()

		convey.Convey("Then it returns cleanly", func() {
			select {
			case err := <-done:
				convey.So(err, convey.ShouldBeNil)
			case <-time.After(5 * time.Second):
				convey.So("run did not return", convey.ShouldBeEmpty)
			}
		})
	})
}

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given the metrics updaters", t, func() {
		convey.Convey("Then a system metrics update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("Then the updaters stop with their context", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			done := make(chan struct{})
			go func() {
				startSystemMetricsUpdater(ctx)
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("system metrics updater did not stop")
			}
		})
	})
}
