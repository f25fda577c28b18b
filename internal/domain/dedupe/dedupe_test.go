package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dedupe "github.com/okian/rally/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When recording keys", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("Then a new key is not seen", func() {
				So(d.SeenAndRecord(ctx, "toggle-1"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("Then a repeated key is seen", func() {
				d.SeenAndRecord(ctx, "toggle-1")
				So(d.SeenAndRecord(ctx, "toggle-1"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("Then an unrecorded key can be recorded again", func() {
				d.SeenAndRecord(ctx, "toggle-1")
				d.Unrecord(ctx, "toggle-1")
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "toggle-1"), ShouldBeFalse)
			})

			Convey("Then unrecording an unknown key is a no-op", func() {
				d.Unrecord(ctx, "missing")
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When the deduper is bounded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := 0; i < 5; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("k-%d", i))
			}

			Convey("Then the oldest keys are evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "k-4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "k-0"), ShouldBeFalse)
			})
		})

		Convey("When the deduper is unbounded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			for i := 0; i < 1000; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("k-%d", i))
			}
			So(d.Size(), ShouldEqual, 1000)
		})

		Convey("When keys have a ttl", func() {
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			d := dedupe.NewInMemoryDeduper(
				dedupe.WithTTL(time.Minute),
				dedupe.WithClock(func() time.Time { return now }),
			)
			d.SeenAndRecord(ctx, "k")

			Convey("Then the key is seen inside the window", func() {
				now = now.Add(30 * time.Second)
				So(d.SeenAndRecord(ctx, "k"), ShouldBeTrue)
			})

			Convey("Then the key expires after the window", func() {
				now = now.Add(2 * time.Minute)
				So(d.SeenAndRecord(ctx, "k"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When many goroutines race on one key", func() {
			d := dedupe.NewInMemoryDeduper()
			var fresh atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 64; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if !d.SeenAndRecord(ctx, "same") {
						fresh.Add(1)
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one records it", func() {
				So(fresh.Load(), ShouldEqual, 1)
			})
		})
	})
}
