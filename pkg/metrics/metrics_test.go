package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics are registered under the namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.actionItemsCreated.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_unit_action_items_created_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When empty options are passed", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithNamespace(""), WithSubsystem(""), WithHistogramBuckets(nil), WithPrometheusRegistry(registry))

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "rally")
				So(manager.subsystem, ShouldEqual, "coordination")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording coordination metrics", func() {
			before := testutil.ToFloat64(globalManager.actionItemsCreated)
			RecordActionItemCreated()
			RecordEpisodeClaimConflict()
			RecordInterestToggle(true)
			RecordInterestToggle(false)
			RecordActionItemTransition("formed")
			RecordConfirmation("confirmed")
			UpdateActiveActionItems(4)
			RecordIdempotentReplay()

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(globalManager.actionItemsCreated), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.activeActionItems), ShouldEqual, 4)
				So(testutil.ToFloat64(globalManager.interestToggles.WithLabelValues("on")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When recording operational metrics", func() {
			So(func() {
				RecordChatCreation("ok", 12)
				RecordRecommendationsServed(0.4)
				RecordSweep(3)
				RecordStatusPoll("ok")
				UpdateQueueSize(10)
				UpdateQueueCapacity(100)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerCount(2)
				RecordWorkerProcessingLatency(1)
				RecordWorkerError()
				RecordNotificationSent("action_item_created")
				RecordHTTPRequest("/healthz", "GET", "200")
				RecordHTTPRequestDuration("/healthz", "GET", "200", 0.2)
				RecordErrorByComponent("store", "unavailable")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(7)
			}, ShouldNotPanic)

			Convey("Then the registry exposes them", func() {
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				joined := strings.Join(names, ",")
				So(joined, ShouldContainSubstring, "rally_coordination_queue_size")
				So(joined, ShouldContainSubstring, "rally_coordination_http_requests_total")
			})
		})
	})
}
