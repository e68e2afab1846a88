package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should register its families there", func() {
				So(manager, ShouldNotBeNil)
				manager.assignmentsDeleted.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("presence"),
				WithHistogramBuckets([]float64{1, 5, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metric names carry the namespace and subsystem", func() {
				manager.broadcastsAccepted.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "test_presence_broadcasts_accepted_total")
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording assignment metrics", func() {
			before, err := CounterValue("pitchside_trackers_assignments_created_total")
			So(err, ShouldBeNil)
			RecordAssignmentCreated("individual")
			RecordAssignmentCreated("group")
			after, err := CounterValue("pitchside_trackers_assignments_created_total")
			So(err, ShouldBeNil)

			Convey("Then the counter family grows across labels", func() {
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When recording the remaining families", func() {
			So(func() {
				RecordAssignmentRejected("conflict")
				RecordAssignmentDeleted()
				RecordDuplicateSubmission()
				RecordNotificationDelivered()
				RecordNotificationFailed()
				RecordNotificationDropped()
				RecordBroadcastAccepted()
				RecordBroadcastRejected("stale")
				UpdateActiveMonitors(3)
				AddChannelSubscribers(1)
				AddChannelSubscribers(-1)
				RecordChannelEviction()
				RecordHTTPRequest("assignments", "POST", "201")
				RecordHTTPRequestDuration("assignments", "POST", "201", 4)
				RecordRepositoryLatency("create_assignments", 1.5)
				RecordRepositoryError("create_assignments")
				UpdateRepositoryRecords("assignments", 3)
				UpdateQueueSize(1)
				UpdateQueueCapacity(10)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0.2)
				UpdateWorkerCount(2)
				RecordWorkerProcessingLatency(3)
				RecordWorkerError()
				RecordErrorByComponent("worker", "sink_error")
				RecordErrorByType("sink_error", "medium")
				RecordErrorByEndpoint("assignments", "POST", "client_error")
				RecordErrorLatency("http", "client_error", 2)
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
		})

		Convey("When asking for an unknown counter", func() {
			v, err := CounterValue("does_not_exist")

			Convey("Then it reports zero without error", func() {
				So(err, ShouldBeNil)
				So(v, ShouldEqual, 0)
			})
		})

		Convey("Then the registry is exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
