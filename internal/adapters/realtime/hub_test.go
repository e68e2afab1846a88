package realtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/pitchside/internal/adapters/realtime"
	"github.com/okian/pitchside/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func receive(sub *realtime.Subscription) (realtime.Message, bool) {
	select {
	case m, ok := <-sub.Messages():
		return m, ok
	case <-time.After(time.Second):
		return realtime.Message{}, false
	}
}

func TestHub(t *testing.T) {
	ctx := context.Background()

	Convey("Given a hub with two subscribers on one topic", t, func() {
		hub := realtime.NewHub(realtime.WithBufferSize(2), realtime.WithLogger(logger.Nop()))
		a, err := hub.Subscribe(ctx, "tracker_status:M")
		So(err, ShouldBeNil)
		b, err := hub.Subscribe(ctx, "tracker_status:M")
		So(err, ShouldBeNil)
		So(hub.Subscribers("tracker_status:M"), ShouldEqual, 2)
		So(a.Status(), ShouldEqual, realtime.StatusSubscribed)

		Convey("When a message is published by a", func() {
			n, err := hub.Publish(ctx, "tracker_status:M", []byte(`{"x":1}`), a.ID())

			Convey("Then only b receives it", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
				m, ok := receive(b)
				So(ok, ShouldBeTrue)
				So(string(m.Payload), ShouldEqual, `{"x":1}`)
				So(m.From, ShouldEqual, a.ID())
				So(len(a.Messages()), ShouldEqual, 0)
			})
		})

		Convey("When a message is published on another topic", func() {
			n, _ := hub.Publish(ctx, "tracker_status:N", []byte(`{}`), "")
			So(n, ShouldEqual, 0)
			So(len(a.Messages()), ShouldEqual, 0)
		})

		Convey("When b stops reading and the buffer overflows", func() {
			for i := 0; i < 3; i++ {
				_, err := hub.Publish(ctx, "tracker_status:M", []byte(`{}`), "")
				So(err, ShouldBeNil)
			}

			Convey("Then both slow subscribers are evicted with CHANNEL_ERROR", func() {
				So(b.Status(), ShouldEqual, realtime.StatusChannelError)
				So(a.Status(), ShouldEqual, realtime.StatusChannelError)
				So(hub.Subscribers("tracker_status:M"), ShouldEqual, 0)

				drained := 0
				for range b.Messages() {
					drained++
				}
				So(drained, ShouldEqual, 2)
			})
		})

		Convey("When a unsubscribes", func() {
			hub.Unsubscribe(a)

			Convey("Then it is CLOSED and b stays subscribed", func() {
				So(a.Status(), ShouldEqual, realtime.StatusClosed)
				_, ok := <-a.Messages()
				So(ok, ShouldBeFalse)
				So(b.Status(), ShouldEqual, realtime.StatusSubscribed)
				So(hub.Subscribers("tracker_status:M"), ShouldEqual, 1)
				hub.Unsubscribe(a)
			})
		})

		Convey("When the hub is closed", func() {
			hub.Close()

			Convey("Then every subscription is CLOSED and the hub refuses work", func() {
				So(a.Status(), ShouldEqual, realtime.StatusClosed)
				So(b.Status(), ShouldEqual, realtime.StatusClosed)
				So(hub.Topics(), ShouldEqual, 0)

				_, err := hub.Publish(ctx, "tracker_status:M", []byte(`{}`), "")
				So(errors.Is(err, realtime.ErrHubClosed), ShouldBeTrue)

				sub, err := hub.Subscribe(ctx, "tracker_status:M")
				So(errors.Is(err, realtime.ErrHubClosed), ShouldBeTrue)
				So(sub.Status(), ShouldEqual, realtime.StatusClosed)
			})
		})
	})

	Convey("Given an expired context", t, func() {
		hub := realtime.NewHub(realtime.WithLogger(logger.Nop()))
		expired, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("Then subscribing yields TIMED_OUT", func() {
			sub, err := hub.Subscribe(expired, "tracker_status:M")
			So(errors.Is(err, realtime.ErrTimedOut), ShouldBeTrue)
			So(sub.Status(), ShouldEqual, realtime.StatusTimedOut)
			So(hub.Subscribers("tracker_status:M"), ShouldEqual, 0)
		})
	})

	Convey("Given an empty topic", t, func() {
		hub := realtime.NewHub(realtime.WithLogger(logger.Nop()))
		_, err := hub.Subscribe(ctx, "")
		So(errors.Is(err, realtime.ErrNoTopic), ShouldBeTrue)
	})
}
