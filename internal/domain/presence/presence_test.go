package presence_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/internal/domain/presence"
	"github.com/okian/pitchside/pkg/logger"
)

func init() {
	_ = logger.Init()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMonitor() (*presence.Monitor, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := presence.NewMonitor("mon-1", "M", presence.WithClock(clock.Now), presence.WithLogger(logger.Nop()))
	m.Seed([]model.TrackerUser{
		{ID: "T1", Email: "t1@example.com"},
		{ID: "T2", Email: "t2@example.com"},
	})
	return m, clock
}

func TestDecodeBroadcast(t *testing.T) {
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	Convey("Given raw channel payloads", t, func() {
		Convey("A full RFC 3339 message decodes", func() {
			b, err := presence.DecodeBroadcast([]byte(`{"type":"tracker_status","user_id":"T1","status":"recording","timestamp":"2026-03-01T11:59:59Z","action":"pass","battery_level":73,"network_quality":"good","seq":4}`), received)
			So(err, ShouldBeNil)
			So(b.UserID, ShouldEqual, "T1")
			So(b.Status, ShouldEqual, model.StatusRecording)
			So(b.Timestamp.Equal(received.Add(-time.Second)), ShouldBeTrue)
			So(b.Action, ShouldEqual, "pass")
			So(*b.BatteryLevel, ShouldEqual, 73)
			So(b.NetworkQuality, ShouldEqual, model.NetworkGood)
			So(*b.Seq, ShouldEqual, int64(4))
		})

		Convey("Epoch milliseconds are accepted", func() {
			raw := fmt.Sprintf(`{"type":"tracker_status","user_id":"T1","status":"active","timestamp":%d}`, received.UnixMilli())
			b, err := presence.DecodeBroadcast([]byte(raw), time.Time{})
			So(err, ShouldBeNil)
			So(b.Timestamp.Equal(received), ShouldBeTrue)
		})

		Convey("A missing timestamp falls back to receive time", func() {
			b, err := presence.DecodeBroadcast([]byte(`{"type":"tracker_status","user_id":"T1","status":"active"}`), received)
			So(err, ShouldBeNil)
			So(b.Timestamp, ShouldEqual, received)
			So(b.BatteryLevel, ShouldBeNil)
			So(b.Seq, ShouldBeNil)
		})

		Convey("Invalid payloads are rejected", func() {
			cases := []string{
				`not json`,
				`{"type":"tracker_status","status":"active"}`,
				`{"type":"tracker_status","user_id":"T1","status":"asleep"}`,
				`{"type":"tracker_status","user_id":"T1","status":"active","battery_level":101}`,
				`{"type":"tracker_status","user_id":"T1","status":"active","battery_level":-1}`,
				`{"type":"tracker_status","user_id":"T1","status":"active","battery_level":50.5}`,
				`{"type":"tracker_status","user_id":"T1","status":"active","network_quality":"great"}`,
				`{"type":"tracker_status","user_id":"T1","status":"active","timestamp":"yesterday"}`,
			}
			for _, c := range cases {
				_, err := presence.DecodeBroadcast([]byte(c), received)
				So(errors.Is(err, presence.ErrInvalidBroadcast), ShouldBeTrue)
			}
		})

		Convey("Other message types are rejected by tag", func() {
			_, err := presence.DecodeBroadcast([]byte(`{"type":"chat","user_id":"T1"}`), received)
			So(errors.Is(err, presence.ErrUnknownMessageType), ShouldBeTrue)
		})

		Convey("Encoding round-trips through the decoder", func() {
			lvl := 40
			seq := int64(9)
			in := &model.StatusBroadcast{
				UserID: "T2", Status: model.StatusActive, Timestamp: received,
				Action: "tackle", BatteryLevel: &lvl, NetworkQuality: model.NetworkPoor, Seq: &seq,
			}
			raw, err := presence.EncodeBroadcast(in)
			So(err, ShouldBeNil)
			out, err := presence.DecodeBroadcast(raw, time.Time{})
			So(err, ShouldBeNil)
			So(out.Timestamp.Equal(received), ShouldBeTrue)
			So(out.Action, ShouldEqual, "tackle")
			So(*out.BatteryLevel, ShouldEqual, 40)
			So(*out.Seq, ShouldEqual, int64(9))
		})

		Convey("Topics are scoped per match", func() {
			So(presence.TopicName("M"), ShouldEqual, "tracker_status:M")
		})
	})
}

func TestMonitorRoster(t *testing.T) {
	Convey("Given a monitor seeded with T1 and T2 and no broadcasts", t, func() {
		m, _ := newMonitor()
		snap := m.Snapshot()

		Convey("Then both trackers are inactive and disconnected", func() {
			So(len(snap.Trackers), ShouldEqual, 2)
			for _, row := range snap.Trackers {
				So(row.Status, ShouldEqual, model.StatusInactive)
				So(row.Connected, ShouldBeFalse)
				So(row.LastActivity.IsZero(), ShouldBeTrue)
			}
			So(snap.Trackers[0].UserID, ShouldEqual, "T1")
			So(snap.Trackers[1].UserID, ShouldEqual, "T2")
			So(snap.ConnectedCount, ShouldEqual, 0)
			So(snap.LinkStatus, ShouldEqual, string(presence.LinkPending))
		})
	})
}

func TestMonitorBroadcasts(t *testing.T) {
	ctx := context.Background()

	Convey("Given a seeded monitor", t, func() {
		m, clock := newMonitor()

		Convey("When T1 broadcasts recording at now", func() {
			err := m.Apply(ctx, &model.StatusBroadcast{UserID: "T1", Status: model.StatusRecording, Timestamp: clock.Now()})
			So(err, ShouldBeNil)

			Convey("Then T1 is recording and connected while T2 is unaffected", func() {
				t1, ok := m.Tracker("T1")
				So(ok, ShouldBeTrue)
				So(t1.Status, ShouldEqual, model.StatusRecording)
				So(m.Connected("T1"), ShouldBeTrue)

				t2, _ := m.Tracker("T2")
				So(t2.Status, ShouldEqual, model.StatusInactive)
				So(m.Connected("T2"), ShouldBeFalse)
			})

			Convey("Then 31 seconds later T1 is disconnected", func() {
				clock.Advance(31 * time.Second)
				So(m.Connected("T1"), ShouldBeFalse)
			})

			Convey("Then exactly 30 seconds later T1 is disconnected", func() {
				clock.Advance(30 * time.Second)
				So(m.Connected("T1"), ShouldBeFalse)
			})

			Convey("Then an older broadcast is discarded as stale", func() {
				err := m.Apply(ctx, &model.StatusBroadcast{UserID: "T1", Status: model.StatusInactive, Timestamp: clock.Now().Add(-time.Second)})
				So(errors.Is(err, presence.ErrStale), ShouldBeTrue)
				t1, _ := m.Tracker("T1")
				So(t1.Status, ShouldEqual, model.StatusRecording)
				So(m.Snapshot().Stale, ShouldEqual, uint64(1))
			})
		})

		Convey("When a tracker client restarts its sequence after going silent", func() {
			So(m.Apply(ctx, &model.StatusBroadcast{UserID: "T1", Status: model.StatusRecording, Timestamp: clock.Now(), Seq: int64Ptr(100)}), ShouldBeNil)
			clock.Advance(2 * time.Minute)

			Convey("Then the new session is accepted and stays connected", func() {
				for i := int64(1); i <= 5; i++ {
					err := m.Apply(ctx, &model.StatusBroadcast{UserID: "T1", Status: model.StatusActive, Timestamp: clock.Now(), Seq: int64Ptr(i)})
					So(err, ShouldBeNil)
					So(m.Connected("T1"), ShouldBeTrue)
					clock.Advance(5 * time.Second)
				}
				So(m.Snapshot().Stale, ShouldEqual, uint64(0))
			})

			Convey("Then a replay of the old session inside the liveness window is still stale", func() {
				So(m.Apply(ctx, &model.StatusBroadcast{UserID: "T1", Status: model.StatusActive, Timestamp: clock.Now(), Seq: int64Ptr(1)}), ShouldBeNil)
				clock.Advance(time.Second)
				err := m.Apply(ctx, &model.StatusBroadcast{UserID: "T1", Status: model.StatusInactive, Timestamp: clock.Now(), Seq: int64Ptr(1)})
				So(errors.Is(err, presence.ErrStale), ShouldBeTrue)
			})
		})

		Convey("When an unseen tracker broadcasts", func() {
			raw := []byte(fmt.Sprintf(`{"type":"tracker_status","user_id":"T9","status":"active","timestamp":%d}`, clock.Now().UnixMilli()))
			So(m.HandleMessage(ctx, raw), ShouldBeNil)

			Convey("Then a row is appended with the broadcast status", func() {
				snap := m.Snapshot()
				So(len(snap.Trackers), ShouldEqual, 3)
				t9, ok := m.Tracker("T9")
				So(ok, ShouldBeTrue)
				So(t9.Status, ShouldEqual, model.StatusActive)
				So(snap.Accepted, ShouldEqual, uint64(1))
			})
		})

		Convey("When a broadcast is stamped far in the future", func() {
			err := m.Apply(ctx, &model.StatusBroadcast{UserID: "T1", Status: model.StatusActive, Timestamp: clock.Now().Add(10 * time.Minute)})

			Convey("Then it is rejected for clock skew", func() {
				So(errors.Is(err, presence.ErrClockSkew), ShouldBeTrue)
				So(m.Snapshot().Rejected, ShouldEqual, uint64(1))
			})
		})

		Convey("When an invalid payload arrives", func() {
			err := m.HandleMessage(ctx, []byte(`{"type":"tracker_status","user_id":"T1","status":"dancing"}`))

			Convey("Then it is counted and dropped", func() {
				So(presence.IsRejection(err), ShouldBeTrue)
				So(m.Snapshot().Rejected, ShouldEqual, uint64(1))
			})
		})
	})
}

func TestMonitorOverrides(t *testing.T) {
	ctx := context.Background()

	Convey("Given a connected tracker", t, func() {
		m, clock := newMonitor()
		So(m.Apply(ctx, &model.StatusBroadcast{UserID: "T1", Status: model.StatusActive, Timestamp: clock.Now()}), ShouldBeNil)
		before, _ := m.Tracker("T1")

		Convey("When the admin marks it absent", func() {
			m.MarkAbsent("T1")

			Convey("Then it is absent while still connected", func() {
				So(m.IsAbsent("T1"), ShouldBeTrue)
				So(m.Connected("T1"), ShouldBeTrue)
				So(m.Snapshot().AbsentCount, ShouldEqual, 1)
			})

			Convey("Then reconnect clears the flag without touching activity", func() {
				m.Reconnect("T1")
				So(m.IsAbsent("T1"), ShouldBeFalse)
				after, _ := m.Tracker("T1")
				So(after.LastActivity, ShouldEqual, before.LastActivity)
				So(after.Status, ShouldEqual, before.Status)
			})
		})

		Convey("When a disconnected tracker is marked absent", func() {
			m.MarkAbsent("T2")
			So(m.IsAbsent("T2"), ShouldBeTrue)
			So(m.Connected("T2"), ShouldBeFalse)
		})
	})
}

func TestMonitorLink(t *testing.T) {
	Convey("Given a monitor", t, func() {
		m, _ := newMonitor()

		Convey("Link state maps to IsConnected", func() {
			So(m.IsConnected(), ShouldBeFalse)
			m.SetLink(presence.LinkSubscribed)
			So(m.IsConnected(), ShouldBeTrue)
			m.SetLink(presence.LinkChannelError)
			So(m.IsConnected(), ShouldBeFalse)
			So(m.Link(), ShouldEqual, presence.LinkChannelError)
		})

		Convey("Close is terminal and drops overrides", func() {
			m.MarkAbsent("T1")
			m.Close()
			m.SetLink(presence.LinkSubscribed)
			So(m.Link(), ShouldEqual, presence.LinkClosed)
			So(m.IsAbsent("T1"), ShouldBeFalse)
			So(m.Closed(), ShouldBeTrue)
			err := m.Apply(context.Background(), &model.StatusBroadcast{UserID: "T1", Status: model.StatusActive, Timestamp: time.Now()})
			So(errors.Is(err, presence.ErrMonitorClosed), ShouldBeTrue)
		})

		Convey("Snapshots refresh the idle clock", func() {
			_, clock := newMonitor()
			m2 := presence.NewMonitor("mon-2", "M", presence.WithClock(clock.Now), presence.WithLogger(logger.Nop()))
			start := m2.IdleSince()
			clock.Advance(time.Minute)
			So(m2.IdleSince(), ShouldEqual, start)
			m2.Snapshot()
			So(m2.IdleSince(), ShouldEqual, start.Add(time.Minute))
		})
	})
}

func TestMonitorConcurrentApply(t *testing.T) {
	Convey("Given many concurrent broadcasts for one tracker", t, func() {
		m, clock := newMonitor()
		base := clock.Now()

		var wg sync.WaitGroup
		for i := 1; i <= 50; i++ {
			wg.Add(1)
			go func(seq int64) {
				defer wg.Done()
				_ = m.Apply(context.Background(), &model.StatusBroadcast{
					UserID: "T1", Status: model.StatusActive,
					Timestamp: base.Add(-time.Duration(seq) * time.Millisecond), Seq: &seq,
				})
			}(int64(i))
		}
		wg.Wait()

		Convey("Then the highest sequence always wins", func() {
			t1, _ := m.Tracker("T1")
			So(t1.LastActivity, ShouldEqual, base.Add(-50*time.Millisecond))
			snap := m.Snapshot()
			So(snap.Accepted+snap.Stale, ShouldEqual, uint64(50))
		})
	})
}

func int64Ptr(v int64) *int64 { return &v }
