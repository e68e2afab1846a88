package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/pitchside/internal/adapters/repository"
	service "github.com/okian/pitchside/internal/app"
	"github.com/okian/pitchside/internal/domain/assignment"
	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

var trackers = []model.Profile{
	{ID: "t1", Email: "alice@example.com", FullName: "Alice", Role: model.RoleTracker},
	{ID: "t2", Email: "bob@example.com", FullName: "Bob", Role: model.RoleTracker},
	{ID: "admin", Email: "admin@example.com", FullName: "Admin", Role: "admin"},
}

// clock is a settable time source shared by the service and its monitors.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithProfiles(trackers),
		service.WithWorkerCount(2),
		service.WithLogger(logger.Nop()),
	}
	return service.New(append(base, opts...)...)
}

// eventually polls cond for up to two seconds.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func individual(tracker, player, team string, eventTypes ...string) assignment.Request {
	return assignment.Request{
		MatchID:    "M1",
		TrackerID:  tracker,
		TeamID:     team,
		PlayerIDs:  []string{player},
		EventTypes: eventTypes,
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := newService()
		ctx := context.Background()

		Convey("Operations before Start fail with ErrNotStarted", func() {
			_, err := svc.GetAvailableTrackers(ctx)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.OpenMonitor(ctx, "M1")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
			So(svc.Hub(), ShouldBeNil)
		})

		Convey("When it is started twice and stopped", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["workerCount"], ShouldEqual, 2)
			So(svc.Hub(), ShouldNotBeNil)

			svc.Stop()
			svc.Stop()

			Convey("Then it reports stopped and can start again", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
				So(svc.Start(ctx), ShouldBeNil)
				defer svc.Stop()
				list, err := svc.GetAvailableTrackers(ctx)
				So(err, ShouldBeNil)
				So(len(list), ShouldEqual, 2)
			})
		})
	})
}

func TestService_Assignments(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := newService()
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		Convey("Available trackers exclude other roles", func() {
			list, err := svc.GetAvailableTrackers(ctx)
			So(err, ShouldBeNil)
			So(len(list), ShouldEqual, 2)
			So(list[0].Email, ShouldEqual, "alice@example.com")
		})

		Convey("When t1 is assigned pass and shot for home player P7", func() {
			created, err := svc.CreateIndividualAssignment(ctx, individual("t1", "P7", "home", "pass", "shot"))
			So(err, ShouldBeNil)
			So(created.AssignmentType, ShouldEqual, model.AssignmentIndividual)
			So(created.TrackerEmail, ShouldEqual, "alice@example.com")
			So(created.AssignedEventTypes, ShouldResemble, []string{"pass", "shot"})

			Convey("Then t2 asking for shot and tackle is rejected and nothing is written", func() {
				_, err := svc.CreateIndividualAssignment(ctx, individual("t2", "P7", "home", "shot", "tackle"))
				So(errors.Is(err, assignment.ErrConflict), ShouldBeTrue)
				var conflict *assignment.ConflictError
				So(errors.As(err, &conflict), ShouldBeTrue)
				So(conflict.EventTypes(), ShouldResemble, []string{"shot"})
				So(conflict.Conflicts[0].TrackerEmail, ShouldEqual, "alice@example.com")

				list, err := svc.GetMatchAssignments(ctx, "M1")
				So(err, ShouldBeNil)
				So(len(list), ShouldEqual, 1)
			})

			Convey("Then t2 can take tackle for the same player", func() {
				_, err := svc.CreateIndividualAssignment(ctx, individual("t2", "P7", "home", "tackle"))
				So(err, ShouldBeNil)
			})

			Convey("Then the same player of the away team is independent", func() {
				_, err := svc.CreateIndividualAssignment(ctx, individual("t2", "P7", "away", "pass", "shot"))
				So(err, ShouldBeNil)
			})

			Convey("Then the grid disables the owned event types", func() {
				grid, err := svc.EventTypeGrid(ctx, "M1", "P7", "home")
				So(err, ShouldBeNil)
				So(len(grid), ShouldEqual, len(model.EventTypes))
				disabled := map[string]string{}
				for _, cell := range grid {
					if cell.Disabled {
						disabled[cell.EventType] = cell.OwnerEmail
					}
				}
				So(disabled, ShouldResemble, map[string]string{
					"pass": "alice@example.com",
					"shot": "alice@example.com",
				})
			})

			Convey("Then t1 receives a notification", func() {
				var got []model.Notification
				So(eventually(func() bool {
					got, _ = svc.ListNotifications(ctx, "t1", 0)
					return len(got) == 1
				}), ShouldBeTrue)
				So(got[0].Type, ShouldEqual, model.NotificationMatchAssignment)
				So(got[0].MatchID, ShouldEqual, "M1")
				So(got[0].Data["event_types"], ShouldResemble, []string{"pass", "shot"})
			})

			Convey("Then deleting it frees the event types", func() {
				So(svc.DeleteAssignment(ctx, created.ID), ShouldBeNil)
				_, err := svc.CreateIndividualAssignment(ctx, individual("t2", "P7", "home", "shot"))
				So(err, ShouldBeNil)

				err = svc.DeleteAssignment(ctx, created.ID)
				So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("A request with problems is rejected before any write", func() {
			_, err := svc.CreateIndividualAssignment(ctx, assignment.Request{MatchID: "M1", TrackerID: "t1", TeamID: "left"})
			So(errors.Is(err, assignment.ErrValidation), ShouldBeTrue)
			var verr *assignment.ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			So(len(verr.Problems), ShouldEqual, 3)
		})

		Convey("A user without the tracker role cannot be assigned", func() {
			_, err := svc.CreateIndividualAssignment(ctx, individual("admin", "P7", "home", "pass"))
			So(errors.Is(err, assignment.ErrValidation), ShouldBeTrue)
		})

		Convey("A video assignment produces a video notification", func() {
			req := individual("t2", "P9", "away", "save")
			req.VideoURL = "https://videos.example.com/m1.mp4"
			_, err := svc.CreateIndividualAssignment(ctx, req)
			So(err, ShouldBeNil)
			var got []model.Notification
			So(eventually(func() bool {
				got, _ = svc.ListNotifications(ctx, "t2", 10)
				return len(got) == 1
			}), ShouldBeTrue)
			So(got[0].Type, ShouldEqual, model.NotificationVideoAssignment)
		})

		Convey("When a group assignment overlaps one player", func() {
			_, err := svc.CreateIndividualAssignment(ctx, individual("t1", "P2", "home", "cross"))
			So(err, ShouldBeNil)

			_, err = svc.CreateGroupAssignment(ctx, assignment.Request{
				MatchID:    "M1",
				TrackerID:  "t2",
				TeamID:     "home",
				PlayerIDs:  []string{"P1", "P2", "P3"},
				EventTypes: []string{"cross", "pass"},
			})

			Convey("Then no player is assigned", func() {
				So(errors.Is(err, assignment.ErrConflict), ShouldBeTrue)
				list, err := svc.GetMatchAssignments(ctx, "M1")
				So(err, ShouldBeNil)
				So(len(list), ShouldEqual, 1)
			})
		})

		Convey("A group assignment creates one tagged record per player", func() {
			created, err := svc.CreateGroupAssignment(ctx, assignment.Request{
				MatchID:    "M1",
				TrackerID:  "t2",
				TeamID:     "away",
				PlayerIDs:  []string{"P1", "P2"},
				EventTypes: []string{"tackle"},
			})
			So(err, ShouldBeNil)
			So(len(created), ShouldEqual, 2)
			for _, a := range created {
				So(a.AssignmentType, ShouldEqual, model.AssignmentGroup)
			}
		})

		Convey("When many trackers race for the same event type", func() {
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					tracker := "t1"
					if i%2 == 1 {
						tracker = "t2"
					}
					if _, err := svc.CreateIndividualAssignment(ctx, individual(tracker, "P10", "home", "goal")); err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one wins", func() {
				So(wins, ShouldEqual, 1)
			})
		})

		Convey("The grid validates its inputs", func() {
			_, err := svc.EventTypeGrid(ctx, "", "", "middle")
			var verr *assignment.ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			So(len(verr.Problems), ShouldEqual, 3)
		})
	})
}

func TestService_Submissions(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := newService()
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		Convey("An idempotency key is accepted once until released", func() {
			So(svc.AcquireSubmission(ctx, "k1"), ShouldBeTrue)
			So(svc.AcquireSubmission(ctx, "k1"), ShouldBeFalse)
			svc.ReleaseSubmission(ctx, "k1")
			So(svc.AcquireSubmission(ctx, "k1"), ShouldBeTrue)
			So(svc.GetStats()["idempotencyKeys"], ShouldEqual, 1)
		})
	})
}

// stalledStore holds the first notification delivery until release is closed.
type stalledStore struct {
	repository.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stalledStore) InsertNotification(ctx context.Context, n model.Notification) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.InsertNotification(ctx, n)
}

func TestService_NotificationBackpressure(t *testing.T) {
	Convey("Given a service whose single worker is stuck on delivery", t, func() {
		ctx := context.Background()
		base := repository.NewMemoryStore(ctx, repository.WithProfiles(trackers), repository.WithLogger(logger.Nop()))
		store := &stalledStore{Store: base, entered: make(chan struct{}), release: make(chan struct{})}

		svc := newService(
			service.WithStore(store),
			service.WithWorkerCount(1),
			service.WithQueueSize(1),
		)
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() {
			close(store.release)
			svc.Stop()
			_ = base.Close()
		})

		_, err := svc.CreateIndividualAssignment(ctx, individual("t1", "P1", "home", "pass"))
		So(err, ShouldBeNil)
		select {
		case <-store.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("worker never picked up the first notification")
		}
		_, err = svc.CreateIndividualAssignment(ctx, individual("t1", "P2", "home", "pass"))
		So(err, ShouldBeNil)

		Convey("When the queue is full", func() {
			created, err := svc.CreateIndividualAssignment(ctx, individual("t1", "P3", "home", "pass"))

			Convey("Then the assignment still stands and the notification is counted as dropped", func() {
				So(err, ShouldBeNil)
				So(created.PlayerID, ShouldEqual, "P3")

				listed, err := svc.GetMatchAssignments(ctx, "M1")
				So(err, ShouldBeNil)
				So(len(listed), ShouldEqual, 3)

				stats := svc.GetStats()
				So(stats["notificationsDropped"], ShouldEqual, int64(1))
				So(stats["queueLength"], ShouldEqual, 1)
			})
		})
	})
}
