package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	queue "github.com/okian/pitchside/internal/adapters/mq/queue"
	worker "github.com/okian/pitchside/internal/adapters/mq/worker"
	model "github.com/okian/pitchside/internal/domain/model"
	logging "github.com/okian/pitchside/pkg/logger"
)

func init() {
	_ = logging.Init()
}

type mockSink struct {
	mu        sync.Mutex
	received  []model.Notification
	failFirst map[string]int
	calls     map[string]int
	always    error
}

func newMockSink() *mockSink {
	return &mockSink{failFirst: make(map[string]int), calls: make(map[string]int)}
}

func (s *mockSink) InsertNotification(_ context.Context, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[n.ID]++
	if s.always != nil {
		return s.always
	}
	if s.calls[n.ID] <= s.failFirst[n.ID] {
		return fmt.Errorf("transient failure %d", s.calls[n.ID])
	}
	s.received = append(s.received, n)
	return nil
}

func (s *mockSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func (s *mockSink) attempts(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func note(id string) model.Notification {
	return model.Notification{ID: id, UserID: "t1", MatchID: "m1", Type: model.NotificationMatchAssignment}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker on a queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue(queue.WithCapacity(16))
		sink := newMockSink()
		w := worker.NewInMemoryWorker(q, sink,
			worker.WithName("test-worker"),
			worker.WithLogger(logging.Nop()),
			worker.WithRetries(2, time.Millisecond))
		go w.Run(ctx)

		convey.Convey("When notifications are queued", func() {
			convey.So(q.Enqueue(ctx, note("n1")), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, note("n2")), convey.ShouldBeNil)

			convey.Convey("Then they reach the sink", func() {
				convey.So(waitFor(func() bool { return sink.count() == 2 }), convey.ShouldBeTrue)
				convey.So(w.Delivered(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the sink fails transiently", func() {
			sink.mu.Lock()
			sink.failFirst["n1"] = 2
			sink.mu.Unlock()
			convey.So(q.Enqueue(ctx, note("n1")), convey.ShouldBeNil)

			convey.Convey("Then the worker retries until it succeeds", func() {
				convey.So(waitFor(func() bool { return sink.count() == 1 }), convey.ShouldBeTrue)
				convey.So(sink.attempts("n1"), convey.ShouldEqual, 3)
				convey.So(w.Failed(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the sink keeps failing", func() {
			sink.mu.Lock()
			sink.always = errors.New("sink down")
			sink.mu.Unlock()
			convey.So(q.Enqueue(ctx, note("n1")), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, note("n2")), convey.ShouldBeNil)

			convey.Convey("Then the notification is dropped and the worker keeps going", func() {
				convey.So(waitFor(func() bool { return w.Failed() == 2 }), convey.ShouldBeTrue)
				convey.So(sink.attempts("n1"), convey.ShouldEqual, 3)
				convey.So(sink.attempts("n2"), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When shutting down", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()

			convey.Convey("Then it stops promptly", func() {
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given a worker whose context is cancelled", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		q := queue.NewInMemoryQueue()
		w := worker.NewInMemoryWorker(q, newMockSink(), worker.WithLogger(logging.Nop()))
		go w.Run(ctx)
		cancel()

		convey.Convey("Then Run returns", func() {
			select {
			case <-w.Done():
			case <-time.After(time.Second):
				t.Fatal("worker did not stop")
			}
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a pool of workers", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(500))
		sink := newMockSink()
		pool := worker.NewPool(4, q, sink, worker.WithLogger(logging.Nop()))
		pool.Start(ctx)

		convey.So(pool.Size(), convey.ShouldEqual, 4)

		convey.Convey("When many notifications are queued and the pool shuts down", func() {
			for i := 0; i < 200; i++ {
				convey.So(q.Enqueue(ctx, note(fmt.Sprintf("n%d", i))), convey.ShouldBeNil)
			}
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then every pending notification is delivered first", func() {
				convey.So(sink.count(), convey.ShouldEqual, 200)
				convey.So(pool.Delivered(), convey.ShouldEqual, 200)
				convey.So(pool.Failed(), convey.ShouldEqual, 0)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a non-positive worker count", t, func() {
		pool := worker.NewPool(0, queue.NewInMemoryQueue(), newMockSink(), worker.WithLogger(logging.Nop()))

		convey.Convey("Then the default count is used", func() {
			convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
		})
	})
}
