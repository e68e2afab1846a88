// Package queue buffers assignment notifications between the service and
// the delivery workers.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/pkg/metrics"
)

const defaultCapacity = 1024

// Queue is a bounded, non-blocking notification buffer.
type Queue interface {
	// Enqueue adds n without blocking. It fails with ErrFull or ErrClosed.
	Enqueue(ctx context.Context, n model.Notification) error

	// Next blocks until a notification is available. It returns false once
	// the queue is closed and drained, or ctx is done.
	Next(ctx context.Context) (model.Notification, bool)

	Len() int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue on a buffered channel.
type InMemoryQueue struct {
	items    chan model.Notification
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a queue with the given options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan model.Notification, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return q
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, n model.Notification) error { //nolint:gocritic // hugeParam: sent by value over the channel
	start := time.Now()
	defer func() {
		metrics.RecordQueueProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}

	select {
	case q.items <- n:
		metrics.RecordQueueEnqueue()
		q.reportSize()
		return nil
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return ctx.Err()
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

func (q *InMemoryQueue) Next(ctx context.Context) (model.Notification, bool) {
	select {
	case n, ok := <-q.items:
		if !ok {
			return model.Notification{}, false
		}
		metrics.RecordQueueDequeue()
		q.reportSize()
		return n, true
	case <-ctx.Done():
		return model.Notification{}, false
	}
}

func (q *InMemoryQueue) Len() int {
	q.reportSize()
	return len(q.items)
}

// Close stops accepting notifications. Pending ones can still be drained
// with Next.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.items)
	return nil
}

func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue) reportSize() {
	size := len(q.items)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}
