// Package worker delivers queued notifications to the notification sink.
// Delivery is best effort: failures are logged and counted, never returned
// to the request that produced the notification.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/pkg/logger"
	"github.com/okian/pitchside/pkg/metrics"
)

const (
	defaultWorkerCount     = 4
	defaultDeliveryTimeout = 5 * time.Second
	defaultRetries         = 2
	defaultBackoff         = 100 * time.Millisecond
	poolShutdownTimeout    = 30 * time.Second
)

// Sink stores a notification.
type Sink interface {
	InsertNotification(ctx context.Context, n model.Notification) error
}

// Queue is where workers read notifications from.
type Queue interface {
	Next(ctx context.Context) (model.Notification, bool)
}

// Worker drains the queue until it is closed or stopped.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker delivers notifications one at a time.
type InMemoryWorker struct {
	queue Queue
	sink  Sink
	name  string

	deliveryTimeout time.Duration
	retries         int
	backoff         time.Duration

	delivered atomic.Int64
	failed    atomic.Int64

	stop chan struct{}
	done chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker reading from queue and writing to sink.
func NewInMemoryWorker(queue Queue, sink Sink, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:           queue,
		sink:            sink,
		name:            "worker",
		deliveryTimeout: defaultDeliveryTimeout,
		retries:         defaultRetries,
		backoff:         defaultBackoff,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named("worker")
	}
	w.logger = w.logger.With(logger.String("worker", w.name))
	return w
}

// Run loops until the queue is drained and closed, ctx is done or
// Shutdown is called.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for {
		n, ok := w.queue.Next(runCtx)
		if !ok {
			return
		}
		if err := w.deliver(runCtx, n); err != nil {
			w.logger.Error(runCtx, "notification delivery failed",
				logger.String("notification_id", n.ID),
				logger.String("user_id", n.UserID),
				logger.Error(err))
		}
	}
}

// Shutdown stops the worker and waits for the current delivery.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

// Delivered returns how many notifications reached the sink.
func (w *InMemoryWorker) Delivered() int64 { return w.delivered.Load() }

// Failed returns how many notifications were given up on.
func (w *InMemoryWorker) Failed() int64 { return w.failed.Load() }

func (w *InMemoryWorker) deliver(ctx context.Context, n model.Notification) error { //nolint:gocritic // hugeParam: read by value off the queue
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	var err error
attempts:
	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, w.deliveryTimeout)
		err = w.sink.InsertNotification(attemptCtx, n)
		cancel()
		if err == nil {
			w.delivered.Add(1)
			metrics.RecordNotificationDelivered()
			return nil
		}
		w.logger.Debug(ctx, "notification attempt failed",
			logger.String("notification_id", n.ID),
			logger.Int("attempt", attempt+1),
			logger.Error(err))
		if attempt >= w.retries {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break attempts
		case <-time.After(w.backoff * time.Duration(attempt+1)):
		}
	}

	w.failed.Add(1)
	metrics.RecordNotificationFailed()
	metrics.RecordWorkerError()
	metrics.RecordErrorByComponent("worker", "sink_error")
	return fmt.Errorf("deliver %s: %w", n.ID, err)
}

// Pool runs a fixed set of workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates workerCount workers. Options apply to every worker.
func NewPool(workerCount int, queue Queue, sink Sink, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(queue, sink, workerOpts...)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start runs every worker in its own goroutine.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkerCount(len(p.workers))
}

// Delivered sums the delivered counters of all workers.
func (p *Pool) Delivered() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Delivered()
	}
	return n
}

// Failed sums the failure counters of all workers.
func (p *Pool) Failed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Failed()
	}
	return n
}

// Shutdown closes the queue and lets workers drain it. Workers still busy
// when ctx (capped at 30s) expires are stopped.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-drainCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
		}
	}
	if timedOut {
		for _, w := range p.workers {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
			_ = w.Shutdown(stopCtx)
			stopCancel()
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
