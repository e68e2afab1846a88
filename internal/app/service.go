// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/pitchside/internal/adapters/mq/queue"
	workerpool "github.com/okian/pitchside/internal/adapters/mq/worker"
	"github.com/okian/pitchside/internal/adapters/realtime"
	repository "github.com/okian/pitchside/internal/adapters/repository"
	"github.com/okian/pitchside/internal/domain/dedupe"
	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/pkg/logger"
	"github.com/okian/pitchside/pkg/metrics"
)

// Service implements the API dependencies for assignments and presence.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	ownsStore  bool
	guard      dedupe.Guard
	queue      *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	hub        *realtime.Hub

	monitorsMu sync.Mutex
	monitors   map[string]*monitorEntry

	// Configuration
	workerCount   int
	queueSize     int
	dedupeSize    int
	dedupeTTL     time.Duration
	channelBuffer int
	liveness      time.Duration
	maxClockSkew  time.Duration
	idleTimeout   time.Duration
	reapInterval  time.Duration
	profiles      []model.Profile

	now   func() time.Time
	newID func() string

	// State
	started    bool
	dropped    atomic.Int64
	stopCh     chan struct{}
	reaperDone chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence backend. The service does not close a
// store it was given. Without it an in-memory store is created on Start.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithProfiles seeds the in-memory store created when no store is given.
func WithProfiles(profiles []model.Profile) Option {
	return func(s *Service) {
		s.profiles = profiles
	}
}

// WithWorkerCount sets the number of notification delivery workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the notification queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many idempotency keys are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithDedupeTTL sets how long an idempotency key is remembered.
func WithDedupeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.dedupeTTL = ttl
		}
	}
}

// WithChannelBufferSize sets the per-subscription buffer of the realtime hub.
func WithChannelBufferSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.channelBuffer = size
		}
	}
}

// WithLivenessTimeout overrides the 30s connected window of monitors.
func WithLivenessTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.liveness = d
		}
	}
}

// WithMaxClockSkew sets how far in the future a broadcast may be stamped.
func WithMaxClockSkew(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxClockSkew = d
		}
	}
}

// WithMonitorIdleTimeout sets how long a monitor may go unread before the
// reaper closes it.
func WithMonitorIdleTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithReapInterval sets how often idle monitors are looked for.
func WithReapInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.reapInterval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces uuid.NewString for record ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		monitors:      make(map[string]*monitorEntry),
		workerCount:   4,
		queueSize:     1024,
		dedupeSize:    10000,
		dedupeTTL:     10 * time.Minute,
		channelBuffer: 256,
		liveness:      model.LivenessTimeout,
		maxClockSkew:  5 * time.Minute,
		idleTimeout:   10 * time.Minute,
		now:           time.Now,
		newID:         uuid.NewString,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.reapInterval == 0 {
		s.reapInterval = s.idleTimeout / 4
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting pitchside service...")

	if s.store == nil || s.ownsStore {
		s.store = repository.NewMemoryStore(ctx,
			repository.WithProfiles(s.profiles),
			repository.WithLogger(s.logger.Named("repository")))
		s.ownsStore = true
		s.logger.Info(ctx, "using in-memory store")
	}
	s.guard = dedupe.NewInMemoryGuard(
		dedupe.WithMaxSize(s.dedupeSize),
		dedupe.WithTTL(s.dedupeTTL),
	)
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.hub = realtime.NewHub(
		realtime.WithBufferSize(s.channelBuffer),
		realtime.WithLogger(s.logger.Named("realtime")),
	)
	s.workerPool = workerpool.NewPool(s.workerCount, s.queue, s.store,
		workerpool.WithLogger(s.logger.Named("worker")))
	s.workerPool.Start(ctx)

	s.stopCh = make(chan struct{})
	s.reaperDone = make(chan struct{})
	go s.reapLoop(s.stopCh, s.reaperDone)

	s.started = true
	s.logger.Info(ctx, "pitchside service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("monitorIdleTimeout", s.idleTimeout),
	)
	return nil
}

// Stop closes every monitor, the realtime hub and the notification workers.
// Queued notifications are delivered before the store is closed.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping pitchside service...")

	close(s.stopCh)
	<-s.reaperDone

	for _, e := range s.takeMonitors() {
		s.closeEntry(ctx, e)
	}
	metrics.UpdateActiveMonitors(0)
	s.hub.Close()

	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Error(ctx, "worker pool shutdown failed", logger.Error(err))
	}
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Error(ctx, "closing store failed", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "pitchside service stopped")
}

// deps returns the started components or ErrNotStarted.
func (s *Service) deps() (repository.Store, *realtime.Hub, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.store, s.hub, nil
}

// Hub returns the realtime hub, or nil before Start.
func (s *Service) Hub() *realtime.Hub {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hub
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}

	if s.started {
		queueLen := s.queue.Len()
		stats["queueLength"] = queueLen
		stats["notificationsDelivered"] = s.workerPool.Delivered()
		stats["notificationsFailed"] = s.workerPool.Failed()
		stats["notificationsDropped"] = s.dropped.Load()
		stats["idempotencyKeys"] = s.guard.Size()
		stats["activeMonitors"] = s.monitorCount()
		stats["channelTopics"] = s.hub.Topics()
		stats["broadcastsPublished"] = s.hub.Published()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.workerPool.Size())
	}

	return stats
}
