package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/pitchside/internal/domain/assignment"
	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/pkg/logger"
	"github.com/okian/pitchside/pkg/metrics"
)

// MemoryStore keeps everything in process memory. The claim check and the
// write happen under one lock, so concurrent creates for the same claim
// cannot both succeed.
type MemoryStore struct {
	mu            sync.RWMutex
	assignments   map[string]*model.Assignment
	byMatch       map[string][]string
	claims        assignment.Index
	profiles      map[string]model.Profile
	notifications []model.Notification

	closed atomic.Bool
	stop   chan struct{}
	once   sync.Once
	opts   options
}

// NewMemoryStore creates an empty store and starts the background gauge
// updater, which runs until ctx is done or Close is called.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("repository")
	}
	s := &MemoryStore{
		assignments: make(map[string]*model.Assignment),
		byMatch:     make(map[string][]string),
		claims:      make(assignment.Index),
		profiles:    make(map[string]model.Profile),
		stop:        make(chan struct{}),
		opts:        o,
	}
	for _, p := range o.profiles {
		s.profiles[p.ID] = p
	}
	s.startMetricsUpdater(ctx)
	return s
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.opts.metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()
}

func (s *MemoryStore) updateMetrics() {
	s.mu.RLock()
	assignments, claims, notifications := len(s.assignments), len(s.claims), len(s.notifications)
	s.mu.RUnlock()
	metrics.UpdateRepositoryRecords("assignments", assignments)
	metrics.UpdateRepositoryRecords("claims", claims)
	metrics.UpdateRepositoryRecords("notifications", notifications)
}

// Close stops the background updater. Further calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.stop)
	})
	return nil
}

func (s *MemoryStore) CreateAssignments(_ context.Context, batch []model.Assignment) (err error) {
	defer func(start time.Time) { observe("create_assignments", start, err) }(time.Now())
	if s.closed.Load() {
		return ErrClosed
	}
	if len(batch) == 0 {
		return ErrEmptyBatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range batch {
		if _, dup := s.assignments[batch[i].ID]; dup {
			return fmt.Errorf("%w: assignment %s", ErrDuplicateID, batch[i].ID)
		}
	}
	if conflicts := s.claims.Conflicts(batch); len(conflicts) > 0 {
		for i := range conflicts {
			if p, ok := s.profiles[conflicts[i].TrackerUserID]; ok {
				conflicts[i].TrackerEmail = p.Email
			}
		}
		return &assignment.ConflictError{Conflicts: conflicts}
	}
	for i := range batch {
		a := cloneAssignment(&batch[i])
		a.TrackerEmail = ""
		s.assignments[a.ID] = a
		s.byMatch[a.MatchID] = append(s.byMatch[a.MatchID], a.ID)
		s.claims.Add(a)
	}
	return nil
}

func (s *MemoryStore) ListAssignments(_ context.Context, matchID string) (out []model.Assignment, err error) {
	defer func(start time.Time) { observe("list_assignments", start, err) }(time.Now())
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(matchID, func(*model.Assignment) bool { return true }), nil
}

func (s *MemoryStore) ListPlayerAssignments(_ context.Context, matchID, playerID string, team model.TeamSide) (out []model.Assignment, err error) {
	defer func(start time.Time) { observe("list_player_assignments", start, err) }(time.Now())
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(matchID, func(a *model.Assignment) bool {
		return a.PlayerID == playerID && a.PlayerTeamID == team
	}), nil
}

// collect must be called with s.mu held.
func (s *MemoryStore) collect(matchID string, keep func(*model.Assignment) bool) []model.Assignment {
	ids := s.byMatch[matchID]
	out := make([]model.Assignment, 0, len(ids))
	for _, id := range ids {
		a := s.assignments[id]
		if !keep(a) {
			continue
		}
		c := *cloneAssignment(a)
		c.TrackerEmail = s.profiles[a.TrackerUserID].Email
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) DeleteAssignment(_ context.Context, id string) (deleted model.Assignment, err error) {
	defer func(start time.Time) { observe("delete_assignment", start, err) }(time.Now())
	if s.closed.Load() {
		return model.Assignment{}, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[id]
	if !ok {
		return model.Assignment{}, fmt.Errorf("assignment %s: %w", id, ErrNotFound)
	}
	s.claims.Remove(a)
	delete(s.assignments, id)
	ids := s.byMatch[a.MatchID]
	for i, v := range ids {
		if v == id {
			s.byMatch[a.MatchID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byMatch[a.MatchID]) == 0 {
		delete(s.byMatch, a.MatchID)
	}
	out := *a
	out.TrackerEmail = s.profiles[a.TrackerUserID].Email
	return out, nil
}

func (s *MemoryStore) ListTrackers(_ context.Context) (out []model.TrackerUser, err error) {
	defer func(start time.Time) { observe("list_trackers", start, err) }(time.Now())
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out = make([]model.TrackerUser, 0, len(s.profiles))
	for _, p := range s.profiles {
		if p.Role != model.RoleTracker {
			continue
		}
		out = append(out, model.TrackerUser{ID: p.ID, Email: p.Email, FullName: p.FullName})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Email != out[j].Email {
			return out[i].Email < out[j].Email
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetTracker(_ context.Context, id string) (model.TrackerUser, error) {
	if s.closed.Load() {
		return model.TrackerUser{}, ErrClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok || p.Role != model.RoleTracker {
		return model.TrackerUser{}, fmt.Errorf("tracker %s: %w", id, ErrNotFound)
	}
	return model.TrackerUser{ID: p.ID, Email: p.Email, FullName: p.FullName}, nil
}

func (s *MemoryStore) UpsertProfiles(_ context.Context, profiles []model.Profile) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) InsertNotification(_ context.Context, n model.Notification) (err error) {
	defer func(start time.Time) { observe("insert_notification", start, err) }(time.Now())
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]model.Notification, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].UserID != userID {
			continue
		}
		out = append(out, s.notifications[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func cloneAssignment(a *model.Assignment) *model.Assignment {
	c := *a
	c.AssignedEventTypes = append([]string(nil), a.AssignedEventTypes...)
	return &c
}
