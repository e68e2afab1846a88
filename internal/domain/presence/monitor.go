package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/internal/domain/types"
	"github.com/okian/pitchside/pkg/logger"
)

// LinkStatus is the state of the monitor's own channel subscription.
type LinkStatus string

const (
	LinkPending      LinkStatus = "PENDING"
	LinkSubscribed   LinkStatus = "SUBSCRIBED"
	LinkChannelError LinkStatus = "CHANNEL_ERROR"
	LinkTimedOut     LinkStatus = "TIMED_OUT"
	LinkClosed       LinkStatus = "CLOSED"
)

const defaultMaxClockSkew = 5 * time.Minute

// Monitor is the presence view of one admin for one match. Connected state
// is derived from LastActivity on every read; no timers are kept.
type Monitor struct {
	id      string
	matchID string

	mu       sync.Mutex
	trackers map[string]*model.TrackerInfo
	absent   map[string]struct{}
	link     LinkStatus
	closed   bool
	lastRead time.Time

	accepted uint64
	stale    uint64
	rejected uint64

	now      func() time.Time
	liveness time.Duration
	maxSkew  time.Duration
	log      logger.Logger
}

// NewMonitor creates an empty monitor in the PENDING link state.
func NewMonitor(id, matchID string, opts ...Option) *Monitor {
	m := &Monitor{
		id:       id,
		matchID:  matchID,
		trackers: make(map[string]*model.TrackerInfo),
		absent:   make(map[string]struct{}),
		link:     LinkPending,
		now:      time.Now,
		liveness: model.LivenessTimeout,
		maxSkew:  defaultMaxClockSkew,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Get().Named("presence")
	}
	m.log = m.log.With(logger.String("monitor_id", id), logger.String("match_id", matchID))
	m.lastRead = m.now()
	return m
}

// ID returns the monitor id.
func (m *Monitor) ID() string { return m.id }

// MatchID returns the monitored match.
func (m *Monitor) MatchID() string { return m.matchID }

// Topic returns the channel topic the monitor listens on.
func (m *Monitor) Topic() string { return TopicName(m.matchID) }

// Seed adds an inactive, never-heard-from row per tracker. Trackers that are
// already known are left untouched.
func (m *Monitor) Seed(trackers []model.TrackerUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range trackers {
		if existing, ok := m.trackers[t.ID]; ok {
			if existing.Email == "" {
				existing.Email = t.Email
			}
			continue
		}
		m.trackers[t.ID] = &model.TrackerInfo{
			UserID: t.ID,
			Email:  t.Email,
			Status: model.StatusInactive,
		}
	}
}

// HandleMessage decodes and applies a raw channel payload.
func (m *Monitor) HandleMessage(ctx context.Context, data []byte) error {
	b, err := DecodeBroadcast(data, m.now())
	if err != nil {
		m.mu.Lock()
		m.rejected++
		m.mu.Unlock()
		m.log.Debug(ctx, "dropping invalid broadcast", logger.Error(err))
		return err
	}
	return m.Apply(ctx, b)
}

// Apply upserts the tracker named by b. Unseen user ids get a new row.
func (m *Monitor) Apply(ctx context.Context, b *model.StatusBroadcast) error {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMonitorClosed
	}
	if b.Timestamp.Sub(now) > m.maxSkew {
		m.rejected++
		m.log.Warn(ctx, "broadcast rejected for clock skew",
			logger.String("user_id", b.UserID),
			logger.Duration("ahead", b.Timestamp.Sub(now)))
		return ErrClockSkew
	}

	info, ok := m.trackers[b.UserID]
	if !ok {
		info = &model.TrackerInfo{UserID: b.UserID}
		m.trackers[b.UserID] = info
	}
	if !info.SupersedesWithin(b, m.liveness) {
		m.stale++
		m.log.Debug(ctx, "stale broadcast discarded", logger.String("user_id", b.UserID))
		return ErrStale
	}
	info.Apply(b)
	m.accepted++
	return nil
}

// Connected reports whether the tracker is live right now. Unknown trackers
// are not connected.
func (m *Monitor) Connected(trackerID string) bool {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.trackers[trackerID]
	if !ok {
		return false
	}
	return info.ConnectedWithin(now, m.liveness)
}

// Tracker returns a copy of the tracker row.
func (m *Monitor) Tracker(trackerID string) (model.TrackerInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.trackers[trackerID]
	if !ok {
		return model.TrackerInfo{}, false
	}
	return *info, true
}

// MarkAbsent flags a tracker as absent on this monitor only.
func (m *Monitor) MarkAbsent(trackerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.absent[trackerID] = struct{}{}
}

// Reconnect clears the absent flag.
func (m *Monitor) Reconnect(trackerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.absent, trackerID)
}

// IsAbsent reports the override flag, independent of liveness.
func (m *Monitor) IsAbsent(trackerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.absent[trackerID]
	return ok
}

// SetLink records a subscription status change. A closed monitor stays closed.
func (m *Monitor) SetLink(status LinkStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == LinkClosed {
		return
	}
	if m.link != status {
		m.log.Info(context.Background(), "monitor link changed",
			logger.String("from", string(m.link)),
			logger.String("to", string(status)))
	}
	m.link = status
}

// Link returns the current subscription status.
func (m *Monitor) Link() LinkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link
}

// IsConnected reports whether the monitor's own link is up.
func (m *Monitor) IsConnected() bool {
	return m.Link() == LinkSubscribed
}

// Close marks the monitor closed and drops the overrides.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.link = LinkClosed
	m.absent = make(map[string]struct{})
}

// Closed reports whether Close was called.
func (m *Monitor) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// IdleSince returns when the monitor was last read.
func (m *Monitor) IdleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRead
}

// Snapshot returns every tracker row sorted by email then id, with derived
// connected and absent flags. Reading a snapshot keeps the monitor alive.
func (m *Monitor) Snapshot() types.MonitorSnapshot {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRead = now

	snap := types.MonitorSnapshot{
		MonitorID:     m.id,
		MatchID:       m.matchID,
		Topic:         TopicName(m.matchID),
		LinkStatus:    string(m.link),
		LinkConnected: m.link == LinkSubscribed,
		Trackers:      make([]types.TrackerRow, 0, len(m.trackers)),
		Accepted:      m.accepted,
		Stale:         m.stale,
		Rejected:      m.rejected,
		TakenAt:       now,
	}
	for id, info := range m.trackers {
		_, absent := m.absent[id]
		row := types.TrackerRow{
			TrackerInfo: *info,
			Connected:   info.ConnectedWithin(now, m.liveness),
			Absent:      absent,
		}
		if row.Connected {
			snap.ConnectedCount++
		}
		if absent {
			snap.AbsentCount++
		}
		snap.Trackers = append(snap.Trackers, row)
	}
	sort.Slice(snap.Trackers, func(i, j int) bool {
		a, b := snap.Trackers[i], snap.Trackers[j]
		if a.Email != b.Email {
			return a.Email < b.Email
		}
		return a.UserID < b.UserID
	})
	return snap
}

// IsRejection reports whether err is one of the errors Apply and
// HandleMessage return for dropped broadcasts.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidBroadcast) ||
		errors.Is(err, ErrUnknownMessageType) ||
		errors.Is(err, ErrStale) ||
		errors.Is(err, ErrClockSkew)
}
