package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/pitchside/internal/adapters/realtime"
	"github.com/okian/pitchside/internal/domain/assignment"
	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/internal/domain/presence"
	"github.com/okian/pitchside/internal/domain/types"
	"github.com/okian/pitchside/pkg/logger"
	"github.com/okian/pitchside/pkg/metrics"
)

// monitorEntry ties a monitor to its channel subscription and pump.
type monitorEntry struct {
	monitor *presence.Monitor
	hub     *realtime.Hub
	sub     *realtime.Subscription
	done    chan struct{}
}

// OpenMonitor starts a presence view for the match. Every tracker with an
// assignment in the match is listed as inactive until it broadcasts.
func (s *Service) OpenMonitor(ctx context.Context, matchID string) (types.MonitorSnapshot, error) {
	store, hub, err := s.deps()
	if err != nil {
		return types.MonitorSnapshot{}, err
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return types.MonitorSnapshot{}, &assignment.ValidationError{Problems: []string{"match_id is required"}}
	}

	assignments, err := store.ListAssignments(ctx, matchID)
	if err != nil {
		return types.MonitorSnapshot{}, fmt.Errorf("list assignments for %s: %w", matchID, err)
	}

	m := presence.NewMonitor(s.newID(), matchID,
		presence.WithClock(s.now),
		presence.WithLivenessTimeout(s.liveness),
		presence.WithMaxClockSkew(s.maxClockSkew),
		presence.WithLogger(s.logger.Named("presence")),
	)
	m.Seed(assignedTrackers(assignments))

	sub, err := hub.Subscribe(ctx, m.Topic())
	if err != nil {
		if sub != nil {
			m.SetLink(linkStatus(sub.Status()))
		}
		return m.Snapshot(), fmt.Errorf("subscribe %s: %w", m.Topic(), err)
	}
	m.SetLink(presence.LinkSubscribed)

	e := &monitorEntry{monitor: m, hub: hub, sub: sub, done: make(chan struct{})}
	s.monitorsMu.Lock()
	s.monitors[m.ID()] = e
	count := len(s.monitors)
	s.monitorsMu.Unlock()
	metrics.UpdateActiveMonitors(count)

	go s.pump(e)

	s.logger.Info(ctx, "monitor opened",
		logger.String("monitorID", m.ID()),
		logger.String("matchID", matchID),
		logger.Int("trackers", len(assignments)))
	return m.Snapshot(), nil
}

// assignedTrackers returns each tracker of the assignments once, in order
// of first appearance.
func assignedTrackers(assignments []model.Assignment) []model.TrackerUser {
	seen := make(map[string]struct{}, len(assignments))
	out := make([]model.TrackerUser, 0, len(assignments))
	for i := range assignments {
		a := &assignments[i]
		if _, ok := seen[a.TrackerUserID]; ok {
			continue
		}
		seen[a.TrackerUserID] = struct{}{}
		out = append(out, model.TrackerUser{ID: a.TrackerUserID, Email: a.TrackerEmail})
	}
	return out
}

// pump applies channel messages to the monitor until the subscription ends,
// then mirrors the final subscription status on the monitor link.
func (s *Service) pump(e *monitorEntry) {
	defer close(e.done)
	ctx := context.Background()
	for msg := range e.sub.Messages() {
		recordBroadcast(e.monitor.HandleMessage(ctx, msg.Payload))
	}
	e.monitor.SetLink(linkStatus(e.sub.Status()))
}

func recordBroadcast(err error) {
	switch {
	case err == nil:
		metrics.RecordBroadcastAccepted()
	case errors.Is(err, presence.ErrStale):
		metrics.RecordBroadcastRejected("stale")
	case errors.Is(err, presence.ErrClockSkew):
		metrics.RecordBroadcastRejected("clock_skew")
	case errors.Is(err, presence.ErrUnknownMessageType):
		metrics.RecordBroadcastRejected("unknown_type")
	case errors.Is(err, presence.ErrInvalidBroadcast):
		metrics.RecordBroadcastRejected("invalid")
	}
}

func linkStatus(status realtime.Status) presence.LinkStatus {
	switch status {
	case realtime.StatusSubscribed:
		return presence.LinkSubscribed
	case realtime.StatusChannelError:
		return presence.LinkChannelError
	case realtime.StatusTimedOut:
		return presence.LinkTimedOut
	default:
		return presence.LinkClosed
	}
}

func (s *Service) lookupMonitor(id string) (*monitorEntry, error) {
	s.monitorsMu.Lock()
	defer s.monitorsMu.Unlock()
	e, ok := s.monitors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMonitorNotFound, id)
	}
	return e, nil
}

func (s *Service) monitorCount() int {
	s.monitorsMu.Lock()
	defer s.monitorsMu.Unlock()
	return len(s.monitors)
}

// takeMonitors empties the registry and returns what it held.
func (s *Service) takeMonitors() []*monitorEntry {
	s.monitorsMu.Lock()
	defer s.monitorsMu.Unlock()
	out := make([]*monitorEntry, 0, len(s.monitors))
	for id, e := range s.monitors {
		out = append(out, e)
		delete(s.monitors, id)
	}
	return out
}

// MonitorSnapshot returns the current tracker rows of a monitor.
func (s *Service) MonitorSnapshot(_ context.Context, id string) (types.MonitorSnapshot, error) {
	e, err := s.lookupMonitor(id)
	if err != nil {
		return types.MonitorSnapshot{}, err
	}
	return e.monitor.Snapshot(), nil
}

// CloseMonitor unsubscribes the monitor and forgets its overrides.
func (s *Service) CloseMonitor(ctx context.Context, id string) error {
	s.monitorsMu.Lock()
	e, ok := s.monitors[id]
	if ok {
		delete(s.monitors, id)
	}
	count := len(s.monitors)
	s.monitorsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrMonitorNotFound, id)
	}
	metrics.UpdateActiveMonitors(count)
	s.closeEntry(ctx, e)
	return nil
}

func (s *Service) closeEntry(ctx context.Context, e *monitorEntry) {
	e.monitor.Close()
	e.hub.Unsubscribe(e.sub)
	<-e.done
	s.logger.Info(ctx, "monitor closed",
		logger.String("monitorID", e.monitor.ID()),
		logger.String("matchID", e.monitor.MatchID()))
}

// MarkAbsent flags a tracker absent on one monitor.
func (s *Service) MarkAbsent(_ context.Context, monitorID, trackerID string) error {
	e, err := s.lookupMonitor(monitorID)
	if err != nil {
		return err
	}
	e.monitor.MarkAbsent(trackerID)
	return nil
}

// Reconnect clears a tracker's absent flag on one monitor.
func (s *Service) Reconnect(_ context.Context, monitorID, trackerID string) error {
	e, err := s.lookupMonitor(monitorID)
	if err != nil {
		return err
	}
	e.monitor.Reconnect(trackerID)
	return nil
}

// ReapIdleMonitors closes monitors whose snapshot was not read within the
// idle timeout and returns how many were closed.
func (s *Service) ReapIdleMonitors(ctx context.Context) int {
	now := s.now()

	s.monitorsMu.Lock()
	var idle []*monitorEntry
	for id, e := range s.monitors {
		if now.Sub(e.monitor.IdleSince()) >= s.idleTimeout {
			idle = append(idle, e)
			delete(s.monitors, id)
		}
	}
	count := len(s.monitors)
	s.monitorsMu.Unlock()

	if len(idle) == 0 {
		return 0
	}
	metrics.UpdateActiveMonitors(count)
	for _, e := range idle {
		s.logger.Info(ctx, "reaping idle monitor",
			logger.String("monitorID", e.monitor.ID()),
			logger.Duration("idle", now.Sub(e.monitor.IdleSince())))
		s.closeEntry(ctx, e)
	}
	return len(idle)
}

func (s *Service) reapLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.ReapIdleMonitors(context.Background())
		}
	}
}

// NormalizeBroadcast validates a raw tracker_status payload and returns its
// canonical encoding. Rejected payloads are counted.
func (s *Service) NormalizeBroadcast(_ context.Context, data []byte) ([]byte, error) {
	b, err := presence.DecodeBroadcast(data, s.now())
	if err != nil {
		recordBroadcast(err)
		return nil, err
	}
	return presence.EncodeBroadcast(b)
}

// PublishPresence broadcasts a tracker status on the match topic and returns
// how many listeners received it.
func (s *Service) PublishPresence(ctx context.Context, matchID string, data []byte) (int, error) {
	_, hub, err := s.deps()
	if err != nil {
		return 0, err
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return 0, &assignment.ValidationError{Problems: []string{"match_id is required"}}
	}
	payload, err := s.NormalizeBroadcast(ctx, data)
	if err != nil {
		return 0, err
	}
	return hub.Publish(ctx, presence.TopicName(matchID), payload, "")
}

// MatchMonitors lists the ids of the open monitors of a match.
func (s *Service) MatchMonitors(matchID string) []string {
	s.monitorsMu.Lock()
	defer s.monitorsMu.Unlock()
	var ids []string
	for id, e := range s.monitors {
		if e.monitor.MatchID() == matchID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
