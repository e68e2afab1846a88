package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/okian/pitchside/internal/adapters/repository"
	"github.com/okian/pitchside/internal/domain/assignment"
	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/internal/domain/types"
	"github.com/okian/pitchside/pkg/logger"
	"github.com/okian/pitchside/pkg/metrics"
)

const defaultNotificationLimit = 50

// CreateIndividualAssignment assigns event types of one player to a tracker.
// Overlap with an existing assignment fails the whole request with an
// *assignment.ConflictError and nothing is written.
func (s *Service) CreateIndividualAssignment(ctx context.Context, req assignment.Request) (model.Assignment, error) { //nolint:gocritic // request is copied on purpose
	req.Type = model.AssignmentIndividual
	created, err := s.createAssignments(ctx, &req)
	if err != nil {
		return model.Assignment{}, err
	}
	return created[0], nil
}

// CreateGroupAssignment assigns the same event types of several players of
// one team to a tracker. Either every record is written or none.
func (s *Service) CreateGroupAssignment(ctx context.Context, req assignment.Request) ([]model.Assignment, error) { //nolint:gocritic // request is copied on purpose
	req.Type = model.AssignmentGroup
	return s.createAssignments(ctx, &req)
}

func (s *Service) createAssignments(ctx context.Context, req *assignment.Request) ([]model.Assignment, error) {
	store, _, err := s.deps()
	if err != nil {
		return nil, err
	}

	plan, err := req.Validate()
	if err != nil {
		metrics.RecordAssignmentRejected("validation")
		return nil, err
	}

	tracker, err := store.GetTracker(ctx, plan.TrackerID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		metrics.RecordAssignmentRejected("validation")
		return nil, &assignment.ValidationError{
			Problems: []string{fmt.Sprintf("tracker %q is not a known tracker", plan.TrackerID)},
		}
	case err != nil:
		metrics.RecordAssignmentRejected("store")
		return nil, fmt.Errorf("load tracker %s: %w", plan.TrackerID, err)
	}

	existing, err := store.ListAssignments(ctx, plan.MatchID)
	if err != nil {
		metrics.RecordAssignmentRejected("store")
		return nil, fmt.Errorf("list assignments for %s: %w", plan.MatchID, err)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	batch := plan.Assignments(s.newID, tracker, now)
	if conflicts := assignment.FindConflicts(existing, batch); len(conflicts) > 0 {
		metrics.RecordAssignmentRejected("conflict")
		return nil, &assignment.ConflictError{Conflicts: conflicts}
	}

	// The pre-check can race with another create; the store re-checks atomically.
	if err := store.CreateAssignments(ctx, batch); err != nil {
		if errors.Is(err, assignment.ErrConflict) {
			metrics.RecordAssignmentRejected("conflict")
			s.logger.Info(ctx, "assignment lost a concurrent claim",
				logger.String("matchID", plan.MatchID),
				logger.String("trackerID", plan.TrackerID))
			return nil, err
		}
		metrics.RecordAssignmentRejected("store")
		return nil, fmt.Errorf("create assignments: %w", err)
	}

	for i := range batch {
		metrics.RecordAssignmentCreated(string(batch[i].AssignmentType))
	}
	s.logger.Info(ctx, "assignments created",
		logger.String("matchID", plan.MatchID),
		logger.String("trackerID", plan.TrackerID),
		logger.String("type", string(plan.Type)),
		logger.Strings("players", plan.PlayerIDs),
		logger.Strings("eventTypes", plan.EventTypes))

	s.notify(ctx, batch)
	return batch, nil
}

// notify queues the tracker notification. Failures are logged and counted;
// the created assignments stand.
func (s *Service) notify(ctx context.Context, created []model.Assignment) {
	n := assignment.Notification(created, s.newID(), created[0].CreatedAt)
	if err := s.queue.Enqueue(ctx, n); err != nil {
		s.dropped.Add(1)
		metrics.RecordNotificationDropped()
		s.logger.Warn(ctx, "notification dropped",
			logger.String("userID", n.UserID),
			logger.String("matchID", n.MatchID),
			logger.Error(err))
	}
}

// GetMatchAssignments returns every assignment of the match, oldest first,
// with tracker emails.
func (s *Service) GetMatchAssignments(ctx context.Context, matchID string) ([]model.Assignment, error) {
	store, _, err := s.deps()
	if err != nil {
		return nil, err
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return nil, &assignment.ValidationError{Problems: []string{"match_id is required"}}
	}
	return store.ListAssignments(ctx, matchID)
}

// GetAvailableTrackers lists the profiles that can be assigned.
func (s *Service) GetAvailableTrackers(ctx context.Context) ([]model.TrackerUser, error) {
	store, _, err := s.deps()
	if err != nil {
		return nil, err
	}
	return store.ListTrackers(ctx)
}

// DeleteAssignment removes an assignment and frees its event types.
func (s *Service) DeleteAssignment(ctx context.Context, id string) error {
	store, _, err := s.deps()
	if err != nil {
		return err
	}
	deleted, err := store.DeleteAssignment(ctx, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete assignment %s: %w", id, err)
	}
	metrics.RecordAssignmentDeleted()
	s.logger.Info(ctx, "assignment deleted",
		logger.String("assignmentID", deleted.ID),
		logger.String("matchID", deleted.MatchID),
		logger.String("playerID", deleted.PlayerID))
	return nil
}

// EventTypeGrid returns one cell per event type for the player, disabled
// where another assignment already owns it.
func (s *Service) EventTypeGrid(ctx context.Context, matchID, playerID, team string) ([]types.GridCell, error) {
	store, _, err := s.deps()
	if err != nil {
		return nil, err
	}

	var problems []string
	matchID, playerID = strings.TrimSpace(matchID), strings.TrimSpace(playerID)
	if matchID == "" {
		problems = append(problems, "match_id is required")
	}
	if playerID == "" {
		problems = append(problems, "player_id is required")
	}
	side, ok := model.ParseTeamSide(team)
	if !ok {
		problems = append(problems, fmt.Sprintf("team %q must be home or away", team))
	}
	if len(problems) > 0 {
		return nil, &assignment.ValidationError{Problems: problems}
	}

	existing, err := store.ListPlayerAssignments(ctx, matchID, playerID, side)
	if err != nil {
		return nil, fmt.Errorf("list player assignments: %w", err)
	}
	return assignment.Grid(existing, matchID, playerID, side), nil
}

// ListNotifications returns a tracker's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	store, _, err := s.deps()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	return store.ListNotifications(ctx, strings.TrimSpace(userID), limit)
}

// AcquireSubmission records an idempotency key. It reports false when the
// key was already submitted.
func (s *Service) AcquireSubmission(ctx context.Context, key string) bool {
	s.mu.RLock()
	guard := s.guard
	s.mu.RUnlock()
	if guard == nil {
		return true
	}
	if !guard.Acquire(ctx, key) {
		metrics.RecordDuplicateSubmission()
		return false
	}
	return true
}

// ReleaseSubmission forgets an idempotency key so a failed create can be
// retried with it.
func (s *Service) ReleaseSubmission(ctx context.Context, key string) {
	s.mu.RLock()
	guard := s.guard
	s.mu.RUnlock()
	if guard != nil {
		guard.Release(ctx, key)
	}
}
