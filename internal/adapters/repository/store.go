// Package repository persists assignments, profiles and notifications.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okian/pitchside/internal/domain/assignment"
	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/pkg/metrics"
)

// AssignmentStore reads and writes assignments and their claims.
type AssignmentStore interface {
	// CreateAssignments writes every record and its claims in one atomic step.
	// If any claim is already held, nothing is written and the error is an
	// *assignment.ConflictError listing the current owners.
	CreateAssignments(ctx context.Context, batch []model.Assignment) error

	// ListAssignments returns the match's assignments oldest first, with
	// tracker emails filled in.
	ListAssignments(ctx context.Context, matchID string) ([]model.Assignment, error)

	// ListPlayerAssignments narrows ListAssignments to one player of one team.
	ListPlayerAssignments(ctx context.Context, matchID, playerID string, team model.TeamSide) ([]model.Assignment, error)

	// DeleteAssignment removes the record and releases its claims.
	// Returns ErrNotFound if the id is unknown.
	DeleteAssignment(ctx context.Context, id string) (model.Assignment, error)
}

// ProfileStore reads tracker profiles.
type ProfileStore interface {
	// ListTrackers returns profiles with the tracker role, by email.
	ListTrackers(ctx context.Context) ([]model.TrackerUser, error)
	// GetTracker returns ErrNotFound unless id is a tracker profile.
	GetTracker(ctx context.Context, id string) (model.TrackerUser, error)
	UpsertProfiles(ctx context.Context, profiles []model.Profile) error
}

// NotificationSink receives assignment notifications.
type NotificationSink interface {
	InsertNotification(ctx context.Context, n model.Notification) error
}

// NotificationReader lists a user's notifications, newest first.
type NotificationReader interface {
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	AssignmentStore
	ProfileStore
	NotificationSink
	NotificationReader
	Close() error
}

func observe(op string, start time.Time, err error) {
	metrics.RecordRepositoryLatency(op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && !errors.Is(err, assignment.ErrConflict) && !errors.Is(err, ErrNotFound) {
		metrics.RecordRepositoryError(op)
	}
}
