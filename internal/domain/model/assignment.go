// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// TeamSide identifies which team of a match a player belongs to.
type TeamSide string

const (
	TeamHome TeamSide = "home"
	TeamAway TeamSide = "away"
)

// ParseTeamSide accepts "home" or "away" in any case.
func ParseTeamSide(s string) (TeamSide, bool) {
	switch TeamSide(strings.ToLower(strings.TrimSpace(s))) {
	case TeamHome:
		return TeamHome, true
	case TeamAway:
		return TeamAway, true
	}
	return "", false
}

// AssignmentType tags how an assignment was created.
type AssignmentType string

const (
	AssignmentIndividual AssignmentType = "individual"
	AssignmentGroup      AssignmentType = "group"
)

// RoleTracker is the profile role of users that can be assigned.
const RoleTracker = "tracker"

// TrackerUser is the identity of a tracker as seen by this service.
type TrackerUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// Profile is a user record owned by the external profile store.
type Profile struct {
	ID       string `json:"id" koanf:"id"`
	Email    string `json:"email" koanf:"email"`
	FullName string `json:"full_name" koanf:"full_name"`
	Role     string `json:"role" koanf:"role"`
}

// Assignment binds one tracker to one player's event types within a match.
// Assignments are never mutated; reassignment is delete then create.
type Assignment struct {
	ID                 string         `json:"id"`
	MatchID            string         `json:"match_id"`
	TrackerUserID      string         `json:"tracker_user_id"`
	TrackerEmail       string         `json:"tracker_email,omitempty"`
	PlayerID           string         `json:"player_id"`
	PlayerTeamID       TeamSide       `json:"player_team_id"`
	AssignedEventTypes []string       `json:"assigned_event_types"`
	AssignmentType     AssignmentType `json:"assignment_type"`
	VideoURL           string         `json:"video_url,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Owns reports whether the assignment claims eventType.
func (a *Assignment) Owns(eventType string) bool {
	for _, et := range a.AssignedEventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// SameSlot reports whether both assignments target the same player of the
// same team in the same match.
func (a *Assignment) SameSlot(o *Assignment) bool {
	return a.MatchID == o.MatchID && a.PlayerID == o.PlayerID && a.PlayerTeamID == o.PlayerTeamID
}

// Claims expands the assignment into one claim per event type.
func (a *Assignment) Claims() []Claim {
	out := make([]Claim, 0, len(a.AssignedEventTypes))
	for _, et := range a.AssignedEventTypes {
		out = append(out, Claim{
			ClaimKey: ClaimKey{
				MatchID:   a.MatchID,
				PlayerID:  a.PlayerID,
				TeamID:    a.PlayerTeamID,
				EventType: et,
			},
			AssignmentID:  a.ID,
			TrackerUserID: a.TrackerUserID,
			TrackerEmail:  a.TrackerEmail,
		})
	}
	return out
}

// ClaimKey is the unit of exclusive ownership.
type ClaimKey struct {
	MatchID   string   `json:"match_id"`
	PlayerID  string   `json:"player_id"`
	TeamID    TeamSide `json:"player_team_id"`
	EventType string   `json:"event_type"`
}

// Claim records which assignment (and tracker) owns a ClaimKey.
type Claim struct {
	ClaimKey
	AssignmentID  string `json:"assignment_id"`
	TrackerUserID string `json:"tracker_user_id"`
	TrackerEmail  string `json:"tracker_email,omitempty"`
}
