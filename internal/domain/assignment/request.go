// Package assignment holds the rules for creating tracker assignments:
// request validation, event type exclusivity and the form grid.
package assignment

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/okian/pitchside/internal/domain/model"
)

// Request is an unvalidated create request. Individual requests carry
// exactly one player id.
type Request struct {
	Type       model.AssignmentType
	MatchID    string
	TrackerID  string
	TeamID     string
	PlayerIDs  []string
	EventTypes []string
	VideoURL   string
}

// Plan is a validated Request.
type Plan struct {
	Type       model.AssignmentType
	MatchID    string
	TrackerID  string
	Team       model.TeamSide
	PlayerIDs  []string
	EventTypes []string
	VideoURL   string
}

// Validate normalizes r and reports all problems at once.
func (r *Request) Validate() (*Plan, error) {
	var problems []string
	p := &Plan{
		Type:      r.Type,
		MatchID:   strings.TrimSpace(r.MatchID),
		TrackerID: strings.TrimSpace(r.TrackerID),
		VideoURL:  strings.TrimSpace(r.VideoURL),
	}
	if p.Type == "" {
		p.Type = model.AssignmentIndividual
	}

	if p.MatchID == "" {
		problems = append(problems, "match_id is required")
	}
	if p.TrackerID == "" {
		problems = append(problems, "tracker_id is required")
	}

	team, ok := model.ParseTeamSide(r.TeamID)
	if !ok {
		problems = append(problems, fmt.Sprintf("team %q must be home or away", r.TeamID))
	}
	p.Team = team

	p.PlayerIDs = uniqueTrimmed(r.PlayerIDs)
	switch p.Type {
	case model.AssignmentIndividual:
		if len(p.PlayerIDs) != 1 {
			problems = append(problems, "player_id is required")
		}
	case model.AssignmentGroup:
		if len(p.PlayerIDs) == 0 {
			problems = append(problems, "player_ids must not be empty")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown assignment type %q", p.Type))
	}

	known, unknown := model.NormalizeEventTypes(r.EventTypes)
	for _, et := range unknown {
		problems = append(problems, fmt.Sprintf("unknown event type %q", et))
	}
	if len(known) == 0 && len(unknown) == 0 {
		problems = append(problems, "event_types must not be empty")
	}
	p.EventTypes = known

	if p.VideoURL != "" {
		u, err := url.Parse(p.VideoURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, "video_url must be an absolute http(s) URL")
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return p, nil
}

// Assignments expands the plan into one record per player.
func (p *Plan) Assignments(newID func() string, tracker model.TrackerUser, now time.Time) []model.Assignment {
	out := make([]model.Assignment, 0, len(p.PlayerIDs))
	for _, player := range p.PlayerIDs {
		out = append(out, model.Assignment{
			ID:                 newID(),
			MatchID:            p.MatchID,
			TrackerUserID:      p.TrackerID,
			TrackerEmail:       tracker.Email,
			PlayerID:           player,
			PlayerTeamID:       p.Team,
			AssignedEventTypes: append([]string(nil), p.EventTypes...),
			AssignmentType:     p.Type,
			VideoURL:           p.VideoURL,
			CreatedAt:          now,
		})
	}
	return out
}

func uniqueTrimmed(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
