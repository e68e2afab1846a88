package assignment

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/pitchside/internal/domain/model"
)

// Notification builds the inbox message for freshly created assignments of
// one tracker. All records must come from the same plan.
func Notification(created []model.Assignment, id string, now time.Time) model.Notification {
	first := created[0]
	players := make([]string, 0, len(created))
	ids := make([]string, 0, len(created))
	for i := range created {
		players = append(players, created[i].PlayerID)
		ids = append(ids, created[i].ID)
	}

	n := model.Notification{
		ID:        id,
		UserID:    first.TrackerUserID,
		MatchID:   first.MatchID,
		Type:      model.NotificationMatchAssignment,
		Title:     "New match assignment",
		CreatedAt: now,
		Data: map[string]any{
			"assignment_ids":  ids,
			"assignment_type": string(first.AssignmentType),
			"player_ids":      players,
			"team":            string(first.PlayerTeamID),
			"event_types":     append([]string(nil), first.AssignedEventTypes...),
		},
	}
	if first.VideoURL != "" {
		n.Type = model.NotificationVideoAssignment
		n.Title = "New video assignment"
		n.Data["video_url"] = first.VideoURL
	}

	subject := "player " + first.PlayerID
	if len(players) > 1 {
		subject = "players " + strings.Join(players, ", ")
	}
	n.Message = fmt.Sprintf("You are tracking %s for %s (%s) in match %s.",
		strings.Join(first.AssignedEventTypes, ", "), subject, first.PlayerTeamID, first.MatchID)
	return n
}
