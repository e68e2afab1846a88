package model

import "time"

// NotificationType classifies an assignment notification.
type NotificationType string

const (
	NotificationMatchAssignment NotificationType = "match_assignment"
	NotificationVideoAssignment NotificationType = "video_assignment"
)

// Notification is a message queued for a tracker's inbox.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	MatchID   string           `json:"match_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"notification_data,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
