// Package types contains read-side views shared by the service and the API.
package types

import (
	"time"

	"github.com/okian/pitchside/internal/domain/model"
)

// GridCell is one event type of the assignment form for a selected player.
type GridCell struct {
	EventType      string `json:"event_type"`
	Disabled       bool   `json:"disabled"`
	AssignmentID   string `json:"assignment_id,omitempty"`
	OwnerTrackerID string `json:"owner_tracker_id,omitempty"`
	OwnerEmail     string `json:"owner_email,omitempty"`
}

// TrackerRow is a tracker as shown on a presence monitor.
type TrackerRow struct {
	model.TrackerInfo
	Connected bool `json:"connected"`
	Absent    bool `json:"absent"`
}

// MonitorSnapshot is the point-in-time view of one presence monitor.
type MonitorSnapshot struct {
	MonitorID      string       `json:"monitor_id"`
	MatchID        string       `json:"match_id"`
	Topic          string       `json:"topic"`
	LinkStatus     string       `json:"link_status"`
	LinkConnected  bool         `json:"is_connected"`
	Trackers       []TrackerRow `json:"trackers"`
	ConnectedCount int          `json:"connected_count"`
	AbsentCount    int          `json:"absent_count"`
	Accepted       uint64       `json:"broadcasts_accepted"`
	Stale          uint64       `json:"broadcasts_stale"`
	Rejected       uint64       `json:"broadcasts_rejected"`
	TakenAt        time.Time    `json:"taken_at"`
}
