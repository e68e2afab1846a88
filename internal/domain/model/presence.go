package model

import (
	"strings"
	"time"
)

// LivenessTimeout is how long a tracker stays connected after its last activity.
const LivenessTimeout = 30 * time.Second

// TrackerStatus is the activity a tracker reports about itself.
type TrackerStatus string

const (
	StatusActive    TrackerStatus = "active"
	StatusInactive  TrackerStatus = "inactive"
	StatusRecording TrackerStatus = "recording"
)

// ParseTrackerStatus accepts the three known statuses in any case.
func ParseTrackerStatus(s string) (TrackerStatus, bool) {
	switch TrackerStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, true
	case StatusInactive:
		return StatusInactive, true
	case StatusRecording:
		return StatusRecording, true
	}
	return "", false
}

// NetworkQuality is the link quality a tracker reports.
type NetworkQuality string

const (
	NetworkExcellent NetworkQuality = "excellent"
	NetworkGood      NetworkQuality = "good"
	NetworkPoor      NetworkQuality = "poor"
)

// ParseNetworkQuality accepts the three known qualities in any case.
func ParseNetworkQuality(s string) (NetworkQuality, bool) {
	switch NetworkQuality(strings.ToLower(strings.TrimSpace(s))) {
	case NetworkExcellent:
		return NetworkExcellent, true
	case NetworkGood:
		return NetworkGood, true
	case NetworkPoor:
		return NetworkPoor, true
	}
	return "", false
}

// StatusBroadcast is a validated tracker_status message.
type StatusBroadcast struct {
	UserID         string
	Status         TrackerStatus
	Timestamp      time.Time
	Action         string
	BatteryLevel   *int
	NetworkQuality NetworkQuality
	Seq            *int64
}

// TrackerInfo is the last known presence of one tracker. It is never persisted.
// A zero LastActivity means the tracker has not been heard from.
type TrackerInfo struct {
	UserID         string         `json:"user_id"`
	Email          string         `json:"email"`
	Status         TrackerStatus  `json:"status"`
	LastActivity   time.Time      `json:"last_activity"`
	CurrentAction  string         `json:"current_action,omitempty"`
	BatteryLevel   *int           `json:"battery_level,omitempty"`
	NetworkQuality NetworkQuality `json:"network_quality,omitempty"`

	lastSeq *int64
}

// Connected reports liveness with the default timeout.
func (t *TrackerInfo) Connected(now time.Time) bool {
	return t.ConnectedWithin(now, LivenessTimeout)
}

// ConnectedWithin reports whether now - LastActivity < timeout. Exactly
// timeout counts as disconnected.
func (t *TrackerInfo) ConnectedWithin(now time.Time, timeout time.Duration) bool {
	if t.LastActivity.IsZero() {
		return false
	}
	return now.Sub(t.LastActivity) < timeout
}

// Supersedes reports whether b is newer than what t already reflects, using
// the default liveness timeout to detect restarted sessions.
func (t *TrackerInfo) Supersedes(b *StatusBroadcast) bool {
	return t.SupersedesWithin(b, LivenessTimeout)
}

// SupersedesWithin reports whether b is newer than what t already reflects.
// Sequence numbers win when both sides carry one. A lower seq stamped at
// least timeout after the last activity starts a new session: the sender
// restarted its counter after going silent. Without seq the broadcast
// timestamp must not be older than the last applied activity.
func (t *TrackerInfo) SupersedesWithin(b *StatusBroadcast, timeout time.Duration) bool {
	if b.Seq != nil && t.lastSeq != nil {
		if *b.Seq > *t.lastSeq {
			return true
		}
		return b.Timestamp.Sub(t.LastActivity) >= timeout
	}
	if t.LastActivity.IsZero() {
		return true
	}
	return !b.Timestamp.Before(t.LastActivity)
}

// Apply overwrites t with the content of b. Optional fields that b omits
// keep their previous values.
func (t *TrackerInfo) Apply(b *StatusBroadcast) {
	t.Status = b.Status
	t.LastActivity = b.Timestamp
	if b.Action != "" {
		t.CurrentAction = b.Action
	}
	if b.BatteryLevel != nil {
		lvl := *b.BatteryLevel
		t.BatteryLevel = &lvl
	}
	if b.NetworkQuality != "" {
		t.NetworkQuality = b.NetworkQuality
	}
	if b.Seq != nil {
		seq := *b.Seq
		t.lastSeq = &seq
	}
}
