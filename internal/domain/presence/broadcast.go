// Package presence tracks live tracker status for one match as seen by one
// admin monitor.
package presence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/okian/pitchside/internal/domain/model"
)

// MessageTypeTrackerStatus is the only message type on presence topics.
const MessageTypeTrackerStatus = "tracker_status"

const topicPrefix = "tracker_status:"

// TopicName returns the channel topic for a match.
func TopicName(matchID string) string {
	return topicPrefix + matchID
}

type wireBroadcast struct {
	Type           string          `json:"type"`
	UserID         string          `json:"user_id"`
	Status         string          `json:"status"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
	Action         *string         `json:"action,omitempty"`
	BatteryLevel   *float64        `json:"battery_level,omitempty"`
	NetworkQuality *string         `json:"network_quality,omitempty"`
	Seq            *int64          `json:"seq,omitempty"`
}

// DecodeBroadcast validates a raw channel payload. A missing timestamp is
// replaced by receivedAt.
func DecodeBroadcast(data []byte, receivedAt time.Time) (*model.StatusBroadcast, error) {
	var w wireBroadcast
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBroadcast, err)
	}
	if w.Type != MessageTypeTrackerStatus {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, w.Type)
	}

	b := &model.StatusBroadcast{UserID: strings.TrimSpace(w.UserID)}
	if b.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidBroadcast)
	}

	status, ok := model.ParseTrackerStatus(w.Status)
	if !ok {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidBroadcast, w.Status)
	}
	b.Status = status

	ts, err := parseTimestamp(w.Timestamp, receivedAt)
	if err != nil {
		return nil, err
	}
	b.Timestamp = ts

	if w.Action != nil {
		b.Action = strings.TrimSpace(*w.Action)
	}
	if w.BatteryLevel != nil {
		lvl := *w.BatteryLevel
		if lvl < 0 || lvl > 100 || lvl != math.Trunc(lvl) {
			return nil, fmt.Errorf("%w: battery_level %v outside 0-100", ErrInvalidBroadcast, lvl)
		}
		n := int(lvl)
		b.BatteryLevel = &n
	}
	if w.NetworkQuality != nil {
		q, ok := model.ParseNetworkQuality(*w.NetworkQuality)
		if !ok {
			return nil, fmt.Errorf("%w: network_quality %q", ErrInvalidBroadcast, *w.NetworkQuality)
		}
		b.NetworkQuality = q
	}
	if w.Seq != nil {
		if *w.Seq < 0 {
			return nil, fmt.Errorf("%w: negative seq", ErrInvalidBroadcast)
		}
		seq := *w.Seq
		b.Seq = &seq
	}
	return b, nil
}

// parseTimestamp accepts an RFC 3339 string or epoch milliseconds.
func parseTimestamp(raw json.RawMessage, fallback time.Time) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return fallback, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrInvalidBroadcast, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrInvalidBroadcast, s)
		}
		return ts, nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %s", ErrInvalidBroadcast, string(raw))
	}
	return time.UnixMilli(ms), nil
}

// EncodeBroadcast renders b in wire form with an RFC 3339 timestamp.
func EncodeBroadcast(b *model.StatusBroadcast) ([]byte, error) {
	w := wireBroadcast{
		Type:   MessageTypeTrackerStatus,
		UserID: b.UserID,
		Status: string(b.Status),
		Seq:    b.Seq,
	}
	ts, err := json.Marshal(b.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	w.Timestamp = ts
	if b.Action != "" {
		w.Action = &b.Action
	}
	if b.BatteryLevel != nil {
		lvl := float64(*b.BatteryLevel)
		w.BatteryLevel = &lvl
	}
	if b.NetworkQuality != "" {
		q := string(b.NetworkQuality)
		w.NetworkQuality = &q
	}
	return json.Marshal(w)
}
