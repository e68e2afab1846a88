package presence

import "errors"

var (
	// ErrInvalidBroadcast is returned for payloads that fail boundary validation.
	ErrInvalidBroadcast = errors.New("invalid broadcast")
	// ErrUnknownMessageType is returned when the type tag is not tracker_status.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrStale is returned when a broadcast is older than what was already applied.
	ErrStale = errors.New("stale broadcast")
	// ErrClockSkew is returned when a broadcast is too far in the future.
	ErrClockSkew = errors.New("broadcast timestamp too far in the future")
	// ErrMonitorClosed is returned by operations on a closed monitor.
	ErrMonitorClosed = errors.New("monitor closed")
)
