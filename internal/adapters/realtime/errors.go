package realtime

import "errors"

var (
	ErrHubClosed = errors.New("realtime hub closed")
	ErrTimedOut  = errors.New("subscribe timed out")
	ErrNoTopic   = errors.New("topic is required")
)
