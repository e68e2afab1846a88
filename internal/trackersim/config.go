// Package trackersim simulates match trackers broadcasting their status to a
// running pitchside service.
package trackersim

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Transports a simulated tracker can publish over.
const (
	TransportWebSocket = "ws"
	TransportHTTP      = "http"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL   string        // Base URL of the service
	MatchID   string        // Match whose presence channel is used
	Trackers  []string      // Tracker user ids to simulate
	Transport string        // ws or http
	Interval  time.Duration // Time between two broadcasts of one tracker
	Duration  time.Duration // Total run time
	Timeout   time.Duration // HTTP request and dial timeout
	Verbose   bool          // Log every broadcast
}

// Validate checks the run parameters.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base url %q: %w", c.BaseURL, err)
	}
	if strings.TrimSpace(c.MatchID) == "" {
		return fmt.Errorf("match id is required")
	}
	if len(c.Trackers) == 0 {
		return fmt.Errorf("at least one tracker is required")
	}
	if c.Transport != TransportWebSocket && c.Transport != TransportHTTP {
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Interval <= 0 || c.Duration <= 0 || c.Timeout <= 0 {
		return fmt.Errorf("interval, duration and timeout must be positive")
	}
	return nil
}

// websocketURL maps the base URL onto the match's presence socket.
func (c *Config) websocketURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/matches/" + c.MatchID + "/presence"
	u.RawPath = ""
	return u.String(), nil
}

// Stats holds run statistics.
type Stats struct {
	Sent      int64 // broadcasts accepted by the service
	Failed    int64 // broadcasts that could not be sent
	Observed  int64 // broadcasts seen by the observer socket
	StartTime time.Time
	Duration  time.Duration
}
