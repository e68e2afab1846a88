package service

import (
	"errors"
	"fmt"

	repository "github.com/okian/pitchside/internal/adapters/repository"
)

var (
	// ErrNotStarted is returned by operations called before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrNotFound matches every missing record, monitors included.
	ErrNotFound = repository.ErrNotFound
	// ErrMonitorNotFound is returned for unknown or reaped monitor ids.
	ErrMonitorNotFound = fmt.Errorf("monitor: %w", ErrNotFound)
)
