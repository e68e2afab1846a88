package assignment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/okian/pitchside/internal/domain/model"
)

var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("invalid assignment request")
	// ErrConflict is matched by every ConflictError.
	ErrConflict = errors.New("event types already assigned")
)

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictError lists the claims that blocked a create.
type ConflictError struct {
	Conflicts []model.Claim
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		owner := c.TrackerEmail
		if owner == "" {
			owner = c.TrackerUserID
		}
		parts = append(parts, fmt.Sprintf("%s for player %s (%s) owned by %s", c.EventType, c.PlayerID, c.TeamID, owner))
	}
	return fmt.Sprintf("%s: %s", ErrConflict.Error(), strings.Join(parts, ", "))
}

// Is makes errors.Is(err, ErrConflict) hold.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// EventTypes returns the conflicting event types without duplicates.
func (e *ConflictError) EventTypes() []string {
	seen := make(map[string]struct{}, len(e.Conflicts))
	out := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		if _, ok := seen[c.EventType]; ok {
			continue
		}
		seen[c.EventType] = struct{}{}
		out = append(out, c.EventType)
	}
	return out
}
