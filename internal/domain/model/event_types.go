package model

import "strings"

// EventTypes is the fixed vocabulary of trackable match events. The order is
// the display order of the assignment grid.
var EventTypes = []string{ //nolint:gochecknoglobals // shared vocabulary
	"pass",
	"shot",
	"cross",
	"dribble",
	"tackle",
	"interception",
	"clearance",
	"save",
	"foul",
	"goal",
	"assist",
	"offside",
	"corner",
	"free_kick",
	"throw_in",
	"yellow_card",
	"red_card",
	"substitution",
	"ball_recovery",
	"aerial_duel",
}

var eventTypeSet = func() map[string]struct{} { //nolint:gochecknoglobals // derived from EventTypes
	m := make(map[string]struct{}, len(EventTypes))
	for _, et := range EventTypes {
		m[et] = struct{}{}
	}
	return m
}()

// IsEventType reports whether s belongs to the vocabulary.
func IsEventType(s string) bool {
	_, ok := eventTypeSet[s]
	return ok
}

// NormalizeEventTypes trims and lowercases the input, drops blanks and
// duplicates while keeping first-seen order, and returns the entries that
// are not in the vocabulary separately.
func NormalizeEventTypes(in []string) (known, unknown []string) {
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		et := strings.ToLower(strings.TrimSpace(raw))
		if et == "" {
			continue
		}
		if _, dup := seen[et]; dup {
			continue
		}
		seen[et] = struct{}{}
		if IsEventType(et) {
			known = append(known, et)
		} else {
			unknown = append(unknown, et)
		}
	}
	return known, unknown
}
