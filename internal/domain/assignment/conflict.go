package assignment

import (
	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/internal/domain/types"
)

// Index maps every claimed key to its owner.
type Index map[model.ClaimKey]model.Claim

// NewIndex builds the claim index of existing assignments.
func NewIndex(existing []model.Assignment) Index {
	idx := make(Index)
	for i := range existing {
		for _, c := range existing[i].Claims() {
			idx[c.ClaimKey] = c
		}
	}
	return idx
}

// Conflicts returns the indexed claims that any candidate would collide with,
// in candidate order.
func (idx Index) Conflicts(candidates []model.Assignment) []model.Claim {
	var out []model.Claim
	for i := range candidates {
		for _, c := range candidates[i].Claims() {
			if owner, ok := idx[c.ClaimKey]; ok {
				out = append(out, owner)
			}
		}
	}
	return out
}

// Add records the claims of a.
func (idx Index) Add(a *model.Assignment) {
	for _, c := range a.Claims() {
		idx[c.ClaimKey] = c
	}
}

// Remove releases the claims held by a.
func (idx Index) Remove(a *model.Assignment) {
	for _, c := range a.Claims() {
		if owner, ok := idx[c.ClaimKey]; ok && owner.AssignmentID == a.ID {
			delete(idx, c.ClaimKey)
		}
	}
}

// FindConflicts is NewIndex(existing).Conflicts(candidates).
func FindConflicts(existing, candidates []model.Assignment) []model.Claim {
	return NewIndex(existing).Conflicts(candidates)
}

// Grid returns one cell per vocabulary entry for the selected player. A cell
// is disabled when another assignment already claims its event type.
func Grid(existing []model.Assignment, matchID, playerID string, team model.TeamSide) []types.GridCell {
	idx := NewIndex(existing)
	cells := make([]types.GridCell, 0, len(model.EventTypes))
	for _, et := range model.EventTypes {
		cell := types.GridCell{EventType: et}
		key := model.ClaimKey{MatchID: matchID, PlayerID: playerID, TeamID: team, EventType: et}
		if owner, ok := idx[key]; ok {
			cell.Disabled = true
			cell.AssignmentID = owner.AssignmentID
			cell.OwnerTrackerID = owner.TrackerUserID
			cell.OwnerEmail = owner.TrackerEmail
		}
		cells = append(cells, cell)
	}
	return cells
}
