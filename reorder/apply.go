package reorder

import (
	"slices"

	"github.com/CrowderSoup/email-collector/database"
)

// Plan is the outcome of an optimistic move.
type Plan struct {
	DraggedID   int64
	TargetID    int64
	Master      []database.Entry
	Assignments []database.OrderAssignment
}

// Move removes the dragged entry from seq and reinserts it at the target's index.
// Entries between the two positions shift by one.
func Move(seq []database.Entry, draggedID, targetID int64) ([]database.Entry, error) {
	if draggedID == targetID {
		return nil, ErrNoOpDrop
	}

	from, to := indexOf(seq, draggedID), indexOf(seq, targetID)
	if from < 0 || to < 0 {
		return nil, ErrNoOpDrop
	}

	out := slices.Clone(seq)
	moved := out[from]
	out = slices.Delete(out, from, from+1)
	out = slices.Insert(out, to, moved)
	return out, nil
}

// Apply moves draggedID onto targetID within the rendered view and renumbers the
// whole master collection 1..N.
//
// The view decides only the relative order of visible entries: they are laid back
// into the master slots they occupied before the move, so entries hidden by a
// search filter keep their absolute positions.
func Apply(master, view []database.Entry, draggedID, targetID int64) (Plan, error) {
	moved, err := Move(view, draggedID, targetID)
	if err != nil {
		return Plan{}, err
	}

	visible := make(map[int64]struct{}, len(view))
	for _, e := range view {
		visible[e.ID] = struct{}{}
	}

	slots := make([]int, 0, len(view))
	for i, e := range master {
		if _, ok := visible[e.ID]; ok {
			slots = append(slots, i)
		}
	}
	// the view references entries the master no longer has
	if len(slots) != len(moved) {
		return Plan{}, ErrNoOpDrop
	}

	next := slices.Clone(master)
	for k, slot := range slots {
		next[slot] = moved[k]
	}

	assignments := make([]database.OrderAssignment, len(next))
	for i := range next {
		next[i].Order = i + 1
		assignments[i] = database.OrderAssignment{ID: next[i].ID, Order: next[i].Order}
	}

	return Plan{
		DraggedID:   draggedID,
		TargetID:    targetID,
		Master:      next,
		Assignments: assignments,
	}, nil
}
