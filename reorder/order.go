// Package reorder implements manual reordering of the entry list: recognizing
// drag gestures from pointer and touch input, applying a move to the local view
// before storage confirms it, persisting the new order as one atomic batch and
// reconciling the view with the authoritative collection afterwards.
package reorder

import (
	"slices"

	"github.com/CrowderSoup/email-collector/database"
)

// Compare orders entries by ascending order index, newest first on ties,
// then by descending id so the sequence is total.
func Compare(a, b database.Entry) int {
	switch {
	case a.Order != b.Order:
		if a.Order < b.Order {
			return -1
		}
		return 1
	case !a.CreatedAt.Equal(b.CreatedAt):
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	case a.ID != b.ID:
		if a.ID > b.ID {
			return -1
		}
		return 1
	}
	return 0
}

// Sorted returns a copy of entries in display order.
func Sorted(entries []database.Entry) []database.Entry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, Compare)
	return out
}

// NextOrder is the order index a newly appended entry receives.
func NextOrder(entries []database.Entry) int {
	highest := 0
	for _, e := range entries {
		if e.Order > highest {
			highest = e.Order
		}
	}
	return highest + 1
}

// DistinctOrders reports whether no two entries share an order index.
func DistinctOrders(entries []database.Entry) bool {
	seen := make(map[int]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Order]; ok {
			return false
		}
		seen[e.Order] = struct{}{}
	}
	return true
}

func indexOf(entries []database.Entry, id int64) int {
	return slices.IndexFunc(entries, func(e database.Entry) bool { return e.ID == id })
}
