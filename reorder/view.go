package reorder

import (
	"strings"

	"github.com/CrowderSoup/email-collector/database"
)

// Matches reports whether an entry satisfies a search query. Matching is a
// case-insensitive substring test over the email and, when set, the password.
func Matches(e database.Entry, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(e.Email), q) {
		return true
	}
	return e.Password != nil && strings.Contains(strings.ToLower(*e.Password), q)
}

// Derive re-applies the search query to the master collection, preserving master
// order. With an empty query the result has the same elements as master.
func Derive(master []database.Entry, query string) []database.Entry {
	view := make([]database.Entry, 0, len(master))
	for _, e := range master {
		if Matches(e, query) {
			view = append(view, e)
		}
	}
	return view
}

// Fold writes confirmed order assignments into a copy of master, replacing
// entries by id, and returns it in display order.
func Fold(master []database.Entry, confirmed []database.OrderAssignment) []database.Entry {
	orders := make(map[int64]int, len(confirmed))
	for _, a := range confirmed {
		orders[a.ID] = a.Order
	}

	next := make([]database.Entry, len(master))
	for i, e := range master {
		if o, ok := orders[e.ID]; ok {
			e.Order = o
		}
		next[i] = e
	}
	return Sorted(next)
}
