package database

import "time"

// Entry is one captured email/password pair
type Entry struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Password  *string   `json:"password,omitempty"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OrderAssignment sets the order index of a single entry
type OrderAssignment struct {
	ID    int64 `json:"id"`
	Order int   `json:"order"`
}

// ImportRecord is one row of an import batch
type ImportRecord struct {
	Email    string  `json:"email"`
	Password *string `json:"password,omitempty"`
}

// ImportResult reports how many records of a batch were stored
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}
