// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// Credits is the user's consumable balance — every paywalled action debits
// it, the daily grant and purchases top it up. The column carries a
// CHECK (credits >= 0) constraint in the store, so the balance can never go
// negative even if application code has a bug.
//
// WHY LastDailyCreditAt *time.Time (a pointer)?
// A user who has never received a daily grant has no timestamp at all —
// that's a NULL in the database, which maps to a nil pointer in Go. Using
// time.Time's zero value instead would work, but the pointer makes the
// "never granted" state explicit and matches how database/sql scans NULLs.
type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"` // never serialized to clients
	Credits           int64      `json:"credits"`
	LastDailyCreditAt *time.Time `json:"lastDailyCreditAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}
