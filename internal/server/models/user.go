// Package models contains plain data structures persisted by the server.
package models

import "time"

// User is an application-level account. It owns zero or more Profiles.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	LastLogin    *time.Time
}
