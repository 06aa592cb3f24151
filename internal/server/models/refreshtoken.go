package models

import "time"

// RefreshToken is a server-stored, single-use token that can be exchanged
// for a fresh access/refresh pair.
type RefreshToken struct {
	ID        int64
	UserID    int64
	Token     string
	Expires   time.Time
	CreatedAt time.Time
}
