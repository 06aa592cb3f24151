package models

import "time"

// Profile binds one external messaging account (identified by phone number)
// to an owning application user. A phone number may be claimed by at most
// one user.
//
// IsAuthorized is advisory: it is true only while the stored session
// credential is believed valid, and is cleared the moment the provider
// disagrees.
type Profile struct {
	ID               int64
	UserID           int64
	Phone            string
	PendingChallenge *string
	IsAuthorized     bool
	IsActive         bool
	FirstName        *string
	LastName         *string
	Username         *string
	PhotoID          *string
	CreatedAt        time.Time
	LastLogin        *time.Time
}
