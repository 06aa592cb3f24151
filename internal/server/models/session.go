package models

import "time"

// Session holds the reusable opaque login credential for a profile. At most
// one active session per profile is treated as authoritative. The credential
// blob is rewritten after every provider interaction that could rotate it
// and is handled like a password hash for access-control purposes.
type Session struct {
	ID         int64
	ProfileID  int64
	Credential *string
	IsActive   bool
	CreatedAt  time.Time
	LastUsed   time.Time
}

// CredentialOrEmpty returns the stored credential blob, or "" when the
// session has not been issued one yet.
func (s *Session) CredentialOrEmpty() string {
	if s == nil || s.Credential == nil {
		return ""
	}
	return *s.Credential
}
