package models

// AuthStateKind enumerates the stages of the profile login ceremony.
type AuthStateKind int

const (
	// StateNew — no outstanding challenge and no authorized session.
	StateNew AuthStateKind = iota
	// StateCodeSent — a one-time code was requested; its challenge token is pending.
	StateCodeSent
	// StatePasswordRequired — the provider demanded the 2FA password after a
	// correct code. This stage is never persisted: the provider tracks it
	// server-side, so it only appears transiently during verification.
	StatePasswordRequired
	// StateAuthorized — a session credential is held and believed valid.
	StateAuthorized
)

func (k AuthStateKind) String() string {
	switch k {
	case StateNew:
		return "new"
	case StateCodeSent:
		return "code_sent"
	case StatePasswordRequired:
		return "password_required"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// AuthState is the tagged union describing where a profile stands in the
// login ceremony. Challenge is set for CodeSent/PasswordRequired, Credential
// for Authorized.
type AuthState struct {
	Kind       AuthStateKind
	Challenge  string
	Credential string
}

// DeriveAuthState reconstructs the login stage from persisted columns. No
// explicit state enum is stored; the stage is a pure function of
// (profile.IsAuthorized, profile.PendingChallenge, session credential):
//
//   - authorized flag set and a non-empty credential held → Authorized
//   - pending challenge present → CodeSent
//   - otherwise → New
//
// An authorized flag without a credential is treated as New: the flag alone
// proves nothing and the next StartAuth reconciles it against the provider.
func DeriveAuthState(p *Profile, s *Session) AuthState {
	cred := s.CredentialOrEmpty()

	if p.IsAuthorized && cred != "" {
		return AuthState{Kind: StateAuthorized, Credential: cred}
	}
	if p.PendingChallenge != nil && *p.PendingChallenge != "" {
		return AuthState{Kind: StateCodeSent, Challenge: *p.PendingChallenge}
	}
	return AuthState{Kind: StateNew}
}
