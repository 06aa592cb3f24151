// Package common defines shared constants and sentinel errors used across
// Telegate components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Profile lifecycle errors.
	ErrorPhoneClaimed        = errors.New("phone number is already used by another user")
	ErrorChallengeNotPending = errors.New("no pending code challenge, call auth start first")
	ErrorNotAuthorized       = errors.New("profile is not authorized")

	// Provider-facing errors.
	ErrorAuthRejected        = errors.New("provider rejected the credentials")
	ErrorPasswordRequired    = errors.New("two-factor password required")
	ErrorSessionExpired      = errors.New("provider session has expired")
	ErrorProviderUnreachable = errors.New("messaging provider is unreachable")
	ErrorEntityNotFound      = errors.New("receiver could not be resolved")

	// Application account errors.
	ErrorEmailTaken           = errors.New("email is already registered")
	ErrorInvalidEmailPassword = errors.New("invalid email or password")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
