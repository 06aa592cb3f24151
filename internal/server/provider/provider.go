// Package provider defines the client capability for the external messaging
// provider. The wire protocol is opaque to the rest of the server: callers get
// a Client from a Factory, use it for exactly one operation, and disconnect.
package provider

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Client implementations. The auth orchestrator
// routes on these instead of matching message text.
var (
	// ErrAuthRejected means the provider refused the submitted code or password.
	ErrAuthRejected = errors.New("provider rejected the credentials")
	// ErrPasswordRequired means the code was accepted but the account has a
	// two-factor password that must be submitted next.
	ErrPasswordRequired = errors.New("two-factor password required")
	// ErrPeerNotFound means a message target could not be resolved.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrUnauthorized means the connection is not signed in.
	ErrUnauthorized = errors.New("connection is not authorized")
)

// Account is the provider-side identity behind an authorized connection.
type Account struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	Phone     string
}

// Dialog is one conversation in the account's dialog list.
type Dialog struct {
	ID          int64
	Name        string
	UnreadCount int
	IsGroup     bool
	IsChannel   bool
}

// Message is a single message fetched from a dialog.
type Message struct {
	ID             int64
	SenderName     string
	SenderUsername string
	Text           string
	Date           time.Time
}

// Challenge is the provider-issued token binding a one-time code request to
// the verification call that follows it.
type Challenge struct {
	Token string
}

// Client is a live connection handle built from one stored session
// credential. A Client serves a single operation and is never shared across
// concurrent requests; Disconnect must be called on every exit path.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()

	// IsAuthorized reports whether the provider considers this connection
	// signed in.
	IsAuthorized(ctx context.Context) (bool, error)

	// RequestCode asks the provider to deliver a one-time code to phone and
	// returns the challenge token for the follow-up verification.
	RequestCode(ctx context.Context, phone string) (*Challenge, error)

	// SignInWithCode completes login with the delivered code. Returns
	// ErrPasswordRequired when the account has a two-factor password and
	// ErrAuthRejected when the code is wrong or the challenge expired.
	SignInWithCode(ctx context.Context, phone, code, challengeToken string) error

	// SignInWithPassword completes the two-factor branch of login.
	SignInWithPassword(ctx context.Context, password string) error

	// Me returns the account behind the authorized connection.
	Me(ctx context.Context) (*Account, error)

	// Dialogs returns up to limit conversations.
	Dialogs(ctx context.Context, limit int) ([]Dialog, error)

	// Messages returns up to limit most recent messages of the dialog.
	Messages(ctx context.Context, dialogID int64, limit int) ([]Message, error)

	// MarkRead acknowledges all messages of the dialog as read.
	MarkRead(ctx context.Context, dialogID int64) error

	// Send delivers text to the peer with the given id.
	Send(ctx context.Context, peerID int64, text string) error

	// ResolvePeer resolves a direct numeric peer id. Returns ErrPeerNotFound
	// when the provider does not know the id.
	ResolvePeer(ctx context.Context, peerID int64) (int64, error)

	// DownloadPhoto returns the account's profile photo bytes, or ok=false
	// when the account has none.
	DownloadPhoto(ctx context.Context) (data []byte, ok bool, err error)

	// ExportCredential serializes the connection's current session state.
	// The provider may rotate transport state on any call, so the caller
	// persists this after every interaction.
	ExportCredential() (string, error)
}

// Factory builds one Client per operation from a stored credential blob.
// An empty credential yields a fresh, unauthenticated connection.
type Factory interface {
	NewClient(credential string) (Client, error)
}
