// Package session normalizes an authoritative session stream into identity
// transition events.
//
// The package is organized around two pieces:
//   - Backend: the contract an authentication provider must satisfy (current
//     session query, change feed, credential operations).
//   - Monitor: consumes the feed, deduplicates identity transitions, and
//     delivers them in order over a channel.
package session

import (
	"context"
	"time"
)

// Session is proof of current authentication for a user id.
type Session struct {
	UserID   string
	Email    string
	IssuedAt time.Time
}

// ChangeKind classifies a raw notification from the auth backend.
type ChangeKind string

const (
	ChangeSignedIn       ChangeKind = "SIGNED_IN"
	ChangeSignedOut      ChangeKind = "SIGNED_OUT"
	ChangeTokenRefreshed ChangeKind = "TOKEN_REFRESHED"
)

// Change is a raw session-change notification delivered by the backend feed.
// Session is nil for sign-out notifications.
type Change struct {
	Kind    ChangeKind
	Session *Session
}

// SignUpInput carries the attributes for a new account.
type SignUpInput struct {
	Email    string
	Password string
	Name     string
}

// Backend is the authoritative session source. Implementations deliver
// change notifications to registered listeners and answer point-in-time
// session queries.
type Backend interface {
	// CurrentSession returns the active session, or nil when unauthenticated.
	CurrentSession(ctx context.Context) (*Session, error)

	// OnSessionChange registers a listener for session-change notifications.
	// The returned function unsubscribes the listener; after it returns the
	// listener is never invoked again.
	OnSessionChange(fn func(Change)) (unsubscribe func())

	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, input SignUpInput) (*Session, error)
	SignOut(ctx context.Context) error
}
