// Package authlocal provides a self-contained auth backend: credentials in
// local storage, bcrypt password hashes, and ed25519-signed session tokens.
// It satisfies the session.Backend contract so the engine can run without an
// external identity provider.
package authlocal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/louisbranch/capability.space/internal/capability/session"
	"github.com/louisbranch/capability.space/internal/capability/storage"
	apperrors "github.com/louisbranch/capability.space/internal/platform/errors"
	"github.com/louisbranch/capability.space/internal/platform/id"
)

var (
	// ErrInvalidCredentials indicates an unknown email or wrong password.
	// The two cases are deliberately indistinguishable to the caller.
	ErrInvalidCredentials = apperrors.New(apperrors.CodeAuthInvalidCredentials, "invalid email or password")

	// ErrEmailTaken indicates a sign-up for an email that already has an account.
	ErrEmailTaken = apperrors.New(apperrors.CodeAuthEmailTaken, "email is already registered")
)

// Credential is a stored email/password identity.
type Credential struct {
	UserID       string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CredentialStore persists credential records.
type CredentialStore interface {
	// PutCredential creates or replaces a credential record.
	PutCredential(ctx context.Context, c Credential) error

	// GetCredentialByEmail returns the credential for an email address, or
	// storage.ErrNotFound.
	GetCredentialByEmail(ctx context.Context, email string) (Credential, error)
}

// Backend implements session.Backend against a local credential store. The
// active session is held as a signed token; CurrentSession re-verifies it on
// every query so expiry is observed without a background timer.
type Backend struct {
	store  CredentialStore
	tokens TokenConfig
	clock  func() time.Time
	newID  func() (string, error)

	mu           sync.Mutex
	currentToken string
	listeners    map[int]func(session.Change)
	nextListener int
}

// NewBackend creates a local auth backend.
func NewBackend(store CredentialStore, tokens TokenConfig) *Backend {
	return &Backend{
		store:     store,
		tokens:    tokens,
		clock:     time.Now,
		newID:     id.NewID,
		listeners: make(map[int]func(session.Change)),
	}
}

// CurrentSession returns the active session, or nil when unauthenticated or
// when the held token no longer verifies.
func (b *Backend) CurrentSession(ctx context.Context) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	token := b.currentToken
	b.mu.Unlock()
	if token == "" {
		return nil, nil
	}

	s, err := ParseSessionToken(b.tokens, token)
	if err != nil {
		// An expired or tampered token means no session, not a failure.
		b.mu.Lock()
		if b.currentToken == token {
			b.currentToken = ""
		}
		b.mu.Unlock()
		return nil, nil
	}
	return &s, nil
}

// CurrentToken returns the raw session token, or "" when unauthenticated.
// Callers attach it as a bearer token on outbound requests.
func (b *Backend) CurrentToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentToken
}

// OnSessionChange registers a listener for session-change notifications.
func (b *Backend) OnSessionChange(fn func(session.Change)) func() {
	b.mu.Lock()
	id := b.nextListener
	b.nextListener++
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// SignInWithPassword verifies credentials and establishes a session.
func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	cred, err := b.store.GetCredentialByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, apperrors.Wrap(apperrors.CodeBackendUnavailable, "look up credential", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return b.establish(session.Session{UserID: cred.UserID, Email: cred.Email})
}

// SignUp registers a new account and establishes a session for it.
func (b *Backend) SignUp(ctx context.Context, input session.SignUpInput) (*session.Session, error) {
	email := normalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, ErrInvalidCredentials
	}

	_, err := b.store.GetCredentialByEmail(ctx, email)
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.Wrap(apperrors.CodeBackendUnavailable, "check email availability", err)
	}

	userID, err := b.newID()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "generate user id", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "hash password", err)
	}

	now := b.clock().UTC()
	cred := Credential{
		UserID:       userID,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := b.store.PutCredential(ctx, cred); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBackendUnavailable, "store credential", err)
	}

	return b.establish(session.Session{UserID: userID, Email: email})
}

// SignOut destroys the current session and notifies listeners.
func (b *Backend) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.currentToken = ""
	b.mu.Unlock()
	b.notify(session.Change{Kind: session.ChangeSignedOut})
	return nil
}

// RefreshToken re-mints the session token for the current identity and
// notifies listeners with a token-refresh change. The identity does not
// change, so consumers coalesce the notification.
func (b *Backend) RefreshToken(ctx context.Context) error {
	current, err := b.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		return apperrors.New(apperrors.CodeAuthNoSession, "no session to refresh")
	}

	token, err := MintSessionToken(b.tokens, *current)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.currentToken = token
	b.mu.Unlock()

	refreshed, err := ParseSessionToken(b.tokens, token)
	if err != nil {
		return err
	}
	b.notify(session.Change{Kind: session.ChangeTokenRefreshed, Session: &refreshed})
	return nil
}

// establish mints a token for the identity, stores it, and notifies listeners.
func (b *Backend) establish(s session.Session) (*session.Session, error) {
	token, err := MintSessionToken(b.tokens, s)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "mint session token", err)
	}
	minted, err := ParseSessionToken(b.tokens, token)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.currentToken = token
	b.mu.Unlock()

	b.notify(session.Change{Kind: session.ChangeSignedIn, Session: &minted})
	return &minted, nil
}

func (b *Backend) notify(change session.Change) {
	b.mu.Lock()
	fns := make([]func(session.Change), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
