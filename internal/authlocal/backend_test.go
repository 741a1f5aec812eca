package authlocal

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/capability.space/internal/capability/session"
	"github.com/louisbranch/capability.space/internal/capability/storage"
)

type memCredentials struct {
	mu      sync.Mutex
	byEmail map[string]Credential
}

func newMemCredentials() *memCredentials {
	return &memCredentials{byEmail: make(map[string]Credential)}
}

func (m *memCredentials) PutCredential(ctx context.Context, c Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEmail[c.Email] = c
	return nil
}

func (m *memCredentials) GetCredentialByEmail(ctx context.Context, email string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byEmail[email]
	if !ok {
		return Credential{}, storage.ErrNotFound
	}
	return c, nil
}

func newTestBackend(t *testing.T) (*Backend, *memCredentials) {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	creds := newMemCredentials()
	b := NewBackend(creds, TokenConfig{Issuer: "capability.space", Key: key, TTL: time.Hour})
	return b, creds
}

func TestSignUpThenSignIn(t *testing.T) {
	b, creds := newTestBackend(t)
	ctx := context.Background()

	s, err := b.SignUp(ctx, session.SignUpInput{Email: "Ada@Example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if s.UserID == "" {
		t.Fatal("sign-up should mint a user id")
	}
	if s.Email != "ada@example.com" {
		t.Fatalf("email = %q, want lowercased", s.Email)
	}

	stored, err := creds.GetCredentialByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("stored credential: %v", err)
	}
	if stored.PasswordHash == "correct horse" {
		t.Fatal("password must not be stored in the clear")
	}

	if err := b.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	again, err := b.SignInWithPassword(ctx, "ADA@example.com", "correct horse")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if again.UserID != s.UserID {
		t.Fatalf("user id = %q, want %q", again.UserID, s.UserID)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	if _, err := b.SignUp(ctx, session.SignUpInput{Email: "ada@example.com", Password: "correct horse"}); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	_, err := b.SignInWithPassword(ctx, "ada@example.com", "battery staple")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestSignInUnknownEmail(t *testing.T) {
	b, _ := newTestBackend(t)

	_, err := b.SignInWithPassword(context.Background(), "nobody@example.com", "pw")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestSignUpEmailTaken(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	if _, err := b.SignUp(ctx, session.SignUpInput{Email: "ada@example.com", Password: "pw1"}); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	_, err := b.SignUp(ctx, session.SignUpInput{Email: "ADA@example.com", Password: "pw2"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}
}

func TestCurrentSessionLifecycle(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	s, err := b.CurrentSession(ctx)
	if err != nil || s != nil {
		t.Fatalf("initial session = %v, %v; want nil, nil", s, err)
	}

	signed, err := b.SignUp(ctx, session.SignUpInput{Email: "ada@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	s, err = b.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	if s == nil || s.UserID != signed.UserID {
		t.Fatalf("session = %+v, want %q", s, signed.UserID)
	}

	if err := b.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	s, err = b.CurrentSession(ctx)
	if err != nil || s != nil {
		t.Fatalf("session after sign-out = %v, %v; want nil, nil", s, err)
	}
}

func TestCurrentSessionExpiry(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	b := NewBackend(newMemCredentials(), TokenConfig{
		Issuer: "capability.space",
		Key:    key,
		TTL:    time.Minute,
		Now:    func() time.Time { return now },
	})
	b.clock = clock

	ctx := context.Background()
	if _, err := b.SignUp(ctx, session.SignUpInput{Email: "ada@example.com", Password: "pw"}); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	now = now.Add(2 * time.Minute)
	s, err := b.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	if s != nil {
		t.Fatalf("session = %+v, want nil after token expiry", s)
	}
}

func TestChangeNotifications(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	var mu sync.Mutex
	var kinds []session.ChangeKind
	unsubscribe := b.OnSessionChange(func(c session.Change) {
		mu.Lock()
		kinds = append(kinds, c.Kind)
		mu.Unlock()
	})

	if _, err := b.SignUp(ctx, session.SignUpInput{Email: "ada@example.com", Password: "pw"}); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if err := b.RefreshToken(ctx); err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if err := b.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	mu.Lock()
	got := append([]session.ChangeKind(nil), kinds...)
	mu.Unlock()
	want := []session.ChangeKind{session.ChangeSignedIn, session.ChangeTokenRefreshed, session.ChangeSignedOut}
	if len(got) != len(want) {
		t.Fatalf("changes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("changes = %v, want %v", got, want)
		}
	}

	unsubscribe()
	if _, err := b.SignInWithPassword(ctx, "ada@example.com", "pw"); err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	mu.Lock()
	after := len(kinds)
	mu.Unlock()
	if after != len(want) {
		t.Fatal("unsubscribed listener should not be notified")
	}
}

func TestRefreshTokenRequiresSession(t *testing.T) {
	b, _ := newTestBackend(t)
	if err := b.RefreshToken(context.Background()); err == nil {
		t.Fatal("expected refresh without a session to fail")
	}
}
