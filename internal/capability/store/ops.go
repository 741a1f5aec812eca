package store

import (
	"context"
	"strings"

	"github.com/louisbranch/capability.space/internal/capability/profile"
	"github.com/louisbranch/capability.space/internal/capability/session"
	"github.com/louisbranch/capability.space/internal/capability/snapshot"
	apperrors "github.com/louisbranch/capability.space/internal/platform/errors"
)

// ErrNoSession indicates an operation that requires an authenticated user
// was called while signed out.
var ErrNoSession = apperrors.New(apperrors.CodeAuthNoSession, "no active session")

// SignIn authenticates with the backend. The resulting view transition is
// driven by the session feed, not by this call.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	_, err := s.backend.SignInWithPassword(ctx, email, password)
	return err
}

// SignUp creates an account. The display name is recorded as a pending hint
// before the backend call so the resolution cycle triggered by the sign-in
// notification provisions the profile with it instead of the email-derived
// default.
func (s *Store) SignUp(ctx context.Context, input session.SignUpInput) error {
	name := strings.TrimSpace(input.Name)
	key := normalizeEmail(input.Email)
	if name != "" {
		s.mu.Lock()
		s.pendingNames[key] = name
		s.mu.Unlock()
	}

	_, err := s.backend.SignUp(ctx, input)
	if err != nil && name != "" {
		s.mu.Lock()
		delete(s.pendingNames, key)
		s.mu.Unlock()
	}
	return err
}

// SignOut ends the backend session and applies the local transition
// synchronously. The feed delivers the same transition afterwards; the
// second application is a no-op.
func (s *Store) SignOut(ctx context.Context) error {
	err := s.backend.SignOut(ctx)
	s.signedOut(ctx)
	return err
}

// UpdateProfile applies a partial update to the current user's profile and
// republishes the view with entitlements recomputed from the stored result.
func (s *Store) UpdateProfile(ctx context.Context, update profile.Update) (profile.Profile, error) {
	s.mu.Lock()
	epoch := s.epoch
	userID := s.currentUserID
	user := s.view.User
	s.mu.Unlock()
	if userID == "" || user == nil {
		return profile.Profile{}, ErrNoSession
	}

	updated, err := s.profiles.UpdateProfile(ctx, userID, update)
	if err != nil {
		return profile.Profile{}, err
	}

	s.republish(ctx, epoch, *user, updated)
	return updated, nil
}

// SetAdmin grants the admin flag on a profile record. When the target is
// the current user the view is republished; admin never derives from
// subscription state, only from this flag.
func (s *Store) SetAdmin(ctx context.Context, userID string, admin bool) (profile.Profile, error) {
	updated, err := s.profiles.UpdateProfile(ctx, userID, profile.Update{Admin: &admin})
	if err != nil {
		return profile.Profile{}, err
	}

	s.mu.Lock()
	epoch := s.epoch
	current := userID == s.currentUserID
	user := s.view.User
	s.mu.Unlock()
	if current && user != nil {
		s.republish(ctx, epoch, *user, updated)
	}
	return updated, nil
}

// republish rebuilds the authenticated view around an updated profile at a
// captured epoch. A sign-out or user switch in the meantime discards it.
func (s *Store) republish(ctx context.Context, epoch uint64, user session.Session, p profile.Profile) {
	s.mu.Lock()
	lastPremium := s.view.Premium
	s.mu.Unlock()

	ent := s.entitlements.Resolve(ctx, p, lastPremium)
	stored := p
	view := View{
		User:    &user,
		Profile: &stored,
		Premium: ent.Premium,
		Admin:   ent.Admin,
		State:   StateAuthenticated,
		Quality: QualityFresh,
	}
	if !s.publish(epoch, view) {
		return
	}
	_ = s.cache.Save(ctx, snapshot.Snapshot{
		UserID:  p.ID,
		Profile: p,
		Premium: ent.Premium,
		Admin:   ent.Admin,
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
