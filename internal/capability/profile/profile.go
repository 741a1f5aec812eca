// Package profile defines the application-level user record and its defaults.
package profile

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/capability.space/internal/platform/errors"
)

var (
	// ErrEmptyUserID indicates a missing user id.
	ErrEmptyUserID = apperrors.New(apperrors.CodeProfileEmptyUserID, "user id is required")
)

// Profile describes a user of the application. The id always equals the
// session user id of the identity it belongs to.
type Profile struct {
	ID        string
	Name      string
	Email     string
	Premium   bool
	Admin     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Update is a partial mutation applied to an existing profile. Nil fields
// are left untouched.
type Update struct {
	Name    *string
	Email   *string
	Premium *bool
	Admin   *bool
}

// DefaultName derives a display name from an email address. The local part
// of the address is used when present, "User" otherwise.
func DefaultName(email string) string {
	trimmed := strings.TrimSpace(email)
	if at := strings.Index(trimmed, "@"); at > 0 {
		return trimmed[:at]
	}
	return "User"
}

// NewDefault builds the profile auto-provisioned on first resolution for a
// user that has no record yet. Premium and admin both start false; elevation
// happens only through explicit update operations.
func NewDefault(userID, email string, now func() time.Time) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, ErrEmptyUserID
	}
	if now == nil {
		now = time.Now
	}

	createdAt := now().UTC()
	return Profile{
		ID:        userID,
		Name:      DefaultName(email),
		Email:     strings.TrimSpace(email),
		Premium:   false,
		Admin:     false,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// Apply returns a copy of the profile with the update merged in and the
// updated timestamp advanced.
func (p Profile) Apply(update Update, now func() time.Time) Profile {
	if now == nil {
		now = time.Now
	}
	if update.Name != nil {
		p.Name = strings.TrimSpace(*update.Name)
	}
	if update.Email != nil {
		p.Email = strings.TrimSpace(*update.Email)
	}
	if update.Premium != nil {
		p.Premium = *update.Premium
	}
	if update.Admin != nil {
		p.Admin = *update.Admin
	}
	p.UpdatedAt = now().UTC()
	return p
}
