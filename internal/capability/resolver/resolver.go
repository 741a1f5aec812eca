// Package resolver resolves a user id to a profile record under a hard time
// budget, auto-provisioning a default record when none exists.
package resolver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/louisbranch/capability.space/internal/capability/profile"
	"github.com/louisbranch/capability.space/internal/capability/storage"
	apperrors "github.com/louisbranch/capability.space/internal/platform/errors"
	"github.com/louisbranch/capability.space/internal/platform/timeouts"
)

// ErrTimeout indicates the deadline fired before the fetch settled.
var ErrTimeout = apperrors.New(apperrors.CodeTimeout, "profile resolution deadline exceeded")

// Result is the eventual outcome of a fetch that outlived its deadline.
type Result struct {
	Profile profile.Profile
	Err     error
}

// Settlement is the outcome of one resolution attempt.
//
// On success Err is nil and Profile holds the record. When the deadline
// fires first, Err is ErrTimeout and Late carries the still-running fetch's
// eventual result; the underlying fetch is never forcibly cancelled, so a
// late success can still update the store if its epoch remains current.
type Settlement struct {
	Profile profile.Profile
	Err     error
	Late    <-chan Result
}

// Resolver races a profile fetch-or-provision sequence against a deadline.
type Resolver struct {
	store    storage.ProfileStore
	deadline time.Duration
	clock    func() time.Time
}

// New creates a resolver with the default deadline.
func New(store storage.ProfileStore) *Resolver {
	return &Resolver{
		store:    store,
		deadline: timeouts.ProfileResolve,
		clock:    time.Now,
	}
}

// SetDeadline overrides the resolution deadline. Zero or negative values
// are ignored.
func (r *Resolver) SetDeadline(d time.Duration) {
	if d > 0 {
		r.deadline = d
	}
}

// Resolve fetches the profile for a user id, provisioning a default record
// when absent. nameHint, when non-empty, names the provisioned profile;
// otherwise the name derives from the email local-part.
func (r *Resolver) Resolve(ctx context.Context, userID, email, nameHint string) Settlement {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Settlement{Err: profile.ErrEmptyUserID}
	}

	results := make(chan Result, 1)
	go func() {
		p, err := r.fetchOrProvision(ctx, userID, email, nameHint)
		results <- Result{Profile: p, Err: err}
	}()

	timer := time.NewTimer(r.deadline)
	defer timer.Stop()

	select {
	case res := <-results:
		return Settlement{Profile: res.Profile, Err: res.Err}
	case <-timer.C:
		return Settlement{Err: ErrTimeout, Late: results}
	}
}

// fetchOrProvision reads the profile, creating the default record on a
// miss. Creation is idempotent: a duplicate-key failure means another
// resolution cycle won the provision race, so the record is re-read rather
// than failing the cycle.
func (r *Resolver) fetchOrProvision(ctx context.Context, userID, email, nameHint string) (profile.Profile, error) {
	existing, err := r.store.GetProfile(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return profile.Profile{}, apperrors.Wrap(apperrors.CodeBackendUnavailable, "fetch profile", err)
	}

	created, err := profile.NewDefault(userID, email, r.clock)
	if err != nil {
		return profile.Profile{}, err
	}
	if name := strings.TrimSpace(nameHint); name != "" {
		created.Name = name
	}

	if err := r.store.InsertProfile(ctx, created); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			winner, readErr := r.store.GetProfile(ctx, userID)
			if readErr != nil {
				return profile.Profile{}, apperrors.Wrap(apperrors.CodeBackendUnavailable, "re-read provisioned profile", readErr)
			}
			return winner, nil
		}
		return profile.Profile{}, apperrors.Wrap(apperrors.CodeBackendUnavailable, "provision profile", err)
	}
	return created, nil
}
