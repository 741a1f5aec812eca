// Package entitlement derives premium and admin capability flags from a
// profile and a best-effort external subscription status.
package entitlement

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/louisbranch/capability.space/internal/capability/profile"
	"github.com/louisbranch/capability.space/internal/platform/timeouts"
)

// Status is the externally billed subscription state.
type Status string

const (
	StatusNone     Status = "none"
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusCanceled Status = "canceled"
	StatusPastDue  Status = "past_due"
)

// GrantsPremium reports whether the subscription state alone grants premium.
func (s Status) GrantsPremium() bool {
	return s == StatusActive || s == StatusTrialing
}

// Subscription is the transient subscription record fetched each resolution
// cycle. It is never persisted beyond the current capability view.
type Subscription struct {
	Status             Status
	PriceID            string
	CurrentPeriodEnd   time.Time
	PaymentMethodLast4 string
	PaymentMethodBrand string
}

// BillingClient fetches the current subscription status for a user.
type BillingClient interface {
	CurrentSubscription(ctx context.Context, userID string) (Subscription, error)
}

// Entitlement is the derived capability state for one settled cycle.
// Subscription is nil when the fetch failed or no billing client is
// configured.
type Entitlement struct {
	Premium      bool
	Admin        bool
	Subscription *Subscription
}

// Premium combines the profile flag with the subscription state.
func Premium(profileFlag bool, status Status) bool {
	return profileFlag || status.GrantsPremium()
}

// Resolver computes entitlements. The subscription fetch is single-flight:
// concurrent resolutions for the same user share one outstanding request.
type Resolver struct {
	billing BillingClient
	timeout time.Duration
	group   singleflight.Group
}

// NewResolver creates a resolver. A nil billing client disables the
// subscription fetch; premium then derives from the profile flag alone.
func NewResolver(billing BillingClient) *Resolver {
	return &Resolver{
		billing: billing,
		timeout: timeouts.SubscriptionFetch,
	}
}

// Resolve derives the entitlement for a profile. Subscription-status
// unavailability is non-fatal: on a fetch failure or timeout, premium keeps
// the last resolved value instead of dropping, while the profile flag still
// applies. Admin comes only from the profile record.
func (r *Resolver) Resolve(ctx context.Context, p profile.Profile, lastPremium bool) Entitlement {
	ent := Entitlement{Admin: p.Admin}

	if r == nil || r.billing == nil {
		ent.Premium = p.Premium
		return ent
	}

	sub, ok := r.fetch(ctx, p.ID)
	if !ok {
		ent.Premium = p.Premium || lastPremium
		return ent
	}

	ent.Premium = Premium(p.Premium, sub.Status)
	ent.Subscription = &sub
	return ent
}

// fetch runs the single-flight subscription request under its own deadline.
// The flight uses a detached context so one caller's cancellation does not
// fail the shared request.
func (r *Resolver) fetch(ctx context.Context, userID string) (Subscription, bool) {
	ch := r.group.DoChan(userID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.billing.CurrentSubscription(fetchCtx, userID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Subscription{}, false
		}
		sub, ok := res.Val.(Subscription)
		return sub, ok
	case <-time.After(r.timeout):
		return Subscription{}, false
	case <-ctx.Done():
		return Subscription{}, false
	}
}
