// Package timeouts defines shared timeout constants used across the engine.
// Centralizing these values prevents drift between components and makes the
// durations discoverable.
package timeouts

import "time"

// ProfileResolve caps how long a resolution cycle waits for the profile
// fetch-or-provision sequence before settling with degraded data.
const ProfileResolve = 2 * time.Second

// SubscriptionFetch caps the best-effort subscription status request. The
// capability view settles without it when the deadline fires.
const SubscriptionFetch = 2 * time.Second

// HTTPRequest caps a single outbound HTTP request to the billing provider.
const HTTPRequest = 5 * time.Second

// Shutdown limits how long the engine waits for in-flight resolution
// cycles during graceful shutdown.
const Shutdown = 5 * time.Second
