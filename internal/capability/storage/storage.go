// Package storage defines persistence contracts for capability state.
//
// These interfaces exist so the resolution pipeline can depend on stable
// domain semantics without coupling to SQLite schema details.
package storage

import (
	"context"

	"github.com/louisbranch/capability.space/internal/capability/profile"
	"github.com/louisbranch/capability.space/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrDuplicateKey indicates an insert collided with an existing record.
var ErrDuplicateKey = errors.New(errors.CodeDuplicateKey, "record already exists")

// ProfileStore persists user profile records.
type ProfileStore interface {
	// GetProfile fetches the profile for a user id. Returns ErrNotFound
	// when no record exists.
	GetProfile(ctx context.Context, userID string) (profile.Profile, error)

	// InsertProfile creates a new profile record. Returns ErrDuplicateKey
	// when a record for the id already exists, so racing provision attempts
	// can fall back to a re-read.
	InsertProfile(ctx context.Context, p profile.Profile) error

	// UpdateProfile applies a partial update and returns the stored result.
	UpdateProfile(ctx context.Context, userID string, update profile.Update) (profile.Profile, error)
}

// SnapshotStore persists the last known-good capability snapshot per user.
// Snapshots are opaque to the store; namespacing by user id is the contract
// that keeps one user's flags from leaking to another on a shared device.
type SnapshotStore interface {
	// SaveSnapshot overwrites the snapshot for a user id.
	SaveSnapshot(ctx context.Context, userID string, data []byte) error

	// LoadSnapshot returns the snapshot for a user id, or ErrNotFound.
	LoadSnapshot(ctx context.Context, userID string) ([]byte, error)

	// ClearSnapshot removes the snapshot for a user id. Clearing a missing
	// snapshot is not an error.
	ClearSnapshot(ctx context.Context, userID string) error
}
