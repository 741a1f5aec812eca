// Package snapshot persists the last known-good capability view per user so
// the UI can render optimistically before a resolution cycle settles.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/capability.space/internal/capability/profile"
	"github.com/louisbranch/capability.space/internal/capability/storage"
)

// Snapshot is the serialized form of a settled capability view.
type Snapshot struct {
	UserID  string          `json:"user_id"`
	Profile profile.Profile `json:"profile"`
	Premium bool            `json:"premium"`
	Admin   bool            `json:"admin"`
	SavedAt time.Time       `json:"saved_at"`
}

// Cache reads and writes snapshots through a SnapshotStore, enforcing the
// user-id namespace: a stored snapshot only ever surfaces for its own user.
type Cache struct {
	store storage.SnapshotStore
	clock func() time.Time
}

// NewCache creates a cache over the given store.
func NewCache(store storage.SnapshotStore) *Cache {
	return &Cache{store: store, clock: time.Now}
}

// Save persists a snapshot for its user id. It is a no-op when no store is
// configured so the engine can run cache-less.
func (c *Cache) Save(ctx context.Context, snap Snapshot) error {
	if c == nil || c.store == nil {
		return nil
	}
	if strings.TrimSpace(snap.UserID) == "" {
		return fmt.Errorf("snapshot user id is required")
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = c.clock().UTC()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return c.store.SaveSnapshot(ctx, snap.UserID, data)
}

// Load returns the snapshot for a user id. A missing, corrupt, or
// wrong-user snapshot is reported as a miss, never an error: the cache only
// accelerates the UI and must not block a resolution cycle.
func (c *Cache) Load(ctx context.Context, userID string) (Snapshot, bool) {
	if c == nil || c.store == nil {
		return Snapshot{}, false
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Snapshot{}, false
	}

	data, err := c.store.LoadSnapshot(ctx, userID)
	if err != nil {
		return Snapshot{}, false
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false
	}
	if snap.UserID != userID {
		// A snapshot stored under another user's key must never leak
		// premium or admin flags across identities on a shared device.
		return Snapshot{}, false
	}
	return snap, true
}

// Clear removes the snapshot for a user id.
func (c *Cache) Clear(ctx context.Context, userID string) error {
	if c == nil || c.store == nil {
		return nil
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}
	err := c.store.ClearSnapshot(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}
