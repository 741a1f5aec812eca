package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/capability.space/internal/capability/storage"
)

// SaveSnapshot overwrites the capability snapshot for a user id.
func (s *Store) SaveSnapshot(ctx context.Context, userID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if len(data) == 0 {
		return fmt.Errorf("snapshot data is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO capability_snapshots (user_id, snapshot_json, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET snapshot_json = excluded.snapshot_json, updated_at = excluded.updated_at
`,
		userID,
		string(data),
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the capability snapshot for a user id.
func (s *Store) LoadSnapshot(ctx context.Context, userID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	var payload string
	row := s.sqlDB.QueryRowContext(ctx, "SELECT snapshot_json FROM capability_snapshots WHERE user_id = ?", userID)
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return []byte(payload), nil
}

// ClearSnapshot removes the capability snapshot for a user id.
func (s *Store) ClearSnapshot(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM capability_snapshots WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}
