package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/capability.space/internal/capability/profile"
	"github.com/louisbranch/capability.space/internal/capability/storage"
)

const selectProfileQuery = `
SELECT id, name, email, is_premium, is_admin, created_at, updated_at
FROM profiles
WHERE id = ?;
`

// GetProfile fetches a profile record by user id.
//
// The primary key makes more than one row impossible under this schema, but
// the contract tolerates imported data: extra rows are logged as an anomaly
// and the first row wins.
func (s *Store) GetProfile(ctx context.Context, userID string) (profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return profile.Profile{}, err
	}
	if s == nil || s.sqlDB == nil {
		return profile.Profile{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return profile.Profile{}, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, selectProfileQuery, userID)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("query profile: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result profile.Profile
	count := 0
	for rows.Next() {
		count++
		if count > 1 {
			log.Printf("profile %s has %d rows; using the first", userID, count)
			continue
		}
		var premium, admin int64
		var createdAt, updatedAt int64
		if err := rows.Scan(&result.ID, &result.Name, &result.Email, &premium, &admin, &createdAt, &updatedAt); err != nil {
			return profile.Profile{}, fmt.Errorf("scan profile: %w", err)
		}
		result.Premium = premium != 0
		result.Admin = admin != 0
		result.CreatedAt = fromMillis(createdAt)
		result.UpdatedAt = fromMillis(updatedAt)
	}
	if err := rows.Err(); err != nil {
		return profile.Profile{}, fmt.Errorf("iterate profiles: %w", err)
	}
	if count == 0 {
		return profile.Profile{}, storage.ErrNotFound
	}
	return result, nil
}

// InsertProfile creates a new profile record. A concurrent insert for the
// same id surfaces as storage.ErrDuplicateKey so provisioning can re-read.
func (s *Store) InsertProfile(ctx context.Context, p profile.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO profiles (id, name, email, is_premium, is_admin, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		p.ID,
		p.Name,
		p.Email,
		boolToInt(p.Premium),
		boolToInt(p.Admin),
		toMillis(p.CreatedAt),
		toMillis(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// UpdateProfile applies a partial update inside a transaction and returns
// the stored result.
func (s *Store) UpdateProfile(ctx context.Context, userID string, update profile.Update) (profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return profile.Profile{}, err
	}
	if s == nil || s.sqlDB == nil {
		return profile.Profile{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return profile.Profile{}, fmt.Errorf("user id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var current profile.Profile
	var premium, admin, createdAt, updatedAt int64
	row := tx.QueryRowContext(ctx, selectProfileQuery, userID)
	if err := row.Scan(&current.ID, &current.Name, &current.Email, &premium, &admin, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return profile.Profile{}, storage.ErrNotFound
		}
		return profile.Profile{}, fmt.Errorf("scan profile: %w", err)
	}
	current.Premium = premium != 0
	current.Admin = admin != 0
	current.CreatedAt = fromMillis(createdAt)
	current.UpdatedAt = fromMillis(updatedAt)

	updated := current.Apply(update, nil)

	_, err = tx.ExecContext(ctx, `
UPDATE profiles
SET name = ?, email = ?, is_premium = ?, is_admin = ?, updated_at = ?
WHERE id = ?
`,
		updated.Name,
		updated.Email,
		boolToInt(updated.Premium),
		boolToInt(updated.Admin),
		toMillis(updated.UpdatedAt),
		updated.ID,
	)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("update profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return profile.Profile{}, fmt.Errorf("commit profile update: %w", err)
	}
	return updated, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
