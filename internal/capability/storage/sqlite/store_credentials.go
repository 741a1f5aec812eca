package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/capability.space/internal/authlocal"
	"github.com/louisbranch/capability.space/internal/capability/storage"
)

// PutCredential creates or replaces a credential record.
func (s *Store) PutCredential(ctx context.Context, c authlocal.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(c.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO auth_credentials (user_id, email, password_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET email = excluded.email, password_hash = excluded.password_hash, updated_at = excluded.updated_at
`,
		c.UserID,
		c.Email,
		c.PasswordHash,
		toMillis(c.CreatedAt),
		toMillis(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// GetCredentialByEmail fetches a credential record by email address.
func (s *Store) GetCredentialByEmail(ctx context.Context, email string) (authlocal.Credential, error) {
	if err := ctx.Err(); err != nil {
		return authlocal.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return authlocal.Credential{}, fmt.Errorf("storage is not configured")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return authlocal.Credential{}, fmt.Errorf("email is required")
	}

	var cred authlocal.Credential
	var createdAt, updatedAt int64
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT user_id, email, password_hash, created_at, updated_at
FROM auth_credentials
WHERE email = ?
`, email)
	if err := row.Scan(&cred.UserID, &cred.Email, &cred.PasswordHash, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return authlocal.Credential{}, storage.ErrNotFound
		}
		return authlocal.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	cred.CreatedAt = fromMillis(createdAt)
	cred.UpdatedAt = fromMillis(updatedAt)
	return cred, nil
}
