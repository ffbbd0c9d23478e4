package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ortaizi/unisync/internal/domain/model"
	"github.com/ortaizi/unisync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port
// interface. Values arrive already encrypted by the vault; this repo only
// moves ciphertext.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo backed by the given DB.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// Upsert stores or replaces the credential record for its (user, institution) pair.
func (r *CredentialRepo) Upsert(ctx context.Context, rec model.EncryptedCredentialRecord) error {
	const query = `
		INSERT INTO credentials (
			user_id, institution_id, encrypted_username, encrypted_password,
			auth_tag, iv, is_valid, last_validated_at, expires_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, institution_id) DO UPDATE SET
			encrypted_username = excluded.encrypted_username,
			encrypted_password = excluded.encrypted_password,
			auth_tag = excluded.auth_tag,
			iv = excluded.iv,
			is_valid = excluded.is_valid,
			last_validated_at = excluded.last_validated_at,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	isValid := 0
	if rec.IsValid {
		isValid = 1
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		rec.UserID, rec.InstitutionID, rec.EncryptedUsername, rec.EncryptedPassword,
		rec.AuthTag, rec.IV, isValid,
		rec.LastValidatedAt.UTC(), rec.ExpiresAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert credential for user %q: %w", rec.UserID, err)
	}
	return nil
}

// GetByUser returns the user's credential record, or nil if none exists.
func (r *CredentialRepo) GetByUser(ctx context.Context, userID string) (*model.EncryptedCredentialRecord, error) {
	const query = `
		SELECT user_id, institution_id, encrypted_username, encrypted_password,
		       auth_tag, iv, is_valid, last_validated_at, expires_at, updated_at
		FROM credentials WHERE user_id = ?
	`

	var (
		rec             model.EncryptedCredentialRecord
		isValid         int
		lastValidatedAt string
		expiresAt       string
		updatedAt       string
	)

	err := r.db.Reader.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID, &rec.InstitutionID, &rec.EncryptedUsername, &rec.EncryptedPassword,
		&rec.AuthTag, &rec.IV, &isValid, &lastValidatedAt, &expiresAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential for user %q: %w", userID, err)
	}

	rec.IsValid = isValid != 0

	if rec.LastValidatedAt, err = parseTime(lastValidatedAt); err != nil {
		return nil, fmt.Errorf("parse last_validated_at: %w", err)
	}
	if rec.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &rec, nil
}

// SetValidity updates IsValid and LastValidatedAt after a revalidation run.
func (r *CredentialRepo) SetValidity(ctx context.Context, userID string, valid bool, validatedAt time.Time) error {
	const query = `
		UPDATE credentials
		SET is_valid = ?, last_validated_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?
	`

	v := 0
	if valid {
		v = 1
	}
	if _, err := r.db.Writer.ExecContext(ctx, query, v, validatedAt.UTC(), userID); err != nil {
		return fmt.Errorf("set validity for user %q: %w", userID, err)
	}
	return nil
}

// Delete removes the user's credential record.
func (r *CredentialRepo) Delete(ctx context.Context, userID string) error {
	const query = `DELETE FROM credentials WHERE user_id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete credential for user %q: %w", userID, err)
	}
	return nil
}
