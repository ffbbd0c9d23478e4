package driven

import (
	"context"
	"time"

	"github.com/ortaizi/unisync/internal/domain/model"
)

// CredentialStore defines the driven port for encrypted credential persistence.
// Values cross this boundary already encrypted; the vault owns the cipher and
// the store never sees plaintext.
type CredentialStore interface {
	// Upsert stores or replaces the record for its (user, institution) pair.
	Upsert(ctx context.Context, rec model.EncryptedCredentialRecord) error

	// GetByUser returns nil, nil when the user has no stored credential.
	GetByUser(ctx context.Context, userID string) (*model.EncryptedCredentialRecord, error)

	// SetValidity updates IsValid and LastValidatedAt after a revalidation run.
	SetValidity(ctx context.Context, userID string, valid bool, validatedAt time.Time) error

	// Delete removes the user's credential record. Deleting a missing record
	// is not an error.
	Delete(ctx context.Context, userID string) error
}
