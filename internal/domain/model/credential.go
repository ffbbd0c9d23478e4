package model

import "time"

// RevalidationInterval is how long a validated credential is trusted before a
// caller should re-run validation against the institution, independent of IsValid.
const RevalidationInterval = 30 * 24 * time.Hour

// EncryptedCredentialRecord holds a user's university credential pair at rest.
// Username and password are AES-GCM ciphertexts; AuthTag carries both fields'
// authentication tags joined with a delimiter, and IV is the shared
// initialization vector for the pair. One record exists per (user, institution).
//
// IsValid is owned by the validator: the vault never flips it.
type EncryptedCredentialRecord struct {
	UserID            string
	InstitutionID     string
	EncryptedUsername string
	EncryptedPassword string
	AuthTag           string
	IV                string
	IsValid           bool
	LastValidatedAt   time.Time
	ExpiresAt         time.Time
	UpdatedAt         time.Time
}

// NeedsRevalidation reports whether the credential is stale enough that a
// caller should re-check it against the institution before trusting it.
func (r *EncryptedCredentialRecord) NeedsRevalidation(now time.Time) bool {
	return now.Sub(r.LastValidatedAt) > RevalidationInterval
}
