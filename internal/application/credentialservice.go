// Package application contains use-case orchestration services.
package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/ortaizi/unisync/internal/domain/model"
	"github.com/ortaizi/unisync/internal/domain/port/driven"
	"github.com/ortaizi/unisync/internal/vault"
)

// credentialExpiry is how long a stored credential is kept before the user is
// asked to re-enter it regardless of validation outcomes.
const credentialExpiry = 90 * 24 * time.Hour

// ValidationOutcome is the result of testing a credential pair against an
// institution. Failure reasons are specific but never echo raw provider
// payloads.
type ValidationOutcome struct {
	Success     bool
	Message     string
	Institution model.Institution
}

// CredentialService validates university credentials against Moodle and owns
// the encrypt-and-store flow. It never retries internally; retrying is a
// caller decision.
type CredentialService struct {
	moodle   driven.MoodleClient
	creds    driven.CredentialStore
	users    driven.UserStore
	attempts driven.AttemptStore
	vault    *vault.Vault
	now      func() time.Time
}

// NewCredentialService creates a CredentialService with all required dependencies.
func NewCredentialService(
	moodle driven.MoodleClient,
	creds driven.CredentialStore,
	users driven.UserStore,
	attempts driven.AttemptStore,
	v *vault.Vault,
) *CredentialService {
	return &CredentialService{
		moodle:   moodle,
		creds:    creds,
		users:    users,
		attempts: attempts,
		vault:    v,
		now:      time.Now,
	}
}

// Validate tests a credential triple against the institution's Moodle.
// Exactly one audit row is written per invocation, success or failure, before
// returning. identifier is who is attempting (user id or client IP).
func (s *CredentialService) Validate(ctx context.Context, identifier, username, password, institutionID string) (ValidationOutcome, error) {
	start := s.now()

	inst, ok := model.InstitutionByID(institutionID)
	if !ok {
		s.record(ctx, identifier, model.AttemptKindCredentialTest, institutionID, false, "institution not supported", start)
		return ValidationOutcome{}, ErrInstitutionNotSupported
	}

	res, err := s.moodle.Authenticate(ctx, username, password, inst)
	if err != nil {
		s.record(ctx, identifier, model.AttemptKindCredentialTest, institutionID, false, "authentication check failed", start)
		return ValidationOutcome{}, err
	}

	s.record(ctx, identifier, model.AttemptKindCredentialTest, institutionID, res.OK, truncateMessage(res.Message), start)

	return ValidationOutcome{
		Success:     res.OK,
		Message:     res.Message,
		Institution: inst,
	}, nil
}

// Save validates the pair and, on success, encrypts and persists it, flips the
// user's setup-complete flag, and returns the institution. The plaintext never
// touches the store.
func (s *CredentialService) Save(ctx context.Context, userID, username, password, institutionID string) (model.Institution, error) {
	outcome, err := s.Validate(ctx, userID, username, password, institutionID)
	if err != nil {
		return model.Institution{}, err
	}
	if !outcome.Success {
		return model.Institution{}, ErrInvalidCredentials
	}

	pair, err := s.vault.Encrypt(username, password)
	if err != nil {
		return model.Institution{}, err
	}

	now := s.now()
	rec := model.EncryptedCredentialRecord{
		UserID:            userID,
		InstitutionID:     institutionID,
		EncryptedUsername: pair.EncryptedUsername,
		EncryptedPassword: pair.EncryptedPassword,
		AuthTag:           pair.AuthTag,
		IV:                pair.IV,
		IsValid:           true,
		LastValidatedAt:   now,
		ExpiresAt:         now.Add(credentialExpiry),
		UpdatedAt:         now,
	}
	if err := s.creds.Upsert(ctx, rec); err != nil {
		return model.Institution{}, err
	}
	if err := s.users.SetSetupComplete(ctx, userID, true); err != nil {
		return model.Institution{}, err
	}

	slog.Info("credentials saved", "user", userID, "institution", institutionID)
	return outcome.Institution, nil
}

// Revoke deletes the stored credential and clears setup-complete, demoting
// the user to stage one.
func (s *CredentialService) Revoke(ctx context.Context, userID string) error {
	if err := s.creds.Delete(ctx, userID); err != nil {
		return err
	}
	if err := s.users.SetSetupComplete(ctx, userID, false); err != nil {
		return err
	}
	slog.Info("credentials revoked", "user", userID)
	return nil
}

// RevalidateStored decrypts the stored credential and re-runs validation,
// persisting the outcome. Corruption of the stored secret demotes the
// credential to invalid and returns false; it never propagates as an error,
// because a caller checking validity must not crash on a bad record.
func (s *CredentialService) RevalidateStored(ctx context.Context, userID string) (bool, error) {
	rec, err := s.creds.GetByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, ErrNoStoredCredentials
	}

	if !vault.ValidateStructure(rec.EncryptedUsername, rec.EncryptedPassword, rec.AuthTag, rec.IV) {
		return false, s.demote(ctx, userID, "stored credential malformed")
	}

	username, password, err := s.vault.Decrypt(rec.EncryptedUsername, rec.EncryptedPassword, rec.AuthTag, rec.IV)
	if err != nil {
		return false, s.demote(ctx, userID, "stored credential corrupted")
	}

	inst, ok := model.InstitutionByID(rec.InstitutionID)
	if !ok {
		return false, ErrInstitutionNotSupported
	}

	start := s.now()
	res, err := s.moodle.Authenticate(ctx, username, password, inst)
	if err != nil {
		return false, err
	}
	s.record(ctx, userID, model.AttemptKindRevalidation, rec.InstitutionID, res.OK, truncateMessage(res.Message), start)

	if err := s.creds.SetValidity(ctx, userID, res.OK, s.now()); err != nil {
		return false, err
	}
	return res.OK, nil
}

// Decrypt returns the stored plaintext pair for handing to the sync pipeline.
// The caller must not persist the result.
func (s *CredentialService) Decrypt(ctx context.Context, userID string) (username, password, institutionID string, err error) {
	rec, err := s.creds.GetByUser(ctx, userID)
	if err != nil {
		return "", "", "", err
	}
	if rec == nil {
		return "", "", "", ErrNoStoredCredentials
	}
	username, password, err = s.vault.Decrypt(rec.EncryptedUsername, rec.EncryptedPassword, rec.AuthTag, rec.IV)
	if err != nil {
		return "", "", "", err
	}
	return username, password, rec.InstitutionID, nil
}

// demote marks the stored credential invalid and logs why. The audit row uses
// the revalidation kind so corruption shows up in the user's attempt history.
func (s *CredentialService) demote(ctx context.Context, userID, reason string) error {
	slog.Warn("credential demoted", "user", userID, "reason", reason)
	s.record(ctx, userID, model.AttemptKindRevalidation, "", false, reason, s.now())
	return s.creds.SetValidity(ctx, userID, false, s.now())
}

// record writes one audit row. Audit failures are logged, not propagated; the
// primary operation's outcome stands.
func (s *CredentialService) record(ctx context.Context, identifier string, kind model.AttemptKind, institutionID string, success bool, message string, start time.Time) {
	attempt := model.AuthAttempt{
		Identifier:     identifier,
		Kind:           kind,
		InstitutionID:  institutionID,
		Success:        success,
		ResponseTimeMs: int(s.now().Sub(start).Milliseconds()),
		CreatedAt:      s.now(),
	}
	if !success {
		attempt.ErrorMessage = message
	}
	if err := s.attempts.Record(ctx, attempt); err != nil {
		slog.Error("audit write failed", "identifier", identifier, "kind", kind, "error", err)
	}
}

// truncateMessage bounds audit messages so a hostile provider response cannot
// bloat the log table.
func truncateMessage(msg string) string {
	const max = 200
	if len(msg) > max {
		return msg[:max]
	}
	return msg
}
