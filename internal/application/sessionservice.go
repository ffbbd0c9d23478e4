package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ortaizi/unisync/internal/domain/model"
	"github.com/ortaizi/unisync/internal/domain/port/driven"
)

// Session is the unified identity view derived from persisted state. Deriving
// one never mutates anything; only explicit credential operations move a user
// between stages.
type Session struct {
	UserID              string
	Email               string
	Stage               model.SessionStage
	InstitutionID       string
	InstitutionName     string
	HasValidCredentials bool
	LastSyncAt          *time.Time
}

// SessionClaims is the JWT payload carried by the opaque session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email         string             `json:"email"`
	Stage         model.SessionStage `json:"stage"`
	InstitutionID string             `json:"institution_id,omitempty"`
}

// SessionService derives sessions from stored state and enriches them into
// signed tokens.
type SessionService struct {
	users    driven.UserStore
	creds    driven.CredentialStore
	jobs     driven.SyncJobStore
	attempts driven.AttemptStore
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

// NewSessionService creates a SessionService. secret signs session tokens;
// ttl bounds their validity.
func NewSessionService(
	users driven.UserStore,
	creds driven.CredentialStore,
	jobs driven.SyncJobStore,
	attempts driven.AttemptStore,
	secret []byte,
	ttl time.Duration,
) *SessionService {
	return &SessionService{
		users:    users,
		creds:    creds,
		jobs:     jobs,
		attempts: attempts,
		secret:   secret,
		tokenTTL: ttl,
		now:      time.Now,
	}
}

// CompleteGoogleLogin is the stage-1 entry point. The email domain must match
// a supported institution or the attempt is logged as a domain rejection and
// the user stays unauthenticated. On success the user row is created or
// refreshed.
func (s *SessionService) CompleteGoogleLogin(ctx context.Context, email, name string) (model.User, error) {
	inst, ok := model.InstitutionByEmail(email)
	if !ok {
		s.recordLogin(ctx, email, model.AttemptKindDomainRejected, "", false, "email domain not supported")
		return model.User{}, ErrInstitutionNotSupported
	}

	now := s.now()
	user, err := s.users.Upsert(ctx, model.User{
		ID:            uuid.NewString(),
		Email:         email,
		Name:          name,
		InstitutionID: inst.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return model.User{}, err
	}

	s.recordLogin(ctx, email, model.AttemptKindGoogleLogin, inst.ID, true, "")
	slog.Info("stage-1 login complete", "user", user.ID, "institution", inst.ID)
	return user, nil
}

// DeriveSession is the read-only projection over User and credential state.
// A missing credential record means stage one; a credential record with
// IsValid=false still reports the persisted stage, just without valid
// credentials.
func (s *SessionService) DeriveSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if user == nil {
		return Session{}, ErrUserNotFound
	}

	sess := Session{
		UserID:        user.ID,
		Email:         user.Email,
		Stage:         model.StageOneComplete,
		InstitutionID: user.InstitutionID,
	}
	if inst, ok := model.InstitutionByID(user.InstitutionID); ok {
		sess.InstitutionName = inst.Name
	}

	rec, err := s.creds.GetByUser(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if rec != nil {
		sess.HasValidCredentials = rec.IsValid
		if user.IsSetupComplete {
			sess.Stage = model.StageTwoComplete
		}
	}

	sess.LastSyncAt, err = s.lastSyncAt(ctx, userID)
	if err != nil {
		return Session{}, err
	}

	return sess, nil
}

// RefreshOnDemand re-derives the session and issues a fresh token. It is the
// only path for explicit client-triggered refresh, typically right after a
// credential save.
func (s *SessionService) RefreshOnDemand(ctx context.Context, userID string) (Session, string, error) {
	sess, err := s.DeriveSession(ctx, userID)
	if err != nil {
		return Session{}, "", err
	}
	token, err := s.IssueToken(sess)
	if err != nil {
		return Session{}, "", err
	}
	return sess, token, nil
}

// IssueToken signs a session token carrying the derived stage.
func (s *SessionService) IssueToken(sess Session) (string, error) {
	now := s.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
		Email:         sess.Email,
		Stage:         sess.Stage,
		InstitutionID: sess.InstitutionID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

// ParseToken verifies a session token and returns its claims.
func (s *SessionService) ParseToken(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid {
		return nil, ErrForbidden
	}
	return claims, nil
}

// lastSyncAt returns the completion time of the user's most recent completed
// sync, or nil if there is none.
func (s *SessionService) lastSyncAt(ctx context.Context, userID string) (*time.Time, error) {
	jobs, err := s.jobs.ListByUser(ctx, userID, driven.HistoryFilter{Limit: 1, Status: model.SyncStatusCompleted})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 || jobs[0].CompletedAt == nil {
		return nil, nil
	}
	return jobs[0].CompletedAt, nil
}

func (s *SessionService) recordLogin(ctx context.Context, email string, kind model.AttemptKind, institutionID string, success bool, message string) {
	if err := s.attempts.Record(ctx, model.AuthAttempt{
		Identifier:    email,
		Kind:          kind,
		InstitutionID: institutionID,
		Success:       success,
		ErrorMessage:  message,
		CreatedAt:     s.now(),
	}); err != nil {
		slog.Error("audit write failed", "identifier", email, "kind", kind, "error", err)
	}
}
