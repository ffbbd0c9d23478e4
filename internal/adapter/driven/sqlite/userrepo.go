package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ortaizi/unisync/internal/domain/model"
	"github.com/ortaizi/unisync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.UserStore = (*UserRepo)(nil)

// UserRepo is the SQLite implementation of the UserStore port interface.
type UserRepo struct {
	db *DB
}

// NewUserRepo creates a new UserRepo backed by the given DB.
func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

// Upsert inserts the user or, when the email already exists, refreshes name
// and institution. The stored row is returned so callers see the canonical id.
func (r *UserRepo) Upsert(ctx context.Context, user model.User) (model.User, error) {
	const query = `
		INSERT INTO users (id, email, name, institution_id, is_setup_complete, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			name = excluded.name,
			institution_id = excluded.institution_id,
			updated_at = excluded.updated_at
	`

	setupComplete := 0
	if user.IsSetupComplete {
		setupComplete = 1
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.InstitutionID, setupComplete,
		user.CreatedAt.UTC(), user.UpdatedAt.UTC(),
	)
	if err != nil {
		return model.User{}, fmt.Errorf("upsert user %q: %w", user.Email, err)
	}

	stored, err := r.GetByEmail(ctx, user.Email)
	if err != nil {
		return model.User{}, err
	}
	if stored == nil {
		return model.User{}, fmt.Errorf("upserted user %q not found", user.Email)
	}
	return *stored, nil
}

// GetByID returns the user with the given id, or nil if none exists.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	const query = `
		SELECT id, email, name, institution_id, is_setup_complete, created_at, updated_at
		FROM users WHERE id = ?
	`
	return r.queryUser(ctx, query, id)
}

// GetByEmail returns the user with the given email, or nil if none exists.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	const query = `
		SELECT id, email, name, institution_id, is_setup_complete, created_at, updated_at
		FROM users WHERE email = ?
	`
	return r.queryUser(ctx, query, email)
}

// SetSetupComplete flips the IsSetupComplete flag for the user.
func (r *UserRepo) SetSetupComplete(ctx context.Context, id string, complete bool) error {
	const query = `UPDATE users SET is_setup_complete = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	v := 0
	if complete {
		v = 1
	}
	if _, err := r.db.Writer.ExecContext(ctx, query, v, id); err != nil {
		return fmt.Errorf("set setup complete for user %q: %w", id, err)
	}
	return nil
}

func (r *UserRepo) queryUser(ctx context.Context, query string, arg any) (*model.User, error) {
	var (
		user          model.User
		setupComplete int
		createdAt     string
		updatedAt     string
	)

	err := r.db.Reader.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.Name, &user.InstitutionID, &setupComplete, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	user.IsSetupComplete = setupComplete != 0

	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &user, nil
}
