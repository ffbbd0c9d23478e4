package sqlite

import (
	"context"
	"fmt"

	"github.com/ortaizi/unisync/internal/domain/model"
	"github.com/ortaizi/unisync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AttemptStore = (*AttemptRepo)(nil)

// AttemptRepo is the SQLite implementation of the AttemptStore port interface.
// The table is append-only; there is no update path.
type AttemptRepo struct {
	db *DB
}

// NewAttemptRepo creates a new AttemptRepo backed by the given DB.
func NewAttemptRepo(db *DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

// Record appends one attempt row.
func (r *AttemptRepo) Record(ctx context.Context, attempt model.AuthAttempt) error {
	const query = `
		INSERT INTO auth_attempts (identifier, kind, institution_id, success, error_message, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	success := 0
	if attempt.Success {
		success = 1
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		attempt.Identifier, string(attempt.Kind), attempt.InstitutionID,
		success, attempt.ErrorMessage, attempt.ResponseTimeMs, attempt.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record auth attempt for %q: %w", attempt.Identifier, err)
	}
	return nil
}

// ListByIdentifier returns the most recent attempts for an identifier, newest first.
func (r *AttemptRepo) ListByIdentifier(ctx context.Context, identifier string, limit int) ([]model.AuthAttempt, error) {
	const query = `
		SELECT id, identifier, kind, institution_id, success, error_message, response_time_ms, created_at
		FROM auth_attempts
		WHERE identifier = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, identifier, limit)
	if err != nil {
		return nil, fmt.Errorf("list auth attempts for %q: %w", identifier, err)
	}
	defer rows.Close()

	var attempts []model.AuthAttempt
	for rows.Next() {
		var (
			a         model.AuthAttempt
			kind      string
			success   int
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.Identifier, &kind, &a.InstitutionID, &success, &a.ErrorMessage, &a.ResponseTimeMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan auth attempt: %w", err)
		}
		a.Kind = model.AttemptKind(kind)
		a.Success = success != 0
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auth attempts: %w", err)
	}
	return attempts, nil
}
