package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ortaizi/unisync/internal/domain/model"
	"github.com/ortaizi/unisync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SyncJobStore = (*SyncJobRepo)(nil)

// terminalStatuses is inlined into queries that distinguish active jobs.
const terminalStatuses = `('completed', 'error', 'cancelled')`

// SyncJobRepo is the SQLite implementation of the SyncJobStore port interface.
// Stage data is serialized as JSON in the TEXT column.
type SyncJobRepo struct {
	db *DB
}

// NewSyncJobRepo creates a new SyncJobRepo backed by the given DB.
func NewSyncJobRepo(db *DB) *SyncJobRepo {
	return &SyncJobRepo{db: db}
}

// CreateIfIdle inserts the job only when the user has no non-terminal job.
// The guard is part of the INSERT statement itself, so two concurrent calls
// cannot both pass a read-then-write check; a partial unique index on active
// jobs backs this up at the schema level.
func (r *SyncJobRepo) CreateIfIdle(ctx context.Context, job model.SyncJob) (*model.SyncJob, error) {
	const query = `
		INSERT INTO sync_jobs (id, user_id, status, progress, message, stage_data, created_at, updated_at, completed_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, NULL
		WHERE NOT EXISTS (
			SELECT 1 FROM sync_jobs WHERE user_id = ? AND status NOT IN ` + terminalStatuses + `
		)
	`

	stageJSON, err := json.Marshal(job.StageData)
	if err != nil {
		return nil, fmt.Errorf("marshal stage data: %w", err)
	}

	res, err := r.db.Writer.ExecContext(ctx, query,
		job.ID, job.UserID, string(job.Status), job.Progress, job.Message, string(stageJSON),
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
		job.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("create sync job for user %q: %w", job.UserID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("create sync job rows affected: %w", err)
	}
	if rows == 0 {
		active, err := r.GetActiveByUser(ctx, job.UserID)
		if err != nil {
			return nil, err
		}
		return active, driven.ErrActiveJobExists
	}

	return &job, nil
}

// GetByID returns the job with the given id, or nil if none exists.
func (r *SyncJobRepo) GetByID(ctx context.Context, id string) (*model.SyncJob, error) {
	const query = `
		SELECT id, user_id, status, progress, message, stage_data, created_at, updated_at, completed_at
		FROM sync_jobs WHERE id = ?
	`
	return r.queryJob(ctx, query, id)
}

// GetActiveByUser returns the user's non-terminal job, or nil if none exists.
func (r *SyncJobRepo) GetActiveByUser(ctx context.Context, userID string) (*model.SyncJob, error) {
	const query = `
		SELECT id, user_id, status, progress, message, stage_data, created_at, updated_at, completed_at
		FROM sync_jobs
		WHERE user_id = ? AND status NOT IN ` + terminalStatuses + `
	`
	return r.queryJob(ctx, query, userID)
}

// Update persists the job's mutable fields.
func (r *SyncJobRepo) Update(ctx context.Context, job model.SyncJob) error {
	const query = `
		UPDATE sync_jobs
		SET status = ?, progress = ?, message = ?, stage_data = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`

	stageJSON, err := json.Marshal(job.StageData)
	if err != nil {
		return fmt.Errorf("marshal stage data: %w", err)
	}

	var completedAt any
	if job.CompletedAt != nil {
		completedAt = job.CompletedAt.UTC()
	}

	if _, err := r.db.Writer.ExecContext(ctx, query,
		string(job.Status), job.Progress, job.Message, string(stageJSON),
		job.UpdatedAt.UTC(), completedAt, job.ID,
	); err != nil {
		return fmt.Errorf("update sync job %q: %w", job.ID, err)
	}
	return nil
}

// ListByUser returns the user's jobs newest first, with optional status filter
// and limit/offset paging.
func (r *SyncJobRepo) ListByUser(ctx context.Context, userID string, f driven.HistoryFilter) ([]model.SyncJob, error) {
	query := `
		SELECT id, user_id, status, progress, message, stage_data, created_at, updated_at, completed_at
		FROM sync_jobs
		WHERE user_id = ?
	`
	args := []any{userID}

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync jobs for user %q: %w", userID, err)
	}
	defer rows.Close()

	var jobs []model.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync jobs: %w", err)
	}
	return jobs, nil
}

// CountByUser returns the number of jobs matching ListByUser before paging.
func (r *SyncJobRepo) CountByUser(ctx context.Context, userID string, status model.SyncStatus) (int, error) {
	query := `SELECT COUNT(*) FROM sync_jobs WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}

	var count int
	if err := r.db.Reader.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sync jobs for user %q: %w", userID, err)
	}
	return count, nil
}

// DeleteTerminalBeyond removes terminal jobs beyond the keep most recent.
func (r *SyncJobRepo) DeleteTerminalBeyond(ctx context.Context, userID string, keep int) (int, error) {
	const query = `
		DELETE FROM sync_jobs
		WHERE user_id = ? AND status IN ` + terminalStatuses + `
		AND id NOT IN (
			SELECT id FROM sync_jobs
			WHERE user_id = ? AND status IN ` + terminalStatuses + `
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
	`

	res, err := r.db.Writer.ExecContext(ctx, query, userID, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune sync jobs for user %q: %w", userID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return int(rows), nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanJob.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SyncJobRepo) queryJob(ctx context.Context, query string, arg any) (*model.SyncJob, error) {
	row := r.db.Reader.QueryRowContext(ctx, query, arg)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func scanJob(row rowScanner) (*model.SyncJob, error) {
	var (
		job         model.SyncJob
		status      string
		stageJSON   string
		createdAt   string
		updatedAt   string
		completedAt sql.NullString
	)

	err := row.Scan(
		&job.ID, &job.UserID, &status, &job.Progress, &job.Message, &stageJSON,
		&createdAt, &updatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan sync job: %w", err)
	}

	job.Status = model.SyncStatus(status)

	if err := json.Unmarshal([]byte(stageJSON), &job.StageData); err != nil {
		return nil, fmt.Errorf("unmarshal stage data for job %q: %w", job.ID, err)
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		job.CompletedAt = &t
	}

	return &job, nil
}
