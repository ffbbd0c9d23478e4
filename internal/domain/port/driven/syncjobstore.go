package driven

import (
	"context"
	"errors"

	"github.com/ortaizi/unisync/internal/domain/model"
)

// ErrActiveJobExists is returned by CreateIfIdle when the user already has a
// non-terminal job. The conflicting job accompanies the error so callers can
// report its id and status.
var ErrActiveJobExists = errors.New("an active sync job already exists for this user")

// HistoryFilter narrows and pages a job history listing.
type HistoryFilter struct {
	Limit  int
	Offset int
	Status model.SyncStatus // empty means all statuses
}

// SyncJobStore defines the driven port for sync job persistence.
type SyncJobStore interface {
	// CreateIfIdle atomically inserts the job unless the user already has a
	// non-terminal one, in which case it returns ErrActiveJobExists together
	// with the conflicting job. The check and insert must be a single
	// statement, not a read followed by a write.
	CreateIfIdle(ctx context.Context, job model.SyncJob) (*model.SyncJob, error)

	// GetByID returns nil, nil when no job exists with that id.
	GetByID(ctx context.Context, id string) (*model.SyncJob, error)

	// GetActiveByUser returns the user's non-terminal job, or nil, nil.
	GetActiveByUser(ctx context.Context, userID string) (*model.SyncJob, error)

	// Update persists status, progress, message, stage data, and timestamps.
	Update(ctx context.Context, job model.SyncJob) error

	// ListByUser returns the user's jobs newest first.
	ListByUser(ctx context.Context, userID string, f HistoryFilter) ([]model.SyncJob, error)

	// CountByUser returns the total matching ListByUser before paging.
	CountByUser(ctx context.Context, userID string, status model.SyncStatus) (int, error)

	// DeleteTerminalBeyond removes the user's terminal jobs beyond the keep
	// most recent, returning how many were deleted. Non-terminal jobs are
	// never deleted.
	DeleteTerminalBeyond(ctx context.Context, userID string, keep int) (int, error)
}
