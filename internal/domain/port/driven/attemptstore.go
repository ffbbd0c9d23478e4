package driven

import (
	"context"

	"github.com/ortaizi/unisync/internal/domain/model"
)

// AttemptStore defines the driven port for the append-only auth audit trail.
type AttemptStore interface {
	// Record appends one attempt row. Rows are write-once.
	Record(ctx context.Context, attempt model.AuthAttempt) error

	// ListByIdentifier returns the most recent attempts for an identifier,
	// newest first, up to limit.
	ListByIdentifier(ctx context.Context, identifier string, limit int) ([]model.AuthAttempt, error)
}
