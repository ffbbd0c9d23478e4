package driven

import (
	"context"

	"github.com/ortaizi/unisync/internal/domain/model"
)

// UserStore defines the driven port for identity record persistence.
type UserStore interface {
	// Upsert creates the user on first login or updates name/institution on
	// subsequent logins, keyed by email.
	Upsert(ctx context.Context, user model.User) (model.User, error)

	// GetByID returns nil, nil when no user exists with that id.
	GetByID(ctx context.Context, id string) (*model.User, error)

	// GetByEmail returns nil, nil when no user exists with that email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)

	// SetSetupComplete flips the IsSetupComplete flag.
	SetSetupComplete(ctx context.Context, id string, complete bool) error
}
