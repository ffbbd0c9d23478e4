package application

import (
	"errors"
	"fmt"

	"github.com/ortaizi/unisync/internal/domain/model"
)

var (
	// ErrInstitutionNotSupported is returned when no supported institution
	// matches the requested id or email domain.
	ErrInstitutionNotSupported = errors.New("institution not supported")

	// ErrInvalidCredentials is returned when the institution rejected the
	// credential pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrForbidden is returned for ownership failures. Lookups of jobs that
	// do not exist return the same error as jobs owned by someone else, so a
	// caller cannot probe which job ids exist.
	ErrForbidden = errors.New("forbidden")

	// ErrUserNotFound is returned when a session is derived for an unknown user.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoStoredCredentials is returned when an operation needs a stored
	// university credential and the user has none.
	ErrNoStoredCredentials = errors.New("no stored credentials")

	// ErrJobNotActive is returned when cancelling a job that already reached
	// a terminal status.
	ErrJobNotActive = errors.New("sync job is not active")
)

// JobConflictError reports that a sync trigger was refused because the user
// already has an active job. It is normal flow control: the conflicting job
// rides along so callers can surface its id and progress.
type JobConflictError struct {
	Job model.SyncJob
}

func (e *JobConflictError) Error() string {
	return fmt.Sprintf("sync job %s is already %s", e.Job.ID, e.Job.Status)
}
