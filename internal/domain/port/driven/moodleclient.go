package driven

import (
	"context"

	"github.com/ortaizi/unisync/internal/domain/model"
)

// AuthResult is the outcome of one authentication attempt against an
// institution's Moodle instance. A transport timeout is reported as
// OK=false with a message, never as an error.
type AuthResult struct {
	OK      bool
	Message string
}

// MoodleClient defines the driven port for the external university system.
// Implementations must apply their own request timeout; errors are reserved
// for conditions the caller cannot interpret as a failed login.
type MoodleClient interface {
	// Authenticate attempts a form login with the given plaintext credentials.
	Authenticate(ctx context.Context, username, password string, inst model.Institution) (AuthResult, error)

	// FetchCourses returns the user's courses. Requires credentials that
	// currently authenticate. Summaries are sanitized before returning.
	FetchCourses(ctx context.Context, username, password string, inst model.Institution) ([]model.Course, error)
}
