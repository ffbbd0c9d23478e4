package model

import "time"

// AuthAttempt is one append-only audit trail entry. Rows are written exactly
// once per validation or login attempt and never mutated.
type AuthAttempt struct {
	ID             int64
	Identifier     string // user id, email, or client IP depending on Kind
	Kind           AttemptKind
	InstitutionID  string
	Success        bool
	ErrorMessage   string
	ResponseTimeMs int
	CreatedAt      time.Time
}
