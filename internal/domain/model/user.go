package model

import "time"

// User is the identity record created on the first successful Google login.
// IsSetupComplete flips true only after a validated university credential has
// been stored for the user; it is cleared again on credential revocation.
type User struct {
	ID              string
	Email           string
	Name            string
	InstitutionID   string // empty until the email domain is matched
	IsSetupComplete bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
