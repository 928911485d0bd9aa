package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

type User struct {
	ID           uuid.UUID        `json:"id"`
	Email        string           `json:"email"`
	Username     string           `json:"username"`
	DisplayName  string           `json:"display_name"`
	PasswordHash string           `json:"-"`
	Role         string           `json:"role"`
	Enforcement  EnforcementState `json:"enforcement"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (u *User) IsSeller() bool { return u.Role == RoleSeller }
func (u *User) IsAdmin() bool  { return u.Role == RoleAdmin }

// EnforcementState is embedded in the user record and only mutated by the
// enforcement ledger.
type EnforcementState struct {
	ViolationCount      int        `json:"violation_count"`
	WarningCount        int        `json:"warning_count"`
	MessagingRestricted bool       `json:"messaging_restricted"`
	RestrictedUntil     *time.Time `json:"restricted_until,omitempty"`
}

// RestrictedAt reports whether the state blocks sending at the given instant.
// A timed restriction whose expiry has passed no longer blocks.
func (s EnforcementState) RestrictedAt(now time.Time) bool {
	if !s.MessagingRestricted {
		return false
	}
	if s.RestrictedUntil == nil {
		return true
	}
	return now.Before(*s.RestrictedUntil)
}
