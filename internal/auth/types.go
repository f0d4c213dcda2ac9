package auth

import (
	"strings"
	"time"
)

// Identity is the caller as vouched for by the session provider.
// The zero value is the anonymous caller.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// Anonymous is the identity of a caller without a valid session.
var Anonymous = Identity{}

// IsAnonymous reports whether no user is attached.
func (i Identity) IsAnonymous() bool {
	return strings.TrimSpace(i.UserID) == ""
}

// Profile carries the role and firm affiliation of a user.
type Profile struct {
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	FirmID    string    `json:"firm_id,omitempty"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasFirm reports whether the profile is affiliated with a firm.
func (p Profile) HasFirm() bool {
	return p.FirmID != ""
}

// Firm is a law firm tenant; Slug appears in /firms/{slug}/... paths.
type Firm struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// OwnsFirm reports whether p may administer firm. Site admins administer every
// firm; firm admins only their own.
func OwnsFirm(p Profile, firm Firm) bool {
	switch p.Role {
	case RoleSiteAdmin:
		return true
	case RoleFirmAdmin:
		return p.FirmID != "" && p.FirmID == firm.ID
	default:
		return false
	}
}
