package auth

import (
	"fmt"
	"strings"
)

// Role is attached to a profile, never to the identity itself.
type Role string

const (
	RoleUser      Role = "user"
	RoleFirmAdmin Role = "firm_admin"
	RoleSiteAdmin Role = "site_admin"
)

// AllRoles lists the roles in ascending privilege.
var AllRoles = []Role{RoleUser, RoleFirmAdmin, RoleSiteAdmin}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleFirmAdmin, RoleSiteAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole normalises s and rejects unknown roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// RoleSet is an immutable set of roles.
type RoleSet struct {
	members map[Role]struct{}
}

// NewRoleSet builds a set; unknown roles panic because sets are declared statically.
func NewRoleSet(roles ...Role) RoleSet {
	set := RoleSet{members: make(map[Role]struct{}, len(roles))}
	for _, r := range roles {
		if !r.Valid() {
			panic(fmt.Sprintf("auth: invalid role %q in role set", r))
		}
		set.members[r] = struct{}{}
	}
	return set
}

// Contains reports membership.
func (s RoleSet) Contains(r Role) bool {
	_, ok := s.members[r]
	return ok
}

// Len returns the number of roles in the set.
func (s RoleSet) Len() int { return len(s.members) }

// Roles returns the members in AllRoles order.
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, len(s.members))
	for _, r := range AllRoles {
		if s.Contains(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s RoleSet) String() string {
	roles := s.Roles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return "{" + strings.Join(names, ",") + "}"
}
