package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"intakeportal.org/internal/obs"
)

// ProfileReader is the read side of ProfileStore.
type ProfileReader interface {
	ProfileByUserID(ctx context.Context, userID string) (Profile, error)
}

// RoleLookup resolves a user's role and firm from the profile store. Every call
// queries the store; nothing is cached so a demotion takes effect on the next request.
type RoleLookup struct {
	profiles ProfileReader
}

// NewRoleLookup wraps a profile reader.
func NewRoleLookup(profiles ProfileReader) *RoleLookup {
	return &RoleLookup{profiles: profiles}
}

// Lookup returns the profile for userID. A missing profile is ErrNoProfile; a
// store failure is returned wrapped so callers can fail closed.
func (l *RoleLookup) Lookup(ctx context.Context, userID string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, ErrNoProfile
	}
	if l == nil || l.profiles == nil {
		return Profile{}, errors.New("auth: role lookup has no profile store")
	}
	p, err := l.profiles.ProfileByUserID(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		return Profile{}, ErrNoProfile
	case err != nil:
		obs.RoleLookupFailed()
		return Profile{}, fmt.Errorf("auth: lookup role for %s: %w", userID, err)
	}
	if !p.Role.Valid() {
		return Profile{}, fmt.Errorf("%w: stored role %q is not recognised", ErrNoProfile, p.Role)
	}
	return p, nil
}
