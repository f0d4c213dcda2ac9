package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,62}[a-z0-9])?$`)

// ProfileService implements the admin workflows over profiles and firms.
// Every call re-resolves the actor's profile through the RoleLookup.
type ProfileService struct {
	profiles ProfileStore
	firms    FirmStore
	lookup   *RoleLookup
}

func NewProfileService(profiles ProfileStore, firms FirmStore) (*ProfileService, error) {
	if profiles == nil {
		return nil, errors.New("profile store is required")
	}
	if firms == nil {
		return nil, errors.New("firm store is required")
	}
	return &ProfileService{profiles: profiles, firms: firms, lookup: NewRoleLookup(profiles)}, nil
}

// Me returns the caller's own profile.
func (s *ProfileService) Me(ctx context.Context, actor Identity) (Profile, error) {
	if actor.IsAnonymous() {
		return Profile{}, ErrNoProfile
	}
	return s.lookup.Lookup(ctx, actor.UserID)
}

// EnsureProfile creates a user-role profile for actor when none exists yet.
// It backs the first-login setup flow and never changes an existing role.
func (s *ProfileService) EnsureProfile(ctx context.Context, actor Identity, firstName, lastName string) (Profile, error) {
	if actor.IsAnonymous() {
		return Profile{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	existing, err := s.lookup.Lookup(ctx, actor.UserID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNoProfile) {
		return Profile{}, err
	}
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return Profile{}, fmt.Errorf("%w: first_name and last_name are required", ErrInvalidInput)
	}
	return s.profiles.UpsertProfile(ctx, Profile{
		UserID:    actor.UserID,
		Role:      RoleUser,
		FirstName: firstName,
		LastName:  lastName,
		Email:     actor.Email,
	})
}

// SetRole changes the role of targetUserID inside the firm identified by firmSlug.
// Site admins may assign any role; firm admins may assign user or firm_admin to
// members of their own firm. Nobody may change their own role.
func (s *ProfileService) SetRole(ctx context.Context, actor Identity, firmSlug, targetUserID string, role Role) (Profile, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return Profile{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if !role.Valid() {
		return Profile{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if targetUserID == actor.UserID {
		return Profile{}, fmt.Errorf("%w: cannot change own role", ErrForbidden)
	}
	me, err := s.lookup.Lookup(ctx, actor.UserID)
	if err != nil {
		return Profile{}, err
	}
	firm, err := s.FirmBySlug(ctx, firmSlug)
	if err != nil {
		return Profile{}, err
	}
	if !OwnsFirm(me, firm) {
		return Profile{}, fmt.Errorf("%w: not an administrator of firm %s", ErrForbidden, firm.Slug)
	}
	target, err := s.lookup.Lookup(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, ErrNoProfile) {
			return Profile{}, fmt.Errorf("%w: profile %s", ErrNotFound, targetUserID)
		}
		return Profile{}, err
	}
	if target.FirmID != firm.ID {
		return Profile{}, fmt.Errorf("%w: user %s is not a member of firm %s", ErrNotFound, targetUserID, firm.Slug)
	}
	if me.Role != RoleSiteAdmin {
		if role == RoleSiteAdmin || target.Role == RoleSiteAdmin {
			return Profile{}, fmt.Errorf("%w: site_admin changes require a site administrator", ErrForbidden)
		}
	}
	return s.profiles.SetProfileRole(ctx, targetUserID, role)
}

// AssignFirm moves targetUserID into the firm identified by firmSlug. Site admins only.
func (s *ProfileService) AssignFirm(ctx context.Context, actor Identity, targetUserID, firmSlug string) (Profile, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return Profile{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if err := s.requireSiteAdmin(ctx, actor); err != nil {
		return Profile{}, err
	}
	firm, err := s.FirmBySlug(ctx, firmSlug)
	if err != nil {
		return Profile{}, err
	}
	return s.profiles.SetProfileFirm(ctx, targetUserID, firm.ID)
}

// CreateFirm registers a new firm. Site admins only.
func (s *ProfileService) CreateFirm(ctx context.Context, actor Identity, name, slug string) (Firm, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Firm{}, fmt.Errorf("%w: firm name is required", ErrInvalidInput)
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !slugPattern.MatchString(slug) {
		return Firm{}, fmt.Errorf("%w: invalid firm slug %q", ErrInvalidInput, slug)
	}
	if err := s.requireSiteAdmin(ctx, actor); err != nil {
		return Firm{}, err
	}
	return s.firms.CreateFirm(ctx, name, slug)
}

// ListFirms lists every firm for site admins and the caller's own firm otherwise.
func (s *ProfileService) ListFirms(ctx context.Context, actor Identity) ([]Firm, error) {
	me, err := s.lookup.Lookup(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	all, err := s.firms.ListFirms(ctx)
	if err != nil {
		return nil, err
	}
	if me.Role == RoleSiteAdmin {
		return all, nil
	}
	var own []Firm
	for _, f := range all {
		if f.ID == me.FirmID {
			own = append(own, f)
		}
	}
	return own, nil
}

// FirmMembers lists the profiles of a firm the actor administers.
func (s *ProfileService) FirmMembers(ctx context.Context, actor Identity, firmSlug string) ([]Profile, error) {
	me, err := s.lookup.Lookup(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	firm, err := s.FirmBySlug(ctx, firmSlug)
	if err != nil {
		return nil, err
	}
	if !OwnsFirm(me, firm) {
		return nil, fmt.Errorf("%w: not an administrator of firm %s", ErrForbidden, firm.Slug)
	}
	return s.profiles.ListProfilesByFirm(ctx, firm.ID)
}

// FirmBySlug resolves a firm from its path segment.
func (s *ProfileService) FirmBySlug(ctx context.Context, slug string) (Firm, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return Firm{}, fmt.Errorf("%w: firm slug is required", ErrInvalidInput)
	}
	return s.firms.FirmBySlug(ctx, slug)
}

func (s *ProfileService) requireSiteAdmin(ctx context.Context, actor Identity) error {
	me, err := s.lookup.Lookup(ctx, actor.UserID)
	if err != nil {
		return err
	}
	if me.Role != RoleSiteAdmin {
		return fmt.Errorf("%w: site administrator required", ErrForbidden)
	}
	return nil
}
