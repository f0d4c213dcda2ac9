package auth

import "context"

// ProfileStore reads and reassigns profiles. Implementations return ErrNotFound
// when no profile exists for the user.
type ProfileStore interface {
	ProfileByUserID(ctx context.Context, userID string) (Profile, error)
	UpsertProfile(ctx context.Context, p Profile) (Profile, error)
	SetProfileRole(ctx context.Context, userID string, role Role) (Profile, error)
	SetProfileFirm(ctx context.Context, userID, firmID string) (Profile, error)
	ListProfilesByFirm(ctx context.Context, firmID string) ([]Profile, error)
}

// FirmStore manages firms.
type FirmStore interface {
	CreateFirm(ctx context.Context, name, slug string) (Firm, error)
	FirmBySlug(ctx context.Context, slug string) (Firm, error)
	ListFirms(ctx context.Context) ([]Firm, error)
}
