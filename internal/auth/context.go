package auth

import "context"

type identityContextKey struct{}
type profileContextKey struct{}

// ContextWithIdentity attaches the resolved caller identity to the request context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the caller identity, or Anonymous when none was attached.
func IdentityFromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Anonymous
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok {
		return Anonymous
	}
	return id
}

// ContextWithProfile attaches the profile loaded while handling this request.
// It never outlives the request.
func ContextWithProfile(ctx context.Context, p Profile) context.Context {
	return context.WithValue(ctx, profileContextKey{}, &p)
}

// ProfileFromContext returns the profile loaded earlier in this request, if any.
func ProfileFromContext(ctx context.Context) (Profile, bool) {
	if ctx == nil {
		return Profile{}, false
	}
	p, ok := ctx.Value(profileContextKey{}).(*Profile)
	if !ok || p == nil {
		return Profile{}, false
	}
	return *p, true
}
