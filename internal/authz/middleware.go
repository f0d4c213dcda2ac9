package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/obs"
)

// IdentityResolver turns a session credential into an identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (auth.Identity, error)
}

// ProfileLookup loads the profile holding a user's role.
type ProfileLookup interface {
	Lookup(ctx context.Context, userID string) (auth.Profile, error)
}

// Guard applies the engine to page requests at the HTTP edge.
type Guard struct {
	engine   *Engine
	resolver IdentityResolver
	lookup   ProfileLookup
	cookie   string
}

// NewGuard wires the engine to an identity resolver and role lookup.
func NewGuard(engine *Engine, resolver IdentityResolver, lookup ProfileLookup, cookieName string) *Guard {
	if engine == nil {
		engine = NewEngine(nil)
	}
	if cookieName == "" {
		cookieName = auth.DefaultSessionCookie
	}
	return &Guard{engine: engine, resolver: resolver, lookup: lookup, cookie: cookieName}
}

// Middleware redirects anonymous callers (307 to the landing page), rejects
// callers without the required role (403) and passes everything else through
// with the identity, and any profile loaded, attached to the request context.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.engine.Table().Excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		id := g.identity(ctx, r)

		var lookup LookupFunc
		if g.lookup != nil {
			lookup = func(ctx context.Context) (auth.Profile, error) {
				return g.lookup.Lookup(ctx, id.UserID)
			}
		}

		d := g.engine.Authorize(ctx, r.URL.Path, id, lookup)
		switch d.Outcome {
		case Redirect:
			http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
			return
		case Forbidden:
			writeForbidden(w, r)
			return
		}

		ctx = auth.ContextWithIdentity(ctx, id)
		if d.Profile != nil {
			ctx = auth.ContextWithProfile(ctx, *d.Profile)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Guard) identity(ctx context.Context, r *http.Request) auth.Identity {
	if g.resolver == nil {
		return auth.Anonymous
	}
	id, err := g.resolver.Resolve(ctx, auth.CredentialFromRequest(r, g.cookie))
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) {
			obs.From(ctx).Error("session resolve failed", zap.Error(err))
		} else {
			obs.From(ctx).Debug("invalid session credential", zap.Error(err))
		}
		return auth.Anonymous
	}
	return id
}

const forbiddenPage = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Access denied</title></head>
<body>
<h1>Access denied</h1>
<p>You do not have permission to view this page.</p>
<p><a href="/">Return to the home page</a></p>
</body>
</html>
`

func writeForbidden(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "access denied"})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(forbiddenPage))
}

func wantsJSON(r *http.Request) bool {
	accept := strings.ToLower(r.Header.Get("Accept"))
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
