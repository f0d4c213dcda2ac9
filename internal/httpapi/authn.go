package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/obs"
)

// withAuth requires a valid session on API routes. API paths are excluded
// from the page guard, so callers without one get 401 JSON, never a redirect.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		credential := auth.CredentialFromRequest(r, a.cfg.CookieName)
		if credential == "" {
			unauthorized(w, r, "authentication required")
			return
		}
		id, err := a.sessions.Resolve(r.Context(), credential)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				unauthorized(w, r, "invalid token")
			default:
				obs.From(r.Context()).Error("session resolution failed", zap.Error(err))
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}
		if id.IsAnonymous() {
			unauthorized(w, r, "authentication required")
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = obs.ToContext(ctx, obs.From(ctx).With(zap.String("user_id", id.UserID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="intake-portal"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}
