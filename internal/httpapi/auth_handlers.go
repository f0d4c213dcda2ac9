package httpapi

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/obs"
)

type devSessionRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type devSessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const devSessionTTL = 8 * time.Hour

// handleDevSession mints a session for local development, standing in for
// the hosted identity provider. It is only routed when dev sessions are on.
func (a *API) handleDevSession(w http.ResponseWriter, r *http.Request) {
	var req devSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	token, expiresAt, err := a.sessions.Issue(auth.Identity{UserID: userID, Email: req.Email}, devSessionTTL)
	if err != nil {
		handleError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	obs.From(r.Context()).Info("dev session issued", zap.String("user_id", userID), zap.Time("expires_at", expiresAt))
	writeJSON(w, http.StatusOK, devSessionResponse{Token: token, ExpiresAt: expiresAt})
}
