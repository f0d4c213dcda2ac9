package authz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakeportal.org/internal/auth"
)

// tokenResolver maps literal tokens to identities.
type tokenResolver map[string]auth.Identity

func (r tokenResolver) Resolve(_ context.Context, credential string) (auth.Identity, error) {
	if credential == "" {
		return auth.Anonymous, nil
	}
	id, ok := r[credential]
	if !ok {
		return auth.Anonymous, auth.ErrInvalidToken
	}
	return id, nil
}

type roleTable struct {
	roles map[string]auth.Role
	err   error
	calls int
}

func (l *roleTable) Lookup(_ context.Context, userID string) (auth.Profile, error) {
	l.calls++
	if l.err != nil {
		return auth.Profile{}, l.err
	}
	role, ok := l.roles[userID]
	if !ok {
		return auth.Profile{}, auth.ErrNoProfile
	}
	return auth.Profile{UserID: userID, Role: role}, nil
}

func newTestGuard(lookup *roleTable) *Guard {
	resolver := tokenResolver{
		"tok-user":  {UserID: "u1"},
		"tok-site":  {UserID: "s1"},
		"tok-firm":  {UserID: "f1"},
		"tok-ghost": {UserID: "ghost"},
	}
	return NewGuard(NewEngine(nil), resolver, lookup, "")
}

func defaultRoles() *roleTable {
	return &roleTable{roles: map[string]auth.Role{
		"u1": auth.RoleUser,
		"s1": auth.RoleSiteAdmin,
		"f1": auth.RoleFirmAdmin,
	}}
}

// echo reports the identity and profile the guard attached.
var echo = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	body := "id=" + id.UserID
	if p, ok := auth.ProfileFromContext(r.Context()); ok {
		body += " role=" + string(p.Role)
	}
	_, _ = w.Write([]byte(body))
})

func serve(g *Guard, path, token string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.DefaultSessionCookie, Value: token})
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	g.Middleware(echo).ServeHTTP(rec, req)
	return rec
}

func TestGuardAnonymousFormsRedirects(t *testing.T) {
	rec := serve(newTestGuard(defaultRoles()), "/forms", "")
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestGuardUserOnAdminForbidden(t *testing.T) {
	rec := serve(newTestGuard(defaultRoles()), "/admin", "tok-user")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Access denied")
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestGuardForbiddenJSON(t *testing.T) {
	rec := serve(newTestGuard(defaultRoles()), "/admin", "tok-user", "Accept", "application/json")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"access denied"}`, rec.Body.String())
}

func TestGuardSiteAdminPassesThrough(t *testing.T) {
	rec := serve(newTestGuard(defaultRoles()), "/admin", "tok-site")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "id=s1 role=site_admin", rec.Body.String())
}

func TestGuardFirmAdminAnyFirm(t *testing.T) {
	g := newTestGuard(defaultRoles())
	for _, p := range []string{"/firms/acme-law/admin", "/firms/other-firm/admin"} {
		rec := serve(g, p, "tok-firm")
		assert.Equal(t, http.StatusOK, rec.Code, p)
		assert.Equal(t, "id=f1 role=firm_admin", rec.Body.String(), p)
	}
}

func TestGuardInvalidTokenIsAnonymous(t *testing.T) {
	rec := serve(newTestGuard(defaultRoles()), "/profile", "forged")
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
}

func TestGuardNoProfileForbidden(t *testing.T) {
	rec := serve(newTestGuard(defaultRoles()), "/firm-admin", "tok-ghost")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardLookupOutageFailsClosed(t *testing.T) {
	lookup := defaultRoles()
	lookup.err = errors.New("connection reset")
	rec := serve(newTestGuard(lookup), "/admin", "tok-site")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 1, lookup.calls)
}

func TestGuardExcludedPathsSkipEvaluation(t *testing.T) {
	lookup := defaultRoles()
	g := newTestGuard(lookup)
	for _, p := range []string{"/api/me", "/_next/static/app.js", "/favicon.ico"} {
		rec := serve(g, p, "")
		assert.Equal(t, http.StatusOK, rec.Code, p)
		assert.Equal(t, "id=", rec.Body.String(), p)
	}
	assert.Zero(t, lookup.calls)
}

func TestGuardProtectsAssetLikePaths(t *testing.T) {
	g := newTestGuard(defaultRoles())
	for _, p := range []string{"/admin/export.txt", "/admin/app.js", "/admin/logo.png", "/firm-admin/users.css", "/forms/claim-42.map"} {
		rec := serve(g, p, "")
		assert.Equal(t, http.StatusTemporaryRedirect, rec.Code, p)
		assert.Equal(t, "/", rec.Header().Get("Location"), p)
	}

	rec := serve(g, "/admin/logo.png", "tok-user")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(g, "/images/hero.png", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardAuthenticatedPageCarriesIdentity(t *testing.T) {
	lookup := defaultRoles()
	rec := serve(newTestGuard(lookup), "/forms/economic-loss", "tok-user")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "id=u1"))
	assert.Zero(t, lookup.calls, "auth-only pages must not query roles")
}

func TestGuardBearerHeader(t *testing.T) {
	g := newTestGuard(defaultRoles())
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer tok-site")
	rec := httptest.NewRecorder()
	g.Middleware(echo).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
