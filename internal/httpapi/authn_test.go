package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"intakeportal.org/internal/auth"
)

func newAuthAPI(t *testing.T, now func() time.Time) *API {
	t.Helper()
	opts := []auth.SessionOption{}
	if now != nil {
		opts = append(opts, auth.WithClock(now))
	}
	sessions, err := auth.NewSessionResolver(testSecret, opts...)
	if err != nil {
		t.Fatalf("session resolver: %v", err)
	}
	return &API{cfg: Config{CookieName: auth.DefaultSessionCookie}, sessions: sessions}
}

func TestWithAuthAttachesIdentity(t *testing.T) {
	a := newAuthAPI(t, nil)
	tok, _, err := a.sessions.Issue(auth.Identity{UserID: "user-1", Email: "User-1@Example.com"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var got auth.Identity
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.DefaultSessionCookie, Value: tok})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.UserID != "user-1" || got.Email != "user-1@example.com" {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestWithAuthRejectsMissingSession(t *testing.T) {
	a := newAuthAPI(t, nil)
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestWithAuthRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := issuedAt
	a := newAuthAPI(t, func() time.Time { return now })
	tok, _, err := a.sessions.Issue(auth.Identity{UserID: "user-1"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	now = issuedAt.Add(time.Hour)

	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestWithAuthRejectsNonBearerHeader(t *testing.T) {
	a := newAuthAPI(t, nil)
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAPIRoutesAnswerJSON401(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/api/forms/economic-loss/abc", "not-a-jwt", nil, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	body := decode[map[string]any](t, resp)
	if body["error"] != "invalid token" {
		t.Fatalf("unexpected body: %v", body)
	}
}
