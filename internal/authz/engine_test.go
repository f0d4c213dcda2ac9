package authz

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakeportal.org/internal/auth"
)

var (
	anon  = auth.Anonymous
	alice = auth.Identity{UserID: "alice", Email: "alice@example.com"}
)

func withRole(role auth.Role) LookupFunc {
	return func(context.Context) (auth.Profile, error) {
		return auth.Profile{UserID: alice.UserID, Role: role, FirmID: "firm-acme"}, nil
	}
}

func failing(err error) LookupFunc {
	return func(context.Context) (auth.Profile, error) { return auth.Profile{}, err }
}

// countingLookup records how often the engine asked for the profile.
type countingLookup struct {
	calls int
	role  auth.Role
}

func (c *countingLookup) fn(context.Context) (auth.Profile, error) {
	c.calls++
	return auth.Profile{UserID: alice.UserID, Role: c.role}, nil
}

var protectedPaths = []string{
	"/forms", "/forms/", "/forms/economic-loss/new",
	"/profile", "/profile/settings",
	"/setup-admin", "/setup-admin/step-2",
	"/firms/acme-law/admin", "/firms/acme-law/admin/users",
	"/firm-admin", "/firm-admin/users",
	"/admin", "/admin/firms",
	"/firms", "/firms/acme-law", "/firms/acme-law/forms",
}

func TestAnonymousAlwaysRedirected(t *testing.T) {
	e := NewEngine(nil)
	for _, p := range protectedPaths {
		lookup := &countingLookup{role: auth.RoleSiteAdmin}
		d := e.Authorize(context.Background(), p, anon, lookup.fn)
		assert.Equal(t, Redirect, d.Outcome, p)
		assert.Equal(t, "/", d.Location, p)
		assert.Zero(t, lookup.calls, "anonymous caller must not trigger a role lookup for %s", p)
	}
}

func TestRoleGate(t *testing.T) {
	e := NewEngine(nil)
	cases := []struct {
		path    string
		role    auth.Role
		outcome Outcome
	}{
		{"/admin", auth.RoleUser, Forbidden},
		{"/admin", auth.RoleFirmAdmin, Forbidden},
		{"/admin", auth.RoleSiteAdmin, Allow},
		{"/admin/firms/new", auth.RoleSiteAdmin, Allow},
		{"/firm-admin", auth.RoleUser, Forbidden},
		{"/firm-admin", auth.RoleFirmAdmin, Allow},
		{"/firm-admin", auth.RoleSiteAdmin, Allow},
		{"/firms/acme-law/admin", auth.RoleUser, Forbidden},
		{"/firms/acme-law/admin", auth.RoleFirmAdmin, Allow},
		{"/firms/acme-law/admin", auth.RoleSiteAdmin, Allow},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s as %s", tc.path, tc.role), func(t *testing.T) {
			d := e.Authorize(context.Background(), tc.path, alice, withRole(tc.role))
			assert.Equal(t, tc.outcome, d.Outcome)
			if tc.outcome == Forbidden {
				assert.Equal(t, ReasonRoleMismatch, d.Reason)
			}
		})
	}
}

func TestAuthOnlyRulesSkipLookup(t *testing.T) {
	e := NewEngine(nil)
	for _, p := range []string{"/forms/1", "/profile", "/setup-admin", "/firms", "/firms/acme-law"} {
		lookup := &countingLookup{role: auth.RoleUser}
		d := e.Authorize(context.Background(), p, alice, lookup.fn)
		assert.Equal(t, Allow, d.Outcome, p)
		assert.Equal(t, ReasonAuthenticated, d.Reason, p)
		assert.Zero(t, lookup.calls, p)
	}
}

func TestFirmAdminPathWinsOverFirms(t *testing.T) {
	e := NewEngine(nil)
	for _, firm := range []string{"acme-law", "other-firm", "x", "a.b", "firm_42"} {
		p := "/firms/" + firm + "/admin"
		d := e.Authorize(context.Background(), p, alice, withRole(auth.RoleUser))
		assert.Equal(t, "firm-admin-scoped", d.Rule, p)
		assert.Equal(t, Forbidden, d.Outcome, p)
	}

	d := e.Authorize(context.Background(), "/firms/acme-law/administration", alice, withRole(auth.RoleUser))
	assert.Equal(t, "firms", d.Rule)
	assert.Equal(t, Allow, d.Outcome)
}

func TestPublicPathsPassThrough(t *testing.T) {
	e := NewEngine(nil)
	public := []string{"/", "/forms-landing", "/about", "/adminx", "/profiles", "/firm-admins", "/sign-in"}
	for _, p := range public {
		for _, id := range []auth.Identity{anon, alice} {
			lookup := &countingLookup{role: auth.RoleUser}
			d := e.Authorize(context.Background(), p, id, lookup.fn)
			assert.Equal(t, Allow, d.Outcome, p)
			assert.Equal(t, ReasonNoRule, d.Reason, p)
			assert.Zero(t, lookup.calls, p)
		}
	}
}

func TestLookupFailureFailsClosed(t *testing.T) {
	e := NewEngine(nil)

	d := e.Authorize(context.Background(), "/admin", alice, failing(errors.New("db down")))
	assert.Equal(t, Forbidden, d.Outcome)
	assert.Equal(t, ReasonLookupFailed, d.Reason)

	d = e.Authorize(context.Background(), "/firm-admin", alice, failing(auth.ErrNoProfile))
	assert.Equal(t, Forbidden, d.Outcome)
	assert.Equal(t, ReasonNoProfile, d.Reason)

	d = e.Authorize(context.Background(), "/firm-admin", alice, nil)
	assert.Equal(t, Forbidden, d.Outcome)
}

func TestLookupRunsOncePerDecision(t *testing.T) {
	e := NewEngine(nil)
	lookup := &countingLookup{role: auth.RoleSiteAdmin}
	d := e.Authorize(context.Background(), "/admin", alice, lookup.fn)
	require.Equal(t, Allow, d.Outcome)
	require.NotNil(t, d.Profile)
	assert.Equal(t, auth.RoleSiteAdmin, d.Profile.Role)
	assert.Equal(t, 1, lookup.calls)
}

func TestPathsAreNormalisedBeforeMatching(t *testing.T) {
	e := NewEngine(nil)
	for _, p := range []string{"//admin", "/forms/../admin", "/admin/", "/./admin"} {
		d := e.Authorize(context.Background(), p, alice, withRole(auth.RoleUser))
		assert.Equal(t, "site-admin", d.Rule, p)
		assert.Equal(t, Forbidden, d.Outcome, p)
	}
}

func TestNewTableValidation(t *testing.T) {
	_, err := NewTable(Rule{Name: "x", Pattern: Prefix("/x"), Access: RoleRequired{}})
	assert.Error(t, err)

	_, err = NewTable(Rule{Name: "x", Pattern: Prefix("/x")})
	assert.Error(t, err)

	_, err = NewTable(
		Rule{Name: "x", Pattern: Prefix("/x"), Access: AuthRequired{}},
		Rule{Name: "x", Pattern: Prefix("/y"), Access: AuthRequired{}},
	)
	assert.Error(t, err)

	_, err = NewTable(Rule{Name: "x", Access: AuthRequired{}})
	assert.Error(t, err)
}

func TestCustomTableFirstMatchWins(t *testing.T) {
	table, err := NewTable(
		Rule{Name: "open-docs", Pattern: regexp.MustCompile(`^/docs/public(?:/.*)?$`), Access: Public{}},
		Rule{Name: "docs", Pattern: Prefix("/docs"), Access: AuthRequired{}},
	)
	require.NoError(t, err)
	e := NewEngine(table, WithRedirectTarget("/sign-in"))

	d := e.Authorize(context.Background(), "/docs/public/intro", anon, nil)
	assert.Equal(t, Allow, d.Outcome)
	assert.Equal(t, "open-docs", d.Rule)

	d = e.Authorize(context.Background(), "/docs/internal", anon, nil)
	assert.Equal(t, Redirect, d.Outcome)
	assert.Equal(t, "/sign-in", d.Location)
}

func TestDefaultTableOrder(t *testing.T) {
	var names []string
	for _, r := range DefaultTable().Rules() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"forms", "profile", "setup-admin", "firm-admin-scoped", "firm-admin", "site-admin", "firms"}, names)
}

// staffOnly is an access kind the engine does not know.
type staffOnly struct{}

func (staffOnly) access()        {}
func (staffOnly) String() string { return "staff" }

func TestUnknownAccessDenies(t *testing.T) {
	e := NewEngine(&Table{rules: []Rule{{Name: "staff", Pattern: Prefix("/staff"), Access: staffOnly{}}}})
	lookup := &countingLookup{role: auth.RoleSiteAdmin}

	d := e.Authorize(context.Background(), "/staff/board", alice, lookup.fn)
	assert.Equal(t, Forbidden, d.Outcome)
	assert.Equal(t, ReasonUnknownRule, d.Reason)
	assert.Equal(t, "staff", d.Rule)
	assert.Zero(t, lookup.calls)

	_, err := NewTable(Rule{Name: "staff", Pattern: Prefix("/staff"), Access: staffOnly{}})
	assert.Error(t, err)
}

func TestExcluded(t *testing.T) {
	table := DefaultTable()
	excluded := []string{
		"/api", "/api/forms/economic-loss", "/_next/static/chunk.js", "/_next/image?url=x",
		"/static/logo.png", "/assets/app.css", "/favicon.ico", "/healthz", "/readyz", "/metrics",
		"/images/hero.webp", "/fonts/inter.woff2",
	}
	for _, p := range excluded {
		assert.True(t, table.Excluded(p), p)
	}
	guarded := []string{
		"/", "/admin", "/forms", "/apis", "/firms/acme/admin",
		"/admin/x.js", "/admin/export.txt", "/admin/logo.png", "/firm-admin/users.css",
		"/forms/claim-42.map", "/firms/acme/admin/badge.svg", "/profile/avatar.jpg",
		"/images/hero.js", "//admin/../admin/chart.png",
	}
	for _, p := range guarded {
		assert.False(t, table.Excluded(p), p)
	}

	assert.False(t, Excluded("/images/hero.webp"), "suffixes need the table")
}
