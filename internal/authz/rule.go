package authz

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"intakeportal.org/internal/auth"
)

// Access is the requirement a rule places on the caller. It is one of
// Public, AuthRequired or RoleRequired; a role requirement always implies
// authentication.
type Access interface {
	access()
	String() string
}

// Public lets every caller through.
type Public struct{}

// AuthRequired requires an authenticated identity.
type AuthRequired struct{}

// RoleRequired requires an authenticated identity whose profile role is in Roles.
type RoleRequired struct {
	Roles auth.RoleSet
}

func (Public) access()       {}
func (AuthRequired) access() {}
func (RoleRequired) access() {}

func (Public) String() string         { return "public" }
func (AuthRequired) String() string   { return "auth" }
func (r RoleRequired) String() string { return "role" + r.Roles.String() }

// RequireRoles is shorthand for RoleRequired{Roles: auth.NewRoleSet(roles...)}.
func RequireRoles(roles ...auth.Role) RoleRequired {
	return RoleRequired{Roles: auth.NewRoleSet(roles...)}
}

// Rule pairs a path pattern with an access requirement.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Access  Access
}

// Table is an ordered rule list evaluated first-match-wins. It is immutable
// once built.
type Table struct {
	rules []Rule
}

// NewTable validates rules and freezes their order.
func NewTable(rules ...Rule) (*Table, error) {
	seen := make(map[string]struct{}, len(rules))
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("authz: rule %d has no name", i)
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("authz: duplicate rule name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.Pattern == nil {
			return nil, fmt.Errorf("authz: rule %q has no pattern", r.Name)
		}
		switch a := r.Access.(type) {
		case Public, AuthRequired:
		case RoleRequired:
			if a.Roles.Len() == 0 {
				return nil, fmt.Errorf("authz: rule %q requires an empty role set", r.Name)
			}
		case nil:
			return nil, fmt.Errorf("authz: rule %q has no access requirement", r.Name)
		default:
			return nil, errors.New("authz: unknown access type")
		}
		out = append(out, r)
	}
	return &Table{rules: out}, nil
}

// Prefix compiles a pattern matching p exactly or any path below it.
func Prefix(p string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(strings.TrimSuffix(p, "/")) + `(?:/.*)?$`)
}

// DefaultTable returns the portal's route table. More specific patterns are
// listed ahead of the general ones they overlap with.
func DefaultTable() *Table {
	admins := RequireRoles(auth.RoleSiteAdmin, auth.RoleFirmAdmin)
	t, err := NewTable(
		Rule{Name: "forms", Pattern: Prefix("/forms"), Access: AuthRequired{}},
		Rule{Name: "profile", Pattern: Prefix("/profile"), Access: AuthRequired{}},
		Rule{Name: "setup-admin", Pattern: Prefix("/setup-admin"), Access: AuthRequired{}},
		Rule{Name: "firm-admin-scoped", Pattern: regexp.MustCompile(`^/firms/[^/]+/admin(?:/.*)?$`), Access: admins},
		Rule{Name: "firm-admin", Pattern: Prefix("/firm-admin"), Access: admins},
		Rule{Name: "site-admin", Pattern: Prefix("/admin"), Access: RequireRoles(auth.RoleSiteAdmin)},
		Rule{Name: "firms", Pattern: Prefix("/firms"), Access: AuthRequired{}},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Match returns the first rule matching p.
func (t *Table) Match(p string) (Rule, bool) {
	if t == nil {
		return Rule{}, false
	}
	p = normalize(p)
	for _, r := range t.rules {
		if r.Pattern.MatchString(p) {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns a copy of the table in evaluation order.
func (t *Table) Rules() []Rule {
	if t == nil {
		return nil
	}
	return append([]Rule(nil), t.rules...)
}

var (
	excludedExact    = []string{"/favicon.ico", "/healthz", "/readyz", "/metrics", "/robots.txt"}
	excludedPrefixes = []string{"/api/", "/_next/static/", "/_next/image", "/static/", "/assets/"}
	assetSuffix      = regexp.MustCompile(`(?i)\.(?:svg|png|jpe?g|gif|webp|ico|woff2?|ttf)$`)
)

// Excluded reports whether p is an API path or lives under a static asset
// root. Such paths are handled before the rule table is consulted.
func Excluded(p string) bool {
	p = normalize(p)
	if p == "/api" {
		return true
	}
	for _, e := range excludedExact {
		if p == e {
			return true
		}
	}
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// Excluded extends the package-level check with image and font files, but
// only where no rule in t asks for authentication. "/admin/logo.png" is
// still guarded.
func (t *Table) Excluded(p string) bool {
	if Excluded(p) {
		return true
	}
	if !assetSuffix.MatchString(p) {
		return false
	}
	r, ok := t.Match(p)
	if !ok {
		return true
	}
	_, public := r.Access.(Public)
	return public
}

// normalize cleans dot segments and duplicate slashes so "//admin" and
// "/forms/../admin" are judged as "/admin".
func normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
