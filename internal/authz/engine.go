package authz

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/obs"
)

// Outcome is the result of an authorization decision.
type Outcome int

const (
	Allow Outcome = iota
	Redirect
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Reasons attached to a Decision.
const (
	ReasonNoRule        = "no_rule"
	ReasonPublic        = "public"
	ReasonAuthenticated = "authenticated"
	ReasonRoleMatched   = "role_matched"
	ReasonAnonymous     = "anonymous"
	ReasonNoProfile     = "no_profile"
	ReasonRoleMismatch  = "role_mismatch"
	ReasonLookupFailed  = "lookup_failed"
	ReasonUnknownRule   = "unknown_rule"
)

const defaultRedirectTarget = "/"

// Decision is what the engine tells the transport layer to do.
type Decision struct {
	Outcome  Outcome
	Location string
	Rule     string
	Reason   string
	// Profile is set when the decision loaded one.
	Profile *auth.Profile
}

// LookupFunc resolves the caller's profile. The engine calls it at most once
// and only for role-restricted rules.
type LookupFunc func(ctx context.Context) (auth.Profile, error)

// Engine evaluates a route table against a caller.
type Engine struct {
	table      *Table
	redirectTo string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRedirectTarget changes where anonymous callers are sent.
func WithRedirectTarget(target string) Option {
	return func(e *Engine) {
		if target != "" {
			e.redirectTo = target
		}
	}
}

// NewEngine builds an engine over table; a nil table means DefaultTable.
func NewEngine(table *Table, opts ...Option) *Engine {
	if table == nil {
		table = DefaultTable()
	}
	e := &Engine{table: table, redirectTo: defaultRedirectTarget}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Table returns the rule table the engine evaluates.
func (e *Engine) Table() *Table { return e.table }

// Authorize decides whether id may open path. Lookup failures deny.
func (e *Engine) Authorize(ctx context.Context, path string, id auth.Identity, lookup LookupFunc) Decision {
	d := e.decide(ctx, path, id, lookup)
	obs.ObserveDecision(d.Rule, d.Outcome.String())

	log := obs.From(ctx)
	switch {
	case d.Outcome == Redirect:
		log.Info("authz redirect", zap.String("path", path), zap.String("rule", d.Rule))
	case d.Outcome == Forbidden && d.Reason != ReasonLookupFailed:
		log.Warn("authz forbidden",
			zap.String("path", path),
			zap.String("rule", d.Rule),
			zap.String("user_id", id.UserID),
			zap.String("reason", d.Reason),
		)
	}
	return d
}

func (e *Engine) decide(ctx context.Context, path string, id auth.Identity, lookup LookupFunc) Decision {
	rule, ok := e.table.Match(path)
	if !ok {
		return Decision{Outcome: Allow, Reason: ReasonNoRule}
	}

	var roles auth.RoleSet
	switch a := rule.Access.(type) {
	case Public:
		return Decision{Outcome: Allow, Rule: rule.Name, Reason: ReasonPublic}
	case AuthRequired:
		if id.IsAnonymous() {
			return Decision{Outcome: Redirect, Location: e.redirectTo, Rule: rule.Name, Reason: ReasonAnonymous}
		}
		return Decision{Outcome: Allow, Rule: rule.Name, Reason: ReasonAuthenticated}
	case RoleRequired:
		if id.IsAnonymous() {
			return Decision{Outcome: Redirect, Location: e.redirectTo, Rule: rule.Name, Reason: ReasonAnonymous}
		}
		roles = a.Roles
	default:
		return Decision{Outcome: Forbidden, Rule: rule.Name, Reason: ReasonUnknownRule}
	}

	if lookup == nil {
		return Decision{Outcome: Forbidden, Rule: rule.Name, Reason: ReasonNoProfile}
	}
	profile, err := lookup(ctx)
	switch {
	case errors.Is(err, auth.ErrNoProfile):
		return Decision{Outcome: Forbidden, Rule: rule.Name, Reason: ReasonNoProfile}
	case err != nil:
		obs.From(ctx).Error("authz role lookup failed",
			zap.String("path", path),
			zap.String("rule", rule.Name),
			zap.String("user_id", id.UserID),
			zap.Error(err),
		)
		return Decision{Outcome: Forbidden, Rule: rule.Name, Reason: ReasonLookupFailed}
	}
	if !roles.Contains(profile.Role) {
		return Decision{Outcome: Forbidden, Rule: rule.Name, Reason: ReasonRoleMismatch, Profile: &profile}
	}
	return Decision{Outcome: Allow, Rule: rule.Name, Reason: ReasonRoleMatched, Profile: &profile}
}
