package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultSessionCookie is the cookie the hosted auth provider sets on sign-in.
	DefaultSessionCookie = "portal-session"
	// DefaultAudience matches the audience the provider stamps on user sessions.
	DefaultAudience = "authenticated"

	bearerPrefix = "bearer "
)

// SessionClaims are the claims read from a provider-issued session token.
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SessionResolver turns a session credential into an Identity by verifying an
// HS256 token signed with the provider's shared secret.
type SessionResolver struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// SessionOption configures a SessionResolver.
type SessionOption func(*SessionResolver)

// WithIssuer requires tokens to carry this iss claim.
func WithIssuer(issuer string) SessionOption {
	return func(s *SessionResolver) { s.issuer = strings.TrimSpace(issuer) }
}

// WithAudience requires tokens to carry this aud claim. Empty disables the check.
func WithAudience(aud string) SessionOption {
	return func(s *SessionResolver) { s.audience = strings.TrimSpace(aud) }
}

// WithLeeway allows clock skew when validating time claims.
func WithLeeway(d time.Duration) SessionOption {
	return func(s *SessionResolver) {
		if d >= 0 {
			s.leeway = d
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) SessionOption {
	return func(s *SessionResolver) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSessionResolver builds a resolver for tokens signed with secret.
func NewSessionResolver(secret string, opts ...SessionOption) (*SessionResolver, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: session secret is required")
	}
	s := &SessionResolver{
		secret:   []byte(secret),
		audience: DefaultAudience,
		leeway:   5 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Resolve verifies credential and returns the identity it names. An empty
// credential is the anonymous caller; a bad one yields ErrInvalidToken.
func (s *SessionResolver) Resolve(_ context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Anonymous, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Anonymous, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return Anonymous, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return Identity{UserID: sub, Email: strings.TrimSpace(strings.ToLower(claims.Email))}, nil
}

// Issue signs a session for id. The hosted provider normally does this; the
// portal only issues sessions for local development and tooling.
func (s *SessionResolver) Issue(id Identity, ttl time.Duration) (string, time.Time, error) {
	if id.IsAnonymous() {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}
	now := s.now().UTC()
	expires := now.Add(ttl)
	claims := SessionClaims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, expires, nil
}

// CredentialFromRequest extracts the session credential, preferring an
// Authorization bearer header over the session cookie.
func CredentialFromRequest(r *http.Request, cookieName string) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
			return strings.TrimSpace(h[len(bearerPrefix):])
		}
		return ""
	}
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
