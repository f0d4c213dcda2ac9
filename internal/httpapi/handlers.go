package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/authz"
	"intakeportal.org/internal/intake"
	"intakeportal.org/internal/obs"
	"intakeportal.org/internal/ratelimit"
)

const serviceName = "intake-portal"

// ReadyProbe reports whether backing services can take traffic.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// Config carries the collaborators the API is wired with. Sessions, Roles,
// Profiles and Forms are required.
type Config struct {
	Version      string
	Ready        ReadyProbe
	Sessions     *auth.SessionResolver
	Roles        *auth.RoleLookup
	Profiles     *auth.ProfileService
	Forms        *intake.Service
	Engine       *authz.Engine
	Limiter      ratelimit.Limiter
	CookieName   string
	MaxBodyBytes int64
	DevSessions  bool
	// Pages serves allowed page routes. Nil renders a placeholder.
	Pages http.Handler
}

// API is the HTTP layer: JSON endpoints under /api and guarded page routes.
type API struct {
	router   chi.Router
	cfg      Config
	sessions *auth.SessionResolver
	profiles *auth.ProfileService
	forms    *intake.Service
	guard    *authz.Guard
}

func New(cfg Config) (*API, error) {
	switch {
	case cfg.Sessions == nil:
		return nil, errors.New("httpapi: session resolver is required")
	case cfg.Roles == nil:
		return nil, errors.New("httpapi: role lookup is required")
	case cfg.Profiles == nil:
		return nil, errors.New("httpapi: profile service is required")
	case cfg.Forms == nil:
		return nil, errors.New("httpapi: form service is required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = auth.DefaultSessionCookie
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Pages == nil {
		cfg.Pages = placeholderPages()
	}

	a := &API{
		cfg:      cfg,
		sessions: cfg.Sessions,
		profiles: cfg.Profiles,
		forms:    cfg.Forms,
		guard:    authz.NewGuard(cfg.Engine, cfg.Sessions, cfg.Roles, cfg.CookieName),
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, Logging, SecurityHeaders, obs.Instrument)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		if a.cfg.Limiter != nil {
			r.Use(RateLimit(a.cfg.Limiter))
		}
		r.Use(MaxBodyBytes(a.cfg.MaxBodyBytes))
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusNotFound, "resource not found")
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		})

		if a.cfg.DevSessions {
			r.Post("/dev/session", a.handleDevSession)
		}

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)

			r.Get("/me", a.handleMe)
			r.Put("/me", a.handleEnsureProfile)

			r.Post("/forms/{formType}", a.handleSubmitForm)
			r.Get("/forms/{formType}/{formID}", a.handleGetForm)
			r.Put("/forms/{formType}/{formID}", a.handleUpdateForm)
			r.Delete("/forms/{formType}/{formID}", a.handleDeleteForm)
			r.Get("/forms/{formType}/{formID}/history", a.handleFormHistory)

			r.Get("/firms", a.handleListFirms)
			r.Post("/firms", a.handleCreateFirm)
			r.Get("/firms/{slug}/users", a.handleFirmMembers)
			r.Put("/firms/{slug}/users/{userID}/role", a.handleSetRole)
			r.Put("/firms/{slug}/users/{userID}", a.handleAssignFirm)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(a.guard.Middleware)
		r.Handle("/*", a.cfg.Pages)
	})
	return r
}

// Handler returns the root handler for the HTTP server.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.cfg.Ready.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
