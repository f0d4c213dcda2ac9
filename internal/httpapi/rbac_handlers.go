package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/obs"
)

type ensureProfileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type createFirmRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type setRoleRequest struct {
	Role string `json:"role"`
}

type meResponse struct {
	Identity auth.Identity `json:"identity"`
	Profile  *auth.Profile `json:"profile"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	p, err := a.profiles.Me(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, meResponse{Identity: id, Profile: &p})
	case errors.Is(err, auth.ErrNoProfile):
		writeJSON(w, http.StatusOK, meResponse{Identity: id})
	default:
		handleError(w, r, err)
	}
}

func (a *API) handleEnsureProfile(w http.ResponseWriter, r *http.Request) {
	var req ensureProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	p, err := a.profiles.EnsureProfile(r.Context(), auth.IdentityFromContext(r.Context()), req.FirstName, req.LastName)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleListFirms(w http.ResponseWriter, r *http.Request) {
	firms, err := a.profiles.ListFirms(r.Context(), auth.IdentityFromContext(r.Context()))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"firms": firms})
}

func (a *API) handleCreateFirm(w http.ResponseWriter, r *http.Request) {
	var req createFirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	firm, err := a.profiles.CreateFirm(r.Context(), auth.IdentityFromContext(r.Context()), req.Name, req.Slug)
	if err != nil {
		handleError(w, r, err)
		return
	}
	obs.From(r.Context()).Info("firm created", zap.String("firm_id", firm.ID), zap.String("slug", firm.Slug))
	w.Header().Set("Location", fmt.Sprintf("/api/firms/%s", firm.Slug))
	writeJSON(w, http.StatusCreated, firm)
}

func (a *API) handleFirmMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.profiles.FirmMembers(r.Context(), auth.IdentityFromContext(r.Context()), chi.URLParam(r, "slug"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (a *API) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor := auth.IdentityFromContext(r.Context())
	target := chi.URLParam(r, "userID")
	p, err := a.profiles.SetRole(r.Context(), actor, chi.URLParam(r, "slug"), target, role)
	if err != nil {
		handleError(w, r, err)
		return
	}
	obs.From(r.Context()).Info("role changed",
		zap.String("target_user_id", p.UserID), zap.String("role", string(p.Role)))
	writeJSON(w, http.StatusOK, p)
}

// handleAssignFirm moves a user into the firm named in the path.
func (a *API) handleAssignFirm(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	p, err := a.profiles.AssignFirm(r.Context(), auth.IdentityFromContext(r.Context()), chi.URLParam(r, "userID"), slug)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
