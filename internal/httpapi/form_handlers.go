package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"intakeportal.org/internal/audit"
	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/forms"
	"intakeportal.org/internal/obs"
)

type submitFormRequest struct {
	Data forms.Data `json:"data"`
}

type updateFormRequest struct {
	ExpectedVersion int        `json:"expected_version"`
	Data            forms.Data `json:"data"`
}

type deleteFormRequest struct {
	Reason string `json:"reason"`
}

type formResponse struct {
	Form  forms.Snapshot `json:"form"`
	Audit *audit.Entry   `json:"audit,omitempty"`
}

type historyResponse struct {
	FormID   string        `json:"form_id"`
	FormType string        `json:"form_type"`
	Entries  []audit.Entry `json:"entries"`
}

func (a *API) handleSubmitForm(w http.ResponseWriter, r *http.Request) {
	var req submitFormRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if req.Data == nil {
		writeError(w, r, http.StatusBadRequest, "data is required")
		return
	}
	snap, entry, err := a.forms.Submit(r.Context(), auth.IdentityFromContext(r.Context()), chi.URLParam(r, "formType"), req.Data)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/forms/%s/%s", snap.FormType, snap.FormID))
	writeJSON(w, http.StatusCreated, formResponse{Form: snap, Audit: &entry})
}

func (a *API) handleGetForm(w http.ResponseWriter, r *http.Request) {
	snap, err := a.forms.Get(r.Context(), auth.IdentityFromContext(r.Context()), chi.URLParam(r, "formType"), chi.URLParam(r, "formID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("ETag", fmt.Sprintf(`"%d"`, snap.Version))
	writeJSON(w, http.StatusOK, formResponse{Form: snap})
}

func (a *API) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	var req updateFormRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if req.Data == nil {
		writeError(w, r, http.StatusBadRequest, "data is required")
		return
	}
	if req.ExpectedVersion < 0 {
		writeError(w, r, http.StatusBadRequest, "expected_version must not be negative")
		return
	}
	snap, entry, err := a.forms.Update(r.Context(), auth.IdentityFromContext(r.Context()),
		chi.URLParam(r, "formType"), chi.URLParam(r, "formID"), req.ExpectedVersion, req.Data)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("ETag", fmt.Sprintf(`"%d"`, snap.Version))
	writeJSON(w, http.StatusOK, formResponse{Form: snap, Audit: &entry})
}

func (a *API) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	var req deleteFormRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, r, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = r.URL.Query().Get("reason")
	}
	entry, err := a.forms.Delete(r.Context(), auth.IdentityFromContext(r.Context()),
		chi.URLParam(r, "formType"), chi.URLParam(r, "formID"), req.Reason)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleFormHistory serves the audit trail newest first. Store failures are
// reported as 503 so the UI can hide the panel instead of failing the page.
func (a *API) handleFormHistory(w http.ResponseWriter, r *http.Request) {
	formType, formID := chi.URLParam(r, "formType"), chi.URLParam(r, "formID")
	entries, err := a.forms.History(r.Context(), auth.IdentityFromContext(r.Context()), formType, formID)
	if err != nil {
		if isClientError(err) {
			handleError(w, r, err)
			return
		}
		obs.From(r.Context()).Error("history unavailable",
			zap.String("form_id", formID), zap.String("form_type", formType), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{FormID: formID, FormType: formType, Entries: entries})
}
