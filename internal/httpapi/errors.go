package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"intakeportal.org/internal/audit"
	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/forms"
	"intakeportal.org/internal/intake"
	"intakeportal.org/internal/obs"
)

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// decodeJSON reads exactly one JSON document. Numbers stay json.Number so
// form values keep their original text.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

var errBodyTooLarge = errors.New("request body too large")

func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	writeError(w, r, http.StatusBadRequest, err.Error())
}

// classify maps service sentinels to a status code and client message. ok is
// false for errors that are not the caller's fault.
func classify(err error) (code int, msg string, ok bool) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, intake.ErrInvalidInput),
		errors.Is(err, forms.ErrMalformedSnapshot):
		return http.StatusBadRequest, err.Error(), true
	case errors.Is(err, forms.ErrUnknownFormType):
		return http.StatusNotFound, "unknown form type", true
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "access denied", true
	case errors.Is(err, auth.ErrNoProfile):
		return http.StatusNotFound, "profile not found", true
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, intake.ErrNotFound):
		return http.StatusNotFound, "resource not found", true
	case errors.Is(err, intake.ErrVersionConflict), errors.Is(err, auth.ErrConflict):
		return http.StatusConflict, err.Error(), true
	default:
		return http.StatusInternalServerError, "internal error", false
	}
}

func isClientError(err error) bool {
	_, _, ok := classify(err)
	return ok
}

// handleError writes the mapped status. Unknown errors are logged and
// reported as 500 without detail.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg, ok := classify(err)
	if !ok {
		obs.From(r.Context()).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, r, code, msg)
}
