package audit

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"intakeportal.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// logEntry writes the structured audit line for a persisted entry.
func logEntry(ctx context.Context, e Entry) {
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", "form."+string(e.Action())),
		zap.String("audit_id", e.ID),
		zap.String("form_id", e.FormID),
		zap.String("form_type", e.FormType),
		zap.Int("version", e.Metadata.FormVersion()),
		zap.String("user_id", e.SubmittedBy),
	}
	if role := e.Metadata.Role(); role != "" {
		fields = append(fields, zap.String("role", string(role)))
	}
	if u, ok := e.Metadata.(Updated); ok {
		fields = append(fields, zap.Int("field_changes", len(u.FieldChanges)))
		if u.DiffUnavailable {
			fields = append(fields, zap.Bool("diff_unavailable", true))
		}
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	obs.From(ctx).Info("audit", fields...)
}
