package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/forms"
	"intakeportal.org/internal/ids"
	"intakeportal.org/internal/obs"
)

// Appender persists an entry. Callers pass the transaction of the mutation
// being audited so both commit or neither does.
type Appender interface {
	AppendAudit(ctx context.Context, e Entry) error
}

// RoleResolver resolves the actor's role at write time.
type RoleResolver interface {
	Lookup(ctx context.Context, userID string) (auth.Profile, error)
}

// Record is the input to Writer.Record.
type Record struct {
	Action          Action
	ActorID         string
	FormID          string
	FormType        string
	Version         int
	PreviousVersion int
	Changes         []forms.FieldChange
	DiffUnavailable bool
	Reason          string
}

// Writer builds and appends audit entries.
type Writer struct {
	roles RoleResolver
	now   func() time.Time
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriterClock overrides the timestamp source.
func WithWriterClock(fn func() time.Time) WriterOption {
	return func(w *Writer) {
		if fn != nil {
			w.now = fn
		}
	}
}

// NewWriter returns a writer resolving roles through roles.
func NewWriter(roles RoleResolver, opts ...WriterOption) *Writer {
	w := &Writer{roles: roles, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Record resolves the actor's role, validates the entry and appends it.
// Any error means nothing was recorded and the mutation must not complete.
func (w *Writer) Record(ctx context.Context, app Appender, rec Record) (Entry, error) {
	e, err := w.build(ctx, rec)
	if err == nil {
		err = app.AppendAudit(ctx, e)
		if err != nil {
			err = fmt.Errorf("audit: append: %w", err)
		}
	}
	obs.ObserveAudit(string(rec.Action), err)
	if err != nil {
		return Entry{}, err
	}
	logEntry(ctx, e)
	return e, nil
}

func (w *Writer) build(ctx context.Context, rec Record) (Entry, error) {
	rec.ActorID = strings.TrimSpace(rec.ActorID)
	rec.FormID = strings.TrimSpace(rec.FormID)
	rec.FormType = strings.TrimSpace(rec.FormType)
	if rec.ActorID == "" || rec.FormID == "" || rec.FormType == "" {
		return Entry{}, fmt.Errorf("%w: actor, form id and form type are required", ErrInvalidRecord)
	}

	role, err := w.role(ctx, rec.ActorID)
	if err != nil {
		return Entry{}, err
	}

	var meta Metadata
	switch rec.Action {
	case ActionSubmitted:
		if len(rec.Changes) > 0 {
			return Entry{}, fmt.Errorf("%w: submitted entries carry no field changes", ErrInvalidRecord)
		}
		meta = Submitted{Version: rec.Version, UpdatedByRole: role}
	case ActionUpdated:
		changes := rec.Changes
		if changes == nil {
			changes = []forms.FieldChange{}
		}
		meta = Updated{
			Version:         rec.Version,
			PreviousVersion: rec.PreviousVersion,
			FieldChanges:    changes,
			UpdatedByRole:   role,
			DiffUnavailable: rec.DiffUnavailable,
		}
	case ActionDeleted:
		meta = Deleted{
			Version:         rec.Version,
			PreviousVersion: rec.PreviousVersion,
			Reason:          strings.TrimSpace(rec.Reason),
			UpdatedByRole:   role,
		}
	default:
		return Entry{}, fmt.Errorf("%w: unknown action %q", ErrInvalidRecord, rec.Action)
	}
	if err := meta.validate(); err != nil {
		return Entry{}, err
	}

	now := w.now().UTC()
	return Entry{
		ID:          ids.NewAt(now),
		FormID:      rec.FormID,
		FormType:    rec.FormType,
		SubmittedBy: rec.ActorID,
		CreatedAt:   now,
		Metadata:    meta,
	}, nil
}

// role returns the actor's current role. A missing profile records no role;
// a store failure fails the write.
func (w *Writer) role(ctx context.Context, actorID string) (auth.Role, error) {
	if w.roles == nil {
		return "", nil
	}
	p, err := w.roles.Lookup(ctx, actorID)
	switch {
	case errors.Is(err, auth.ErrNoProfile):
		obs.From(ctx).Warn("audit actor has no profile", zap.String("user_id", actorID))
		return "", nil
	case err != nil:
		return "", fmt.Errorf("audit: resolve actor role: %w", err)
	}
	return p.Role, nil
}
