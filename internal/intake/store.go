package intake

import (
	"context"
	"errors"
	"time"

	"intakeportal.org/internal/audit"
	"intakeportal.org/internal/forms"
)

var (
	ErrNotFound        = errors.New("intake: form not found")
	ErrVersionConflict = errors.New("intake: version conflict")
	ErrInvalidInput    = errors.New("intake: invalid input")
)

// Store is the durable home of snapshots and their audit trail.
type Store interface {
	// LatestSnapshot returns the highest version of a form, deleted or not,
	// or ErrNotFound.
	LatestSnapshot(ctx context.Context, formID, formType string) (forms.Snapshot, error)
	// WithinTx runs fn in one transaction, committing only when fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	audit.Source
}

// Tx is the write side of Store, scoped to one transaction.
type Tx interface {
	LatestSnapshot(ctx context.Context, formID, formType string) (forms.Snapshot, error)
	// InsertSnapshot stores a new version. A version that already exists
	// yields ErrVersionConflict.
	InsertSnapshot(ctx context.Context, s forms.Snapshot) error
	// MarkDeleted stamps every version of a form as deleted.
	MarkDeleted(ctx context.Context, formID, formType string, at time.Time) error
	audit.Appender
}
