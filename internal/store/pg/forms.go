package pg

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"intakeportal.org/internal/audit"
	"intakeportal.org/internal/forms"
	"intakeportal.org/internal/intake"
)

var _ intake.Store = (*Store)(nil)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) LatestSnapshot(ctx context.Context, formID, formType string) (forms.Snapshot, error) {
	if s.db == nil {
		return forms.Snapshot{}, errNoDB
	}
	return latestSnapshot(ctx, s.db, formID, formType)
}

func (s *Store) AuditEntries(ctx context.Context, formID, formType string) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, form_id, form_type, action_type, submitted_by, created_at, metadata
		from form_audit_log
		where form_id = $1 and form_type = $2
		order by created_at desc, id desc
	`, formID, formType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []audit.Entry{}
	for rows.Next() {
		var (
			e      audit.Entry
			action string
			raw    []byte
		)
		if err := rows.Scan(&e.ID, &e.FormID, &e.FormType, &action, &e.SubmittedBy, &e.CreatedAt, &raw); err != nil {
			return nil, err
		}
		meta, err := audit.UnmarshalMetadata(audit.Action(action), raw)
		if err != nil {
			return nil, fmt.Errorf("audit entry %s: %w", e.ID, err)
		}
		e.Metadata = meta
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// WithinTx runs fn in a read-committed transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx intake.Tx) error) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&formTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type formTx struct {
	q queryer
}

func (t *formTx) LatestSnapshot(ctx context.Context, formID, formType string) (forms.Snapshot, error) {
	return latestSnapshot(ctx, t.q, formID, formType)
}

func (t *formTx) InsertSnapshot(ctx context.Context, snap forms.Snapshot) error {
	data, err := json.Marshal(snap.Data)
	if err != nil {
		return fmt.Errorf("encode form data: %w", err)
	}
	_, err = t.q.ExecContext(ctx, `
		insert into form_snapshots (form_id, form_type, version, firm_id, submitted_by, updated_by, data, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, snap.FormID, snap.FormType, snap.Version, nullIfEmpty(snap.FirmID), snap.SubmittedBy, snap.UpdatedBy, data, snap.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: version %d of %s already exists", intake.ErrVersionConflict, snap.Version, snap.FormID)
	}
	return err
}

func (t *formTx) MarkDeleted(ctx context.Context, formID, formType string, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		update form_snapshots
		set deleted_at = $3
		where form_id = $1 and form_type = $2 and deleted_at is null
	`, formID, formType, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return intake.ErrNotFound
	}
	return nil
}

func (t *formTx) AppendAudit(ctx context.Context, e audit.Entry) error {
	meta, err := audit.MarshalMetadata(e.Metadata)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		insert into form_audit_log (id, form_id, form_type, action_type, submitted_by, created_at, metadata)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.FormID, e.FormType, string(e.Action()), e.SubmittedBy, e.CreatedAt, meta)
	return err
}

func latestSnapshot(ctx context.Context, q queryer, formID, formType string) (forms.Snapshot, error) {
	var (
		snap    forms.Snapshot
		firmID  sql.NullString
		raw     []byte
		deleted sql.NullTime
	)
	err := q.QueryRowContext(ctx, `
		select form_id, form_type, version, firm_id, submitted_by, updated_by, data, created_at, deleted_at
		from form_snapshots
		where form_id = $1 and form_type = $2
		order by version desc
		limit 1
	`, formID, formType).Scan(&snap.FormID, &snap.FormType, &snap.Version, &firmID, &snap.SubmittedBy, &snap.UpdatedBy, &raw, &snap.CreatedAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return forms.Snapshot{}, intake.ErrNotFound
	}
	if err != nil {
		return forms.Snapshot{}, err
	}
	snap.FirmID = firmID.String
	if deleted.Valid {
		at := deleted.Time
		snap.DeletedAt = &at
	}
	if snap.Data, err = decodeData(raw); err != nil {
		return forms.Snapshot{}, err
	}
	return snap, nil
}

// decodeData keeps numbers as json.Number so large integers survive into
// later diffs unchanged.
func decodeData(raw []byte) (forms.Data, error) {
	data := forms.Data{}
	if len(raw) == 0 {
		return data, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode form data: %w", err)
	}
	return data, nil
}
