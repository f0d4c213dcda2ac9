package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"intakeportal.org/internal/audit"
	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/forms"
	"intakeportal.org/internal/ids"
	"intakeportal.org/internal/notify"
	"intakeportal.org/internal/obs"
)

// Service runs form mutations: every submit, update and delete writes its
// snapshot change and its audit entry in one transaction.
type Service struct {
	store    Store
	roles    audit.RoleResolver
	registry *forms.Registry
	writer   *audit.Writer
	reader   *audit.Reader
	notifier notify.Notifier
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRegistry replaces the default form registry.
func WithRegistry(r *forms.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithNotifier sets where submission notices go.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires a store and the role resolver used for access checks and
// audit attribution.
func NewService(store Store, roles audit.RoleResolver, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("intake: store is required")
	}
	if roles == nil {
		return nil, errors.New("intake: role resolver is required")
	}
	s := &Service{
		store:    store,
		roles:    roles,
		registry: forms.DefaultRegistry(),
		notifier: notify.Nop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.writer = audit.NewWriter(roles, audit.WithWriterClock(s.now))
	s.reader = audit.NewReader(store)
	return s, nil
}

// Registry returns the form registry in use.
func (s *Service) Registry() *forms.Registry { return s.registry }

// Submit stores version 1 of a new form and records a submitted entry.
func (s *Service) Submit(ctx context.Context, actor auth.Identity, formType string, data forms.Data) (forms.Snapshot, audit.Entry, error) {
	schema, err := s.registry.Lookup(formType)
	if err != nil {
		return forms.Snapshot{}, audit.Entry{}, err
	}
	if err := checkData(data); err != nil {
		return forms.Snapshot{}, audit.Entry{}, err
	}
	me, err := s.actor(ctx, actor)
	if err != nil {
		return forms.Snapshot{}, audit.Entry{}, err
	}

	now := s.now().UTC()
	snap := forms.Snapshot{
		FormID:      ids.NewAt(now),
		FormType:    schema.Type,
		Version:     1,
		FirmID:      me.FirmID,
		SubmittedBy: actor.UserID,
		UpdatedBy:   actor.UserID,
		Data:        data.Clone(),
		CreatedAt:   now,
	}

	var entry audit.Entry
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		if err := tx.InsertSnapshot(ctx, snap); err != nil {
			return err
		}
		entry, err = s.writer.Record(ctx, tx, audit.Record{
			Action:   audit.ActionSubmitted,
			ActorID:  actor.UserID,
			FormID:   snap.FormID,
			FormType: snap.FormType,
			Version:  snap.Version,
		})
		return err
	})
	if err != nil {
		return forms.Snapshot{}, audit.Entry{}, fmt.Errorf("submit %s: %w", schema.Type, err)
	}

	s.notifySubmission(ctx, schema, snap, actor)
	return snap, entry, nil
}

// Update stores the next version of a form and records its field changes.
// expectedVersion, when positive, must equal the current version. If the
// change list cannot be computed the update still persists and the entry is
// flagged as having no diff.
func (s *Service) Update(ctx context.Context, actor auth.Identity, formType, formID string, expectedVersion int, data forms.Data) (forms.Snapshot, audit.Entry, error) {
	schema, err := s.registry.Lookup(formType)
	if err != nil {
		return forms.Snapshot{}, audit.Entry{}, err
	}
	if err := checkData(data); err != nil {
		return forms.Snapshot{}, audit.Entry{}, err
	}
	me, err := s.actor(ctx, actor)
	if err != nil {
		return forms.Snapshot{}, audit.Entry{}, err
	}

	var (
		next  forms.Snapshot
		entry audit.Entry
	)
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		latest, err := s.live(ctx, tx, me, actor, formID, schema.Type)
		if err != nil {
			return err
		}
		if expectedVersion > 0 && expectedVersion != latest.Version {
			return fmt.Errorf("%w: form is at version %d, not %d", ErrVersionConflict, latest.Version, expectedVersion)
		}

		now := s.now().UTC()
		next = forms.Snapshot{
			FormID:      latest.FormID,
			FormType:    latest.FormType,
			Version:     latest.Version + 1,
			FirmID:      latest.FirmID,
			SubmittedBy: latest.SubmittedBy,
			UpdatedBy:   actor.UserID,
			Data:        data.Clone(),
			CreatedAt:   now,
		}

		changes, diffErr := forms.Diff(schema, &latest, next)
		if diffErr != nil {
			obs.From(ctx).Warn("form diff unavailable",
				zap.String("form_id", next.FormID),
				zap.Int("version", next.Version),
				zap.Error(diffErr),
			)
			changes = []forms.FieldChange{}
		}

		if err := tx.InsertSnapshot(ctx, next); err != nil {
			return err
		}
		entry, err = s.writer.Record(ctx, tx, audit.Record{
			Action:          audit.ActionUpdated,
			ActorID:         actor.UserID,
			FormID:          next.FormID,
			FormType:        next.FormType,
			Version:         next.Version,
			PreviousVersion: latest.Version,
			Changes:         changes,
			DiffUnavailable: diffErr != nil,
		})
		return err
	})
	if err != nil {
		return forms.Snapshot{}, audit.Entry{}, fmt.Errorf("update %s/%s: %w", schema.Type, formID, err)
	}
	return next, entry, nil
}

// Delete marks a form deleted and records why. The deleted entry takes the
// version after the last snapshot. The audit trail is kept.
func (s *Service) Delete(ctx context.Context, actor auth.Identity, formType, formID, reason string) (audit.Entry, error) {
	schema, err := s.registry.Lookup(formType)
	if err != nil {
		return audit.Entry{}, err
	}
	me, err := s.actor(ctx, actor)
	if err != nil {
		return audit.Entry{}, err
	}

	var entry audit.Entry
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		latest, err := s.live(ctx, tx, me, actor, formID, schema.Type)
		if err != nil {
			return err
		}
		if err := tx.MarkDeleted(ctx, latest.FormID, latest.FormType, s.now().UTC()); err != nil {
			return err
		}
		entry, err = s.writer.Record(ctx, tx, audit.Record{
			Action:          audit.ActionDeleted,
			ActorID:         actor.UserID,
			FormID:          latest.FormID,
			FormType:        latest.FormType,
			Version:         latest.Version + 1,
			PreviousVersion: latest.Version,
			Reason:          reason,
		})
		return err
	})
	if err != nil {
		return audit.Entry{}, fmt.Errorf("delete %s/%s: %w", schema.Type, formID, err)
	}
	return entry, nil
}

// Get returns the latest live version of a form.
func (s *Service) Get(ctx context.Context, actor auth.Identity, formType, formID string) (forms.Snapshot, error) {
	schema, err := s.registry.Lookup(formType)
	if err != nil {
		return forms.Snapshot{}, err
	}
	me, err := s.actor(ctx, actor)
	if err != nil {
		return forms.Snapshot{}, err
	}
	return s.live(ctx, s.store, me, actor, formID, schema.Type)
}

// History returns the audit trail of a form, newest first. It stays readable
// after the form is deleted.
func (s *Service) History(ctx context.Context, actor auth.Identity, formType, formID string) ([]audit.Entry, error) {
	schema, err := s.registry.Lookup(formType)
	if err != nil {
		return nil, err
	}
	me, err := s.actor(ctx, actor)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestSnapshot(ctx, strings.TrimSpace(formID), schema.Type)
	if err != nil {
		return nil, err
	}
	if !canAccess(me, actor, latest) {
		return nil, ErrNotFound
	}
	return s.reader.History(ctx, latest.FormID, latest.FormType)
}

type snapshotReader interface {
	LatestSnapshot(ctx context.Context, formID, formType string) (forms.Snapshot, error)
}

// live loads the latest non-deleted version the actor may see. Forms outside
// the actor's reach read as not found.
func (s *Service) live(ctx context.Context, r snapshotReader, me auth.Profile, actor auth.Identity, formID, formType string) (forms.Snapshot, error) {
	formID = strings.TrimSpace(formID)
	if formID == "" {
		return forms.Snapshot{}, fmt.Errorf("%w: form id is required", ErrInvalidInput)
	}
	latest, err := r.LatestSnapshot(ctx, formID, formType)
	if err != nil {
		return forms.Snapshot{}, err
	}
	if latest.Deleted() || !canAccess(me, actor, latest) {
		return forms.Snapshot{}, ErrNotFound
	}
	return latest, nil
}

// actor loads the caller's profile. Callers without one act as plain users
// with no firm.
func (s *Service) actor(ctx context.Context, actor auth.Identity) (auth.Profile, error) {
	if actor.IsAnonymous() {
		return auth.Profile{}, fmt.Errorf("%w: authentication required", auth.ErrForbidden)
	}
	p, err := s.roles.Lookup(ctx, actor.UserID)
	switch {
	case errors.Is(err, auth.ErrNoProfile):
		return auth.Profile{UserID: actor.UserID, Role: auth.RoleUser}, nil
	case err != nil:
		return auth.Profile{}, err
	}
	return p, nil
}

// canAccess is the product-level scoping: site admins see every form, firm
// members see their firm's forms and submitters always see their own.
func canAccess(me auth.Profile, actor auth.Identity, snap forms.Snapshot) bool {
	switch {
	case me.Role == auth.RoleSiteAdmin:
		return true
	case snap.SubmittedBy == actor.UserID:
		return true
	case snap.FirmID != "" && snap.FirmID == me.FirmID:
		return true
	default:
		return false
	}
}

func checkData(data forms.Data) error {
	if data == nil {
		return fmt.Errorf("%w: form data is required", ErrInvalidInput)
	}
	for k := range data {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty field key", ErrInvalidInput)
		}
	}
	return nil
}

func (s *Service) notifySubmission(ctx context.Context, schema *forms.Schema, snap forms.Snapshot, actor auth.Identity) {
	err := s.notifier.SubmissionReceived(ctx, notify.Submission{
		FormID:      snap.FormID,
		FormType:    snap.FormType,
		FormTitle:   schema.Title,
		FirmID:      snap.FirmID,
		SubmittedBy: actor.UserID,
		Email:       actor.Email,
		SubmittedAt: snap.CreatedAt,
	})
	if err != nil {
		obs.From(ctx).Warn("submission notification failed", zap.String("form_id", snap.FormID), zap.Error(err))
	}
}
