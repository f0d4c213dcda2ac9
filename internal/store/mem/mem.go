package mem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"intakeportal.org/internal/audit"
	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/forms"
	"intakeportal.org/internal/ids"
	"intakeportal.org/internal/intake"
)

type formKey struct {
	id   string
	kind string
}

// Store keeps profiles, firms, snapshots and audit entries in process memory.
// It backs development runs and tests; WithinTx serialises writers.
//
// Profiles and firms sit behind dirMu, forms and audit entries behind mu.
// Role lookups made while a form transaction holds mu must not block on it.
type Store struct {
	dirMu    sync.RWMutex
	profiles map[string]auth.Profile
	firms    map[string]auth.Firm // slug -> firm

	mu        sync.RWMutex
	snapshots map[formKey][]forms.Snapshot
	audit     map[formKey][]audit.Entry
	now       func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		profiles:  make(map[string]auth.Profile),
		firms:     make(map[string]auth.Firm),
		snapshots: make(map[formKey][]forms.Snapshot),
		audit:     make(map[formKey][]audit.Entry),
		now:       time.Now,
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// --- profiles ---

func (s *Store) ProfileByUserID(_ context.Context, userID string) (auth.Profile, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return auth.Profile{}, auth.ErrNotFound
	}
	return p, nil
}

func (s *Store) UpsertProfile(_ context.Context, p auth.Profile) (auth.Profile, error) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	now := s.now().UTC()
	if existing, ok := s.profiles[p.UserID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.profiles[p.UserID] = p
	return p, nil
}

func (s *Store) SetProfileRole(_ context.Context, userID string, role auth.Role) (auth.Profile, error) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return auth.Profile{}, auth.ErrNotFound
	}
	p.Role = role
	p.UpdatedAt = s.now().UTC()
	s.profiles[userID] = p
	return p, nil
}

func (s *Store) SetProfileFirm(_ context.Context, userID, firmID string) (auth.Profile, error) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return auth.Profile{}, auth.ErrNotFound
	}
	p.FirmID = firmID
	p.UpdatedAt = s.now().UTC()
	s.profiles[userID] = p
	return p, nil
}

func (s *Store) ListProfilesByFirm(_ context.Context, firmID string) ([]auth.Profile, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	out := []auth.Profile{}
	for _, p := range s.profiles {
		if p.FirmID == firmID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// --- firms ---

func (s *Store) CreateFirm(_ context.Context, name, slug string) (auth.Firm, error) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	if _, ok := s.firms[slug]; ok {
		return auth.Firm{}, fmt.Errorf("%w: firm slug %q taken", auth.ErrConflict, slug)
	}
	now := s.now().UTC()
	f := auth.Firm{ID: ids.NewAt(now), Name: name, Slug: slug, CreatedAt: now}
	s.firms[slug] = f
	return f, nil
}

func (s *Store) FirmBySlug(_ context.Context, slug string) (auth.Firm, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	f, ok := s.firms[slug]
	if !ok {
		return auth.Firm{}, auth.ErrNotFound
	}
	return f, nil
}

func (s *Store) ListFirms(_ context.Context) ([]auth.Firm, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	out := make([]auth.Firm, 0, len(s.firms))
	for _, f := range s.firms {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// --- forms ---

func (s *Store) LatestSnapshot(_ context.Context, formID, formType string) (forms.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestLocked(formKey{formID, formType})
}

func (s *Store) latestLocked(k formKey) (forms.Snapshot, error) {
	versions := s.snapshots[k]
	if len(versions) == 0 {
		return forms.Snapshot{}, intake.ErrNotFound
	}
	return cloneSnapshot(versions[len(versions)-1]), nil
}

func (s *Store) AuditEntries(_ context.Context, formID, formType string) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry(nil), s.audit[formKey{formID, formType}]...), nil
}

// WithinTx runs fn under the write lock. Writes are staged and applied only
// when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(tx intake.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type deletion struct {
	key formKey
	at  time.Time
}

type memTx struct {
	store     *Store
	snapshots []forms.Snapshot
	deletions []deletion
	entries   []audit.Entry
}

func (t *memTx) LatestSnapshot(_ context.Context, formID, formType string) (forms.Snapshot, error) {
	k := formKey{formID, formType}
	for i := len(t.snapshots) - 1; i >= 0; i-- {
		if t.snapshots[i].FormID == formID && t.snapshots[i].FormType == formType {
			return cloneSnapshot(t.snapshots[i]), nil
		}
	}
	return t.store.latestLocked(k)
}

func (t *memTx) InsertSnapshot(ctx context.Context, snap forms.Snapshot) error {
	if snap.Version < 1 {
		return fmt.Errorf("%w: version must be >= 1", intake.ErrInvalidInput)
	}
	latest, err := t.LatestSnapshot(ctx, snap.FormID, snap.FormType)
	switch {
	case err == nil && snap.Version <= latest.Version:
		return fmt.Errorf("%w: version %d already exists", intake.ErrVersionConflict, snap.Version)
	case err == nil && snap.Version != latest.Version+1:
		return fmt.Errorf("%w: version %d skips %d", intake.ErrInvalidInput, snap.Version, latest.Version+1)
	case err != nil && snap.Version != 1:
		return fmt.Errorf("%w: first version must be 1", intake.ErrInvalidInput)
	}
	t.snapshots = append(t.snapshots, cloneSnapshot(snap))
	return nil
}

func (t *memTx) MarkDeleted(ctx context.Context, formID, formType string, at time.Time) error {
	if _, err := t.LatestSnapshot(ctx, formID, formType); err != nil {
		return err
	}
	t.deletions = append(t.deletions, deletion{key: formKey{formID, formType}, at: at})
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, e audit.Entry) error {
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTx) commit() {
	s := t.store
	for _, snap := range t.snapshots {
		k := formKey{snap.FormID, snap.FormType}
		s.snapshots[k] = append(s.snapshots[k], snap)
	}
	for _, d := range t.deletions {
		at := d.at
		for i := range s.snapshots[d.key] {
			if s.snapshots[d.key][i].DeletedAt == nil {
				s.snapshots[d.key][i].DeletedAt = &at
			}
		}
	}
	for _, e := range t.entries {
		k := formKey{e.FormID, e.FormType}
		s.audit[k] = append(s.audit[k], e)
	}
}

func cloneSnapshot(s forms.Snapshot) forms.Snapshot {
	s.Data = s.Data.Clone()
	if s.DeletedAt != nil {
		at := *s.DeletedAt
		s.DeletedAt = &at
	}
	return s
}
