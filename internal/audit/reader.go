package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Source loads the stored entries of one form.
type Source interface {
	AuditEntries(ctx context.Context, formID, formType string) ([]Entry, error)
}

// Reader replays a form's audit trail.
type Reader struct {
	src Source
}

func NewReader(src Source) *Reader {
	return &Reader{src: src}
}

// History returns the entries of a form, newest first. Entries created in
// the same instant are ordered by id, which is time-ordered.
func (r *Reader) History(ctx context.Context, formID, formType string) ([]Entry, error) {
	formID = strings.TrimSpace(formID)
	formType = strings.TrimSpace(formType)
	if formID == "" || formType == "" {
		return nil, fmt.Errorf("%w: form id and form type are required", ErrInvalidRecord)
	}
	entries, err := r.src.AuditEntries(ctx, formID, formType)
	if err != nil {
		return nil, fmt.Errorf("audit: history: %w", err)
	}
	out := append([]Entry(nil), entries...)
	SortNewestFirst(out)
	if out == nil {
		out = []Entry{}
	}
	return out, nil
}

// SortNewestFirst orders entries by created_at descending, then id descending.
func SortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
