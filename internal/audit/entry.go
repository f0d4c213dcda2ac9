package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/forms"
)

var ErrInvalidRecord = errors.New("audit: invalid record")

// Action is what happened to a form.
type Action string

const (
	ActionSubmitted Action = "submitted"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionSubmitted, ActionUpdated, ActionDeleted:
		return true
	}
	return false
}

// Metadata is the action-specific payload of an entry: one of Submitted,
// Updated or Deleted.
type Metadata interface {
	Action() Action
	FormVersion() int
	Role() auth.Role
	validate() error
}

// Submitted describes the first version of a form.
type Submitted struct {
	Version       int
	UpdatedByRole auth.Role
}

// Updated describes a new version and how it differs from the previous one.
type Updated struct {
	Version         int
	PreviousVersion int
	FieldChanges    []forms.FieldChange
	UpdatedByRole   auth.Role
	// DiffUnavailable is set when the change list could not be computed.
	DiffUnavailable bool
}

// Deleted describes the removal of a form. It takes the version after the
// last stored snapshot so every entry of a form has its own version.
type Deleted struct {
	Version         int
	PreviousVersion int
	Reason          string
	UpdatedByRole   auth.Role
}

func (Submitted) Action() Action { return ActionSubmitted }
func (Updated) Action() Action   { return ActionUpdated }
func (Deleted) Action() Action   { return ActionDeleted }

func (m Submitted) FormVersion() int { return m.Version }
func (m Updated) FormVersion() int   { return m.Version }
func (m Deleted) FormVersion() int   { return m.Version }

func (m Submitted) Role() auth.Role { return m.UpdatedByRole }
func (m Updated) Role() auth.Role   { return m.UpdatedByRole }
func (m Deleted) Role() auth.Role   { return m.UpdatedByRole }

func (m Submitted) validate() error {
	if m.Version < 1 {
		return fmt.Errorf("%w: version must be >= 1", ErrInvalidRecord)
	}
	return validRole(m.UpdatedByRole)
}

func (m Updated) validate() error {
	if m.Version < 2 {
		return fmt.Errorf("%w: updated version must be >= 2", ErrInvalidRecord)
	}
	if m.PreviousVersion != m.Version-1 {
		return fmt.Errorf("%w: previous_version %d does not precede version %d", ErrInvalidRecord, m.PreviousVersion, m.Version)
	}
	if m.FieldChanges == nil {
		return fmt.Errorf("%w: updated entries carry a change list", ErrInvalidRecord)
	}
	return validRole(m.UpdatedByRole)
}

func (m Deleted) validate() error {
	if m.Version < 2 {
		return fmt.Errorf("%w: deleted version must be >= 2", ErrInvalidRecord)
	}
	if m.PreviousVersion != m.Version-1 {
		return fmt.Errorf("%w: previous_version %d does not precede version %d", ErrInvalidRecord, m.PreviousVersion, m.Version)
	}
	return validRole(m.UpdatedByRole)
}

func validRole(r auth.Role) error {
	if r != "" && !r.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidRecord, r)
	}
	return nil
}

// Entry is one immutable audit log row.
type Entry struct {
	ID          string
	FormID      string
	FormType    string
	SubmittedBy string
	CreatedAt   time.Time
	Metadata    Metadata
}

// Action returns the entry's action type.
func (e Entry) Action() Action {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata.Action()
}

type wireMetadata struct {
	Version         int                  `json:"version"`
	PreviousVersion *int                 `json:"previous_version,omitempty"`
	UpdatedByRole   string               `json:"updated_by_role,omitempty"`
	FieldChanges    *[]forms.FieldChange `json:"field_changes,omitempty"`
	DiffUnavailable bool                 `json:"diff_unavailable,omitempty"`
	Reason          string               `json:"reason,omitempty"`
}

type wireEntry struct {
	ID          string          `json:"id"`
	FormID      string          `json:"form_id"`
	FormType    string          `json:"form_type"`
	ActionType  Action          `json:"action_type"`
	SubmittedBy string          `json:"submitted_by"`
	CreatedAt   time.Time       `json:"created_at"`
	Metadata    json.RawMessage `json:"metadata"`
}

// MarshalMetadata encodes m in its persisted shape.
func MarshalMetadata(m Metadata) ([]byte, error) {
	var w wireMetadata
	switch v := m.(type) {
	case Submitted:
		w = wireMetadata{Version: v.Version, UpdatedByRole: string(v.UpdatedByRole)}
	case Updated:
		prev := v.PreviousVersion
		changes := v.FieldChanges
		if changes == nil {
			changes = []forms.FieldChange{}
		}
		w = wireMetadata{
			Version:         v.Version,
			PreviousVersion: &prev,
			UpdatedByRole:   string(v.UpdatedByRole),
			FieldChanges:    &changes,
			DiffUnavailable: v.DiffUnavailable,
		}
	case Deleted:
		prev := v.PreviousVersion
		w = wireMetadata{Version: v.Version, PreviousVersion: &prev, UpdatedByRole: string(v.UpdatedByRole), Reason: v.Reason}
	default:
		return nil, fmt.Errorf("%w: unknown metadata %T", ErrInvalidRecord, m)
	}
	return json.Marshal(w)
}

// UnmarshalMetadata decodes persisted metadata for the given action.
func UnmarshalMetadata(action Action, raw []byte) (Metadata, error) {
	var w wireMetadata
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("audit: decode metadata: %w", err)
		}
	}
	role := auth.Role(w.UpdatedByRole)
	switch action {
	case ActionSubmitted:
		return Submitted{Version: w.Version, UpdatedByRole: role}, nil
	case ActionUpdated:
		m := Updated{Version: w.Version, UpdatedByRole: role, DiffUnavailable: w.DiffUnavailable, FieldChanges: []forms.FieldChange{}}
		if w.PreviousVersion != nil {
			m.PreviousVersion = *w.PreviousVersion
		}
		if w.FieldChanges != nil && *w.FieldChanges != nil {
			m.FieldChanges = *w.FieldChanges
		}
		return m, nil
	case ActionDeleted:
		m := Deleted{Version: w.Version, Reason: w.Reason, UpdatedByRole: role}
		if w.PreviousVersion != nil {
			m.PreviousVersion = *w.PreviousVersion
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidRecord, action)
	}
}

func (e Entry) MarshalJSON() ([]byte, error) {
	meta, err := MarshalMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEntry{
		ID:          e.ID,
		FormID:      e.FormID,
		FormType:    e.FormType,
		ActionType:  e.Action(),
		SubmittedBy: e.SubmittedBy,
		CreatedAt:   e.CreatedAt,
		Metadata:    meta,
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	meta, err := UnmarshalMetadata(w.ActionType, w.Metadata)
	if err != nil {
		return err
	}
	*e = Entry{
		ID:          w.ID,
		FormID:      w.FormID,
		FormType:    w.FormType,
		SubmittedBy: w.SubmittedBy,
		CreatedAt:   w.CreatedAt,
		Metadata:    meta,
	}
	return nil
}
