package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/forms"
	"intakeportal.org/internal/obs"
)

type memLog struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *memLog) AppendAudit(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLog) AuditEntries(_ context.Context, formID, formType string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.FormID == formID && e.FormType == formType {
			out = append(out, e)
		}
	}
	return out, nil
}

type roles map[string]auth.Role

func (r roles) Lookup(_ context.Context, userID string) (auth.Profile, error) {
	if userID == "broken" {
		return auth.Profile{}, errors.New("db down")
	}
	role, ok := r[userID]
	if !ok {
		return auth.Profile{}, auth.ErrNoProfile
	}
	return auth.Profile{UserID: userID, Role: role}, nil
}

var testRoles = roles{"sa": auth.RoleSiteAdmin, "fa": auth.RoleFirmAdmin, "u": auth.RoleUser}

// tickingClock advances one second per call so entries have distinct times.
func tickingClock() func() time.Time {
	t := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func strp(s string) *string { return &s }

func TestRecordResolvesRoleAtWriteTime(t *testing.T) {
	log := &memLog{}
	w := NewWriter(testRoles, WithWriterClock(tickingClock()))

	for actor, want := range map[string]auth.Role{"sa": auth.RoleSiteAdmin, "fa": auth.RoleFirmAdmin, "u": auth.RoleUser} {
		e, err := w.Record(context.Background(), log, Record{Action: ActionSubmitted, ActorID: actor, FormID: "f-" + actor, FormType: "economic-loss", Version: 1})
		require.NoError(t, err)
		assert.Equal(t, want, e.Metadata.Role())
	}
}

func TestRecordWithoutProfileHasNoRole(t *testing.T) {
	log := &memLog{}
	w := NewWriter(testRoles)
	e, err := w.Record(context.Background(), log, Record{Action: ActionDeleted, ActorID: "ghost", FormID: "f1", FormType: "economic-loss", Version: 2, PreviousVersion: 1, Reason: " duplicate "})
	require.NoError(t, err)
	assert.Equal(t, auth.Role(""), e.Metadata.Role())
	assert.Equal(t, "duplicate", e.Metadata.(Deleted).Reason)
	assert.Len(t, log.entries, 1)
}

func TestRecordFailsOnLookupError(t *testing.T) {
	log := &memLog{}
	w := NewWriter(testRoles)
	_, err := w.Record(context.Background(), log, Record{Action: ActionSubmitted, ActorID: "broken", FormID: "f1", FormType: "economic-loss", Version: 1})
	require.Error(t, err)
	assert.Empty(t, log.entries)
}

func TestRecordFailsOnAppendError(t *testing.T) {
	log := &memLog{err: errors.New("disk full")}
	w := NewWriter(testRoles)
	_, err := w.Record(context.Background(), log, Record{Action: ActionSubmitted, ActorID: "u", FormID: "f1", FormType: "economic-loss", Version: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRecordValidatesMetadata(t *testing.T) {
	w := NewWriter(testRoles)
	bad := []Record{
		{Action: ActionUpdated, ActorID: "u", FormID: "f", FormType: "t", Version: 3, PreviousVersion: 1},
		{Action: ActionUpdated, ActorID: "u", FormID: "f", FormType: "t", Version: 1, PreviousVersion: 0},
		{Action: ActionSubmitted, ActorID: "u", FormID: "f", FormType: "t", Version: 0},
		{Action: ActionDeleted, ActorID: "u", FormID: "f", FormType: "t", Version: 1},
		{Action: ActionDeleted, ActorID: "u", FormID: "f", FormType: "t", Version: 3, PreviousVersion: 3},
		{Action: ActionSubmitted, ActorID: "u", FormID: "f", FormType: "t", Version: 1, Changes: []forms.FieldChange{{Field: "Phone"}}},
		{Action: Action("archived"), ActorID: "u", FormID: "f", FormType: "t", Version: 1},
		{Action: ActionSubmitted, FormID: "f", FormType: "t", Version: 1},
		{Action: ActionSubmitted, ActorID: "u", FormType: "t", Version: 1},
	}
	for i, rec := range bad {
		log := &memLog{}
		_, err := w.Record(context.Background(), log, rec)
		assert.ErrorIs(t, err, ErrInvalidRecord, "case %d", i)
		assert.Empty(t, log.entries, "case %d", i)
	}
}

func TestUpdatedAlwaysCarriesChangeList(t *testing.T) {
	log := &memLog{}
	w := NewWriter(testRoles)
	e, err := w.Record(context.Background(), log, Record{Action: ActionUpdated, ActorID: "fa", FormID: "f", FormType: "t", Version: 2, PreviousVersion: 1, DiffUnavailable: true})
	require.NoError(t, err)

	raw, err := json.Marshal(e)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	meta := wire["metadata"].(map[string]any)
	assert.Equal(t, []any{}, meta["field_changes"])
	assert.Equal(t, true, meta["diff_unavailable"])
	assert.Equal(t, float64(1), meta["previous_version"])
}

func TestHistoryNewestFirst(t *testing.T) {
	log := &memLog{}
	w := NewWriter(testRoles, WithWriterClock(tickingClock()))
	r := NewReader(log)
	ctx := context.Background()

	_, err := w.Record(ctx, log, Record{Action: ActionSubmitted, ActorID: "u", FormID: "f1", FormType: "economic-loss", Version: 1})
	require.NoError(t, err)
	_, err = w.Record(ctx, log, Record{Action: ActionUpdated, ActorID: "fa", FormID: "f1", FormType: "economic-loss", Version: 2, PreviousVersion: 1,
		Changes: []forms.FieldChange{{Field: "Phone", Key: "phone", OldValue: strp("1"), NewValue: strp("2")}}})
	require.NoError(t, err)
	_, err = w.Record(ctx, log, Record{Action: ActionUpdated, ActorID: "sa", FormID: "f1", FormType: "economic-loss", Version: 3, PreviousVersion: 2,
		Changes: []forms.FieldChange{
			{Field: "Phone", Key: "phone", OldValue: strp("2"), NewValue: strp("3")},
			{Field: "City", Key: "city", OldValue: nil, NewValue: strp("Austin")},
			{Field: "State", Key: "state", OldValue: strp("TX"), NewValue: nil},
		}})
	require.NoError(t, err)
	_, err = w.Record(ctx, log, Record{Action: ActionSubmitted, ActorID: "u", FormID: "other", FormType: "economic-loss", Version: 1})
	require.NoError(t, err)

	history, err := r.History(ctx, "f1", "economic-loss")
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, ActionUpdated, history[0].Action())
	latest := history[0].Metadata.(Updated)
	assert.Equal(t, 3, latest.Version)
	assert.Equal(t, 2, latest.PreviousVersion)
	assert.Len(t, latest.FieldChanges, 3)
	assert.Equal(t, auth.RoleSiteAdmin, latest.UpdatedByRole)
	assert.Equal(t, ActionSubmitted, history[2].Action())

	versions := map[int]bool{}
	for i, e := range history {
		versions[e.Metadata.FormVersion()] = true
		if i > 0 {
			assert.False(t, e.CreatedAt.After(history[i-1].CreatedAt), "entry %d out of order", i)
		}
	}
	assert.Len(t, versions, 3)
}

func TestHistoryTiesBrokenByID(t *testing.T) {
	same := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	entries := []Entry{
		{ID: "01A", CreatedAt: same, Metadata: Submitted{Version: 1}},
		{ID: "01C", CreatedAt: same, Metadata: Updated{Version: 3, PreviousVersion: 2}},
		{ID: "01B", CreatedAt: same, Metadata: Updated{Version: 2, PreviousVersion: 1}},
	}
	SortNewestFirst(entries)
	assert.Equal(t, []string{"01C", "01B", "01A"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
}

func TestHistoryRequiresFormKey(t *testing.T) {
	_, err := NewReader(&memLog{}).History(context.Background(), "", "economic-loss")
	assert.ErrorIs(t, err, ErrInvalidRecord)

	h, err := NewReader(&memLog{}).History(context.Background(), "f", "economic-loss")
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.Empty(t, h)
}

func TestEntryJSONShape(t *testing.T) {
	e := Entry{
		ID:          "01HZX",
		FormID:      "f1",
		FormType:    "economic-loss",
		SubmittedBy: "fa",
		CreatedAt:   time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		Metadata: Updated{
			Version:         3,
			PreviousVersion: 2,
			UpdatedByRole:   auth.RoleFirmAdmin,
			FieldChanges:    []forms.FieldChange{{Field: "Phone", Key: "phone", OldValue: strp("555-1234"), NewValue: nil}},
		},
	}
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "01HZX",
		"form_id": "f1",
		"form_type": "economic-loss",
		"action_type": "updated",
		"submitted_by": "fa",
		"created_at": "2026-05-01T09:00:00Z",
		"metadata": {
			"version": 3,
			"previous_version": 2,
			"updated_by_role": "firm_admin",
			"field_changes": [{"field": "Phone", "key": "phone", "oldValue": "555-1234", "newValue": null}]
		}
	}`, string(raw))

	var back Entry
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, e, back)

	sub, err := json.Marshal(Entry{ID: "x", Metadata: Submitted{Version: 1}})
	require.NoError(t, err)
	assert.NotContains(t, string(sub), "field_changes")
	assert.NotContains(t, string(sub), "previous_version")
}

func TestRecordEmitsAuditLine(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := obs.Logger()
	obs.SetLogger(zap.New(core))
	defer obs.SetLogger(prev)

	ctx := WithRequestID(context.Background(), "req-123")
	w := NewWriter(testRoles)
	_, err := w.Record(ctx, &memLog{}, Record{Action: ActionSubmitted, ActorID: "u", FormID: "f1", FormType: "economic-loss", Version: 1})
	require.NoError(t, err)

	entries := logs.FilterMessage("audit").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "form.submitted", fields["event"])
	assert.Equal(t, "req-123", fields["request_id"])
	assert.Equal(t, "u", fields["user_id"])
	assert.Equal(t, "user", fields["role"])
}
