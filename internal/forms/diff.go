package forms

import "fmt"

// FieldChange is one differing field between two versions. OldValue and
// NewValue are nil when the field was null or absent.
type FieldChange struct {
	Field    string  `json:"field"`
	Key      string  `json:"key,omitempty"`
	OldValue *string `json:"oldValue"`
	NewValue *string `json:"newValue"`
}

// Diff compares next against the previous version of the same form. The
// first version (previous == nil) has no changes. It has no side effects.
func Diff(schema *Schema, previous *Snapshot, next Snapshot) ([]FieldChange, error) {
	if previous == nil {
		return []FieldChange{}, nil
	}
	return Compare(schema, previous.Data, next.Data)
}

// Compare returns the changes turning before into after, one per differing
// key, ordered by the schema's declaration order and then lexically.
func Compare(schema *Schema, before, after Data) ([]FieldChange, error) {
	keys := make([]string, 0, len(before)+len(after))
	seen := make(map[string]struct{}, len(before)+len(after))
	for _, d := range []Data{before, after} {
		for k := range d {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	schema.order(keys)

	changes := []FieldChange{}
	for _, k := range keys {
		oldV, err := Stringify(before[k])
		if err != nil {
			return nil, fmt.Errorf("previous field %q: %w", k, err)
		}
		newV, err := Stringify(after[k])
		if err != nil {
			return nil, fmt.Errorf("next field %q: %w", k, err)
		}
		if equal(oldV, newV) {
			continue
		}
		changes = append(changes, FieldChange{
			Field:    schema.Label(k),
			Key:      k,
			OldValue: oldV,
			NewValue: newV,
		})
	}
	return changes, nil
}

// Apply returns a copy of base with every change's new value written to its
// key. Applying Compare(a, b) to a yields b on every changed key.
func Apply(base Data, changes []FieldChange) Data {
	out := base.Clone()
	if out == nil {
		out = Data{}
	}
	for _, c := range changes {
		if c.NewValue == nil {
			out[c.Key] = nil
			continue
		}
		out[c.Key] = *c.NewValue
	}
	return out
}

func equal(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
