package forms

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Data is the field map of one form state. Values are strings or null;
// numbers and booleans are tolerated and compared in their text form.
type Data map[string]any

// Snapshot is one immutable version of a form. SubmittedBy is the user who
// first submitted the form; UpdatedBy wrote this version.
type Snapshot struct {
	FormID      string     `json:"form_id"`
	FormType    string     `json:"form_type"`
	Version     int        `json:"version"`
	FirmID      string     `json:"firm_id,omitempty"`
	SubmittedBy string     `json:"submitted_by"`
	UpdatedBy   string     `json:"updated_by"`
	Data        Data       `json:"data"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the form was deleted at this version.
func (s Snapshot) Deleted() bool { return s.DeletedAt != nil }

// Stringify renders a field value for comparison. Null (and a missing key)
// is nil, which is distinct from the empty string.
func Stringify(v any) (*string, error) {
	var s string
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = x
	case json.Number:
		s = x.String()
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	case int32:
		s = strconv.FormatInt(int64(x), 10)
	case bool:
		s = strconv.FormatBool(x)
	default:
		return nil, fmt.Errorf("%w: unsupported value of type %T", ErrMalformedSnapshot, v)
	}
	return &s, nil
}

// Clone returns a shallow copy of d.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Validate checks that every key is non-empty and every value can be compared.
func (d Data) Validate() error {
	for k, v := range d {
		if k == "" {
			return fmt.Errorf("%w: empty field key", ErrMalformedSnapshot)
		}
		if _, err := Stringify(v); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}
