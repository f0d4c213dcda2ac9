package forms

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

var (
	ErrUnknownFormType   = errors.New("forms: unknown form type")
	ErrMalformedSnapshot = errors.New("forms: malformed snapshot")
)

// Field is one input of a form. Declaration order defines diff order.
type Field struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Section string `json:"section"`
}

// Schema describes a form type: its fields in declaration order and the
// key -> label table used when rendering changes.
type Schema struct {
	Type   string
	Title  string
	fields []Field
	index  map[string]int
}

// NewSchema validates fields and records their order.
func NewSchema(formType, title string, fields ...Field) (*Schema, error) {
	formType = strings.TrimSpace(formType)
	if formType == "" {
		return nil, errors.New("forms: schema type is required")
	}
	s := &Schema{Type: formType, Title: title, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		if f.Key == "" {
			return nil, fmt.Errorf("forms: field %d of %s has no key", i, formType)
		}
		if _, dup := s.index[f.Key]; dup {
			return nil, fmt.Errorf("forms: duplicate field %q in %s", f.Key, formType)
		}
		if f.Label == "" {
			f.Label = Humanize(f.Key)
		}
		s.index[f.Key] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

func mustSchema(formType, title string, fields ...Field) *Schema {
	s, err := NewSchema(formType, title, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []Field {
	if s == nil {
		return nil
	}
	return append([]Field(nil), s.fields...)
}

// Label returns the display label for key, humanizing keys the schema does not declare.
func (s *Schema) Label(key string) string {
	if s != nil {
		if i, ok := s.index[key]; ok {
			return s.fields[i].Label
		}
	}
	return Humanize(key)
}

// order sorts keys by declaration position; undeclared keys follow in lexical order.
func (s *Schema) order(keys []string) {
	pos := func(k string) (int, bool) {
		if s == nil {
			return 0, false
		}
		i, ok := s.index[k]
		return i, ok
	}
	sort.SliceStable(keys, func(a, b int) bool {
		pa, oka := pos(keys[a])
		pb, okb := pos(keys[b])
		switch {
		case oka && okb:
			return pa < pb
		case oka != okb:
			return oka
		default:
			return keys[a] < keys[b]
		}
	})
}

// Humanize turns a machine key into a label: "phoneNumber" and
// "phone_number" both become "Phone Number".
func Humanize(key string) string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(key)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			flush()
			continue
		case unicode.IsUpper(r) && len(cur) > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

// Registry maps form types to schemas.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry indexes schemas by type.
func NewRegistry(schemas ...*Schema) *Registry {
	r := &Registry{schemas: make(map[string]*Schema, len(schemas))}
	for _, s := range schemas {
		r.schemas[s.Type] = s
	}
	return r
}

// DefaultRegistry holds the portal's form types.
func DefaultRegistry() *Registry {
	return NewRegistry(EconomicLoss)
}

// Lookup returns the schema for formType.
func (r *Registry) Lookup(formType string) (*Schema, error) {
	if r != nil {
		if s, ok := r.schemas[strings.TrimSpace(formType)]; ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormType, formType)
}

// Types lists the registered form types in lexical order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

const (
	sectionClaimant   = "claimant"
	sectionEmployment = "employment"
	sectionIncident   = "incident"
	sectionLosses     = "losses"
	sectionNotes      = "notes"
)

// EconomicLoss is the multi-section economic-loss intake form.
var EconomicLoss = mustSchema("economic-loss", "Economic Loss Claim",
	Field{Key: "firstName", Label: "First Name", Section: sectionClaimant},
	Field{Key: "lastName", Label: "Last Name", Section: sectionClaimant},
	Field{Key: "email", Label: "Email", Section: sectionClaimant},
	Field{Key: "phone", Label: "Phone", Section: sectionClaimant},
	Field{Key: "dateOfBirth", Label: "Date of Birth", Section: sectionClaimant},
	Field{Key: "streetAddress", Label: "Street Address", Section: sectionClaimant},
	Field{Key: "city", Label: "City", Section: sectionClaimant},
	Field{Key: "state", Label: "State", Section: sectionClaimant},
	Field{Key: "zipCode", Label: "ZIP Code", Section: sectionClaimant},
	Field{Key: "employerName", Label: "Employer", Section: sectionEmployment},
	Field{Key: "occupation", Label: "Occupation", Section: sectionEmployment},
	Field{Key: "employmentStatus", Label: "Employment Status", Section: sectionEmployment},
	Field{Key: "annualIncome", Label: "Annual Income", Section: sectionEmployment},
	Field{Key: "hourlyWage", Label: "Hourly Wage", Section: sectionEmployment},
	Field{Key: "hoursPerWeek", Label: "Hours per Week", Section: sectionEmployment},
	Field{Key: "incidentDate", Label: "Incident Date", Section: sectionIncident},
	Field{Key: "incidentLocation", Label: "Incident Location", Section: sectionIncident},
	Field{Key: "incidentDescription", Label: "Incident Description", Section: sectionIncident},
	Field{Key: "injuryDescription", Label: "Injury Description", Section: sectionIncident},
	Field{Key: "daysMissed", Label: "Days of Work Missed", Section: sectionLosses},
	Field{Key: "lostWages", Label: "Lost Wages", Section: sectionLosses},
	Field{Key: "medicalExpenses", Label: "Medical Expenses", Section: sectionLosses},
	Field{Key: "propertyDamage", Label: "Property Damage", Section: sectionLosses},
	Field{Key: "otherExpenses", Label: "Other Expenses", Section: sectionLosses},
	Field{Key: "totalLoss", Label: "Total Loss", Section: sectionLosses},
	Field{Key: "additionalNotes", Label: "Additional Notes", Section: sectionNotes},
)
