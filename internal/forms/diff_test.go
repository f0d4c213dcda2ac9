package forms

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string { return &s }

func TestDiffPhoneChange(t *testing.T) {
	prev := &Snapshot{Data: Data{"phone": "555-1234"}}
	next := Snapshot{Data: Data{"phone": "555-5678"}}

	changes, err := Diff(EconomicLoss, prev, next)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, FieldChange{Field: "Phone", Key: "phone", OldValue: str("555-1234"), NewValue: str("555-5678")}, changes[0])
}

func TestDiffFirstVersionIsEmpty(t *testing.T) {
	changes, err := Diff(EconomicLoss, nil, Snapshot{Data: Data{"phone": "1", "city": "Austin"}})
	require.NoError(t, err)
	assert.NotNil(t, changes)
	assert.Empty(t, changes)
}

func TestDiffIdentical(t *testing.T) {
	s := Snapshot{Data: Data{"firstName": "Ana", "phone": nil, "zipCode": "", "hoursPerWeek": 40.0}}
	changes, err := Diff(EconomicLoss, &s, s)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestDiffNullAndEmptyAreDistinct(t *testing.T) {
	changes, err := Compare(EconomicLoss, Data{"city": nil}, Data{"city": ""})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].OldValue)
	assert.Equal(t, "", *changes[0].NewValue)

	changes, err = Compare(EconomicLoss, Data{"city": ""}, Data{"city": nil})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "", *changes[0].OldValue)
	assert.Nil(t, changes[0].NewValue)

	changes, err = Compare(EconomicLoss, Data{"city": nil}, Data{})
	require.NoError(t, err)
	assert.Empty(t, changes, "absent and null are the same state")
}

func TestDiffFollowsSchemaOrder(t *testing.T) {
	before := Data{"additionalNotes": "a", "firstName": "Ana", "zeta": "1", "alpha": "1", "phone": "1"}
	after := Data{"additionalNotes": "b", "firstName": "Ann", "zeta": "2", "alpha": "2", "phone": "2"}

	for i := 0; i < 5; i++ {
		changes, err := Compare(EconomicLoss, before, after)
		require.NoError(t, err)
		var keys []string
		for _, c := range changes {
			keys = append(keys, c.Key)
		}
		assert.Equal(t, []string{"firstName", "phone", "additionalNotes", "alpha", "zeta"}, keys)
	}
}

func TestDiffUnknownKeysAreHumanized(t *testing.T) {
	changes, err := Compare(EconomicLoss, Data{"secondaryPhoneNumber": "1"}, Data{"secondaryPhoneNumber": "2"})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "Secondary Phone Number", changes[0].Field)
}

func TestDiffMalformed(t *testing.T) {
	_, err := Compare(EconomicLoss, Data{"city": "x"}, Data{"city": map[string]any{"nested": true}})
	assert.True(t, errors.Is(err, ErrMalformedSnapshot), "got %v", err)

	_, err = Diff(EconomicLoss, &Snapshot{Data: Data{"docs": []any{"a"}}}, Snapshot{Data: Data{}})
	assert.ErrorIs(t, err, ErrMalformedSnapshot)
}

func TestDiffNumbersCompareAsText(t *testing.T) {
	changes, err := Compare(EconomicLoss, Data{"annualIncome": 52000.0}, Data{"annualIncome": "52000"})
	require.NoError(t, err)
	assert.Empty(t, changes)

	changes, err = Compare(EconomicLoss, Data{"annualIncome": 52000.5}, Data{"annualIncome": 52000})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "52000.5", *changes[0].OldValue)
	assert.Equal(t, "52000", *changes[0].NewValue)
}

var valuePool = []any{nil, "", "a", "b", "555-1234", 1.0, true}

func randomData(r *rand.Rand) Data {
	keys := []string{"firstName", "phone", "city", "zipCode", "customA", "customB", "lostWages"}
	d := Data{}
	for _, k := range keys {
		if r.Intn(3) == 0 {
			continue
		}
		d[k] = valuePool[r.Intn(len(valuePool))]
	}
	return d
}

func stringified(t *testing.T, d Data, key string) *string {
	t.Helper()
	v, err := Stringify(d[key])
	require.NoError(t, err)
	return v
}

// Every differing key appears exactly once, equal keys never appear, and
// applying the changes to the first snapshot reproduces the second.
func TestDiffProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		a, b := randomData(r), randomData(r)
		name := fmt.Sprintf("case %d", i)

		self, err := Compare(EconomicLoss, a, a)
		require.NoError(t, err, name)
		assert.Empty(t, self, name)

		changes, err := Compare(EconomicLoss, a, b)
		require.NoError(t, err, name)

		listed := map[string]int{}
		for _, c := range changes {
			listed[c.Key]++
		}
		union := map[string]struct{}{}
		for k := range a {
			union[k] = struct{}{}
		}
		for k := range b {
			union[k] = struct{}{}
		}
		for k := range union {
			differs := !equal(stringified(t, a, k), stringified(t, b, k))
			if differs {
				assert.Equal(t, 1, listed[k], "%s: key %s", name, k)
			} else {
				assert.Zero(t, listed[k], "%s: key %s", name, k)
			}
		}

		applied := Apply(a, changes)
		for _, c := range changes {
			assert.Equal(t, stringified(t, b, c.Key), stringified(t, applied, c.Key), "%s: key %s", name, c.Key)
		}
		rest, err := Compare(EconomicLoss, applied, b)
		require.NoError(t, err, name)
		assert.Empty(t, rest, name)
	}
}

func TestApplyDoesNotMutateBase(t *testing.T) {
	base := Data{"city": "Austin"}
	out := Apply(base, []FieldChange{{Key: "city", NewValue: str("Dallas")}})
	assert.Equal(t, "Austin", base["city"])
	assert.Equal(t, "Dallas", out["city"])
}
