package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectValueFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"42", "int"},
		{"-7", "int"},
		{"2.0", "int"},
		{"3.14", "float"},
		{"1020,20", "float"},
		{"true", "bool"},
		{"FALSE", "bool"},
		{`{"a": 1}`, "json"},
		{`[1, 2]`, "json"},
		{"{not json", "string"},
		{"2022-12-31", "date"},
		{"2022-12-31 12:00:00", "datetime"},
		{"hello", "string"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, detectValueFormat(tt.in))
		})
	}
}

func TestCoerce(t *testing.T) {
	assert.Nil(t, Coerce("", "int"))
	assert.Nil(t, Coerce("  ", "string"))

	assert.Equal(t, int64(42), Coerce("42", "int"))
	assert.Equal(t, int64(2), Coerce("2.0", "int"), "float-shaped values in integer columns")
	assert.Equal(t, 3.14, Coerce("3.14", "float"))
	assert.Equal(t, 1020.20, Coerce("1020,20", "float"), "comma decimal separator")

	assert.Equal(t, true, Coerce("True", "bool"))
	assert.Equal(t, false, Coerce("false", "bool"))

	got := Coerce("2022-12-31", "date")
	when, ok := got.(time.Time)
	require.True(t, ok)
	assert.True(t, time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC).Equal(when))

	// JSON stays textual.
	assert.Equal(t, `{"a": 1}`, Coerce(`{"a": 1}`, "json"))

	// Values resisting coercion degrade to their raw text.
	assert.Equal(t, "n/a", Coerce("n/a", "int"))
}

func TestCoerceRows(t *testing.T) {
	profile := &Profile{
		Header:  []string{"n", "label"},
		Formats: map[string]string{"n": "int", "label": "string"},
	}
	rows, err := CoerceRows(profile, [][]string{{"1", "a"}, {"", "b"}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0][0])
	assert.Nil(t, rows[1][0])
	assert.Equal(t, "b", rows[1][1])

	_, err = CoerceRows(profile, [][]string{{"only one"}})
	assert.Error(t, err)
}
