package dateutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTolerant(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		hasTime bool
	}{
		{"2022-12-31", time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC), false},
		{"2022-12-31 12:00:00", time.Date(2022, 12, 31, 12, 0, 0, 0, time.UTC), true},
		{"2022-31-12 12:00:00", time.Date(2022, 12, 31, 12, 0, 0, 0, time.UTC), true},
		{"12-31-2022 12:00:00", time.Date(2022, 12, 31, 12, 0, 0, 0, time.UTC), true},
		{"31 décembre 2022", time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC), false},
		{"31 decembre 2022", time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC), false},
		{"31st december 2022", time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, hasTime, ok := ParseTolerant(tt.in)
			if tt.want.IsZero() {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, tt.hasTime, hasTime)
		})
	}
}

func TestParseTolerantEmpty(t *testing.T) {
	_, _, ok := ParseTolerant("  ")
	assert.False(t, ok)
	_, _, ok = ParseTolerant("not a date")
	assert.False(t, ok)
}

func TestParseHTTPDate(t *testing.T) {
	got, ok := ParseHTTPDate("Thu, 26 Mar 2020 17:16:03 GMT")
	require.True(t, ok)
	assert.Equal(t, time.Date(2020, 3, 26, 17, 16, 3, 0, time.UTC), got)

	// Same instant expressed with non-standard offsets must compare equal.
	plusOne, ok := ParseHTTPDate("Thu, 26 Mar 2020 18:16:03 GMT+1")
	require.True(t, ok)
	assert.True(t, got.Equal(plusOne))

	plusFour, ok := ParseHTTPDate("Thu, 26 Mar 2020 21:16:03 GMT+4")
	require.True(t, ok)
	assert.True(t, got.Equal(plusFour))

	_, ok = ParseHTTPDate("whenever")
	assert.False(t, ok)
}
