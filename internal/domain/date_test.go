package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-15")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-15", d.String())

	_, err = ParseDate("15/02/2024")
	assert.Error(t, err)

	_, err = ParseDate("")
	assert.Error(t, err)
}

func TestDateAddDays(t *testing.T) {
	d := MustDate("2024-02-15")
	assert.Equal(t, "2024-03-16", d.AddDays(30).String())
	assert.Equal(t, "2024-01-16", d.AddDays(-30).String())
	// Leap year.
	assert.Equal(t, "2024-02-29", MustDate("2024-02-28").AddDays(1).String())
}

func TestDateCompare(t *testing.T) {
	a := MustDate("2024-01-15")
	b := MustDate("2024-02-15")
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(MustDate("2024-01-15")))
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
}

func TestDateJSONRoundTrip(t *testing.T) {
	d := MustDate("2024-02-15")
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2024-02-15"`, string(data))

	var back Date
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, d.Equal(back))
}

func TestDateWeekday(t *testing.T) {
	assert.Equal(t, time.Saturday, MustDate("2024-01-13").Weekday())
}
