package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRelativeAgo(t *testing.T) {
	t.Parallel()
	ref := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	got, err := ParseRelative("3 days ago", ref)
	require.NoError(t, err)
	assert.Equal(t, ref.AddDate(0, 0, -3), got)
}

func TestParseRelativeAgoWithRounding(t *testing.T) {
	t.Parallel()
	ref := time.Date(2026, 7, 30, 12, 34, 56, 0, time.UTC)

	got, err := ParseRelative("1 month ago rounded 1 day", ref)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Hour())
	assert.Equal(t, 0, got.Minute())
}

func TestParseRelativeIn(t *testing.T) {
	t.Parallel()
	ref := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	got, err := ParseRelative("in 30 seconds", ref)
	require.NoError(t, err)
	assert.Equal(t, ref.Add(30*time.Second), got)
}

func TestParseRelativeNow(t *testing.T) {
	t.Parallel()
	ref := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	got, err := ParseRelative("now", ref)
	require.NoError(t, err)
	assert.Equal(t, ref, got)
}

func TestParseRelativeRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, err := ParseRelative("whenever", time.Now())
	assert.Error(t, err)
}
