package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCalendarWord(t *testing.T) {
	t.Parallel()
	s, err := Parse("hourly")
	require.NoError(t, err)

	ref := time.Date(2026, 7, 30, 10, 15, 0, 0, time.UTC)
	next := s.Next(ref)
	assert.Equal(t, time.Date(2026, 7, 30, 11, 0, 0, 0, time.UTC), next)
}

func TestParseEveryClause(t *testing.T) {
	t.Parallel()
	s, err := Parse("every 10 seconds")
	require.NoError(t, err)

	ref := time.Date(2026, 7, 30, 10, 15, 0, 0, time.UTC)
	next := s.Next(ref)
	assert.Equal(t, 10*time.Second, next.Sub(ref))
}

func TestParseOrJoinedClauses(t *testing.T) {
	t.Parallel()
	s, err := Parse("hourly | every 10 seconds")
	require.NoError(t, err)

	ref := time.Date(2026, 7, 30, 10, 15, 0, 0, time.UTC)
	next := s.Next(ref)
	// The "every 10 seconds" clause fires sooner than the top of the next hour.
	assert.Equal(t, ref.Add(10*time.Second), next)
}

func TestParseAndJoinedClauses(t *testing.T) {
	t.Parallel()
	// Fires only on the hour AND only on weekdays.
	s, err := Parse("hourly & mon-fri")
	require.NoError(t, err)

	// 2026-07-25 is a Saturday; the next weekday midnight-hour firing
	// should land on Monday 2026-07-27 at 00:00.
	ref := time.Date(2026, 7, 25, 10, 0, 0, 0, time.UTC)
	next := s.Next(ref)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 0, next.Hour())
}

func TestParseStartingClause(t *testing.T) {
	t.Parallel()
	s, err := Parse("hourly starting in 30 seconds")
	require.NoError(t, err)
	require.NotNil(t, s.Starting)
}

func TestParseRejectsEmptyExpression(t *testing.T) {
	t.Parallel()
	_, err := Parse("   ")
	assert.Error(t, err)
}

func TestNextNReturnsRequestedCount(t *testing.T) {
	t.Parallel()
	s, err := Parse("daily")
	require.NoError(t, err)

	times := s.NextN(time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC), 3)
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		assert.True(t, times[i].After(times[i-1]))
	}
}
