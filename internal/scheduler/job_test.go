package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobDefaultsAndValidation(t *testing.T) {
	t.Parallel()
	j, err := NewJob("weather sync", []string{"mrsm", "sync", "pipes", "-c", "plugin:weather"}, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, RestartNever, j.Restart)
	assert.Equal(t, ExecutorLocal, j.Executor)
	assert.Equal(t, StateCreated, j.State())
	assert.False(t, j.IsRemote())
}

func TestNewJobRejectsEmptyNameOrCommand(t *testing.T) {
	t.Parallel()
	_, err := NewJob("", []string{"mrsm"}, "", "", "")
	assert.Error(t, err)

	_, err = NewJob("name", nil, "", "", "")
	assert.Error(t, err)
}

func TestNewJobParsesSchedule(t *testing.T) {
	t.Parallel()
	j, err := NewJob("name", []string{"mrsm", "sync"}, "hourly", RestartAlways, ExecutorLocal)
	require.NoError(t, err)
	require.NotNil(t, j.schedule)
}

func TestNewJobRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()
	_, err := NewJob("name", []string{"mrsm", "sync"}, "whenever the mood strikes", "", "")
	assert.Error(t, err)
}

func TestJobIsRemote(t *testing.T) {
	t.Parallel()
	j, err := NewJob("name", []string{"mrsm", "sync"}, "", "", Executor("api:prod"))
	require.NoError(t, err)
	assert.True(t, j.IsRemote())
}

func TestJobStateTransitions(t *testing.T) {
	t.Parallel()
	j, err := NewJob("name", []string{"mrsm", "sync"}, "", "", "")
	require.NoError(t, err)

	require.NoError(t, j.transition(StateRunning))
	require.NoError(t, j.transition(StatePaused))
	require.NoError(t, j.transition(StateRunning))
	require.NoError(t, j.transition(StateStopped))
	require.NoError(t, j.transition(StateDeleted))
	assert.Error(t, j.transition(StateRunning), "a deleted job cannot be revived")
}
