package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorRunsOneShotJobToCompletion(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(t.TempDir())

	j, err := NewJob("echo-once", []string{"echo", "ok"}, "", RestartNever, ExecutorLocal)
	require.NoError(t, err)
	require.NoError(t, s.AddJob(j))
	require.NoError(t, s.Start("echo-once"))

	// The command finishes almost immediately; Stop should return
	// quickly either way since it waits on the same done channel the
	// run loop closes on exit.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Stop("echo-once"))
}

func TestSupervisorPauseResumeStop(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(t.TempDir())

	j, err := NewJob("scheduled", []string{"echo", "tick"}, "every 5 seconds", RestartNever, ExecutorLocal)
	require.NoError(t, err)
	require.NoError(t, s.AddJob(j))
	require.NoError(t, s.Start("scheduled"))
	assert.Equal(t, StateRunning, j.State())

	require.NoError(t, s.Pause("scheduled"))
	assert.Equal(t, StatePaused, j.State())

	require.NoError(t, s.Resume("scheduled"))
	assert.Equal(t, StateRunning, j.State())

	require.NoError(t, s.Stop("scheduled"))
	assert.Equal(t, StateStopped, j.State())
}

func TestSupervisorDeleteRemovesJob(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(t.TempDir())

	j, err := NewJob("throwaway", []string{"echo", "bye"}, "", RestartNever, ExecutorLocal)
	require.NoError(t, err)
	require.NoError(t, s.AddJob(j))
	require.NoError(t, s.Delete("throwaway"))

	_, err = s.get("throwaway")
	assert.Error(t, err)
}

func TestSupervisorRejectsDuplicateJobName(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(t.TempDir())

	j, err := NewJob("dup", []string{"echo", "1"}, "", RestartNever, ExecutorLocal)
	require.NoError(t, err)
	require.NoError(t, s.AddJob(j))

	j2, err := NewJob("dup", []string{"echo", "2"}, "", RestartNever, ExecutorLocal)
	require.NoError(t, err)
	assert.Error(t, s.AddJob(j2))
}
