package scheduler

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// gracePeriod is how long Stop waits after a graceful signal before
// escalating to a forceful kill.
const gracePeriod = 5 * time.Second

// runLocal runs command as a child process group, streaming combined
// output line-by-line into logger, and returns once the process exits
// or ctx is cancelled (in which case it stops the process group first).
// Grounded on steveyegge-beads' daemon_unix.go/daemon_windows.go
// process-group + graceful-then-forceful stop pattern.
func runLocal(ctx context.Context, command []string, logger *logrus.Logger) error {
	if len(command) == 0 {
		return fmt.Errorf("scheduler: empty command")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
	configureProcessGroup(cmd)
	cmd.Stdout = logger.Writer()
	cmd.Stderr = logger.Writer()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("scheduler: start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		stopProcess(cmd, done)
		return ctx.Err()
	}
}

// stopProcess sends a graceful signal to cmd's process group, then
// escalates to a forceful kill if it has not exited within
// gracePeriod, per spec section 4.7: "stop sends graceful-then-forceful
// termination, including killing orphaned children of pipelined
// commands." done is the single channel the owning cmd.Wait()
// goroutine reports on; this never calls Wait a second time itself, to
// avoid racing the reaper.
func stopProcess(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = terminateGracefully(cmd.Process)

	timer := time.NewTimer(gracePeriod)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		_ = terminateForcefully(cmd.Process)
		<-done
	}
}
