package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mrsm/internal/logging"
)

var log = logging.For(logging.Scheduler)

// managedJob pairs a Job with the running goroutine's controls.
// Grounded on nakulbhandare-field_fuze_backend's Worker: a
// sync.RWMutex-guarded struct holding a cancelable context, a pause
// signal, and a sync.Once so Stop is idempotent.
type managedJob struct {
	job *Job

	mu        sync.Mutex
	cancel    context.CancelFunc
	pausedCh  chan bool // true=pause, false=resume
	stopOnce  sync.Once
	done      chan struct{}
	logger    *logrus.Logger
	logCloser io.Closer
}

// Supervisor runs and tracks every job registered with it. Executor
// "local" is fully implemented; "systemd" has no separate
// implementation, so such a job runs as a local child process exactly
// like "local"; "api:<keys>" is a stubbed transport per spec
// section 4.7's remote-execution paragraph, documented in remote.go.
type Supervisor struct {
	mu     sync.RWMutex
	jobs   map[string]*managedJob
	logDir string
	Remote RemoteExecutor
}

// NewSupervisor builds a Supervisor whose job logs rotate under logDir.
func NewSupervisor(logDir string) *Supervisor {
	return &Supervisor{jobs: map[string]*managedJob{}, logDir: logDir, Remote: DefaultRemoteExecutor}
}

// AddJob registers j in StateCreated without starting it.
func (s *Supervisor) AddJob(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.Name]; exists {
		return fmt.Errorf("scheduler: job %q already exists", j.Name)
	}
	s.jobs[j.Name] = &managedJob{job: j}
	return nil
}

// Jobs returns every registered job, for "show schedule"/"show jobs".
func (s *Supervisor) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, mj := range s.jobs {
		out = append(out, mj.job)
	}
	return out
}

func (s *Supervisor) get(name string) (*managedJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mj, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("scheduler: no such job %q", name)
	}
	return mj, nil
}

// Get returns the registered job named name, for callers (the CLI's
// "start job" command) that need to tell "already registered" apart
// from "brand new" before deciding whether to call AddJob.
func (s *Supervisor) Get(name string) (*Job, error) {
	mj, err := s.get(name)
	if err != nil {
		return nil, err
	}
	return mj.job, nil
}

// LogPath returns the rotating log file a job's JobLogger writes to,
// for "show logs" to read without the Supervisor holding a reader
// open itself.
func (s *Supervisor) LogPath(name string) string {
	return s.logDir + "/" + name + ".log"
}

// Start transitions a job to running and launches its supervising
// goroutine. A job with a schedule waits for each firing, per
// Schedule.Next; a job with no schedule runs its command once (and
// again immediately, if Restart is "always").
func (s *Supervisor) Start(name string) error {
	mj, err := s.get(name)
	if err != nil {
		return err
	}
	mj.mu.Lock()
	defer mj.mu.Unlock()

	if err := mj.job.transition(StateRunning); err != nil {
		return err
	}

	logger, closer := logging.JobLogger(s.logDir, mj.job.Name)
	ctx, cancel := context.WithCancel(context.Background())
	mj.cancel = cancel
	mj.pausedCh = make(chan bool, 1)
	mj.stopOnce = sync.Once{}
	mj.done = make(chan struct{})
	mj.logger = logger
	mj.logCloser = closer

	go s.runLoop(ctx, mj)
	return nil
}

// runOnce dispatches one run of a job's command to its configured
// executor: local runs it as a supervised child process group,
// api:<keys> hands it to the Supervisor's RemoteExecutor and copies
// the streamed output into the job's log.
func (s *Supervisor) runOnce(ctx context.Context, mj *managedJob) error {
	if !mj.job.IsRemote() {
		return runLocal(ctx, mj.job.Command, mj.logger)
	}

	apiKeys := string(mj.job.Executor[len(ExecutorAPIPrefix):])
	lines, err := s.Remote.Dispatch(ctx, apiKeys, mj.job.Command)
	if err != nil {
		return err
	}
	for line := range lines {
		mj.logger.Info(line)
	}
	return nil
}

func (s *Supervisor) runLoop(ctx context.Context, mj *managedJob) {
	defer close(mj.done)
	defer func() {
		if mj.logCloser != nil {
			_ = mj.logCloser.Close()
		}
	}()

	paused := false
	for {
		// Drain any pause/resume signal queued while the previous run
		// or wait was in flight before deciding what to do next.
		select {
		case p := <-mj.pausedCh:
			paused = p
		default:
		}

		if paused {
			select {
			case <-ctx.Done():
				return
			case p := <-mj.pausedCh:
				paused = p
			}
			continue
		}

		if mj.job.schedule != nil {
			wait := time.Until(mj.job.schedule.Next(time.Now()))
			if wait < 0 {
				wait = 0
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case p := <-mj.pausedCh:
				timer.Stop()
				paused = p
				continue
			case <-timer.C:
			}
		}

		if err := s.runOnce(ctx, mj); err != nil {
			mj.logger.WithError(err).WithField("job", mj.job.Name).Error("job run failed")
			log.WithError(err).WithField("job", mj.job.Name).Warn("job run failed")
		}

		if mj.job.schedule == nil {
			if mj.job.Restart != RestartAlways {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Pause signals a running job's supervising goroutine to stop issuing
// new runs without tearing down the goroutine itself, so Resume is
// immediate.
func (s *Supervisor) Pause(name string) error {
	mj, err := s.get(name)
	if err != nil {
		return err
	}
	mj.mu.Lock()
	defer mj.mu.Unlock()
	if err := mj.job.transition(StatePaused); err != nil {
		return err
	}
	mj.pausedCh <- true
	return nil
}

// Resume signals a paused job's goroutine to resume scheduling.
func (s *Supervisor) Resume(name string) error {
	mj, err := s.get(name)
	if err != nil {
		return err
	}
	mj.mu.Lock()
	defer mj.mu.Unlock()
	if err := mj.job.transition(StateRunning); err != nil {
		return err
	}
	mj.pausedCh <- false
	return nil
}

// Stop cancels a job's supervising goroutine, which in turn sends
// graceful-then-forceful termination to any in-flight command (see
// stopProcess), and waits for it to exit.
func (s *Supervisor) Stop(name string) error {
	mj, err := s.get(name)
	if err != nil {
		return err
	}
	mj.mu.Lock()
	if err := mj.job.transition(StateStopped); err != nil {
		mj.mu.Unlock()
		return err
	}
	cancel := mj.cancel
	done := mj.done
	mj.mu.Unlock()

	mj.stopOnce.Do(func() {
		if cancel != nil {
			cancel()
		}
	})
	if done != nil {
		<-done
	}
	return nil
}

// Delete stops a job if running and removes it from the registry.
func (s *Supervisor) Delete(name string) error {
	mj, err := s.get(name)
	if err != nil {
		return err
	}
	if mj.job.State() == StateRunning || mj.job.State() == StatePaused {
		if err := s.Stop(name); err != nil {
			return err
		}
	}
	mj.mu.Lock()
	_ = mj.job.transition(StateDeleted)
	mj.mu.Unlock()

	s.mu.Lock()
	delete(s.jobs, name)
	s.mu.Unlock()
	return nil
}
