package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mrsm/internal/action"
	"mrsm/internal/engine"
	"mrsm/internal/scheduler"
)

// startCmd implements "start job <name> -- <command...>", spec
// section 4.7: register (if new) and start a scheduled or ad hoc job.
func startCmd(eng *engine.Engine) *cobra.Command {
	var scheduleExpr string
	var restart string
	var nopretty bool

	jobCmd := &cobra.Command{
		Use:   "job NAME -- COMMAND...",
		Short: "Create (if needed) and start a job",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			name, command := args[0], args[1:]
			if len(command) == 0 {
				return newUsageError("start job %s: no command given after --", name)
			}

			restartPolicy := scheduler.RestartNever
			if restart == "always" {
				restartPolicy = scheduler.RestartAlways
			}

			if _, err := eng.Supervisor.Get(name); err != nil {
				j, jerr := scheduler.NewJob(name, command, scheduleExpr, restartPolicy, scheduler.ExecutorLocal)
				if jerr != nil {
					return newUsageError("start job %s: %w", name, jerr)
				}
				if err := eng.Supervisor.AddJob(j); err != nil {
					return err
				}
			}

			if err := eng.Supervisor.Start(name); err != nil {
				return err
			}
			emit(nopretty, name, action.Ok("started"))
			return nil
		},
	}
	jobCmd.Flags().StringVar(&scheduleExpr, "schedule", "", "Cron-like or relative schedule expression")
	jobCmd.Flags().StringVar(&restart, "restart", "never", "never|always")
	jobCmd.Flags().BoolVar(&nopretty, "nopretty", false, "Emit NDJSON")
	return verbCmd("start", "Start a job", jobCmd)
}

func stopCmd(eng *engine.Engine) *cobra.Command {
	var nopretty bool
	jobCmd := &cobra.Command{
		Use:   "job NAME",
		Short: "Stop a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			if err := eng.Supervisor.Stop(args[0]); err != nil {
				return err
			}
			emit(nopretty, args[0], action.Ok("stopped"))
			return nil
		},
	}
	jobCmd.Flags().BoolVar(&nopretty, "nopretty", false, "Emit NDJSON")
	return verbCmd("stop", "Stop a job", jobCmd)
}

func pauseCmd(eng *engine.Engine) *cobra.Command {
	var nopretty bool
	jobCmd := &cobra.Command{
		Use:   "job NAME",
		Short: "Pause a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			if err := eng.Supervisor.Pause(args[0]); err != nil {
				return err
			}
			emit(nopretty, args[0], action.Ok("paused"))
			return nil
		},
	}
	jobCmd.Flags().BoolVar(&nopretty, "nopretty", false, "Emit NDJSON")
	return verbCmd("pause", "Pause a job", jobCmd)
}

func resumeCmd(eng *engine.Engine) *cobra.Command {
	var nopretty bool
	jobCmd := &cobra.Command{
		Use:   "job NAME",
		Short: "Resume a paused job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			if err := eng.Supervisor.Resume(args[0]); err != nil {
				return err
			}
			emit(nopretty, args[0], action.Ok("resumed"))
			return nil
		},
	}
	jobCmd.Flags().BoolVar(&nopretty, "nopretty", false, "Emit NDJSON")
	return verbCmd("resume", "Resume a job", jobCmd)
}

// scheduleCmd implements "show schedule": every registered job, its
// schedule expression, and its current state.
func scheduleCmd(eng *engine.Engine, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "List every registered job and its state",
		RunE: func(cc *cobra.Command, args []string) error {
			for _, j := range eng.Supervisor.Jobs() {
				sched := j.Schedule
				if sched == "" {
					sched = "(one-shot)"
				}
				emit(g.nopretty, j.Name, action.Ok("state=%s schedule=%s command=%s", j.State(), sched, strings.Join(j.Command, " ")))
			}
			return nil
		},
	}
}

// logsCmd implements "show logs NAME": tail the job's rotating log
// file, spec section 4.7's rotating-logs design.
func logsCmd(eng *engine.Engine, g *globalFlags) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs NAME",
		Short: "Show a job's recent log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			path := eng.Supervisor.LogPath(args[0])
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("show logs %s: %w", args[0], err)
			}
			all := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
			start := max(0, len(all)-lines)
			for _, line := range all[start:] {
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 100, "Number of trailing lines to show")
	return cmd
}
