// Package main is the mrsm command line entry point: a verb-noun
// dispatcher (`sync pipes`, `show pipes`, `start job`, ...) over the
// engine package, in the teacher's cmd/smf/main.go idiom (cobra,
// one flags struct per command, RunE closures) generalized from
// diff/migrate/apply to the pipe/job vocabulary of spec section 6.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mrsm/internal/config"
	"mrsm/internal/engine"
	"mrsm/internal/merr"
)

// globalFlags are the key-filter and formatting flags shared by every
// noun command, spec section 6: "-c, -m, -l, -i, -t (tags)... --begin,
// --end... --nopretty... --yes/--force".
type globalFlags struct {
	connectors []string
	metrics    []string
	locations  []string
	instances  []string
	tags       []string

	begin string
	end   string

	nopretty bool
	yes      bool
}

func main() {
	os.Exit(run())
}

// run builds the command tree and maps the result to spec section 6's
// exit codes: 0 success, 1 generic failure, 2 misuse/parse error, 130
// interrupted.
func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng, engErr := buildEngine()

	// "+" chains multiple verb-noun invocations sequentially in this
	// one process, spec section 6. A trailing ":" segment carries
	// pipeline-level flags (-s/--loop/--timeout/-d); the scheduler
	// package already owns looping/timeout semantics for registered
	// jobs, so an ad hoc chain's pipeline segment is accepted but only
	// "-s" is honored here; --timeout, --loop and -d are ignored (--loop
	// belongs to "start job --schedule", not a one-shot chain).
	links, pipeline := splitChain(os.Args[1:])

	for _, link := range links {
		err := runOne(ctx, eng, engErr, link)
		if err != nil {
			return exitCode(ctx, err)
		}
		if pipeline.sleep > 0 {
			time.Sleep(pipeline.sleep)
		}
	}
	return exitCode(ctx, nil)
}

// pipelineFlags are the flags a trailing ":" segment applies to the
// whole chain, spec section 6.
type pipelineFlags struct {
	sleep time.Duration
}

// splitChain splits args on a bare "+" token into independent command
// lines, and peels off a trailing ":"-prefixed segment as pipeline-
// level flags.
func splitChain(args []string) (links [][]string, pipeline pipelineFlags) {
	for i, a := range args {
		if a == ":" {
			pipeline = parsePipelineFlags(args[i+1:])
			args = args[:i]
			break
		}
	}

	var cur []string
	for _, a := range args {
		if a == "+" {
			links = append(links, cur)
			cur = nil
			continue
		}
		cur = append(cur, a)
	}
	links = append(links, cur)
	return links, pipeline
}

// parsePipelineFlags reads "-s DURATION" (sleep between chained links)
// out of a pipeline segment; unrecognized flags are ignored rather
// than rejected, since the full pipeline grammar (--loop/--timeout/-d)
// is a job-scheduling concern owned by internal/scheduler, not this
// one-shot chain runner.
func parsePipelineFlags(args []string) pipelineFlags {
	var out pipelineFlags
	for i := 0; i < len(args); i++ {
		if args[i] == "-s" && i+1 < len(args) {
			if d, err := time.ParseDuration(args[i+1]); err == nil {
				out.sleep = d
			}
			i++
		}
	}
	return out
}

func runOne(ctx context.Context, eng *engine.Engine, engErr error, args []string) error {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "mrsm",
		Short:         "Incremental time-series pipe sync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringSliceVarP(&flags.connectors, "connector", "c", nil, "Connector key glob(s), leading _ negates")
	rootCmd.PersistentFlags().StringSliceVarP(&flags.metrics, "metric", "m", nil, "Metric key glob(s), leading _ negates")
	rootCmd.PersistentFlags().StringSliceVarP(&flags.locations, "location", "l", nil, "Location key glob(s), leading _ negates")
	rootCmd.PersistentFlags().StringSliceVarP(&flags.instances, "instance", "i", nil, "Instance key glob(s), leading _ negates")
	rootCmd.PersistentFlags().StringSliceVarP(&flags.tags, "tag", "t", nil, "Tag glob(s), leading _ negates")
	rootCmd.PersistentFlags().StringVar(&flags.begin, "begin", "", "Begin time (relative or absolute, see schedule grammar)")
	rootCmd.PersistentFlags().StringVar(&flags.end, "end", "", "End time (relative or absolute)")
	rootCmd.PersistentFlags().BoolVar(&flags.nopretty, "nopretty", false, "Emit newline-delimited JSON success tuples instead of human text")
	rootCmd.PersistentFlags().BoolVar(&flags.yes, "yes", false, "Skip confirmation prompts")
	rootCmd.PersistentFlags().BoolVar(&flags.yes, "force", false, "Alias for --yes")

	rootCmd.AddCommand(syncCmd(eng, flags))
	rootCmd.AddCommand(verifyCmd(eng, flags))
	rootCmd.AddCommand(deduplicateCmd(eng, flags))
	rootCmd.AddCommand(registerCmd(eng, flags))
	rootCmd.AddCommand(showCmd(eng, flags))
	rootCmd.AddCommand(dropCmd(eng, flags))
	rootCmd.AddCommand(clearCmd(eng, flags))
	rootCmd.AddCommand(deleteCmd(eng, flags))
	rootCmd.AddCommand(startCmd(eng))
	rootCmd.AddCommand(stopCmd(eng))
	rootCmd.AddCommand(pauseCmd(eng))
	rootCmd.AddCommand(resumeCmd(eng))

	rootCmd.SetContext(ctx)
	rootCmd.SetArgs(args)

	if engErr != nil {
		// Defer surfacing until a command that actually needs the engine
		// runs; "mrsm --help" and friends should still work without a
		// usable config.
		rootCmd.PersistentPreRunE = func(*cobra.Command, []string) error { return engErr }
	}

	return rootCmd.Execute()
}

func buildEngine() (*engine.Engine, error) {
	cfg, err := config.Load(config.RootDir())
	if err != nil {
		return nil, fmt.Errorf("mrsm: load config: %w", err)
	}
	return engine.New(cfg), nil
}

func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, merr.ErrCancelled) || errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "mrsm: interrupted")
		return 130
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintln(os.Stderr, "mrsm:", err)
		return 2
	}
	fmt.Fprintln(os.Stderr, "mrsm:", err)
	return 1
}

// usageError marks a misuse/parse error (exit code 2), as distinct
// from a generic runtime failure (exit code 1).
type usageError struct{ err error }

func (u *usageError) Error() string { return u.err.Error() }
func (u *usageError) Unwrap() error { return u.err }

func newUsageError(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// verbCmd wraps noun as the sole child of a new "<verb> <noun>"
// parent command, per spec section 6's "<verb> <noun> [keys] [flags]".
func verbCmd(verb, short string, noun *cobra.Command) *cobra.Command {
	parent := &cobra.Command{Use: verb, Short: short}
	parent.AddCommand(noun)
	return parent
}
