package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mrsm/internal/action"
	"mrsm/internal/config"
	"mrsm/internal/engine"
	"mrsm/internal/instance"
	"mrsm/internal/pipe"
	"mrsm/internal/pipe/attrparse"
	syncpkg "mrsm/internal/sync"
	"mrsm/internal/verify"
)

// syncCmd implements "sync pipes", spec section 4.4's sync() entry
// point over every pipe matched by the global keys.
func syncCmd(eng *engine.Engine, g *globalFlags) *cobra.Command {
	var workers int
	var skipCheckExisting bool

	cmd := &cobra.Command{
		Use:   "pipes",
		Short: "Sync matched pipes",
		RunE: func(cc *cobra.Command, args []string) error {
			ctx := cc.Context()
			pipes, err := resolvePipes(ctx, eng, g)
			if err != nil {
				return err
			}
			begin, end, err := g.window()
			if err != nil {
				return err
			}

			var failed error
			for _, p := range pipes {
				syncer, err := eng.Syncer(p)
				if err != nil {
					return err
				}
				opts := syncpkg.Options{Begin: begin, End: end, Workers: workers, SkipCheckExisting: skipCheckExisting}
				r, err := syncer.Sync(ctx, p, opts)
				if err != nil {
					r = action.Fail(err)
				}
				emit(g.nopretty, p.Keys.String(), r)
				if !r.OK && failed == nil {
					failed = fmt.Errorf("sync %s: %s", p.Keys, r.Message)
				}
			}
			return failed
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 4, "Concurrent chunk workers")
	cmd.Flags().BoolVar(&skipCheckExisting, "skip-check-existing", false, "Skip filtering fetched rows against existing rows")
	return verbCmd("sync", "Sync matched pipes", cmd)
}

// verifyCmd implements "verify pipes", spec section 4.6.
func verifyCmd(eng *engine.Engine, g *globalFlags) *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "pipes",
		Short: "Verify matched pipes against their connector",
		RunE: func(cc *cobra.Command, args []string) error {
			ctx := cc.Context()
			pipes, err := resolvePipes(ctx, eng, g)
			if err != nil {
				return err
			}
			begin, end, err := g.window()
			if err != nil {
				return err
			}

			var failed error
			for _, p := range pipes {
				verifier, err := eng.Verifier(p)
				if err != nil {
					return err
				}
				opts := verify.Options{Begin: begin, End: end, CheckRowcountsOnly: checkOnly}
				reports, err := verifier.Verify(ctx, p, opts)
				if err != nil {
					emit(g.nopretty, p.Keys.String(), action.Fail(err))
					if failed == nil {
						failed = err
					}
					continue
				}
				emit(g.nopretty, p.Keys.String(), action.Ok("verified %d chunks", len(reports)))
			}
			return failed
		},
	}
	cmd.Flags().BoolVar(&checkOnly, "check-only", false, "Report mismatches without resyncing")
	return verbCmd("verify", "Verify matched pipes", cmd)
}

// deduplicateCmd implements "deduplicate pipes", spec section 4.6.
func deduplicateCmd(eng *engine.Engine, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipes",
		Short: "Deduplicate matched pipes",
		RunE: func(cc *cobra.Command, args []string) error {
			ctx := cc.Context()
			pipes, err := resolvePipes(ctx, eng, g)
			if err != nil {
				return err
			}
			begin, end, err := g.window()
			if err != nil {
				return err
			}

			var failed error
			for _, p := range pipes {
				verifier, err := eng.Verifier(p)
				if err != nil {
					return err
				}
				r, err := verifier.Deduplicate(ctx, p, verify.Options{Begin: begin, End: end})
				if err != nil {
					r = action.Fail(err)
				}
				emit(g.nopretty, p.Keys.String(), r)
				if !r.OK && failed == nil {
					failed = fmt.Errorf("deduplicate %s: %s", p.Keys, r.Message)
				}
			}
			return failed
		},
	}
	return verbCmd("deduplicate", "Deduplicate matched pipes", cmd)
}

// registerCmd implements "register pipes", reading one pipe's
// attributes from a TOML file (internal/pipe/attrparse) per spec
// section 6's "--from-file".
func registerCmd(eng *engine.Engine, g *globalFlags) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "pipes",
		Short: "Register a new pipe from a definition file",
		RunE: func(cc *cobra.Command, args []string) error {
			if fromFile == "" {
				return newUsageError("register pipes requires --from-file")
			}
			p, err := attrparse.ParseFile(fromFile)
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}
			if err := p.Validate(); err != nil {
				return newUsageError("register: %w", err)
			}

			inst, err := eng.Instance(p.Keys.Instance)
			if err != nil {
				return err
			}
			r, err := inst.RegisterPipe(cc.Context(), p)
			if err != nil {
				r = action.Fail(err)
			}
			emit(g.nopretty, p.Keys.String(), r)
			if !r.OK {
				return fmt.Errorf("register %s: %s", p.Keys, r.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fromFile, "from-file", "", "Path to a pipe definition (TOML)")
	return verbCmd("register", "Register a new pipe", cmd)
}

// showCmd implements "show pipes" (and "show schedule"/"show logs",
// wired in from jobs.go).
func showCmd(eng *engine.Engine, g *globalFlags) *cobra.Command {
	root := &cobra.Command{Use: "show", Short: "Inspect pipes, the schedule, or job logs"}

	pipesCmd := &cobra.Command{
		Use:   "pipes",
		Short: "List matched pipes",
		RunE: func(cc *cobra.Command, args []string) error {
			pipes, err := resolvePipes(cc.Context(), eng, g)
			if err != nil {
				return err
			}
			for _, p := range pipes {
				emit(g.nopretty, p.Keys.String(), action.Ok("target=%s columns=%d", p.DefaultTarget(), len(p.Columns)))
			}
			return nil
		},
	}
	root.AddCommand(pipesCmd, scheduleCmd(eng, g), logsCmd(eng, g))
	return root
}

// pipeAction applies fn to each resolved pipe on its own bound
// instance, reducing to the first failure.
func pipeAction(cc *cobra.Command, eng *engine.Engine, g *globalFlags, fn func(ctx context.Context, inst instance.Instance, p *pipe.Pipe) (action.Result, error)) error {
	ctx := cc.Context()
	pipes, err := resolvePipes(ctx, eng, g)
	if err != nil {
		return err
	}

	var failed error
	for _, p := range pipes {
		inst, err := eng.Instance(p.Keys.Instance)
		if err != nil {
			return err
		}
		r, err := fn(ctx, inst, p)
		if err != nil {
			r = action.Fail(err)
		}
		emit(g.nopretty, p.Keys.String(), r)
		if !r.OK && failed == nil {
			failed = fmt.Errorf("%s: %s", p.Keys, r.Message)
		}
	}
	return failed
}

// dropCmd implements "drop pipes" (drop indices, keep registration).
func dropCmd(eng *engine.Engine, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipes",
		Short: "Drop matched pipes' indices",
		RunE: func(cc *cobra.Command, args []string) error {
			return pipeAction(cc, eng, g, func(ctx context.Context, inst instance.Instance, p *pipe.Pipe) (action.Result, error) {
				return inst.DropIndices(ctx, p)
			})
		},
	}
	return verbCmd("drop", "Drop matched pipes' indices", cmd)
}

// clearCmd implements "clear pipes" (delete rows, keep registration).
func clearCmd(eng *engine.Engine, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipes",
		Short: "Clear matched pipes' rows",
		RunE: func(cc *cobra.Command, args []string) error {
			begin, end, err := g.window()
			if err != nil {
				return err
			}
			return pipeAction(cc, eng, g, func(ctx context.Context, inst instance.Instance, p *pipe.Pipe) (action.Result, error) {
				return inst.ClearPipe(ctx, p, begin, end, nil)
			})
		},
	}
	return verbCmd("clear", "Clear matched pipes' rows", cmd)
}

// deleteCmd implements "delete pipes" (drop the physical table and
// the registry entry).
func deleteCmd(eng *engine.Engine, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipes",
		Short: "Delete matched pipes entirely",
		RunE: func(cc *cobra.Command, args []string) error {
			if !g.yes && !config.NoAsk() {
				return newUsageError("delete pipes is destructive; pass --yes to confirm")
			}
			return pipeAction(cc, eng, g, func(ctx context.Context, inst instance.Instance, p *pipe.Pipe) (action.Result, error) {
				if _, err := inst.DropPipe(ctx, p); err != nil {
					return action.Result{}, err
				}
				return inst.DeletePipe(ctx, p)
			})
		},
	}
	return verbCmd("delete", "Delete matched pipes entirely", cmd)
}
