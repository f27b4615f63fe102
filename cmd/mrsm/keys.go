package main

import (
	"context"
	"time"

	"mrsm/internal/action"
	"mrsm/internal/engine"
	"mrsm/internal/pipe"
	"mrsm/internal/scheduler"
)

// keys builds an action.Keys filter from the global -c/-m/-l/-i/-t flags.
func (g *globalFlags) keys() action.Keys {
	return action.Keys{
		Connectors: g.connectors,
		Metrics:    g.metrics,
		Locations:  g.locations,
		Instances:  g.instances,
		Tags:       g.tags,
	}
}

// window parses --begin/--end (relative or absolute, scheduler's
// cron-and-relative-time grammar) into a half-open time bound.
func (g *globalFlags) window() (begin, end *time.Time, err error) {
	now := time.Now()
	if g.begin != "" {
		t, parseErr := scheduler.ParseRelative(g.begin, now)
		if parseErr != nil {
			return nil, nil, newUsageError("parse --begin %q: %w", g.begin, parseErr)
		}
		begin = &t
	}
	if g.end != "" {
		t, parseErr := scheduler.ParseRelative(g.end, now)
		if parseErr != nil {
			return nil, nil, newUsageError("parse --end %q: %w", g.end, parseErr)
		}
		end = &t
	}
	return begin, end, nil
}

// resolvePipes resolves the global key filter against eng, failing
// with a usage error when nothing matches (a noun command given keys
// that name nothing is a misuse, not a runtime failure).
func resolvePipes(ctx context.Context, eng *engine.Engine, g *globalFlags) ([]*pipe.Pipe, error) {
	if eng == nil {
		return nil, newUsageError("mrsm: no engine configured")
	}
	pipes, err := eng.ResolvePipes(ctx, g.keys())
	if err != nil {
		return nil, err
	}
	if len(pipes) == 0 {
		return nil, newUsageError("no pipes matched the given keys")
	}
	return pipes, nil
}
