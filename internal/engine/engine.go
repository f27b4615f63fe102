// Package engine wires the configuration layer (internal/config) to
// live backend connections (internal/instance, internal/connector) and
// the pipeline packages (internal/sync, internal/verify,
// internal/scheduler), the glue cmd/mrsm drives. It exists as its own
// package, separate from internal/action, because internal/instance
// already imports internal/action for the Result/Keys types in its
// interface: an action package that also opened instances would create
// an import cycle.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mrsm/internal/action"
	"mrsm/internal/config"
	"mrsm/internal/connector"
	"mrsm/internal/instance"
	"mrsm/internal/merr"
	"mrsm/internal/pipe"
	"mrsm/internal/scheduler"
	syncpkg "mrsm/internal/sync"
	"mrsm/internal/verify"
)

// Engine holds one process's live backend connections, opened lazily
// and cached by instance label.
type Engine struct {
	Cfg *config.Config

	mu        sync.Mutex
	instances map[string]instance.Instance

	Supervisor *scheduler.Supervisor
}

// New builds an Engine over cfg. The supervisor's job logs are written
// under config.RootDir()/jobs (MRSM_ROOT_DIR or its default, not a
// field of cfg), per spec section 4.7.
func New(cfg *config.Config) *Engine {
	return &Engine{
		Cfg:        cfg,
		instances:  make(map[string]instance.Instance),
		Supervisor: scheduler.NewSupervisor(config.RootDir() + "/jobs"),
	}
}

// Instance resolves label (an "instances.<label>" config entry) to a
// live, cached instance.Instance.
func (e *Engine) Instance(label string) (instance.Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if inst, ok := e.instances[label]; ok {
		return inst, nil
	}

	flavor := e.Cfg.InstanceFlavor(label)
	if flavor == "" {
		return nil, fmt.Errorf("engine: instance %q has no configured flavor: %w", label, merr.ErrConfiguration)
	}
	dsn := e.Cfg.InstanceDSN(label)
	inst, err := instance.Open(instance.Flavor(flavor), dsn)
	if err != nil {
		return nil, fmt.Errorf("engine: open instance %q: %w", label, err)
	}
	e.instances[label] = inst
	return inst, nil
}

// ResolvePipes returns every registered pipe across every configured
// instance that matches filter, fully hydrated (columns/dtypes/target/
// parameters), per spec section 6's "-c/-m/-l/-i/-t" key resolution.
func (e *Engine) ResolvePipes(ctx context.Context, filter action.Keys) ([]*pipe.Pipe, error) {
	var out []*pipe.Pipe
	for _, label := range e.Cfg.InstanceLabels() {
		if !filter.MatchInstance(label) {
			continue
		}
		inst, err := e.Instance(label)
		if err != nil {
			return nil, err
		}
		keys, err := inst.FetchPipesKeys(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("engine: fetch pipes keys on instance %q: %w", label, err)
		}
		for _, k := range keys {
			p, err := inst.FetchPipe(ctx, k)
			if err != nil {
				return nil, fmt.Errorf("engine: hydrate pipe %s: %w", k, err)
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// Syncer builds a Syncer for p: its target is p's bound instance; its
// fetch function is nil when the connector and instance coincide (the
// in-place fast path, spec section 4.5 — Syncer.Sync handles this
// itself), otherwise a connector.InstanceConnector wrapping whichever
// other configured instance p's connector key names, per spec section
// 4.1's "custom connector" case.
func (e *Engine) Syncer(p *pipe.Pipe) (*syncpkg.Syncer, error) {
	target, err := e.Instance(p.Keys.Instance)
	if err != nil {
		return nil, err
	}

	if p.Keys.Connector == p.Keys.Instance {
		return syncpkg.New(target, nil), nil
	}

	source, err := e.Instance(p.Keys.Connector)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve connector %q for %s: %w", p.Keys.Connector, p.Keys, err)
	}
	conn := connector.InstanceConnector{Source: source}
	return syncpkg.New(target, connector.AsFetchFunc(conn)), nil
}

// Verifier builds a Verifier for p, sourcing remote rowcounts from
// whichever other configured instance p's connector key names.
// Connector plugins are out of scope (spec.md Non-goals), so the
// "remote" side of a verify run is always another configured instance
// here, never a plugin-supplied get_rowcount.
func (e *Engine) Verifier(p *pipe.Pipe) (*verify.Verifier, error) {
	target, err := e.Instance(p.Keys.Instance)
	if err != nil {
		return nil, err
	}
	syncer, err := e.Syncer(p)
	if err != nil {
		return nil, err
	}

	if p.Keys.Connector == p.Keys.Instance {
		return verify.New(target, syncer, nil), nil
	}

	source, err := e.Instance(p.Keys.Connector)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve connector %q for %s: %w", p.Keys.Connector, p.Keys, err)
	}
	remote := func(ctx context.Context, p *pipe.Pipe, begin, end *time.Time, params map[string]any) (int64, error) {
		return source.GetRowcount(ctx, p, begin, end, params, false)
	}
	return verify.New(target, syncer, remote), nil
}
