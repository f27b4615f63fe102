// Package connector implements the non-instance half of spec section
// 4.1's "Resolve source": when a pipe's connector differs from its
// instance, the source is either a plugin-supplied fetch() (out of
// scope: "the plugin loader and virtual-environment manager... plugins
// are just suppliers of fetch()/sync()/connector classes", spec.md
// Non-goals) or one of the core's own built-in connector classes (an
// instance acting as a data source for another instance). Only the
// latter is implemented here, behind the same capability-table
// dispatch the teacher uses for dialects and this module already uses
// for instance.Register/Open.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mrsm/internal/dataframe"
	"mrsm/internal/instance"
	"mrsm/internal/pipe"
)

// Capabilities is the capability set spec section 9's "Plugin
// dispatch" says every registered connector exports: "supports_in_place,
// is_thread_safe, is_instance". The core dispatches on these without
// inspecting a connector's internals.
type Capabilities struct {
	SupportsInPlace bool
	IsThreadSafe    bool
	IsInstance      bool
}

// Connector is a source of rows for a pipe, per spec section 4.4 step
// 1: "a plugin-supplied fetch() or a custom connector's fetch()."
type Connector interface {
	Fetch(ctx context.Context, p *pipe.Pipe, begin *time.Time, params map[string]any) (dataframe.Source, error)
	Capabilities() Capabilities
}

// Type tags a registered connector class, analogous to instance.Flavor.
type Type string

// Constructor builds a live Connector from a DSN/connection string.
type Constructor func(dsn string) (Connector, error)

var (
	mu       sync.RWMutex
	registry = map[Type]Constructor{}
)

// Register adds a constructor for typ to the registry, called from a
// connector package's init(), mirroring instance.Register.
func Register(typ Type, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	registry[typ] = ctor
}

// Open resolves typ to its registered constructor and dials dsn.
func Open(typ Type, dsn string) (Connector, error) {
	mu.RLock()
	ctor, ok := registry[typ]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connector: type %q is not registered", typ)
	}
	return ctor(dsn)
}

// Registered reports whether typ has a registered constructor.
func Registered(typ Type) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := registry[typ]
	return ok
}

// InstanceConnector adapts any instance.Instance into a Connector, for
// a pipe whose connector is itself another pipe's instance (spec
// section 4.1's "another connector"). Capability flags mirror what the
// wrapped instance natively supports.
type InstanceConnector struct {
	Source instance.Instance
}

// Fetch reads rows from the wrapped instance via GetData, matching
// FetchFunc's contract: a chunked dataframe.Source starting at begin.
func (c InstanceConnector) Fetch(ctx context.Context, p *pipe.Pipe, begin *time.Time, params map[string]any) (dataframe.Source, error) {
	return c.Source.GetData(ctx, p, instance.GetDataOptions{Begin: begin, Params: params, AsIterator: true})
}

// Capabilities reports is_instance unconditionally true, with
// supports_in_place mirroring whether the wrapped instance implements
// instance.InPlaceSyncer. is_thread_safe is true: every instance.Instance
// method here takes a context and is expected to be safe for concurrent
// chunk workers, the same assumption internal/sync's worker pool makes.
func (c InstanceConnector) Capabilities() Capabilities {
	_, inplace := instance.SupportsInplace(c.Source)
	return Capabilities{SupportsInPlace: inplace, IsThreadSafe: true, IsInstance: true}
}

// resetRegistry exists for tests exercising
// Register/Open without leaking state across test cases.
func resetRegistry(r map[Type]Constructor) map[Type]Constructor {
	mu.Lock()
	defer mu.Unlock()
	prev := registry
	registry = r
	return prev
}
