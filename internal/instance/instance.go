// Package instance defines the backend contract (spec section 4.2): the
// set of operations any storage backend must expose to hold pipes, plus
// a mutex-guarded constructor registry so a pipe's instance key
// ("sql:main", "kv:cache", ...) resolves to a live connection on demand.
//
// The registry shape is lifted directly from the teacher's
// dialect.RegisterDialect/GetDialect and introspect.Register/
// NewIntrospecter: both are a map[Type]func() X guarded by a
// sync.RWMutex, keyed by a string type tag. Here the map is keyed by
// the instance's flavor label and the constructor takes a DSN.
package instance

import (
	"context"
	"time"

	"mrsm/internal/action"
	"mrsm/internal/dataframe"
	"mrsm/internal/dtype"
	"mrsm/internal/pipe"
)

// GetDataOptions mirrors the get_data parameters of spec section 4.2.
type GetDataOptions struct {
	Select        []string
	Omit          []string
	Begin         *time.Time
	End           *time.Time
	Params        map[string]any
	AsIterator    bool
	ChunkInterval time.Duration
	Order         string // "asc" (default) or "desc"
	Limit         int64
}

// Instance is the backend contract of spec section 4.2. Every method
// here is required; methods with a generic fallback built on top of
// this contract live in the optional interfaces below.
type Instance interface {
	RegisterPipe(ctx context.Context, p *pipe.Pipe) (action.Result, error)
	EditPipe(ctx context.Context, p *pipe.Pipe) (action.Result, error)
	DeletePipe(ctx context.Context, p *pipe.Pipe) (action.Result, error)

	FetchPipesKeys(ctx context.Context, filter action.Keys) ([]pipe.Keys, error)

	// FetchPipeParameters satisfies pipe.RegistryReader, letting a
	// pipe.ParameterCache refresh directly off an Instance.
	FetchPipeParameters(k pipe.Keys) (pipe.Parameters, error)

	// FetchPipe hydrates the full registered Pipe (columns, indices,
	// dtypes, target, parameters) for k, the CLI's "load a pipe by its
	// identity" primitive.
	FetchPipe(ctx context.Context, k pipe.Keys) (*pipe.Pipe, error)

	PipeExists(ctx context.Context, p *pipe.Pipe) (bool, error)
	GetColumnsTypes(ctx context.Context, p *pipe.Pipe) (map[string]dtype.Dtype, error)
	GetSyncTime(ctx context.Context, p *pipe.Pipe, params map[string]any, newest, remote bool) (*time.Time, error)
	GetRowcount(ctx context.Context, p *pipe.Pipe, begin, end *time.Time, params map[string]any, remote bool) (int64, error)
	GetData(ctx context.Context, p *pipe.Pipe, opts GetDataOptions) (dataframe.Source, error)

	SyncPipe(ctx context.Context, p *pipe.Pipe, batch dataframe.Batch) (action.Result, error)
	ClearPipe(ctx context.Context, p *pipe.Pipe, begin, end *time.Time, params map[string]any) (action.Result, error)

	DropPipe(ctx context.Context, p *pipe.Pipe) (action.Result, error)
	DropIndices(ctx context.Context, p *pipe.Pipe) (action.Result, error)
	CreateIndices(ctx context.Context, p *pipe.Pipe) (action.Result, error)
}

// InPlaceSyncer is an optional capability (spec section 4.5): a source
// and target that live in the same backend can sync without
// materializing rows outside it.
type InPlaceSyncer interface {
	SyncPipeInplace(ctx context.Context, p *pipe.Pipe) (action.Result, error)
}

// Deduplicator is an optional capability (spec section 4.6): dedup by
// full-index equality within a window, with a backend-native fast path.
type Deduplicator interface {
	DeduplicatePipe(ctx context.Context, p *pipe.Pipe, begin, end *time.Time, bounded bool) (action.Result, error)
}

// SchemaEvolver is an optional capability (spec section 4.4 step 5):
// backends with a fixed physical schema (SQL) can widen it in place;
// schemaless backends (KV) simply do not implement this, and the
// syncing pipeline skips schema evolution for them.
type SchemaEvolver interface {
	AddColumn(ctx context.Context, p *pipe.Pipe, column string, d dtype.Dtype) (action.Result, error)
	WidenColumn(ctx context.Context, p *pipe.Pipe, column string, newType dtype.Dtype) (action.Result, error)
}

// CheckpointStore is an optional capability (spec section 4.6): a
// resumable verify run persists its progress in the backend's internal
// namespace so an interrupted run can pick up where it left off.
// Backends that do not implement this simply restart verify from the
// beginning every time.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, p *pipe.Pipe, label string) (*time.Time, error)
	SaveCheckpoint(ctx context.Context, p *pipe.Pipe, label string, at time.Time) error
	ClearCheckpoint(ctx context.Context, p *pipe.Pipe, label string) error
}

// SupportsCheckpoint reports whether i implements CheckpointStore.
func SupportsCheckpoint(i Instance) (CheckpointStore, bool) {
	c, ok := i.(CheckpointStore)
	return c, ok
}

// SupportsInplace reports whether i implements InPlaceSyncer.
func SupportsInplace(i Instance) (InPlaceSyncer, bool) {
	s, ok := i.(InPlaceSyncer)
	return s, ok
}

// SupportsDeduplicate reports whether i implements Deduplicator.
func SupportsDeduplicate(i Instance) (Deduplicator, bool) {
	d, ok := i.(Deduplicator)
	return d, ok
}

// SupportsSchemaEvolution reports whether i implements SchemaEvolver.
func SupportsSchemaEvolution(i Instance) (SchemaEvolver, bool) {
	s, ok := i.(SchemaEvolver)
	return s, ok
}
