// Package sync drives the fetch -> filter -> apply pipeline of spec
// section 4.4 over a bounded worker pool, including schema evolution
// and hooks. The in-place fast path (section 4.5) lives in
// inplace.go; this file is the general connector -> instance path.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"mrsm/internal/action"
	"mrsm/internal/dataframe"
	"mrsm/internal/dtype"
	"mrsm/internal/filter"
	"mrsm/internal/instance"
	"mrsm/internal/logging"
	"mrsm/internal/merr"
	"mrsm/internal/pipe"
)

var log = logging.For(logging.Sync)

// chunkCounter accumulates rows-synced across concurrent chunk workers.
type chunkCounter struct {
	mu sync.Mutex
	n  int64
}

func (c *chunkCounter) add(delta int64) {
	c.mu.Lock()
	c.n += delta
	c.mu.Unlock()
}

func (c *chunkCounter) get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// FetchFunc returns a (possibly nested, see dataframe.Source) chunk
// generator of rows for p starting at begin, per spec section 4.4 step
// 3: "a plugin-supplied fetch() or a custom connector's fetch()."
type FetchFunc func(ctx context.Context, p *pipe.Pipe, begin *time.Time, params map[string]any) (dataframe.Source, error)

// PreHook runs before fetch begins, in a detached worker; its return
// value is not consulted by Sync.
type PreHook func(ctx context.Context, p *pipe.Pipe, syncTimestamp time.Time)

// PostHook runs after the pipeline settles, in a detached worker.
type PostHook func(ctx context.Context, p *pipe.Pipe, result action.Result, syncTimestamp, syncCompleteTimestamp time.Time, duration time.Duration)

// Options tunes one call to Sync, mirroring the sync() entry point of
// spec section 4.4.
type Options struct {
	Begin, End *time.Time
	Params     map[string]any

	// Workers bounds the chunk worker pool; defaults to 4.
	Workers int

	// ChunkInterval is advisory only here: it is the fetch side's
	// concern (how it slices the window into batches), not something
	// this package enforces on an already-produced Source.
	ChunkInterval time.Duration

	SkipCheckExisting bool

	// Enforce toggles dtype coercion on each chunk's delta; defaults
	// to true, matching Parameters.EnforceDtypes's own default.
	Enforce *bool

	// RetryMax bounds per-chunk apply retries; defaults to 3 (section
	// 4.4 step 5, "Failed chunks are retried up to N times (default 3)
	// with exponential backoff").
	RetryMax int

	PreHook  PreHook
	PostHook PostHook
}

func (o Options) enforce() bool {
	if o.Enforce == nil {
		return true
	}
	return *o.Enforce
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return 4
}

func (o Options) retryMax() int {
	if o.RetryMax > 0 {
		return o.RetryMax
	}
	return 3
}

// Syncer drives pipes into a target instance. Fetch is nil for pipes
// whose connector and instance coincide (the in-place path handles
// those; see tryInplace).
type Syncer struct {
	Target instance.Instance
	Fetch  FetchFunc
}

// New builds a Syncer.
func New(target instance.Instance, fetch FetchFunc) *Syncer {
	return &Syncer{Target: target, Fetch: fetch}
}

// Sync runs the full pipeline for p: resolve source, determine begin,
// fetch, run pre-hook, apply chunks through a bounded worker pool, run
// post-hook. Per spec section 4.4.
func (s *Syncer) Sync(ctx context.Context, p *pipe.Pipe, opts Options) (action.Result, error) {
	if p.Keys.Connector == p.Keys.Instance {
		if res, ok, err := s.tryInplace(ctx, p); ok {
			return res, err
		}
	}

	if s.Fetch == nil {
		return action.Result{}, fmt.Errorf("sync: pipe %s has no fetch configured: %w", p.Keys, merr.ErrConfiguration)
	}

	begin, err := s.resolveBegin(ctx, p, opts)
	if err != nil {
		return action.Result{}, err
	}

	src, err := s.Fetch(ctx, p, begin, opts.Params)
	if err != nil {
		return action.Result{}, fmt.Errorf("sync: fetch %s: %w", p.Keys, err)
	}

	syncTimestamp := time.Now().UTC()
	if opts.PreHook != nil {
		go opts.PreHook(ctx, p, syncTimestamp)
	}

	rowsSynced, applyErr := s.applyChunks(ctx, p, src, opts)

	completeTimestamp := time.Now().UTC()
	var result action.Result
	if applyErr != nil {
		result = action.Fail(applyErr)
		log.WithError(applyErr).WithField("pipe", p.Keys.String()).Error("sync failed")
	} else {
		result = action.Ok("synced %d rows for %s", rowsSynced, p.Keys)
		log.WithField("pipe", p.Keys.String()).WithField("rows", rowsSynced).Info("sync complete")
	}
	if opts.PostHook != nil {
		go opts.PostHook(ctx, p, result, syncTimestamp, completeTimestamp, completeTimestamp.Sub(syncTimestamp))
	}
	if applyErr != nil {
		return result, applyErr
	}
	return result, nil
}

// resolveBegin implements step 2: begin = get_sync_time(pipe) -
// backtrack_interval, when the caller did not supply one.
func (s *Syncer) resolveBegin(ctx context.Context, p *pipe.Pipe, opts Options) (*time.Time, error) {
	if opts.Begin != nil {
		return opts.Begin, nil
	}
	newest, err := s.Target.GetSyncTime(ctx, p, opts.Params, true, false)
	if err != nil {
		return nil, fmt.Errorf("sync: resolve begin for %s: %w", p.Keys, err)
	}
	if newest == nil {
		return nil, nil
	}
	backtrack := time.Duration(p.BacktrackMinutes()) * time.Minute
	b := newest.Add(-backtrack)
	return &b, nil
}

// applyChunks consumes src through a bounded worker pool (step 5),
// applying enforce/filter/schema-evolution/apply per chunk.
func (s *Syncer) applyChunks(ctx context.Context, p *pipe.Pipe, src dataframe.Source, opts Options) (int64, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())

	var total int64
	var mu chunkCounter

	drainErr := dataframe.Drain(ctx, src, func(c dataframe.Chunk) error {
		chunk := c
		g.Go(func() error {
			n, err := s.applyChunk(gctx, p, chunk.Batch, opts)
			if err != nil {
				return fmt.Errorf("chunk (batch %d, chunk %d): %w", chunk.BatchIndex, chunk.ChunkIndex, err)
			}
			mu.add(n)
			return nil
		})
		return nil
	})
	waitErr := g.Wait()
	total = mu.get()

	if drainErr != nil {
		return total, fmt.Errorf("sync: drain fetch for %s: %w", p.Keys, drainErr)
	}
	if waitErr != nil {
		return total, fmt.Errorf("sync: apply for %s: %w", p.Keys, waitErr)
	}
	return total, nil
}

// applyChunk runs one chunk through enforce/filter/schema-evolution/apply.
func (s *Syncer) applyChunk(ctx context.Context, p *pipe.Pipe, batch *dataframe.Batch, opts Options) (int64, error) {
	if batch == nil || batch.Len() == 0 {
		return 0, nil
	}

	var delta *dataframe.Batch
	if opts.SkipCheckExisting {
		delta = batch
		if opts.enforce() {
			enforce := p.Parameters.EnforceDtypes()
			rows := make([]dtype.Row, len(batch.Rows))
			for i, r := range batch.Rows {
				coerced, err := dtype.EnforceDtypes(r, p.Dtypes, enforce, true)
				if err != nil {
					return 0, err
				}
				rows[i] = coerced
			}
			delta = &dataframe.Batch{Columns: batch.Columns, Rows: rows}
		}
	} else {
		res, err := filter.Existing(ctx, s.Target, p, batch, filter.Options{EnforceDtypes: opts.enforce()})
		if err != nil {
			return 0, err
		}
		delta = res.Delta
	}
	if delta.Len() == 0 {
		return 0, nil
	}

	if err := s.evolveSchema(ctx, p, delta); err != nil {
		return 0, err
	}

	if err := s.applyWithRetry(ctx, p, *delta, opts.retryMax()); err != nil {
		return 0, err
	}
	return int64(delta.Len()), nil
}

// evolveSchema implements step 5's schema-evolution rule: new columns
// get ALTER TABLE ADD COLUMN, widened columns get ALTER COLUMN TYPE.
// Static pipes and schemaless backends (no SchemaEvolver) skip this.
func (s *Syncer) evolveSchema(ctx context.Context, p *pipe.Pipe, delta *dataframe.Batch) error {
	if p.Parameters.Static {
		return nil
	}
	evolver, ok := instance.SupportsSchemaEvolution(s.Target)
	if !ok {
		return nil
	}

	stored, err := s.Target.GetColumnsTypes(ctx, p)
	if err != nil {
		return fmt.Errorf("sync: inspect schema for %s: %w", p.Keys, err)
	}

	for _, col := range delta.Columns {
		d, declared := p.Dtypes[col]
		if !declared {
			continue
		}
		existing, known := stored[col]
		if !known {
			if _, err := evolver.AddColumn(ctx, p, col, d); err != nil {
				return fmt.Errorf("sync: add column %q to %s: %w", col, p.Keys, err)
			}
			stored[col] = d
			continue
		}
		widened := dtype.Widen(existing, d)
		if widened != existing {
			if _, err := evolver.WidenColumn(ctx, p, col, widened); err != nil {
				return fmt.Errorf("sync: widen column %q on %s: %w", col, p.Keys, err)
			}
			stored[col] = widened
		}
	}
	return nil
}

// applyWithRetry applies batch with exponential backoff, retrying up to
// maxRetries times after the first attempt (section 4.4 step 5). A failed Result (ok=false) is treated
// as permanent: retrying an apply that the backend itself rejected
// would not change the outcome.
func (s *Syncer) applyWithRetry(ctx context.Context, p *pipe.Pipe, batch dataframe.Batch, maxRetries int) error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries))
	return backoff.Retry(func() error {
		res, err := s.Target.SyncPipe(ctx, p, batch)
		if err != nil {
			return err
		}
		if !res.OK {
			return backoff.Permanent(fmt.Errorf("sync: apply rejected for %s: %s", p.Keys, res.Message))
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}
