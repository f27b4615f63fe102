// Package verify implements the chunk-bounds traversal of spec section
// 4.6: compare each chunk's local rowcount to the remote source's, and
// resync the chunks that disagree. Progress is checkpointed in the
// target's internal namespace (instance.CheckpointStore) so a verify
// run can be interrupted and resumed without starting over.
package verify

import (
	"context"
	"fmt"
	"time"

	"mrsm/internal/action"
	"mrsm/internal/instance"
	"mrsm/internal/logging"
	"mrsm/internal/pipe"
	syncpkg "mrsm/internal/sync"
)

var log = logging.For(logging.Verify)

// checkpointLabel keys a verify run's resume point in CheckpointStore;
// deduplicate runs do not checkpoint.
const checkpointLabel = "verify"

// RemoteRowcountFunc returns the source's authoritative row count over
// [begin, end), the connector-side half of get_rowcount(remote=true).
// Connector plugins are an external collaborator (spec.md Non-goals),
// so this is supplied by the caller rather than implemented here.
type RemoteRowcountFunc func(ctx context.Context, p *pipe.Pipe, begin, end *time.Time, params map[string]any) (int64, error)

// Bounds is a half-open chunk window over the datetime axis.
type Bounds struct {
	Begin *time.Time
	End   *time.Time // nil means "open-ended, through now"
}

// ChunkReport is one chunk's verify outcome.
type ChunkReport struct {
	Bounds      Bounds
	LocalCount  int64
	RemoteCount int64
	Resynced    bool
	Skipped     bool
}

// Options tunes one Verify or Deduplicate run.
type Options struct {
	ChunkInterval time.Duration // defaults to p.Parameters.VerifyChunkMinutes()
	Workers       int           // batch size chunks are grouped into; default 1
	Params        map[string]any

	SkipChunksWithGreaterRowcounts bool
	CheckRowcountsOnly             bool

	// Begin/End bound the traversal; nil means "the pipe's full sync time range".
	Begin, End *time.Time
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return 1
}

// Verifier drives verify/deduplicate over a target instance.
type Verifier struct {
	Target         instance.Instance
	Sync           *syncpkg.Syncer
	RemoteRowcount RemoteRowcountFunc
}

// New builds a Verifier.
func New(target instance.Instance, syncer *syncpkg.Syncer, remoteRowcount RemoteRowcountFunc) *Verifier {
	return &Verifier{Target: target, Sync: syncer, RemoteRowcount: remoteRowcount}
}

// Verify implements spec section 4.6's "Verify": traverse
// get_chunk_bounds, compare local to remote rowcount per chunk, resync
// (in place, via Sync) chunks that differ. Batches of chunks sized
// Options.Workers are processed sequentially, with a checkpoint saved
// after each batch so the run is interruptible and resumable.
func (v *Verifier) Verify(ctx context.Context, p *pipe.Pipe, opts Options) ([]ChunkReport, error) {
	if v.RemoteRowcount == nil {
		return nil, fmt.Errorf("verify: no remote rowcount source configured for %s", p.Keys)
	}

	chunks, err := v.chunkBounds(ctx, p, opts)
	if err != nil {
		return nil, err
	}

	store, resumable := instance.SupportsCheckpoint(v.Target)
	if resumable {
		if resumeFrom, err := store.LoadCheckpoint(ctx, p, checkpointLabel); err == nil && resumeFrom != nil {
			chunks = dropThrough(chunks, *resumeFrom)
		}
	}

	var reports []ChunkReport
	batchSize := opts.workers()
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		batch := chunks[start:end]

		for _, b := range batch {
			r, err := v.verifyChunk(ctx, p, b, opts)
			if err != nil {
				return reports, fmt.Errorf("verify: chunk [%v, %v) of %s: %w", b.Begin, b.End, p.Keys, err)
			}
			reports = append(reports, r)
		}

		if resumable && batch[len(batch)-1].End != nil {
			if err := store.SaveCheckpoint(ctx, p, checkpointLabel, *batch[len(batch)-1].End); err != nil {
				return reports, fmt.Errorf("verify: save checkpoint for %s: %w", p.Keys, err)
			}
		}

		select {
		case <-ctx.Done():
			return reports, ctx.Err()
		default:
		}
	}

	if resumable {
		if err := store.ClearCheckpoint(ctx, p, checkpointLabel); err != nil {
			return reports, fmt.Errorf("verify: clear checkpoint for %s: %w", p.Keys, err)
		}
	}
	return reports, nil
}

func (v *Verifier) verifyChunk(ctx context.Context, p *pipe.Pipe, b Bounds, opts Options) (ChunkReport, error) {
	local, err := v.Target.GetRowcount(ctx, p, b.Begin, b.End, opts.Params, false)
	if err != nil {
		return ChunkReport{}, fmt.Errorf("local rowcount: %w", err)
	}
	remote, err := v.RemoteRowcount(ctx, p, b.Begin, b.End, opts.Params)
	if err != nil {
		return ChunkReport{}, fmt.Errorf("remote rowcount: %w", err)
	}

	report := ChunkReport{Bounds: b, LocalCount: local, RemoteCount: remote}

	if local == remote {
		return report, nil
	}
	if opts.SkipChunksWithGreaterRowcounts && local >= remote {
		report.Skipped = true
		return report, nil
	}
	if opts.CheckRowcountsOnly {
		return report, nil
	}

	if v.Sync == nil {
		return report, fmt.Errorf("rowcount mismatch (local %d, remote %d) but no syncer configured to resync", local, remote)
	}
	log.WithField("pipe", p.Keys.String()).WithField("local", local).WithField("remote", remote).Warn("rowcount mismatch, resyncing chunk")
	if _, err := v.Sync.Sync(ctx, p, syncpkg.Options{Begin: b.Begin, End: b.End, Params: opts.Params, SkipCheckExisting: false}); err != nil {
		return report, fmt.Errorf("resync: %w", err)
	}
	report.Resynced = true
	return report, nil
}

// chunkBounds implements get_chunk_bounds(pipe, bounded=true,
// chunk_interval): fixed-width windows from the pipe's oldest to newest
// local sync time, inclusive of the open-ended tail beyond the newest
// known row.
func (v *Verifier) chunkBounds(ctx context.Context, p *pipe.Pipe, opts Options) ([]Bounds, error) {
	begin := opts.Begin
	end := opts.End

	if begin == nil {
		oldest, err := v.Target.GetSyncTime(ctx, p, opts.Params, false, false)
		if err != nil {
			return nil, fmt.Errorf("verify: resolve oldest sync time for %s: %w", p.Keys, err)
		}
		begin = oldest
	}
	if end == nil {
		newest, err := v.Target.GetSyncTime(ctx, p, opts.Params, true, false)
		if err != nil {
			return nil, fmt.Errorf("verify: resolve newest sync time for %s: %w", p.Keys, err)
		}
		end = newest
	}
	if begin == nil || end == nil {
		return nil, nil // nothing synced yet
	}

	interval := opts.ChunkInterval
	if interval <= 0 {
		interval = time.Duration(p.Parameters.VerifyChunkMinutes()) * time.Minute
	}

	var bounds []Bounds
	cursor := *begin
	for {
		next := cursor.Add(interval)
		b, e := cursor, next
		if next.After(*end) {
			bounds = append(bounds, Bounds{Begin: &b, End: nil})
			break
		}
		bounds = append(bounds, Bounds{Begin: &b, End: &e})
		cursor = next
	}
	return bounds, nil
}

func dropThrough(chunks []Bounds, resumeFrom time.Time) []Bounds {
	for i, c := range chunks {
		if c.End == nil || c.End.After(resumeFrom) {
			return chunks[i:]
		}
	}
	return nil
}

// Deduplicate implements spec section 4.6's "Deduplicate": same chunk
// traversal, but for each chunk it computes duplicate index tuples,
// clears them, and re-syncs distinct representatives (last write
// wins). Backends with a native fast path (instance.Deduplicator) are
// delegated to directly instead.
func (v *Verifier) Deduplicate(ctx context.Context, p *pipe.Pipe, opts Options) (action.Result, error) {
	if dedup, ok := instance.SupportsDeduplicate(v.Target); ok {
		return dedup.DeduplicatePipe(ctx, p, opts.Begin, opts.End, opts.Begin != nil || opts.End != nil)
	}
	return v.deduplicateGeneric(ctx, p, opts)
}
