package verify

import (
	"context"
	"fmt"
	"sort"

	"mrsm/internal/action"
	"mrsm/internal/dataframe"
	"mrsm/internal/dtype"
	"mrsm/internal/instance"
	"mrsm/internal/pipe"
)

// deduplicateGeneric is the chunk-traversal fallback for backends
// without a native Deduplicator: for each chunk, read every row back,
// keep only the last occurrence of each index tuple (last write wins),
// clear the chunk, and resync the distinct survivors.
func (v *Verifier) deduplicateGeneric(ctx context.Context, p *pipe.Pipe, opts Options) (action.Result, error) {
	indexCols := p.IndexColumns()
	if len(indexCols) == 0 {
		return action.Ok("no index columns on %s, nothing to deduplicate", p.Keys), nil
	}

	chunks, err := v.chunkBounds(ctx, p, opts)
	if err != nil {
		return action.Result{}, err
	}

	var totalDropped int64
	for _, b := range chunks {
		dropped, err := v.deduplicateChunk(ctx, p, b, indexCols, opts.Params)
		if err != nil {
			return action.Result{}, fmt.Errorf("verify: deduplicate chunk [%v, %v) of %s: %w", b.Begin, b.End, p.Keys, err)
		}
		totalDropped += dropped
	}
	return action.Ok("deduplicated %d rows from %s", totalDropped, p.Keys), nil
}

func (v *Verifier) deduplicateChunk(ctx context.Context, p *pipe.Pipe, b Bounds, indexCols []string, params map[string]any) (int64, error) {
	src, err := v.Target.GetData(ctx, p, instance.GetDataOptions{Begin: b.Begin, End: b.End, Params: params})
	if err != nil {
		return 0, fmt.Errorf("read chunk: %w", err)
	}

	var rows []dtype.Row
	var columns []string
	if err := dataframe.Drain(ctx, src, func(c dataframe.Chunk) error {
		if c.Batch == nil {
			return nil
		}
		if columns == nil {
			columns = c.Batch.Columns
		}
		rows = append(rows, c.Batch.Rows...)
		return nil
	}); err != nil {
		return 0, fmt.Errorf("drain chunk: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	deduped, duplicateCount := lastOccurrencePerTuple(rows, indexCols, p.Dtypes)
	if duplicateCount == 0 {
		return 0, nil
	}

	if _, err := v.Target.ClearPipe(ctx, p, b.Begin, b.End, params); err != nil {
		return 0, fmt.Errorf("clear chunk: %w", err)
	}
	if _, err := v.Target.SyncPipe(ctx, p, dataframe.Batch{Columns: columns, Rows: deduped}); err != nil {
		return 0, fmt.Errorf("resync distinct rows: %w", err)
	}
	return duplicateCount, nil
}

// lastOccurrencePerTuple collapses rows sharing an index tuple down to
// the last occurrence in read order, reporting how many rows were
// dropped as duplicates.
func lastOccurrencePerTuple(rows []dtype.Row, indexCols []string, dtypes map[string]dtype.Dtype) ([]dtype.Row, int64) {
	type slot struct {
		row   dtype.Row
		order int
	}
	latest := make(map[string]slot, len(rows))
	for i, r := range rows {
		k := dedupKey(r, indexCols, dtypes)
		latest[k] = slot{row: r, order: i}
	}

	keys := make([]string, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return latest[keys[i]].order < latest[keys[j]].order })

	out := make([]dtype.Row, len(keys))
	for i, k := range keys {
		out[i] = latest[k].row
	}
	return out, int64(len(rows) - len(out))
}

// dedupKey builds the join key for a row's index columns. Unlike
// internal/filter's tupleKey, nulls are not given a sentinel here:
// deduplication only needs self-consistency within one chunk read, not
// a join against a second source.
func dedupKey(row dtype.Row, indexCols []string, dtypes map[string]dtype.Dtype) string {
	parts := make([]string, len(indexCols))
	for i, c := range indexCols {
		parts[i] = fmt.Sprintf("%v|%v", c, row[c])
	}
	return fmt.Sprintf("%v", parts)
}
