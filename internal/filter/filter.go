// Package filter implements the filter-existing algorithm of spec
// section 4.3: given an incoming batch and a pipe's index columns,
// split it into rows that are unseen, rows that update an existing
// index tuple, and their union (delta), reading only the slice of the
// target the incoming batch could possibly overlap.
package filter

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mrsm/internal/dataframe"
	"mrsm/internal/dtype"
	"mrsm/internal/instance"
	"mrsm/internal/pipe"
)

// DefaultParamsCardinalityLimit caps the distinct index-tuple values
// per column folded into the existing-data params filter. Columns
// whose distinct-value count exceeds the limit are dropped from the
// filter rather than failing the sync (section 4.3 step 3).
const DefaultParamsCardinalityLimit = 250

// Reader is the slice of instance.Instance the filter needs: reading
// back rows that might collide with an incoming batch.
type Reader interface {
	GetData(ctx context.Context, p *pipe.Pipe, opts instance.GetDataOptions) (dataframe.Source, error)
}

// Options tunes one run of Existing.
type Options struct {
	// DateBoundOnly computes only the datetime window and skips the
	// params filter (section 4.3 step 2).
	DateBoundOnly bool

	// ParamsCardinalityLimit overrides DefaultParamsCardinalityLimit
	// when positive.
	ParamsCardinalityLimit int

	// IncludeUnchangedColumns: when true, every row sharing an index
	// tuple with an existing row is emitted into Update even if no
	// observed column differs (section 4.3 step 6's "full document
	// from B is emitted"). Batch rows in this codebase are always full
	// documents, so the distinction this flag draws is which *rows*
	// qualify for Update, not which columns within a row are included.
	IncludeUnchangedColumns bool

	// EnforceDtypes coerces Delta's rows against p.Dtypes before
	// returning, per section 4.3 step 7.
	EnforceDtypes bool
}

// Result is the three-way split section 4.3 step 7 returns.
type Result struct {
	Unseen *dataframe.Batch
	Update *dataframe.Batch
	Delta  *dataframe.Batch
}

// Existing runs the filter-existing algorithm against reader for the
// rows in batch, per spec section 4.3.
func Existing(ctx context.Context, reader Reader, p *pipe.Pipe, batch *dataframe.Batch, opts Options) (Result, error) {
	indexCols := p.IndexColumns()
	if len(indexCols) == 0 {
		// Step 1: no indices at all. Emitted as a warning by the caller,
		// not here — this package has no logger of its own.
		return Result{
			Unseen: batch,
			Update: dataframe.New(batch.Columns, nil),
			Delta:  batch,
		}, nil
	}

	indexSet := make(map[string]bool, len(indexCols))
	for _, c := range indexCols {
		indexSet[c] = true
	}

	deduped := dedupeLastOccurrenceWins(batch, indexCols, p.Dtypes)

	begin, end := window(p, deduped)

	var paramsFilter map[string]any
	if !opts.DateBoundOnly {
		limit := opts.ParamsCardinalityLimit
		if limit <= 0 {
			limit = DefaultParamsCardinalityLimit
		}
		paramsFilter = buildParamsFilter(deduped, indexCols, limit)
	}

	selectCols := unionColumns(indexCols, declaredColumns(p))
	src, err := reader.GetData(ctx, p, instance.GetDataOptions{
		Select: selectCols,
		Begin:  begin,
		End:    end,
		Params: paramsFilter,
	})
	if err != nil {
		return Result{}, fmt.Errorf("filter: read existing rows for %s: %w", p.Keys, err)
	}
	existingRows, err := materialize(ctx, src)
	if err != nil {
		return Result{}, fmt.Errorf("filter: drain existing rows for %s: %w", p.Keys, err)
	}

	existingByTuple := make(map[string]dtype.Row, len(existingRows))
	for _, r := range existingRows {
		existingByTuple[tupleKey(r, indexCols, p.Dtypes)] = r
	}

	var unseenRows, updateRows []dtype.Row
	for _, r := range deduped.Rows {
		key := tupleKey(r, indexCols, p.Dtypes)
		e, ok := existingByTuple[key]
		if !ok {
			unseenRows = append(unseenRows, r)
			continue
		}
		if opts.IncludeUnchangedColumns || rowDiffers(r, e, indexSet) {
			updateRows = append(updateRows, r)
		}
	}

	deltaRows := make([]dtype.Row, 0, len(unseenRows)+len(updateRows))
	deltaRows = append(deltaRows, unseenRows...)
	deltaRows = append(deltaRows, updateRows...)

	if opts.EnforceDtypes {
		enforce := p.Parameters.EnforceDtypes()
		for i, r := range deltaRows {
			coerced, err := dtype.EnforceDtypes(r, p.Dtypes, enforce, false)
			if err != nil {
				return Result{}, err
			}
			deltaRows[i] = coerced
		}
	}

	return Result{
		Unseen: &dataframe.Batch{Columns: deduped.Columns, Rows: unseenRows},
		Update: &dataframe.Batch{Columns: deduped.Columns, Rows: updateRows},
		Delta:  &dataframe.Batch{Columns: deduped.Columns, Rows: deltaRows},
	}, nil
}

// dedupeLastOccurrenceWins collapses rows sharing an index tuple down
// to the last occurrence in batch order (section 4.3 "Tie-breaking").
func dedupeLastOccurrenceWins(batch *dataframe.Batch, indexCols []string, dtypes map[string]dtype.Dtype) *dataframe.Batch {
	type slot struct {
		row   dtype.Row
		order int
	}
	latest := make(map[string]slot, len(batch.Rows))
	for i, r := range batch.Rows {
		k := tupleKey(r, indexCols, dtypes)
		latest[k] = slot{row: r, order: i}
	}

	keys := make([]string, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return latest[keys[i]].order < latest[keys[j]].order })

	rows := make([]dtype.Row, len(keys))
	for i, k := range keys {
		rows[i] = latest[k].row
	}
	return &dataframe.Batch{Columns: batch.Columns, Rows: rows}
}

// tupleKey builds the join key for a row's index columns, replacing
// nulls with a per-dtype sentinel so NULL == NULL across the join
// (section 4.3 step 5, "null-coalescence"). The sentinel is used only
// to build this key; it is never written back into the row.
func tupleKey(row dtype.Row, indexCols []string, dtypes map[string]dtype.Dtype) string {
	parts := make([]string, len(indexCols))
	for i, c := range indexCols {
		v, ok := row[c]
		if !ok || v == nil {
			v = sentinelValue(dtypes[c])
		}
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\x1f")
}

// sentinelValue picks a deterministic stand-in for a null index value,
// valid for d's kind so it never collides with a legitimately-present
// value of a different kind.
func sentinelValue(d dtype.Dtype) any {
	switch d.Kind {
	case dtype.KindInt:
		return int64(-1 << 63)
	case dtype.KindFloat, dtype.KindNumeric:
		return "\x00mrsm_null_numeric"
	case dtype.KindBool:
		return "\x00mrsm_null_bool"
	case dtype.KindUUID:
		return "00000000-0000-0000-0000-000000000000"
	case dtype.KindDatetime, dtype.KindDatetimeUTC:
		return time.Unix(0, 0).UTC()
	default:
		return "\x00mrsm_null"
	}
}

// window computes the half-open datetime bound [min, max+backtrack)
// over batch's datetime column (section 4.3 step 2). Returns nil, nil
// when the pipe has no datetime column or no row carries a time.Time
// value for it — an int-keyed datetime axis relies on the params
// filter alone, since no chunk_interval unit applies to bare integers.
func window(p *pipe.Pipe, batch *dataframe.Batch) (begin, end *time.Time) {
	dtCol, ok := p.DatetimeColumn()
	if !ok {
		return nil, nil
	}

	var min, max time.Time
	found := false
	for _, r := range batch.Rows {
		t, ok := r[dtCol].(time.Time)
		if !ok {
			continue
		}
		if !found || t.Before(min) {
			min = t
		}
		if !found || t.After(max) {
			max = t
		}
		found = true
	}
	if !found {
		return nil, nil
	}

	backtrack := time.Duration(p.BacktrackMinutes()) * time.Minute
	e := max.Add(backtrack)
	return &min, &e
}

// buildParamsFilter collects distinct per-column index values from
// batch, dropping any column whose cardinality exceeds limit (section
// 4.3 step 3).
func buildParamsFilter(batch *dataframe.Batch, indexCols []string, limit int) map[string]any {
	out := make(map[string]any, len(indexCols))
	for _, c := range indexCols {
		seen := make(map[string]bool)
		var values []any
		overflow := false
		for _, r := range batch.Rows {
			v, ok := r[c]
			if !ok || v == nil {
				continue
			}
			key := fmt.Sprintf("%v", v)
			if seen[key] {
				continue
			}
			seen[key] = true
			values = append(values, v)
			if len(values) > limit {
				overflow = true
				break
			}
		}
		if overflow || len(values) == 0 {
			continue
		}
		out[c] = values
	}
	return out
}

// rowDiffers reports whether incoming differs from existing on any
// non-index column incoming actually carries. A column absent from
// incoming is treated as unchanged (section 4.3 step 6).
func rowDiffers(incoming, existing dtype.Row, indexCols map[string]bool) bool {
	for col, v := range incoming {
		if indexCols[col] {
			continue
		}
		ev, ok := existing[col]
		if !ok {
			continue
		}
		if !valuesEqual(v, ev) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	default:
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
}

// declaredColumns returns every physical column the pipe declares a
// dtype for, in a stable order.
func declaredColumns(p *pipe.Pipe) []string {
	cols := make([]string, 0, len(p.Dtypes))
	for c := range p.Dtypes {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// unionColumns merges a and b, deduplicated, a's order first.
func unionColumns(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, c := range a {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, c := range b {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func materialize(ctx context.Context, src dataframe.Source) ([]dtype.Row, error) {
	var rows []dtype.Row
	err := dataframe.Drain(ctx, src, func(c dataframe.Chunk) error {
		if c.Batch != nil {
			rows = append(rows, c.Batch.Rows...)
		}
		return nil
	})
	return rows, err
}
