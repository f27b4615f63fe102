// Package dataframe implements the semantic row-batch utilities the
// sync pipeline operates on: projection, filter-by-params,
// null-coalescence on index columns, and chunk generators (possibly
// nested one level, per spec section 4.4).
package dataframe

import (
	"mrsm/internal/dtype"
)

// Batch is an ordered row collection plus a stable column order, so
// that output (CSV-ish dumps, ordered SQL bind lists) is deterministic
// even though dtype.Row is a map.
type Batch struct {
	Columns []string
	Rows    []dtype.Row
}

// New builds a Batch, inferring column order from the union of keys
// across rows when columns is nil: keys first seen in a later row come
// after those of earlier rows, but keys first seen in the same row are
// appended in map iteration order, which is not defined.
func New(columns []string, rows []dtype.Row) *Batch {
	if columns == nil {
		columns = inferColumns(rows)
	}
	return &Batch{Columns: columns, Rows: rows}
}

func inferColumns(rows []dtype.Row) []string {
	seen := make(map[string]bool)
	var order []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
			}
		}
	}
	return order
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// Project returns a new Batch containing only the named columns of
// each row (columns absent from a row are simply omitted from its
// projected copy, not zero-filled).
func (b *Batch) Project(columns []string) *Batch {
	out := make([]dtype.Row, len(b.Rows))
	for i, r := range b.Rows {
		pr := make(dtype.Row, len(columns))
		for _, c := range columns {
			if v, ok := r[c]; ok {
				pr[c] = v
			}
		}
		out[i] = pr
	}
	return &Batch{Columns: columns, Rows: out}
}

// Append concatenates other's rows onto b and returns b. Columns from
// other not already present are appended to b.Columns.
func (b *Batch) Append(other *Batch) *Batch {
	if other == nil {
		return b
	}
	seen := make(map[string]bool, len(b.Columns))
	for _, c := range b.Columns {
		seen[c] = true
	}
	for _, c := range other.Columns {
		if !seen[c] {
			seen[c] = true
			b.Columns = append(b.Columns, c)
		}
	}
	b.Rows = append(b.Rows, other.Rows...)
	return b
}

// Clone produces a deep-enough copy (new slices, new row maps; values
// themselves are not deep-copied since dtype values are treated as
// immutable once coerced).
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	cols := make([]string, len(b.Columns))
	copy(cols, b.Columns)
	rows := make([]dtype.Row, len(b.Rows))
	for i, r := range b.Rows {
		cp := make(dtype.Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		rows[i] = cp
	}
	return &Batch{Columns: cols, Rows: rows}
}
