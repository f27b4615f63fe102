package dataframe

// DefaultMaxDistinctValues is the default per-index-column distinct
// value cap used when building a params filter from a batch (spec
// section 4.3, step 3; section 9 notes this is configurable but
// settles at 250 in the source system).
const DefaultMaxDistinctValues = 250

// ParamsFilter maps a column name to the set of distinct values seen
// for that column, to be used as an equality filter ("WHERE col IN
// (...)") when reading existing rows for the filter-existing join.
type ParamsFilter map[string][]any

// BuildParamsFilter collects the distinct values of each column in
// indexColumns across b's rows, capped at maxDistinct per column. If a
// column's cardinality exceeds the cap, that column is dropped from
// the filter entirely: subsequent correctness does not depend on it
// (spec section 4.3, step 3), it only prunes how much of the target
// table gets read back for comparison.
func BuildParamsFilter(b *Batch, indexColumns []string, maxDistinct int) ParamsFilter {
	if maxDistinct <= 0 {
		maxDistinct = DefaultMaxDistinctValues
	}

	seen := make(map[string]map[any]bool, len(indexColumns))
	order := make(map[string][]any, len(indexColumns))
	dropped := make(map[string]bool, len(indexColumns))

	for _, col := range indexColumns {
		seen[col] = make(map[any]bool)
	}

	for _, r := range b.Rows {
		for _, col := range indexColumns {
			if dropped[col] {
				continue
			}
			v, ok := r[col]
			if !ok {
				continue
			}
			key := normalizeKey(v)
			if seen[col][key] {
				continue
			}
			seen[col][key] = true
			order[col] = append(order[col], v)
			if len(order[col]) > maxDistinct {
				dropped[col] = true
				delete(order, col)
			}
		}
	}

	filter := make(ParamsFilter, len(order))
	for col, vals := range order {
		filter[col] = vals
	}
	return filter
}

// normalizeKey converts v to a value usable as a Go map key even when
// v is a type that is not comparable by default identity semantics
// for our purposes (we only need distinctness, not equality-by-bytes
// for []byte; []byte is rare in index columns so it is stringified).
func normalizeKey(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
