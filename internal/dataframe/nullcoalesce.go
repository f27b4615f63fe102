package dataframe

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mrsm/internal/dtype"
)

// sentinel values are deterministic, per-dtype stand-ins for NULL in
// index columns, so that "NULL == NULL" becomes true for the
// anti-join/equi-join in the filter-existing algorithm (spec section
// 4.3, "null-coalescence rule"). They are chosen to be values that
// would not plausibly collide with real data: a string of NUL bytes
// is outside normal text, a negative epoch far outside any timestamp
// a time-series pipe would carry, etc.
const sentinelStr = "\x00\x00mrsm-null-sentinel\x00\x00"

var (
	sentinelInt   int64 = -9223372036854775808 // math.MinInt64, avoids an import just for this
	sentinelUUID        = uuid.Nil
	sentinelTime        = time.Unix(-62135596800, 0).UTC() // year 1, a value no real series would carry
)

var sentinelNumeric = decimal.NewFromInt(sentinelInt)

// Sentinel returns the magic value used to stand in for a null in an
// index column of the given dtype.
func Sentinel(d dtype.Dtype) any {
	switch d.Kind {
	case dtype.KindInt:
		return sentinelInt
	case dtype.KindFloat:
		return float64(sentinelInt)
	case dtype.KindNumeric:
		return sentinelNumeric
	case dtype.KindBool:
		return false
	case dtype.KindStr:
		return sentinelStr
	case dtype.KindBytes:
		return []byte(sentinelStr)
	case dtype.KindUUID:
		return sentinelUUID
	case dtype.KindJSON:
		return sentinelStr
	case dtype.KindDatetime, dtype.KindDatetimeUTC:
		return sentinelTime
	default:
		return nil
	}
}

// CoalesceNulls replaces nulls in the given index columns of every row
// in b with the dtype-appropriate sentinel, and returns a new Batch
// (b is left untouched). Columns absent from dtypes fall back to the
// string sentinel.
func CoalesceNulls(b *Batch, indexColumns []string, dtypes map[string]dtype.Dtype) *Batch {
	out := b.Clone()
	for _, r := range out.Rows {
		for _, col := range indexColumns {
			v, present := r[col]
			if present && v != nil {
				continue
			}
			d, ok := dtypes[col]
			if !ok {
				r[col] = sentinelStr
				continue
			}
			r[col] = Sentinel(d)
		}
	}
	return out
}

// IsSentinel reports whether v is the null-coalescence sentinel for
// dtype d, letting callers translate a joined row's index value back
// to NULL before it is presented to the user (e.g. in verify reports).
func IsSentinel(v any, d dtype.Dtype) bool {
	sentinel := Sentinel(d)
	switch s := sentinel.(type) {
	case []byte:
		b, ok := v.([]byte)
		return ok && string(b) == string(s)
	default:
		return v == sentinel
	}
}
