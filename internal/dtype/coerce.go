package dtype

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mrsm/internal/merr"
)

// Row is a single record keyed by column name. Values are one of:
// nil, int64, float64, decimal.Decimal, bool, string, []byte,
// uuid.UUID, time.Time, or a JSON-marshalable value for json columns.
type Row map[string]any

// EnforceDtypes coerces every declared column of row in place (or on a
// copy, when safeCopy is true) to match dtypes. It is idempotent:
// applying it twice yields the same row. There is no separate numeric
// switch: an int or float value in a numeric column is always coerced
// to decimal.Decimal (see coerceNumeric).
//
// Behavior on failure is governed by enforce: if true, returns
// ErrDtypeMismatch-wrapped error; if false, the original value passes
// through unchanged (caller is expected to then widen the column's
// physical type to TEXT).
func EnforceDtypes(row Row, dtypes map[string]Dtype, enforce bool, safeCopy bool) (Row, error) {
	out := row
	if safeCopy {
		out = make(Row, len(row))
		for k, v := range row {
			out[k] = v
		}
	}

	for col, d := range dtypes {
		v, present := out[col]
		if !present || v == nil {
			continue
		}
		coerced, err := CoerceValue(v, d)
		if err != nil {
			if enforce {
				return out, fmt.Errorf("column %q: %w: %v", col, merr.ErrDtypeMismatch, err)
			}
			// enforce=false: pass through unchanged; caller widens physical type to TEXT.
			continue
		}
		out[col] = coerced
	}
	return out, nil
}

// CoerceValue coerces a single value to the given logical dtype. It is
// the per-value primitive that EnforceDtypes applies column-wise.
func CoerceValue(v any, d Dtype) (any, error) {
	switch d.Kind {
	case KindInt:
		return coerceInt(v)
	case KindFloat:
		return coerceFloat(v)
	case KindNumeric:
		return coerceNumeric(v)
	case KindBool:
		return coerceBool(v)
	case KindStr:
		return coerceStr(v)
	case KindBytes:
		return coerceBytes(v)
	case KindUUID:
		return coerceUUID(v)
	case KindJSON:
		return coerceJSON(v)
	case KindDatetime:
		return coerceDatetime(v, false)
	case KindDatetimeUTC:
		return coerceDatetime(v, true)
	default:
		return nil, fmt.Errorf("unhandled dtype kind %q", d.Kind)
	}
}

func coerceInt(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("value %v is not an exact integer", t)
		}
		return int64(t), nil
	case decimal.Decimal:
		if !t.Equal(t.Truncate(0)) {
			return 0, fmt.Errorf("value %v is not an exact integer", t)
		}
		return t.IntPart(), nil
	case string:
		var i int64
		if _, err := fmt.Sscanf(t, "%d", &i); err != nil {
			return 0, fmt.Errorf("cannot parse %q as int: %w", t, err)
		}
		return i, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to int", v)
	}
}

func coerceFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case decimal.Decimal:
		f, _ := t.Float64()
		return f, nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%g", &f); err != nil {
			return 0, fmt.Errorf("cannot parse %q as float: %w", t, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to float", v)
	}
}

func coerceNumeric(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case int64:
		return decimal.NewFromInt(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("cannot parse %q as numeric: %w", t, err)
		}
		return d, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("cannot coerce %T to numeric", v)
	}
}

func coerceBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case float64:
		return t != 0, nil
	case string:
		switch t {
		case "true", "t", "1", "yes", "y":
			return true, nil
		case "false", "f", "0", "no", "n":
			return false, nil
		default:
			return false, fmt.Errorf("cannot parse %q as bool", t)
		}
	default:
		return false, fmt.Errorf("cannot coerce %T to bool", v)
	}
}

func coerceStr(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return fmt.Sprintf("%v", t), nil
	}
}

func coerceBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to bytes", v)
	}
}

// BytesToBase64 provides the explicit base64 text fallback for KV
// backends noted in §4.1 ("an explicit call from the caller").
func BytesToBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64ToBytes reverses BytesToBase64.
func Base64ToBytes(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func coerceUUID(v any) (uuid.UUID, error) {
	switch t := v.(type) {
	case uuid.UUID:
		return t, nil
	case string:
		u, err := uuid.Parse(t)
		if err != nil {
			return uuid.UUID{}, fmt.Errorf("cannot parse %q as uuid: %w", t, err)
		}
		return u, nil
	case []byte:
		u, err := uuid.ParseBytes(t)
		if err != nil {
			return uuid.UUID{}, fmt.Errorf("cannot parse bytes as uuid: %w", err)
		}
		return u, nil
	default:
		return uuid.UUID{}, fmt.Errorf("cannot coerce %T to uuid", v)
	}
}

// coerceJSON normalizes v into a canonical JSON document, represented
// as the decoded any value (map/slice/scalar). Round-tripping through
// CanonicalJSON(parse(emit(x))) == CanonicalJSON(x) is required by §4.1.
func coerceJSON(v any) (any, error) {
	switch t := v.(type) {
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(t), &decoded); err != nil {
			return nil, fmt.Errorf("cannot parse %q as json: %w", t, err)
		}
		return decoded, nil
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err != nil {
			return nil, fmt.Errorf("cannot parse raw json: %w", err)
		}
		return decoded, nil
	case nil:
		return nil, nil
	default:
		// Already a decoded Go value (map/slice/scalar); round-trip to validate marshalability.
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("value is not json-marshalable: %w", err)
		}
		var decoded any
		if err := json.Unmarshal(b, &decoded); err != nil {
			return nil, fmt.Errorf("round-trip failed: %w", err)
		}
		return decoded, nil
	}
}

// CanonicalJSON renders v (as produced by coerceJSON) through a stable
// encoder, used to verify the round-trip invariant in tests and by
// instance/sql backends that store json as TEXT.
func CanonicalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// coerceDatetime parses v into a time.Time. When aware is true, the
// result is normalized to UTC per §4.1: "Mixed UTC offsets in a single
// batch are normalized to UTC before stripping tz." When aware is
// false, the naive wall-clock value is preserved without conversion.
func coerceDatetime(v any, aware bool) (time.Time, error) {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case string:
		parsed, err := parseFlexibleTime(x)
		if err != nil {
			return time.Time{}, fmt.Errorf("cannot parse %q as datetime: %w", x, err)
		}
		t = parsed
	case int64:
		t = time.Unix(x, 0).UTC()
	case int:
		t = time.Unix(int64(x), 0).UTC()
	default:
		return time.Time{}, fmt.Errorf("cannot coerce %T to datetime", v)
	}

	if aware {
		return t.UTC(), nil
	}
	return t, nil
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseFlexibleTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
