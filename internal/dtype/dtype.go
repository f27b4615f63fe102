// Package dtype implements the engine's logical type system: a small
// tagged-variant set of dtypes (Int, Float, Numeric, Bool, Str, Bytes,
// UUID, JSON, datetime naive/aware), per-SQL-flavor physical type
// resolution, and dtype coercion over dataframe batches.
//
// Dtype strings follow the spec's wire format: "int", "float",
// "numeric", "numeric[10,2]", "bool", "str", "bytes", "uuid", "json",
// "datetime64[ns]", "datetime64[ns,UTC]".
package dtype

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the tag of the dtype sum type.
type Kind string

const (
	KindInt      Kind = "int"
	KindFloat    Kind = "float"
	KindNumeric  Kind = "numeric"
	KindBool     Kind = "bool"
	KindStr      Kind = "str"
	KindBytes    Kind = "bytes"
	KindUUID     Kind = "uuid"
	KindJSON     Kind = "json"
	KindDatetime Kind = "datetime64[ns]"
	KindDatetimeUTC Kind = "datetime64[ns,UTC]"
)

// Dtype is a parsed logical dtype: a Kind plus optional numeric
// precision/scale.
type Dtype struct {
	Kind      Kind
	Precision int // numeric[p,s]; 0 means unspecified (arbitrary precision)
	Scale     int
}

var numericRe = regexp.MustCompile(`^numeric\[(\d+)\s*,\s*(\d+)\]$`)

// Parse parses a dtype wire string into a Dtype. Unknown strings are
// rejected with an error rather than silently treated as str, so that
// a typo in a pipe's declared dtypes surfaces immediately.
func Parse(s string) (Dtype, error) {
	s = strings.TrimSpace(s)
	switch Kind(s) {
	case KindInt, KindFloat, KindNumeric, KindBool, KindStr, KindBytes,
		KindUUID, KindJSON, KindDatetime, KindDatetimeUTC:
		return Dtype{Kind: Kind(s)}, nil
	}

	if m := numericRe.FindStringSubmatch(strings.ToLower(s)); m != nil {
		p, _ := strconv.Atoi(m[1])
		sc, _ := strconv.Atoi(m[2])
		if sc > p {
			return Dtype{}, fmt.Errorf("dtype %q: scale %d exceeds precision %d", s, sc, p)
		}
		return Dtype{Kind: KindNumeric, Precision: p, Scale: sc}, nil
	}

	return Dtype{}, fmt.Errorf("unrecognized dtype %q", s)
}

// MustParse parses a dtype string, panicking on error. Intended for
// literal dtypes declared in code (tests, defaults), not user input.
func MustParse(s string) Dtype {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String renders the dtype back to its wire format.
func (d Dtype) String() string {
	if d.Kind == KindNumeric && (d.Precision > 0 || d.Scale > 0) {
		return fmt.Sprintf("numeric[%d,%d]", d.Precision, d.Scale)
	}
	return string(d.Kind)
}

// IsAware reports whether the dtype is a timezone-aware datetime.
func (d Dtype) IsAware() bool {
	return d.Kind == KindDatetimeUTC
}

// IsDatetime reports whether the dtype is any datetime variant.
func (d Dtype) IsDatetime() bool {
	return d.Kind == KindDatetime || d.Kind == KindDatetimeUTC
}

// IsNumericFamily reports whether the dtype participates in int/float/numeric widening (§4.1).
func (d Dtype) IsNumericFamily() bool {
	switch d.Kind {
	case KindInt, KindFloat, KindNumeric:
		return true
	default:
		return false
	}
}

// Widen returns the dtype that results from observing both a and b in
// the same column, per §4.1: "Mixing integer and float values into a
// column previously typed int widens it to numeric."
func Widen(a, b Dtype) Dtype {
	if a.Kind == b.Kind && a.Precision == b.Precision && a.Scale == b.Scale {
		return a
	}
	if a.IsNumericFamily() && b.IsNumericFamily() {
		if a.Kind == KindNumeric || b.Kind == KindNumeric {
			return Dtype{Kind: KindNumeric, Precision: max(a.Precision, b.Precision), Scale: max(a.Scale, b.Scale)}
		}
		if a.Kind != b.Kind {
			// int + float -> numeric (widest safe common representation).
			return Dtype{Kind: KindNumeric}
		}
		return a
	}
	// Incompatible kinds widen to str, the universal fallback (§4.1 "enforce=false" path).
	return Dtype{Kind: KindStr}
}
