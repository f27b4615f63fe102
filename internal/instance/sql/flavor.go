// Package sql implements the SQL backend family of the instance
// contract (spec sections 4.1, 4.2, 4.6): one generic Instance built on
// database/sql, driven by a per-flavor Flavor implementation that knows
// how to quote identifiers, bind placeholders, and phrase an upsert.
//
// The split between a flavor-agnostic Instance (this package) and
// flavor-specific quoting/statement generation (the flavors
// subpackage) mirrors the teacher's dialect.Generator interface +
// per-dialect mysql.Generator implementation: one generic driver, swap
// the dialect underneath it.
package sql

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"strings"

	"mrsm/internal/dtype"
)

// Flavor is the SQL-dialect-specific behavior the generic Instance
// needs. Grounded on the teacher's dialect.Generator
// (QuoteIdentifier/QuoteString) plus the placeholder and upsert syntax
// that database/sql driver-level code must supply per backend.
type Flavor interface {
	// DtypeFlavor identifies this flavor for internal/dtype.PhysicalType resolution.
	DtypeFlavor() dtype.Flavor

	// QuoteIdentifier quotes a table/column name for safe interpolation.
	QuoteIdentifier(name string) string

	// Placeholder renders the nth (1-based) bound parameter marker
	// ("?" for MySQL/SQLite, "$1"/"$2"/... for PostgreSQL).
	Placeholder(n int) string

	// UpsertSQL renders an INSERT ... ON CONFLICT/ON DUPLICATE KEY
	// statement given the target table, all columns (in order), and
	// the index columns that define uniqueness.
	UpsertSQL(table string, columns, indexColumns []string) string

	// UpsertFromSelectSQL renders the same merge semantics as UpsertSQL
	// but sourced from a SELECT rather than a bound VALUES tuple, for
	// the in-place sync fast path (spec section 4.5) where rows never
	// cross the client.
	UpsertFromSelectSQL(table string, columns, indexColumns []string, sourceSQL string) string

	// AutoincrementColumnSQL renders the column definition suffix for
	// an autoincrement primary key ("AUTO_INCREMENT" vs
	// "GENERATED ALWAYS AS IDENTITY" vs "AUTOINCREMENT").
	AutoincrementColumnSQL() string

	// InternalSchemaPrefix optionally qualifies bookkeeping table
	// names (PostgreSQL uses a dedicated schema; others leave it empty
	// and rely on table name prefixing).
	InternalSchemaPrefix() string

	// IntrospectColumns returns the physical schema of table as a map
	// of column name to physical type string ("BIGINT", "NUMERIC(10,2)",
	// ...). Each flavor queries its own catalog (information_schema for
	// PostgreSQL/MySQL, PRAGMA table_info for SQLite).
	IntrospectColumns(ctx context.Context, db *stdsql.DB, table string) (map[string]string, error)
}

// QualifyInternal renders the name of an internal bookkeeping table
// ("_mrsm_internal_pipes" and friends, spec section 3), qualified by
// the flavor's internal schema if it has one.
func QualifyInternal(f Flavor, name string) string {
	prefix := f.InternalSchemaPrefix()
	if prefix == "" {
		return "_mrsm_internal_" + name
	}
	return prefix + "." + name
}

// quoteStringDefault is the ANSI-standard single-quote escaping
// (doubling embedded quotes), shared by every flavor whose dialect
// does not need MySQL's backslash-escaping scheme.
func quoteStringDefault(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func placeholdersList(f Flavor, start, count int) string {
	parts := make([]string, count)
	for i := range count {
		parts[i] = f.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

func columnListSQL(f Flavor, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = f.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func fmtColumn(f Flavor, col, physicalType string) string {
	return fmt.Sprintf("%s %s", f.QuoteIdentifier(col), physicalType)
}
