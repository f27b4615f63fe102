package sql

import (
	"fmt"
	"sort"
	"strings"

	"mrsm/internal/dtype"
	"mrsm/internal/pipe"
)

// CreateTableSQL renders a CREATE TABLE statement for p's target,
// columns drawn from p.Dtypes in a stable (sorted) order so repeated
// calls over the same pipe emit byte-identical DDL. The autoincrement
// primary key column, when set, is emitted first.
//
// Grounded on the teacher's mysql.Generator.GenerateCreateTable, which
// builds the statement as a joined list of per-column definition
// lines; generalized here across flavors via the Flavor interface
// instead of being MySQL-specific.
func CreateTableSQL(p *pipe.Pipe, f Flavor) (string, error) {
	cols := sortedColumns(p.Dtypes)

	lines := make([]string, 0, len(cols)+1)

	primaryCol, hasPrimary := p.PrimaryColumn()
	if hasPrimary && p.Parameters.Autoincrement {
		physType, err := dtype.PhysicalType(p.Dtypes[primaryCol], f.DtypeFlavor())
		if err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf("  %s %s %s PRIMARY KEY",
			f.QuoteIdentifier(primaryCol), physType, f.AutoincrementColumnSQL()))
	}

	for _, col := range cols {
		if hasPrimary && col == primaryCol && p.Parameters.Autoincrement {
			continue
		}
		physType, err := dtype.PhysicalType(p.Dtypes[col], f.DtypeFlavor())
		if err != nil {
			return "", fmt.Errorf("column %q: %w", col, err)
		}
		line := "  " + fmtColumn(f, col, physType)
		if hasPrimary && col == primaryCol && !p.Parameters.Autoincrement {
			line += " PRIMARY KEY"
		}
		lines = append(lines, line)
	}

	name := f.QuoteIdentifier(p.DefaultTarget())
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n);", name, strings.Join(lines, ",\n")), nil
}

// DropTableSQL renders a DROP TABLE IF EXISTS statement.
func DropTableSQL(p *pipe.Pipe, f Flavor) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", f.QuoteIdentifier(p.DefaultTarget()))
}

// AlterTableAddColumnSQL renders an ALTER TABLE ... ADD COLUMN
// statement for schema evolution (spec section 4.4, "schema
// evolution"): a column observed in an incoming batch but absent from
// the target's current physical schema.
func AlterTableAddColumnSQL(p *pipe.Pipe, column string, d dtype.Dtype, f Flavor) (string, error) {
	physType, err := dtype.PhysicalType(d, f.DtypeFlavor())
	if err != nil {
		return "", fmt.Errorf("column %q: %w", column, err)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;",
		f.QuoteIdentifier(p.DefaultTarget()), fmtColumn(f, column, physType)), nil
}

// AlterColumnWidenSQL renders the ALTER COLUMN statement needed when a
// column's dtype widens (int -> numeric, or any -> str) per section
// 4.1. It emits the PostgreSQL form (ALTER TABLE ... ALTER COLUMN ...
// TYPE ...) for every flavor. Other dialects' forms (MySQL's MODIFY
// COLUMN, MSSQL's ALTER COLUMN without TYPE, SQLite's table rebuild)
// are not generated, and no indices are dropped or rebuilt around it.
func AlterColumnWidenSQL(p *pipe.Pipe, column string, newType dtype.Dtype, f Flavor) (string, error) {
	physType, err := dtype.PhysicalType(newType, f.DtypeFlavor())
	if err != nil {
		return "", fmt.Errorf("column %q: %w", column, err)
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s;",
		f.QuoteIdentifier(p.DefaultTarget()), f.QuoteIdentifier(column), physType), nil
}

// CreateIndexSQL renders one CREATE INDEX (or UNIQUE INDEX for the
// reserved "unique" composite) statement per spec section 6's naming
// convention, driven by Pipe.IndexName.
func CreateIndexSQL(p *pipe.Pipe, indexName string, columns []string, f Flavor) string {
	unique := ""
	if indexName == "unique" || strings.HasPrefix(p.IndexName(indexName, columns), "UQ_") {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s);",
		unique,
		f.QuoteIdentifier(p.IndexName(indexName, columns)),
		f.QuoteIdentifier(p.DefaultTarget()),
		columnListSQL(f, columns))
}

// DropIndexSQL renders a DROP INDEX statement for the named index.
func DropIndexSQL(p *pipe.Pipe, indexName string, columns []string, f Flavor) string {
	return fmt.Sprintf("DROP INDEX %s;", f.QuoteIdentifier(p.IndexName(indexName, columns)))
}

// CreateInternalPipesTableSQL renders the DDL for the registry's
// bookkeeping table, spec section 3's "internal namespace" that holds
// registered pipes' identity and parameters (stored as a JSON TEXT
// blob, since parameter shape varies per pipe).
func CreateInternalPipesTableSQL(f Flavor) string {
	table := QualifyInternal(f, "pipes")
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  %s TEXT NOT NULL,
  %s TEXT NOT NULL,
  %s TEXT NOT NULL,
  %s TEXT NOT NULL,
  %s TEXT NOT NULL,
  %s TEXT NOT NULL,
  PRIMARY KEY (%s, %s, %s, %s)
);`, table,
		f.QuoteIdentifier("connector"), f.QuoteIdentifier("metric"),
		f.QuoteIdentifier("location"), f.QuoteIdentifier("instance"),
		f.QuoteIdentifier("target"), f.QuoteIdentifier("attributes"),
		f.QuoteIdentifier("connector"), f.QuoteIdentifier("metric"),
		f.QuoteIdentifier("location"), f.QuoteIdentifier("instance"))
}

func sortedColumns(dtypes map[string]dtype.Dtype) []string {
	cols := make([]string, 0, len(dtypes))
	for c := range dtypes {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
