package flavors

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"strconv"
	"strings"

	"mrsm/internal/dtype"
	"mrsm/internal/instance"
	"mrsm/internal/merr"
)

// MSSQL and Oracle are registered so instance.Registered reports them
// present and DDL can be generated against them, but no driver for
// either exists anywhere in the dependency corpus this module draws
// from (denisenkom/go-mssqldb and godror both absent) — Open returns
// ErrConfiguration rather than silently no-op'ing. Wiring a real
// driver here is future work, not a design decision to skip these
// backends.
func init() {
	instance.Register(instance.FlavorMSSQL, openUnavailable("mssql"))
	instance.Register(instance.FlavorOracle, openUnavailable("oracle"))
}

func openUnavailable(flavor string) instance.Opener {
	return func(string) (instance.Instance, error) {
		return nil, fmt.Errorf("flavors: %s: no driver wired for this flavor: %w", flavor, merr.ErrConfiguration)
	}
}

// MSSQL implements sql.Flavor's statement-generation surface for
// documentation and future wiring; it is never reachable through
// instance.Open until a driver is added.
type MSSQL struct{}

func (MSSQL) DtypeFlavor() dtype.Flavor { return dtype.FlavorMSSQL }
func (MSSQL) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
func (MSSQL) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }
func (m MSSQL) UpsertSQL(table string, columns, indexColumns []string) string {
	return fmt.Sprintf("MERGE INTO %s USING (VALUES (%s)) AS src", table, strings.Join(columns, ", "))
}
func (m MSSQL) UpsertFromSelectSQL(table string, columns, indexColumns []string, sourceSQL string) string {
	return fmt.Sprintf("MERGE INTO %s USING (%s) AS src ON (%s)", table, sourceSQL, strings.Join(indexColumns, " AND "))
}

func (MSSQL) AutoincrementColumnSQL() string { return "IDENTITY(1,1)" }
func (MSSQL) InternalSchemaPrefix() string    { return "" }
func (MSSQL) IntrospectColumns(context.Context, *stdsql.DB, string) (map[string]string, error) {
	return nil, fmt.Errorf("flavors: mssql: %w", merr.ErrConfiguration)
}

// Oracle implements sql.Flavor's statement-generation surface; see MSSQL.
type Oracle struct{}

func (Oracle) DtypeFlavor() dtype.Flavor        { return dtype.FlavorOracle }
func (Oracle) QuoteIdentifier(name string) string { return `"` + strings.ReplaceAll(name, `"`, `""`) + `"` }
func (Oracle) Placeholder(n int) string         { return ":" + strconv.Itoa(n) }
func (o Oracle) UpsertSQL(table string, columns, indexColumns []string) string {
	return fmt.Sprintf("MERGE INTO %s USING dual ON (%s)", table, strings.Join(indexColumns, " AND "))
}
func (o Oracle) UpsertFromSelectSQL(table string, columns, indexColumns []string, sourceSQL string) string {
	return fmt.Sprintf("MERGE INTO %s USING (%s) src ON (%s)", table, sourceSQL, strings.Join(indexColumns, " AND "))
}

func (Oracle) AutoincrementColumnSQL() string { return "GENERATED ALWAYS AS IDENTITY" }
func (Oracle) InternalSchemaPrefix() string    { return "" }
func (Oracle) IntrospectColumns(context.Context, *stdsql.DB, string) (map[string]string, error) {
	return nil, fmt.Errorf("flavors: oracle: %w", merr.ErrConfiguration)
}
