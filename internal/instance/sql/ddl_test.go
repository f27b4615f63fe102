package sql

import (
	"context"
	stdsql "database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrsm/internal/dtype"
	"mrsm/internal/pipe"
)

// fakeFlavor is a minimal ANSI-ish Flavor used only to exercise the
// generic DDL builders independent of any real driver.
type fakeFlavor struct{}

func (fakeFlavor) DtypeFlavor() dtype.Flavor      { return dtype.FlavorPostgreSQL }
func (fakeFlavor) QuoteIdentifier(n string) string { return `"` + n + `"` }
func (fakeFlavor) Placeholder(n int) string        { return "$" + itoa(n) }
func (fakeFlavor) UpsertSQL(table string, columns, indexColumns []string) string {
	return "INSERT " + table
}
func (fakeFlavor) UpsertFromSelectSQL(table string, columns, indexColumns []string, sourceSQL string) string {
	return "INSERT " + table + " " + sourceSQL
}
func (fakeFlavor) AutoincrementColumnSQL() string { return "GENERATED ALWAYS AS IDENTITY" }
func (fakeFlavor) InternalSchemaPrefix() string    { return "" }
func (fakeFlavor) IntrospectColumns(_ context.Context, _ *stdsql.DB, _ string) (map[string]string, error) {
	return nil, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func testPipeForDDL() *pipe.Pipe {
	return &pipe.Pipe{
		Keys: pipe.Keys{Connector: "plugin:weather", Metric: "temperature", Instance: "sql:main"},
		Columns: map[string]string{
			pipe.RoleDatetime: "ts",
			pipe.RolePrimary:  "id",
		},
		Dtypes: map[string]dtype.Dtype{
			"ts":      dtype.MustParse("datetime64[ns,UTC]"),
			"id":      dtype.MustParse("int"),
			"station": dtype.MustParse("str"),
			"reading": dtype.MustParse("numeric[10,2]"),
		},
		Parameters: pipe.Parameters{Autoincrement: true},
	}
}

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	p := testPipeForDDL()
	stmt, err := CreateTableSQL(p, fakeFlavor{})
	require.NoError(t, err)
	assert.Contains(t, stmt, `CREATE TABLE "plugin:weather_temperature"`)
	assert.Contains(t, stmt, `"id" BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY`)
	assert.Contains(t, stmt, `"reading" NUMERIC(10,2)`)
	assert.False(t, strings.Contains(stmt, `"id" BIGINT PRIMARY KEY`), "autoincrement column must not also get a plain PRIMARY KEY suffix")
}

func TestAlterTableAddColumnSQL(t *testing.T) {
	t.Parallel()

	p := testPipeForDDL()
	stmt, err := AlterTableAddColumnSQL(p, "note", dtype.MustParse("str"), fakeFlavor{})
	require.NoError(t, err)
	assert.Equal(t, `ALTER TABLE "plugin:weather_temperature" ADD COLUMN "note" TEXT;`, stmt)
}

func TestCreateIndexSQL(t *testing.T) {
	t.Parallel()

	p := testPipeForDDL()
	stmt := CreateIndexSQL(p, "unique", []string{"ts", "station"}, fakeFlavor{})
	assert.True(t, strings.HasPrefix(stmt, "CREATE UNIQUE INDEX"))
	assert.Contains(t, stmt, `("ts", "station")`)
}

func TestCreateInternalPipesTableSQL(t *testing.T) {
	t.Parallel()
	stmt := CreateInternalPipesTableSQL(fakeFlavor{})
	assert.Contains(t, stmt, "_mrsm_internal_pipes")
	assert.Contains(t, stmt, "PRIMARY KEY")
}
