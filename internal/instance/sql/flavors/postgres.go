package flavors

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"mrsm/internal/dtype"
	"mrsm/internal/instance"
	sqlinstance "mrsm/internal/instance/sql"
)

func init() {
	instance.Register(instance.FlavorPostgreSQL, openPostgreSQL)
}

func openPostgreSQL(dsn string) (instance.Instance, error) {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("flavors: open postgresql: %w", err)
	}
	return sqlinstance.NewInstance(context.Background(), db, PostgreSQL{})
}

// PostgreSQL implements sql.Flavor for PostgreSQL, connected through
// pgx's database/sql-compatible stdlib driver (jackc/pgx/v5/stdlib) so
// the generic sql.Instance can drive it without a pgx-specific code
// path.
type PostgreSQL struct{}

func (PostgreSQL) DtypeFlavor() dtype.Flavor { return dtype.FlavorPostgreSQL }

func (PostgreSQL) QuoteIdentifier(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, `"`, `""`)
	return `"` + name + `"`
}

func (PostgreSQL) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (p PostgreSQL) UpsertSQL(table string, columns, indexColumns []string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = p.QuoteIdentifier(c)
		placeholders[i] = p.Placeholder(i + 1)
	}

	index := make(map[string]bool, len(indexColumns))
	quotedIndex := make([]string, len(indexColumns))
	for i, c := range indexColumns {
		index[c] = true
		quotedIndex[i] = p.QuoteIdentifier(c)
	}

	var updates []string
	for _, c := range columns {
		if index[c] {
			continue
		}
		q := p.QuoteIdentifier(c)
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "), strings.Join(quotedIndex, ", "))
	if len(updates) == 0 {
		return stmt + " DO NOTHING"
	}
	return stmt + " DO UPDATE SET " + strings.Join(updates, ", ")
}

// UpsertFromSelectSQL mirrors UpsertSQL sourced from a SELECT instead
// of a bound VALUES tuple, for the in-place sync fast path (spec
// section 4.5).
func (p PostgreSQL) UpsertFromSelectSQL(table string, columns, indexColumns []string, sourceSQL string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = p.QuoteIdentifier(c)
	}
	index := make(map[string]bool, len(indexColumns))
	quotedIndex := make([]string, len(indexColumns))
	for i, c := range indexColumns {
		index[c] = true
		quotedIndex[i] = p.QuoteIdentifier(c)
	}
	var updates []string
	for _, c := range columns {
		if index[c] {
			continue
		}
		q := p.QuoteIdentifier(c)
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) %s ON CONFLICT (%s)",
		table, strings.Join(quoted, ", "), sourceSQL, strings.Join(quotedIndex, ", "))
	if len(updates) == 0 {
		return stmt + " DO NOTHING"
	}
	return stmt + " DO UPDATE SET " + strings.Join(updates, ", ")
}

func (PostgreSQL) AutoincrementColumnSQL() string { return "GENERATED ALWAYS AS IDENTITY" }
func (PostgreSQL) InternalSchemaPrefix() string    { return "_mrsm_internal" }

func (PostgreSQL) IntrospectColumns(ctx context.Context, db *stdsql.DB, table string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 AND table_schema = current_schema()",
		table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var col, typ string
		if err := rows.Scan(&col, &typ); err != nil {
			return nil, err
		}
		out[col] = typ
	}
	return out, rows.Err()
}
