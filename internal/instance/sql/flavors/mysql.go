// Package flavors registers the concrete SQL dialects of the instance
// contract: quoting, placeholder style, and upsert phrasing per
// backend, wired to sql.Instance through the instance package's
// constructor registry (mirrors the teacher's mysql.Dialect
// registering itself via dialect.RegisterDialect in an init func).
package flavors

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"mrsm/internal/dtype"
	"mrsm/internal/instance"
	sqlinstance "mrsm/internal/instance/sql"
)

func init() {
	instance.Register(instance.FlavorMySQL, openMySQL)
	instance.Register(instance.FlavorMariaDB, openMySQL)
}

func openMySQL(dsn string) (instance.Instance, error) {
	db, err := stdsql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("flavors: open mysql: %w", err)
	}
	return sqlinstance.NewInstance(context.Background(), db, MySQL{})
}

// MySQL implements sql.Flavor for MySQL/MariaDB. Quoting and string
// escaping are adapted directly from the teacher's
// mysql.Generator.QuoteIdentifier/QuoteString.
type MySQL struct{}

func (MySQL) DtypeFlavor() dtype.Flavor { return dtype.FlavorMySQL }

func (MySQL) QuoteIdentifier(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "`", "``")
	return "`" + name + "`"
}

func (MySQL) Placeholder(int) string { return "?" }

func (m MySQL) UpsertSQL(table string, columns, indexColumns []string) string {
	index := make(map[string]bool, len(indexColumns))
	for _, c := range indexColumns {
		index[c] = true
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = m.QuoteIdentifier(c)
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "?"
	}

	var updates []string
	for _, c := range columns {
		if index[c] {
			continue
		}
		q := m.QuoteIdentifier(c)
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", q, q))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if len(updates) == 0 {
		return stmt + " ON DUPLICATE KEY UPDATE " + quoted[0] + " = " + quoted[0]
	}
	return stmt + " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
}

// UpsertFromSelectSQL mirrors UpsertSQL's merge semantics sourced from
// a SELECT instead of a bound VALUES tuple, for the in-place sync fast
// path (spec section 4.5).
func (m MySQL) UpsertFromSelectSQL(table string, columns, indexColumns []string, sourceSQL string) string {
	index := make(map[string]bool, len(indexColumns))
	for _, c := range indexColumns {
		index[c] = true
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = m.QuoteIdentifier(c)
	}
	var updates []string
	for _, c := range columns {
		if index[c] {
			continue
		}
		q := m.QuoteIdentifier(c)
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", q, q))
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) %s", table, strings.Join(quoted, ", "), sourceSQL)
	if len(updates) == 0 {
		return stmt + " ON DUPLICATE KEY UPDATE " + quoted[0] + " = " + quoted[0]
	}
	return stmt + " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
}

func (MySQL) AutoincrementColumnSQL() string { return "AUTO_INCREMENT" }
func (MySQL) InternalSchemaPrefix() string   { return "" }

func (MySQL) IntrospectColumns(ctx context.Context, db *stdsql.DB, table string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT column_name, column_type FROM information_schema.columns WHERE table_name = ? AND table_schema = DATABASE()",
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
