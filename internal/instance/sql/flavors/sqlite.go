package flavors

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"mrsm/internal/dtype"
	"mrsm/internal/instance"
	sqlinstance "mrsm/internal/instance/sql"
)

func init() {
	instance.Register(instance.FlavorSQLite, openSQLite)
}

func openSQLite(dsn string) (instance.Instance, error) {
	db, err := stdsql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("flavors: open sqlite: %w", err)
	}
	// A ":memory:" DSN gives each pooled connection its own private
	// database unless the pool is pinned to a single connection;
	// on-disk DSNs are unaffected by this cap.
	db.SetMaxOpenConns(1)
	return sqlinstance.NewInstance(context.Background(), db, SQLite{})
}

// SQLite implements sql.Flavor over modernc.org/sqlite, the
// pure-Go driver the teacher uses for its own embedded-database
// fixtures and tests.
type SQLite struct{}

func (SQLite) DtypeFlavor() dtype.Flavor { return dtype.FlavorSQLite }

func (SQLite) QuoteIdentifier(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, `"`, `""`)
	return `"` + name + `"`
}

func (SQLite) Placeholder(int) string { return "?" }

func (s SQLite) UpsertSQL(table string, columns, indexColumns []string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.QuoteIdentifier(c)
		placeholders[i] = "?"
	}

	index := make(map[string]bool, len(indexColumns))
	quotedIndex := make([]string, len(indexColumns))
	for i, c := range indexColumns {
		index[c] = true
		quotedIndex[i] = s.QuoteIdentifier(c)
	}

	var updates []string
	for _, c := range columns {
		if index[c] {
			continue
		}
		q := s.QuoteIdentifier(c)
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", q, q))
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
func (s SQLite) UpsertFromSelectSQL(table string, columns, indexColumns []string, sourceSQL string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.QuoteIdentifier(c)
	}
	index := make(map[string]bool, len(indexColumns))
	quotedIndex := make([]string, len(indexColumns))
	for i, c := range indexColumns {
		index[c] = true
		quotedIndex[i] = s.QuoteIdentifier(c)
	}
	var updates []string
	for _, c := range columns {
		if index[c] {
			continue
		}
		q := s.QuoteIdentifier(c)
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", q, q))
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) %s ON CONFLICT (%s)",
		table, strings.Join(quoted, ", "), sourceSQL, strings.Join(quotedIndex, ", "))
	if len(updates) == 0 {
		return stmt + " DO NOTHING"
	}
	return stmt + " DO UPDATE SET " + strings.Join(updates, ", ")
}

// AutoincrementColumnSQL is only meaningful on an INTEGER PRIMARY KEY
// column in SQLite; CreateTableSQL's autoincrement branch always
// emits the primary key inline, so this composes correctly.
func (SQLite) AutoincrementColumnSQL() string { return "AUTOINCREMENT" }
func (SQLite) InternalSchemaPrefix() string    { return "" }

func (SQLite) IntrospectColumns(ctx context.Context, db *stdsql.DB, table string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLiteTableRef(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[name] = typ
	}
	return out, rows.Err()
}

func quoteSQLiteTableRef(table string) string {
	return "'" + strings.ReplaceAll(table, "'", "''") + "'"
}
