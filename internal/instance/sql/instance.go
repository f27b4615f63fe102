package sql

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mrsm/internal/action"
	"mrsm/internal/dataframe"
	"mrsm/internal/dtype"
	instancepkg "mrsm/internal/instance"
	"mrsm/internal/merr"
	"mrsm/internal/pipe"
)

// Instance is the generic SQL backend: one implementation of
// instance.Instance built entirely on database/sql, with every
// dialect-specific string rendered by a Flavor. Mirrors the split in
// the teacher's dialect package, where a single migration engine is
// driven by a swappable Generator.
type Instance struct {
	db     *stdsql.DB
	flavor Flavor
	exists *instancepkg.ExistsCache
}

// registryAttributes is the JSON shape persisted in the bookkeeping
// table's "attributes" column: everything about a pipe that isn't
// part of its identity columns.
type registryAttributes struct {
	Columns    map[string]string `json:"columns"`
	Indices    map[string][]string `json:"indices"`
	Dtypes     map[string]string `json:"dtypes"`
	Target     string            `json:"target"`
	Parameters pipe.Parameters   `json:"parameters"`
}

// NewInstance wraps db with flavor-specific behavior and ensures the
// bookkeeping table exists.
func NewInstance(ctx context.Context, db *stdsql.DB, flavor Flavor) (*Instance, error) {
	inst := &Instance{db: db, flavor: flavor, exists: instancepkg.NewExistsCache(instancepkg.ExistsCacheTTL)}

	if prefix := flavor.InternalSchemaPrefix(); prefix != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", prefix)); err != nil {
			return nil, fmt.Errorf("instance/sql: create internal schema: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, CreateInternalPipesTableSQL(flavor)); err != nil {
		return nil, fmt.Errorf("instance/sql: bootstrap registry table: %w", err)
	}
	if _, err := db.ExecContext(ctx, createCheckpointsTableSQL(flavor)); err != nil {
		return nil, fmt.Errorf("instance/sql: bootstrap checkpoints table: %w", err)
	}
	return inst, nil
}

func toAttributes(p *pipe.Pipe) registryAttributes {
	dtypes := make(map[string]string, len(p.Dtypes))
	for col, d := range p.Dtypes {
		dtypes[col] = d.String()
	}
	return registryAttributes{
		Columns:    p.Columns,
		Indices:    p.SynthesizeIndices(),
		Dtypes:     dtypes,
		Target:     p.DefaultTarget(),
		Parameters: p.Parameters,
	}
}

func fromAttributes(k pipe.Keys, a registryAttributes) (*pipe.Pipe, error) {
	dtypes := make(map[string]dtype.Dtype, len(a.Dtypes))
	for col, raw := range a.Dtypes {
		d, err := dtype.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("instance/sql: stored dtype of column %q: %w", col, err)
		}
		dtypes[col] = d
	}
	return &pipe.Pipe{
		Keys:       k,
		Columns:    a.Columns,
		Indices:    a.Indices,
		Dtypes:     dtypes,
		Target:     a.Target,
		Parameters: a.Parameters,
	}, nil
}

// RegisterPipe persists the pipe's attributes and materializes its
// target table and indices, per spec section 4.2.
func (i *Instance) RegisterPipe(ctx context.Context, p *pipe.Pipe) (action.Result, error) {
	attrs := toAttributes(p)
	blob, err := json.Marshal(attrs)
	if err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: marshal pipe attributes: %w", err)
	}

	table := QualifyInternal(i.flavor, "pipes")
	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s) VALUES (%s)",
		table,
		i.flavor.QuoteIdentifier("connector"), i.flavor.QuoteIdentifier("metric"),
		i.flavor.QuoteIdentifier("location"), i.flavor.QuoteIdentifier("instance"),
		i.flavor.QuoteIdentifier("target"), i.flavor.QuoteIdentifier("attributes"),
		placeholdersList(i.flavor, 1, 6),
	)
	if _, err := i.db.ExecContext(ctx, stmt, p.Keys.Connector, p.Keys.Metric, p.Keys.Location, p.Keys.Instance, attrs.Target, string(blob)); err != nil {
		// Best-effort upsert for re-registration: fall back to an
		// UPDATE when the primary key already exists. Backends vary in
		// how they phrase "duplicate key" errors, so this is a plain
		// retry rather than error-string sniffing.
		if editErr := i.editRegistryRow(ctx, p, string(blob)); editErr != nil {
			return action.Result{}, fmt.Errorf("instance/sql: register pipe %s: %w", p.Keys, err)
		}
	}

	createStmt, err := CreateTableIfNotExistsSQL(p, i.flavor)
	if err != nil {
		return action.Result{}, err
	}
	if _, err := i.db.ExecContext(ctx, createStmt); err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: create target table for %s: %w", p.Keys, err)
	}

	if res, err := i.CreateIndices(ctx, p); err != nil || !res.OK {
		return res, err
	}

	i.exists.Invalidate(p.Keys)
	return action.Ok("registered %s", p.Keys), nil
}

func (i *Instance) editRegistryRow(ctx context.Context, p *pipe.Pipe, blob string) error {
	table := QualifyInternal(i.flavor, "pipes")
	stmt := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s AND %s = %s AND %s = %s AND %s = %s",
		table, i.flavor.QuoteIdentifier("attributes"), i.flavor.Placeholder(1),
		i.flavor.QuoteIdentifier("connector"), i.flavor.Placeholder(2),
		i.flavor.QuoteIdentifier("metric"), i.flavor.Placeholder(3),
		i.flavor.QuoteIdentifier("location"), i.flavor.Placeholder(4),
		i.flavor.QuoteIdentifier("instance"), i.flavor.Placeholder(5))
	_, err := i.db.ExecContext(ctx, stmt, blob, p.Keys.Connector, p.Keys.Metric, p.Keys.Location, p.Keys.Instance)
	return err
}

// EditPipe updates a previously registered pipe's attributes.
func (i *Instance) EditPipe(ctx context.Context, p *pipe.Pipe) (action.Result, error) {
	attrs := toAttributes(p)
	blob, err := json.Marshal(attrs)
	if err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: marshal pipe attributes: %w", err)
	}
	if err := i.editRegistryRow(ctx, p, string(blob)); err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: edit pipe %s: %w", p.Keys, err)
	}
	i.exists.Invalidate(p.Keys)
	return action.Ok("edited %s", p.Keys), nil
}

// DeletePipe removes p's registry entry without dropping its target table.
func (i *Instance) DeletePipe(ctx context.Context, p *pipe.Pipe) (action.Result, error) {
	table := QualifyInternal(i.flavor, "pipes")
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s AND %s = %s AND %s = %s",
		table,
		i.flavor.QuoteIdentifier("connector"), i.flavor.Placeholder(1),
		i.flavor.QuoteIdentifier("metric"), i.flavor.Placeholder(2),
		i.flavor.QuoteIdentifier("location"), i.flavor.Placeholder(3),
		i.flavor.QuoteIdentifier("instance"), i.flavor.Placeholder(4))
	if _, err := i.db.ExecContext(ctx, stmt, p.Keys.Connector, p.Keys.Metric, p.Keys.Location, p.Keys.Instance); err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: delete pipe %s: %w", p.Keys, err)
	}
	i.exists.Invalidate(p.Keys)
	return action.Ok("deleted %s", p.Keys), nil
}

// FetchPipesKeys returns every registered pipe's identity matching filter.
func (i *Instance) FetchPipesKeys(ctx context.Context, filter action.Keys) ([]pipe.Keys, error) {
	table := QualifyInternal(i.flavor, "pipes")
	rows, err := i.db.QueryContext(ctx, fmt.Sprintf("SELECT %s, %s, %s, %s, %s FROM %s",
		i.flavor.QuoteIdentifier("connector"), i.flavor.QuoteIdentifier("metric"),
		i.flavor.QuoteIdentifier("location"), i.flavor.QuoteIdentifier("instance"),
		i.flavor.QuoteIdentifier("attributes"), table))
	if err != nil {
		return nil, fmt.Errorf("instance/sql: fetch pipes keys: %w", err)
	}
	defer rows.Close()

	var out []pipe.Keys
	for rows.Next() {
		var k pipe.Keys
		var attrBlob string
		if err := rows.Scan(&k.Connector, &k.Metric, &k.Location, &k.Instance, &attrBlob); err != nil {
			return nil, fmt.Errorf("instance/sql: scan pipe key: %w", err)
		}
		if !filter.Empty() {
			var attrs registryAttributes
			if err := json.Unmarshal([]byte(attrBlob), &attrs); err != nil {
				return nil, fmt.Errorf("instance/sql: unmarshal pipe attributes: %w", err)
			}
			if !filter.MatchConnector(k.Connector) || !filter.MatchMetric(k.Metric) ||
				!filter.MatchLocation(k.Location) || !filter.MatchInstance(k.Instance) ||
				!filter.MatchTags(attrs.Parameters.Tags) {
				continue
			}
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// FetchPipeParameters satisfies pipe.RegistryReader / instance.Instance.
func (i *Instance) FetchPipeParameters(k pipe.Keys) (pipe.Parameters, error) {
	attrs, err := i.fetchAttributes(context.Background(), k)
	if err != nil {
		return pipe.Parameters{}, err
	}
	return attrs.Parameters, nil
}

// FetchPipe hydrates the full registered Pipe for k, satisfying
// instance.Instance.
func (i *Instance) FetchPipe(ctx context.Context, k pipe.Keys) (*pipe.Pipe, error) {
	attrs, err := i.fetchAttributes(ctx, k)
	if err != nil {
		return nil, err
	}
	return fromAttributes(k, attrs)
}

func (i *Instance) fetchAttributes(ctx context.Context, k pipe.Keys) (registryAttributes, error) {
	table := QualifyInternal(i.flavor, "pipes")
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s AND %s = %s AND %s = %s AND %s = %s",
		i.flavor.QuoteIdentifier("attributes"), table,
		i.flavor.QuoteIdentifier("connector"), i.flavor.Placeholder(1),
		i.flavor.QuoteIdentifier("metric"), i.flavor.Placeholder(2),
		i.flavor.QuoteIdentifier("location"), i.flavor.Placeholder(3),
		i.flavor.QuoteIdentifier("instance"), i.flavor.Placeholder(4))

	var blob string
	err := i.db.QueryRowContext(ctx, stmt, k.Connector, k.Metric, k.Location, k.Instance).Scan(&blob)
	if err == stdsql.ErrNoRows {
		return registryAttributes{}, fmt.Errorf("instance/sql: pipe %s: %w", k, merr.ErrNotFound)
	}
	if err != nil {
		return registryAttributes{}, fmt.Errorf("instance/sql: fetch pipe attributes: %w", err)
	}
	var attrs registryAttributes
	if err := json.Unmarshal([]byte(blob), &attrs); err != nil {
		return registryAttributes{}, fmt.Errorf("instance/sql: unmarshal pipe attributes: %w", err)
	}
	return attrs, nil
}

// PipeExists reports whether p's target table is reachable, cached
// for instance.ExistsCacheTTL.
func (i *Instance) PipeExists(ctx context.Context, p *pipe.Pipe) (bool, error) {
	return i.exists.Get(p.Keys, func() (bool, error) {
		stmt := fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", i.flavor.QuoteIdentifier(p.DefaultTarget()))
		row := i.db.QueryRowContext(ctx, stmt)
		var dummy int
		err := row.Scan(&dummy)
		if err == stdsql.ErrNoRows {
			return true, nil // table reachable, just empty
		}
		if err != nil {
			return false, nil // table absent or unreachable
		}
		return true, nil
	})
}

// GetColumnsTypes returns the subset of p's declared dtypes whose
// column is actually present in the target's physical schema.
func (i *Instance) GetColumnsTypes(ctx context.Context, p *pipe.Pipe) (map[string]dtype.Dtype, error) {
	physical, err := i.flavor.IntrospectColumns(ctx, i.db, p.DefaultTarget())
	if err != nil {
		return nil, fmt.Errorf("instance/sql: introspect %s: %w", p.DefaultTarget(), err)
	}
	out := make(map[string]dtype.Dtype, len(physical))
	for col := range physical {
		if d, ok := p.Dtypes[col]; ok {
			out[col] = d
		}
	}
	return out, nil
}

// GetSyncTime returns the min/max datetime value of p's target.
func (i *Instance) GetSyncTime(ctx context.Context, p *pipe.Pipe, params map[string]any, newest, remote bool) (*time.Time, error) {
	if remote {
		return nil, fmt.Errorf("instance/sql: remote sync time requires a connector, not a storage instance: %w", merr.ErrConfiguration)
	}
	dtCol, ok := p.DatetimeColumn()
	if !ok {
		return nil, fmt.Errorf("instance/sql: pipe %s has no datetime column: %w", p.Keys, merr.ErrConfiguration)
	}
	agg := "MIN"
	if newest {
		agg = "MAX"
	}
	where, args := whereClause(i.flavor, "", nil, nil, params, 1)
	stmt := fmt.Sprintf("SELECT %s(%s) FROM %s%s", agg, i.flavor.QuoteIdentifier(dtCol), i.flavor.QuoteIdentifier(p.DefaultTarget()), where)

	var t stdsql.NullTime
	if err := i.db.QueryRowContext(ctx, stmt, args...).Scan(&t); err != nil {
		return nil, fmt.Errorf("instance/sql: get sync time for %s: %w", p.Keys, err)
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

// GetRowcount counts rows in the half-open window [begin, end).
func (i *Instance) GetRowcount(ctx context.Context, p *pipe.Pipe, begin, end *time.Time, params map[string]any, remote bool) (int64, error) {
	if remote {
		return 0, fmt.Errorf("instance/sql: remote rowcount requires a connector, not a storage instance: %w", merr.ErrConfiguration)
	}
	dtCol, _ := p.DatetimeColumn()
	where, args := whereClause(i.flavor, dtCol, begin, end, params, 1)
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", i.flavor.QuoteIdentifier(p.DefaultTarget()), where)

	var count int64
	if err := i.db.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("instance/sql: get rowcount for %s: %w", p.Keys, err)
	}
	return count, nil
}

// GetData streams or materializes p's rows over the given window.
func (i *Instance) GetData(ctx context.Context, p *pipe.Pipe, opts instancepkg.GetDataOptions) (dataframe.Source, error) {
	cols := selectColumns(p, opts)
	dtCol, _ := p.DatetimeColumn()
	where, args := whereClause(i.flavor, dtCol, opts.Begin, opts.End, opts.Params, 1)

	order := ""
	if dtCol != "" {
		dir := "ASC"
		if strings.EqualFold(opts.Order, "desc") {
			dir = "DESC"
		}
		order = fmt.Sprintf(" ORDER BY %s %s", i.flavor.QuoteIdentifier(dtCol), dir)
	}
	limit := ""
	if opts.Limit > 0 {
		limit = fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s%s%s%s", columnListSQL(i.flavor, cols), i.flavor.QuoteIdentifier(p.DefaultTarget()), where, order, limit)
	rows, err := i.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("instance/sql: get data for %s: %w", p.Keys, err)
	}
	defer rows.Close()

	batch, err := scanRows(rows, cols)
	if err != nil {
		return nil, err
	}
	return dataframe.NewSliceSource(batch), nil
}

func selectColumns(p *pipe.Pipe, opts instancepkg.GetDataOptions) []string {
	if len(opts.Select) > 0 {
		return opts.Select
	}
	omit := make(map[string]bool, len(opts.Omit))
	for _, c := range opts.Omit {
		omit[c] = true
	}
	all := sortedColumns(p.Dtypes)
	out := make([]string, 0, len(all))
	for _, c := range all {
		if !omit[c] {
			out = append(out, c)
		}
	}
	return out
}

func scanRows(rows *stdsql.Rows, cols []string) (*dataframe.Batch, error) {
	out := make([]dtype.Row, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("instance/sql: scan row: %w", err)
		}
		row := make(dtype.Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("instance/sql: iterate rows: %w", err)
	}
	return dataframe.New(cols, out), nil
}

// SyncPipe applies batch to p's target: upsert when Parameters.Upsert
// is set, plain insert otherwise (duplicates are expected to have
// already been filtered out by internal/filter before reaching here).
func (i *Instance) SyncPipe(ctx context.Context, p *pipe.Pipe, batch dataframe.Batch) (action.Result, error) {
	if batch.Len() == 0 {
		return action.Ok("no rows to sync for %s", p.Keys), nil
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: begin sync transaction: %w", err)
	}
	defer tx.Rollback()

	cols := batch.Columns
	table := i.flavor.QuoteIdentifier(p.DefaultTarget())

	var stmt string
	if p.Parameters.Upsert {
		stmt = i.flavor.UpsertSQL(table, cols, p.IndexColumns())
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, columnListSQL(i.flavor, cols), placeholdersList(i.flavor, 1, len(cols)))
	}

	for _, row := range batch.Rows {
		args := make([]any, len(cols))
		for idx, c := range cols {
			args[idx] = row[c]
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return action.Result{}, fmt.Errorf("instance/sql: sync row into %s: %w", p.Keys, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: commit sync for %s: %w", p.Keys, err)
	}
	i.exists.Invalidate(p.Keys)
	return action.Ok("synced %d rows into %s", batch.Len(), p.Keys), nil
}

// ClearPipe deletes rows matching the window/params.
func (i *Instance) ClearPipe(ctx context.Context, p *pipe.Pipe, begin, end *time.Time, params map[string]any) (action.Result, error) {
	dtCol, _ := p.DatetimeColumn()
	where, args := whereClause(i.flavor, dtCol, begin, end, params, 1)
	stmt := fmt.Sprintf("DELETE FROM %s%s", i.flavor.QuoteIdentifier(p.DefaultTarget()), where)
	res, err := i.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: clear pipe %s: %w", p.Keys, err)
	}
	n, _ := res.RowsAffected()
	return action.Ok("cleared %d rows from %s", n, p.Keys), nil
}

// DropPipe drops the target table and removes the registry entry.
func (i *Instance) DropPipe(ctx context.Context, p *pipe.Pipe) (action.Result, error) {
	if _, err := i.db.ExecContext(ctx, DropTableSQL(p, i.flavor)); err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: drop table for %s: %w", p.Keys, err)
	}
	return i.DeletePipe(ctx, p)
}

// DropIndices drops every index in p.SynthesizeIndices().
func (i *Instance) DropIndices(ctx context.Context, p *pipe.Pipe) (action.Result, error) {
	for name, cols := range p.SynthesizeIndices() {
		if _, err := i.db.ExecContext(ctx, DropIndexSQL(p, name, cols, i.flavor)); err != nil {
			return action.Result{}, fmt.Errorf("instance/sql: drop index %q on %s: %w", name, p.Keys, err)
		}
	}
	return action.Ok("dropped indices for %s", p.Keys), nil
}

// CreateIndices creates every index in p.SynthesizeIndices().
func (i *Instance) CreateIndices(ctx context.Context, p *pipe.Pipe) (action.Result, error) {
	for name, cols := range p.SynthesizeIndices() {
		if len(cols) == 0 {
			continue
		}
		if _, err := i.db.ExecContext(ctx, CreateIndexSQL(p, name, cols, i.flavor)); err != nil {
			return action.Result{}, fmt.Errorf("instance/sql: create index %q on %s: %w", name, p.Keys, err)
		}
	}
	return action.Ok("created indices for %s", p.Keys), nil
}

// AddColumn issues ALTER TABLE ADD COLUMN for a newly observed column,
// satisfying instance.SchemaEvolver (spec section 4.4 step 5).
func (i *Instance) AddColumn(ctx context.Context, p *pipe.Pipe, column string, d dtype.Dtype) (action.Result, error) {
	stmt, err := AlterTableAddColumnSQL(p, column, d, i.flavor)
	if err != nil {
		return action.Result{}, err
	}
	if _, err := i.db.ExecContext(ctx, stmt); err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: add column %q to %s: %w", column, p.Keys, err)
	}
	return action.Ok("added column %q to %s", column, p.Keys), nil
}

// WidenColumn issues ALTER COLUMN TYPE for an existing column whose
// observed dtype widens the stored one, satisfying
// instance.SchemaEvolver (spec section 4.4 step 5).
func (i *Instance) WidenColumn(ctx context.Context, p *pipe.Pipe, column string, newType dtype.Dtype) (action.Result, error) {
	stmt, err := AlterColumnWidenSQL(p, column, newType, i.flavor)
	if err != nil {
		return action.Result{}, err
	}
	if _, err := i.db.ExecContext(ctx, stmt); err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: widen column %q on %s: %w", column, p.Keys, err)
	}
	return action.Ok("widened column %q on %s", column, p.Keys), nil
}

// CreateTableIfNotExistsSQL wraps CreateTableSQL with an idempotent guard.
func CreateTableIfNotExistsSQL(p *pipe.Pipe, f Flavor) (string, error) {
	stmt, err := CreateTableSQL(p, f)
	if err != nil {
		return "", err
	}
	return strings.Replace(stmt, "CREATE TABLE ", "CREATE TABLE IF NOT EXISTS ", 1), nil
}

var _ instancepkg.Instance = (*Instance)(nil)
var _ instancepkg.SchemaEvolver = (*Instance)(nil)
var _ instancepkg.InPlaceSyncer = (*Instance)(nil)
