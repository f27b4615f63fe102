package sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mrsm/internal/action"
	"mrsm/internal/merr"
	"mrsm/internal/pipe"
)

// SyncPipeInplace implements instance.InPlaceSyncer (spec section 4.5):
// when a pipe's connector and instance are the same database, rows
// never need to leave it. Parameters.SourceQuery names the SELECT that
// defines the pipe's data; this materializes that query's backtracked
// window into a scratch table in the internal namespace, then applies
// it to the target with one upsert-from-select statement, letting the
// backend's own merge semantics sort insert from update.
func (i *Instance) SyncPipeInplace(ctx context.Context, p *pipe.Pipe) (action.Result, error) {
	query := strings.TrimSpace(p.Parameters.SourceQuery)
	if query == "" {
		return action.Result{}, fmt.Errorf("instance/sql: pipe %s has no source query for in-place sync: %w", p.Keys, merr.ErrConfiguration)
	}
	if !strings.HasPrefix(strings.ToUpper(query), "SELECT") {
		return action.Result{}, fmt.Errorf("instance/sql: pipe %s source query must be a bare SELECT, not %q: %w", p.Keys, firstWord(query), merr.ErrConfiguration)
	}

	windowed, err := i.windowSourceQuery(ctx, p, query)
	if err != nil {
		return action.Result{}, err
	}

	scratch := QualifyInternal(i.flavor, scratchTableName(p))
	cols := sortedColumns(p.Dtypes)

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: begin in-place sync for %s: %w", p.Keys, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s;", scratch)); err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: drop scratch table for %s: %w", p.Keys, err)
	}
	createScratch := fmt.Sprintf("CREATE TABLE %s AS (%s);", scratch, windowed)
	if _, err := tx.ExecContext(ctx, createScratch); err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: materialize source query for %s: %w", p.Keys, err)
	}

	target := i.flavor.QuoteIdentifier(p.DefaultTarget())
	selectFromScratch := fmt.Sprintf("SELECT %s FROM %s", columnListSQL(i.flavor, cols), scratch)
	upsert := i.flavor.UpsertFromSelectSQL(target, cols, p.IndexColumns(), selectFromScratch)
	res, err := tx.ExecContext(ctx, upsert)
	if err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: upsert from source query for %s: %w", p.Keys, err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s;", scratch)); err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: drop scratch table for %s: %w", p.Keys, err)
	}

	if err := tx.Commit(); err != nil {
		return action.Result{}, fmt.Errorf("instance/sql: commit in-place sync for %s: %w", p.Keys, err)
	}
	i.exists.Invalidate(p.Keys)

	n, _ := res.RowsAffected()
	return action.Ok("synced %d rows in place for %s", n, p.Keys), nil
}

// windowSourceQuery wraps query so it only reads rows at or after the
// backtracked sync time, mirroring the fetch path's begin resolution
// (Syncer.resolveBegin) without leaving the database.
func (i *Instance) windowSourceQuery(ctx context.Context, p *pipe.Pipe, query string) (string, error) {
	dtCol, hasDatetime := p.DatetimeColumn()
	if !hasDatetime {
		return fmt.Sprintf("SELECT * FROM (%s) AS src", query), nil
	}

	newest, err := i.GetSyncTime(ctx, p, nil, true, false)
	if err != nil {
		return "", fmt.Errorf("instance/sql: resolve in-place sync time for %s: %w", p.Keys, err)
	}
	if newest == nil {
		return fmt.Sprintf("SELECT * FROM (%s) AS src", query), nil
	}

	backtrack := time.Duration(p.BacktrackMinutes()) * time.Minute
	begin := newest.Add(-backtrack)
	return fmt.Sprintf("SELECT * FROM (%s) AS src WHERE %s >= %s",
		query, i.flavor.QuoteIdentifier(dtCol), quoteTimeLiteral(begin)), nil
}

// scratchTableName derives a stable, per-pipe scratch table identifier
// from its target name so concurrent in-place syncs of different pipes
// never collide.
func scratchTableName(p *pipe.Pipe) string {
	safe := strings.NewReplacer(":", "_", " ", "_", "-", "_").Replace(p.DefaultTarget())
	return "sync_scratch_" + safe
}

func quoteTimeLiteral(t time.Time) string {
	return "'" + t.UTC().Format("2006-01-02 15:04:05.999999999") + "'"
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}
