package sql

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"time"

	instancepkg "mrsm/internal/instance"
	"mrsm/internal/pipe"
)

// createCheckpointsTableSQL renders the DDL for verify's resumable
// progress table (spec section 4.6): one row per (pipe identity,
// label), where label distinguishes a verify run from a deduplicate
// run over the same pipe.
func createCheckpointsTableSQL(f Flavor) string {
	table := QualifyInternal(f, "checkpoints")
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  %s TEXT NOT NULL,
  %s TEXT NOT NULL,
  %s TEXT NOT NULL,
  %s TEXT NOT NULL,
  %s TEXT NOT NULL,
  %s TEXT NOT NULL,
  PRIMARY KEY (%s, %s, %s, %s, %s)
);`, table,
		f.QuoteIdentifier("connector"), f.QuoteIdentifier("metric"),
		f.QuoteIdentifier("location"), f.QuoteIdentifier("instance"),
		f.QuoteIdentifier("label"), f.QuoteIdentifier("checkpoint_at"),
		f.QuoteIdentifier("connector"), f.QuoteIdentifier("metric"),
		f.QuoteIdentifier("location"), f.QuoteIdentifier("instance"),
		f.QuoteIdentifier("label"))
}

// SaveCheckpoint persists at as p's resume point for label, satisfying
// instance.CheckpointStore.
func (i *Instance) SaveCheckpoint(ctx context.Context, p *pipe.Pipe, label string, at time.Time) error {
	table := QualifyInternal(i.flavor, "checkpoints")
	deleteStmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s AND %s = %s AND %s = %s AND %s = %s",
		table,
		i.flavor.QuoteIdentifier("connector"), i.flavor.Placeholder(1),
		i.flavor.QuoteIdentifier("metric"), i.flavor.Placeholder(2),
		i.flavor.QuoteIdentifier("location"), i.flavor.Placeholder(3),
		i.flavor.QuoteIdentifier("instance"), i.flavor.Placeholder(4),
		i.flavor.QuoteIdentifier("label"), i.flavor.Placeholder(5))
	if _, err := i.db.ExecContext(ctx, deleteStmt, p.Keys.Connector, p.Keys.Metric, p.Keys.Location, p.Keys.Instance, label); err != nil {
		return fmt.Errorf("instance/sql: clear old checkpoint for %s: %w", p.Keys, err)
	}

	insertStmt := fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s, %s, %s) VALUES (%s)",
		table,
		i.flavor.QuoteIdentifier("connector"), i.flavor.QuoteIdentifier("metric"),
		i.flavor.QuoteIdentifier("location"), i.flavor.QuoteIdentifier("instance"),
		i.flavor.QuoteIdentifier("label"), i.flavor.QuoteIdentifier("checkpoint_at"),
		placeholdersList(i.flavor, 1, 6))
	_, err := i.db.ExecContext(ctx, insertStmt,
		p.Keys.Connector, p.Keys.Metric, p.Keys.Location, p.Keys.Instance, label, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("instance/sql: save checkpoint for %s: %w", p.Keys, err)
	}
	return nil
}

// LoadCheckpoint returns p's saved resume point for label, or nil if none exists.
func (i *Instance) LoadCheckpoint(ctx context.Context, p *pipe.Pipe, label string) (*time.Time, error) {
	table := QualifyInternal(i.flavor, "checkpoints")
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s AND %s = %s AND %s = %s AND %s = %s AND %s = %s",
		i.flavor.QuoteIdentifier("checkpoint_at"), table,
		i.flavor.QuoteIdentifier("connector"), i.flavor.Placeholder(1),
		i.flavor.QuoteIdentifier("metric"), i.flavor.Placeholder(2),
		i.flavor.QuoteIdentifier("location"), i.flavor.Placeholder(3),
		i.flavor.QuoteIdentifier("instance"), i.flavor.Placeholder(4),
		i.flavor.QuoteIdentifier("label"), i.flavor.Placeholder(5))

	var raw string
	err := i.db.QueryRowContext(ctx, stmt, p.Keys.Connector, p.Keys.Metric, p.Keys.Location, p.Keys.Instance, label).Scan(&raw)
	if err == stdsql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("instance/sql: load checkpoint for %s: %w", p.Keys, err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("instance/sql: parse checkpoint for %s: %w", p.Keys, err)
	}
	return &t, nil
}

// ClearCheckpoint removes p's saved resume point for label, e.g. once a
// verify run completes in full.
func (i *Instance) ClearCheckpoint(ctx context.Context, p *pipe.Pipe, label string) error {
	table := QualifyInternal(i.flavor, "checkpoints")
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s AND %s = %s AND %s = %s AND %s = %s",
		table,
		i.flavor.QuoteIdentifier("connector"), i.flavor.Placeholder(1),
		i.flavor.QuoteIdentifier("metric"), i.flavor.Placeholder(2),
		i.flavor.QuoteIdentifier("location"), i.flavor.Placeholder(3),
		i.flavor.QuoteIdentifier("instance"), i.flavor.Placeholder(4),
		i.flavor.QuoteIdentifier("label"), i.flavor.Placeholder(5))
	if _, err := i.db.ExecContext(ctx, stmt, p.Keys.Connector, p.Keys.Metric, p.Keys.Location, p.Keys.Instance, label); err != nil {
		return fmt.Errorf("instance/sql: clear checkpoint for %s: %w", p.Keys, err)
	}
	return nil
}

var _ instancepkg.CheckpointStore = (*Instance)(nil)
