package sql_test

import (
	"context"
	stdsql "database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrsm/internal/dataframe"
	"mrsm/internal/dtype"
	sqlinstance "mrsm/internal/instance/sql"
	"mrsm/internal/instance/sql/flavors"
	"mrsm/internal/pipe"
)

// In-place sync is exercised against a real SQLite database: two pipes
// share one connection, and the downstream pipe's SourceQuery reads
// straight out of the upstream pipe's table, per spec section 4.5.
func openTestSQLite(t *testing.T) *stdsql.DB {
	t.Helper()
	db, err := stdsql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	return db
}

func rawPipe() *pipe.Pipe {
	return &pipe.Pipe{
		Keys:    pipe.Keys{Connector: "plugin:weather", Metric: "raw", Instance: "sql:main"},
		Target:  "weather_raw",
		Columns: map[string]string{pipe.RoleDatetime: "ts"},
		Dtypes: map[string]dtype.Dtype{
			"ts":      dtype.MustParse("datetime64[ns,UTC]"),
			"station": dtype.MustParse("str"),
			"reading": dtype.MustParse("float"),
		},
	}
}

func aggregatedPipe() *pipe.Pipe {
	return &pipe.Pipe{
		Keys:   pipe.Keys{Connector: "sql:main", Metric: "aggregated", Instance: "sql:main"},
		Target: "weather_aggregated",
		Columns: map[string]string{
			pipe.RoleDatetime: "ts",
			"station":         "station",
		},
		Dtypes: map[string]dtype.Dtype{
			"ts":      dtype.MustParse("datetime64[ns,UTC]"),
			"station": dtype.MustParse("str"),
			"reading": dtype.MustParse("float"),
		},
		Parameters: pipe.Parameters{
			Upsert:      true,
			SourceQuery: `SELECT "ts", "station", "reading" FROM "weather_raw"`,
		},
	}
}

func TestSyncPipeInplaceMaterializesSourceQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestSQLite(t)

	inst, err := sqlinstance.NewInstance(ctx, db, flavors.SQLite{})
	require.NoError(t, err)

	raw := rawPipe()
	_, err = inst.RegisterPipe(ctx, raw)
	require.NoError(t, err)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = inst.SyncPipe(ctx, raw, dataframe.Batch{
		Columns: []string{"ts", "station", "reading"},
		Rows: []dtype.Row{
			{"ts": ts, "station": "kew", "reading": 12.5},
			{"ts": ts.Add(time.Hour), "station": "kew", "reading": 13.0},
		},
	})
	require.NoError(t, err)

	agg := aggregatedPipe()
	_, err = inst.RegisterPipe(ctx, agg)
	require.NoError(t, err)

	res, err := inst.SyncPipeInplace(ctx, agg)
	require.NoError(t, err)
	assert.True(t, res.OK)

	count, err := inst.GetRowcount(ctx, agg, nil, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSyncPipeInplaceRejectsNonSelectSourceQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestSQLite(t)

	inst, err := sqlinstance.NewInstance(ctx, db, flavors.SQLite{})
	require.NoError(t, err)

	agg := aggregatedPipe()
	agg.Parameters.SourceQuery = `DELETE FROM "weather_raw"`
	_, err = inst.RegisterPipe(ctx, agg)
	require.NoError(t, err)

	_, err = inst.SyncPipeInplace(ctx, agg)
	require.Error(t, err)
}

func TestSyncPipeInplaceRequiresSourceQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestSQLite(t)

	inst, err := sqlinstance.NewInstance(ctx, db, flavors.SQLite{})
	require.NoError(t, err)

	agg := aggregatedPipe()
	agg.Parameters.SourceQuery = ""
	_, err = inst.RegisterPipe(ctx, agg)
	require.NoError(t, err)

	_, err = inst.SyncPipeInplace(ctx, agg)
	require.Error(t, err)
}
