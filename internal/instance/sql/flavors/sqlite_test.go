package flavors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrsm/internal/action"
	"mrsm/internal/dataframe"
	"mrsm/internal/dtype"
	"mrsm/internal/pipe"
)

func testWeatherPipe() *pipe.Pipe {
	return &pipe.Pipe{
		Keys: pipe.Keys{Connector: "plugin:weather", Metric: "temperature", Instance: "sql:test"},
		Columns: map[string]string{
			pipe.RoleDatetime: "ts",
			"station":         "station_id",
		},
		Dtypes: map[string]dtype.Dtype{
			"ts":         dtype.MustParse("datetime64[ns,UTC]"),
			"station_id": dtype.MustParse("str"),
			"reading":    dtype.MustParse("float"),
		},
		Parameters: pipe.Parameters{Upsert: true},
	}
}

func TestSQLiteInstanceRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	inst, err := openSQLite(":memory:")
	require.NoError(t, err)

	p := testWeatherPipe()

	res, err := inst.RegisterPipe(ctx, p)
	require.NoError(t, err)
	assert.True(t, res.OK)

	exists, err := inst.PipeExists(ctx, p)
	require.NoError(t, err)
	assert.True(t, exists)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := dataframe.Batch{
		Columns: []string{"ts", "station_id", "reading"},
		Rows: []dtype.Row{
			{"ts": ts, "station_id": "A", "reading": 12.5},
			{"ts": ts.Add(time.Hour), "station_id": "B", "reading": 13.5},
		},
	}
	syncRes, err := inst.SyncPipe(ctx, p, batch)
	require.NoError(t, err)
	assert.True(t, syncRes.OK)

	count, err := inst.GetRowcount(ctx, p, nil, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	keys, err := inst.FetchPipesKeys(ctx, action.Keys{})
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.Equal(t, p.Keys, keys[0])

	params, err := inst.FetchPipeParameters(p.Keys)
	require.NoError(t, err)
	assert.True(t, params.Upsert)
}

func TestSQLiteInstanceSyncPipeIsIdempotentUnderUpsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	inst, err := openSQLite(":memory:")
	require.NoError(t, err)
	p := testWeatherPipe()
	_, err = inst.RegisterPipe(ctx, p)
	require.NoError(t, err)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := dataframe.Batch{
		Columns: []string{"ts", "station_id", "reading"},
		Rows:    []dtype.Row{{"ts": ts, "station_id": "A", "reading": 12.5}},
	}

	_, err = inst.SyncPipe(ctx, p, batch)
	require.NoError(t, err)
	_, err = inst.SyncPipe(ctx, p, batch)
	require.NoError(t, err)

	count, err := inst.GetRowcount(ctx, p, nil, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "re-syncing the same indexed row must not duplicate it")
}
