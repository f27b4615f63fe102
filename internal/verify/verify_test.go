package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrsm/internal/action"
	"mrsm/internal/dataframe"
	"mrsm/internal/dtype"
	"mrsm/internal/instance"
	"mrsm/internal/pipe"
	syncpkg "mrsm/internal/sync"
)

// fakeVerifyInstance is a minimal in-memory instance.Instance double
// whose rowcount reflects the rows currently held, so Verify can be
// exercised without a real database.
type fakeVerifyInstance struct {
	rows         []dtype.Row
	checkpoints  map[string]time.Time
	syncCalls    int
	clearCalls   int
}

func newFakeVerifyInstance(rows []dtype.Row) *fakeVerifyInstance {
	return &fakeVerifyInstance{rows: rows, checkpoints: map[string]time.Time{}}
}

func (f *fakeVerifyInstance) RegisterPipe(context.Context, *pipe.Pipe) (action.Result, error) { return action.Ok(""), nil }
func (f *fakeVerifyInstance) EditPipe(context.Context, *pipe.Pipe) (action.Result, error)     { return action.Ok(""), nil }
func (f *fakeVerifyInstance) DeletePipe(context.Context, *pipe.Pipe) (action.Result, error)   { return action.Ok(""), nil }
func (f *fakeVerifyInstance) FetchPipesKeys(context.Context, action.Keys) ([]pipe.Keys, error) { return nil, nil }
func (f *fakeVerifyInstance) FetchPipeParameters(pipe.Keys) (pipe.Parameters, error)           { return pipe.Parameters{}, nil }
func (f *fakeVerifyInstance) FetchPipe(context.Context, pipe.Keys) (*pipe.Pipe, error)         { return nil, nil }
func (f *fakeVerifyInstance) PipeExists(context.Context, *pipe.Pipe) (bool, error)             { return true, nil }
func (f *fakeVerifyInstance) GetColumnsTypes(context.Context, *pipe.Pipe) (map[string]dtype.Dtype, error) {
	return nil, nil
}

func (f *fakeVerifyInstance) GetSyncTime(_ context.Context, _ *pipe.Pipe, _ map[string]any, newest, _ bool) (*time.Time, error) {
	if len(f.rows) == 0 {
		return nil, nil
	}
	var result time.Time
	for i, r := range f.rows {
		t := r["ts"].(time.Time)
		if i == 0 || (newest && t.After(result)) || (!newest && t.Before(result)) {
			result = t
		}
	}
	return &result, nil
}

func (f *fakeVerifyInstance) GetRowcount(_ context.Context, _ *pipe.Pipe, begin, end *time.Time, _ map[string]any, _ bool) (int64, error) {
	var n int64
	for _, r := range f.rows {
		t := r["ts"].(time.Time)
		if begin != nil && t.Before(*begin) {
			continue
		}
		if end != nil && !t.Before(*end) {
			continue
		}
		n++
	}
	return n, nil
}

func (f *fakeVerifyInstance) GetData(_ context.Context, _ *pipe.Pipe, opts instance.GetDataOptions) (dataframe.Source, error) {
	var rows []dtype.Row
	for _, r := range f.rows {
		t := r["ts"].(time.Time)
		if opts.Begin != nil && t.Before(*opts.Begin) {
			continue
		}
		if opts.End != nil && !t.Before(*opts.End) {
			continue
		}
		rows = append(rows, r)
	}
	return dataframe.NewSliceSource(dataframe.New([]string{"ts", "station", "reading"}, rows)), nil
}

func (f *fakeVerifyInstance) SyncPipe(_ context.Context, _ *pipe.Pipe, batch dataframe.Batch) (action.Result, error) {
	f.syncCalls++
	f.rows = append(f.rows, batch.Rows...)
	return action.Ok("synced %d", batch.Len()), nil
}

func (f *fakeVerifyInstance) ClearPipe(_ context.Context, _ *pipe.Pipe, begin, end *time.Time, _ map[string]any) (action.Result, error) {
	f.clearCalls++
	var kept []dtype.Row
	for _, r := range f.rows {
		t := r["ts"].(time.Time)
		if begin != nil && t.Before(*begin) {
			kept = append(kept, r)
			continue
		}
		if end != nil && !t.Before(*end) {
			kept = append(kept, r)
			continue
		}
	}
	f.rows = kept
	return action.Ok(""), nil
}

func (f *fakeVerifyInstance) DropPipe(context.Context, *pipe.Pipe) (action.Result, error)     { return action.Ok(""), nil }
func (f *fakeVerifyInstance) DropIndices(context.Context, *pipe.Pipe) (action.Result, error)  { return action.Ok(""), nil }
func (f *fakeVerifyInstance) CreateIndices(context.Context, *pipe.Pipe) (action.Result, error) { return action.Ok(""), nil }

func (f *fakeVerifyInstance) SaveCheckpoint(_ context.Context, p *pipe.Pipe, label string, at time.Time) error {
	f.checkpoints[p.Keys.String()+"/"+label] = at
	return nil
}
func (f *fakeVerifyInstance) LoadCheckpoint(_ context.Context, p *pipe.Pipe, label string) (*time.Time, error) {
	t, ok := f.checkpoints[p.Keys.String()+"/"+label]
	if !ok {
		return nil, nil
	}
	return &t, nil
}
func (f *fakeVerifyInstance) ClearCheckpoint(_ context.Context, p *pipe.Pipe, label string) error {
	delete(f.checkpoints, p.Keys.String()+"/"+label)
	return nil
}

var (
	_ instance.Instance        = (*fakeVerifyInstance)(nil)
	_ instance.CheckpointStore = (*fakeVerifyInstance)(nil)
)

func verifyTestPipe() *pipe.Pipe {
	return &pipe.Pipe{
		Keys:    pipe.Keys{Connector: "plugin:weather", Metric: "temperature", Instance: "sql:main"},
		Columns: map[string]string{pipe.RoleDatetime: "ts", "station": "station"},
		Dtypes: map[string]dtype.Dtype{
			"ts":      dtype.MustParse("datetime64[ns,UTC]"),
			"station": dtype.MustParse("str"),
			"reading": dtype.MustParse("float"),
		},
	}
}

func TestVerifyMatchesWhenRowcountsAgree(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []dtype.Row{
		{"ts": base, "station": "kew", "reading": 1.0},
		{"ts": base.Add(48 * time.Hour), "station": "kew", "reading": 2.0},
	}
	target := newFakeVerifyInstance(rows)
	remote := func(ctx context.Context, p *pipe.Pipe, begin, end *time.Time, params map[string]any) (int64, error) {
		return target.GetRowcount(ctx, p, begin, end, params, false)
	}
	v := New(target, nil, remote)

	reports, err := v.Verify(context.Background(), verifyTestPipe(), Options{ChunkInterval: 24 * time.Hour})
	require.NoError(t, err)
	for _, r := range reports {
		assert.False(t, r.Resynced, "matching chunk must not trigger a resync")
	}
}

func TestVerifyResyncsMismatchedChunk(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	localRows := []dtype.Row{{"ts": base, "station": "kew", "reading": 1.0}}
	target := newFakeVerifyInstance(localRows)

	remote := func(ctx context.Context, p *pipe.Pipe, begin, end *time.Time, params map[string]any) (int64, error) {
		return 2, nil // source has one more row than local
	}
	fetch := func(ctx context.Context, p *pipe.Pipe, begin *time.Time, params map[string]any) (dataframe.Source, error) {
		batch := dataframe.New([]string{"ts", "station", "reading"}, []dtype.Row{
			{"ts": base.Add(time.Hour), "station": "kew", "reading": 3.0},
		})
		return dataframe.NewSliceSource(batch), nil
	}
	syncer := syncpkg.New(target, fetch)
	v := New(target, syncer, remote)

	reports, err := v.Verify(context.Background(), verifyTestPipe(), Options{ChunkInterval: 24 * time.Hour})
	require.NoError(t, err)
	require.NotEmpty(t, reports)
	assert.True(t, reports[0].Resynced)
}

func TestVerifySkipsWhenLocalAlreadyMeetsRemote(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []dtype.Row{{"ts": base, "station": "kew", "reading": 1.0}, {"ts": base, "station": "ny", "reading": 2.0}}
	target := newFakeVerifyInstance(rows)
	remote := func(ctx context.Context, p *pipe.Pipe, begin, end *time.Time, params map[string]any) (int64, error) {
		return 1, nil // local (2) already exceeds remote (1)
	}
	v := New(target, nil, remote)

	reports, err := v.Verify(context.Background(), verifyTestPipe(), Options{
		ChunkInterval:                  24 * time.Hour,
		SkipChunksWithGreaterRowcounts: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, reports)
	assert.True(t, reports[0].Skipped)
}

func TestDeduplicateGenericDropsDuplicateIndexTuples(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []dtype.Row{
		{"ts": base, "station": "kew", "reading": 1.0},
		{"ts": base, "station": "kew", "reading": 9.0}, // duplicate tuple, last wins
	}
	target := newFakeVerifyInstance(rows)
	v := New(target, nil, nil)

	res, err := v.Deduplicate(context.Background(), verifyTestPipe(), Options{ChunkInterval: 24 * time.Hour})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Len(t, target.rows, 1)
	assert.InDelta(t, 9.0, target.rows[0]["reading"].(float64), 0.0001)
}
