package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrsm/internal/action"
	"mrsm/internal/config"
	"mrsm/internal/dataframe"
	"mrsm/internal/dtype"
	"mrsm/internal/instance"
	"mrsm/internal/pipe"
)

const testFlavor instance.Flavor = "enginetest"

// fakeInstance is a minimal in-memory instance.Instance double, one
// per opened DSN, registered under testFlavor so Engine can resolve
// "instances.<label>" entries without a real database.
type fakeInstance struct {
	dsn   string
	pipes map[string]*pipe.Pipe
	rows  map[string][]dtype.Row
}

func newFakeInstance(dsn string) (instance.Instance, error) {
	return &fakeInstance{dsn: dsn, pipes: map[string]*pipe.Pipe{}, rows: map[string][]dtype.Row{}}, nil
}

func (f *fakeInstance) RegisterPipe(_ context.Context, p *pipe.Pipe) (action.Result, error) {
	f.pipes[p.Keys.String()] = p
	return action.Ok("registered"), nil
}
func (f *fakeInstance) EditPipe(ctx context.Context, p *pipe.Pipe) (action.Result, error) {
	return f.RegisterPipe(ctx, p)
}
func (f *fakeInstance) DeletePipe(_ context.Context, p *pipe.Pipe) (action.Result, error) {
	delete(f.pipes, p.Keys.String())
	return action.Ok("deleted"), nil
}
func (f *fakeInstance) FetchPipesKeys(_ context.Context, filter action.Keys) ([]pipe.Keys, error) {
	var out []pipe.Keys
	for _, p := range f.pipes {
		if filter.Empty() || (filter.MatchConnector(p.Keys.Connector) && filter.MatchMetric(p.Keys.Metric) &&
			filter.MatchLocation(p.Keys.Location) && filter.MatchInstance(p.Keys.Instance) && filter.MatchTags(p.Parameters.Tags)) {
			out = append(out, p.Keys)
		}
	}
	return out, nil
}
func (f *fakeInstance) FetchPipeParameters(k pipe.Keys) (pipe.Parameters, error) {
	p, ok := f.pipes[k.String()]
	if !ok {
		return pipe.Parameters{}, nil
	}
	return p.Parameters, nil
}
func (f *fakeInstance) FetchPipe(_ context.Context, k pipe.Keys) (*pipe.Pipe, error) {
	return f.pipes[k.String()], nil
}
func (f *fakeInstance) PipeExists(_ context.Context, p *pipe.Pipe) (bool, error) {
	_, ok := f.pipes[p.Keys.String()]
	return ok, nil
}
func (f *fakeInstance) GetColumnsTypes(_ context.Context, p *pipe.Pipe) (map[string]dtype.Dtype, error) {
	return p.Dtypes, nil
}
func (f *fakeInstance) GetSyncTime(_ context.Context, _ *pipe.Pipe, _ map[string]any, _, _ bool) (*time.Time, error) {
	return nil, nil
}
func (f *fakeInstance) GetRowcount(_ context.Context, p *pipe.Pipe, _, _ *time.Time, _ map[string]any, _ bool) (int64, error) {
	return int64(len(f.rows[p.Keys.String()])), nil
}
func (f *fakeInstance) GetData(_ context.Context, p *pipe.Pipe, _ instance.GetDataOptions) (dataframe.Source, error) {
	return dataframe.NewSliceSource(dataframe.New(nil, f.rows[p.Keys.String()])), nil
}
func (f *fakeInstance) SyncPipe(_ context.Context, p *pipe.Pipe, batch dataframe.Batch) (action.Result, error) {
	f.rows[p.Keys.String()] = append(f.rows[p.Keys.String()], batch.Rows...)
	return action.Ok("synced %d", batch.Len()), nil
}
func (f *fakeInstance) ClearPipe(_ context.Context, p *pipe.Pipe, _, _ *time.Time, _ map[string]any) (action.Result, error) {
	delete(f.rows, p.Keys.String())
	return action.Ok("cleared"), nil
}
func (f *fakeInstance) DropPipe(ctx context.Context, p *pipe.Pipe) (action.Result, error) {
	delete(f.pipes, p.Keys.String())
	delete(f.rows, p.Keys.String())
	return action.Ok("dropped"), nil
}
func (f *fakeInstance) DropIndices(_ context.Context, _ *pipe.Pipe) (action.Result, error) {
	return action.Ok("noop"), nil
}
func (f *fakeInstance) CreateIndices(_ context.Context, _ *pipe.Pipe) (action.Result, error) {
	return action.Ok("noop"), nil
}

func writeConfig(t *testing.T, dir string) {
	t.Helper()
	content := []byte(`
instances:
  main:
    flavor: enginetest
    dsn: main-dsn
  other:
    flavor: enginetest
    dsn: other-dsn
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mrsm.yaml"), content, 0o644))
}

func TestEngineResolvesInstancesAndPipes(t *testing.T) {
	instance.Register(testFlavor, newFakeInstance)

	dir := t.TempDir()
	writeConfig(t, dir)
	cfg, err := config.Load(dir)
	require.NoError(t, err)

	e := New(cfg)

	main, err := e.Instance("main")
	require.NoError(t, err)

	p := &pipe.Pipe{Keys: pipe.Keys{Connector: "main", Metric: "temp", Instance: "main"}}
	_, err = main.RegisterPipe(context.Background(), p)
	require.NoError(t, err)

	pipes, err := e.ResolvePipes(context.Background(), action.Keys{})
	require.NoError(t, err)
	require.Len(t, pipes, 1)
	assert.Equal(t, "temp", pipes[0].Keys.Metric)
}

func TestEngineSyncerInPlaceHasNilFetch(t *testing.T) {
	instance.Register(testFlavor, newFakeInstance)

	dir := t.TempDir()
	writeConfig(t, dir)
	cfg, err := config.Load(dir)
	require.NoError(t, err)

	e := New(cfg)
	p := &pipe.Pipe{Keys: pipe.Keys{Connector: "main", Metric: "temp", Instance: "main"}}

	s, err := e.Syncer(p)
	require.NoError(t, err)
	assert.Nil(t, s.Fetch)
}

func TestEngineSyncerCrossInstanceWrapsConnector(t *testing.T) {
	instance.Register(testFlavor, newFakeInstance)

	dir := t.TempDir()
	writeConfig(t, dir)
	cfg, err := config.Load(dir)
	require.NoError(t, err)

	e := New(cfg)
	p := &pipe.Pipe{Keys: pipe.Keys{Connector: "other", Metric: "temp", Instance: "main"}}

	s, err := e.Syncer(p)
	require.NoError(t, err)
	require.NotNil(t, s.Fetch)

	_, err = s.Fetch(context.Background(), p, nil, nil)
	assert.NoError(t, err)
}

func TestEngineInstanceMissingFlavorFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mrsm.yaml"), []byte("instances:\n  broken: {}\n"), 0o644))
	cfg, err := config.Load(dir)
	require.NoError(t, err)

	e := New(cfg)
	_, err = e.Instance("broken")
	assert.Error(t, err)
}
