package instance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrsm/internal/action"
	"mrsm/internal/dataframe"
	"mrsm/internal/dtype"
	"mrsm/internal/pipe"
)

// fakeInstance is a minimal in-memory Instance used only to exercise
// the registry and the capability-checked optional interfaces.
type fakeInstance struct {
	params map[string]pipe.Parameters
}

func newFakeInstance(dsn string) (Instance, error) {
	return &fakeInstance{params: make(map[string]pipe.Parameters)}, nil
}

func (f *fakeInstance) RegisterPipe(_ context.Context, p *pipe.Pipe) (action.Result, error) {
	f.params[p.Keys.String()] = p.Parameters
	return action.Ok(""), nil
}
func (f *fakeInstance) EditPipe(_ context.Context, p *pipe.Pipe) (action.Result, error) {
	f.params[p.Keys.String()] = p.Parameters
	return action.Ok(""), nil
}
func (f *fakeInstance) DeletePipe(_ context.Context, p *pipe.Pipe) (action.Result, error) {
	delete(f.params, p.Keys.String())
	return action.Ok(""), nil
}
func (f *fakeInstance) FetchPipesKeys(_ context.Context, _ action.Keys) ([]pipe.Keys, error) {
	return nil, nil
}
func (f *fakeInstance) FetchPipeParameters(k pipe.Keys) (pipe.Parameters, error) {
	return f.params[k.String()], nil
}
func (f *fakeInstance) FetchPipe(_ context.Context, k pipe.Keys) (*pipe.Pipe, error) {
	params, ok := f.params[k.String()]
	if !ok {
		return nil, fmt.Errorf("fakeInstance: pipe %s not found", k)
	}
	return &pipe.Pipe{Keys: k, Parameters: params}, nil
}
func (f *fakeInstance) PipeExists(_ context.Context, p *pipe.Pipe) (bool, error) {
	_, ok := f.params[p.Keys.String()]
	return ok, nil
}
func (f *fakeInstance) GetColumnsTypes(_ context.Context, _ *pipe.Pipe) (map[string]dtype.Dtype, error) {
	return nil, nil
}
func (f *fakeInstance) GetSyncTime(_ context.Context, _ *pipe.Pipe, _ map[string]any, _, _ bool) (*time.Time, error) {
	return nil, nil
}
func (f *fakeInstance) GetRowcount(_ context.Context, _ *pipe.Pipe, _, _ *time.Time, _ map[string]any, _ bool) (int64, error) {
	return 0, nil
}
func (f *fakeInstance) GetData(_ context.Context, _ *pipe.Pipe, _ GetDataOptions) (dataframe.Source, error) {
	return dataframe.NewSliceSource(), nil
}
func (f *fakeInstance) SyncPipe(_ context.Context, _ *pipe.Pipe, _ dataframe.Batch) (action.Result, error) {
	return action.Ok(""), nil
}
func (f *fakeInstance) ClearPipe(_ context.Context, _ *pipe.Pipe, _, _ *time.Time, _ map[string]any) (action.Result, error) {
	return action.Ok(""), nil
}
func (f *fakeInstance) DropPipe(_ context.Context, p *pipe.Pipe) (action.Result, error) {
	delete(f.params, p.Keys.String())
	return action.Ok(""), nil
}
func (f *fakeInstance) DropIndices(_ context.Context, _ *pipe.Pipe) (action.Result, error) {
	return action.Ok(""), nil
}
func (f *fakeInstance) CreateIndices(_ context.Context, _ *pipe.Pipe) (action.Result, error) {
	return action.Ok(""), nil
}

func testPipe() *pipe.Pipe {
	return &pipe.Pipe{Keys: pipe.Keys{Connector: "plugin:test", Metric: "m", Instance: "kv:test"}}
}

func TestRegisterAndOpen(t *testing.T) {
	prev := resetRegistry(map[Flavor]Opener{})
	defer resetRegistry(prev)

	Register(FlavorKV, newFakeInstance)
	assert.True(t, Registered(FlavorKV))

	inst, err := Open(FlavorKV, "mem://")
	require.NoError(t, err)
	require.NotNil(t, inst)

	_, err = Open(FlavorMySQL, "mem://")
	assert.Error(t, err)
}

func TestCapabilityChecks(t *testing.T) {
	t.Parallel()

	var i Instance = &fakeInstance{params: map[string]pipe.Parameters{}}
	_, ok := SupportsInplace(i)
	assert.False(t, ok, "fakeInstance does not implement InPlaceSyncer")
	_, ok = SupportsDeduplicate(i)
	assert.False(t, ok, "fakeInstance does not implement Deduplicator")
}

func TestExistsCacheServesWithinTTL(t *testing.T) {
	t.Parallel()

	calls := 0
	cache := NewExistsCache(50 * time.Millisecond)
	p := testPipe()

	check := func() (bool, error) {
		calls++
		return true, nil
	}

	exists, err := cache.Get(p.Keys, check)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = cache.Get(p.Keys, check)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, calls, "second Get within TTL must not re-check")

	time.Sleep(60 * time.Millisecond)
	_, err = cache.Get(p.Keys, check)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "Get after TTL expiry must re-check")
}

func TestExistsCacheInvalidate(t *testing.T) {
	t.Parallel()

	calls := 0
	cache := NewExistsCache(time.Minute)
	p := testPipe()
	check := func() (bool, error) { calls++; return true, nil }

	_, _ = cache.Get(p.Keys, check)
	cache.Invalidate(p.Keys)
	_, _ = cache.Get(p.Keys, check)
	assert.Equal(t, 2, calls)
}

func TestFetchPipeParametersSatisfiesRegistryReader(t *testing.T) {
	t.Parallel()

	f := &fakeInstance{params: map[string]pipe.Parameters{}}
	p := testPipe()
	p.Parameters.Upsert = true
	_, err := f.RegisterPipe(context.Background(), p)
	require.NoError(t, err)

	cache := pipe.NewParameterCache(f, pipe.DefaultTTL)
	got, err := cache.Get(p.Keys)
	require.NoError(t, err)
	assert.True(t, got.Upsert)
}
