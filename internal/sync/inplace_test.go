package sync

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

// fakeInplaceInstance adds InPlaceSyncer on top of fakeInstance so
// Sync's connector==instance branch can be exercised without a real
// database.
type fakeInplaceInstance struct {
	*fakeInstance
	called bool
	result action.Result
	err    error
}

func (f *fakeInplaceInstance) SyncPipeInplace(context.Context, *pipe.Pipe) (action.Result, error) {
	f.called = true
	return f.result, f.err
}

func inplacePipe() *pipe.Pipe {
	p := weatherSyncPipe()
	p.Keys.Connector = p.Keys.Instance
	p.Parameters.SourceQuery = `SELECT "ts", "station", "reading" FROM "weather_raw"`
	return p
}

func TestSyncTakesInplacePathWhenConnectorMatchesInstance(t *testing.T) {
	t.Parallel()

	target := &fakeInplaceInstance{
		fakeInstance: newFakeInstance(map[string]dtype.Dtype{}),
		result:       action.Ok("synced in place"),
	}
	s := New(target, nil)

	res, err := s.Sync(context.Background(), inplacePipe(), Options{})
	require.NoError(t, err)
	assert.True(t, target.called)
	assert.True(t, res.OK)
}

func TestSyncFallsThroughToFetchWhenNoSourceQuery(t *testing.T) {
	t.Parallel()

	target := &fakeInplaceInstance{fakeInstance: newFakeInstance(map[string]dtype.Dtype{})}
	p := inplacePipe()
	p.Parameters.SourceQuery = ""

	called := false
	fetch := func(ctx context.Context, p *pipe.Pipe, begin *time.Time, params map[string]any) (dataframe.Source, error) {
		called = true
		return dataframe.NewSliceSource(), nil
	}
	s := New(target, fetch)

	_, err := s.Sync(context.Background(), p, Options{SkipCheckExisting: true})
	require.NoError(t, err)
	assert.False(t, target.called)
	assert.True(t, called)
}
