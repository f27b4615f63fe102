package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrsm/internal/dataframe"
	"mrsm/internal/dtype"
	"mrsm/internal/instance"
	"mrsm/internal/pipe"
)

type fakeSourceInstance struct {
	instance.Instance
	rows []dtype.Row
}

func (f *fakeSourceInstance) GetData(_ context.Context, _ *pipe.Pipe, _ instance.GetDataOptions) (dataframe.Source, error) {
	return dataframe.NewSliceSource(dataframe.New([]string{"ts", "v"}, f.rows)), nil
}

func TestRegisterAndOpen(t *testing.T) {
	prev := resetRegistry(map[Type]Constructor{})
	defer resetRegistry(prev)

	Register("fake", func(dsn string) (Connector, error) {
		return InstanceConnector{Source: &fakeSourceInstance{}}, nil
	})

	assert.True(t, Registered("fake"))
	c, err := Open("fake", "dsn")
	require.NoError(t, err)
	assert.True(t, c.Capabilities().IsInstance)
}

func TestOpenUnregisteredTypeFails(t *testing.T) {
	prev := resetRegistry(map[Type]Constructor{})
	defer resetRegistry(prev)

	_, err := Open("missing", "dsn")
	assert.Error(t, err)
}

func TestInstanceConnectorFetchDelegatesToGetData(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSourceInstance{rows: []dtype.Row{{"ts": base, "v": 1.0}}}
	c := InstanceConnector{Source: src}

	out, err := c.Fetch(context.Background(), &pipe.Pipe{Keys: pipe.Keys{Connector: "sql:other"}}, nil, nil)
	require.NoError(t, err)

	var total int
	err = dataframe.Drain(context.Background(), out, func(ch dataframe.Chunk) error {
		if ch.Batch != nil {
			total += ch.Batch.Len()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestAsFetchFuncAdaptsConnector(t *testing.T) {
	src := &fakeSourceInstance{rows: []dtype.Row{{"ts": time.Now(), "v": 2.0}}}
	c := InstanceConnector{Source: src}
	fn := AsFetchFunc(c)

	_, err := fn(context.Background(), &pipe.Pipe{}, nil, nil)
	require.NoError(t, err)
}
