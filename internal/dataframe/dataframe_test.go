package dataframe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrsm/internal/dtype"
)

func TestProject(t *testing.T) {
	t.Parallel()

	b := New(nil, []dtype.Row{
		{"id": int64(1), "v": 10.0, "extra": "x"},
	})
	p := b.Project([]string{"id", "v"})
	assert.Equal(t, []string{"id", "v"}, p.Columns)
	assert.Equal(t, dtype.Row{"id": int64(1), "v": 10.0}, p.Rows[0])
}

func TestCoalesceNulls(t *testing.T) {
	t.Parallel()

	dtypes := map[string]dtype.Dtype{"id": dtype.MustParse("int")}
	b := New(nil, []dtype.Row{{"id": nil, "v": 1}})

	coalesced := CoalesceNulls(b, []string{"id"}, dtypes)
	assert.True(t, IsSentinel(coalesced.Rows[0]["id"], dtypes["id"]))
	assert.Nil(t, b.Rows[0]["id"], "original batch must be untouched")
}

func TestBuildParamsFilterCapsCardinality(t *testing.T) {
	t.Parallel()

	rows := make([]dtype.Row, 0, 300)
	for i := range 300 {
		rows = append(rows, dtype.Row{"station": i, "other": "x"})
	}
	b := New(nil, rows)

	filter := BuildParamsFilter(b, []string{"station", "other"}, 250)
	_, stationPresent := filter["station"]
	assert.False(t, stationPresent, "column exceeding cap must be dropped")

	otherVals, otherPresent := filter["other"]
	assert.True(t, otherPresent)
	assert.Len(t, otherVals, 1)
}

func TestDrainNestedChunks(t *testing.T) {
	t.Parallel()

	inner1 := NewSliceSource(New(nil, []dtype.Row{{"a": 1}}), New(nil, []dtype.Row{{"a": 2}}))
	inner2 := NewSliceSource(New(nil, []dtype.Row{{"a": 3}}))
	outer := NewNestedSource(inner1, inner2)

	var chunks []Chunk
	err := Drain(context.Background(), outer, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].BatchIndex)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 0, chunks[1].BatchIndex)
	assert.Equal(t, 1, chunks[1].ChunkIndex)
	assert.Equal(t, 1, chunks[2].BatchIndex)
	assert.Equal(t, 0, chunks[2].ChunkIndex)
}

func TestDrainFlatChunksEachOwnBatch(t *testing.T) {
	t.Parallel()

	src := NewSliceSource(New(nil, []dtype.Row{{"a": 1}}), New(nil, []dtype.Row{{"a": 2}}))

	var batchIndices []int
	err := Drain(context.Background(), src, func(c Chunk) error {
		batchIndices = append(batchIndices, c.BatchIndex)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, batchIndices)
}
