package dtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	d, err := Parse("numeric[10,2]")
	require.NoError(t, err)
	assert.Equal(t, KindNumeric, d.Kind)
	assert.Equal(t, 10, d.Precision)
	assert.Equal(t, 2, d.Scale)
	assert.Equal(t, "numeric[10,2]", d.String())

	d2, err := Parse("datetime64[ns,UTC]")
	require.NoError(t, err)
	assert.True(t, d2.IsAware())

	_, err = Parse("not-a-dtype")
	assert.Error(t, err)

	_, err = Parse("numeric[2,5]")
	assert.Error(t, err, "scale cannot exceed precision")
}

func TestWiden(t *testing.T) {
	t.Parallel()

	intD := MustParse("int")
	floatD := MustParse("float")
	numD := MustParse("numeric")

	assert.Equal(t, KindNumeric, Widen(intD, floatD).Kind)
	assert.Equal(t, KindNumeric, Widen(intD, numD).Kind)
	assert.Equal(t, intD, Widen(intD, intD))

	strD := MustParse("str")
	assert.Equal(t, KindStr, Widen(intD, strD).Kind)
}

func TestPhysicalType(t *testing.T) {
	t.Parallel()

	numeric := MustParse("numeric[10,2]")
	pgType, err := PhysicalType(numeric, FlavorPostgreSQL)
	require.NoError(t, err)
	assert.Equal(t, "NUMERIC(10,2)", pgType)

	sqliteType, err := PhysicalType(numeric, FlavorSQLite)
	require.NoError(t, err)
	assert.Equal(t, "TEXT", sqliteType)

	jsonPg, err := PhysicalType(MustParse("json"), FlavorPostgreSQL)
	require.NoError(t, err)
	assert.Equal(t, "JSONB", jsonPg)

	uuidMySQL, err := PhysicalType(MustParse("uuid"), FlavorMySQL)
	require.NoError(t, err)
	assert.Equal(t, "CHAR(36)", uuidMySQL)
}
