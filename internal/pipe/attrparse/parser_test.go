package attrparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `
[pipe]
connector = "plugin:weather"
metric = "temperature"
location = "denver"
instance = "sql:main"
target = "weather_temperature_denver"

[columns]
datetime = "ts"
primary = "id"
station = "station_id"

[dtypes]
ts = "datetime"
id = "int"
station_id = "str"
reading = "numeric[10,2]"

[indices]
unique = ["ts", "station_id"]

[parameters]
upsert = true
enforce = true
tags = ["weather", "hourly"]
`

func TestParseValidDocument(t *testing.T) {
	t.Parallel()

	p, err := Parse(strings.NewReader(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "plugin:weather", p.Keys.Connector)
	assert.Equal(t, "temperature", p.Keys.Metric)
	assert.Equal(t, "sql:main", p.Keys.Instance)
	assert.Equal(t, "weather_temperature_denver", p.Target)
	assert.True(t, p.Parameters.Upsert)
	assert.True(t, p.Parameters.HasTag("hourly"))

	dtCol, ok := p.DatetimeColumn()
	require.True(t, ok)
	assert.Equal(t, "ts", dtCol)

	assert.Equal(t, []string{"ts", "station_id"}, p.Indices["unique"])
	assert.Equal(t, 10, p.Dtypes["reading"].Precision)
}

func TestParseMissingIdentityFails(t *testing.T) {
	t.Parallel()

	_, err := Parse(strings.NewReader(`
[columns]
datetime = "ts"
`))
	assert.Error(t, err)
}

func TestParseBadDtypeFails(t *testing.T) {
	t.Parallel()

	_, err := Parse(strings.NewReader(`
[pipe]
connector = "c"
metric = "m"
instance = "sql:main"

[dtypes]
bad = "not-a-real-dtype("
`))
	assert.Error(t, err)
}
