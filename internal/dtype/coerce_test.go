package dtype

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnforceDtypesIdempotent(t *testing.T) {
	t.Parallel()

	dtypes := map[string]Dtype{
		"id":  MustParse("int"),
		"v":   MustParse("numeric"),
		"dt":  MustParse("datetime64[ns,UTC]"),
		"ok":  MustParse("bool"),
		"tag": MustParse("str"),
	}
	row := Row{
		"id":  "42",
		"v":   10,
		"dt":  "2023-01-02T00:00:00+01:00",
		"ok":  "true",
		"tag": 7,
	}

	first, err := EnforceDtypes(row, dtypes, true, true)
	require.NoError(t, err)

	second, err := EnforceDtypes(first, dtypes, true, true)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(42), first["id"])
	assert.True(t, first["v"].(decimal.Decimal).Equal(decimal.NewFromInt(10)))
	assert.Equal(t, true, first["ok"])
	assert.Equal(t, "7", first["tag"])

	dt := first["dt"].(time.Time)
	assert.Equal(t, time.UTC, dt.Location())
	assert.Equal(t, 23, dt.Hour())
}

func TestEnforceDtypesFailsOnMismatchWhenEnforced(t *testing.T) {
	t.Parallel()

	dtypes := map[string]Dtype{"n": MustParse("int")}
	_, err := EnforceDtypes(Row{"n": "foo"}, dtypes, true, true)
	assert.Error(t, err)
}

func TestEnforceDtypesPassesThroughWhenNotEnforced(t *testing.T) {
	t.Parallel()

	dtypes := map[string]Dtype{"n": MustParse("int")}
	out, err := EnforceDtypes(Row{"n": "foo"}, dtypes, false, true)
	require.NoError(t, err)
	assert.Equal(t, "foo", out["n"])
}

func TestTimezoneMix(t *testing.T) {
	t.Parallel()

	// S6: mixed offsets normalize to UTC.
	a, err := coerceDatetime("2023-01-01T00:00:00+00:00", true)
	require.NoError(t, err)
	b, err := coerceDatetime("2023-01-02T00:00:00+01:00", true)
	require.NoError(t, err)

	assert.Equal(t, "2023-01-01T00:00:00Z", a.Format(time.RFC3339))
	assert.Equal(t, "2023-01-01T23:00:00Z", b.Format(time.RFC3339))
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	in := `{"b":2,"a":1}`
	decoded, err := coerceJSON(in)
	require.NoError(t, err)

	out, err := CanonicalJSON(decoded)
	require.NoError(t, err)

	// Re-decoding the canonical form must produce the same structure again.
	redecoded, err := coerceJSON(out)
	require.NoError(t, err)
	assert.Equal(t, decoded, redecoded)
}

func TestCoerceUUID(t *testing.T) {
	t.Parallel()

	v, err := coerceUUID("123e4567-e89b-12d3-a456-426614174000")
	require.NoError(t, err)
	assert.Equal(t, "123e4567-e89b-12d3-a456-426614174000", v.String())

	_, err = coerceUUID("not-a-uuid")
	assert.Error(t, err)
}

func TestBytesBase64Fallback(t *testing.T) {
	t.Parallel()

	b := []byte("hello")
	encoded := BytesToBase64(b)
	decoded, err := Base64ToBytes(encoded)
	require.NoError(t, err)
	assert.Equal(t, b, decoded)
}
