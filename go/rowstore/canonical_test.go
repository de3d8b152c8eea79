package rowstore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sheafdata/sheaf/go/types"
)

func TestCanonicalJSON_KeyOrderDoesNotMatter(t *testing.T) {
	a := types.RowData{"name": "ada", "age": 36, "city": "london"}
	b := types.RowData{"city": "london", "age": 36, "name": "ada"}
	ca, err := CanonicalJSON(a)
	require.NoError(t, err)
	cb, err := CanonicalJSON(b)
	require.NoError(t, err)
	require.Equal(t, string(ca), string(cb))
	require.Equal(t, `{"age":36,"city":"london","name":"ada"}`, string(ca))
}

func TestCanonicalJSON_IntegralFloatsMatchInts(t *testing.T) {
	// A row staged as int and the same row read back from JSONB as float64
	// must serialize identically.
	asInt, err := CanonicalJSON(types.RowData{"n": int64(42)})
	require.NoError(t, err)
	asFloat, err := CanonicalJSON(types.RowData{"n": float64(42)})
	require.NoError(t, err)
	require.Equal(t, string(asInt), string(asFloat))
}

func TestCanonicalJSON_NestedValues(t *testing.T) {
	c, err := CanonicalJSON(types.RowData{
		"list": []interface{}{"b", "a", 1},
		"obj":  map[string]interface{}{"z": nil, "a": true},
	})
	require.NoError(t, err)
	require.Equal(t, `{"list":["b","a",1],"obj":{"a":true,"z":null}}`, string(c))
}

func TestCanonicalJSON_NonFiniteRejected(t *testing.T) {
	_, err := CanonicalJSON(types.RowData{"n": math.NaN()})
	require.Error(t, err)
	_, err = CanonicalJSON(types.RowData{"n": math.Inf(1)})
	require.Error(t, err)
}

func TestHashRow_Deterministic(t *testing.T) {
	h1, err := HashRow(types.RowData{"a": "1", "b": "2"})
	require.NoError(t, err)
	h2, err := HashRow(types.RowData{"b": "2", "a": "1"})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.True(t, h1.Valid())

	h3, err := HashRow(types.RowData{"a": "1", "b": "3"})
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}
