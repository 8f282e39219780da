package jsoncodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type order struct {
	ID    int      `json:"id"`
	Items []string `json:"items"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, order{ID: 7, Items: []string{"a"}}))
	assert.Equal(t, "{\"id\":7,\"items\":[\"a\"]}\n", buf.String())

	var decoded order
	require.NoError(t, Decode(&buf, &decoded))
	assert.Equal(t, order{ID: 7, Items: []string{"a"}}, decoded)
}

func TestMarshalKeepsNullSlices(t *testing.T) {
	data, err := Marshal(order{ID: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"items":null}`, string(data))
}

func TestCompactSortsKeysAndRendersEmptyCollections(t *testing.T) {
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, Compact(map[string]int{"c": 3, "a": 1, "b": 2}))
	assert.Equal(t, `{"id":1,"items":[]}`, Compact(order{ID: 1}))
	assert.Equal(t, "null", Compact(nil))
}

func TestCompactFallsBackOnUnsupportedValues(t *testing.T) {
	got := Compact(map[string]any{"fn": func() {}})
	assert.NotEmpty(t, got)
	assert.Contains(t, got, "fn")
}
