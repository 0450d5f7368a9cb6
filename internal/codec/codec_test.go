package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X int    `json:"x" cbor:"x" codec:"x"`
	Y int    `json:"y" cbor:"y" codec:"y"`
	L string `json:"l" cbor:"l" codec:"l"`
}

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"cbor", "json", "msgpack"}, r.Names())

	for _, name := range []string{"cbor", "msgpack", "json", "application/cbor", "application/json"} {
		c, err := r.Get(name)
		require.NoError(t, err, name)
		assert.NotNil(t, c)
	}

	def, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, Default, def.Name())

	_, err = r.Get("xml")
	assert.Error(t, err)
}

func TestStructRoundTrip(t *testing.T) {
	for _, c := range []Codec{CBOR(), Msgpack(), JSON()} {
		t.Run(c.Name(), func(t *testing.T) {
			in := point{X: 3, Y: -4, L: "origin"}
			data, err := c.Marshal(in)
			require.NoError(t, err)

			var out point
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestGenericMapsUseStringKeys(t *testing.T) {
	for _, c := range []Codec{CBOR(), Msgpack(), JSON()} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(map[string]any{"name": "isopool", "n": 2})
			require.NoError(t, err)

			var out any
			require.NoError(t, c.Unmarshal(data, &out))
			m, ok := out.(map[string]any)
			require.True(t, ok, "got %T", out)
			assert.Equal(t, "isopool", m["name"])
		})
	}
}

func TestCBORDeterministic(t *testing.T) {
	c := CBOR()
	a, err := c.Marshal(map[string]int{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	b, err := c.Marshal(map[string]int{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestUnmarshalGarbage(t *testing.T) {
	var n int
	assert.Error(t, JSON().Unmarshal([]byte("{"), &n))
	assert.Error(t, CBOR().Unmarshal([]byte{0xff, 0xff}, &n))
}
