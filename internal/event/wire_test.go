package event

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalWireBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"nil", nil, "null"},
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"bool", true, "true"},
		{"float", 1.5, "1.5"},
		{"whole float", float64(1700000000), "1700000000"},
		{"fractional timestamp", 1700000000.25, "1700000000.25"},
		{"json number", json.Number("12"), "12"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"string slice", []string{"a", "b"}, `["a","b"]`},
		{"string map", map[string]string{"registered": "a@b.c"}, `{"registered":"a@b.c"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MarshalWire(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalWireSortedKeys(t *testing.T) {
	out, err := MarshalWire(map[string]any{
		"zebra": 1,
		"alpha": map[string]any{"b": 1, "a": 2},
		"beta":  3,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":2,"b":1},"beta":3,"zebra":1}`, string(out))
}

func TestMarshalWireUTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...) which sorts before
	// U+FF5E in UTF-16 but after it in UTF-8.
	out, err := MarshalWire(map[string]any{
		"\uff5e":     1,
		"\U0001F600": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uff5e\":1}", string(out))
}

func TestMarshalWireNoHTMLEscape(t *testing.T) {
	out, err := MarshalWire("<a href=\"x\">&</a>")
	require.NoError(t, err)
	assert.Equal(t, `"<a href=\"x\">&</a>"`, string(out))
}

func TestMarshalWireNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to U+00E9.
	out, err := MarshalWire("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"caf\u00e9\"", string(out))
}

func TestMarshalWireLineSeparators(t *testing.T) {
	out, err := MarshalWire("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(out))

	// A literal backslash followed by the text u2028 stays escaped.
	out, err = MarshalWire(`x\u2028`)
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028"`, string(out))
}

func TestMarshalWireRejectsNonFinite(t *testing.T) {
	_, err := MarshalWire(math.NaN())
	require.Error(t, err)

	_, err = MarshalWire(map[string]any{"x": math.Inf(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `key "x"`)
}

func TestMarshalWireRejectsUnsupported(t *testing.T) {
	_, err := MarshalWire(struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestMarshalWireInvalidNumber(t *testing.T) {
	_, err := MarshalWire(json.Number("12abc"))
	require.Error(t, err)
}

func TestMarshalWireDeterministic(t *testing.T) {
	in := map[string]any{"c": 1, "b": []any{"x", 2.5}, "a": nil}
	first, err := MarshalWire(in)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := MarshalWire(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
