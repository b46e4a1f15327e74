package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(math.MaxInt64), "9223372036854775807"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"null", Null{}, "null"},
		{"untyped nil", nil, "null"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array of ints", Array{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"simple object", Object{"a": Int(1)}, `{"a":1}`},
		{"plain go map", map[string]any{"b": 1, "a": []any{true, nil}}, `{"a":[true,null],"b":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"zebra": Int(1),
		"alpha": Int(2),
		"beta":  Int(3),
		"nested": Object{
			"b": Int(1),
			"a": Int(2),
		},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"nested":{"a":2,"b":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+E000 vs U+10000: UTF-16 order differs from UTF-8 order.
	obj := Object{
		"\uE000":     Int(1), // UTF-16: 0xE000
		"\U00010000": Int(2), // UTF-16: 0xD800 0xDC00
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalFloats(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected string
	}{
		{"integral", 10, "10"},
		{"fraction", 3.14, "3.14"},
		{"negative", -0.5, "-0.5"},
		{"negative zero", math.Copysign(0, -1), "0"},
		{"large", 1e21, "1e+21"},
		{"small", 1e-7, "1e-7"},
		{"small with mantissa", 1.5e-7, "1.5e-7"},
		{"lower bound", 1e-6, "0.000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(Float(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalRejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := MarshalCanonical(Float(f))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-finite")
	}
}

func TestMarshalCanonicalRejectsUnsupportedTypes(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"struct", struct{ A int }{1}},
		{"channel", make(chan int)},
		{"nested struct", map[string]any{"a": struct{}{}}},
		{"uint overflow", uint64(math.MaxUint64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.input)
			require.Error(t, err)
		})
	}
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(String("<script>a & b</script>"))
	require.NoError(t, err)
	assert.Equal(t, `"<script>a & b</script>"`, string(result))
	assert.NotContains(t, string(result), `\u003c`)
}

func TestMarshalCanonicalEscapes(t *testing.T) {
	result, err := MarshalCanonical(String("a\"b\\c\nd\u0001"))
	require.NoError(t, err)
	assert.Equal(t, `"a\"b\\c\nd\u0001"`, string(result))

	// U+2028 and U+2029 stay literal.
	result, err = MarshalCanonical(String("x\u2028y\u2029"))
	require.NoError(t, err)
	assert.Equal(t, "\"x\u2028y\u2029\"", string(result))
}

func TestMarshalCanonicalRejectsInvalidUTF8(t *testing.T) {
	_, err := MarshalCanonical(String("bad\xff"))
	require.Error(t, err)
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	composed := "caf\u00E9"
	decomposed := "cafe\u0301"

	r1, err := MarshalCanonical(String(composed))
	require.NoError(t, err)
	r2, err := MarshalCanonical(String(decomposed))
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	k1, err := MarshalCanonical(Object{composed: Int(1)})
	require.NoError(t, err)
	k2, err := MarshalCanonical(Object{decomposed: Int(1)})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestMarshalCanonicalRejectsNFCKeyCollision(t *testing.T) {
	_, err := MarshalCanonical(Object{"caf\u00E9": Int(1), "cafe\u0301": Int(2)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	obj := Object{
		"id":     Int(1),
		"amount": Float(10.5),
		"tags":   Array{String("a"), String("b")},
		"meta":   Object{"z": Bool(true), "a": Null{}},
	}

	first, err := MarshalCanonical(obj)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := MarshalCanonical(obj)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
