package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"string", `"hello"`, `"hello"`},
		{"empty string", `""`, `""`},
		{"int", `42`, "42"},
		{"negative int", `-100`, "-100"},
		{"big int kept exact", `9223372036854775807`, "9223372036854775807"},
		{"float kept as written", `1.50`, "1.50"},
		{"bool true", `true`, "true"},
		{"null", `null`, "null"},
		{"empty array", `[ ]`, "[]"},
		{"empty object", `{ }`, "{}"},
		{"array of ints", `[1, 2, 3]`, "[1,2,3]"},
		{"simple object", `{ "a" : 1 }`, `{"a":1}`},
		{"empty document", ``, "{}"},
		{"whitespace document", "  \n", "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	result, err := MarshalCanonical([]byte(`{"zebra":1,"alpha":2,"beta":{"y":1,"x":2}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"x":2,"y":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalNoHTMLEscaping(t *testing.T) {
	result, err := MarshalCanonical([]byte(`{"goal":"a < b & c > d"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"goal":"a < b & c > d"}`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "é" as e + combining acute accent vs precomposed U+00E9
	decomposed, err := MarshalCanonical([]byte("\"e\u0301\""))
	require.NoError(t, err)
	composed, err := MarshalCanonical([]byte("\"\u00e9\""))
	require.NoError(t, err)
	assert.Equal(t, string(composed), string(decomposed))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes to surrogates 0xD83D 0xDE00, which sort before U+FF61
	// in UTF-16 even though the UTF-8 bytes sort after.
	result, err := MarshalCanonical([]byte("{\"｡\":1,\"\U0001F600\":2}"))
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"｡\":1}", string(result))
}

func TestMarshalCanonicalRejectsInvalid(t *testing.T) {
	_, err := MarshalCanonical([]byte(`{"a":`))
	assert.Error(t, err)

	_, err = MarshalCanonical([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}
