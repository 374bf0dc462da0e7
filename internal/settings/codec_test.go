package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

func TestCodec(t *testing.T) {
	cases := []struct {
		name    string
		typ     Type
		in      any
		stored  string
		decoded any
	}{
		{"string", TypeString, "Acme", "Acme", "Acme"},
		{"number from int", TypeNumber, 24, "24", float64(24)},
		{"number from string", TypeNumber, " 1.5 ", "1.5", 1.5},
		{"boolean", TypeBoolean, true, "true", true},
		{"boolean from string", TypeBoolean, "false", "false", false},
		{"json object", TypeJSON, map[string]any{"a": 1.0}, `{"a":1}`, map[string]any{"a": 1.0}},
		{"json literal", TypeJSON, `[1,2]`, `[1,2]`, []any{1.0, 2.0}},
		{"encrypted", TypeEncrypted, "key", "key", "key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stored, err := Encode(tc.typ, tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.stored, stored)

			got, err := Decode(tc.typ, stored)
			require.NoError(t, err)
			assert.Equal(t, tc.decoded, got)
		})
	}
}

func TestEncode_RejectsMismatchedValues(t *testing.T) {
	_, err := Encode(TypeNumber, "abc")
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	_, err = Encode(TypeBoolean, 3)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	_, err = Encode(Type("blob"), "x")
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}
