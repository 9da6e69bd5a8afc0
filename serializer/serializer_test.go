package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `msgpack:"name"`
	Hours int64  `msgpack:"hours"`
	Tags  []string
}

func TestBase58RoundTrip(t *testing.T) {
	in := []byte{0, 1, 2, 3, 250, 251, 252}
	out, err := Base58Decode(Base58Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestBase58DecodeInvalid(t *testing.T) {
	_, err := Base58Decode([]byte("0OIl"))
	assert.ErrorIs(t, err, ErrDecodeFailed)

	_, err = Base58Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestMarshalIsDeterministic(t *testing.T) {
	r := record{Name: "contractor", Hours: 8, Tags: []string{"a", "b"}}
	first, err := Marshal(r)
	require.NoError(t, err)
	second, err := Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var decoded record
	require.NoError(t, Unmarshal(first, &decoded))
	assert.Equal(t, r, decoded)
}

func TestUnmarshalEmpty(t *testing.T) {
	var r record
	assert.ErrorIs(t, Unmarshal(nil, &r), ErrEmptyInput)
}
