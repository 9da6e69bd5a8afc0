package serializer

import (
	"errors"

	"github.com/mr-tron/base58"
	"github.com/vmihailenco/msgpack"
)

var (
	ErrEmptyInput   = errors.New("empty input")
	ErrEncodeFailed = errors.New("encode failed")
	ErrDecodeFailed = errors.New("decode failed")
)

// Base58Encode encodes byte array to base58 string.
func Base58Encode(input []byte) []byte {
	return []byte(base58.Encode(input))
}

// Base58Decode decodes base58 string to byte array.
func Base58Decode(input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, ErrEmptyInput
	}
	decode, err := base58.Decode(string(input))
	if err != nil {
		return nil, errors.Join(ErrDecodeFailed, err)
	}

	return decode, nil
}

// Marshal encodes v in to msgpack binary form.
// Struct fields are written in the declaration order so equal values always produce equal bytes.
func Marshal(v any) ([]byte, error) {
	buf, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailed, err)
	}
	return buf, nil
}

// Unmarshal decodes msgpack binary form in to v.
func Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return ErrEmptyInput
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return errors.Join(ErrDecodeFailed, err)
	}
	return nil
}
