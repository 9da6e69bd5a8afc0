package wallet

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"

	"github.com/bartossh/Timesheet/serializer"
)

var (
	ErrAddressLength    = errors.New("address of invalid length")
	ErrAddressChecksum  = errors.New("address checksum is not equal")
	ErrHashCorrupted    = errors.New("hash is corrupted")
	ErrInvalidSignature = errors.New("message signature isn't valid")
)

// Helper provides wallet helper functionalities without knowing about wallet private and public keys.
type Helper struct{}

// NewVerifier creates new wallet Helper verifier.
func NewVerifier() Helper {
	return Helper{}
}

// AddressToPubKey creates ED25519 public key from address, or returns error otherwise.
func (h Helper) AddressToPubKey(address string) (ed25519.PublicKey, error) {
	raw, err := serializer.Base58Decode([]byte(address))
	if err != nil {
		return nil, err
	}
	if len(raw) != 1+ed25519.PublicKeySize+checksumLength {
		return nil, ErrAddressLength
	}
	actualChecksum := raw[len(raw)-checksumLength:]
	body := raw[:len(raw)-checksumLength]
	if !bytes.Equal(actualChecksum, checksum(body)) {
		return nil, ErrAddressChecksum
	}

	return ed25519.PublicKey(body[1:]), nil
}

// IsAddress reports if the address decodes to a public key.
func (h Helper) IsAddress(address string) bool {
	_, err := h.AddressToPubKey(address)
	return err == nil
}

// Verify verifies if message is signed by given key and hash is equal.
func (h Helper) Verify(message, signature []byte, hash [32]byte, address string) error {
	digest := sha256.Sum256(message)
	if !bytes.Equal(hash[:], digest[:]) {
		return ErrHashCorrupted
	}

	pubKey, err := h.AddressToPubKey(address)
	if err != nil {
		return err
	}

	if !ed25519.Verify(pubKey, digest[:], signature) {
		return ErrInvalidSignature
	}
	return nil
}
