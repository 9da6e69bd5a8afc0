package aeswrapper

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
)

var (
	ErrEmptyKey           = errors.New("key cannot be empty")
	ErrCipherFailure      = errors.New("cipher creation failure")
	ErrGCMFailure         = errors.New("gcm creation failure")
	ErrRandomNonceFailure = errors.New("random nonce creation failure")
	ErrOpenDataFailure    = errors.New("open data failure, cannot decrypt data")
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
)

// argon2id parameters, changing them makes previously sealed files unreadable.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

// Helper wraps AES encryption and decryption.
// Uses Galois Counter Mode (GCM) with the AES-256 key derived from the passphrase with argon2id.
// Sealed data layout is salt | nonce | ciphertext.
type Helper struct{}

// Creates a new Helper.
func New() Helper {
	return Helper{}
}

// Encrypt encrypts data with the key derived from passphrase.
func (h Helper) Encrypt(passphrase, data []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyKey
	}

	header := make([]byte, saltSize+nonceSize)
	if _, err := io.ReadFull(rand.Reader, header); err != nil {
		return nil, errors.Join(ErrRandomNonceFailure, err)
	}
	salt, nonce := header[:saltSize], header[saltSize:]

	aesgcm, err := gcm(passphrase, salt)
	if err != nil {
		return nil, err
	}

	return aesgcm.Seal(header, nonce, data, nil), nil
}

// Decrypt decrypts data sealed by Encrypt with the same passphrase.
func (h Helper) Decrypt(passphrase, data []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyKey
	}
	if len(data) < saltSize+nonceSize {
		return nil, ErrOpenDataFailure
	}
	salt, nonce, cipherText := data[:saltSize], data[saltSize:saltSize+nonceSize], data[saltSize+nonceSize:]

	aesGcm, err := gcm(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesGcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, errors.Join(ErrOpenDataFailure, err)
	}

	return plaintext, nil
}

func gcm(passphrase, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(passphrase, salt, kdfTime, kdfMemory, kdfThreads, keySize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(ErrCipherFailure, err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrGCMFailure, err)
	}
	return aesgcm, nil
}
