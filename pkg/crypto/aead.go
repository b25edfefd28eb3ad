package crypto

import (
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD sizes.
const (
	SymmetricKeySize = chacha20poly1305.KeySize
	TagSize          = chacha20poly1305.Overhead
)

var (
	// ErrAuthenticationFailed is returned when an AEAD tag does not verify.
	ErrAuthenticationFailed = errors.New("crypto: message authentication failed")

	// ErrInvalidKeySize is returned when a symmetric key is not 32 bytes.
	ErrInvalidKeySize = errors.New("crypto: invalid key size")

	// ErrCiphertextTooShort is returned when input is shorter than the tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext shorter than tag")
)

// Seal encrypts plaintext and appends the 16-byte tag.
func Seal(key []byte, nonce Nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrInvalidKeySize
	}
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}

// Open verifies and decrypts ciphertext that ends with the 16-byte tag.
func Open(key []byte, nonce Nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < TagSize {
		return nil, ErrCiphertextTooShort
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrInvalidKeySize
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
