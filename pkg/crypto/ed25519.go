package crypto

import (
	"crypto/ed25519"
	"errors"
	"io"
)

// Ed25519 sizes.
const (
	Ed25519PublicKeySize = ed25519.PublicKeySize
	Ed25519SeedSize      = ed25519.SeedSize
	Ed25519SignatureSize = ed25519.SignatureSize
)

// ErrInvalidSeed is returned when a long-term key seed has the wrong size.
var ErrInvalidSeed = errors.New("crypto: invalid Ed25519 seed")

// Ed25519KeyPair is a long-term identity key.
type Ed25519KeyPair struct {
	private ed25519.PrivateKey
}

// GenerateEd25519KeyPair creates a long-term key using randomness from r.
func GenerateEd25519KeyPair(r io.Reader) (*Ed25519KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, err
	}
	return &Ed25519KeyPair{private: priv}, nil
}

// Ed25519KeyPairFromSeed restores a key pair from its 32-byte seed.
func Ed25519KeyPairFromSeed(seed []byte) (*Ed25519KeyPair, error) {
	if len(seed) != Ed25519SeedSize {
		return nil, ErrInvalidSeed
	}
	return &Ed25519KeyPair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns the 32-byte seed for persistence.
func (kp *Ed25519KeyPair) Seed() []byte {
	return kp.private.Seed()
}

// PublicKey returns the 32-byte public key.
func (kp *Ed25519KeyPair) PublicKey() [Ed25519PublicKeySize]byte {
	var pk [Ed25519PublicKeySize]byte
	copy(pk[:], kp.private.Public().(ed25519.PublicKey))
	return pk
}

// Sign signs message.
func (kp *Ed25519KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.private, message)
}

// Ed25519Verify reports whether sig is a valid signature of message by publicKey.
func Ed25519Verify(publicKey, message, sig []byte) bool {
	if len(publicKey) != Ed25519PublicKeySize || len(sig) != Ed25519SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, sig)
}
