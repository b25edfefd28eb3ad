package crypto

import (
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
)

// X25519 sizes.
const (
	X25519KeySize    = 32
	X25519SecretSize = 32
)

// ErrInvalidPublicKey is returned when a peer public key has the wrong size
// or yields an all-zero shared secret.
var ErrInvalidPublicKey = errors.New("crypto: invalid X25519 public key")

// X25519KeyPair is an ephemeral Curve25519 key pair.
type X25519KeyPair struct {
	Private [X25519KeySize]byte
	Public  [X25519KeySize]byte
}

// GenerateX25519KeyPair creates a key pair using randomness from r.
func GenerateX25519KeyPair(r io.Reader) (*X25519KeyPair, error) {
	kp := &X25519KeyPair{}
	if _, err := io.ReadFull(r, kp.Private[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret computes X25519(private, peerPublic).
func (kp *X25519KeyPair) SharedSecret(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != X25519KeySize {
		return nil, ErrInvalidPublicKey
	}
	secret, err := curve25519.X25519(kp.Private[:], peerPublic)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return secret, nil
}

// Zeroize clears the private scalar.
func (kp *X25519KeyPair) Zeroize() {
	clear(kp.Private[:])
}
