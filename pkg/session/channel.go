package session

import "github.com/backkem/hap/pkg/crypto"

// Key derivation labels.
const (
	controlSalt      = "Control-Salt"
	controlReadInfo  = "Control-Read-Encryption-Key"
	controlWriteInfo = "Control-Write-Encryption-Key"
	eventSalt        = "Event-Salt"
	eventReadInfo    = "Event-Read-Encryption-Key"
)

// channel is one direction of an encrypted stream.
type channel struct {
	key   [crypto.SymmetricKeySize]byte
	nonce uint64
}

func (c *channel) seal(plaintext, aad []byte) ([]byte, error) {
	out, err := crypto.Seal(c.key[:], crypto.CounterNonce(c.nonce), plaintext, aad)
	if err != nil {
		return nil, err
	}
	c.nonce++
	return out, nil
}

func (c *channel) open(ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < crypto.TagSize {
		return nil, ErrMessageTooShort
	}
	out, err := crypto.Open(c.key[:], crypto.CounterNonce(c.nonce), ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	c.nonce++
	return out, nil
}

func (c *channel) reset() {
	clear(c.key[:])
	c.nonce = 0
}

func (c *channel) derive(secret []byte, salt, info string) error {
	key, err := crypto.DeriveKey(secret, salt, info)
	if err != nil {
		return err
	}
	copy(c.key[:], key)
	clear(key)
	c.nonce = 0
	return nil
}
