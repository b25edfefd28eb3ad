package crypto

import "encoding/binary"

// NonceSize is the ChaCha20-Poly1305 nonce length.
const NonceSize = 12

// Nonce is a 96-bit AEAD nonce.
type Nonce [NonceSize]byte

// LabelNonce builds the handshake nonce form: four zero bytes followed by
// an 8-byte ASCII label such as "PV-Msg02". Shorter labels are left-padded
// with zeros.
func LabelNonce(label string) Nonce {
	var n Nonce
	b := []byte(label)
	if len(b) > 8 {
		b = b[:8]
	}
	copy(n[NonceSize-len(b):], b)
	return n
}

// CounterNonce builds the channel nonce form: four zero bytes followed by
// the 64-bit message counter in little-endian order.
func CounterNonce(counter uint64) Nonce {
	var n Nonce
	binary.LittleEndian.PutUint64(n[4:], counter)
	return n
}
