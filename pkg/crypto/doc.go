// Package crypto wraps the primitives HAP sessions are built from:
// X25519 key agreement, Ed25519 signatures, HKDF-SHA512 and the
// ChaCha20-Poly1305 AEAD, together with the HAP nonce layouts.
//
// All functions are stateless. Randomness is taken from an io.Reader so
// tests can inject deterministic sources.
package crypto
