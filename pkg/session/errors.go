package session

import (
	"fmt"

	"github.com/backkem/hap/pkg/hap"
)

// Session package errors.
var (
	// ErrNotActive is returned when encrypting or decrypting before the
	// secure session has started.
	ErrNotActive = fmt.Errorf("session: not active: %w", hap.ErrInvalidState)

	// ErrKeyExpired is returned once the configured key lifetime has elapsed.
	ErrKeyExpired = fmt.Errorf("session: key expired: %w", hap.ErrInvalidState)

	// ErrTransient is returned when an operation is not available on
	// transient sessions, such as sending events.
	ErrTransient = fmt.Errorf("session: not available on transient session: %w", hap.ErrInvalidState)

	// ErrWrongRole is returned when decrypting events on the accessory side.
	ErrWrongRole = fmt.Errorf("session: operation not available for role: %w", hap.ErrInvalidState)

	// ErrMessageTooShort is returned when ciphertext is shorter than the tag.
	ErrMessageTooShort = fmt.Errorf("session: message shorter than tag: %w", hap.ErrInvalidData)

	// ErrDecryptionFailed is returned when the authentication tag does not
	// verify. Callers must treat the session as compromised.
	ErrDecryptionFailed = fmt.Errorf("session: decryption failed: %w", hap.ErrInvalidData)

	// ErrInvalidSecret is returned when a shared secret is not 32 bytes.
	ErrInvalidSecret = fmt.Errorf("session: invalid shared secret length: %w", hap.ErrInvalidData)
)
