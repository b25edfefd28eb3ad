package pairverify

import (
	"errors"
	"fmt"

	"github.com/backkem/hap/pkg/hap"
)

var (
	// ErrUnexpectedWrite is returned for a write that does not fit the
	// current handshake state.
	ErrUnexpectedWrite = fmt.Errorf("pairverify: unexpected write: %w", hap.ErrInvalidState)

	// ErrUnexpectedRead is returned for a read that does not fit the
	// current handshake state.
	ErrUnexpectedRead = fmt.Errorf("pairverify: unexpected read: %w", hap.ErrInvalidState)

	// ErrMalformedRequest is returned when a request TLV is missing or
	// has an invalid value.
	ErrMalformedRequest = fmt.Errorf("pairverify: malformed request: %w", hap.ErrInvalidData)

	// ErrResumeUnavailable is returned when resuming over a transport that
	// does not support it.
	ErrResumeUnavailable = fmt.Errorf("pairverify: pair resume requires BLE: %w", hap.ErrInvalidData)
)

// Controller errors.
var (
	// ErrPeerError is wrapped by a *PeerError.
	ErrPeerError = errors.New("pairverify: accessory reported an error")

	// ErrAccessoryAuthentication is returned when the accessory proof does
	// not verify.
	ErrAccessoryAuthentication = errors.New("pairverify: accessory authentication failed")

	// ErrControllerState is returned when a controller method is called out
	// of order.
	ErrControllerState = errors.New("pairverify: controller out of sequence")
)

// PeerError is the Error TLV the accessory answered with.
type PeerError struct {
	State uint8
	Code  ErrorCode
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("pairverify: accessory error %s in M%d", e.Code, e.State)
}

// Unwrap returns ErrPeerError.
func (e *PeerError) Unwrap() error {
	return ErrPeerError
}
