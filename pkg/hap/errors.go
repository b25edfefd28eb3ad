package hap

import "errors"

// Error taxonomy.
var (
	// ErrInvalidData is returned for malformed or out-of-range TLVs and PDUs.
	// The request is rejected, the session survives.
	ErrInvalidData = errors.New("hap: invalid data")

	// ErrInvalidState is returned when a request is not legal in the current
	// procedure or handshake state. Over BLE the link must be dropped.
	ErrInvalidState = errors.New("hap: invalid state")

	// ErrOutOfResources is returned when a buffer or slot is exhausted.
	ErrOutOfResources = errors.New("hap: out of resources")

	// ErrNotAuthorized is returned when an application handler refuses an
	// operation for the current controller.
	ErrNotAuthorized = errors.New("hap: not authorized")

	// ErrBusy is returned when a mutually exclusive operation is held elsewhere.
	ErrBusy = errors.New("hap: busy")

	// ErrUnknown is returned for persistent-store or platform failures.
	ErrUnknown = errors.New("hap: unknown error")
)
