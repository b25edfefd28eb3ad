package accessory

import (
	"errors"
	"fmt"

	"github.com/backkem/hap/pkg/hap"
)

// Package-level errors.
var (
	// ErrAccessoryRequired is returned when Config.Accessory is nil.
	ErrAccessoryRequired = errors.New("accessory: accessory is required")

	// ErrStoreRequired is returned when Config.Store is nil.
	ErrStoreRequired = errors.New("accessory: store is required")

	// ErrLongTermKeyRequired is returned when Config.LongTermKey is nil.
	ErrLongTermKeyRequired = errors.New("accessory: long-term key is required")

	// ErrInvalidDeviceID is returned for an all-zero device identifier.
	ErrInvalidDeviceID = errors.New("accessory: invalid device ID")

	// ErrPairingServiceMissing is returned when the attribute database has
	// no Pairing service.
	ErrPairingServiceMissing = errors.New("accessory: pairing service missing")

	// ErrAlreadyStarted is returned when Start is called on a running server.
	ErrAlreadyStarted = fmt.Errorf("accessory: server already started: %w", hap.ErrInvalidState)

	// ErrNotRunning is returned for connections while the server does not
	// accept them.
	ErrNotRunning = fmt.Errorf("accessory: server not running: %w", hap.ErrInvalidState)

	// ErrConnectionExists is returned when a second connection is opened.
	ErrConnectionExists = fmt.Errorf("accessory: a controller is already connected: %w", hap.ErrBusy)

	// ErrConnectionClosed is returned for GATT requests on a closed Conn.
	ErrConnectionClosed = fmt.Errorf("accessory: connection closed: %w", hap.ErrInvalidState)

	// ErrUnknownCharacteristic is returned for a GATT request on an IID
	// that is not in the attribute database.
	ErrUnknownCharacteristic = fmt.Errorf("accessory: unknown characteristic: %w", hap.ErrInvalidData)
)
