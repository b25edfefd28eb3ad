package model

import (
	"errors"
	"fmt"

	"github.com/backkem/hap/pkg/hap"
)

var (
	// ErrInvalidUUID is returned for a wire UUID that is not 16 bytes.
	ErrInvalidUUID = fmt.Errorf("model: invalid uuid: %w", hap.ErrInvalidData)

	// ErrInvalidValue is returned for a value that does not fit the
	// characteristic format.
	ErrInvalidValue = fmt.Errorf("model: invalid value: %w", hap.ErrInvalidData)

	// ErrNotReadable is returned when a characteristic has no read handler.
	ErrNotReadable = errors.New("model: characteristic not readable")

	// ErrNotWritable is returned when a characteristic has no write handler.
	ErrNotWritable = errors.New("model: characteristic not writable")

	// ErrDuplicateIID is returned by Validate for reused instance IDs.
	ErrDuplicateIID = errors.New("model: duplicate instance id")

	// ErrInvalidIID is returned by Validate for IIDs outside 1..65535.
	ErrInvalidIID = errors.New("model: invalid instance id")
)
