package tlv

import (
	"fmt"

	"github.com/backkem/hap/pkg/hap"
)

var (
	// ErrTruncated is returned when an item header or value runs past the input.
	ErrTruncated = fmt.Errorf("tlv: truncated item: %w", hap.ErrInvalidData)

	// ErrDuplicate is returned when a requested type occurs more than once.
	ErrDuplicate = fmt.Errorf("tlv: duplicate item: %w", hap.ErrInvalidData)

	// ErrInvalidLength is returned when a fixed-size item has the wrong length.
	ErrInvalidLength = fmt.Errorf("tlv: invalid item length: %w", hap.ErrInvalidData)

	// ErrAdjacentType is returned when appending an item of the same type as
	// the previous one. The reader would merge them.
	ErrAdjacentType = fmt.Errorf("tlv: adjacent items of the same type: %w", hap.ErrInvalidData)

	// ErrBufferFull is returned when an append would exceed the writer limit.
	ErrBufferFull = fmt.Errorf("tlv: buffer full: %w", hap.ErrOutOfResources)
)
