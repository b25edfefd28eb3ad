// Package gattlink carries GATT characteristic writes and reads over a
// net.Conn.
//
// It stands in for a BLE radio: a Peripheral feeds the operations it
// receives to an accessory server, and a Central issues them on behalf of
// a controller. Each operation is one frame:
//
//	length (2, LE) | op (1) | iid (2, LE) | payload
//
// where length counts everything after itself. A write carries the GATT
// value as payload and is answered with an ack. A read carries the
// maximum length (2, LE) and is answered with the value. Rejected
// operations are answered with an error frame holding a message.
package gattlink

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/backkem/hap/pkg/hap"
)

// Frame operations.
const (
	opWrite uint8 = 0x01
	opRead  uint8 = 0x02
	opAck   uint8 = 0x81
	opValue uint8 = 0x82
	opError uint8 = 0xFF
)

const (
	lengthSize = 2
	headerSize = 3

	// MaxFrameSize bounds a frame including its length prefix.
	MaxFrameSize = 4096
)

// Package-level errors.
var (
	// ErrFrameTooLarge is returned for frames beyond MaxFrameSize.
	ErrFrameTooLarge = fmt.Errorf("gattlink: frame too large: %w", hap.ErrOutOfResources)

	// ErrMalformedFrame is returned for frames shorter than their header.
	ErrMalformedFrame = fmt.Errorf("gattlink: malformed frame: %w", hap.ErrInvalidData)

	// ErrRemote wraps an error frame answered by the peripheral.
	ErrRemote = errors.New("gattlink: peripheral rejected the operation")
)

type frame struct {
	op      uint8
	iid     uint16
	payload []byte
}

func (f frame) encode() ([]byte, error) {
	n := headerSize + len(f.payload)
	if lengthSize+n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	b := make([]byte, lengthSize+n)
	binary.LittleEndian.PutUint16(b, uint16(n))
	b[2] = f.op
	binary.LittleEndian.PutUint16(b[3:], f.iid)
	copy(b[lengthSize+headerSize:], f.payload)
	return b, nil
}

// writeFrame sends f with a single Write so packet carriers keep it whole.
func writeFrame(w io.Writer, f frame) error {
	b, err := f.encode()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readFrame(r *bufio.Reader) (frame, error) {
	var l [lengthSize]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return frame{}, err
	}
	n := int(binary.LittleEndian.Uint16(l[:]))
	if n < headerSize {
		return frame{}, ErrMalformedFrame
	}
	if lengthSize+n > MaxFrameSize {
		return frame{}, ErrFrameTooLarge
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return frame{}, err
	}
	return frame{
		op:      b[0],
		iid:     binary.LittleEndian.Uint16(b[1:]),
		payload: b[headerSize:],
	}, nil
}

// newReader buffers a whole frame so packet carriers never truncate one.
func newReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, MaxFrameSize)
}
