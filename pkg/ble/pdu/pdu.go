package pdu

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/hap/pkg/hap"
)

// Header sizes.
const (
	RequestHeaderSize      = 5
	ResponseHeaderSize     = 3
	ContinuationHeaderSize = 2
	BodyLengthSize         = 2
)

// Control field bits.
const (
	controlContinuation = 1 << 7
	controlReserved     = 1<<6 | 1<<5 | 1<<4
	controlTypeMask     = 1<<3 | 1<<2 | 1<<1
	controlTypeResponse = 1 << 1
	controlLength       = 1 << 0
)

var (
	// ErrMalformed is returned for a PDU that cannot be decoded.
	ErrMalformed = fmt.Errorf("pdu: malformed: %w", hap.ErrInvalidData)

	// ErrBufferTooSmall is returned when an encoded PDU does not fit.
	ErrBufferTooSmall = fmt.Errorf("pdu: buffer too small: %w", hap.ErrOutOfResources)
)

// Type distinguishes requests from responses.
type Type uint8

const (
	TypeRequest  Type = 0
	TypeResponse Type = 1
)

// String returns the string representation of the PDU type.
func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "Request"
	case TypeResponse:
		return "Response"
	default:
		return "Unknown"
	}
}

// PDU is one HAP-BLE fragment.
type PDU struct {
	// Continuation marks a continuation fragment, which carries only the
	// transaction ID.
	Continuation bool
	Type         Type

	// TID is the transaction ID.
	TID uint8

	// Opcode and IID are set on the first fragment of a request.
	Opcode Opcode
	IID    uint16

	// Status is set on the first fragment of a response.
	Status Status

	// HasBody reports whether a first fragment carries a body length.
	HasBody bool
	// TotalBodyLen is the length of the complete body.
	TotalBodyLen uint16
	// Body is the body fragment carried by this PDU.
	Body []byte
}

func decodeControl(b byte) (continuation bool, t Type, err error) {
	if b&controlReserved != 0 || b&controlLength != 0 {
		return false, 0, ErrMalformed
	}
	switch b & controlTypeMask {
	case 0:
		t = TypeRequest
	case controlTypeResponse:
		t = TypeResponse
	default:
		return false, 0, ErrMalformed
	}
	return b&controlContinuation != 0, t, nil
}

func (p *PDU) control() byte {
	var b byte
	if p.Continuation {
		b |= controlContinuation
	}
	if p.Type == TypeResponse {
		b |= controlTypeResponse
	}
	return b
}

// Decode parses the first fragment of a PDU. A body shorter than the
// announced total is the start of a fragmented body.
func Decode(data []byte) (*PDU, error) {
	if len(data) < 1 {
		return nil, ErrMalformed
	}
	cont, t, err := decodeControl(data[0])
	if err != nil {
		return nil, err
	}
	if cont {
		return nil, ErrMalformed
	}
	p := &PDU{Type: t}
	b := data[1:]
	switch t {
	case TypeRequest:
		if len(b) < RequestHeaderSize-1 {
			return nil, ErrMalformed
		}
		p.Opcode = Opcode(b[0])
		p.TID = b[1]
		p.IID = binary.LittleEndian.Uint16(b[2:4])
		b = b[4:]
	case TypeResponse:
		if len(b) < ResponseHeaderSize-1 {
			return nil, ErrMalformed
		}
		p.TID = b[0]
		p.Status = Status(b[1])
		b = b[2:]
	}
	if len(b) == 0 {
		return p, nil
	}
	if len(b) < BodyLengthSize {
		return nil, ErrMalformed
	}
	p.HasBody = true
	p.TotalBodyLen = binary.LittleEndian.Uint16(b)
	b = b[BodyLengthSize:]
	n := min(len(b), int(p.TotalBodyLen))
	p.Body = b[:n]
	if len(b) > n {
		return nil, ErrMalformed
	}
	return p, nil
}

// DecodeContinuation parses a continuation fragment of a body of
// totalBodyLen bytes of which soFar have been received.
func DecodeContinuation(data []byte, t Type, totalBodyLen, soFar int) (*PDU, error) {
	if len(data) < ContinuationHeaderSize {
		return nil, ErrMalformed
	}
	cont, ct, err := decodeControl(data[0])
	if err != nil {
		return nil, err
	}
	if !cont || ct != t {
		return nil, ErrMalformed
	}
	p := &PDU{Continuation: true, Type: t, TID: data[1]}
	b := data[ContinuationHeaderSize:]
	n := min(len(b), max(totalBodyLen-soFar, 0))
	p.Body = b[:n]
	if len(b) > n {
		return nil, ErrMalformed
	}
	return p, nil
}

// EncodedLen returns the encoded size of p.
func (p *PDU) EncodedLen() int {
	if p.Continuation {
		return ContinuationHeaderSize + len(p.Body)
	}
	n := RequestHeaderSize
	if p.Type == TypeResponse {
		n = ResponseHeaderSize
	}
	if p.HasBody {
		n += BodyLengthSize + len(p.Body)
	}
	return n
}

// EncodeTo serializes p into buf and returns the number of bytes written.
func (p *PDU) EncodeTo(buf []byte) (int, error) {
	n := p.EncodedLen()
	if len(buf) < n {
		return 0, ErrBufferTooSmall
	}
	buf[0] = p.control()
	off := 1
	if p.Continuation {
		buf[off] = p.TID
		off++
		off += copy(buf[off:], p.Body)
		return off, nil
	}
	switch p.Type {
	case TypeRequest:
		buf[off] = byte(p.Opcode)
		buf[off+1] = p.TID
		binary.LittleEndian.PutUint16(buf[off+2:], p.IID)
		off += 4
	case TypeResponse:
		buf[off] = p.TID
		buf[off+1] = byte(p.Status)
		off += 2
	}
	if p.HasBody {
		binary.LittleEndian.PutUint16(buf[off:], p.TotalBodyLen)
		off += BodyLengthSize
		off += copy(buf[off:], p.Body)
	}
	return off, nil
}

// Encode serializes p into a new buffer of at most maxLen bytes.
func (p *PDU) Encode(maxLen int) ([]byte, error) {
	if p.EncodedLen() > maxLen {
		return nil, ErrBufferTooSmall
	}
	buf := make([]byte, p.EncodedLen())
	n, err := p.EncodeTo(buf)
	return buf[:n], err
}

// String returns a one-line description for logging.
func (p *PDU) String() string {
	switch {
	case p.Continuation:
		return fmt.Sprintf("%s (Continuation) TID 0x%02x, %d bytes", p.Type, p.TID, len(p.Body))
	case p.Type == TypeRequest:
		return fmt.Sprintf("%s-Request (0x%02x) TID 0x%02x IID %d, %d/%d bytes",
			p.Opcode, uint8(p.Opcode), p.TID, p.IID, len(p.Body), p.TotalBodyLen)
	default:
		return fmt.Sprintf("Response TID 0x%02x Status %s, %d/%d bytes",
			p.TID, p.Status, len(p.Body), p.TotalBodyLen)
	}
}
