package tlv

import "math"

// Type is a TLV8 item type.
type Type uint8

// MaxFragmentLen is the largest value carried by a single TLV8 item.
const MaxFragmentLen = 255

// Writer appends TLV8 items to an in-memory buffer.
// A positive limit bounds the encoded size, mirroring the fixed response
// buffers a GATT transaction hands out.
type Writer struct {
	buf     []byte
	limit   int
	last    Type
	hasLast bool
}

// NewWriter creates a writer. A limit <= 0 means unbounded.
func NewWriter(limit int) *Writer {
	return &Writer{limit: limit}
}

// EncodedLen returns the number of bytes an item with a value of n bytes
// occupies once fragmented.
func EncodedLen(n int) int {
	if n == 0 {
		return 2
	}
	frags := (n + MaxFragmentLen - 1) / MaxFragmentLen
	return n + 2*frags
}

// Append writes one item, fragmenting the value as needed.
func (w *Writer) Append(t Type, value []byte) error {
	if w.hasLast && w.last == t {
		return ErrAdjacentType
	}
	if w.limit > 0 && len(w.buf)+EncodedLen(len(value)) > w.limit {
		return ErrBufferFull
	}

	if len(value) == 0 {
		w.buf = append(w.buf, byte(t), 0)
	}
	for len(value) > 0 {
		n := min(len(value), MaxFragmentLen)
		w.buf = append(w.buf, byte(t), byte(n))
		w.buf = append(w.buf, value[:n]...)
		value = value[n:]
	}
	w.last = t
	w.hasLast = true
	return nil
}

// AppendUint8 writes a single-byte item.
func (w *Writer) AppendUint8(t Type, v uint8) error {
	return w.Append(t, []byte{v})
}

// AppendString writes a UTF-8 string item without terminator.
func (w *Writer) AppendString(t Type, s string) error {
	return w.Append(t, []byte(s))
}

// Bytes returns the encoded items. The slice aliases the writer buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of encoded bytes.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Remaining returns how many more bytes fit under the limit.
func (w *Writer) Remaining() int {
	if w.limit <= 0 {
		return math.MaxInt
	}
	return w.limit - len(w.buf)
}

// Reset discards all written items, keeping the limit.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.hasLast = false
}
