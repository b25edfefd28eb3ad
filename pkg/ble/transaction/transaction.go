// Package transaction reassembles fragmented HAP-BLE requests and
// fragments responses across GATT reads.
//
// A transaction moves through these states:
//
//	WaitingForInitialWrite → ReadingRequest → HandlingRequest
//	    → WaitingForInitialRead → WritingResponse
//
// Writes that arrive while a request is handled or a response is pending
// must be empty continuations of the same transaction.
package transaction

import (
	"fmt"

	"github.com/backkem/hap/pkg/ble/pdu"
	"github.com/backkem/hap/pkg/hap"
)

// State is the transaction state.
type State int

const (
	StateWaitingForInitialWrite State = iota
	StateReadingRequest
	StateHandlingRequest
	StateWaitingForInitialRead
	StateWritingResponse
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateWaitingForInitialWrite:
		return "WaitingForInitialWrite"
	case StateReadingRequest:
		return "ReadingRequest"
	case StateHandlingRequest:
		return "HandlingRequest"
	case StateWaitingForInitialRead:
		return "WaitingForInitialRead"
	case StateWritingResponse:
		return "WritingResponse"
	default:
		return "Unknown"
	}
}

var (
	// ErrNotRequest is returned when the first fragment is not a request.
	ErrNotRequest = fmt.Errorf("transaction: first fragment is not a request: %w", hap.ErrInvalidData)

	// ErrTIDMismatch is returned for a continuation of another transaction.
	ErrTIDMismatch = fmt.Errorf("transaction: transaction id mismatch: %w", hap.ErrInvalidData)

	// ErrUnexpectedWrite is returned for a write while the response is read.
	ErrUnexpectedWrite = fmt.Errorf("transaction: unexpected write: %w", hap.ErrInvalidState)

	// ErrUnexpectedRead is returned for a read before a response is set.
	ErrUnexpectedRead = fmt.Errorf("transaction: unexpected read: %w", hap.ErrInvalidState)

	// ErrRequestTooLarge is returned by Request when the body exceeded the
	// reassembly capacity.
	ErrRequestTooLarge = fmt.Errorf("transaction: request exceeds buffer: %w", hap.ErrOutOfResources)
)

// Request is a reassembled request.
type Request struct {
	Opcode pdu.Opcode
	TID    uint8
	IID    uint16
	Body   []byte
}

// Transaction is the fragmentation state of one characteristic.
type Transaction struct {
	state    State
	capacity int

	opcode pdu.Opcode
	tid    uint8
	iid    uint16
	total  int
	offset int
	body   []byte

	status     pdu.Status
	response   []byte
	respOffset int
}

// New creates a transaction that reassembles request bodies of up to
// capacity bytes. Larger bodies are consumed but rejected by Request.
func New(capacity int) *Transaction {
	return &Transaction{capacity: capacity}
}

// State returns the current state.
func (t *Transaction) State() State {
	return t.state
}

// Reset discards all state and sets the reassembly capacity.
func (t *Transaction) Reset(capacity int) {
	*t = Transaction{capacity: capacity}
}

// Capacity returns the reassembly capacity.
func (t *Transaction) Capacity() int {
	return t.capacity
}

func (t *Transaction) appendBody(b []byte) {
	if len(b) == 0 {
		return
	}
	if t.total <= t.capacity {
		t.body = append(t.body, b...)
	}
	t.offset += len(b)
}

// HandleWrite consumes one GATT write fragment.
func (t *Transaction) HandleWrite(data []byte) error {
	switch t.state {
	case StateWaitingForInitialWrite:
		t.state = StateReadingRequest
		p, err := pdu.Decode(data)
		if err != nil {
			return err
		}
		if p.Type != pdu.TypeRequest {
			return ErrNotRequest
		}
		t.opcode = p.Opcode
		t.tid = p.TID
		t.iid = p.IID
		t.total = int(p.TotalBodyLen)
		t.offset = 0
		t.body = make([]byte, 0, min(t.total, t.capacity))
		t.appendBody(p.Body)
		return nil

	case StateReadingRequest:
		p, err := pdu.DecodeContinuation(data, pdu.TypeRequest, t.total, t.offset)
		if err != nil {
			return err
		}
		if p.TID != t.tid {
			return ErrTIDMismatch
		}
		t.appendBody(p.Body)
		return nil

	case StateHandlingRequest, StateWaitingForInitialRead:
		p, err := pdu.DecodeContinuation(data, pdu.TypeRequest, 0, 0)
		if err != nil {
			return err
		}
		if p.TID != t.tid {
			return ErrTIDMismatch
		}
		return nil

	default:
		return ErrUnexpectedWrite
	}
}

// IsRequestAvailable reports whether a complete request awaits handling.
func (t *Transaction) IsRequestAvailable() bool {
	return t.state == StateReadingRequest && t.offset == t.total
}

// Request returns the reassembled request and moves to HandlingRequest.
func (t *Transaction) Request() (Request, error) {
	t.state = StateHandlingRequest
	if t.total > t.capacity {
		return Request{}, ErrRequestTooLarge
	}
	return Request{Opcode: t.opcode, TID: t.tid, IID: t.iid, Body: t.body}, nil
}

// SetResponse sets the response. A nil body sends a header-only response.
func (t *Transaction) SetResponse(status pdu.Status, body []byte) {
	t.state = StateWaitingForInitialRead
	t.status = status
	t.response = body
	t.respOffset = 0
}

// HandleRead produces the next response fragment of at most maxLen bytes
// and reports whether it is the final one.
func (t *Transaction) HandleRead(maxLen int) ([]byte, bool, error) {
	var p *pdu.PDU
	switch t.state {
	case StateWaitingForInitialRead:
		t.state = StateWritingResponse
		header := pdu.ResponseHeaderSize
		if len(t.response) > 0 {
			header += pdu.BodyLengthSize
		}
		if maxLen < header {
			return nil, false, pdu.ErrBufferTooSmall
		}
		n := min(len(t.response), maxLen-header)
		p = &pdu.PDU{
			Type:         pdu.TypeResponse,
			TID:          t.tid,
			Status:       t.status,
			HasBody:      len(t.response) > 0,
			TotalBodyLen: uint16(len(t.response)),
			Body:         t.response[:n],
		}

	case StateWritingResponse:
		if maxLen < pdu.ContinuationHeaderSize {
			return nil, false, pdu.ErrBufferTooSmall
		}
		n := min(len(t.response)-t.respOffset, maxLen-pdu.ContinuationHeaderSize)
		p = &pdu.PDU{
			Continuation: true,
			Type:         pdu.TypeResponse,
			TID:          t.tid,
			Body:         t.response[t.respOffset : t.respOffset+n],
		}

	default:
		return nil, false, ErrUnexpectedRead
	}

	b, err := p.Encode(maxLen)
	if err != nil {
		return nil, false, err
	}
	t.respOffset += len(p.Body)
	return b, t.respOffset == len(t.response), nil
}
