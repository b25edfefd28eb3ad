// Package client implements the controller side of HAP-BLE procedures.
//
// It fragments requests to the ATT MTU, encrypts them once a session is
// established and reassembles responses. It is used by end-to-end tests
// and the selftest command; it is not a full controller.
package client

import (
	"errors"
	"fmt"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/ble/pdu"
	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/pairings"
	"github.com/backkem/hap/pkg/pairverify"
	"github.com/backkem/hap/pkg/resume"
	"github.com/backkem/hap/pkg/session"
	"github.com/backkem/hap/pkg/tlv"
)

// DefaultMTU is the ATT payload size used when none is configured.
const DefaultMTU = 128

// tagSize is the ChaCha20-Poly1305 tag of a secured fragment.
const tagSize = 16

// ErrStatus is wrapped by a *StatusError.
var ErrStatus = errors.New("client: accessory reported a status")

// StatusError is a non-success HAP status.
type StatusError struct {
	Opcode pdu.Opcode
	Status pdu.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: %s failed: %s", e.Opcode, e.Status)
}

// Unwrap returns ErrStatus.
func (e *StatusError) Unwrap() error {
	return ErrStatus
}

// GATT is the characteristic access a client runs over.
type GATT interface {
	// Write writes one GATT fragment to the characteristic iid.
	Write(iid uint16, data []byte) error
	// Read reads one GATT fragment of at most maxLen bytes.
	Read(iid uint16, maxLen int) ([]byte, error)
}

// Config configures a Client.
type Config struct {
	// GATT carries the fragments. Required.
	GATT GATT

	// MTU bounds every fragment. Default DefaultMTU.
	MTU int

	// LoggerFactory for client logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Client runs HAP-BLE procedures against one accessory.
//
// Thread Safety: not safe for concurrent use.
type Client struct {
	gatt    GATT
	mtu     int
	session *session.Session
	tid     uint8
	log     logging.LeveledLogger
}

// New creates a client with an unsecured session.
func New(config Config) *Client {
	c := &Client{
		gatt: config.GATT,
		mtu:  config.MTU,
		session: session.New(session.Config{
			Transport:     hap.TransportTypeBLE,
			Role:          session.RoleController,
			LoggerFactory: config.LoggerFactory,
		}),
	}
	if c.mtu <= 0 {
		c.mtu = DefaultMTU
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("hap-ble-client")
	}
	return c
}

// Session returns the controller side of the security session.
func (c *Client) Session() *session.Session {
	return c.session
}

// Secured reports whether requests are encrypted.
func (c *Client) Secured() bool {
	return c.session.IsActive()
}

func (c *Client) seal(frag []byte) ([]byte, error) {
	if !c.Secured() {
		return frag, nil
	}
	return c.session.EncryptControl(frag)
}

func (c *Client) open(frag []byte) ([]byte, error) {
	if !c.Secured() {
		return frag, nil
	}
	return c.session.DecryptControl(frag)
}

// Do runs one procedure and returns the response status and body.
func (c *Client) Do(op pdu.Opcode, iid uint16, body []byte) (pdu.Status, []byte, error) {
	c.tid++
	room := c.mtu
	if c.Secured() {
		room -= tagSize
	}

	// First fragment, then continuations.
	first := &pdu.PDU{Type: pdu.TypeRequest, Opcode: op, TID: c.tid, IID: iid}
	if body != nil {
		first.HasBody = true
		first.TotalBodyLen = uint16(len(body))
		n := min(len(body), room-pdu.RequestHeaderSize-pdu.BodyLengthSize)
		first.Body, body = body[:n], body[n:]
	}
	frags := []*pdu.PDU{first}
	for len(body) > 0 {
		n := min(len(body), room-pdu.ContinuationHeaderSize)
		frags = append(frags, &pdu.PDU{Continuation: true, Type: pdu.TypeRequest, TID: c.tid, Body: body[:n]})
		body = body[n:]
	}
	for _, f := range frags {
		b, err := f.Encode(room)
		if err != nil {
			return 0, nil, err
		}
		if b, err = c.seal(b); err != nil {
			return 0, nil, err
		}
		if err := c.gatt.Write(iid, b); err != nil {
			return 0, nil, err
		}
	}

	frag, err := c.read(iid)
	if err != nil {
		return 0, nil, err
	}
	resp, err := pdu.Decode(frag)
	if err != nil {
		return 0, nil, err
	}
	if resp.Type != pdu.TypeResponse || resp.TID != c.tid {
		return 0, nil, fmt.Errorf("client: unexpected response %s: %w", resp, hap.ErrInvalidData)
	}
	out := append([]byte(nil), resp.Body...)
	for len(out) < int(resp.TotalBodyLen) {
		frag, err := c.read(iid)
		if err != nil {
			return 0, nil, err
		}
		cont, err := pdu.DecodeContinuation(frag, pdu.TypeResponse, int(resp.TotalBodyLen), len(out))
		if err != nil {
			return 0, nil, err
		}
		out = append(out, cont.Body...)
	}
	if c.log != nil {
		c.log.Debugf("%s on %d: %s, %d bytes", op, iid, resp.Status, len(out))
	}
	return resp.Status, out, nil
}

func (c *Client) read(iid uint16) ([]byte, error) {
	frag, err := c.gatt.Read(iid, c.mtu)
	if err != nil {
		return nil, err
	}
	return c.open(frag)
}

// do runs a procedure that must succeed.
func (c *Client) do(op pdu.Opcode, iid uint16, body []byte) ([]byte, error) {
	status, resp, err := c.Do(op, iid, body)
	if err != nil {
		return nil, err
	}
	if status != pdu.StatusSuccess {
		return nil, &StatusError{Opcode: op, Status: status}
	}
	return resp, nil
}

func value(resp []byte) ([]byte, error) {
	v, err := tlv.Parse(resp, pdu.ParamValue)
	if err != nil {
		return nil, err
	}
	b, ok := v.Get(pdu.ParamValue)
	if !ok {
		return nil, fmt.Errorf("client: response without value: %w", hap.ErrInvalidData)
	}
	return b, nil
}

// Read reads the value of a characteristic.
func (c *Client) Read(iid uint16) ([]byte, error) {
	resp, err := c.do(pdu.OpcodeCharacteristicRead, iid, nil)
	if err != nil {
		return nil, err
	}
	return value(resp)
}

// Write writes the value of a characteristic.
func (c *Client) Write(iid uint16, v []byte) error {
	w := tlv.NewWriter(0)
	if err := w.Append(pdu.ParamValue, v); err != nil {
		return err
	}
	_, err := c.do(pdu.OpcodeCharacteristicWrite, iid, w.Bytes())
	return err
}

// WriteWithResponse writes v and returns the value the accessory answers
// with.
func (c *Client) WriteWithResponse(iid uint16, v []byte) ([]byte, error) {
	w := tlv.NewWriter(0)
	if err := w.Append(pdu.ParamValue, v); err != nil {
		return nil, err
	}
	if err := w.AppendUint8(pdu.ParamReturnResponse, 1); err != nil {
		return nil, err
	}
	resp, err := c.do(pdu.OpcodeCharacteristicWrite, iid, w.Bytes())
	if err != nil {
		return nil, err
	}
	return value(resp)
}

// SignatureRead returns the characteristic signature TLVs.
func (c *Client) SignatureRead(iid uint16) (tlv.Values, error) {
	resp, err := c.do(pdu.OpcodeCharacteristicSignatureRead, iid, nil)
	if err != nil {
		return nil, err
	}
	return tlv.Parse(resp)
}

// PairVerify runs Pair Verify on the Pair Verify characteristic and
// secures the session. With a cached session ID and secret it first tries
// Pair Resume and falls back to a full verify if the accessory declines.
func (c *Client) PairVerify(iid uint16, pv *pairverify.Controller, id *resume.SessionID, secret []byte) error {
	// Pair Verify runs in plaintext.
	if c.Secured() {
		c.session.Invalidate(false)
	}

	var (
		m1  []byte
		err error
	)
	if id != nil {
		m1, err = pv.StartResume(*id, secret)
	} else {
		m1, err = pv.StartVerify()
	}
	if err != nil {
		return err
	}

	m2, err := c.WriteWithResponse(iid, m1)
	if err != nil {
		return err
	}
	m3, err := pv.HandleM2(m2)
	if err != nil {
		return err
	}
	if m3 != nil {
		m4, err := c.WriteWithResponse(iid, m3)
		if err != nil {
			return err
		}
		if err := pv.HandleM4(m4); err != nil {
			return err
		}
	}
	return c.session.Start(pv.SharedSecret(), pairing.NoIndex)
}

// Pairings sends a Pairings request and returns the listed records.
func (c *Client) Pairings(iid uint16, request []byte) ([]pairing.Record, error) {
	m2, err := c.WriteWithResponse(iid, request)
	if err != nil {
		return nil, err
	}
	return pairings.ParseResponse(m2)
}
