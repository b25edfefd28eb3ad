// Package procedure implements the HAP-BLE procedure engine that runs on
// every HAP characteristic of a connection.
//
// A procedure owns the reassembly buffer of one characteristic. Inbound
// GATT writes are decrypted (when the procedure started on a secured
// session) and fed to the transaction layer; the first GATT read after a
// complete request dispatches it by opcode, and the response is fragmented
// and encrypted across subsequent reads.
//
// Every procedure must complete within 10 seconds of its first fragment.
// On timeout the security session is invalidated and the link terminated.
//
// Timed writes span two transactions: the Timed-Write request stages the
// body, and only the matching Execute-Write may follow.
package procedure

import (
	"fmt"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/ble/transaction"
	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/kvs"
	"github.com/backkem/hap/pkg/model"
	"github.com/backkem/hap/pkg/session"
	"github.com/backkem/hap/pkg/timer"
)

const (
	// Timeout bounds a procedure from its first fragment to its last
	// response fragment.
	Timeout = 10 * time.Second

	// DefaultBufferSize is the default reassembly and response buffer size.
	DefaultBufferSize = 2048

	// MaxValueSize bounds a characteristic value carried over BLE.
	MaxValueSize = 64000

	// TagSize is the ChaCha20-Poly1305 tag appended to secured fragments.
	TagSize = 16

	maxBodySize = 65535
)

// DeviceIDSize is the size of the accessory device identifier.
const DeviceIDSize = 6

// Link is the link session a procedure reports to.
type Link interface {
	// IsTerminal reports whether no further requests are accepted.
	IsTerminal() bool
	// IsTerminalSoon reports whether the link is about to become terminal.
	IsTerminalSoon() bool
	// DidStartProcedure is called when the first fragment of a procedure
	// arrives.
	DidStartProcedure()
	// DidSendGATTResponse is called after every answered GATT request.
	DidSendGATTResponse()
}

// Config configures a Procedure.
type Config struct {
	// Accessory, Service and Characteristic identify the addressed
	// attribute. Required.
	Accessory      *model.Accessory
	Service        *model.Service
	Characteristic *model.Characteristic

	// Session is the security session of the connection. Required.
	Session *session.Session

	// Link is the link session of the connection. Required.
	Link Link

	// Timers arms the procedure timer. Required.
	Timers timer.Service

	// Store holds characteristic and protocol configuration. Required.
	Store kvs.Store

	// DeviceID is reported by HAP-Info and is the default advertising
	// identifier.
	DeviceID [DeviceIDSize]byte

	// Paired reports whether the accessory has at least one pairing. Nil
	// means unpaired.
	Paired func() bool

	// BufferSize bounds requests and responses. Default DefaultBufferSize.
	BufferSize int

	// LoggerFactory for procedure logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// multiTransaction tracks procedures spanning more than one transaction.
type multiTransaction int

const (
	multiNone multiTransaction = iota
	multiTimedWrite
)

// Procedure is the procedure engine of one characteristic on one
// connection.
//
// Thread Safety: not safe for concurrent use. Calls and timer callbacks
// must be serialized by the owner.
type Procedure struct {
	config Config
	log    logging.LeveledLogger

	tx             *transaction.Transaction
	timer          timer.Handle
	startedSecured bool

	multi          multiTransaction
	timedWriteBody []byte
	timedWriteAt   time.Time
}

// New attaches a procedure to a characteristic.
func New(config Config) (*Procedure, error) {
	if config.Accessory == nil || config.Service == nil || config.Characteristic == nil {
		return nil, fmt.Errorf("procedure: characteristic, service and accessory are required: %w", hap.ErrInvalidData)
	}
	if config.Session == nil || config.Link == nil || config.Timers == nil || config.Store == nil {
		return nil, fmt.Errorf("procedure: session, link, timers and store are required: %w", hap.ErrInvalidData)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	config.BufferSize = min(config.BufferSize, maxBodySize)

	p := &Procedure{
		config: config,
		tx:     transaction.New(config.BufferSize),
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("hap-ble-procedure")
	}
	return p, nil
}

// Characteristic returns the addressed characteristic.
func (p *Procedure) Characteristic() *model.Characteristic {
	return p.config.Characteristic
}

// Service returns the service of the addressed characteristic.
func (p *Procedure) Service() *model.Service {
	return p.config.Service
}

// Destroy detaches the procedure and disarms its timer.
func (p *Procedure) Destroy() {
	if p.timer != 0 {
		p.config.Timers.Deregister(p.timer)
		p.timer = 0
	}
	p.tx.Reset(0)
	p.multi = multiNone
	p.timedWriteBody = nil
}

// Reset abandons the current procedure and re-attaches with the same
// parameters.
func (p *Procedure) Reset() {
	p.Destroy()
	p.startedSecured = false
	p.tx.Reset(p.config.BufferSize)
}

// InProgress reports whether a procedure is in progress.
func (p *Procedure) InProgress() bool {
	return p.timer != 0
}

func (p *Procedure) logf(format string, args ...any) {
	if p.log != nil {
		p.log.Debugf("[%d] "+format, append([]any{p.config.Characteristic.IID}, args...)...)
	}
}

func (p *Procedure) timerExpired(h timer.Handle) {
	if h != p.timer {
		return
	}
	p.timer = 0
	if p.log != nil {
		p.log.Infof("[%d] procedure timed out", p.config.Characteristic.IID)
	}
	p.Reset()
	p.config.Session.Invalidate(true)
}

// HandleGATTWrite consumes one GATT write to the characteristic.
func (p *Procedure) HandleGATTWrite(data []byte) error {
	s := p.config.Session
	c := p.config.Characteristic

	if p.config.Link.IsTerminal() {
		p.logf("rejecting write: link is terminal")
		return fmt.Errorf("procedure: link is terminal: %w", hap.ErrInvalidState)
	}

	if !p.InProgress() {
		if p.config.Link.IsTerminalSoon() {
			p.logf("rejecting write: link is terminal soon")
			return fmt.Errorf("procedure: link is terminal soon: %w", hap.ErrInvalidState)
		}

		// A new secure session is about to be established.
		if s.IsSecured() && c.DropsSecuritySession() {
			if p.log != nil {
				p.log.Infof("[%d] terminating existing security session", c.IID)
			}
			s.Invalidate(false)
			p.Reset()
		}

		p.startedSecured = s.IsSecured()

		var h timer.Handle
		h, err := p.config.Timers.Register(p.config.Timers.Now().Add(Timeout), func() { p.timerExpired(h) })
		if err != nil {
			return fmt.Errorf("procedure: arm procedure timer: %w", hap.ErrOutOfResources)
		}
		p.timer = h
		p.config.Link.DidStartProcedure()
	}

	if p.startedSecured {
		if len(data) < TagSize {
			return fmt.Errorf("procedure: secured fragment without tag: %w", hap.ErrInvalidData)
		}
		plaintext, err := s.DecryptControl(data)
		if err != nil {
			return err
		}
		data = plaintext
	}
	p.logf("< %d bytes (secured=%v)", len(data), p.startedSecured)

	if err := p.tx.HandleWrite(data); err != nil {
		return err
	}
	p.config.Link.DidSendGATTResponse()
	return nil
}

// HandleGATTRead answers one GATT read of at most maxLen bytes.
func (p *Procedure) HandleGATTRead(maxLen int) ([]byte, error) {
	s := p.config.Session

	if p.config.Link.IsTerminal() {
		p.logf("rejecting read: link is terminal")
		return nil, fmt.Errorf("procedure: link is terminal: %w", hap.ErrInvalidState)
	}

	if p.startedSecured {
		if maxLen < TagSize {
			return nil, fmt.Errorf("procedure: no room for tag: %w", hap.ErrOutOfResources)
		}
		maxLen -= TagSize
	}

	if p.tx.IsRequestAvailable() {
		if err := p.process(); err != nil {
			return nil, err
		}
	}

	frag, final, err := p.tx.HandleRead(maxLen)
	if err != nil {
		return nil, err
	}
	p.logf("> %d bytes (secured=%v)", len(frag), p.startedSecured)

	if p.startedSecured {
		frag, err = s.EncryptControl(frag)
		if err != nil {
			return nil, err
		}
	}

	if final {
		p.completeTransaction()
	}
	p.config.Link.DidSendGATTResponse()

	// The security session closed while the procedure ran.
	if !p.InProgress() && p.startedSecured && !s.IsSecured() {
		s.Invalidate(true)
	}
	return frag, nil
}

func (p *Procedure) completeTransaction() {
	switch p.multi {
	case multiNone:
		if p.timer != 0 {
			p.config.Timers.Deregister(p.timer)
			p.timer = 0
		}
		p.tx.Reset(p.config.BufferSize)
	case multiTimedWrite:
		// The staged body keeps the buffer until the Execute-Write.
		p.tx.Reset(0)
	}
}
