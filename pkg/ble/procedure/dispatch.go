package procedure

import (
	"errors"
	"fmt"

	"github.com/backkem/hap/pkg/ble/pdu"
	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/model"
	"github.com/backkem/hap/pkg/tlv"
)

// errProcedureInProgress is returned when a request arrives while a
// different procedure holds the characteristic. The link must be dropped.
var errProcedureInProgress = fmt.Errorf("procedure: different procedure in progress: %w", hap.ErrInvalidState)

func (p *Procedure) respond(status pdu.Status, body []byte) {
	if status != pdu.StatusSuccess {
		p.logf("responding %s", status)
	}
	p.tx.SetResponse(status, body)
}

func (p *Procedure) newWriter() *tlv.Writer {
	return tlv.NewWriter(p.config.BufferSize)
}

// process dispatches the reassembled request and sets the response. An
// error means the request is not legal in the current state.
func (p *Procedure) process() error {
	s := p.config.Session
	c := p.config.Characteristic
	svc := p.config.Service

	req, err := p.tx.Request()
	if err != nil {
		if p.multi == multiTimedWrite {
			// Only an empty Execute-Write fits the buffer of a staged
			// timed write.
			return fmt.Errorf("procedure: expected execute write: %w", hap.ErrInvalidState)
		}
		p.respond(pdu.StatusInvalidRequest, nil)
		return nil
	}

	if !req.Opcode.IsValid() ||
		!req.Opcode.SupportedOnTransport(s.Transport()) ||
		!req.Opcode.SupportedOnCharacteristic(c, svc) {
		p.logf("rejected opcode 0x%02X", uint8(req.Opcode))
		p.respond(pdu.StatusUnsupportedPDU, nil)
		return nil
	}

	iid := c.IID
	if req.Opcode.OperationType() == pdu.OperationTypeService {
		iid = svc.IID
	}
	iidMatches := req.IID == iid
	if !iidMatches {
		p.logf("request IID %d does not match %d", req.IID, iid)
		if req.Opcode != pdu.OpcodeServiceSignatureRead {
			p.respond(pdu.StatusInvalidInstanceID, nil)
			return nil
		}
	}

	switch req.Opcode {
	case pdu.OpcodeAccessorySignatureRead, pdu.OpcodeNotificationConfigRead,
		pdu.OpcodeNotificationRegister, pdu.OpcodeNotificationDeregister:
		p.respond(pdu.StatusUnsupportedPDU, nil)
		return nil

	case pdu.OpcodeServiceSignatureRead:
		if p.multi != multiNone {
			return errProcedureInProgress
		}
		target := svc
		if !iidMatches {
			target = nil
		}
		body, err := serviceSignature(p.newWriter(), target)
		if err != nil {
			p.respond(pdu.StatusInvalidRequest, nil)
			return nil
		}
		p.respond(pdu.StatusSuccess, body)
		return nil

	case pdu.OpcodeCharacteristicSignatureRead:
		if p.multi != multiNone {
			return errProcedureInProgress
		}
		// Pair Setup and Pair Verify only expose their signature without
		// a secure session.
		if s.IsSecured() && c.DropsSecuritySession() {
			p.respond(pdu.StatusUnsupportedPDU, nil)
			return nil
		}
		body, err := characteristicSignature(p.newWriter(), c, svc)
		if err != nil {
			p.respond(pdu.StatusInvalidRequest, nil)
			return nil
		}
		p.respond(pdu.StatusSuccess, body)
		return nil

	case pdu.OpcodeCharacteristicConfiguration:
		if p.multi != multiNone {
			return errProcedureInProgress
		}
		if s.IsTransient() || !s.IsSecured() {
			p.respond(pdu.StatusUnsupportedPDU, nil)
			return nil
		}
		if err := p.handleCharacteristicConfiguration(req.Body); err != nil {
			p.logf("characteristic configuration failed: %v", err)
			p.respond(pdu.StatusInvalidRequest, nil)
			return nil
		}
		body, err := p.characteristicConfiguration(p.newWriter())
		if err != nil {
			p.respond(pdu.StatusInvalidRequest, nil)
			return nil
		}
		p.respond(pdu.StatusSuccess, body)
		return nil

	case pdu.OpcodeProtocolConfiguration:
		if p.multi != multiNone {
			return errProcedureInProgress
		}
		if s.IsTransient() || !svc.Properties.SupportsConfiguration || !s.IsSecured() {
			p.respond(pdu.StatusUnsupportedPDU, nil)
			return nil
		}
		getAll, err := p.handleProtocolConfiguration(req.Body)
		if err != nil {
			p.logf("protocol configuration failed: %v", err)
			p.respond(pdu.StatusInvalidRequest, nil)
			return nil
		}
		if !getAll {
			p.respond(pdu.StatusSuccess, nil)
			return nil
		}
		body, err := p.protocolConfiguration(p.newWriter())
		if err != nil {
			p.respond(pdu.StatusInvalidRequest, nil)
			return nil
		}
		p.respond(pdu.StatusSuccess, body)
		return nil

	case pdu.OpcodeToken, pdu.OpcodeTokenUpdate:
		if p.multi != multiNone {
			return errProcedureInProgress
		}
		// Software authentication tokens are not provisioned.
		p.respond(pdu.StatusInvalidRequest, nil)
		return nil

	case pdu.OpcodeInfo:
		if p.multi != multiNone {
			return errProcedureInProgress
		}
		if !s.IsSecured() {
			p.respond(pdu.StatusUnsupportedPDU, nil)
			return nil
		}
		body, err := p.info(p.newWriter())
		if err != nil {
			p.respond(pdu.StatusInvalidRequest, nil)
			return nil
		}
		p.respond(pdu.StatusSuccess, body)
		return nil

	case pdu.OpcodeCharacteristicTimedWrite:
		if p.multi != multiNone {
			return errProcedureInProgress
		}
		if s.IsTransient() {
			p.respond(pdu.StatusUnsupportedPDU, nil)
			return nil
		}
		p.multi = multiTimedWrite
		p.timedWriteBody = append([]byte(nil), req.Body...)
		p.timedWriteAt = p.config.Timers.Now()
		p.respond(pdu.StatusSuccess, nil)
		return nil

	case pdu.OpcodeCharacteristicExecuteWrite:
		if p.multi != multiTimedWrite {
			return fmt.Errorf("procedure: execute write without timed write: %w", hap.ErrInvalidState)
		}
		p.multi = multiNone
		body := p.timedWriteBody
		p.timedWriteBody = nil
		return p.write(body, true)

	case pdu.OpcodeCharacteristicWrite:
		return p.write(req.Body, false)

	case pdu.OpcodeCharacteristicRead:
		return p.read(true)
	}

	p.respond(pdu.StatusUnsupportedPDU, nil)
	return nil
}

// write handles a characteristic write. timed is set for the execute leg
// of a timed write.
func (p *Procedure) write(body []byte, timed bool) error {
	s := p.config.Session
	c := p.config.Characteristic

	if p.multi != multiNone {
		return errProcedureInProgress
	}
	if s.IsTransient() {
		p.respond(pdu.StatusUnsupportedPDU, nil)
		return nil
	}

	supportsWrite := c.Properties.BLE.WritableWithoutSecurity
	if c.Type == model.CharacteristicTypeIdentify {
		// Identify is open until the accessory is paired.
		supportsWrite = !p.paired()
	}
	supportsSecureWrite := c.Properties.Writable
	if !s.IsSecured() && !supportsWrite {
		if supportsSecureWrite {
			p.respond(pdu.StatusInsufficientAuthentication, nil)
		} else {
			p.respond(pdu.StatusUnsupportedPDU, nil)
		}
		return nil
	}
	if s.IsSecured() && !supportsSecureWrite {
		p.respond(pdu.StatusUnsupportedPDU, nil)
		return nil
	}
	if c.Properties.WriteRequiresAdmin && !s.ControllerIsAdmin() {
		p.respond(pdu.StatusInvalidRequest, nil)
		return nil
	}
	if c.Properties.RequiresTimedWrite && !timed {
		p.respond(pdu.StatusInvalidRequest, nil)
		return nil
	}

	params, err := parseWriteParams(body, c)
	if err != nil {
		p.logf("write request malformed: %v", err)
		p.respond(pdu.StatusInvalidRequest, nil)
		return nil
	}
	if timed {
		expired, err := params.timedWriteExpired(p.timedWriteAt, p.config.Timers.Now())
		if err != nil {
			p.respond(pdu.StatusInvalidRequest, nil)
			return nil
		}
		if expired {
			p.logf("timed write expired")
			p.respond(pdu.StatusUnsupportedPDU, nil)
			return nil
		}
	}

	err = c.Write(model.WriteRequest{
		Session:           s,
		Accessory:         p.config.Accessory,
		Service:           p.config.Service,
		Characteristic:    c,
		AuthorizationData: params.authData,
		Remote:            params.remote,
		Timed:             timed,
	}, params.value)
	switch {
	case err == nil:
	case errors.Is(err, hap.ErrNotAuthorized):
		p.respond(pdu.StatusInsufficientAuthorization, nil)
		return nil
	case c.Type == model.CharacteristicTypeTransitionControl && errors.Is(err, hap.ErrOutOfResources):
		p.respond(pdu.StatusInsufficientResources, nil)
		return nil
	default:
		p.logf("write failed: %v", err)
		p.respond(pdu.StatusInvalidRequest, nil)
		return nil
	}

	if !params.returnResponse {
		if c.Properties.SupportsWriteResponse {
			return p.read(false)
		}
		p.respond(pdu.StatusSuccess, nil)
		return nil
	}
	return p.read(true)
}

// read handles a characteristic read, standalone or following a write.
// Without returnResponse the value is read but not sent.
func (p *Procedure) read(returnResponse bool) error {
	s := p.config.Session
	c := p.config.Characteristic

	if p.multi != multiNone {
		return errProcedureInProgress
	}
	if s.IsTransient() {
		p.respond(pdu.StatusUnsupportedPDU, nil)
		return nil
	}

	supportsRead := c.Properties.BLE.ReadableWithoutSecurity
	supportsSecureRead := c.Properties.Readable
	if !s.IsSecured() && !supportsRead {
		if supportsSecureRead {
			p.respond(pdu.StatusInsufficientAuthentication, nil)
		} else {
			p.respond(pdu.StatusUnsupportedPDU, nil)
		}
		return nil
	}
	if s.IsSecured() && !supportsSecureRead {
		p.respond(pdu.StatusUnsupportedPDU, nil)
		return nil
	}
	if c.Properties.ReadRequiresAdmin && !s.ControllerIsAdmin() {
		p.respond(pdu.StatusInvalidRequest, nil)
		return nil
	}

	w := p.newWriter()
	value, err := c.Read(model.ReadRequest{
		Session:        s,
		Accessory:      p.config.Accessory,
		Service:        p.config.Service,
		Characteristic: c,
		MaxLength:      min(w.Remaining()-tlv.EncodedLen(0), MaxValueSize),
	})
	if err != nil {
		p.logf("read failed: %v", err)
		p.respond(pdu.StatusInvalidRequest, nil)
		return nil
	}
	if !returnResponse {
		p.respond(pdu.StatusSuccess, nil)
		return nil
	}
	if len(value) > MaxValueSize {
		p.respond(pdu.StatusInvalidRequest, nil)
		return nil
	}
	if err := w.Append(pdu.ParamValue, value); err != nil {
		p.respond(pdu.StatusInvalidRequest, nil)
		return nil
	}
	p.respond(pdu.StatusSuccess, w.Bytes())
	return nil
}

func (p *Procedure) paired() bool {
	return p.config.Paired != nil && p.config.Paired()
}
