package accessory

import (
	"github.com/google/uuid"

	"github.com/backkem/hap/pkg/ble/link"
	"github.com/backkem/hap/pkg/model"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/tlv"
)

// bindPairingService installs the handlers of the Pairing service.
func (s *Server) bindPairingService() {
	a := s.config.Accessory
	bind := func(t uuid.UUID, r model.ReadFunc, w model.WriteFunc) {
		if c, _, ok := a.Find(model.ServiceTypePairing, t); ok {
			c.OnRead = r
			c.OnWrite = w
		}
	}
	bind(model.CharacteristicTypePairSetup, s.pairSetupRead, s.pairSetupWrite)
	bind(model.CharacteristicTypePairVerify, s.pairVerifyRead, s.pairVerifyWrite)
	bind(model.CharacteristicTypePairingPairings, s.pairingsRead, s.pairingsWrite)
}

func (s *Server) pairVerifyWrite(req model.WriteRequest, value []byte) error {
	c, err := s.connFor(req.Session)
	if err != nil {
		return err
	}
	c.link.DidStartPairingProcedure(link.PairingProcedurePairVerify)
	return c.handshake.HandleWrite(req.Session, value)
}

func (s *Server) pairVerifyRead(req model.ReadRequest) ([]byte, error) {
	c, err := s.connFor(req.Session)
	if err != nil {
		return nil, err
	}
	w := tlv.NewWriter(req.MaxLength)
	if err := c.handshake.HandleRead(req.Session, w); err != nil {
		return nil, err
	}
	if !c.handshake.InProgress() {
		c.link.DidCompletePairingProcedure(link.PairingProcedurePairVerify)
	}
	return w.Bytes(), nil
}

func pairingsProcedure(m pairing.Method) link.PairingProcedure {
	switch m {
	case pairing.MethodAddPairing:
		return link.PairingProcedureAddPairing
	case pairing.MethodRemovePairing:
		return link.PairingProcedureRemovePairing
	default:
		return link.PairingProcedureListPairings
	}
}

func (s *Server) pairingsWrite(req model.WriteRequest, value []byte) error {
	c, err := s.connFor(req.Session)
	if err != nil {
		return err
	}
	if err := c.pairings.HandleWrite(req.Session, value); err != nil {
		return err
	}
	c.link.DidStartPairingProcedure(pairingsProcedure(c.pairings.Method()))
	return nil
}

func (s *Server) pairingsRead(req model.ReadRequest) ([]byte, error) {
	c, err := s.connFor(req.Session)
	if err != nil {
		return nil, err
	}
	proc := pairingsProcedure(c.pairings.Method())
	w := tlv.NewWriter(req.MaxLength)
	err = c.pairings.HandleRead(req.Session, w)
	c.link.DidCompletePairingProcedure(proc)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Pair Setup is not supported. Every request is answered with an
// Unavailable error for the next state.
func (s *Server) pairSetupWrite(req model.WriteRequest, value []byte) error {
	c, err := s.connFor(req.Session)
	if err != nil {
		return err
	}
	v, err := tlv.Parse(value, pairing.TLVState)
	if err != nil {
		return err
	}
	st, _, err := v.Uint8(pairing.TLVState)
	if err != nil {
		return err
	}
	c.pairSetupState = st + 1
	c.link.DidPairSetupProcedure()
	if s.log != nil {
		s.log.Infof("rejecting Pair Setup M%d: not supported", st)
	}
	return nil
}

func (s *Server) pairSetupRead(req model.ReadRequest) ([]byte, error) {
	c, err := s.connFor(req.Session)
	if err != nil {
		return nil, err
	}
	st := max(c.pairSetupState, 2)
	c.pairSetupState = 0

	w := tlv.NewWriter(req.MaxLength)
	if err := w.AppendUint8(pairing.TLVState, st); err != nil {
		return nil, err
	}
	if err := w.AppendUint8(pairing.TLVError, uint8(pairing.ErrorUnavailable)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
