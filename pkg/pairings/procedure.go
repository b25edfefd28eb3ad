package pairings

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/session"
	"github.com/backkem/hap/pkg/tlv"
)

var (
	// ErrUnexpectedRequest is returned for a write or read that does not
	// fit the procedure state.
	ErrUnexpectedRequest = fmt.Errorf("pairings: unexpected request: %w", hap.ErrInvalidState)

	// ErrMalformedRequest is returned for a request with missing or invalid TLVs.
	ErrMalformedRequest = fmt.Errorf("pairings: malformed request: %w", hap.ErrInvalidData)

	// ErrPairingMissing is returned when the session pairing vanished from
	// the store.
	ErrPairingMissing = fmt.Errorf("pairings: session pairing missing: %w", hap.ErrUnknown)
)

// Procedure is the Pairings procedure state of one session.
type Procedure struct {
	manager *Manager

	state     uint8
	method    pairing.Method
	pending   pairing.ErrorCode
	removedID []byte
}

// Reset returns the procedure to idle.
func (p *Procedure) Reset() {
	p.state = 0
	p.method = 0
	p.pending = pairing.ErrorNone
	p.removedID = nil
}

// InProgress reports whether a request awaits its response.
func (p *Procedure) InProgress() bool {
	return p.state != 0
}

// Method returns the method of the request in progress.
func (p *Procedure) Method() pairing.Method {
	return p.method
}

// HandleSessionInvalidate completes a Remove Pairing whose response was
// never read, so the removal takes effect anyway.
func (p *Procedure) HandleSessionInvalidate(s *session.Session) {
	if p.state != 1 || p.method != pairing.MethodRemovePairing {
		return
	}
	// The response is discarded; a short buffer is fine.
	if err := p.HandleRead(s, tlv.NewWriter(16)); err != nil && p.manager.log != nil {
		p.manager.log.Debugf("ignoring Remove Pairing completion error: %v", err)
	}
}

// HandleWrite processes a Pairings request (M1).
func (p *Procedure) HandleWrite(s *session.Session, data []byte) error {
	v, err := tlv.Parse(data,
		pairing.TLVMethod,
		pairing.TLVIdentifier,
		pairing.TLVPublicKey,
		pairing.TLVState,
		pairing.TLVPermissions,
	)
	if err != nil {
		p.Reset()
		return err
	}

	if p.state != 0 {
		p.Reset()
		return ErrUnexpectedRequest
	}
	p.state++

	if err := p.processM1(s, v); err != nil {
		p.Reset()
		return err
	}
	return nil
}

func (p *Procedure) processM1(s *session.Session, v tlv.Values) error {
	m, ok, err := v.Uint8(pairing.TLVMethod)
	if err != nil || !ok {
		return fmt.Errorf("%w: method", ErrMalformedRequest)
	}
	method := pairing.Method(m)
	switch method {
	case pairing.MethodAddPairing, pairing.MethodRemovePairing, pairing.MethodListPairings:
	default:
		return fmt.Errorf("%w: method %d", ErrMalformedRequest, m)
	}
	p.method = method

	if ok, err := p.authorize(s); err != nil || !ok {
		return err
	}

	st, ok, err := v.Uint8(pairing.TLVState)
	if err != nil || !ok || st != 1 {
		return fmt.Errorf("%w: state", ErrMalformedRequest)
	}

	switch method {
	case pairing.MethodAddPairing:
		return p.processAdd(v)
	case pairing.MethodRemovePairing:
		id, ok := v.Get(pairing.TLVIdentifier)
		if !ok || len(id) > pairing.MaxIdentifierLen {
			return fmt.Errorf("%w: identifier", ErrMalformedRequest)
		}
		p.removedID = bytes.Clone(id)
	}
	return nil
}

// authorize requires an admin session. A non-admin controller gets an
// Authentication error response rather than a Go error.
func (p *Procedure) authorize(s *session.Session) (bool, error) {
	if !s.IsActive() || s.IsTransient() {
		p.pending = pairing.ErrorAuthentication
		return false, nil
	}
	r, exists, err := p.manager.pairings.Get(s.PairingID())
	if err != nil {
		return false, fmt.Errorf("%w: %v", hap.ErrUnknown, err)
	}
	if !exists {
		return false, ErrPairingMissing
	}
	if !r.IsAdmin() {
		p.pending = pairing.ErrorAuthentication
		return false, nil
	}
	return true, nil
}

func (p *Procedure) processAdd(v tlv.Values) error {
	id, ok := v.Get(pairing.TLVIdentifier)
	if !ok || len(id) > pairing.MaxIdentifierLen {
		return fmt.Errorf("%w: identifier", ErrMalformedRequest)
	}
	pk, ok := v.Get(pairing.TLVPublicKey)
	if !ok || len(pk) != pairing.PublicKeySize {
		return fmt.Errorf("%w: public key", ErrMalformedRequest)
	}
	perms, ok, err := v.Uint8(pairing.TLVPermissions)
	if err != nil || !ok || perms&^uint8(pairing.PermissionAdmin) != 0 {
		return fmt.Errorf("%w: permissions", ErrMalformedRequest)
	}

	m := p.manager
	existing, idx, found, err := m.pairings.Find(id)
	if err != nil {
		return fmt.Errorf("%w: %v", hap.ErrUnknown, err)
	}
	if found {
		if !bytes.Equal(existing.PublicKey[:], pk) {
			if m.log != nil {
				m.log.Warnf("Add Pairing: key mismatch for controller %q", id)
			}
			p.pending = pairing.ErrorUnknown
			return nil
		}
		if err := m.pairings.UpdatePermissions(idx, pairing.Permissions(perms)); err != nil {
			return fmt.Errorf("%w: %v", hap.ErrUnknown, err)
		}
		if err := m.CleanupPairings(); err != nil {
			p.pending = pairing.ErrorUnknown
		}
		return nil
	}

	r := pairing.Record{Identifier: bytes.Clone(id), Permissions: pairing.Permissions(perms)}
	copy(r.PublicKey[:], pk)
	if _, err := m.pairings.Add(r); err != nil {
		if errors.Is(err, hap.ErrOutOfResources) {
			p.pending = pairing.ErrorMaxPeers
		} else {
			p.pending = pairing.ErrorUnknown
		}
		return nil
	}
	if m.log != nil {
		m.log.Infof("added pairing for controller %q", id)
	}
	return nil
}

// HandleRead produces the Pairings response (M2).
func (p *Procedure) HandleRead(s *session.Session, w *tlv.Writer) error {
	if p.pending != pairing.ErrorNone {
		p.state++
		err := p.writeError(w)
		p.Reset()
		return err
	}
	if p.state != 1 {
		p.Reset()
		return ErrUnexpectedRequest
	}
	p.state++

	ok, err := p.authorize(s)
	if err == nil && ok {
		switch p.method {
		case pairing.MethodAddPairing:
			err = w.AppendUint8(pairing.TLVState, p.state)
		case pairing.MethodRemovePairing:
			err = p.writeRemoveM2(w)
		case pairing.MethodListPairings:
			err = p.writeListM2(w)
		}
	}
	if err != nil {
		p.Reset()
		return err
	}
	if p.pending != pairing.ErrorNone {
		err = p.writeError(w)
	}
	p.Reset()
	return err
}

func (p *Procedure) writeRemoveM2(w *tlv.Writer) error {
	m := p.manager
	_, idx, found, err := m.pairings.Find(p.removedID)
	if err != nil {
		return fmt.Errorf("%w: %v", hap.ErrUnknown, err)
	}
	if found {
		if err := m.removePairing(idx); err != nil {
			p.pending = pairing.ErrorUnknown
			return nil
		}
		if m.log != nil {
			m.log.Infof("removed pairing for controller %q", p.removedID)
		}
		if err := m.CleanupPairings(); err != nil {
			p.pending = pairing.ErrorUnknown
			return nil
		}
	}
	return w.AppendUint8(pairing.TLVState, p.state)
}

func (p *Procedure) writeListM2(w *tlv.Writer) error {
	if err := w.AppendUint8(pairing.TLVState, p.state); err != nil {
		return err
	}
	first := true
	for _, r := range p.manager.pairings.All() {
		if !first {
			if err := w.Append(pairing.TLVSeparator, nil); err != nil {
				return err
			}
		}
		first = false
		if err := w.Append(pairing.TLVIdentifier, r.Identifier); err != nil {
			return err
		}
		if err := w.Append(pairing.TLVPublicKey, r.PublicKey[:]); err != nil {
			return err
		}
		if err := w.AppendUint8(pairing.TLVPermissions, uint8(r.Permissions)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Procedure) writeError(w *tlv.Writer) error {
	if p.manager.log != nil {
		p.manager.log.Infof("%s M%d failed: %s", p.method, p.state, p.pending)
	}
	if err := w.AppendUint8(pairing.TLVState, p.state); err != nil {
		return err
	}
	return w.AppendUint8(pairing.TLVError, uint8(p.pending))
}
