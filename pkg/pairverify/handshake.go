package pairverify

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/datastream"
	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/resume"
	"github.com/backkem/hap/pkg/session"
	"github.com/backkem/hap/pkg/tlv"
)

// Config configures an accessory-side Handshake.
type Config struct {
	// DeviceID is the accessory pairing identifier, e.g. "12:34:56:78:9A:BC".
	DeviceID string

	// LongTermKey is the accessory Ed25519 long-term key. Required.
	LongTermKey *crypto.Ed25519KeyPair

	// Pairings resolves controller identifiers. Required.
	Pairings pairing.Store

	// Cache holds resumable BLE sessions. Nil disables Pair Resume.
	Cache *resume.Cache

	// DataStreams is told about pairings whose resumable session was
	// dropped. If it also implements datastream.Resumer, resumed sessions
	// are announced to it.
	DataStreams datastream.Invalidator

	// Rand is the entropy source. Default crypto/rand.Reader.
	Rand io.Reader

	// LoggerFactory for handshake logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Handshake is the Pair Verify procedure state of one session.
//
// Thread Safety: not safe for concurrent use; the owning transport
// serializes calls.
type Handshake struct {
	deviceID    string
	longTermKey *crypto.Ed25519KeyPair
	pairings    pairing.Store
	cache       *resume.Cache
	dataStreams datastream.Invalidator
	rand        io.Reader
	log         logging.LeveledLogger

	state     uint8
	method    pairing.Method
	pending   pairing.ErrorCode
	pairingID pairing.Index

	controllerPK [crypto.X25519KeySize]byte
	accessoryPK  [crypto.X25519KeySize]byte
	sharedSecret [crypto.X25519SecretSize]byte
	sessionKey   [crypto.SymmetricKeySize]byte
}

// NewHandshake creates an idle handshake.
func NewHandshake(config Config) *Handshake {
	h := &Handshake{
		deviceID:    config.DeviceID,
		longTermKey: config.LongTermKey,
		pairings:    config.Pairings,
		cache:       config.Cache,
		dataStreams: config.DataStreams,
		rand:        config.Rand,
		pairingID:   pairing.NoIndex,
	}
	if h.rand == nil {
		h.rand = rand.Reader
	}
	if config.LoggerFactory != nil {
		h.log = config.LoggerFactory.NewLogger("hap-pairverify")
	}
	return h
}

// State returns the handshake state counter (0 when idle).
func (h *Handshake) State() uint8 {
	return h.state
}

// InProgress reports whether a handshake is underway.
func (h *Handshake) InProgress() bool {
	return h.state != 0
}

// Reset abandons any handshake in progress and zeroes its key material.
func (h *Handshake) Reset() {
	h.state = 0
	h.method = 0
	h.pending = pairing.ErrorNone
	h.pairingID = pairing.NoIndex
	clear(h.controllerPK[:])
	clear(h.accessoryPK[:])
	clear(h.sharedSecret[:])
	clear(h.sessionKey[:])
}

// HandleWrite processes a Pair Verify request (M1 or M3).
//
// Authentication failures do not return an error; they are reported to
// the controller by the next HandleRead. A returned error resets the
// handshake.
func (h *Handshake) HandleWrite(s *session.Session, data []byte) error {
	values, err := tlv.Parse(data,
		pairing.TLVState,
		pairing.TLVPublicKey,
		pairing.TLVMethod,
		pairing.TLVSessionID,
		pairing.TLVEncryptedData,
	)
	if err != nil {
		h.Reset()
		return err
	}

	// A new M1 tears down whatever attempt is in progress.
	if st, ok := values.Get(pairing.TLVState); ok && len(st) == 1 && st[0] == 1 {
		h.Reset()
	}

	switch h.state {
	case 0:
		h.state++
		err = h.processM1(s, values)
	case 2:
		h.state++
		err = h.processM3(values)
	default:
		if h.log != nil {
			h.log.Warnf("unexpected Pair Verify write in state M%d", h.state)
		}
		err = ErrUnexpectedWrite
	}
	if err != nil {
		h.Reset()
		return err
	}
	return nil
}

// HandleRead produces the Pair Verify response (M2 or M4), or the error
// response for a failure recorded by the preceding write.
func (h *Handshake) HandleRead(s *session.Session, w *tlv.Writer) error {
	if h.pending != pairing.ErrorNone {
		h.state++
		err := h.writeError(w)
		h.Reset()
		return err
	}

	var err error
	switch h.state {
	case 1:
		h.state++
		if h.method == pairing.MethodPairResume {
			err = h.writeResumeM2(s, w)
		} else {
			err = h.writeM2(w)
		}
	case 3:
		h.state++
		err = h.writeM4(s, w)
	default:
		if h.log != nil {
			h.log.Warnf("unexpected Pair Verify read in state M%d", h.state)
		}
		err = ErrUnexpectedRead
	}
	if err != nil {
		h.Reset()
		return err
	}

	if h.pending != pairing.ErrorNone {
		err = h.writeError(w)
		h.Reset()
		return err
	}
	return nil
}

func (h *Handshake) writeError(w *tlv.Writer) error {
	if h.log != nil {
		h.log.Infof("Pair Verify M%d failed: %s", h.state, h.pending)
	}
	if err := w.AppendUint8(pairing.TLVState, h.state); err != nil {
		return err
	}
	return w.AppendUint8(pairing.TLVError, uint8(h.pending))
}

func (h *Handshake) processM1(s *session.Session, v tlv.Values) error {
	if err := expectState(v, 1); err != nil {
		return err
	}

	method := pairing.MethodPairVerify
	var (
		sessionID resume.SessionID
		tag       []byte
	)
	if b, ok := v.Get(pairing.TLVMethod); ok {
		if len(b) != 1 || pairing.Method(b[0]) != pairing.MethodPairResume {
			return fmt.Errorf("%w: method %x", ErrMalformedRequest, b)
		}
		method = pairing.MethodPairResume

		id, ok := v.Get(pairing.TLVSessionID)
		if !ok || len(id) != resume.SessionIDSize {
			return fmt.Errorf("%w: session ID", ErrMalformedRequest)
		}
		copy(sessionID[:], id)

		tag, ok = v.Get(pairing.TLVEncryptedData)
		if !ok || len(tag) != crypto.TagSize {
			return fmt.Errorf("%w: resume request tag", ErrMalformedRequest)
		}
		if s.Transport() != hap.TransportTypeBLE {
			return ErrResumeUnavailable
		}
	}

	pk, ok := v.Get(pairing.TLVPublicKey)
	if !ok || len(pk) != crypto.X25519KeySize {
		return fmt.Errorf("%w: public key", ErrMalformedRequest)
	}
	h.method = method
	copy(h.controllerPK[:], pk)

	if method != pairing.MethodPairResume {
		return nil
	}

	h.pairingID = pairing.NoIndex
	var secret resume.Secret
	if h.cache != nil {
		var found bool
		secret, h.pairingID, found = h.cache.Fetch(sessionID)
		if !found {
			h.pairingID = pairing.NoIndex
		}
	}
	if h.pairingID == pairing.NoIndex {
		if h.log != nil {
			h.log.Debug("resumable session not found, falling back to Pair Verify")
		}
		h.method = pairing.MethodPairVerify
		return nil
	}
	h.sharedSecret = secret

	key, err := deriveResumeKey(h.sharedSecret[:], h.controllerPK[:], sessionID, resumeRequestInfo)
	if err != nil {
		h.releaseDataStreams(h.pairingID)
		return fmt.Errorf("%w: %v", hap.ErrUnknown, err)
	}
	if _, err := crypto.Open(key, nonceResumeM1, tag, nil); err != nil {
		// The cache entry is gone; resources keyed from it go with it.
		if h.log != nil {
			h.log.Warn("Pair Resume request tag did not verify")
		}
		h.pending = pairing.ErrorAuthentication
		h.releaseDataStreams(h.pairingID)
	}
	return nil
}

func (h *Handshake) writeM2(w *tlv.Writer) error {
	kp, err := crypto.GenerateX25519KeyPair(h.rand)
	if err != nil {
		return fmt.Errorf("%w: %v", hap.ErrUnknown, err)
	}
	defer kp.Zeroize()

	secret, err := kp.SharedSecret(h.controllerPK[:])
	if err != nil {
		if h.log != nil {
			h.log.Warnf("Pair Verify M2: %v", err)
		}
		h.pending = pairing.ErrorAuthentication
		return nil
	}
	copy(h.sharedSecret[:], secret)
	clear(secret)
	h.accessoryPK = kp.Public

	// Sub-TLV: Identifier and proof of the long-term key.
	sig := h.longTermKey.Sign(proofMessage(h.accessoryPK[:], []byte(h.deviceID), h.controllerPK[:]))
	sub := tlv.NewWriter(0)
	if err := sub.AppendString(pairing.TLVIdentifier, h.deviceID); err != nil {
		return err
	}
	if err := sub.Append(pairing.TLVSignature, sig); err != nil {
		return err
	}

	key, err := crypto.DeriveKey(h.sharedSecret[:], verifyEncryptSalt, verifyEncryptInfo)
	if err != nil {
		return fmt.Errorf("%w: %v", hap.ErrUnknown, err)
	}
	copy(h.sessionKey[:], key)

	encrypted, err := crypto.Seal(h.sessionKey[:], nonceM2, sub.Bytes(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", hap.ErrUnknown, err)
	}

	if err := w.AppendUint8(pairing.TLVState, h.state); err != nil {
		return err
	}
	if err := w.Append(pairing.TLVPublicKey, h.accessoryPK[:]); err != nil {
		return err
	}
	return w.Append(pairing.TLVEncryptedData, encrypted)
}

func (h *Handshake) writeResumeM2(s *session.Session, w *tlv.Writer) error {
	var sessionID resume.SessionID
	if _, err := io.ReadFull(h.rand, sessionID[:]); err != nil {
		return fmt.Errorf("%w: %v", hap.ErrUnknown, err)
	}

	key, err := deriveResumeKey(h.sharedSecret[:], h.controllerPK[:], sessionID, resumeResponseInfo)
	if err != nil {
		return fmt.Errorf("%w: %v", hap.ErrUnknown, err)
	}
	tag, err := crypto.Seal(key, nonceResumeM2, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", hap.ErrUnknown, err)
	}

	resumed := h.sharedSecret
	next, err := deriveResumeKey(h.sharedSecret[:], h.controllerPK[:], sessionID, resumeSharedSecretInfo)
	if err != nil {
		return fmt.Errorf("%w: %v", hap.ErrUnknown, err)
	}
	copy(h.sharedSecret[:], next)

	// The fetch in M1 freed a slot, so this save never evicts.
	if h.cache != nil {
		if evicted := h.cache.Save(sessionID, h.sharedSecret, h.pairingID); evicted != pairing.NoIndex {
			h.releaseDataStreams(evicted)
		}
	}

	if err := w.AppendUint8(pairing.TLVState, h.state); err != nil {
		return err
	}
	if err := w.AppendUint8(pairing.TLVMethod, uint8(h.method)); err != nil {
		return err
	}
	if err := w.Append(pairing.TLVSessionID, sessionID[:]); err != nil {
		return err
	}
	if err := w.Append(pairing.TLVEncryptedData, tag); err != nil {
		return err
	}

	if r, ok := h.dataStreams.(datastream.Resumer); ok {
		r.PrepareSessionResume(h.pairingID, resumed[:], h.sharedSecret[:])
	}
	clear(resumed[:])

	if h.log != nil {
		h.log.Infof("Pair Resume complete (pairing %d)", h.pairingID)
	}
	return h.startSession(s)
}

func (h *Handshake) processM3(v tlv.Values) error {
	if err := expectState(v, 3); err != nil {
		return err
	}
	encrypted, ok := v.Get(pairing.TLVEncryptedData)
	if !ok || len(encrypted) < crypto.TagSize {
		return fmt.Errorf("%w: encrypted data", ErrMalformedRequest)
	}

	plain, err := crypto.Open(h.sessionKey[:], nonceM3, encrypted, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warn("Pair Verify M3: encrypted data did not verify")
		}
		h.pending = pairing.ErrorAuthentication
		return nil
	}

	sub, err := tlv.Parse(plain, pairing.TLVIdentifier, pairing.TLVSignature)
	if err != nil {
		return err
	}
	id, ok := sub.Get(pairing.TLVIdentifier)
	if !ok || len(id) > pairing.MaxIdentifierLen {
		return fmt.Errorf("%w: controller identifier", ErrMalformedRequest)
	}
	sig, ok := sub.Get(pairing.TLVSignature)
	if !ok || len(sig) != crypto.Ed25519SignatureSize {
		return fmt.Errorf("%w: controller signature", ErrMalformedRequest)
	}

	record, idx, found, err := h.pairings.Find(id)
	if err != nil {
		return fmt.Errorf("%w: pairing lookup: %v", hap.ErrUnknown, err)
	}
	if !found {
		if h.log != nil {
			h.log.Infof("Pair Verify M3: controller %q not paired", id)
		}
		h.pending = pairing.ErrorAuthentication
		return nil
	}
	h.pairingID = idx

	msg := proofMessage(h.controllerPK[:], id, h.accessoryPK[:])
	if !crypto.Ed25519Verify(record.PublicKey[:], msg, sig) {
		if h.log != nil {
			h.log.Warnf("Pair Verify M3: signature of controller %q did not verify", id)
		}
		h.pending = pairing.ErrorAuthentication
	}
	return nil
}

func (h *Handshake) writeM4(s *session.Session, w *tlv.Writer) error {
	if err := w.AppendUint8(pairing.TLVState, h.state); err != nil {
		return err
	}

	if s.Transport() == hap.TransportTypeBLE && h.cache != nil {
		id, err := deriveResumeSessionID(h.sharedSecret[:])
		if err != nil {
			return fmt.Errorf("%w: %v", hap.ErrUnknown, err)
		}
		if evicted := h.cache.Save(id, h.sharedSecret, h.pairingID); evicted != pairing.NoIndex {
			h.releaseDataStreams(evicted)
		}
	}

	if h.log != nil {
		h.log.Infof("Pair Verify complete (pairing %d)", h.pairingID)
	}
	return h.startSession(s)
}

// startSession hands the negotiated secret to the session and returns the
// handshake to idle.
func (h *Handshake) startSession(s *session.Session) error {
	err := s.Start(h.sharedSecret[:], h.pairingID)
	h.Reset()
	return err
}

func (h *Handshake) releaseDataStreams(idx pairing.Index) {
	if h.dataStreams != nil {
		h.dataStreams.InvalidateAllForPairing(idx)
	}
}

func expectState(v tlv.Values, want uint8) error {
	st, ok, err := v.Uint8(pairing.TLVState)
	if err != nil {
		return err
	}
	if !ok || st != want {
		return fmt.Errorf("%w: state %d, want %d", ErrMalformedRequest, st, want)
	}
	return nil
}
