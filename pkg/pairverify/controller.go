package pairverify

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/resume"
	"github.com/backkem/hap/pkg/tlv"
)

// ControllerConfig configures the controller side of Pair Verify.
type ControllerConfig struct {
	// Identifier is the controller pairing identifier.
	Identifier []byte

	// LongTermKey is the controller Ed25519 long-term key.
	LongTermKey *crypto.Ed25519KeyPair

	// AccessoryID is the expected accessory pairing identifier.
	AccessoryID string

	// AccessoryPublicKey is the accessory Ed25519 long-term public key.
	AccessoryPublicKey [crypto.Ed25519PublicKeySize]byte

	// Rand is the entropy source. Default crypto/rand.Reader.
	Rand io.Reader
}

type controllerStep uint8

const (
	stepIdle controllerStep = iota
	stepAwaitM2
	stepAwaitM4
	stepDone
)

// Controller drives Pair Verify and Pair Resume from the controller side.
type Controller struct {
	config ControllerConfig
	rand   io.Reader
	step   controllerStep

	ephemeral    *crypto.X25519KeyPair
	accessoryPK  [crypto.X25519KeySize]byte
	sharedSecret [crypto.X25519SecretSize]byte
	sessionKey   [crypto.SymmetricKeySize]byte

	resuming     bool
	resumeSecret resume.Secret
	resumed      bool
	sessionID    resume.SessionID
}

// NewController creates a controller peer.
func NewController(config ControllerConfig) *Controller {
	c := &Controller{config: config, rand: config.Rand}
	if c.rand == nil {
		c.rand = rand.Reader
	}
	return c
}

// StartVerify returns M1 of a full Pair Verify.
func (c *Controller) StartVerify() ([]byte, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	w := tlv.NewWriter(0)
	if err := w.AppendUint8(pairing.TLVState, 1); err != nil {
		return nil, err
	}
	if err := w.Append(pairing.TLVPublicKey, c.ephemeral.Public[:]); err != nil {
		return nil, err
	}
	c.step = stepAwaitM2
	return w.Bytes(), nil
}

// StartResume returns M1 of a Pair Resume for a session cached under id.
// If the accessory no longer holds the session it answers with a regular
// M2 and the exchange continues as a full Pair Verify.
func (c *Controller) StartResume(id resume.SessionID, secret []byte) ([]byte, error) {
	if len(secret) != resume.SecretSize {
		return nil, fmt.Errorf("%w: resume secret length %d", ErrControllerState, len(secret))
	}
	if err := c.begin(); err != nil {
		return nil, err
	}
	c.resuming = true
	copy(c.resumeSecret[:], secret)

	key, err := deriveResumeKey(secret, c.ephemeral.Public[:], id, resumeRequestInfo)
	if err != nil {
		return nil, err
	}
	tag, err := crypto.Seal(key, nonceResumeM1, nil, nil)
	if err != nil {
		return nil, err
	}

	w := tlv.NewWriter(0)
	if err := w.AppendUint8(pairing.TLVState, 1); err != nil {
		return nil, err
	}
	if err := w.AppendUint8(pairing.TLVMethod, uint8(pairing.MethodPairResume)); err != nil {
		return nil, err
	}
	if err := w.Append(pairing.TLVPublicKey, c.ephemeral.Public[:]); err != nil {
		return nil, err
	}
	if err := w.Append(pairing.TLVSessionID, id[:]); err != nil {
		return nil, err
	}
	if err := w.Append(pairing.TLVEncryptedData, tag); err != nil {
		return nil, err
	}
	c.step = stepAwaitM2
	return w.Bytes(), nil
}

func (c *Controller) begin() error {
	kp, err := crypto.GenerateX25519KeyPair(c.rand)
	if err != nil {
		return err
	}
	if c.ephemeral != nil {
		c.ephemeral.Zeroize()
	}
	c.ephemeral = kp
	c.resuming = false
	c.resumed = false
	clear(c.sharedSecret[:])
	clear(c.sessionKey[:])
	return nil
}

// HandleM2 processes the accessory response to M1. For a completed resume
// it returns a nil message; otherwise it returns M3.
func (c *Controller) HandleM2(data []byte) ([]byte, error) {
	if c.step != stepAwaitM2 {
		return nil, ErrControllerState
	}
	v, err := tlv.Parse(data,
		pairing.TLVState,
		pairing.TLVError,
		pairing.TLVMethod,
		pairing.TLVPublicKey,
		pairing.TLVSessionID,
		pairing.TLVEncryptedData,
	)
	if err != nil {
		return nil, err
	}
	if err := peerError(v); err != nil {
		return nil, err
	}
	if err := expectState(v, 2); err != nil {
		return nil, err
	}

	if m, ok, _ := v.Uint8(pairing.TLVMethod); ok && pairing.Method(m) == pairing.MethodPairResume {
		return nil, c.finishResume(v)
	}

	pk, ok := v.Get(pairing.TLVPublicKey)
	if !ok || len(pk) != crypto.X25519KeySize {
		return nil, fmt.Errorf("%w: accessory public key", ErrMalformedRequest)
	}
	copy(c.accessoryPK[:], pk)

	secret, err := c.ephemeral.SharedSecret(pk)
	if err != nil {
		return nil, err
	}
	copy(c.sharedSecret[:], secret)
	key, err := crypto.DeriveKey(secret, verifyEncryptSalt, verifyEncryptInfo)
	if err != nil {
		return nil, err
	}
	copy(c.sessionKey[:], key)

	encrypted, ok := v.Get(pairing.TLVEncryptedData)
	if !ok {
		return nil, fmt.Errorf("%w: encrypted data", ErrMalformedRequest)
	}
	plain, err := crypto.Open(c.sessionKey[:], nonceM2, encrypted, nil)
	if err != nil {
		return nil, ErrAccessoryAuthentication
	}
	sub, err := tlv.Parse(plain, pairing.TLVIdentifier, pairing.TLVSignature)
	if err != nil {
		return nil, err
	}
	id, _ := sub.Get(pairing.TLVIdentifier)
	sig, _ := sub.Get(pairing.TLVSignature)
	if c.config.AccessoryID != "" && string(id) != c.config.AccessoryID {
		return nil, fmt.Errorf("%w: identifier %q", ErrAccessoryAuthentication, id)
	}
	if !crypto.Ed25519Verify(c.config.AccessoryPublicKey[:], proofMessage(pk, id, c.ephemeral.Public[:]), sig) {
		return nil, ErrAccessoryAuthentication
	}

	// M3
	proof := c.config.LongTermKey.Sign(proofMessage(c.ephemeral.Public[:], c.config.Identifier, pk))
	inner := tlv.NewWriter(0)
	if err := inner.Append(pairing.TLVIdentifier, c.config.Identifier); err != nil {
		return nil, err
	}
	if err := inner.Append(pairing.TLVSignature, proof); err != nil {
		return nil, err
	}
	sealed, err := crypto.Seal(c.sessionKey[:], nonceM3, inner.Bytes(), nil)
	if err != nil {
		return nil, err
	}

	w := tlv.NewWriter(0)
	if err := w.AppendUint8(pairing.TLVState, 3); err != nil {
		return nil, err
	}
	if err := w.Append(pairing.TLVEncryptedData, sealed); err != nil {
		return nil, err
	}
	c.step = stepAwaitM4
	return w.Bytes(), nil
}

func (c *Controller) finishResume(v tlv.Values) error {
	if !c.resuming {
		return fmt.Errorf("%w: unsolicited resume response", ErrMalformedRequest)
	}
	id, ok := v.Get(pairing.TLVSessionID)
	if !ok || len(id) != resume.SessionIDSize {
		return fmt.Errorf("%w: session ID", ErrMalformedRequest)
	}
	var sessionID resume.SessionID
	copy(sessionID[:], id)

	tag, ok := v.Get(pairing.TLVEncryptedData)
	if !ok || len(tag) != crypto.TagSize {
		return fmt.Errorf("%w: resume response tag", ErrMalformedRequest)
	}
	pk := c.ephemeral.Public[:]
	key, err := deriveResumeKey(c.resumeSecret[:], pk, sessionID, resumeResponseInfo)
	if err != nil {
		return err
	}
	if _, err := crypto.Open(key, nonceResumeM2, tag, nil); err != nil {
		return ErrAccessoryAuthentication
	}

	next, err := deriveResumeKey(c.resumeSecret[:], pk, sessionID, resumeSharedSecretInfo)
	if err != nil {
		return err
	}
	copy(c.sharedSecret[:], next)
	clear(c.resumeSecret[:])
	c.sessionID = sessionID
	c.resumed = true
	c.step = stepDone
	return nil
}

// HandleM4 processes the final verify response.
func (c *Controller) HandleM4(data []byte) error {
	if c.step != stepAwaitM4 {
		return ErrControllerState
	}
	v, err := tlv.Parse(data, pairing.TLVState, pairing.TLVError)
	if err != nil {
		return err
	}
	if err := peerError(v); err != nil {
		return err
	}
	if err := expectState(v, 4); err != nil {
		return err
	}
	if c.sessionID, err = deriveResumeSessionID(c.sharedSecret[:]); err != nil {
		return err
	}
	c.step = stepDone
	return nil
}

// Done reports whether the handshake completed.
func (c *Controller) Done() bool {
	return c.step == stepDone
}

// Resumed reports whether the last handshake completed through Pair Resume.
func (c *Controller) Resumed() bool {
	return c.resumed
}

// SharedSecret returns the negotiated secret once Done.
func (c *Controller) SharedSecret() []byte {
	if c.step != stepDone {
		return nil
	}
	return append([]byte(nil), c.sharedSecret[:]...)
}

// SessionID returns the identifier under which the accessory caches the
// session for a later resume. Only meaningful on BLE.
func (c *Controller) SessionID() resume.SessionID {
	return c.sessionID
}

func peerError(v tlv.Values) error {
	code, ok, err := v.Uint8(pairing.TLVError)
	if err != nil || !ok {
		return err
	}
	st, _, _ := v.Uint8(pairing.TLVState)
	return &PeerError{State: st, Code: pairing.ErrorCode(code)}
}
