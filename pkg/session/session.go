package session

import (
	"time"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/pairing"
)

// SharedSecretSize is the size of the X25519 shared secret (cv_KEY).
const SharedSecretSize = crypto.X25519SecretSize

// Hooks observe session lifecycle events.
type Hooks struct {
	// OnAccept runs after a secure session has started.
	OnAccept func(s *Session)

	// OnInvalidate runs at the start of Invalidate, before any security
	// state is cleared. s.IsActive reports whether a secure session was
	// established.
	OnInvalidate func(s *Session)
}

// Config configures a Session.
type Config struct {
	// Transport is the transport the session runs on. Required.
	Transport hap.TransportType

	// Role selects the channel key assignment. Default RoleAccessory.
	Role Role

	// Pairings is consulted by IsSecured and ControllerIsAdmin.
	Pairings pairing.Store

	// KeyExpiry bounds the lifetime of control keys. Zero disables expiry.
	KeyExpiry time.Duration

	// Now returns the current time. Default time.Now.
	Now func() time.Time

	// LoggerFactory for session logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Session is the security state of one connection.
type Session struct {
	transport hap.TransportType
	role      Role
	pairings  pairing.Store
	keyExpiry time.Duration
	now       func() time.Time
	log       logging.LeveledLogger

	active       bool
	transient    bool
	pairingID    pairing.Index
	sharedSecret [SharedSecretSize]byte
	startedAt    time.Time

	accessoryToControllerControl channel
	accessoryToControllerEvent   channel
	controllerToAccessoryControl channel

	variant transportState
	hooks   []Hooks
}

// New creates an inactive session. It panics if config.Transport is invalid.
func New(config Config) *Session {
	s := &Session{
		transport: config.Transport,
		role:      config.Role,
		pairings:  config.Pairings,
		keyExpiry: config.KeyExpiry,
		now:       config.Now,
		pairingID: pairing.NoIndex,
		variant:   newTransportState(config.Transport),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("hap-session")
	}
	return s
}

// AddHooks registers lifecycle observers. Hooks run in registration order.
func (s *Session) AddHooks(h Hooks) {
	s.hooks = append(s.hooks, h)
}

// Transport returns the transport type.
func (s *Session) Transport() hap.TransportType {
	return s.transport
}

// Role returns the session role.
func (s *Session) Role() Role {
	return s.role
}

// IsActive reports whether a secure session has been established.
func (s *Session) IsActive() bool {
	return s.active
}

// IsTransient reports whether the active session is transient.
func (s *Session) IsTransient() bool {
	return s.active && s.transient
}

// PairingID returns the pairing index of the active session, or
// pairing.NoIndex.
func (s *Session) PairingID() pairing.Index {
	return s.pairingID
}

// SharedSecret returns a copy of the negotiated shared secret. It stays
// available for broadcast and data-stream key derivation until the session
// is invalidated.
func (s *Session) SharedSecret() []byte {
	if !s.active {
		return nil
	}
	return append([]byte(nil), s.sharedSecret[:]...)
}

// StartedAt returns when the secure session was established.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Start establishes a secure session from a Pair Verify shared secret.
func (s *Session) Start(sharedSecret []byte, idx pairing.Index) error {
	return s.start(sharedSecret, idx, false)
}

// StartTransient establishes a transient session. Transient sessions have
// no event channel and no persisted pairing.
func (s *Session) StartTransient(sharedSecret []byte) error {
	return s.start(sharedSecret, pairing.NoIndex, true)
}

func (s *Session) start(secret []byte, idx pairing.Index, transient bool) error {
	if len(secret) != SharedSecretSize {
		return ErrInvalidSecret
	}

	s.accessoryToControllerControl.reset()
	s.accessoryToControllerEvent.reset()
	s.controllerToAccessoryControl.reset()

	if err := s.accessoryToControllerControl.derive(secret, controlSalt, controlReadInfo); err != nil {
		return err
	}
	if err := s.controllerToAccessoryControl.derive(secret, controlSalt, controlWriteInfo); err != nil {
		return err
	}
	if !transient {
		if err := s.accessoryToControllerEvent.derive(secret, eventSalt, eventReadInfo); err != nil {
			return err
		}
	}

	copy(s.sharedSecret[:], secret)
	s.pairingID = idx
	s.transient = transient
	s.active = true
	s.startedAt = s.now()

	if s.log != nil {
		s.log.Infof("%s session started (pairing %d, transient %v)", s.transport, idx, transient)
	}
	for _, h := range s.hooks {
		if h.OnAccept != nil {
			h.OnAccept(s)
		}
	}
	return nil
}

// keyExpired reports whether the control keys outlived KeyExpiry.
func (s *Session) keyExpired() bool {
	return s.keyExpiry > 0 && s.active && !s.now().Before(s.startedAt.Add(s.keyExpiry))
}

// KeyExpired reports whether the control keys outlived the configured expiry.
func (s *Session) KeyExpired() bool {
	return s.keyExpired()
}

func (s *Session) outboundControl() *channel {
	if s.role == RoleController {
		return &s.controllerToAccessoryControl
	}
	return &s.accessoryToControllerControl
}

func (s *Session) inboundControl() *channel {
	if s.role == RoleController {
		return &s.accessoryToControllerControl
	}
	return &s.controllerToAccessoryControl
}

// EncryptControl encrypts an outbound control message and appends the tag.
func (s *Session) EncryptControl(plaintext []byte) ([]byte, error) {
	return s.EncryptControlWithAAD(plaintext, nil)
}

// EncryptControlWithAAD is EncryptControl with additional authenticated data.
func (s *Session) EncryptControlWithAAD(plaintext, aad []byte) ([]byte, error) {
	if !s.active {
		return nil, ErrNotActive
	}
	if s.keyExpired() {
		return nil, ErrKeyExpired
	}
	return s.outboundControl().seal(plaintext, aad)
}

// DecryptControl verifies and decrypts an inbound control message.
func (s *Session) DecryptControl(ciphertext []byte) ([]byte, error) {
	return s.DecryptControlWithAAD(ciphertext, nil)
}

// DecryptControlWithAAD is DecryptControl with additional authenticated data.
func (s *Session) DecryptControlWithAAD(ciphertext, aad []byte) ([]byte, error) {
	if !s.active {
		return nil, ErrNotActive
	}
	if s.keyExpired() {
		return nil, ErrKeyExpired
	}
	return s.inboundControl().open(ciphertext, aad)
}

// EncryptEvent encrypts an event notification.
func (s *Session) EncryptEvent(plaintext []byte) ([]byte, error) {
	if !s.active {
		return nil, ErrNotActive
	}
	if s.role != RoleAccessory {
		return nil, ErrWrongRole
	}
	if s.transient {
		return nil, ErrTransient
	}
	return s.accessoryToControllerEvent.seal(plaintext, nil)
}

// DecryptEvent decrypts an event notification on the controller side.
func (s *Session) DecryptEvent(ciphertext []byte) ([]byte, error) {
	if !s.active {
		return nil, ErrNotActive
	}
	if s.role != RoleController {
		return nil, ErrWrongRole
	}
	if s.transient {
		return nil, ErrTransient
	}
	return s.accessoryToControllerEvent.open(ciphertext, nil)
}

// IsSecured reports whether the session is active and its pairing still
// exists. Transient sessions are secured while active.
func (s *Session) IsSecured() bool {
	if !s.active {
		return false
	}
	if s.transient {
		return true
	}
	_, ok := s.pairing()
	return ok
}

// ControllerIsAdmin reports whether the session belongs to a controller
// with admin permission.
func (s *Session) ControllerIsAdmin() bool {
	if !s.active || s.transient {
		return false
	}
	r, ok := s.pairing()
	return ok && r.IsAdmin()
}

// Pairing returns the record of the controller that owns the session.
func (s *Session) Pairing() (pairing.Record, bool) {
	if !s.active || s.transient {
		return pairing.Record{}, false
	}
	return s.pairing()
}

func (s *Session) pairing() (pairing.Record, bool) {
	if s.pairings == nil || s.pairingID == pairing.NoIndex {
		return pairing.Record{}, false
	}
	r, ok, err := s.pairings.Get(s.pairingID)
	if err != nil {
		if s.log != nil {
			s.log.Warnf("pairing lookup failed: %v", err)
		}
		return pairing.Record{}, false
	}
	return r, ok
}

// Invalidate ends the secure session. Hooks run first while the security
// state is still readable; then keys are zeroed and, on BLE, the link is
// told to tear down.
func (s *Session) Invalidate(terminateLink bool) {
	for _, h := range s.hooks {
		if h.OnInvalidate != nil {
			h.OnInvalidate(s)
		}
	}

	if s.active && s.log != nil {
		s.log.Infof("%s session invalidated (pairing %d)", s.transport, s.pairingID)
	}

	s.accessoryToControllerControl.reset()
	s.accessoryToControllerEvent.reset()
	s.controllerToAccessoryControl.reset()
	clear(s.sharedSecret[:])
	s.active = false
	s.transient = false
	s.pairingID = pairing.NoIndex
	s.startedAt = time.Time{}

	if s.transport == hap.TransportTypeBLE && s.variant.ble.Link != nil {
		s.variant.ble.Link.Invalidate(terminateLink)
	}
}

// Release invalidates the session, terminating the link, and drops all hooks.
func (s *Session) Release() {
	s.Invalidate(true)
	s.hooks = nil
}
