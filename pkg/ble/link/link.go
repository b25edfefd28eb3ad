// Package link implements the BLE link session: the per-connection timers
// that bound how long a controller may stay connected without doing
// useful work, and the short grace period that keeps a disconnect from
// truncating a response still in flight.
//
// Timers:
//
//	link             10 s after connect, until the first procedure starts
//	idle             30 s, rearmed on every procedure of a secured session
//	pairing          10 s while Pair Verify or a Pairings request is open
//	safe-disconnect  200 ms after every GATT response
//
// Expiry of the link, idle or pairing timer invalidates the security
// session and terminates the link.
package link

import (
	"fmt"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/session"
	"github.com/backkem/hap/pkg/timer"
)

// Timeouts.
const (
	LinkTimeout             = 10 * time.Second
	IdleTimeout             = 30 * time.Second
	PairingProcedureTimeout = 10 * time.Second
	SafeToDisconnectTimeout = 200 * time.Millisecond
	terminalSoonGracePeriod = 200 * time.Millisecond
)

// PairingProcedure identifies a pairing procedure for the pairing timer.
type PairingProcedure int

const (
	PairingProcedurePairSetup PairingProcedure = iota
	PairingProcedurePairVerify
	PairingProcedureAddPairing
	PairingProcedureRemovePairing
	PairingProcedureListPairings
)

// String returns the string representation of the procedure.
func (p PairingProcedure) String() string {
	switch p {
	case PairingProcedurePairSetup:
		return "PairSetup"
	case PairingProcedurePairVerify:
		return "PairVerify"
	case PairingProcedureAddPairing:
		return "AddPairing"
	case PairingProcedureRemovePairing:
		return "RemovePairing"
	case PairingProcedureListPairings:
		return "ListPairings"
	default:
		return "Unknown"
	}
}

// Disconnector drops the BLE connection to the controller.
type Disconnector interface {
	Disconnect()
}

// DisconnectorFunc adapts a function to Disconnector.
type DisconnectorFunc func()

// Disconnect implements Disconnector.
func (f DisconnectorFunc) Disconnect() { f() }

// Config configures a Link.
type Config struct {
	// Session is the BLE security session of the connection. Required.
	Session *session.Session

	// Timers arms the link timers. Required.
	Timers timer.Service

	// Disconnector drops the connection. Required.
	Disconnector Disconnector

	// Running reports whether the server and BLE transport are running.
	// When it returns false the link is dropped once safe. Nil means
	// always running.
	Running func() bool

	// LoggerFactory for link logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Link is the link session of one BLE connection.
//
// Thread Safety: not safe for concurrent use. Timer callbacks must be
// serialized with all other calls, e.g. through the timer service Locker.
type Link struct {
	session      *session.Session
	timers       timer.Service
	disconnector Disconnector
	running      func() bool
	log          logging.LeveledLogger

	linkTimer          timer.Handle
	linkDeadline       time.Time
	pairingTimer       timer.Handle
	safeTimer          timer.Handle
	isTerminal         bool
	isSafeToDisconnect bool
	connected          bool
	disconnecting      bool
}

// New creates the link session of a new connection, arms the 10 second
// link timer and attaches the link to the session.
func New(config Config) (*Link, error) {
	if config.Session == nil || config.Timers == nil || config.Disconnector == nil {
		return nil, fmt.Errorf("link: session, timers and disconnector are required: %w", hap.ErrInvalidData)
	}
	l := &Link{
		session:            config.Session,
		timers:             config.Timers,
		disconnector:       config.Disconnector,
		running:            config.Running,
		isSafeToDisconnect: true,
		connected:          true,
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("hap-ble-link")
	}

	if err := l.armLinkTimer(LinkTimeout); err != nil {
		return nil, err
	}
	config.Session.BLE().Link = l
	return l, nil
}

func (l *Link) armLinkTimer(d time.Duration) error {
	l.clearLinkTimer()
	deadline := l.timers.Now().Add(d)
	var h timer.Handle
	h, err := l.timers.Register(deadline, func() { l.expired(&h) })
	if err != nil {
		return fmt.Errorf("link: arm link timer: %w", hap.ErrOutOfResources)
	}
	l.linkTimer = h
	l.linkDeadline = deadline
	return nil
}

func (l *Link) clearLinkTimer() {
	if l.linkTimer != 0 {
		l.timers.Deregister(l.linkTimer)
		l.linkTimer = 0
		l.linkDeadline = time.Time{}
	}
}

func (l *Link) clearPairingTimer() {
	if l.pairingTimer != 0 {
		l.timers.Deregister(l.pairingTimer)
		l.pairingTimer = 0
	}
}

// expired handles the link, idle and pairing timers.
func (l *Link) expired(h *timer.Handle) {
	switch *h {
	case l.linkTimer:
		l.linkTimer = 0
		l.linkDeadline = time.Time{}
		if l.log != nil {
			l.log.Infof("link timer expired")
		}
	case l.pairingTimer:
		l.pairingTimer = 0
		if l.log != nil {
			l.log.Infof("pairing procedure timer expired")
		}
	default:
		return
	}
	l.session.Invalidate(true)
}

// Invalidate implements session.LinkController. It clears the link and
// pairing timers; with terminateLink the link becomes terminal and is
// dropped as soon as it is safe.
func (l *Link) Invalidate(terminateLink bool) {
	l.clearLinkTimer()
	if terminateLink {
		l.isTerminal = true
		if l.isSafeToDisconnect && l.connected {
			l.disconnect("security session terminated")
		}
	}
	l.clearPairingTimer()
}

func (l *Link) disconnect(reason string) {
	if l.disconnecting {
		return
	}
	l.disconnecting = true
	if l.log != nil {
		l.log.Infof("disconnecting: %s", reason)
	}
	l.disconnector.Disconnect()
}

// Release disarms all timers. It is called when the connection closes.
func (l *Link) Release() {
	l.clearLinkTimer()
	l.clearPairingTimer()
	if l.safeTimer != 0 {
		l.timers.Deregister(l.safeTimer)
		l.safeTimer = 0
	}
	l.connected = false
}

// IsTerminal reports whether no further requests are accepted.
func (l *Link) IsTerminal() bool {
	return l.isTerminal
}

// IsTerminalSoon reports whether the link is terminal or its link timer
// expires within the next 200 ms. No new procedures start in that window.
func (l *Link) IsTerminalSoon() bool {
	if l.isTerminal {
		return true
	}
	if l.linkTimer != 0 {
		return l.linkDeadline.Sub(l.timers.Now()) <= terminalSoonGracePeriod
	}
	return false
}

// IsSafeToDisconnect reports whether no response is in flight.
func (l *Link) IsSafeToDisconnect() bool {
	return l.isSafeToDisconnect
}

// HasPairingTimer reports whether the pairing procedure timer is armed.
func (l *Link) HasPairingTimer() bool {
	return l.pairingTimer != 0
}

// LinkDeadline returns the link or idle timer deadline, or the zero time.
func (l *Link) LinkDeadline() time.Time {
	return l.linkDeadline
}

// DidSendGATTResponse restarts the safe-to-disconnect timer.
func (l *Link) DidSendGATTResponse() {
	l.isSafeToDisconnect = false
	if l.safeTimer != 0 {
		l.timers.Deregister(l.safeTimer)
		l.safeTimer = 0
	}
	var h timer.Handle
	h, err := l.timers.Register(l.timers.Now().Add(SafeToDisconnectTimeout), func() { l.safeToDisconnect(h) })
	if err != nil {
		l.isSafeToDisconnect = true
		return
	}
	l.safeTimer = h
}

func (l *Link) safeToDisconnect(h timer.Handle) {
	if h != l.safeTimer {
		return
	}
	l.safeTimer = 0
	l.isSafeToDisconnect = true

	switch {
	case !l.connected:
	case l.isTerminal:
		l.disconnect("security session marked terminal")
	case l.running != nil && !l.running():
		l.disconnect("server stopping")
	}
}

// DidStartProcedure updates the link timer when a BLE procedure starts.
// The 10 second link timer only covers the first procedure; on a secured
// session every procedure rearms the 30 second idle timer.
func (l *Link) DidStartProcedure() {
	if l.isTerminal {
		return
	}
	if !l.session.IsSecured() {
		l.clearLinkTimer()
		return
	}
	if err := l.armLinkTimer(IdleTimeout); err != nil {
		l.session.Invalidate(true)
	}
}

// DidStartPairingProcedure arms the pairing procedure timer unless it is
// already running.
func (l *Link) DidStartPairingProcedure(p PairingProcedure) {
	if l.isTerminal || l.pairingTimer != 0 {
		return
	}
	var h timer.Handle
	h, err := l.timers.Register(l.timers.Now().Add(PairingProcedureTimeout), func() { l.expired(&h) })
	if err != nil {
		l.session.Invalidate(true)
		return
	}
	l.pairingTimer = h
	if l.log != nil {
		l.log.Debugf("%s started", p)
	}
}

// DidCompletePairingProcedure clears the pairing procedure timer. A
// completed Pair Verify arms the 30 second idle timer.
func (l *Link) DidCompletePairingProcedure(p PairingProcedure) {
	if l.isTerminal {
		return
	}
	l.clearPairingTimer()
	if p == PairingProcedurePairVerify && l.session.IsSecured() {
		if err := l.armLinkTimer(IdleTimeout); err != nil {
			l.session.Invalidate(true)
		}
	}
}

// DidPairSetupProcedure arms the 30 second idle timer after a Pair Setup
// message.
func (l *Link) DidPairSetupProcedure() {
	if l.isTerminal {
		return
	}
	if err := l.armLinkTimer(IdleTimeout); err != nil {
		l.session.Invalidate(true)
	}
}
