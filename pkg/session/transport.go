package session

import (
	"fmt"
	"net"

	"github.com/backkem/hap/pkg/hap"
)

// LinkController is the BLE link a session runs over.
type LinkController interface {
	// Invalidate tears down link state after the security session ended.
	// With terminateLink the link is dropped as soon as it is safe.
	Invalidate(terminateLink bool)
}

// BLEState is the BLE-specific part of a session.
type BLEState struct {
	// Link is the link session the session belongs to.
	Link LinkController
}

// ThreadState is the Thread-specific part of a session.
type ThreadState struct {
	// PeerAddress is the CoAP peer.
	PeerAddress net.Addr
}

// IPState is the IP-specific part of a session.
type IPState struct {
	// RemoteAddr is the TCP peer.
	RemoteAddr net.Addr
}

// transportState holds exactly one variant, selected by the transport type.
type transportState struct {
	ble    *BLEState
	thread *ThreadState
	ip     *IPState
}

func newTransportState(t hap.TransportType) transportState {
	switch t {
	case hap.TransportTypeBLE:
		return transportState{ble: &BLEState{}}
	case hap.TransportTypeThread:
		return transportState{thread: &ThreadState{}}
	case hap.TransportTypeIP:
		return transportState{ip: &IPState{}}
	default:
		panic(fmt.Sprintf("session: invalid transport type %d", t))
	}
}

// BLE returns the BLE state. It panics if the session is not a BLE session.
func (s *Session) BLE() *BLEState {
	if s.transport != hap.TransportTypeBLE {
		panic(fmt.Sprintf("session: BLE state requested on %s session", s.transport))
	}
	return s.variant.ble
}

// Thread returns the Thread state. It panics if the session is not a
// Thread session.
func (s *Session) Thread() *ThreadState {
	if s.transport != hap.TransportTypeThread {
		panic(fmt.Sprintf("session: Thread state requested on %s session", s.transport))
	}
	return s.variant.thread
}

// IP returns the IP state. It panics if the session is not an IP session.
func (s *Session) IP() *IPState {
	if s.transport != hap.TransportTypeIP {
		panic(fmt.Sprintf("session: IP state requested on %s session", s.transport))
	}
	return s.variant.ip
}
